package web

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/mattjoyce/airsenal-launcher/internal/runner"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// weekOptions are the choices offered by the page selector.
var weekOptions = []int{1, 2, 3, 4, 5}

type pageButton struct {
	Action      string
	Label       string
	NeedsTeamID bool
}

type pageData struct {
	TeamID       string
	Weeks        []int
	DefaultWeeks int
	Buttons      []pageButton
	AuthRequired bool
}

// handleIndex handles GET /.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := pageData{
		TeamID:       s.config.TeamID,
		Weeks:        weekOptions,
		DefaultWeeks: runner.DefaultWeeksAhead,
		AuthRequired: s.config.APIKey != "",
	}
	for _, spec := range runner.Actions {
		data.Buttons = append(data.Buttons, pageButton{
			Action:      string(spec.Action),
			Label:       spec.Label,
			NeedsTeamID: spec.NeedsTeamID,
		})
	}

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, data); err != nil {
		s.logger.Error("failed to render index", "error", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
