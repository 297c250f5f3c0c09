package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/airsenal-launcher/internal/runlog"
)

// theme centralizes CLI styling. lipgloss drops the colors when stdout is not
// a terminal.
type theme struct {
	OK      lipgloss.Style
	Running lipgloss.Style
	Failed  lipgloss.Style
	Warn    lipgloss.Style
	Header  lipgloss.Style
	Dim     lipgloss.Style
}

func newTheme() theme {
	return theme{
		OK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Running: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		Failed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		Warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
}

// report colors a doctor report line by line.
func (t theme) report(text string, valid bool) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	var b strings.Builder
	for i, line := range lines {
		switch {
		case i == 0 && valid:
			line = t.OK.Bold(true).Render(line)
		case i == 0:
			line = t.Failed.Bold(true).Render(line)
		case strings.HasPrefix(line, "  ERROR"):
			line = t.Failed.Render(line)
		case strings.HasPrefix(line, "  WARN"):
			line = t.Warn.Render(line)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func (t theme) status(s runlog.Status) lipgloss.Style {
	switch s {
	case runlog.StatusSucceeded:
		return t.OK
	case runlog.StatusRunning:
		return t.Running
	case runlog.StatusRejected, runlog.StatusCancelled:
		return t.Dim
	default:
		return t.Failed
	}
}

// runTable renders runs as fixed-width columns. Cells are padded before
// styling so escape codes do not skew the layout.
func (t theme) runTable(runs []*runlog.Run) string {
	const row = "%-20s  %-9s  %-10s  %4s  %9s  %s"
	var b strings.Builder

	b.WriteString(t.Header.Render(fmt.Sprintf(row, "CREATED", "ACTION", "STATUS", "EXIT", "DURATION", "RUN ID")))
	b.WriteByte('\n')

	for _, r := range runs {
		exit := "-"
		if r.ExitCode != nil {
			exit = fmt.Sprintf("%d", *r.ExitCode)
		}
		duration := "-"
		if r.DurationMS != nil {
			duration = (time.Duration(*r.DurationMS) * time.Millisecond).Round(time.Second / 10).String()
		}
		fmt.Fprintf(&b, "%-20s  %-9s  %s  %4s  %9s  %s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.Action,
			t.status(r.Status).Render(fmt.Sprintf("%-10s", r.Status)),
			exit,
			duration,
			t.Dim.Render(r.ID),
		)
	}
	return b.String()
}
