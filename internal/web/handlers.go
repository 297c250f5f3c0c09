package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mattjoyce/airsenal-launcher/internal/events"
	"github.com/mattjoyce/airsenal-launcher/internal/runlog"
	"github.com/mattjoyce/airsenal-launcher/internal/runner"
)

const (
	maxRequestBytes = 64 * 1024
	maxHistoryLimit = 200
)

// handleHealth handles GET /health (no auth).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// handleRunCommand handles POST /run_command. The command runs synchronously;
// the response carries its output.
func (s *Server) handleRunCommand(w http.ResponseWriter, r *http.Request) {
	var req RunCommandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, RunCommandResponse{
			Error:   "Invalid request body",
			Message: "Request body must be a JSON object",
		})
		return
	}

	spec, err := runner.Lookup(req.Action)
	if err != nil {
		s.logger.Warn("rejected unknown action", "action", req.Action)
		respondJSON(w, http.StatusOK, RunCommandResponse{
			Error:   "Invalid action",
			Message: "Invalid action specified",
		})
		return
	}

	weeks, err := runner.ParseWeeksAhead(req.WeeksAhead)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, RunCommandResponse{
			Error:   err.Error(),
			Message: "Invalid weeks_ahead specified",
		})
		return
	}

	teamID, err := teamIDValue(req.TeamID)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, RunCommandResponse{
			Error:   err.Error(),
			Message: "Invalid fpl_team_id specified",
		})
		return
	}
	if teamID == "" {
		teamID = s.config.TeamID
	}

	argv := spec.Argv(weeks)
	var weeksAhead *int
	if spec.TakesWeeks {
		weeksAhead = &weeks
	}

	ctx := s.baseCtx
	runID, err := s.store.Start(ctx, runlog.StartRequest{
		Action:      string(spec.Action),
		Argv:        argv,
		WeeksAhead:  weeksAhead,
		TeamID:      teamID,
		SubmittedBy: submitter(r),
	})
	if err != nil {
		// History is best effort; the command still runs.
		s.logger.Error("failed to record run start", "action", spec.Action, "error", err)
		runID = ""
	}

	res, runErr := s.runner.Run(ctx, runner.Request{
		RunID:  runID,
		Argv:   argv,
		TeamID: teamID,
		Started: func() {
			s.events.Publish(events.RunStarted, events.RunEvent{
				RunID:  runID,
				Action: string(spec.Action),
				Status: string(runlog.StatusRunning),
			})
		},
	})
	status, resp := s.outcome(spec.Action, res, runErr)
	resp.RunID = runID

	s.events.Publish(events.RunCompleted, events.RunEvent{
		RunID:    runID,
		Action:   string(spec.Action),
		Status:   string(status),
		ExitCode: resp.ExitCode,
	})

	if runID != "" {
		s.completeRun(ctx, runID, status, res, resp)
	}

	code := http.StatusOK
	if errors.Is(runErr, runner.ErrBusy) {
		code = http.StatusConflict
	}
	respondJSON(w, code, resp)
}

// outcome maps a runner result onto the run status and the page response.
func (s *Server) outcome(action runner.Action, res *runner.Result, runErr error) (runlog.Status, RunCommandResponse) {
	failed := func(status runlog.Status, msg, output string) (runlog.Status, RunCommandResponse) {
		s.logger.Error(msg, "action", action)
		return status, RunCommandResponse{
			Output:  output,
			Message: action.Title() + " failed",
			Error:   msg,
		}
	}

	switch {
	case errors.Is(runErr, runner.ErrBusy):
		return failed(runlog.StatusRejected, "A process is already running. Please wait.", "")
	case runErr != nil:
		return failed(runlog.StatusFailed, fmt.Sprintf("Exception running command: %v", runErr), "")
	case res.TimedOut:
		return failed(runlog.StatusTimedOut, "Command timed out after "+formatTimeout(s.runner.Timeout()), "")
	case res.Cancelled:
		return failed(runlog.StatusCancelled, "Command cancelled: server shutting down", res.Stdout)
	case res.ExitCode != 0:
		msg := fmt.Sprintf("Command failed with exit code %d", res.ExitCode)
		if res.Stderr != "" {
			msg += ": " + res.Stderr
		}
		status, resp := failed(runlog.StatusFailed, msg, res.Stdout)
		code := res.ExitCode
		resp.ExitCode = &code
		return status, resp
	}

	code := 0
	return runlog.StatusSucceeded, RunCommandResponse{
		Success:  true,
		Output:   res.Stdout,
		Message:  action.Title() + " completed successfully!",
		ExitCode: &code,
	}
}

func (s *Server) completeRun(ctx context.Context, runID string, status runlog.Status, res *runner.Result, resp RunCommandResponse) {
	req := runlog.CompleteRequest{Status: status}
	if res != nil {
		req.Output = res.Stdout + res.Stderr
		req.Duration = res.Duration
		if !res.TimedOut && !res.Cancelled {
			code := res.ExitCode
			req.ExitCode = &code
		}
	}
	if resp.Error != "" {
		msg := resp.Error
		req.LastError = &msg
	}
	// Record the outcome even when shutdown cancelled the run.
	if err := s.store.Complete(context.WithoutCancel(ctx), runID, req); err != nil {
		s.logger.Error("failed to record run completion", "run_id", runID, "error", err)
	}
}

// handleListRuns handles GET /runs?limit=N
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := s.config.HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	runs, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*runlog.Run{}
	}
	respondJSON(w, http.StatusOK, RunListResponse{Runs: runs})
}

// handleGetRun handles GET /runs/{runID}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := s.store.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, runlog.ErrRunNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("failed to retrieve run", "run_id", runID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve run")
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// teamIDValue accepts the team id as a JSON string or number.
func teamIDValue(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(x), nil
	case float64:
		if x != float64(int64(x)) || x < 0 {
			return "", fmt.Errorf("fpl_team_id must be a positive whole number (got %v)", x)
		}
		return strconv.FormatInt(int64(x), 10), nil
	default:
		return "", fmt.Errorf("fpl_team_id has unsupported type %T", v)
	}
}

// formatTimeout renders d the way the result message reads: "5 minutes".
func formatTimeout(d time.Duration) string {
	if d > 0 && d%time.Minute == 0 {
		n := int(d / time.Minute)
		if n == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", n)
	}
	return d.String()
}

func submitter(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "web"
	}
	return "web:" + r.RemoteAddr
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
