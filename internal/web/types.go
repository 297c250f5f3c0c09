package web

import "github.com/mattjoyce/airsenal-launcher/internal/runlog"

// RunCommandRequest is the JSON body for POST /run_command. The page sends
// weeks_ahead as a string; API clients may send a number.
type RunCommandRequest struct {
	Action     string `json:"action"`
	TeamID     any    `json:"fpl_team_id"`
	WeeksAhead any    `json:"weeks_ahead"`
}

// RunCommandResponse is returned by POST /run_command. Error is set only when
// Success is false.
type RunCommandResponse struct {
	Success  bool   `json:"success"`
	Output   string `json:"output"`
	Message  string `json:"message"`
	Error    string `json:"error,omitempty"`
	RunID    string `json:"run_id,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// RunListResponse is returned by GET /runs.
type RunListResponse struct {
	Runs []*runlog.Run `json:"runs"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}
