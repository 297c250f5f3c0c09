package runlog

import (
	"errors"
	"time"
)

type Status string

// Run statuses. StatusRejected marks a request refused because another
// command held the run lock.
const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
	StatusRejected  Status = "rejected"
)

// Terminal reports whether s ends a run.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// Run is one web-triggered command execution.
type Run struct {
	ID           string     `json:"run_id"`
	Action       string     `json:"action"`
	Argv         []string   `json:"argv"`
	WeeksAhead   *int       `json:"weeks_ahead,omitempty"`
	TeamID       string     `json:"fpl_team_id,omitempty"`
	Status       Status     `json:"status"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	SubmittedBy  string     `json:"submitted_by"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMS   *int64     `json:"duration_ms,omitempty"`
	Output       string     `json:"output,omitempty"`
	OutputDigest string     `json:"output_digest,omitempty"`
	LastError    *string    `json:"last_error,omitempty"`
}

type StartRequest struct {
	Action      string
	Argv        []string
	WeeksAhead  *int
	TeamID      string
	SubmittedBy string
}

type CompleteRequest struct {
	Status    Status
	ExitCode  *int
	Output    string
	LastError *string
	Duration  time.Duration
}

var ErrRunNotFound = errors.New("run not found")
