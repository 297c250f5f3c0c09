// Package runlog persists the history of commands triggered from the web page.
package runlog

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

const maxOutputBytes = 256 * 1024

// interruptedError is recorded on runs found still running at startup.
const interruptedError = "interrupted: server restarted while the command was running"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Start records a new running command and returns its id.
func (s *Store) Start(ctx context.Context, req StartRequest) (string, error) {
	if req.Action == "" {
		return "", fmt.Errorf("action is empty")
	}
	if len(req.Argv) == 0 {
		return "", fmt.Errorf("argv is empty")
	}
	if req.SubmittedBy == "" {
		return "", fmt.Errorf("submitted_by is empty")
	}

	argv, err := json.Marshal(req.Argv)
	if err != nil {
		return "", fmt.Errorf("marshal argv: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var teamID any
	if req.TeamID != "" {
		teamID = req.TeamID
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO command_runs(id, action, argv, weeks_ahead, fpl_team_id, status, submitted_by, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, id, req.Action, string(argv), req.WeeksAhead, teamID, StatusRunning, req.SubmittedBy, now)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// Complete marks a run terminal. Output is capped and fingerprinted with BLAKE3.
func (s *Store) Complete(ctx context.Context, runID string, req CompleteRequest) error {
	if runID == "" {
		return fmt.Errorf("runID is empty")
	}
	if !req.Status.Terminal() {
		return fmt.Errorf("invalid terminal status: %q", req.Status)
	}

	digest := OutputDigest(req.Output)
	output := req.Output
	if len(output) > maxOutputBytes {
		output = output[:maxOutputBytes]
	}
	completedAt := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(ctx, `
UPDATE command_runs
SET status = ?, exit_code = ?, completed_at = ?, duration_ms = ?, output = ?, output_digest = ?, last_error = ?
WHERE id = ? AND status = ?;
`, req.Status, req.ExitCode, completedAt, req.Duration.Milliseconds(), output, digest, req.LastError, runID, StatusRunning)
	if err != nil {
		return fmt.Errorf("update run completion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("complete run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// Get returns one run by id.
func (s *Store) Get(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, action, argv, weeks_ahead, fpl_team_id, status, exit_code, submitted_by,
  created_at, completed_at, duration_ms, output, output_digest, last_error
FROM command_runs
WHERE id = ?;
`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// Recent returns up to limit runs, newest first, without their output.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, action, argv, weeks_ahead, fpl_team_id, status, exit_code, submitted_by,
  created_at, completed_at, duration_ms, NULL, output_digest, last_error
FROM command_runs
ORDER BY rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// RecoverInterrupted fails runs left in running state by a previous process.
func (s *Store) RecoverInterrupted(ctx context.Context) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
UPDATE command_runs
SET status = ?, completed_at = ?, last_error = ?
WHERE status = ?;
`, StatusFailed, now, interruptedError, StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// OutputDigest returns the BLAKE3-256 digest of output, prefixed with the
// algorithm name.
func OutputDigest(output string) string {
	sum := blake3.Sum256([]byte(output))
	return "blake3:" + hex.EncodeToString(sum[:])
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r            Run
		argv         string
		weeksAhead   sql.NullInt64
		teamID       sql.NullString
		statusS      string
		exitCode     sql.NullInt64
		createdAtS   string
		completedAtS sql.NullString
		durationMS   sql.NullInt64
		output       sql.NullString
		digest       sql.NullString
		lastError    sql.NullString
	)
	if err := row.Scan(
		&r.ID, &r.Action, &argv, &weeksAhead, &teamID, &statusS, &exitCode, &r.SubmittedBy,
		&createdAtS, &completedAtS, &durationMS, &output, &digest, &lastError,
	); err != nil {
		return nil, err
	}

	r.Status = Status(statusS)
	if err := json.Unmarshal([]byte(argv), &r.Argv); err != nil {
		return nil, fmt.Errorf("decode argv: %w", err)
	}
	if weeksAhead.Valid {
		w := int(weeksAhead.Int64)
		r.WeeksAhead = &w
	}
	if teamID.Valid {
		r.TeamID = teamID.String
	}
	if exitCode.Valid {
		c := int(exitCode.Int64)
		r.ExitCode = &c
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		r.CreatedAt = t
	}
	if completedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
			r.CompletedAt = &t
		}
	}
	if durationMS.Valid {
		d := durationMS.Int64
		r.DurationMS = &d
	}
	if output.Valid {
		r.Output = output.String
	}
	if digest.Valid {
		r.OutputDigest = digest.String
	}
	if lastError.Valid {
		r.LastError = &lastError.String
	}
	return &r, nil
}
