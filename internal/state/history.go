package state

import (
	"database/sql"
	"fmt"
	"time"
)

// RunStatus mirrors the pipeline lifecycle states worth keeping.
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunCorrecting  RunStatus = "correcting"
	RunApproved    RunStatus = "approved"
	RunFailed      RunStatus = "failed"
	RunError       RunStatus = "error"
	RunStopped     RunStatus = "stopped"
	RunInterrupted RunStatus = "interrupted"
)

// RunRecord is one pipeline run as seen from the event bus.
type RunRecord struct {
	RequestID   string     `json:"request_id"`
	Branch      string     `json:"branch"`
	Tier        string     `json:"tier"`
	Status      RunStatus  `json:"status"`
	Corrections int        `json:"corrections"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// IntegrationRecord is one integration outcome for a branch.
type IntegrationRecord struct {
	ID                int64     `json:"id"`
	Branch            string    `json:"branch"`
	PRNumber          int       `json:"pr_number"`
	PRURL             string    `json:"pr_url"`
	IntegrationBranch string    `json:"integration_branch"`
	Outcome           string    `json:"outcome"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// Run CRUD operations

// CreateRun records the start of a pipeline run. A second start for the
// same request ID replaces the earlier row.
func (db *DB) CreateRun(r *RunRecord) error {
	_, err := db.Exec(`
		INSERT INTO pipeline_runs (request_id, branch, tier, status, corrections, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(request_id) DO UPDATE SET
			branch = excluded.branch,
			tier = excluded.tier,
			status = excluded.status,
			corrections = excluded.corrections,
			started_at = excluded.started_at,
			completed_at = NULL
	`, r.RequestID, r.Branch, r.Tier, string(r.Status), r.Corrections, formatTime(r.StartedAt))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by request ID.
func (db *DB) GetRun(requestID string) (*RunRecord, error) {
	row := db.QueryRow(`
		SELECT request_id, branch, tier, status, corrections, started_at, completed_at
		FROM pipeline_runs WHERE request_id = ?
	`, requestID)

	var r RunRecord
	var startedAt string
	var completedAt sql.NullString
	err := row.Scan(&r.RequestID, &r.Branch, &r.Tier, &r.Status, &r.Corrections, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	r.StartedAt, _ = parseTime(startedAt)
	r.CompletedAt = parseNullableTime(completedAt)
	return &r, nil
}

// SetRunStatus updates the status of a run.
func (db *DB) SetRunStatus(requestID string, status RunStatus) error {
	_, err := db.Exec(`
		UPDATE pipeline_runs SET status = ? WHERE request_id = ?
	`, string(status), requestID)
	if err != nil {
		return fmt.Errorf("set run status: %w", err)
	}
	return nil
}

// SetRunTier records the classified tier of a run.
func (db *DB) SetRunTier(requestID, tier string) error {
	_, err := db.Exec(`
		UPDATE pipeline_runs SET tier = ? WHERE request_id = ?
	`, tier, requestID)
	if err != nil {
		return fmt.Errorf("set run tier: %w", err)
	}
	return nil
}

// ResumeCorrectedRun flips a correcting run back to running. Runs in
// any other state are left alone.
func (db *DB) ResumeCorrectedRun(requestID string) error {
	_, err := db.Exec(`
		UPDATE pipeline_runs SET status = ? WHERE request_id = ? AND status = ?
	`, string(RunRunning), requestID, string(RunCorrecting))
	if err != nil {
		return fmt.Errorf("resume corrected run: %w", err)
	}
	return nil
}

// IncrementCorrections bumps the correction counter and marks the run
// as correcting.
func (db *DB) IncrementCorrections(requestID string) error {
	_, err := db.Exec(`
		UPDATE pipeline_runs SET corrections = corrections + 1, status = ?
		WHERE request_id = ?
	`, string(RunCorrecting), requestID)
	if err != nil {
		return fmt.Errorf("increment corrections: %w", err)
	}
	return nil
}

// FinishRun stamps the terminal status and completion time of a run.
func (db *DB) FinishRun(requestID string, status RunStatus, completedAt time.Time) error {
	_, err := db.Exec(`
		UPDATE pipeline_runs SET status = ?, completed_at = ? WHERE request_id = ?
	`, string(status), formatTime(completedAt), requestID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// ListRuns lists runs newest first, optionally filtered by status.
// A limit of 0 means no limit.
func (db *DB) ListRuns(status *RunStatus, limit int) ([]RunRecord, error) {
	query := `
		SELECT request_id, branch, tier, status, corrections, started_at, completed_at
		FROM pipeline_runs
	`
	var args []any
	if status != nil {
		query += " WHERE status = ?"
		args = append(args, string(*status))
	}
	query += " ORDER BY started_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var startedAt string
		var completedAt sql.NullString
		if err := rows.Scan(&r.RequestID, &r.Branch, &r.Tier, &r.Status, &r.Corrections, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, _ = parseTime(startedAt)
		r.CompletedAt = parseNullableTime(completedAt)
		runs = append(runs, r)
	}
	return runs, nil
}

// ActiveRuns lists runs that have not reached a terminal state.
func (db *DB) ActiveRuns() ([]RunRecord, error) {
	rows, err := db.Query(`
		SELECT request_id, branch, tier, status, corrections, started_at, completed_at
		FROM pipeline_runs WHERE completed_at IS NULL ORDER BY started_at
	`)
	if err != nil {
		return nil, fmt.Errorf("active runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var startedAt string
		var completedAt sql.NullString
		if err := rows.Scan(&r.RequestID, &r.Branch, &r.Tier, &r.Status, &r.Corrections, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, _ = parseTime(startedAt)
		r.CompletedAt = parseNullableTime(completedAt)
		runs = append(runs, r)
	}
	return runs, nil
}

// ReconcileInterrupted marks runs left unfinished by a previous process
// as interrupted. Call it once at startup, before new runs begin.
// Returns the number of runs reconciled.
func (db *DB) ReconcileInterrupted() (int64, error) {
	result, err := db.Exec(`
		UPDATE pipeline_runs SET status = ?, completed_at = ?
		WHERE completed_at IS NULL
	`, string(RunInterrupted), formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("reconcile interrupted runs: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

// Integration operations

// RecordIntegration appends one integration outcome.
func (db *DB) RecordIntegration(r *IntegrationRecord) error {
	_, err := db.Exec(`
		INSERT INTO integrations (branch, pr_number, pr_url, integration_branch, outcome, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.Branch, r.PRNumber, r.PRURL, r.IntegrationBranch, r.Outcome, formatTime(r.OccurredAt))
	if err != nil {
		return fmt.Errorf("record integration: %w", err)
	}
	return nil
}

// ListIntegrations lists integration outcomes newest first. An empty
// branch lists all branches; a limit of 0 means no limit.
func (db *DB) ListIntegrations(branch string, limit int) ([]IntegrationRecord, error) {
	query := `
		SELECT id, branch, pr_number, pr_url, integration_branch, outcome, occurred_at
		FROM integrations
	`
	var args []any
	if branch != "" {
		query += " WHERE branch = ?"
		args = append(args, branch)
	}
	query += " ORDER BY occurred_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	defer rows.Close()

	var records []IntegrationRecord
	for rows.Next() {
		var r IntegrationRecord
		var prURL, integrationBranch sql.NullString
		var occurredAt string
		if err := rows.Scan(&r.ID, &r.Branch, &r.PRNumber, &prURL, &integrationBranch, &r.Outcome, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan integration: %w", err)
		}
		if prURL.Valid {
			r.PRURL = prURL.String
		}
		if integrationBranch.Valid {
			r.IntegrationBranch = integrationBranch.String
		}
		r.OccurredAt, _ = parseTime(occurredAt)
		records = append(records, r)
	}
	return records, nil
}
