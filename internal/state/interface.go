// Package state keeps the run history for conveyor.
package state

import (
	"io"
	"time"
)

// RunStore handles pipeline-run persistence.
type RunStore interface {
	CreateRun(r *RunRecord) error
	GetRun(requestID string) (*RunRecord, error)
	SetRunStatus(requestID string, status RunStatus) error
	SetRunTier(requestID, tier string) error
	ResumeCorrectedRun(requestID string) error
	IncrementCorrections(requestID string) error
	FinishRun(requestID string, status RunStatus, completedAt time.Time) error
	ListRuns(status *RunStatus, limit int) ([]RunRecord, error)
	ActiveRuns() ([]RunRecord, error)
}

// IntegrationStore handles integration-outcome persistence.
type IntegrationStore interface {
	RecordIntegration(r *IntegrationRecord) error
	ListIntegrations(branch string, limit int) ([]IntegrationRecord, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// HistoryStore is the full persistence surface the recorder and the
// CLI rely on. Composing focused sub-interfaces keeps callers narrow.
type HistoryStore interface {
	io.Closer
	Migrator
	RunStore
	IntegrationStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ HistoryStore     = (*DB)(nil)
	_ Migrator         = (*DB)(nil)
	_ RunStore         = (*DB)(nil)
	_ IntegrationStore = (*DB)(nil)
)
