// Package store defines the persistence contract spec.md §3/§4.8 names:
// workflow/schedule/environment/log records, and the operations the ticker
// and executor use to load and mutate them. Three adapters implement Store:
// memory (tests and single-process demos), sqlite3, and postgres — all
// grounded on the teacher's internal/store/* package family, generalized
// from its provider/token/trigger-shaped tables to flowlane's workflow/
// schedule/environment/log shape.
package store

import (
	"context"
	"time"

	"github.com/rakunlabs/flowlane/internal/config"
	"github.com/rakunlabs/flowlane/internal/store/memory"
	"github.com/rakunlabs/flowlane/internal/store/postgres"
	"github.com/rakunlabs/flowlane/internal/store/sqlite3"
)

// WorkflowRecord is a stored workflow definition: its durable graph state
// plus identifying metadata (spec.md §3, §6).
type WorkflowRecord struct {
	ID        string
	Name      string
	OwnerID   string
	State     []byte // graph.Serialized, JSON-encoded (spec.md §6)
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScheduleRecord is one recurrence rule attached to a workflow (spec.md
// §4.6/§4.7).
type ScheduleRecord struct {
	ID              string
	WorkflowID      string
	Type            string // recurrence.ScheduleType
	CronExpression  string
	Timezone        string
	IntervalMinutes int
	// MinutesStartingAt anchors a "minutes" schedule's grid to a time of
	// day ("HH:MM"), per spec.md §4.6. Empty means no anchor: the grid is
	// every multiple of the interval counted from Go's zero time, which
	// starts at the top of each UTC hour only for an interval that divides
	// an hour.
	MinutesStartingAt string
	HourOfDay         int
	MinuteOfHour      int
	DayOfWeek         int
	DayOfMonth        int

	Enabled      bool
	NextDueAt    time.Time
	LastRunAt    *time.Time
	FailureCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EnvironmentRecord holds an owner's encrypted environment variables
// (spec.md §4.2).
type EnvironmentRecord struct {
	OwnerID     string
	Ciphertexts map[string]string
	UpdatedAt   time.Time
}

// LogRecord is one workflow run's audit entry (spec.md §3 LogRecord).
type LogRecord struct {
	ID         string
	WorkflowID string
	ScheduleID string // empty for a manually-triggered run
	Success    bool
	StartedAt  time.Time
	FinishedAt time.Time
	Output     map[string]any
	Error      string
	BlockLogs  []BlockLogEntry
}

// BlockLogEntry is one block's contribution to a LogRecord.
type BlockLogEntry struct {
	BlockID    string
	BlockName  string
	Type       string
	StartedAt  time.Time
	FinishedAt time.Time
	Output     map[string]any
	Err        string
}

// Store is the persistence boundary the ticker and executor depend on.
type Store interface {
	// LoadDueSchedules returns up to limit enabled schedules whose
	// NextDueAt is at or before now, ordered oldest-due-first (spec.md
	// §4.7's "batch of 10" poll design).
	LoadDueSchedules(ctx context.Context, now time.Time, limit int) ([]ScheduleRecord, error)

	// UpdateSchedule persists a schedule's new NextDueAt/LastRunAt/
	// FailureCount after a tick (spec.md §4.7).
	UpdateSchedule(ctx context.Context, rec ScheduleRecord) error

	// LoadWorkflow fetches a workflow by id.
	LoadWorkflow(ctx context.Context, id string) (WorkflowRecord, error)

	// LoadEnvironment fetches an owner's encrypted environment variables.
	// A missing environment is not an error: callers receive a record with
	// a nil/empty Ciphertexts map. The tick loop runs the workflow with an
	// empty environment in that case; it does not raise
	// ErrEnvironmentMissing.
	LoadEnvironment(ctx context.Context, ownerID string) (EnvironmentRecord, error)

	// AppendLog persists a finished run's audit trail.
	AppendLog(ctx context.Context, rec LogRecord) error
}

// StorerClose is a Store whose backing connection can be released.
// The in-memory adapter's Close is a no-op, kept for interface symmetry.
type StorerClose interface {
	Store
	Close()
}

// New selects a backing adapter from cfg: postgres if configured, else
// sqlite if configured, else an in-memory store (data does not survive
// process restarts). Mirrors the teacher's store.New dispatch, generalized
// to a third in-memory option.
func New(ctx context.Context, cfg config.Store) (StorerClose, error) {
	switch {
	case cfg.Postgres != nil:
		return postgres.New(ctx, cfg.Postgres)
	case cfg.SQLite != nil:
		return sqlite3.New(ctx, cfg.SQLite)
	default:
		return memory.New(), nil
	}
}
