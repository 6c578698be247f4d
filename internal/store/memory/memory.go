// Package memory is an in-memory store.Store implementation: data does not
// survive process restarts. Grounded on the teacher's
// internal/store/memory/memory.go (sync.RWMutex-guarded maps, ulid.Make()
// ids, slices.SortFunc for deterministic ordering), generalized from its
// provider/token-shaped tables to flowlane's workflow/schedule/environment/
// log shape.
package memory

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rakunlabs/flowlane/internal/flowerrors"
	"github.com/rakunlabs/flowlane/internal/store"
)

// Memory is an in-memory implementation of store.Store, useful for tests
// and single-process demos.
type Memory struct {
	mu           sync.RWMutex
	workflows    map[string]store.WorkflowRecord
	schedules    map[string]store.ScheduleRecord
	environments map[string]store.EnvironmentRecord
	logs         []store.LogRecord
}

func New() *Memory {
	slog.Info("using in-memory store (data will not persist across restarts)")

	return &Memory{
		workflows:    make(map[string]store.WorkflowRecord),
		schedules:    make(map[string]store.ScheduleRecord),
		environments: make(map[string]store.EnvironmentRecord),
	}
}

func (m *Memory) Close() {}

// PutWorkflow is a test/seed helper; the Store interface has no workflow
// write operation of its own (flowlane's workflow authoring surface is out
// of scope for the ticker/executor contract this package serves).
func (m *Memory) PutWorkflow(rec store.WorkflowRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[rec.ID] = rec
}

// PutSchedule is a test/seed helper, see PutWorkflow.
func (m *Memory) PutSchedule(rec store.ScheduleRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	m.schedules[rec.ID] = rec
}

// PutEnvironment is a test/seed helper, see PutWorkflow.
func (m *Memory) PutEnvironment(rec store.EnvironmentRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.environments[rec.OwnerID] = rec
}

// Logs returns a snapshot of every appended LogRecord, newest first. Test
// helper mirroring the teacher's list-sorted-by-created-at pattern.
func (m *Memory) Logs() []store.LogRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]store.LogRecord, len(m.logs))
	copy(result, m.logs)
	slices.SortFunc(result, func(a, b store.LogRecord) int {
		if a.StartedAt.After(b.StartedAt) {
			return -1
		}
		if a.StartedAt.Before(b.StartedAt) {
			return 1
		}
		return 0
	})
	return result
}

func (m *Memory) LoadDueSchedules(_ context.Context, now time.Time, limit int) ([]store.ScheduleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	due := make([]store.ScheduleRecord, 0, limit)
	for _, sched := range m.schedules {
		if !sched.Enabled {
			continue
		}
		if sched.NextDueAt.After(now) {
			continue
		}
		due = append(due, sched)
	}

	slices.SortFunc(due, func(a, b store.ScheduleRecord) int {
		if a.NextDueAt.Before(b.NextDueAt) {
			return -1
		}
		if a.NextDueAt.After(b.NextDueAt) {
			return 1
		}
		return 0
	})

	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *Memory) UpdateSchedule(_ context.Context, rec store.ScheduleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.schedules[rec.ID]; !ok {
		return flowerrors.ErrScheduleNotFound
	}
	m.schedules[rec.ID] = rec
	return nil
}

func (m *Memory) LoadWorkflow(_ context.Context, id string) (store.WorkflowRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.workflows[id]
	if !ok {
		return store.WorkflowRecord{}, flowerrors.ErrWorkflowNotFound
	}
	return rec, nil
}

func (m *Memory) LoadEnvironment(_ context.Context, ownerID string) (store.EnvironmentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.environments[ownerID]
	if !ok {
		return store.EnvironmentRecord{OwnerID: ownerID}, nil
	}
	return rec, nil
}

func (m *Memory) AppendLog(_ context.Context, rec store.LogRecord) error {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, rec)
	return nil
}
