// Package ticker implements the schedule tick loop described in spec.md
// §4.7: a poll-driven dispatch loop that loads a small batch of due
// schedules, single-flights per workflow, and runs each through the
// executor. It is grounded on the teacher's internal/service/workflow/
// scheduler.go — the structured logi.Ctx logging idiom, the "log the
// error but never stop the loop" policy, and the trigger-metadata-as-
// inputs convention all come from makeCronFunc — but restructured from
// per-trigger cron jobs into a single poll loop, since spec.md §4.7 calls
// this out as the core contract under test.
package ticker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/flowlane/internal/blocks"
	"github.com/rakunlabs/flowlane/internal/crypto"
	"github.com/rakunlabs/flowlane/internal/executor"
	"github.com/rakunlabs/flowlane/internal/flowerrors"
	"github.com/rakunlabs/flowlane/internal/graph"
	"github.com/rakunlabs/flowlane/internal/recurrence"
	"github.com/rakunlabs/flowlane/internal/store"
)

// Config configures the tick loop's poll cadence, batch size, and retry
// delay (spec.md §4.7).
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	RetryDelay   time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Minute
	}
	return c
}

// RegistryFactory builds the block handler registry for one workflow
// graph. A fresh registry is needed per graph because the loop/parallel
// handler is bound to that graph's subflow table (blocks.NewLoopHandler),
// mirroring the teacher's makeCronFunc instantiating a fresh engine per
// tick.
type RegistryFactory func(g *graph.Graph) *blocks.Registry

// Loop is the polling single-flight dispatch loop. Only runningWorkflows
// (the single-flight token set) is shared across goroutines; it is
// mutated under runningMu (spec.md §5's "shared resource policy").
type Loop struct {
	store       store.Store
	newRegistry RegistryFactory
	tools       blocks.ToolInvoker
	key         []byte
	cfg         Config

	runningMu        sync.Mutex
	runningWorkflows map[string]bool
}

// New builds a tick loop. key is the derived AES-256-GCM key used to
// decrypt owner environments (with a nil/empty key, plaintext values pass
// through and any "enc:" value fails to decrypt, spec.md §4.2); newRegistry builds the per-graph block handler registry and
// tools is the tool dispatcher, both wired once at startup and shared
// by every run (tools has no per-graph state).
func New(st store.Store, newRegistry RegistryFactory, tools blocks.ToolInvoker, key []byte, cfg Config) *Loop {
	return &Loop{
		store:            st,
		newRegistry:      newRegistry,
		tools:            tools,
		key:              key,
		cfg:              cfg.withDefaults(),
		runningWorkflows: make(map[string]bool),
	}
}

// Run polls on cfg.PollInterval until ctx is cancelled. It never returns
// an error: transient failures are logged and the loop continues, per
// spec.md §4.7's recovery policy.
func (l *Loop) Run(ctx context.Context) {
	logi.Ctx(ctx).Info("ticker: starting schedule tick loop",
		"poll_interval", l.cfg.PollInterval, "batch_size", l.cfg.BatchSize)

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logi.Ctx(ctx).Info("ticker: stopping schedule tick loop")
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick runs a single poll: load up to BatchSize due schedules and dispatch
// each one that isn't already in flight. Dispatched schedules run in their
// own goroutine so a slow workflow never delays the next schedule in the
// batch (spec.md §4.7 step 2's "skip if already held" single-flight rule
// only guards against the SAME workflow overlapping itself).
func (l *Loop) tick(ctx context.Context) {
	tickStart := time.Now().UTC()

	due, err := l.store.LoadDueSchedules(ctx, tickStart, l.cfg.BatchSize)
	if err != nil {
		logi.Ctx(ctx).Error("ticker: load due schedules failed", "error", err)
		return
	}

	for _, sched := range due {
		if !l.tryAcquire(sched.WorkflowID) {
			logi.Ctx(ctx).Debug("ticker: workflow already in flight, skipping tick",
				"workflow_id", sched.WorkflowID, "schedule_id", sched.ID)
			continue
		}

		go func(sched store.ScheduleRecord) {
			defer l.release(sched.WorkflowID)
			l.dispatch(ctx, sched, tickStart)
		}(sched)
	}
}

func (l *Loop) tryAcquire(workflowID string) bool {
	l.runningMu.Lock()
	defer l.runningMu.Unlock()

	if l.runningWorkflows[workflowID] {
		return false
	}
	l.runningWorkflows[workflowID] = true
	return true
}

func (l *Loop) release(workflowID string) {
	l.runningMu.Lock()
	defer l.runningMu.Unlock()
	delete(l.runningWorkflows, workflowID)
}

// dispatch loads the workflow and its owner's environment, runs it
// through the executor, and persists the schedule's next due time. It
// never returns an error: every failure path logs, and all but a missing
// workflow (skipped with no retry) push the schedule back by the retry
// delay, per spec.md §4.7 steps 3-5.
func (l *Loop) dispatch(ctx context.Context, sched store.ScheduleRecord, tickStart time.Time) {
	runCtx := logi.WithContext(ctx, slog.With(
		slog.String("workflow_id", sched.WorkflowID),
		slog.String("schedule_id", sched.ID),
	))

	wf, err := l.store.LoadWorkflow(runCtx, sched.WorkflowID)
	if err != nil {
		if errors.Is(err, flowerrors.ErrWorkflowNotFound) {
			logi.Ctx(runCtx).Warn("ticker: workflow not found, skipping schedule")
			return
		}
		logi.Ctx(runCtx).Error("ticker: load workflow failed", "error", err)
		l.retry(runCtx, sched, tickStart)
		return
	}

	serialized, err := graph.Parse(wf.State)
	if err != nil {
		logi.Ctx(runCtx).Error("ticker: parse workflow state failed", "error", err)
		l.retry(runCtx, sched, tickStart)
		return
	}

	g, err := graph.Load(serialized)
	if err != nil {
		logi.Ctx(runCtx).Error("ticker: load workflow graph failed", "error", err)
		l.retry(runCtx, sched, tickStart)
		return
	}

	env, err := l.resolveEnvironment(runCtx, wf.OwnerID)
	if err != nil {
		logi.Ctx(runCtx).Error("ticker: resolve environment failed", "error", err)
		l.retry(runCtx, sched, tickStart)
		return
	}

	inputs := map[string]any{
		"trigger_type":  "schedule",
		"schedule_id":   sched.ID,
		"schedule_type": string(sched.Type),
		"triggered_at":  tickStart.Format(time.RFC3339),
		"timezone":      sched.Timezone,
	}

	logi.Ctx(runCtx).Info("ticker: workflow started", "workflow_name", wf.Name)

	result, runErr := executor.Run(runCtx, g, l.newRegistry(g), l.tools, wf.ID, inputs, env)

	logEntry := store.LogRecord{
		WorkflowID: wf.ID,
		ScheduleID: sched.ID,
		StartedAt:  tickStart,
		FinishedAt: time.Now().UTC(),
	}

	if runErr != nil {
		logi.Ctx(runCtx).Error("ticker: workflow execution failed", "error", runErr)
		logEntry.Success = false
		logEntry.Error = runErr.Error()
		if result != nil {
			logEntry.BlockLogs = toBlockLogEntries(result.BlockLogs)
		}
		l.appendLog(runCtx, logEntry)
		l.retry(runCtx, sched, tickStart)
		return
	}

	logi.Ctx(runCtx).Info("ticker: workflow completed", "output_keys", mapKeys(result.Output))

	logEntry.Success = true
	logEntry.Output = result.Output
	logEntry.BlockLogs = toBlockLogEntries(result.BlockLogs)
	l.appendLog(runCtx, logEntry)

	l.advance(runCtx, sched, tickStart)
}

// resolveEnvironment loads and decrypts the owner's environment. A
// missing environment row is not itself fatal here: it yields an empty
// map, and any block that actually needs a variable raises
// ErrMissingEnvironmentVariable at resolve time (spec.md §4.2).
func (l *Loop) resolveEnvironment(ctx context.Context, ownerID string) (map[string]string, error) {
	rec, err := l.store.LoadEnvironment(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(rec.Ciphertexts) == 0 {
		return map[string]string{}, nil
	}
	return crypto.DecryptEnvironment(rec.Ciphertexts, l.key)
}

// advance computes the schedule's next due time on success and persists
// it along with LastRunAt, resetting FailureCount.
func (l *Loop) advance(ctx context.Context, sched store.ScheduleRecord, tickStart time.Time) {
	next, err := recurrence.Next(toSpec(sched), tickStart)
	if err != nil {
		logi.Ctx(ctx).Error("ticker: compute next due time failed", "error", err)
		l.retry(ctx, sched, tickStart)
		return
	}

	sched.LastRunAt = &tickStart
	sched.NextDueAt = next
	sched.FailureCount = 0

	if err := l.store.UpdateSchedule(ctx, sched); err != nil {
		logi.Ctx(ctx).Error("ticker: update schedule failed", "error", err)
	}
}

// retry sets NextDueAt to tickStart plus the configured retry delay and
// increments FailureCount without touching LastRunAt, so the same run window is re-attempted (spec.md
// §4.7 step 3/§7's recovery policy).
func (l *Loop) retry(ctx context.Context, sched store.ScheduleRecord, tickStart time.Time) {
	sched.NextDueAt = tickStart.Add(l.cfg.RetryDelay)
	sched.FailureCount++

	if err := l.store.UpdateSchedule(ctx, sched); err != nil {
		logi.Ctx(ctx).Error("ticker: update schedule after failure failed", "error", err)
	}
}

func (l *Loop) appendLog(ctx context.Context, rec store.LogRecord) {
	if err := l.store.AppendLog(ctx, rec); err != nil {
		logi.Ctx(ctx).Error("ticker: append log failed", "error", err)
	}
}

func toSpec(sched store.ScheduleRecord) recurrence.Spec {
	return recurrence.Spec{
		Type:              recurrence.ScheduleType(sched.Type),
		CronExpression:    sched.CronExpression,
		Timezone:          sched.Timezone,
		IntervalMinutes:   sched.IntervalMinutes,
		MinutesStartingAt: sched.MinutesStartingAt,
		LastRanAt:         sched.LastRunAt,
		HourOfDay:         sched.HourOfDay,
		MinuteOfHour:      sched.MinuteOfHour,
		DayOfWeek:         time.Weekday(sched.DayOfWeek),
		DayOfMonth:        sched.DayOfMonth,
	}
}

func toBlockLogEntries(logs []executor.BlockLog) []store.BlockLogEntry {
	entries := make([]store.BlockLogEntry, 0, len(logs))
	for _, l := range logs {
		entries = append(entries, store.BlockLogEntry{
			BlockID:    l.BlockID,
			BlockName:  l.BlockName,
			Type:       l.Type,
			StartedAt:  l.StartedAt,
			FinishedAt: l.FinishedAt,
			Output:     l.Output,
			Err:        l.Err,
		})
	}
	return entries
}

func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
