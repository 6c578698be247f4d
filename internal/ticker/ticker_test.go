package ticker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rakunlabs/flowlane/internal/blocks"
	"github.com/rakunlabs/flowlane/internal/graph"
	"github.com/rakunlabs/flowlane/internal/recurrence"
	"github.com/rakunlabs/flowlane/internal/store"
	"github.com/rakunlabs/flowlane/internal/store/memory"
)

func newRegistry(g *graph.Graph) *blocks.Registry {
	return blocks.NewRegistry(
		blocks.NewToolHandler(),
		blocks.NewStarterHandler(),
		blocks.NewFunctionHandler(),
		blocks.NewConditionHandler(),
		blocks.NewRouterHandler(),
		blocks.NewResponseHandler(),
		blocks.NewTriggerHandler(),
		blocks.NewLoopHandler(g.Subflows),
	)
}

type noopTools struct{}

func (noopTools) Execute(context.Context, string, map[string]any, blocks.ToolContext) (blocks.ToolResult, error) {
	return blocks.ToolResult{Success: true, Output: map[string]any{}}, nil
}

func linearWorkflowState(t *testing.T) []byte {
	t.Helper()
	s := graph.Serialized{
		Blocks: map[string]graph.Block{
			"start": {ID: "start", Type: string(graph.BlockStarter), Enabled: true},
			"resp":  {ID: "resp", Type: string(graph.BlockResponse), Enabled: true},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "start", Target: "resp"},
		},
	}
	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}
	return raw
}

func newLoop(t *testing.T, st *memory.Memory) *Loop {
	t.Helper()
	return New(st, newRegistry, noopTools{}, nil, Config{BatchSize: 10, RetryDelay: time.Minute})
}

func TestDispatchSuccessAdvancesNextDueAt(t *testing.T) {
	st := memory.New()
	st.PutWorkflow(store.WorkflowRecord{ID: "wf1", Name: "wf", OwnerID: "owner1", State: linearWorkflowState(t), Enabled: true})

	tickStart := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	sched := store.ScheduleRecord{
		ID: "sched1", WorkflowID: "wf1",
		Type: string(recurrence.TypeMinutes), IntervalMinutes: 5,
		Enabled: true, NextDueAt: tickStart,
	}
	st.PutSchedule(sched)

	l := newLoop(t, st)
	l.dispatch(context.Background(), sched, tickStart)

	updated, err := st.LoadWorkflow(context.Background(), "wf1")
	if err != nil {
		t.Fatalf("LoadWorkflow: %v", err)
	}
	_ = updated

	logs := st.Logs()
	if len(logs) != 1 {
		t.Fatalf("expected 1 log record, got %d", len(logs))
	}
	if !logs[0].Success {
		t.Fatalf("expected successful log record, got error %q", logs[0].Error)
	}

	due, err := st.LoadDueSchedules(context.Background(), tickStart, 10)
	if err != nil {
		t.Fatalf("LoadDueSchedules: %v", err)
	}
	if len(due) != 0 {
		t.Fatal("expected schedule to no longer be due immediately after a successful run")
	}
}

func TestDispatchWorkflowNotFoundSkipsWithoutRetry(t *testing.T) {
	st := memory.New()
	tickStart := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	sched := store.ScheduleRecord{
		ID: "sched1", WorkflowID: "missing",
		Type: string(recurrence.TypeMinutes), IntervalMinutes: 5,
		Enabled: true, NextDueAt: tickStart,
	}
	st.PutSchedule(sched)

	l := newLoop(t, st)
	l.dispatch(context.Background(), sched, tickStart)

	if len(st.Logs()) != 0 {
		t.Fatal("expected no log record when the workflow is missing")
	}
}

func TestDispatchEnvironmentDecryptionFailureRetries(t *testing.T) {
	st := memory.New()
	st.PutWorkflow(store.WorkflowRecord{ID: "wf1", Name: "wf", OwnerID: "owner1", State: linearWorkflowState(t), Enabled: true})
	st.PutEnvironment(store.EnvironmentRecord{OwnerID: "owner1", Ciphertexts: map[string]string{"API_KEY": "enc:not-valid-ciphertext"}})

	tickStart := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	sched := store.ScheduleRecord{
		ID: "sched1", WorkflowID: "wf1",
		Type: string(recurrence.TypeMinutes), IntervalMinutes: 5,
		Enabled: true, NextDueAt: tickStart,
	}
	st.PutSchedule(sched)

	l := newLoop(t, st)
	l.dispatch(context.Background(), sched, tickStart)

	if len(st.Logs()) != 0 {
		t.Fatal("expected no log record when environment decryption fails before execution")
	}

	due, err := st.LoadDueSchedules(context.Background(), tickStart.Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("LoadDueSchedules: %v", err)
	}
	if len(due) != 1 || due[0].FailureCount != 1 {
		t.Fatalf("expected schedule retried with failure_count=1, got %+v", due)
	}
}

func TestTickSingleFlightSkipsWorkflowAlreadyInFlight(t *testing.T) {
	st := memory.New()
	st.PutWorkflow(store.WorkflowRecord{ID: "wf1", Name: "wf", OwnerID: "owner1", State: linearWorkflowState(t), Enabled: true})

	l := newLoop(t, st)

	if !l.tryAcquire("wf1") {
		t.Fatal("expected first acquire to succeed")
	}
	if l.tryAcquire("wf1") {
		t.Fatal("expected second acquire of the same workflow to be rejected")
	}
	l.release("wf1")
	if !l.tryAcquire("wf1") {
		t.Fatal("expected acquire to succeed again after release")
	}
}

func TestTickAcquireReleaseConcurrentSafe(t *testing.T) {
	l := newLoop(t, memory.New())

	var wg sync.WaitGroup
	acquired := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := l.tryAcquire("wf1")
			acquired <- ok
			if ok {
				l.release("wf1")
			}
		}()
	}
	wg.Wait()
	close(acquired)

	count := 0
	for ok := range acquired {
		if ok {
			count++
		}
	}
	if count == 0 {
		t.Fatal("expected at least one acquire to succeed")
	}
}
