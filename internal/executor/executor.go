// Package executor implements the ready-queue block-by-block run driver
// described in spec.md §4.5. It is grounded on the teacher's
// internal/service/workflow/engine.go goroutine-per-branch driver, but
// restructured around pathtracker.Tracker's activeExecutionPath instead of
// the teacher's port-index NodeResultSelection, and iterates a ready queue
// rather than spawning one goroutine per edge.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rakunlabs/flowlane/internal/blocks"
	"github.com/rakunlabs/flowlane/internal/flowerrors"
	"github.com/rakunlabs/flowlane/internal/graph"
	"github.com/rakunlabs/flowlane/internal/pathtracker"
	"github.com/rakunlabs/flowlane/internal/resolver"
)

// BlockLog records one executed block's timing and outcome for the run's
// audit trail (spec.md §3 LogRecord, per-block detail).
type BlockLog struct {
	BlockID     string
	BlockName   string
	Type        string
	StartedAt   time.Time
	FinishedAt  time.Time
	Output      map[string]any
	Err         string
}

// Result is the outcome of one workflow run.
type Result struct {
	Success   bool
	Output    map[string]any
	BlockLogs []BlockLog
}

// Run executes graph g to completion from its starter block, per spec.md
// §4.5: blocks run as soon as the path tracker marks them active and every
// predecessor has executed or died. A handler error aborts the run.
func Run(
	ctx context.Context,
	g *graph.Graph,
	registry *blocks.Registry,
	tools blocks.ToolInvoker,
	workflowID string,
	initialInput map[string]any,
	environmentVariables map[string]string,
) (*Result, error) {
	tracker := pathtracker.New(g, g.StarterID)

	run := &run{
		ctx:          ctx,
		g:            g,
		registry:     registry,
		tools:        tools,
		workflowID:   workflowID,
		initialInput: initialInput,
		env:          environmentVariables,
		tracker:      tracker,
		executed:     make(map[string]bool),
		states:       make(map[string]resolver.BlockState),
		nameToID:     buildNameToID(g),
	}

	if err := run.drain(nil); err != nil {
		return &Result{Success: false, BlockLogs: run.logs}, err
	}

	// The aggregate output folds in every response block's envelope plus
	// every router block's decision (spec.md §8 scenario 5: a router's
	// selectedPath must reach the run's final output, not just its own
	// recorded block state).
	output := make(map[string]any)
	for _, b := range g.Blocks {
		switch graph.BlockType(b.Type) {
		case graph.BlockResponse, graph.BlockRouter:
		default:
			continue
		}
		if state, ok := run.states[b.ID]; ok {
			for k, v := range state.Output {
				output[k] = v
			}
		}
	}

	return &Result{Success: true, Output: output, BlockLogs: run.logs}, nil
}

func buildNameToID(g *graph.Graph) map[string]string {
	counts := make(map[string]int)
	ids := make(map[string]string)
	for id, b := range g.Blocks {
		if b.Name == "" {
			continue
		}
		counts[b.Name]++
		ids[b.Name] = id
	}
	out := make(map[string]string, len(ids))
	for name, id := range ids {
		if counts[name] == 1 {
			out[name] = id
		}
	}
	return out
}

// run carries one execution's mutable state. A nested subflow iteration
// reuses the same graph/registry/tools but gets its own executed/states
// scope so each iteration is an isolated frame (spec.md §9).
type run struct {
	ctx          context.Context
	g            *graph.Graph
	registry     *blocks.Registry
	tools        blocks.ToolInvoker
	workflowID   string
	initialInput map[string]any
	env          map[string]string
	tracker      *pathtracker.Tracker

	executed map[string]bool
	states   map[string]resolver.BlockState
	nameToID map[string]string
	logs     []BlockLog
}

// drain runs every ready block to completion. scope, if non-nil, restricts
// execution to a subflow's node set (used for loop/parallel iterations);
// nil means the whole graph.
func (r *run) drain(scope map[string]bool) error {
	for {
		select {
		case <-r.ctx.Done():
			return flowerrors.ErrExecutionCancelled
		default:
		}

		progressed := false
		for id, b := range r.g.Blocks {
			if scope != nil && !scope[id] {
				continue
			}
			if r.executed[id] {
				continue
			}
			if !r.tracker.Ready(id, r.executed) {
				continue
			}

			if !b.Enabled {
				r.executed[id] = true
				r.tracker.ActivateSuccessors(id)
				progressed = true
				continue
			}

			if err := r.runBlock(b); err != nil {
				return err
			}
			progressed = true
		}

		if !progressed {
			return nil
		}
	}
}

func (r *run) runBlock(b graph.Block) error {
	started := time.Now()

	inputs, err := r.resolveInputs(b)
	if err != nil {
		r.logFailure(b, started, err)
		return err
	}

	execCtx := &blocks.ExecContext{
		WorkflowID:           r.workflowID,
		InitialInput:         r.initialInput,
		EnvironmentVariables: r.env,
		Tools:                r.tools,
		SuccessorsOf:         r.successorsOf,
		BlockNameToID:        r.nameToID,
	}

	handler := r.registry.For(b)
	result, err := handler.Execute(r.ctx, b, inputs, execCtx)
	if err != nil {
		r.logFailure(b, started, err)
		return err
	}

	r.executed[b.ID] = true
	r.states[b.ID] = resolver.BlockState{Output: result.Data()}

	switch res := result.(type) {
	case blocks.RouterResult:
		r.tracker.MarkRouterDecision(b.ID, res.Target())
	case blocks.ConditionResult:
		r.tracker.MarkConditionDecision(b.ID, res.ConditionID())
	case blocks.FanOutResult:
		if err := r.runFanOut(b, res); err != nil {
			r.logFailure(b, started, err)
			return err
		}
		r.activateSubflowExit(b.ID)
	default:
		r.tracker.ActivateSuccessors(b.ID)
	}

	r.logs = append(r.logs, BlockLog{
		BlockID: b.ID, BlockName: b.Name, Type: b.Type,
		StartedAt: started, FinishedAt: time.Now(), Output: result.Data(),
	})
	return nil
}

// runFanOut executes the subflow's interior blocks once per item, isolated
// by a fresh executed/states map per iteration (spec.md §9: each iteration
// is a fresh execution frame), then merges the subflow's response-like
// output into the loop block's own recorded state as an "items" list.
// Parallel subflows dispatch every iteration concurrently and join at the
// subflow exit (spec.md §4.4, §5); sequential loops run one iteration at a
// time in item order.
func (r *run) runFanOut(loopBlock graph.Block, fanOut blocks.FanOutResult) error {
	// Loop/parallel subflows are keyed in graph.Serialized.Loops/Parallels by
	// the loop/parallel block's own id; the subflow's Nodes set is its
	// interior body blocks, not the loop block itself.
	sf, ok := r.g.Subflows[loopBlock.ID]
	if !ok {
		return fmt.Errorf("loop block %q: not attached to a loop/parallel subflow", loopBlock.ID)
	}

	items := fanOut.Items()
	aggregated := make([]map[string]any, len(items))
	var iterLogs [][]BlockLog

	newIter := func(item map[string]any) *run {
		iter := &run{
			ctx: r.ctx, g: r.g, registry: r.registry, tools: r.tools,
			workflowID:   r.workflowID,
			initialInput: r.initialInput,
			env:          r.env,
			tracker:      pathtracker.New(r.g, firstSubflowEntry(sf, r.g)),
			executed:     cloneExecuted(r.executed),
			states:       cloneStates(r.states),
			nameToID:     r.nameToID,
		}
		iter.states[loopBlock.ID] = resolver.BlockState{Output: item}
		return iter
	}

	if fanOut.Parallel() {
		iterLogs = make([][]BlockLog, len(items))
		var wg sync.WaitGroup
		errs := make([]error, len(items))
		for i, item := range items {
			wg.Add(1)
			go func(i int, item map[string]any) {
				defer wg.Done()
				iter := newIter(item)
				if err := iter.drain(sf.Nodes); err != nil {
					errs[i] = err
					return
				}
				aggregated[i] = mergeExitOutputs(iter.states, sf.Nodes)
				iterLogs[i] = iter.logs
			}(i, item)
		}
		wg.Wait()

		for _, logs := range iterLogs {
			r.logs = append(r.logs, logs...)
		}
		for _, err := range errs {
			if err != nil {
				return err
			}
		}
	} else {
		for i, item := range items {
			iter := newIter(item)
			if err := iter.drain(sf.Nodes); err != nil {
				return err
			}
			aggregated[i] = mergeExitOutputs(iter.states, sf.Nodes)
			r.logs = append(r.logs, iter.logs...)
		}
	}

	state := r.states[loopBlock.ID]
	if state.Output == nil {
		state.Output = map[string]any{}
	}
	state.Output["items"] = aggregated
	r.states[loopBlock.ID] = state
	return nil
}

// firstSubflowEntry picks the subflow node with no in-subflow predecessor as
// the iteration's seed. Subflows are expected to have exactly one entry.
func firstSubflowEntry(sf *graph.Subflow, g *graph.Graph) string {
	for id := range sf.Nodes {
		hasInternalPredecessor := false
		for _, e := range g.Incoming(id) {
			if sf.Nodes[e.Source] {
				hasInternalPredecessor = true
				break
			}
		}
		if !hasInternalPredecessor {
			return id
		}
	}
	for id := range sf.Nodes {
		return id
	}
	return ""
}

func mergeExitOutputs(states map[string]resolver.BlockState, scope map[string]bool) map[string]any {
	out := make(map[string]any)
	for id := range scope {
		if s, ok := states[id]; ok {
			for k, v := range s.Output {
				out[k] = v
			}
		}
	}
	return out
}

func cloneExecuted(src map[string]bool) map[string]bool {
	dst := make(map[string]bool, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneStates(src map[string]resolver.BlockState) map[string]resolver.BlockState {
	dst := make(map[string]resolver.BlockState, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// activateSubflowExit activates only the loop/parallel block's successors
// that lie outside its own subflow body — the interior body blocks were
// already driven to completion, once per item, inside runFanOut.
func (r *run) activateSubflowExit(loopBlockID string) {
	sf := r.g.Subflows[loopBlockID]
	for _, e := range r.g.Outgoing(loopBlockID) {
		if sf != nil && sf.Nodes[e.Target] {
			continue
		}
		r.tracker.Activate(e.Target)
	}
}

func (r *run) successorsOf(blockID string) []blocks.Successor {
	edges := r.g.Outgoing(blockID)
	out := make([]blocks.Successor, 0, len(edges))
	for _, e := range edges {
		b, _ := r.g.Block(e.Target)
		out = append(out, blocks.Successor{ID: e.Target, Name: b.Name})
	}
	return out
}

// resolveInputs resolves every non-code, non-structural sub-block value's
// <block.field>/{{ENV}} reference tokens, keyed by sub-block name, per
// spec.md §4.2. "code" and "conditions" sub-blocks are left for their
// handler to read raw from graph.Block, since they hold script/expression
// text rather than a single reference token.
func (r *run) resolveInputs(b graph.Block) (map[string]any, error) {
	ctx := resolver.Context{
		BlockStates:          r.states,
		BlockNameToID:        r.nameToID,
		EnvironmentVariables: r.env,
	}

	inputs := make(map[string]any, len(b.SubBlocks))
	for name, sb := range b.SubBlocks {
		if name == "code" || name == "conditions" {
			continue
		}
		raw, ok := sb.Value.(string)
		if !ok {
			inputs[name] = sb.Value
			continue
		}
		v, err := resolver.Resolve(raw, ctx)
		if err != nil {
			return nil, fmt.Errorf("block %q: resolving %q: %w", b.ID, name, err)
		}
		inputs[name] = v
	}
	return inputs, nil
}

func (r *run) logFailure(b graph.Block, started time.Time, err error) {
	r.logs = append(r.logs, BlockLog{
		BlockID: b.ID, BlockName: b.Name, Type: b.Type,
		StartedAt: started, FinishedAt: time.Now(), Err: err.Error(),
	})
}
