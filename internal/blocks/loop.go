package blocks

import (
	"context"
	"fmt"

	"github.com/rakunlabs/flowlane/internal/graph"
)

// loopHandler fans out a loop/parallel subflow entry block into one
// iteration frame per item, grounded on the teacher's nodes/loop.go
// loopNode (JS expression -> array -> fan-out) but driven by the subflow's
// IterationType instead of evaluating a script: "fixed" replays a
// bounded count of empty-item iterations, "collection" reads the array
// stored under the subflow's Collection name in the resolved inputs.
type loopHandler struct {
	subflows map[string]*graph.Subflow
}

// NewLoopHandler returns the handler for loop and parallel blocks. subflows
// is the graph's loop/parallel table, keyed by subflow id.
func NewLoopHandler(subflows map[string]*graph.Subflow) Handler {
	return &loopHandler{subflows: subflows}
}

func (h *loopHandler) CanHandle(block graph.Block) bool {
	t := graph.BlockType(block.Type)
	return t == graph.BlockLoop || t == graph.BlockParallel
}

func (h *loopHandler) Execute(_ context.Context, block graph.Block, inputs map[string]any, _ *ExecContext) (Result, error) {
	sf, ok := h.subflows[block.ID]
	if !ok {
		return nil, fmt.Errorf("loop %q: no loop/parallel subflow configuration found", block.ID)
	}

	var items []map[string]any

	switch sf.IterationType {
	case graph.IterationCollection:
		coll, err := collectionOf(sf.Collection, inputs)
		if err != nil {
			return nil, fmt.Errorf("loop %q: %w", block.ID, err)
		}
		items = make([]map[string]any, 0, len(coll))
		for i, v := range coll {
			items = append(items, map[string]any{"item": v, "index": i})
		}
	default: // IterationFixed
		count := sf.IterationCount
		if sf.Type == graph.SubflowParallel && sf.ParallelCount > 0 {
			count = sf.ParallelCount
		}
		items = make([]map[string]any, 0, count)
		for i := 0; i < count; i++ {
			items = append(items, map[string]any{"index": i})
		}
	}

	if len(items) == 0 {
		return NewFanOutResult(nil, sf.Type == graph.SubflowParallel), nil
	}

	return NewFanOutResult(items, sf.Type == graph.SubflowParallel), nil
}

// collectionOf reads a field named by ref out of inputs, expecting a slice.
func collectionOf(ref string, inputs map[string]any) ([]any, error) {
	if ref == "" {
		return nil, fmt.Errorf("subflow has no 'collection' field configured")
	}
	v, ok := inputs[ref]
	if !ok {
		return nil, fmt.Errorf("collection field %q not present in inputs", ref)
	}
	switch c := v.(type) {
	case []any:
		return c, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("collection field %q is not an array (got %T)", ref, v)
	}
}
