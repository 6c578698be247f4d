package blocks

import (
	"context"
	"fmt"
	"time"

	"github.com/rakunlabs/flowlane/internal/flowerrors"
	"github.com/rakunlabs/flowlane/internal/graph"
	"github.com/rakunlabs/flowlane/internal/jsvm"
)

// conditionEntry is one element of a condition block's ordered "conditions"
// sub-block: {id, title, value}, per spec.md §4.4.
type conditionEntry struct {
	ID    string
	Title string
	Value string
}

// conditionHandler evaluates an ordered list of JS boolean expressions and
// routes to the first one that is true, grounded on the teacher's
// nodes/conditional.go (which only supported a single true/false branch);
// this generalizes it to spec.md §4.4's N-way ordered conditions list. An
// entry titled "else" is taken when no other entry is true; with no else
// entry, an explicit ErrNoMatchingCondition failure is returned.
type conditionHandler struct{}

// defaultScriptTimeout bounds each condition expression's evaluation, using
// the same default as function blocks.
const defaultScriptTimeout = defaultFunctionTimeoutMS * time.Millisecond

// NewConditionHandler returns the handler for condition blocks.
func NewConditionHandler() Handler {
	return &conditionHandler{}
}

func (h *conditionHandler) CanHandle(block graph.Block) bool {
	return graph.BlockType(block.Type) == graph.BlockCondition
}

func (h *conditionHandler) Execute(_ context.Context, block graph.Block, inputs map[string]any, execCtx *ExecContext) (Result, error) {
	entries, err := parseConditions(block)
	if err != nil {
		return nil, err
	}

	vm, err := jsvm.New(inputs, jsvm.LookupFromEnvironment(execCtx.EnvironmentVariables))
	if err != nil {
		return nil, fmt.Errorf("condition %q: %w", block.ID, err)
	}

	matched := func(id string) Result {
		out := make(map[string]any, len(inputs)+1)
		for k, v := range inputs {
			out[k] = v
		}
		out["matched"] = id
		return NewConditionResult(out, id)
	}

	elseID := ""
	for _, c := range entries {
		if c.Title == "else" {
			if elseID == "" {
				elseID = c.ID
			}
			continue
		}
		val, err := jsvm.RunWithTimeout(vm, c.Value, defaultScriptTimeout)
		if err != nil {
			return nil, fmt.Errorf("condition %q: evaluating %q: %w", block.ID, c.ID, err)
		}
		if val.ToBoolean() {
			return matched(c.ID), nil
		}
	}
	if elseID != "" {
		return matched(elseID), nil
	}

	return nil, fmt.Errorf("condition %q: %w", block.ID, flowerrors.ErrNoMatchingCondition)
}

func parseConditions(block graph.Block) ([]conditionEntry, error) {
	raw, ok := block.SubBlocks["conditions"].Value.([]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("condition %q: 'conditions' sub-block must be a non-empty array", block.ID)
	}

	entries := make([]conditionEntry, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("condition %q: conditions[%d] is not an object", block.ID, i)
		}
		id, _ := m["id"].(string)
		title, _ := m["title"].(string)
		value, _ := m["value"].(string)
		if id == "" || (value == "" && title != "else") {
			return nil, fmt.Errorf("condition %q: conditions[%d] missing id or value", block.ID, i)
		}
		entries = append(entries, conditionEntry{ID: id, Title: title, Value: value})
	}
	return entries, nil
}
