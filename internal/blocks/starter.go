package blocks

import (
	"context"

	"github.com/rakunlabs/flowlane/internal/graph"
)

// starterHandler seeds the run: its output is simply the resolved trigger
// input passed in by whatever started the workflow (manual call, webhook,
// or the recurrence ticker). Grounded on the teacher's nodes/input.go,
// which plays the same "entry point" role.
type starterHandler struct{}

// NewStarterHandler returns the handler for starter blocks.
func NewStarterHandler() Handler { return starterHandler{} }

func (starterHandler) CanHandle(block graph.Block) bool {
	return graph.BlockType(block.Type) == graph.BlockStarter
}

func (starterHandler) Execute(_ context.Context, _ graph.Block, _ map[string]any, execCtx *ExecContext) (Result, error) {
	data := make(map[string]any, len(execCtx.InitialInput))
	for k, v := range execCtx.InitialInput {
		data[k] = v
	}
	return NewResult(data), nil
}
