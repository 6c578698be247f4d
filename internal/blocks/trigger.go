package blocks

import (
	"context"

	"github.com/rakunlabs/flowlane/internal/graph"
)

// triggerHandler merges a static configured payload with the run's initial
// trigger metadata (trigger_type, triggered_at, schedule, ...), grounded on
// the teacher's nodes/cron-trigger.go and nodes/http-trigger.go, both of
// which merge a static payload sub-block with registry run inputs.
type triggerHandler struct{}

// NewTriggerHandler returns the handler for trigger blocks.
func NewTriggerHandler() Handler { return triggerHandler{} }

func (triggerHandler) CanHandle(block graph.Block) bool {
	return graph.BlockType(block.Type) == graph.BlockTrigger
}

func (triggerHandler) Execute(_ context.Context, block graph.Block, _ map[string]any, execCtx *ExecContext) (Result, error) {
	out := make(map[string]any, len(execCtx.InitialInput)+1)
	for k, v := range execCtx.InitialInput {
		out[k] = v
	}
	if payload, ok := block.SubBlocks["payload"].Value.(map[string]any); ok {
		for k, v := range payload {
			out[k] = v
		}
	}
	return NewResult(out), nil
}
