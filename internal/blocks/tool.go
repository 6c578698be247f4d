package blocks

import (
	"context"
	"fmt"

	"github.com/rakunlabs/flowlane/internal/flowerrors"
	"github.com/rakunlabs/flowlane/internal/graph"
)

// toolHandler dispatches a block to the external tool registry, grounded on
// the teacher's nodes/http-request.go, nodes/agent-call.go, nodes/exec.go,
// and nodes/email.go — each of which builds a params object from node
// config plus upstream data and calls out to a concrete integration. This
// handler generalizes that into spec.md §1's single
// "toolRegistry.execute(toolId, params, context)" boundary: the toolId is
// the block's Type for a generic tool block, or the fixed id "agent_call"
// for an agent block.
//
// It is registered as the Registry's fallback (every block type with no
// dedicated handler above), matching spec.md §4.4's "generic tool types"
// rule, plus explicitly claiming BlockAgent.
type toolHandler struct{}

// NewToolHandler returns the fallback handler for agent and generic tool
// blocks.
func NewToolHandler() Handler { return toolHandler{} }

func (toolHandler) CanHandle(graph.Block) bool { return true }

func (toolHandler) Execute(ctx context.Context, block graph.Block, inputs map[string]any, execCtx *ExecContext) (Result, error) {
	toolID := block.Type
	if graph.BlockType(block.Type) == graph.BlockAgent {
		toolID = "agent_call"
	}

	params := make(map[string]any, len(block.SubBlocks)+1)
	for k, sb := range block.SubBlocks {
		params[k] = sb.Value
	}
	params["input"] = inputs

	res, err := execCtx.Tools.Execute(ctx, toolID, params, ToolContext{WorkflowID: execCtx.WorkflowID})
	if err != nil {
		return nil, fmt.Errorf("block %q (%s): %w: %v", block.ID, toolID, flowerrors.ErrToolExecutionFailed, err)
	}
	if !res.Success {
		return nil, fmt.Errorf("block %q (%s): %w: %s", block.ID, toolID, flowerrors.ErrToolExecutionFailed, res.Error)
	}

	out := make(map[string]any, len(res.Output)+len(inputs))
	for k, v := range inputs {
		out[k] = v
	}
	for k, v := range res.Output {
		out[k] = v
	}

	return NewResult(out), nil
}
