package blocks

import (
	"context"
	"fmt"

	"github.com/rakunlabs/flowlane/internal/flowerrors"
	"github.com/rakunlabs/flowlane/internal/graph"
)

// routerHandler asks the tool registry's llm_route tool to pick one of the
// block's direct successors, generalized from the teacher's nodes/llm-call.go
// provider-dispatch pattern (request an LLM completion through the registry,
// then interpret the structured result) into spec.md §4.4's routing
// contract: the chosen id must name a direct successor, or the block fails
// with ErrInvalidRoutingDecision.
type routerHandler struct{}

// NewRouterHandler returns the handler for router blocks.
func NewRouterHandler() Handler { return routerHandler{} }

func (routerHandler) CanHandle(block graph.Block) bool {
	return graph.BlockType(block.Type) == graph.BlockRouter
}

func (routerHandler) Execute(ctx context.Context, block graph.Block, inputs map[string]any, execCtx *ExecContext) (Result, error) {
	prompt, _ := block.SubBlocks["prompt"].Value.(string)
	model, _ := block.SubBlocks["model"].Value.(string)

	successors := execCtx.SuccessorsOf(block.ID)
	if len(successors) == 0 {
		return nil, fmt.Errorf("router %q: has no outgoing edges to route to", block.ID)
	}

	candidates := make([]map[string]any, 0, len(successors))
	for _, s := range successors {
		candidates = append(candidates, map[string]any{"id": s.ID, "name": s.Name})
	}

	params := map[string]any{
		"prompt":     prompt,
		"model":      model,
		"candidates": candidates,
		"input":      inputs,
	}

	res, err := execCtx.Tools.Execute(ctx, "llm_route", params, ToolContext{WorkflowID: execCtx.WorkflowID})
	if err != nil {
		return nil, fmt.Errorf("router %q: %w: %v", block.ID, flowerrors.ErrToolExecutionFailed, err)
	}
	if !res.Success {
		return nil, fmt.Errorf("router %q: %w: %s", block.ID, flowerrors.ErrToolExecutionFailed, res.Error)
	}

	chosen, _ := res.Output["target"].(string)
	if chosen == "" {
		return nil, fmt.Errorf("router %q: %w: llm_route returned no target", block.ID, flowerrors.ErrInvalidRoutingDecision)
	}

	valid := false
	for _, s := range successors {
		if s.ID == chosen {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("router %q: %w: %q is not a direct successor", block.ID, flowerrors.ErrInvalidRoutingDecision, chosen)
	}

	out := make(map[string]any, len(inputs)+2)
	for k, v := range inputs {
		out[k] = v
	}
	out["target"] = chosen
	// selectedPath surfaces the router's decision in the run's aggregate
	// output, per spec.md §8 scenario 5.
	out["selectedPath"] = map[string]any{"blockId": chosen}

	return NewRouterResult(out, chosen), nil
}
