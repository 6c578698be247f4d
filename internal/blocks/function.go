package blocks

import (
	"context"
	"fmt"

	"github.com/rakunlabs/flowlane/internal/flowerrors"
	"github.com/rakunlabs/flowlane/internal/graph"
)

// defaultFunctionTimeoutMS is function_execute's default timeout when the
// block's "timeout" sub-block is unset (spec.md §4.4).
const defaultFunctionTimeoutMS = 5000

// functionHandler delegates to toolRegistry.execute("function_execute", ...)
// per spec.md §4.4, grounded on the teacher's nodes/script.go scriptNode but
// routed through the same tool boundary every other block's external work
// goes through rather than running goja inline.
type functionHandler struct{}

// NewFunctionHandler returns the handler for function blocks.
func NewFunctionHandler() Handler { return functionHandler{} }

func (functionHandler) CanHandle(block graph.Block) bool {
	return graph.BlockType(block.Type) == graph.BlockFunction
}

func (functionHandler) Execute(ctx context.Context, block graph.Block, inputs map[string]any, execCtx *ExecContext) (Result, error) {
	code, _ := block.SubBlocks["code"].Value.(string)
	if code == "" {
		return nil, fmt.Errorf("function %q: 'code' sub-block is empty", block.ID)
	}

	timeout := defaultFunctionTimeoutMS
	if sb, ok := block.SubBlocks["timeout"]; ok {
		switch v := sb.Value.(type) {
		case int:
			timeout = v
		case float64:
			timeout = int(v)
		}
	}

	params := map[string]any{
		"code":             code,
		"timeout":          timeout,
		"envVars":          execCtx.EnvironmentVariables,
		"blockData":        inputs,
		"blockNameMapping": execCtx.BlockNameToID,
	}

	res, err := execCtx.Tools.Execute(ctx, "function_execute", params, ToolContext{WorkflowID: execCtx.WorkflowID})
	if err != nil {
		return nil, fmt.Errorf("function %q: %w: %v", block.ID, flowerrors.ErrToolExecutionFailed, err)
	}
	if !res.Success {
		return nil, fmt.Errorf("function %q: %w: %s", block.ID, flowerrors.ErrToolExecutionFailed, res.Error)
	}

	out := make(map[string]any, len(inputs)+len(res.Output))
	for k, v := range inputs {
		out[k] = v
	}
	for k, v := range res.Output {
		out[k] = v
	}

	return NewResult(out), nil
}
