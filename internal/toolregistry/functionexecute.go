package toolregistry

import (
	"context"
	"fmt"
	"time"

	"github.com/rakunlabs/flowlane/internal/blocks"
	"github.com/rakunlabs/flowlane/internal/jsvm"
)

// FunctionExecuteTool runs an arbitrary JS snippet via goja — the tool
// spec.md §4.4 names as the function block's delegate
// ("toolRegistry.execute(\"function_execute\", {code, timeout, envVars,
// blockData, blockNameMapping})"), also reachable from generic tool blocks
// that name it directly (e.g. a loop body step). Grounded on the teacher's
// nodes/script.go.
type FunctionExecuteTool struct{}

func (t FunctionExecuteTool) Execute(_ context.Context, params map[string]any, _ blocks.ToolContext) (blocks.ToolResult, error) {
	code, _ := params["code"].(string)
	if code == "" {
		return blocks.ToolResult{Success: false, Error: "function_execute: 'code' is required"}, nil
	}

	blockData, _ := params["blockData"].(map[string]any)

	var lookup jsvm.VarLookup
	if envVars, ok := params["envVars"].(map[string]string); ok {
		lookup = jsvm.LookupFromEnvironment(envVars)
	}

	vm, err := jsvm.New(blockData, lookup)
	if err != nil {
		return blocks.ToolResult{}, fmt.Errorf("function_execute: %w", err)
	}

	if mapping, ok := params["blockNameMapping"].(map[string]string); ok {
		if err := vm.Set("blockNameMapping", mapping); err != nil {
			return blocks.ToolResult{}, fmt.Errorf("function_execute: set blockNameMapping: %w", err)
		}
	}

	val, err := jsvm.RunWithTimeout(vm, "(function(){"+code+"})()", timeoutOf(params))
	if err != nil {
		return blocks.ToolResult{Success: false, Error: err.Error()}, nil
	}

	return blocks.ToolResult{Success: true, Output: map[string]any{"result": val.Export()}}, nil
}

// timeoutOf reads params["timeout"] (milliseconds, per spec.md §4.4),
// falling back to defaultToolTimeout when absent or non-positive.
func timeoutOf(params map[string]any) time.Duration {
	switch v := params["timeout"].(type) {
	case int:
		if v > 0 {
			return time.Duration(v) * time.Millisecond
		}
	case float64:
		if v > 0 {
			return time.Duration(v) * time.Millisecond
		}
	}
	return defaultToolTimeout
}
