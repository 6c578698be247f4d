package blocks

import (
	"context"
	"testing"

	"github.com/rakunlabs/flowlane/internal/graph"
)

func sb(v any) graph.SubBlock { return graph.SubBlock{Type: "string", Value: v} }

func TestStarterHandlerPassesInitialInput(t *testing.T) {
	h := NewStarterHandler()
	block := graph.Block{ID: "b1", Type: string(graph.BlockStarter)}
	execCtx := &ExecContext{InitialInput: map[string]any{"x": float64(1)}}

	res, err := h.Execute(context.Background(), block, nil, execCtx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Data()["x"] != float64(1) {
		t.Fatalf("expected passthrough of initial input, got %v", res.Data())
	}
}

func TestFunctionHandlerDelegatesToFunctionExecuteTool(t *testing.T) {
	h := NewFunctionHandler()
	block := graph.Block{
		ID:   "f1",
		Type: string(graph.BlockFunction),
		SubBlocks: map[string]graph.SubBlock{
			"code": sb("return data + 1;"),
		},
	}

	capturing := &capturingTools{fakeTools: fakeTools{success: true, output: map[string]any{"result": int64(42)}}}
	execCtx := &ExecContext{Tools: capturing, EnvironmentVariables: map[string]string{"X": "y"}}

	res, err := h.Execute(context.Background(), block, map[string]any{"data": int64(41)}, execCtx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Data()["result"] != int64(42) {
		t.Fatalf("result = %v, want 42", res.Data()["result"])
	}
	if capturing.toolID != "function_execute" {
		t.Fatalf("toolID = %q, want function_execute", capturing.toolID)
	}
	if capturing.params["code"] != "return data + 1;" {
		t.Fatalf("params[code] = %v, want the block's code", capturing.params["code"])
	}
	if _, ok := capturing.params["envVars"].(map[string]string); !ok {
		t.Fatal("expected envVars to be threaded through as params")
	}
}

func TestConditionHandlerFirstMatchWins(t *testing.T) {
	h := NewConditionHandler()
	block := graph.Block{
		ID:   "c1",
		Type: string(graph.BlockCondition),
		SubBlocks: map[string]graph.SubBlock{
			"conditions": sb([]any{
				map[string]any{"id": "low", "title": "low", "value": "data < 10"},
				map[string]any{"id": "high", "title": "high", "value": "data >= 10"},
				map[string]any{"id": "any", "title": "any", "value": "data > 0"},
			}),
		},
	}

	res, err := h.Execute(context.Background(), block, map[string]any{"data": int64(50)}, &ExecContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	cr, ok := res.(ConditionResult)
	if !ok {
		t.Fatalf("expected a ConditionResult, got %T", res)
	}
	if cr.ConditionID() != "high" {
		t.Fatalf("ConditionID() = %q, want %q", cr.ConditionID(), "high")
	}
}

func TestConditionHandlerNoMatch(t *testing.T) {
	h := NewConditionHandler()
	block := graph.Block{
		ID:   "c1",
		Type: string(graph.BlockCondition),
		SubBlocks: map[string]graph.SubBlock{
			"conditions": sb([]any{
				map[string]any{"id": "only", "title": "only", "value": "false"},
			}),
		},
	}

	if _, err := h.Execute(context.Background(), block, nil, &ExecContext{}); err == nil {
		t.Fatal("expected an error when no condition matches")
	}
}

func TestRouterHandlerRejectsNonSuccessor(t *testing.T) {
	h := NewRouterHandler()
	block := graph.Block{ID: "r1", Type: string(graph.BlockRouter)}

	execCtx := &ExecContext{
		SuccessorsOf: func(string) []Successor {
			return []Successor{{ID: "ok-target", Name: "ok"}}
		},
		Tools: fakeTools{output: map[string]any{"target": "not-a-successor"}, success: true},
	}

	if _, err := h.Execute(context.Background(), block, nil, execCtx); err == nil {
		t.Fatal("expected an error when llm_route names a non-successor")
	}
}

func TestRouterHandlerAcceptsDirectSuccessor(t *testing.T) {
	h := NewRouterHandler()
	block := graph.Block{ID: "r1", Type: string(graph.BlockRouter)}

	execCtx := &ExecContext{
		SuccessorsOf: func(string) []Successor {
			return []Successor{{ID: "ok-target", Name: "ok"}}
		},
		Tools: fakeTools{output: map[string]any{"target": "ok-target"}, success: true},
	}

	res, err := h.Execute(context.Background(), block, nil, execCtx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	rr := res.(RouterResult)
	if rr.Target() != "ok-target" {
		t.Fatalf("Target() = %q, want %q", rr.Target(), "ok-target")
	}
}

func TestLoopHandlerFixedCount(t *testing.T) {
	sf := &graph.Subflow{ID: "l1", Type: graph.SubflowLoop, IterationType: graph.IterationFixed, IterationCount: 3}
	h := NewLoopHandler(map[string]*graph.Subflow{"l1": sf})
	block := graph.Block{ID: "l1", Type: string(graph.BlockLoop)}

	res, err := h.Execute(context.Background(), block, nil, &ExecContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	fo := res.(FanOutResult)
	if len(fo.Items()) != 3 {
		t.Fatalf("got %d items, want 3", len(fo.Items()))
	}
}

func TestLoopHandlerCollection(t *testing.T) {
	sf := &graph.Subflow{ID: "l1", Type: graph.SubflowLoop, IterationType: graph.IterationCollection, Collection: "items"}
	h := NewLoopHandler(map[string]*graph.Subflow{"l1": sf})
	block := graph.Block{ID: "l1", Type: string(graph.BlockLoop)}

	inputs := map[string]any{"items": []any{"a", "b"}}
	res, err := h.Execute(context.Background(), block, inputs, &ExecContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	fo := res.(FanOutResult)
	if len(fo.Items()) != 2 {
		t.Fatalf("got %d items, want 2", len(fo.Items()))
	}
	if fo.Items()[1]["item"] != "b" {
		t.Fatalf("item[1] = %v, want %q", fo.Items()[1]["item"], "b")
	}
}

type fakeTools struct {
	output  map[string]any
	success bool
	err     string
}

func (f fakeTools) Execute(_ context.Context, _ string, _ map[string]any, _ ToolContext) (ToolResult, error) {
	return ToolResult{Success: f.success, Output: f.output, Error: f.err}, nil
}

// capturingTools wraps fakeTools and records the last dispatched call, so
// tests can assert what a handler sent to the tool registry.
type capturingTools struct {
	fakeTools
	toolID string
	params map[string]any
}

func (c *capturingTools) Execute(ctx context.Context, toolID string, params map[string]any, execCtx ToolContext) (ToolResult, error) {
	c.toolID = toolID
	c.params = params
	return c.fakeTools.Execute(ctx, toolID, params, execCtx)
}
