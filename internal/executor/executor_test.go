package executor

import (
	"context"
	"testing"

	"github.com/rakunlabs/flowlane/internal/blocks"
	"github.com/rakunlabs/flowlane/internal/graph"
	"github.com/rakunlabs/flowlane/internal/toolregistry"
)

func newRegistry(g *graph.Graph) *blocks.Registry {
	return blocks.NewRegistry(
		blocks.NewToolHandler(),
		blocks.NewStarterHandler(),
		blocks.NewFunctionHandler(),
		blocks.NewConditionHandler(),
		blocks.NewRouterHandler(),
		blocks.NewResponseHandler(),
		blocks.NewTriggerHandler(),
		blocks.NewLoopHandler(g.Subflows),
	)
}

// noopTools answers every tool call with an empty success, except
// function_execute, which it delegates to the real FunctionExecuteTool so
// that function-block tests still exercise a script's actual result.
type noopTools struct{}

func (noopTools) Execute(ctx context.Context, toolID string, params map[string]any, execCtx blocks.ToolContext) (blocks.ToolResult, error) {
	if toolID == "function_execute" {
		return toolregistry.FunctionExecuteTool{}.Execute(ctx, params, execCtx)
	}
	return blocks.ToolResult{Success: true, Output: map[string]any{}}, nil
}

func sb(v any) graph.SubBlock { return graph.SubBlock{Value: v} }

func TestRunLinearWorkflow(t *testing.T) {
	s := graph.Serialized{
		Blocks: map[string]graph.Block{
			"start": {ID: "start", Type: string(graph.BlockStarter), Enabled: true},
			"fn": {ID: "fn", Type: string(graph.BlockFunction), Enabled: true, SubBlocks: map[string]graph.SubBlock{
				"code": sb("return x + 1;"),
				"x":    sb("<start.x>"),
			}},
			"resp": {ID: "resp", Type: string(graph.BlockResponse), Enabled: true, SubBlocks: map[string]graph.SubBlock{
				"data": sb("<fn.result>"),
			}},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "start", Target: "fn"},
			{ID: "e2", Source: "fn", Target: "resp"},
		},
	}
	g, err := graph.Load(s)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	result, err := Run(context.Background(), g, newRegistry(g), noopTools{}, "wf1",
		map[string]any{"x": int64(41)}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatal("expected success")
	}
	response, ok := result.Output["response"].(map[string]any)
	if !ok {
		t.Fatalf("output response = %v, want a map", result.Output["response"])
	}
	if response["data"] != int64(42) {
		t.Fatalf("output response.data = %v, want 42", response["data"])
	}
}

func TestRunConditionNoElseFails(t *testing.T) {
	s := graph.Serialized{
		Blocks: map[string]graph.Block{
			"start": {ID: "start", Type: string(graph.BlockStarter), Enabled: true},
			"cond": {
				ID: "cond", Type: string(graph.BlockCondition), Enabled: true,
				SubBlocks: map[string]graph.SubBlock{
					"conditions": sb([]any{
						map[string]any{"id": "only", "title": "only", "value": "false"},
					}),
				},
			},
			"resp": {ID: "resp", Type: string(graph.BlockResponse), Enabled: true},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "start", Target: "cond"},
			{ID: "e2", Source: "cond", Target: "resp", SourceHandle: "condition-only"},
		},
	}
	g, err := graph.Load(s)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, err := Run(context.Background(), g, newRegistry(g), noopTools{}, "wf1", nil, nil); err == nil {
		t.Fatal("expected a no-matching-condition failure")
	}
}

func TestRunRouterRejectsNonSuccessorTarget(t *testing.T) {
	s := graph.Serialized{
		Blocks: map[string]graph.Block{
			"start":  {ID: "start", Type: string(graph.BlockStarter), Enabled: true},
			"router": {ID: "router", Type: string(graph.BlockRouter), Enabled: true},
			"a":      {ID: "a", Type: string(graph.BlockResponse), Enabled: true},
			"b":      {ID: "b", Type: string(graph.BlockResponse), Enabled: true},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "start", Target: "router"},
			{ID: "e2", Source: "router", Target: "a"},
			{ID: "e3", Source: "router", Target: "b"},
		},
	}
	g, err := graph.Load(s)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	badTools := fakeToolsFn(func(toolID string) (blocks.ToolResult, error) {
		if toolID == "llm_route" {
			return blocks.ToolResult{Success: true, Output: map[string]any{"target": "not-connected"}}, nil
		}
		return blocks.ToolResult{Success: true, Output: map[string]any{}}, nil
	})

	if _, err := Run(context.Background(), g, newRegistry(g), badTools, "wf1", nil, nil); err == nil {
		t.Fatal("expected an invalid-routing-decision failure")
	}
}

type fakeToolsFn func(toolID string) (blocks.ToolResult, error)

func (f fakeToolsFn) Execute(_ context.Context, toolID string, _ map[string]any, _ blocks.ToolContext) (blocks.ToolResult, error) {
	return f(toolID)
}

func TestRunLoopFixedCountAggregatesItems(t *testing.T) {
	s := graph.Serialized{
		Blocks: map[string]graph.Block{
			"start": {ID: "start", Type: string(graph.BlockStarter), Enabled: true},
			"loop":  {ID: "loop", Type: string(graph.BlockLoop), Enabled: true},
			"body":  {ID: "body", Type: string(graph.BlockFunction), Enabled: true, SubBlocks: map[string]graph.SubBlock{"code": sb("return 1;")}},
			"resp":  {ID: "resp", Type: string(graph.BlockResponse), Enabled: true},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "start", Target: "loop"},
			{ID: "e2", Source: "loop", Target: "body"},
			{ID: "e3", Source: "loop", Target: "resp"},
		},
		Loops: map[string]graph.RawFlow{
			"loop": {Nodes: []string{"body"}, IterationCount: 3, IterationType: "fixed"},
		},
	}
	g, err := graph.Load(s)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	result, err := Run(context.Background(), g, newRegistry(g), noopTools{}, "wf1", nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatal("expected success")
	}

	var loopItems []map[string]any
	for _, l := range result.BlockLogs {
		if l.BlockID == "loop" && l.Err == "" {
			loopItems, _ = l.Output["items"].([]map[string]any)
		}
	}
	if len(loopItems) != 3 {
		t.Fatalf("loop block aggregated %d items, want 3", len(loopItems))
	}
}
