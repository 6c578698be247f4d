package toolregistry

import (
	"context"
	"testing"

	"github.com/rakunlabs/flowlane/internal/blocks"
)

func TestRegistryDispatchUnknownTool(t *testing.T) {
	r := New()
	_, err := r.Execute(context.Background(), "does_not_exist", nil, blocks.ToolContext{})
	if err == nil {
		t.Fatal("expected an error for an unregistered tool id")
	}
}

func TestRegistryDispatchRegisteredTool(t *testing.T) {
	r := New()
	r.Register("echo", ToolFunc(func(_ context.Context, params map[string]any, _ blocks.ToolContext) (blocks.ToolResult, error) {
		return blocks.ToolResult{Success: true, Output: params}, nil
	}))

	res, err := r.Execute(context.Background(), "echo", map[string]any{"x": 1}, blocks.ToolContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.Output["x"] != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestFunctionExecuteTool(t *testing.T) {
	tool := FunctionExecuteTool{}
	res, err := tool.Execute(context.Background(), map[string]any{"code": "return 2 + 2;"}, blocks.ToolContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.Output["result"] != int64(4) {
		t.Fatalf("result = %v, want 4", res.Output["result"])
	}
}

func TestFunctionExecuteToolGetVarReadsEnvVars(t *testing.T) {
	tool := FunctionExecuteTool{}
	params := map[string]any{
		"code":    "return getVar('API_KEY');",
		"envVars": map[string]string{"API_KEY": "secret"},
	}
	res, err := tool.Execute(context.Background(), params, blocks.ToolContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.Output["result"] != "secret" {
		t.Fatalf("result = %v, want %q", res.Output["result"], "secret")
	}
}

func TestHTTPRequestToolRequiresURL(t *testing.T) {
	tool := HTTPRequestTool{}
	res, err := tool.Execute(context.Background(), map[string]any{}, blocks.ToolContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure without a url")
	}
}

func TestSendEmailToolRequiresFields(t *testing.T) {
	tool := SendEmailTool{}
	res, err := tool.Execute(context.Background(), map[string]any{"to": "a@example.com"}, blocks.ToolContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure without subject/body")
	}
}
