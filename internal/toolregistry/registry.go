// Package toolregistry implements the external tool-dispatch boundary
// named in spec.md §1: "toolRegistry.execute(toolId, params, context) ->
// {success, output, error}". Each concrete tool is grounded on the
// teacher's corresponding internal/service/workflow/nodes/*.go node, pulled
// out from being one node-per-file into one tool-per-file behind a single
// dispatch table, since spec.md's tool boundary is a registry lookup by id
// rather than a compiled-in node type switch.
package toolregistry

import (
	"context"
	"fmt"
	"time"

	"github.com/rakunlabs/flowlane/internal/blocks"
)

// defaultToolTimeout bounds tool-internal JS execution (function_execute).
const defaultToolTimeout = 10 * time.Second

// Tool is one concrete integration the registry can dispatch to.
type Tool interface {
	Execute(ctx context.Context, params map[string]any, execCtx blocks.ToolContext) (blocks.ToolResult, error)
}

// ToolFunc adapts a plain function to the Tool interface.
type ToolFunc func(ctx context.Context, params map[string]any, execCtx blocks.ToolContext) (blocks.ToolResult, error)

func (f ToolFunc) Execute(ctx context.Context, params map[string]any, execCtx blocks.ToolContext) (blocks.ToolResult, error) {
	return f(ctx, params, execCtx)
}

// Registry dispatches by tool id. It implements blocks.ToolInvoker.
type Registry struct {
	tools map[string]Tool
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces the tool behind id.
func (r *Registry) Register(id string, t Tool) {
	r.tools[id] = t
}

// Execute implements blocks.ToolInvoker.
func (r *Registry) Execute(ctx context.Context, toolID string, params map[string]any, execCtx blocks.ToolContext) (blocks.ToolResult, error) {
	t, ok := r.tools[toolID]
	if !ok {
		return blocks.ToolResult{}, fmt.Errorf("toolregistry: no tool registered for id %q", toolID)
	}
	return t.Execute(ctx, params, execCtx)
}
