// Package blocks implements the per-block-kind handlers described in
// spec.md §4.4, one file per kind, grounded on the teacher's
// internal/service/workflow/nodes/*.go node implementations. Where the
// teacher returned a NodeResult/NodeResultSelection/NodeResultFanOut, this
// package returns the equivalent Result/RouterResult/ConditionResult/
// FanOutResult so the executor and path tracker can inspect the outcome by
// type assertion ("return-type routing").
package blocks

import (
	"context"

	"github.com/rakunlabs/flowlane/internal/graph"
)

// ExecContext is the subset of the executor's execution context a handler
// needs. It is a narrow view of the executor's per-run state, defined here
// to avoid an import cycle between blocks and executor.
type ExecContext struct {
	WorkflowID           string
	RunID                string
	InitialInput         map[string]any
	EnvironmentVariables map[string]string
	LoopItem             any
	LoopIndex            int
	Tools                ToolInvoker
	// SuccessorsOf returns the direct successor blocks of blockID, used by
	// the router handler to validate an LLM-chosen target (spec.md §4.4:
	// a router's decision must name a direct successor).
	SuccessorsOf func(blockID string) []Successor
	// BlockNameToID maps each uniquely-named block to its id, passed
	// through to function_execute as blockNameMapping (spec.md §4.4).
	BlockNameToID map[string]string
}

// Successor names one direct successor block a router may choose among.
type Successor struct {
	ID   string
	Name string
}

// ToolInvoker is the external tool dispatch boundary from spec.md §1:
// "toolRegistry.execute(toolId, params, context) -> {success, output, error}".
type ToolInvoker interface {
	Execute(ctx context.Context, toolID string, params map[string]any, execCtx ToolContext) (ToolResult, error)
}

// ToolContext is passed through to the tool registry (spec.md §1).
type ToolContext struct {
	WorkflowID string
}

// ToolResult is the boundary's {success, output, error} shape.
type ToolResult struct {
	Success bool
	Output  map[string]any
	Error   string
}

// Result is the base output every handler returns (spec.md §9: "tagged sum
// type BlockOutput ... with a uniform Value at the leaves").
type Result interface {
	Data() map[string]any
}

// RouterResult additionally names the chosen direct-successor block id
// (spec.md §4.4 router rule).
type RouterResult interface {
	Result
	Target() string
}

// ConditionResult additionally names the chosen condition id, which the
// path tracker turns into a "condition-<id>" sourceHandle lookup.
type ConditionResult interface {
	Result
	ConditionID() string
}

// FanOutResult is returned by loop/parallel subflow entries: each item
// spawns an isolated downstream iteration frame (spec.md §4.4, §5).
type FanOutResult interface {
	Result
	Items() []map[string]any
	Parallel() bool
}

type plainResult struct{ data map[string]any }

func (r plainResult) Data() map[string]any { return r.data }

// NewResult wraps data as a plain Result.
func NewResult(data map[string]any) Result { return plainResult{data: data} }

type routerResult struct {
	plainResult
	target string
}

func (r routerResult) Target() string { return r.target }

// NewRouterResult wraps data with the chosen target block id.
func NewRouterResult(data map[string]any, target string) RouterResult {
	return routerResult{plainResult{data: data}, target}
}

type conditionResult struct {
	plainResult
	conditionID string
}

func (r conditionResult) ConditionID() string { return r.conditionID }

// NewConditionResult wraps data with the chosen condition id.
func NewConditionResult(data map[string]any, conditionID string) ConditionResult {
	return conditionResult{plainResult{data: data}, conditionID}
}

type fanOutResult struct {
	plainResult
	items    []map[string]any
	parallel bool
}

func (r fanOutResult) Items() []map[string]any { return r.items }
func (r fanOutResult) Parallel() bool          { return r.parallel }

// NewFanOutResult wraps a set of per-iteration data maps. parallel selects
// concurrent dispatch vs. sequential loop semantics (spec.md §4.4, §5).
func NewFanOutResult(items []map[string]any, parallel bool) FanOutResult {
	return fanOutResult{plainResult{data: map[string]any{}}, items, parallel}
}

// Handler is the contract every block kind implements (spec.md §4.4).
type Handler interface {
	CanHandle(block graph.Block) bool
	Execute(ctx context.Context, block graph.Block, inputs map[string]any, execCtx *ExecContext) (Result, error)
}

// Registry dispatches a block to its handler by type, falling back to the
// generic tool/agent handler for any type name not otherwise registered
// (spec.md §4.4: "generic tool types").
type Registry struct {
	handlers []Handler
	fallback Handler
}

// NewRegistry builds a handler registry. fallback handles any block type
// with no dedicated handler — normally the generic tool/agent dispatcher.
func NewRegistry(fallback Handler, handlers ...Handler) *Registry {
	return &Registry{handlers: handlers, fallback: fallback}
}

// For returns the handler responsible for block, or the fallback.
func (r *Registry) For(block graph.Block) Handler {
	for _, h := range r.handlers {
		if h.CanHandle(block) {
			return h
		}
	}
	return r.fallback
}
