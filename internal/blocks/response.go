package blocks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rakunlabs/flowlane/internal/graph"
)

// responseHandler builds the workflow's final {response: {data, status,
// headers}} envelope, mirroring the teacher's nodes/output.go outputNode
// but generalized to spec.md §4.4's dataMode/status/headers contract. A run
// may have more than one reachable response block; the executor records
// each one it executes and the caller sees all of them.
type responseHandler struct{}

// NewResponseHandler returns the handler for response blocks.
func NewResponseHandler() Handler { return responseHandler{} }

func (responseHandler) CanHandle(block graph.Block) bool {
	return graph.BlockType(block.Type) == graph.BlockResponse
}

// Execute never fails: any internal error (e.g. malformed JSON in a "json"
// dataMode) is captured as a 500 response instead of propagating, per
// spec.md §4.4's "never fails non-fatally" rule.
func (responseHandler) Execute(_ context.Context, _ graph.Block, inputs map[string]any, _ *ExecContext) (Result, error) {
	headers := responseHeaders(inputs)

	data, err := responseData(inputs)
	if err != nil {
		return NewResult(map[string]any{
			"response": map[string]any{
				"data":    map[string]any{"error": "internal_error", "message": err.Error()},
				"status":  500,
				"headers": headers,
			},
		}), nil
	}

	return NewResult(map[string]any{
		"response": map[string]any{
			"data":    data,
			"status":  responseStatus(inputs),
			"headers": headers,
		},
	}), nil
}

// responseStatus defaults to 200 and clamps to [100, 599] per spec.md §4.4.
func responseStatus(inputs map[string]any) int {
	status := 200
	switch v := inputs["status"].(type) {
	case int:
		status = v
	case int64:
		status = int(v)
	case float64:
		status = int(v)
	}
	switch {
	case status < 100:
		return 100
	case status > 599:
		return 599
	default:
		return status
	}
}

// responseHeaders passes the configured ordered header pairs through
// unchanged; an absent or malformed value becomes an empty list rather than
// failing the response.
func responseHeaders(inputs map[string]any) []any {
	if h, ok := inputs["headers"].([]any); ok {
		return h
	}
	return []any{}
}

// responseData returns data unchanged for dataMode "structured", and
// parses it as JSON for dataMode "json" (spec.md §4.4).
func responseData(inputs map[string]any) (any, error) {
	raw := inputs["data"]
	if mode, _ := inputs["dataMode"].(string); mode != "json" {
		return raw, nil
	}

	s, ok := raw.(string)
	if !ok {
		return raw, nil
	}

	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return nil, fmt.Errorf("parse json data: %w", err)
	}
	return parsed, nil
}
