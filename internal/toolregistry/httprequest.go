package toolregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/worldline-go/klient"

	"github.com/rakunlabs/flowlane/internal/blocks"
)

// HTTPRequestTool makes an HTTP call and returns the parsed response,
// grounded on the teacher's nodes/http-request.go httpRequestNode, using
// the same worldline-go/klient client. Unlike the node, it takes its
// url/method/headers/body already resolved by the executor's reference
// resolver rather than rendering its own text/template layer, since
// spec.md's resolver is the single substitution mechanism (spec.md §9).
type HTTPRequestTool struct{}

func (HTTPRequestTool) Execute(ctx context.Context, params map[string]any, _ blocks.ToolContext) (blocks.ToolResult, error) {
	url, _ := params["url"].(string)
	if url == "" {
		return blocks.ToolResult{Success: false, Error: "http_request: 'url' is required"}, nil
	}
	method, _ := params["method"].(string)
	if method == "" {
		method = "GET"
	}
	method = strings.ToUpper(method)

	timeoutSeconds := 30.0
	if t, ok := params["timeout"].(float64); ok && t > 0 {
		timeoutSeconds = t
	}
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds*float64(time.Second)))
	defer cancel()

	var body io.Reader
	if b, ok := params["body"]; ok && b != nil {
		switch v := b.(type) {
		case string:
			body = strings.NewReader(v)
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				return blocks.ToolResult{}, fmt.Errorf("http_request: marshal body: %w", err)
			}
			body = bytes.NewReader(raw)
		}
	}

	req, err := http.NewRequestWithContext(reqCtx, method, url, body)
	if err != nil {
		return blocks.ToolResult{}, fmt.Errorf("http_request: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := params["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	client, err := klient.New(
		klient.WithDisableBaseURLCheck(true),
		klient.WithDisableEnvValues(true),
	)
	if err != nil {
		return blocks.ToolResult{}, fmt.Errorf("http_request: build client: %w", err)
	}

	resp, err := client.HTTP.Do(req)
	if err != nil {
		return blocks.ToolResult{Success: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return blocks.ToolResult{}, fmt.Errorf("http_request: read response: %w", err)
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		parsed = string(raw)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return blocks.ToolResult{
		Success: resp.StatusCode < 400,
		Output: map[string]any{
			"response":    parsed,
			"status_code": resp.StatusCode,
			"headers":     headers,
		},
	}, nil
}
