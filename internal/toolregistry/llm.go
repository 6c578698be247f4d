package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/rakunlabs/flowlane/internal/blocks"
)

// ProviderConfig names one configured LLM backend a router/llm_call tool
// may address, by key (e.g. "default", "fast"). Grounded on the teacher's
// internal/service/llm/* multi-provider setup, but delegated to
// tmc/langchaingo's unified llms.Model interface instead of the teacher's
// five hand-rolled provider clients — langchaingo was already present in
// the teacher's go.mod but unused by its retrieved source, so this wires it
// into a concrete spec.md §4.9 component rather than dropping it.
type ProviderConfig struct {
	Kind    string // "openai", "anthropic", "googleai", "ollama"
	Model   string
	APIKey  string
	BaseURL string
}

func (p ProviderConfig) build() (llms.Model, error) {
	switch strings.ToLower(p.Kind) {
	case "openai", "":
		opts := []openai.Option{openai.WithToken(p.APIKey)}
		if p.Model != "" {
			opts = append(opts, openai.WithModel(p.Model))
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		return openai.New(opts...)
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithToken(p.APIKey)}
		if p.Model != "" {
			opts = append(opts, anthropic.WithModel(p.Model))
		}
		return anthropic.New(opts...)
	case "googleai", "gemini":
		return googleai.New(context.Background(), googleai.WithAPIKey(p.APIKey), googleai.WithDefaultModel(p.Model))
	case "ollama":
		opts := []ollama.Option{}
		if p.Model != "" {
			opts = append(opts, ollama.WithModel(p.Model))
		}
		if p.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(p.BaseURL))
		}
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("llm: unknown provider kind %q", p.Kind)
	}
}

// ProviderLookup resolves a provider key (from a block's "provider"
// sub-block) to its configuration.
type ProviderLookup func(key string) (ProviderConfig, error)

// LLMCallTool calls a configured provider with a rendered prompt and
// returns its completion text; it is registered under the llm_call tool id.
type LLMCallTool struct {
	Lookup ProviderLookup
}

func (t LLMCallTool) Execute(ctx context.Context, params map[string]any, _ blocks.ToolContext) (blocks.ToolResult, error) {
	prompt, _ := params["prompt"].(string)
	if prompt == "" {
		return blocks.ToolResult{Success: false, Error: "llm_call: 'prompt' is required"}, nil
	}
	providerKey, _ := params["provider"].(string)
	if providerKey == "" {
		providerKey = "default"
	}

	cfg, err := t.Lookup(providerKey)
	if err != nil {
		return blocks.ToolResult{Success: false, Error: err.Error()}, nil
	}
	model, err := cfg.build()
	if err != nil {
		return blocks.ToolResult{}, fmt.Errorf("llm_call: %w", err)
	}

	completion, err := llms.GenerateFromSinglePrompt(ctx, model, prompt)
	if err != nil {
		return blocks.ToolResult{Success: false, Error: err.Error()}, nil
	}

	return blocks.ToolResult{Success: true, Output: map[string]any{"text": completion}}, nil
}

// LLMRouteTool asks a provider to pick one of a router block's candidate
// successors and return its id as strict JSON, consumed by
// blocks.routerHandler. Grounded on the teacher's nodes/llm-call.go
// provider-dispatch idea, generalized into a structured routing decision.
type LLMRouteTool struct {
	Lookup ProviderLookup
}

type routeDecision struct {
	Target string `json:"target"`
}

func (t LLMRouteTool) Execute(ctx context.Context, params map[string]any, _ blocks.ToolContext) (blocks.ToolResult, error) {
	prompt, _ := params["prompt"].(string)
	candidates, _ := params["candidates"].([]map[string]any)

	providerKey, _ := params["provider"].(string)
	if providerKey == "" {
		providerKey = "default"
	}
	cfg, err := t.Lookup(providerKey)
	if err != nil {
		return blocks.ToolResult{Success: false, Error: err.Error()}, nil
	}
	model, err := cfg.build()
	if err != nil {
		return blocks.ToolResult{}, fmt.Errorf("llm_route: %w", err)
	}

	candJSON, _ := json.Marshal(candidates)
	fullPrompt := fmt.Sprintf(
		"%s\n\nChoose exactly one candidate id from this list and reply with JSON only: {\"target\": \"<id>\"}.\nCandidates: %s",
		prompt, candJSON,
	)

	completion, err := llms.GenerateFromSinglePrompt(ctx, model, fullPrompt)
	if err != nil {
		return blocks.ToolResult{Success: false, Error: err.Error()}, nil
	}

	var decision routeDecision
	if err := json.Unmarshal([]byte(extractJSON(completion)), &decision); err != nil {
		return blocks.ToolResult{Success: false, Error: fmt.Sprintf("llm_route: could not parse decision: %v", err)}, nil
	}

	return blocks.ToolResult{Success: true, Output: map[string]any{"target": decision.Target}}, nil
}

// extractJSON trims leading/trailing prose a model may wrap its JSON
// answer in, taking the outermost {...} span.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
