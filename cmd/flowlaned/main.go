package main

import (
	"context"
	"fmt"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/flowlane/internal/blocks"
	"github.com/rakunlabs/flowlane/internal/config"
	"github.com/rakunlabs/flowlane/internal/crypto"
	"github.com/rakunlabs/flowlane/internal/graph"
	"github.com/rakunlabs/flowlane/internal/store"
	"github.com/rakunlabs/flowlane/internal/ticker"
	"github.com/rakunlabs/flowlane/internal/toolregistry"
)

var (
	name    = "flowlaned"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

// ///////////////////////////////////////////////////////////////////

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var encryptionKey []byte
	if cfg.Store.EncryptionKey != "" {
		encryptionKey, err = crypto.DeriveKey(cfg.Store.EncryptionKey)
		if err != nil {
			return fmt.Errorf("derive encryption key: %w", err)
		}
	}

	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("connect to store: %w", err)
	}
	defer st.Close()

	tools := newToolRegistry(cfg)

	loop := ticker.New(st, newBlockRegistry, tools, encryptionKey, ticker.Config{
		PollInterval: cfg.Scheduler.PollInterval,
		BatchSize:    cfg.Scheduler.BatchSize,
		RetryDelay:   cfg.Scheduler.RetryDelay,
	})
	loop.Run(ctx)

	return nil
}

// newToolRegistry wires every toolregistry.Tool flowlane's block kinds
// dispatch to by id, grounded on the teacher's cmd/at/main.go provider
// selection but generalized to a fixed set of named tools instead of one
// user-selected LLM provider.
func newToolRegistry(cfg *config.Config) *toolregistry.Registry {
	lookup := func(key string) (toolregistry.ProviderConfig, error) {
		p, ok := cfg.Providers[key]
		if !ok {
			return toolregistry.ProviderConfig{}, fmt.Errorf("no provider configured for key %q", key)
		}
		return toolregistry.ProviderConfig{
			Kind:    p.Kind,
			Model:   p.Model,
			APIKey:  p.APIKey,
			BaseURL: p.BaseURL,
		}, nil
	}

	r := toolregistry.New()
	r.Register("http_request", toolregistry.HTTPRequestTool{})
	r.Register("send_email", toolregistry.SendEmailTool{Config: toolregistry.SMTPConfig{
		Host:               cfg.SMTP.Host,
		Port:               cfg.SMTP.Port,
		Username:           cfg.SMTP.Username,
		Password:           cfg.SMTP.Password,
		From:               cfg.SMTP.From,
		TLS:                cfg.SMTP.TLS,
		InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
	}})
	r.Register("function_execute", toolregistry.FunctionExecuteTool{})
	r.Register("llm_call", toolregistry.LLMCallTool{Lookup: lookup})
	r.Register("llm_route", toolregistry.LLMRouteTool{Lookup: lookup})

	return r
}

// newBlockRegistry wires every blocks.Handler by block kind for one
// workflow graph. The loop/parallel handler is bound to that graph's
// subflow table, so ticker.Loop calls this once per dispatched run
// rather than sharing a single registry across workflows.
func newBlockRegistry(g *graph.Graph) *blocks.Registry {
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
