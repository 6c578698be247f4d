// Package config loads flowlaned's configuration via rakunlabs/chu
// struct-tag binding, grounded on the teacher's internal/config/config.go
// (cfg/default tags, loaderenv prefix, logi.SetLogLevel, tell telemetry),
// generalized from the teacher's gateway/server surface to flowlane's
// store/scheduler/tool-provider surface.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/rakunlabs/chu/loader/external/loaderconsul"
	_ "github.com/rakunlabs/chu/loader/external/loadervault"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/tell"
)

var Service = ""

type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	Store Store `cfg:"store"`

	// Providers is a map of named LLM backends the llm_route/llm_call
	// tools address by key (e.g. "default", "fast", "router").
	//
	// Example YAML:
	//
	//   providers:
	//     default:
	//       kind: openai
	//       api_key: "sk-..."
	//       model: "gpt-4o"
	//     router:
	//       kind: anthropic
	//       api_key: "sk-ant-..."
	//       model: "claude-haiku-4-5"
	Providers map[string]ProviderConfig `cfg:"providers"`

	// SMTP configures the send_email tool's outgoing mail server.
	SMTP SMTP `cfg:"smtp"`

	// Scheduler configures the schedule tick loop (spec.md §4.7).
	Scheduler Scheduler `cfg:"scheduler"`

	Telemetry tell.Config `cfg:"telemetry,noprefix"`
}

// Store selects and configures the persistence adapter. Exactly one of
// Postgres/SQLite should be set; neither set falls back to an in-memory
// store (internal/store.New's dispatch).
type Store struct {
	Postgres *StorePostgres `cfg:"postgres"`
	SQLite   *StoreSQLite   `cfg:"sqlite"`

	// EncryptionKey, if set, enables AES-256-GCM encryption of owner
	// environment variables at rest (spec.md §4.2). Any non-empty string
	// is derived into a 32-byte key; empty disables encryption.
	EncryptionKey string `cfg:"encryption_key" log:"-"`
}

type StorePostgres struct {
	TablePrefix     *string        `cfg:"table_prefix"`
	Datasource      string         `cfg:"datasource" log:"-"`
	Schema          string         `cfg:"schema"`
	ConnMaxLifetime *time.Duration `cfg:"conn_max_lifetime"`
	MaxIdleConns    *int           `cfg:"max_idle_conns"`
	MaxOpenConns    *int           `cfg:"max_open_conns"`

	Migrate Migrate `cfg:"migrate"`
}

type StoreSQLite struct {
	TablePrefix *string `cfg:"table_prefix"`
	Datasource  string  `cfg:"datasource"`

	Migrate Migrate `cfg:"migrate"`
}

type Migrate struct {
	Datasource string            `cfg:"datasource" log:"-"`
	Schema     string            `cfg:"schema"`
	Table      string            `cfg:"table"`
	Values     map[string]string `cfg:"values"`
}

// ProviderConfig describes one LLM backend for the llm_route/llm_call
// tools, consumed as a toolregistry.ProviderConfig.
type ProviderConfig struct {
	// Kind selects the langchaingo backend: "openai", "anthropic",
	// "googleai", or "ollama".
	Kind string `cfg:"kind"`

	APIKey  string `cfg:"api_key" log:"-"`
	Model   string `cfg:"model"`
	BaseURL string `cfg:"base_url"`
}

// SMTP configures the send_email tool's outgoing server, consumed as a
// toolregistry.SMTPConfig.
type SMTP struct {
	Host               string `cfg:"host"`
	Port               int    `cfg:"port" default:"587"`
	Username           string `cfg:"username"`
	Password           string `cfg:"password" log:"-"`
	From               string `cfg:"from"`
	TLS                bool   `cfg:"tls" default:"true"`
	InsecureSkipVerify bool   `cfg:"insecure_skip_verify"`
}

// Scheduler configures the schedule tick loop's poll cadence and batch
// size (spec.md §4.7).
type Scheduler struct {
	PollInterval time.Duration `cfg:"poll_interval" default:"10s"`
	BatchSize    int           `cfg:"batch_size" default:"10"`

	// RetryDelay is how long after a failed tick's start a schedule is next
	// due (NextDueAt = tick start + RetryDelay), per spec.md §4.7/§7's
	// retry-delay policy.
	RetryDelay time.Duration `cfg:"retry_delay" default:"1m"`
}

func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("FLOWLANE_")))); err != nil {
		return nil, err
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}
