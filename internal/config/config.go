// Package config assembles the explicit configuration structs the pipeline
// components take at construction. Values come from an optional config file
// plus EMPOWER_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig covers the HTTP surface.
type ServerConfig struct {
	Listen          string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// DatabaseConfig covers the relational store.
type DatabaseConfig struct {
	Type string // postgres, mysql or sqlite
	DSN  string
}

// ObjectStoreConfig covers the blob store shared by all pipeline stages.
type ObjectStoreConfig struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	InputBucket  string
	OutputBucket string
}

// FunctionsConfig names the external compute functions the pipeline invokes.
type FunctionsConfig struct {
	GatewayURL string
	Solver     string
	Merger     string
	RefDayGen  string
}

// PipelineConfig tunes dispatch, polling and reference-day generation.
type PipelineConfig struct {
	PoolCount        int           // precomputed reference-day pools available
	RefStart         string        // reference history range, YYYY-MM-DD
	RefEnd           string
	DispatchInterval time.Duration // pause between successive trials
	DispatchMaxWait  time.Duration // force Run failed if dispatch issuing exceeds this
}

// TasksConfig tunes the background task workers.
type TasksConfig struct {
	Concurrency  int
	PollInterval time.Duration
	ClaimTimeout time.Duration
	MaxRetries   int
}

// NotifyConfig covers the transactional-mail collaborator.
type NotifyConfig struct {
	Endpoint         string
	APIKey           string
	From             string
	FinishedTemplate string
	FailedTemplate   string
	Recipients       []string
}

// Config is the root configuration for empower-server.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	ObjectStore ObjectStoreConfig
	Functions   FunctionsConfig
	Pipeline    PipelineConfig
	Tasks       TasksConfig
	Notify      NotifyConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8088")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "empower.db")

	v.SetDefault("objectstore.use_ssl", true)
	v.SetDefault("objectstore.input_bucket", "empower-inputs")
	v.SetDefault("objectstore.output_bucket", "empower-outputs")

	v.SetDefault("functions.solver", "spot-price-solver")
	v.SetDefault("functions.merger", "spot-price-merger")
	v.SetDefault("functions.ref_day_gen", "spot-price-ref-day-gen")

	v.SetDefault("pipeline.pool_count", 50)
	v.SetDefault("pipeline.ref_start", "2017-01-01")
	v.SetDefault("pipeline.ref_end", "2019-07-31")
	v.SetDefault("pipeline.dispatch_interval", "60s")
	v.SetDefault("pipeline.dispatch_max_wait", "2h")

	v.SetDefault("tasks.concurrency", 3)
	v.SetDefault("tasks.poll_interval", "5s")
	v.SetDefault("tasks.claim_timeout", "30m")
	v.SetDefault("tasks.max_retries", 1)

	v.SetDefault("notify.finished_template", "simulation-finished")
	v.SetDefault("notify.failed_template", "simulation-failed")
}

// Load reads configuration from the given file (optional, "" to skip) and the
// environment. Environment keys are upper-cased with underscores, prefixed
// EMPOWER_, e.g. EMPOWER_DATABASE_DSN.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("EMPOWER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Listen:          v.GetString("server.listen"),
			AllowedOrigins:  v.GetStringSlice("server.allowed_origins"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			Type: v.GetString("database.type"),
			DSN:  v.GetString("database.dsn"),
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:     v.GetString("objectstore.endpoint"),
			AccessKey:    v.GetString("objectstore.access_key"),
			SecretKey:    v.GetString("objectstore.secret_key"),
			UseSSL:       v.GetBool("objectstore.use_ssl"),
			InputBucket:  v.GetString("objectstore.input_bucket"),
			OutputBucket: v.GetString("objectstore.output_bucket"),
		},
		Functions: FunctionsConfig{
			GatewayURL: v.GetString("functions.gateway_url"),
			Solver:     v.GetString("functions.solver"),
			Merger:     v.GetString("functions.merger"),
			RefDayGen:  v.GetString("functions.ref_day_gen"),
		},
		Pipeline: PipelineConfig{
			PoolCount:        v.GetInt("pipeline.pool_count"),
			RefStart:         v.GetString("pipeline.ref_start"),
			RefEnd:           v.GetString("pipeline.ref_end"),
			DispatchInterval: v.GetDuration("pipeline.dispatch_interval"),
			DispatchMaxWait:  v.GetDuration("pipeline.dispatch_max_wait"),
		},
		Tasks: TasksConfig{
			Concurrency:  v.GetInt("tasks.concurrency"),
			PollInterval: v.GetDuration("tasks.poll_interval"),
			ClaimTimeout: v.GetDuration("tasks.claim_timeout"),
			MaxRetries:   v.GetInt("tasks.max_retries"),
		},
		Notify: NotifyConfig{
			Endpoint:         v.GetString("notify.endpoint"),
			APIKey:           v.GetString("notify.api_key"),
			From:             v.GetString("notify.from"),
			FinishedTemplate: v.GetString("notify.finished_template"),
			FailedTemplate:   v.GetString("notify.failed_template"),
			Recipients:       v.GetStringSlice("notify.recipients"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Type {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unknown database type %q (expected postgres, mysql or sqlite)", c.Database.Type)
	}
	if c.Pipeline.PoolCount <= 0 {
		return fmt.Errorf("pipeline.pool_count must be positive, got %d", c.Pipeline.PoolCount)
	}
	return nil
}
