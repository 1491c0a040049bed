// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the triage configuration. Defaults ship
// embedded in the binary; a config file given on the command line overrides
// them, and a watcher can hot-reload the file while a triage service runs.
package config

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"
)

var configTracer = otel.Tracer("aleutian.triage")

// MaxYAMLFileSize caps config file reads. A triage config is a few hundred
// bytes; anything near this limit is a mistake, not a config.
const MaxYAMLFileSize = 1 << 20

// =============================================================================
// Embedded Default Configuration
// =============================================================================

//go:embed triage.yaml
var defaultTriageYAML []byte

// =============================================================================
// Configuration Types
// =============================================================================

// Config is the root triage configuration.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Config struct {
	Project   ProjectConfig   `yaml:"project"`
	Runner    RunnerConfig    `yaml:"runner"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Loops     LoopsConfig     `yaml:"loops"`
	Git       GitConfig       `yaml:"git"`
	Messaging MessagingConfig `yaml:"messaging"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Status    StatusConfig    `yaml:"status"`
}

// ProjectConfig identifies the project under triage.
type ProjectConfig struct {
	// Root is the project directory the test command runs in and all
	// relative file paths resolve against.
	Root string `yaml:"root" validate:"required"`
}

// RunnerConfig controls test execution.
type RunnerConfig struct {
	// Command is the shell command that runs the project's test suite.
	Command string `yaml:"command" validate:"required"`

	// TimeoutSeconds kills a run that exceeds this wall-clock budget.
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"min=1"`

	// LogDir is where run logs are written, relative to the project root
	// unless absolute.
	LogDir string `yaml:"log_dir" validate:"required"`
}

// OracleConfig controls the LLM backend.
type OracleConfig struct {
	// Provider selects the LLM backend: "gemini", "openai", or "anthropic".
	Provider string `yaml:"provider" validate:"oneof=gemini openai anthropic"`

	// Model is the model name sent to the provider.
	Model string `yaml:"model" validate:"required"`

	// BaseURL is the provider API root. Overridable for mock servers.
	BaseURL string `yaml:"base_url" validate:"required,url"`

	// MaxSessionTokens is the total token ceiling for one triage session
	// across both loops. 0 means unlimited.
	MaxSessionTokens int `yaml:"max_session_tokens" validate:"min=0"`

	// RequestsPerMinute rate-limits oracle calls. 0 means unlimited.
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"min=0"`

	// CacheDir enables the BadgerDB reply cache when non-empty.
	CacheDir string `yaml:"cache_dir"`

	// CacheTTLHours is the reply cache entry lifetime.
	CacheTTLHours int `yaml:"cache_ttl_hours" validate:"min=0"`
}

// LoopsConfig carries the per-session interaction budgets.
type LoopsConfig struct {
	// DiagnoseMaxSteps bounds the diagnostic conversation.
	DiagnoseMaxSteps int `yaml:"diagnose_max_steps" validate:"min=1"`

	// RepairMaxSteps bounds the repair conversation.
	RepairMaxSteps int `yaml:"repair_max_steps" validate:"min=1"`

	// ReadOutputLogBudget bounds read_output_log calls per diagnostic session.
	ReadOutputLogBudget int `yaml:"read_output_log_budget" validate:"min=0"`

	// ReadFileBudget bounds read_file calls per repair session.
	ReadFileBudget int `yaml:"read_file_budget" validate:"min=0"`

	// OracleQuestionBudget bounds ask_oracle calls per repair session.
	OracleQuestionBudget int `yaml:"oracle_question_budget" validate:"min=0"`

	// ContextCharLimit caps each gathered context entry and the serialized
	// context block embedded in prompts.
	ContextCharLimit int `yaml:"context_char_limit" validate:"min=1000"`
}

// GitConfig controls fix commits.
type GitConfig struct {
	// Enabled turns automatic commits of applied fixes on or off.
	Enabled bool `yaml:"enabled"`

	// BranchName is the working branch fixes are committed to.
	BranchName string `yaml:"branch_name" validate:"required"`
}

// MessagingConfig controls the human approval channel.
type MessagingConfig struct {
	// Mode selects the messenger: "telegram", "console", or "auto"
	// (telegram when credentials are present, console otherwise).
	Mode string `yaml:"mode" validate:"oneof=telegram console auto"`

	// PollTimeoutSeconds is the Telegram long-poll timeout.
	PollTimeoutSeconds int `yaml:"poll_timeout_seconds" validate:"min=1"`
}

// ArtifactsConfig controls hint/fix persistence.
type ArtifactsConfig struct {
	// Dir is where hint and fix artifacts are written, relative to the
	// project root unless absolute.
	Dir string `yaml:"dir" validate:"required"`

	// ArchiveBucket uploads artifacts to this GCS bucket when non-empty.
	ArchiveBucket string `yaml:"archive_bucket"`

	// CredentialsFile is an optional service account key for the archive
	// bucket. Empty means application default credentials.
	CredentialsFile string `yaml:"credentials_file"`
}

// StatusConfig controls the HTTP status surface.
type StatusConfig struct {
	// Port serves /v1/triage and /metrics when > 0. 0 disables the server.
	Port int `yaml:"port" validate:"min=0,max=65535"`
}

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultDiagnoseMaxSteps is the diagnostic conversation budget.
	DefaultDiagnoseMaxSteps = 9

	// DefaultRepairMaxSteps is the repair conversation budget.
	DefaultRepairMaxSteps = 7

	// DefaultReadOutputLogBudget is the per-session read_output_log budget.
	DefaultReadOutputLogBudget = 3

	// DefaultReadFileBudget is the per-session read_file budget.
	DefaultReadFileBudget = 2

	// DefaultOracleQuestionBudget is the per-session ask_oracle budget.
	DefaultOracleQuestionBudget = 3

	// DefaultContextCharLimit caps context entries and prompt context blocks.
	DefaultContextCharLimit = 20000

	// DefaultMaxSessionTokens is the session token ceiling.
	DefaultMaxSessionTokens = 250000
)

// applyDefaults fills zero-valued fields so a sparse config file stays valid.
func applyDefaults(cfg *Config) {
	if cfg.Runner.Command == "" {
		cfg.Runner.Command = "go test ./..."
	}
	if cfg.Runner.TimeoutSeconds <= 0 {
		cfg.Runner.TimeoutSeconds = 600
	}
	if cfg.Runner.LogDir == "" {
		cfg.Runner.LogDir = ".triage/logs"
	}
	if cfg.Oracle.Provider == "" {
		cfg.Oracle.Provider = "gemini"
	}
	if cfg.Oracle.Model == "" {
		cfg.Oracle.Model = "gemini-1.5-flash"
	}
	if cfg.Oracle.BaseURL == "" {
		cfg.Oracle.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Oracle.MaxSessionTokens == 0 {
		cfg.Oracle.MaxSessionTokens = DefaultMaxSessionTokens
	}
	if cfg.Oracle.RequestsPerMinute == 0 {
		cfg.Oracle.RequestsPerMinute = 15
	}
	if cfg.Oracle.CacheTTLHours <= 0 {
		cfg.Oracle.CacheTTLHours = 24
	}
	if cfg.Loops.DiagnoseMaxSteps <= 0 {
		cfg.Loops.DiagnoseMaxSteps = DefaultDiagnoseMaxSteps
	}
	if cfg.Loops.RepairMaxSteps <= 0 {
		cfg.Loops.RepairMaxSteps = DefaultRepairMaxSteps
	}
	if cfg.Loops.ReadOutputLogBudget <= 0 {
		cfg.Loops.ReadOutputLogBudget = DefaultReadOutputLogBudget
	}
	if cfg.Loops.ReadFileBudget <= 0 {
		cfg.Loops.ReadFileBudget = DefaultReadFileBudget
	}
	if cfg.Loops.OracleQuestionBudget <= 0 {
		cfg.Loops.OracleQuestionBudget = DefaultOracleQuestionBudget
	}
	if cfg.Loops.ContextCharLimit <= 0 {
		cfg.Loops.ContextCharLimit = DefaultContextCharLimit
	}
	if cfg.Git.BranchName == "" {
		cfg.Git.BranchName = "triage-fixes"
	}
	if cfg.Messaging.Mode == "" {
		cfg.Messaging.Mode = "auto"
	}
	if cfg.Messaging.PollTimeoutSeconds <= 0 {
		cfg.Messaging.PollTimeoutSeconds = 10
	}
	if cfg.Artifacts.Dir == "" {
		cfg.Artifacts.Dir = ".triage"
	}
}

// =============================================================================
// Loading
// =============================================================================

var (
	configMu      sync.RWMutex
	cachedConfig  *Config
	configLoadErr error
	configOnce    sync.Once

	// validate is shared; validator instances cache struct metadata.
	validate = validator.New(validator.WithRequiredStructEnabled())
)

// GetConfig returns the cached embedded-default configuration.
//
// Description:
//
//	Loads the embedded triage.yaml on first call and caches the result.
//	Commands that take a --config flag should use LoadConfigFile instead;
//	this accessor exists for paths that need defaults without a file.
//
// Thread Safety: Safe for concurrent use via sync.Once.
func GetConfig(ctx context.Context) (*Config, error) {
	if ctx == nil {
		return nil, fmt.Errorf("GetConfig: ctx must not be nil")
	}

	configMu.RLock()
	if cachedConfig != nil || configLoadErr != nil {
		cfg, err := cachedConfig, configLoadErr
		configMu.RUnlock()
		return cfg, err
	}
	configMu.RUnlock()

	configMu.Lock()
	defer configMu.Unlock()

	configOnce.Do(func() {
		cachedConfig, configLoadErr = LoadConfig(ctx, defaultTriageYAML)
	})

	return cachedConfig, configLoadErr
}

// ResetConfig resets the cached config for testing.
//
// Thread Safety: Safe for concurrent use.
func ResetConfig() {
	configMu.Lock()
	defer configMu.Unlock()
	cachedConfig = nil
	configLoadErr = nil
	configOnce = sync.Once{}
}

// LoadConfig loads and validates a Config from YAML bytes.
//
// Description:
//
//	Parses the YAML, applies defaults for missing fields, and validates
//	the result with struct tags. The project root is NOT defaulted: it
//	must come from the file or the command line.
//
// Inputs:
//   - ctx: Context for tracing.
//   - data: Raw YAML bytes to parse.
//
// Outputs:
//   - *Config: The validated configuration.
//   - error: Non-nil if parsing or validation fails.
func LoadConfig(ctx context.Context, data []byte) (*Config, error) {
	_, span := configTracer.Start(ctx, "config.LoadConfig")
	defer span.End()

	if len(data) == 0 {
		return nil, fmt.Errorf("LoadConfig: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadConfig: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("LoadConfig: parsing YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("LoadConfig: validation: %w", err)
	}

	span.SetAttributes(
		attribute.String("project_root", cfg.Project.Root),
		attribute.String("oracle_model", cfg.Oracle.Model),
		attribute.Int("diagnose_max_steps", cfg.Loops.DiagnoseMaxSteps),
		attribute.Int("repair_max_steps", cfg.Loops.RepairMaxSteps),
	)

	slog.Info("triage config loaded",
		slog.String("project_root", cfg.Project.Root),
		slog.String("runner_command", cfg.Runner.Command),
		slog.String("oracle_model", cfg.Oracle.Model),
		slog.Int("max_session_tokens", cfg.Oracle.MaxSessionTokens),
	)

	return &cfg, nil
}

// LoadConfigFile loads and validates a Config from a YAML file on disk.
//
// Inputs:
//   - ctx: Context for tracing.
//   - path: Path to the YAML config file.
//
// Outputs:
//   - *Config: The validated configuration.
//   - error: Non-nil if reading, parsing, or validation fails.
func LoadConfigFile(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadConfigFile: reading %s: %w", path, err)
	}
	cfg, err := LoadConfig(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("LoadConfigFile: %s: %w", path, err)
	}
	return cfg, nil
}
