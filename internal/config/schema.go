// Package config handles YAML configuration loading, environment variable
// expansion, defaults and structural validation for skillgate.
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "store.sqlite").
	Modules map[string]yaml.Node `yaml:"modules"`

	Log       LogConfig       `yaml:"log"`
	Security  SecurityConfig  `yaml:"security"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Audit     AuditConfig     `yaml:"audit"`
	Sources   SourcesConfig   `yaml:"sources"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// SecurityConfig holds gate-wide policy settings.
type SecurityConfig struct {
	RateLimits RateLimitsConfig `yaml:"rate_limits"`
	Input      InputConfig      `yaml:"input"`

	// RedactPatterns are extra regular expressions scrubbed from logs and
	// audit records, in addition to the built-in API key patterns.
	RedactPatterns []string `yaml:"redact_patterns,omitempty"`
}

// RateLimitsConfig configures the global bucket. Capability and server
// limits live on their own records.
type RateLimitsConfig struct {
	GlobalPerMinute int           `yaml:"global_per_minute"`
	IdleTTL         time.Duration `yaml:"idle_ttl"`
}

// InputConfig bounds invocation payloads.
type InputConfig struct {
	MaxBytes int `yaml:"max_bytes"`
	MaxDepth int `yaml:"max_depth"`
}

// ExecutorConfig bounds dispatch.
type ExecutorConfig struct {
	DefaultTimeout      time.Duration `yaml:"default_timeout"`
	OutputLimit         int           `yaml:"output_limit"`
	TemplateOutputLimit int           `yaml:"template_output_limit"`
	UserAgent           string        `yaml:"user_agent"`

	// AgentInboxURL receives the instruction payload of scheduled tasks
	// targeting the built-in agent_instruction handler. Empty disables it.
	AgentInboxURL string `yaml:"agent_inbox_url,omitempty"`
}

// AuditConfig configures the audit pipeline.
type AuditConfig struct {
	MaxInputBytes  int `yaml:"max_input_bytes"`
	MaxOutputBytes int `yaml:"max_output_bytes"`
	MaxErrorBytes  int `yaml:"max_error_bytes"`

	// JSONLPath mirrors every record as one JSON line. Empty disables the mirror.
	JSONLPath string `yaml:"jsonl_path,omitempty"`

	SummarizeSchedule string `yaml:"summarize_schedule"`
	RetentionSchedule string `yaml:"retention_schedule"`
	RetentionDays     int    `yaml:"retention_days"`
	RetentionBatch    int    `yaml:"retention_batch"`
}

// SourcesConfig configures external tool servers.
type SourcesConfig struct {
	ProbeSchedule string        `yaml:"probe_schedule"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`

	// Servers are registered on start-up if no server with the same name
	// exists yet. Like servers added through the API, they start unapproved.
	Servers []ServerEntry `yaml:"servers,omitempty"`
}

// ServerEntry seeds an external tool server.
type ServerEntry struct {
	Name               string            `yaml:"name"`
	URL                string            `yaml:"url,omitempty"`
	Command            string            `yaml:"command,omitempty"`
	Args               []string          `yaml:"args,omitempty"`
	Env                map[string]string `yaml:"env,omitempty"`
	RateLimitPerMinute int               `yaml:"rate_limit_per_minute"`
}

// SchedulerConfig configures recurring tasks.
type SchedulerConfig struct {
	// TimeZone is the IANA zone recurrence times are interpreted in.
	TimeZone     string `yaml:"time_zone"`
	PollSchedule string `yaml:"poll_schedule"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig configures the OTLP/HTTP span exporter.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

func (c *Config) defaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Security.RateLimits.IdleTTL == 0 {
		c.Security.RateLimits.IdleTTL = time.Hour
	}
	if c.Security.Input.MaxBytes == 0 {
		c.Security.Input.MaxBytes = 1 << 20
	}
	if c.Security.Input.MaxDepth == 0 {
		c.Security.Input.MaxDepth = 32
	}
	if c.Executor.DefaultTimeout == 0 {
		c.Executor.DefaultTimeout = 10 * time.Second
	}
	if c.Executor.OutputLimit == 0 {
		c.Executor.OutputLimit = 50_000
	}
	if c.Executor.TemplateOutputLimit == 0 {
		c.Executor.TemplateOutputLimit = 10_000
	}
	if c.Executor.UserAgent == "" {
		c.Executor.UserAgent = "skillgate"
	}
	if c.Audit.MaxInputBytes == 0 {
		c.Audit.MaxInputBytes = 8 << 10
	}
	if c.Audit.MaxOutputBytes == 0 {
		c.Audit.MaxOutputBytes = 16 << 10
	}
	if c.Audit.MaxErrorBytes == 0 {
		c.Audit.MaxErrorBytes = 2 << 10
	}
	if c.Audit.SummarizeSchedule == "" {
		c.Audit.SummarizeSchedule = "*/5 * * * *"
	}
	if c.Audit.RetentionSchedule == "" {
		c.Audit.RetentionSchedule = "17 3 * * *"
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 30
	}
	if c.Audit.RetentionBatch == 0 {
		c.Audit.RetentionBatch = 500
	}
	if c.Sources.ProbeSchedule == "" {
		c.Sources.ProbeSchedule = "*/5 * * * *"
	}
	if c.Sources.ProbeTimeout == 0 {
		c.Sources.ProbeTimeout = 15 * time.Second
	}
	if c.Scheduler.TimeZone == "" {
		c.Scheduler.TimeZone = "UTC"
	}
	if c.Scheduler.PollSchedule == "" {
		c.Scheduler.PollSchedule = "* * * * *"
	}
	if c.Telemetry.Tracing.ServiceName == "" {
		c.Telemetry.Tracing.ServiceName = "skillgate"
	}
}
