package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flemzord/skillgate/internal/core"
)

// RequiredModules must appear under modules: in every configuration.
var RequiredModules = []string{"store.sqlite"}

// cronParser accepts the same five-field expressions as the job scheduler.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks the structural validity of a Config.
// It verifies the version field, checks that all referenced module IDs
// exist in the registry and that required modules are configured, then
// validates each top-level section. Every problem is reported.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	for id := range cfg.Modules {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
		}
	}

	for _, id := range RequiredModules {
		if _, ok := cfg.Modules[id]; !ok {
			errs = append(errs, fmt.Errorf("config: module %q is required", id))
		}
	}

	errs = append(errs, validateLog(cfg.Log)...)
	errs = append(errs, validateSecurity(cfg.Security)...)
	errs = append(errs, validateExecutor(cfg.Executor)...)
	errs = append(errs, validateAudit(cfg.Audit)...)
	errs = append(errs, validateSources(cfg.Sources)...)
	errs = append(errs, validateScheduler(cfg.Scheduler)...)
	errs = append(errs, validateTelemetry(cfg.Telemetry)...)

	return errors.Join(errs...)
}

func validateLog(l LogConfig) []error {
	var errs []error
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: log.level %q is not one of debug, info, warn, error", l.Level))
	}
	switch strings.ToLower(l.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: log.format %q is not one of text, json", l.Format))
	}
	return errs
}

func validateSecurity(sec SecurityConfig) []error {
	var errs []error
	if sec.RateLimits.GlobalPerMinute < 0 {
		errs = append(errs, errors.New("config: security.rate_limits.global_per_minute must be >= 0"))
	}
	if sec.Input.MaxBytes < 0 || sec.Input.MaxDepth < 0 {
		errs = append(errs, errors.New("config: security.input limits must be >= 0"))
	}
	for i, p := range sec.RedactPatterns {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("config: security.redact_patterns[%d]: %w", i, err))
		}
	}
	return errs
}

func validateExecutor(ex ExecutorConfig) []error {
	var errs []error
	if ex.DefaultTimeout < 0 {
		errs = append(errs, errors.New("config: executor.default_timeout must be positive"))
	}
	if ex.OutputLimit < 0 || ex.TemplateOutputLimit < 0 {
		errs = append(errs, errors.New("config: executor output limits must be positive"))
	}
	if ex.AgentInboxURL != "" {
		if err := validateHTTPURL(ex.AgentInboxURL); err != nil {
			errs = append(errs, fmt.Errorf("config: executor.agent_inbox_url: %w", err))
		}
	}
	return errs
}

func validateAudit(a AuditConfig) []error {
	var errs []error
	if a.RetentionDays < 0 {
		errs = append(errs, errors.New("config: audit.retention_days must be >= 0"))
	}
	if a.RetentionBatch < 0 {
		errs = append(errs, errors.New("config: audit.retention_batch must be >= 0"))
	}
	if err := validateCron(a.SummarizeSchedule); err != nil {
		errs = append(errs, fmt.Errorf("config: audit.summarize_schedule: %w", err))
	}
	if err := validateCron(a.RetentionSchedule); err != nil {
		errs = append(errs, fmt.Errorf("config: audit.retention_schedule: %w", err))
	}
	return errs
}

func validateSources(s SourcesConfig) []error {
	var errs []error
	if err := validateCron(s.ProbeSchedule); err != nil {
		errs = append(errs, fmt.Errorf("config: sources.probe_schedule: %w", err))
	}
	if s.ProbeTimeout < 0 {
		errs = append(errs, errors.New("config: sources.probe_timeout must be positive"))
	}

	seen := make(map[string]struct{}, len(s.Servers))
	for i, srv := range s.Servers {
		prefix := fmt.Sprintf("config: sources.servers[%d]", i)
		switch {
		case srv.Name == "":
			errs = append(errs, fmt.Errorf("%s: name is required", prefix))
		case strings.Contains(srv.Name, "__"):
			errs = append(errs, fmt.Errorf("%s: name %q must not contain \"__\"", prefix, srv.Name))
		default:
			if _, dup := seen[srv.Name]; dup {
				errs = append(errs, fmt.Errorf("%s: duplicate name %q", prefix, srv.Name))
			}
			seen[srv.Name] = struct{}{}
		}
		if (srv.URL == "") == (srv.Command == "") {
			errs = append(errs, fmt.Errorf("%s: exactly one of url or command is required", prefix))
		}
		if srv.URL != "" {
			if err := validateHTTPURL(srv.URL); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
			}
		}
		if srv.RateLimitPerMinute < 0 {
			errs = append(errs, fmt.Errorf("%s: rate_limit_per_minute must be >= 0", prefix))
		}
	}
	return errs
}

func validateScheduler(s SchedulerConfig) []error {
	var errs []error
	if _, err := time.LoadLocation(s.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("config: scheduler.time_zone: %w", err))
	}
	if err := validateCron(s.PollSchedule); err != nil {
		errs = append(errs, fmt.Errorf("config: scheduler.poll_schedule: %w", err))
	}
	return errs
}

func validateTelemetry(t TelemetryConfig) []error {
	if t.Tracing.Enabled && t.Tracing.Endpoint == "" {
		return []error{errors.New("config: telemetry.tracing.endpoint is required when tracing is enabled")}
	}
	return nil
}

func validateCron(spec string) error {
	_, err := cronParser.Parse(spec)
	return err
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q is not http or https", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
