// Package capability defines the uniform descriptor of an invocable action
// and the registry that owns locally defined capabilities and their
// approval lifecycle.
package capability

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/flemzord/skillgate/internal/security"
)

// Kind selects the execution strategy.
type Kind string

// Capability kinds. KindMCP is only ever produced by external sources.
const (
	KindTemplate Kind = "template"
	KindWebhook  Kind = "webhook"
	KindCode     Kind = "code"
	KindMCP      Kind = "mcp"
)

// Status is the activation state of a capability.
type Status string

// Capability statuses.
const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// OriginLocal marks capabilities owned by the registry.
const OriginLocal = "local"

// ExternalSeparator joins a server name and a tool name into a capability name.
const ExternalSeparator = "__"

// Errors returned by the registry and stores.
var (
	ErrNotFound = errors.New("capability not found")
	ErrExists   = errors.New("capability already exists")
	ErrInvalid  = errors.New("invalid capability")
)

// ExternalOrigin returns the origin string of a tool served by serverID.
func ExternalOrigin(serverID string) string {
	return "external:" + serverID
}

// ExternalName returns the capability name of a tool on a server.
func ExternalName(serverName, toolName string) string {
	return serverName + ExternalSeparator + toolName
}

// SplitExternalName splits "<server>__<tool>". It reports false for names
// without the separator.
func SplitExternalName(name string) (server, tool string, ok bool) {
	server, tool, ok = strings.Cut(name, ExternalSeparator)
	if !ok || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}

// ServerRef is the snapshot of the owning server carried by external
// capabilities, so the gate can decide without a lookup.
type ServerRef struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Approved           bool   `json:"approved"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
}

// Capability is an invocable action, whatever its origin.
type Capability struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Kind        Kind   `json:"kind"`
	Origin      string `json:"origin"`

	Approved bool   `json:"approved"`
	Status   Status `json:"status"`

	RateLimitPerMinute int             `json:"rate_limit_per_minute"`
	TimeoutMs          int             `json:"timeout_ms"`
	DomainAllowlist    []string        `json:"domain_allowlist,omitempty"`
	InputSchema        json.RawMessage `json:"input_schema,omitempty"`

	// Template kind.
	Template       string            `json:"template,omitempty"`
	TemplateConfig map[string]string `json:"template_config,omitempty"`

	// Webhook kind.
	WebhookURL     string            `json:"webhook_url,omitempty"`
	WebhookMethod  string            `json:"webhook_method,omitempty"`
	WebhookHeaders map[string]string `json:"webhook_headers,omitempty"`

	// Code kind.
	Handler string `json:"handler,omitempty"`

	// MCP kind.
	Server   *ServerRef `json:"server,omitempty"`
	ToolName string     `json:"tool_name,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Callable reports whether the capability may be dispatched at all.
func (c *Capability) Callable() bool {
	return c.Approved && c.Status == StatusActive
}

// External reports whether the capability is served by an external source.
func (c *Capability) External() bool {
	return c.Kind == KindMCP
}

// Timeout returns the configured timeout, or def when none is set.
func (c *Capability) Timeout(def time.Duration) time.Duration {
	if c.TimeoutMs > 0 {
		return time.Duration(c.TimeoutMs) * time.Millisecond
	}
	return def
}

// Clone returns a deep copy.
func (c Capability) Clone() Capability {
	c.DomainAllowlist = slices.Clone(c.DomainAllowlist)
	c.InputSchema = slices.Clone(c.InputSchema)
	c.TemplateConfig = maps.Clone(c.TemplateConfig)
	c.WebhookHeaders = maps.Clone(c.WebhookHeaders)
	if c.Server != nil {
		srv := *c.Server
		c.Server = &srv
	}
	return c
}

// Validate checks the definition of a locally owned capability.
func (c *Capability) Validate() error {
	var errs []error

	switch {
	case c.Name == "":
		errs = append(errs, errors.New("name is required"))
	case strings.Contains(c.Name, ExternalSeparator):
		errs = append(errs, fmt.Errorf("name %q must not contain %q", c.Name, ExternalSeparator))
	}
	if c.RateLimitPerMinute < 0 {
		errs = append(errs, errors.New("rate_limit_per_minute must be >= 0"))
	}
	if c.TimeoutMs < 0 {
		errs = append(errs, errors.New("timeout_ms must be >= 0"))
	}
	if err := security.ParseInputSchema(c.InputSchema); err != nil {
		errs = append(errs, fmt.Errorf("input_schema: %w", err))
	}

	switch c.Kind {
	case KindTemplate:
		if c.Template == "" {
			errs = append(errs, errors.New("template is required for template capabilities"))
		}
	case KindWebhook:
		if c.WebhookURL == "" {
			errs = append(errs, errors.New("webhook_url is required for webhook capabilities"))
		} else if !strings.HasPrefix(c.WebhookURL, "http://") && !strings.HasPrefix(c.WebhookURL, "https://") {
			errs = append(errs, errors.New("webhook_url must be an http(s) URL"))
		}
	case KindCode:
		if c.Handler == "" {
			errs = append(errs, errors.New("handler is required for code capabilities"))
		}
	case KindMCP:
		errs = append(errs, errors.New("mcp capabilities are discovered from sources, not registered"))
	default:
		errs = append(errs, fmt.Errorf("unknown kind %q", c.Kind))
	}

	if len(c.DomainAllowlist) > 0 && c.Kind != KindWebhook {
		errs = append(errs, errors.New("domain_allowlist applies to webhook capabilities only"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
