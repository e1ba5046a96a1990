// Package source connects external tool servers, caches the tools they
// serve between health probes and exposes those tools as capabilities.
package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/flemzord/skillgate/internal/capability"
)

// Errors returned by the source manager and stores.
var (
	ErrNotFound    = errors.New("source not found")
	ErrExists      = errors.New("source already exists")
	ErrInvalid     = errors.New("invalid source")
	ErrUnavailable = errors.New("source unavailable")
	ErrToolFailed  = errors.New("tool returned an error")
)

// Health is the outcome of the last probe of a server.
type Health string

// Health states. Unhealthy servers are excluded from discovery, not deleted.
const (
	HealthUnknown   Health = "unknown"
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
)

// Server is a connected external tool server. Exactly one of URL
// (streamable HTTP) and Command (stdio) is set.
type Server struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	URL     string            `json:"url,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	Approved           bool     `json:"approved"`
	Enabled            bool     `json:"enabled"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute"`
	ApprovedTools      []string `json:"approved_tools,omitempty"`

	Health        Health    `json:"health"`
	LastCheckedAt time.Time `json:"last_checked_at,omitzero"`
	LastError     string    `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ToolApproved reports whether the owner approved tool on this server.
func (s *Server) ToolApproved(tool string) bool {
	return slices.Contains(s.ApprovedTools, tool)
}

// Discoverable reports whether the server's tools may be listed to callers.
func (s *Server) Discoverable() bool {
	return s.Approved && s.Enabled && s.Health != HealthUnhealthy
}

// Clone returns a deep copy.
func (s Server) Clone() Server {
	s.Args = slices.Clone(s.Args)
	s.ApprovedTools = slices.Clone(s.ApprovedTools)
	s.Env = maps.Clone(s.Env)
	return s
}

func (s *Server) sameConnection(o *Server) bool {
	return s.URL == o.URL && s.Command == o.Command && slices.Equal(s.Args, o.Args) && maps.Equal(s.Env, o.Env)
}

// Validate checks the owner-supplied fields.
func (s *Server) Validate() error {
	var errs []error
	switch {
	case s.Name == "":
		errs = append(errs, errors.New("name is required"))
	case strings.Contains(s.Name, capability.ExternalSeparator):
		errs = append(errs, fmt.Errorf("name %q must not contain %q", s.Name, capability.ExternalSeparator))
	}
	switch {
	case s.URL == "" && s.Command == "":
		errs = append(errs, errors.New("one of url or command is required"))
	case s.URL != "" && s.Command != "":
		errs = append(errs, errors.New("url and command are mutually exclusive"))
	case s.URL != "":
		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("url %q must be an absolute http(s) URL", s.URL))
		}
	}
	if s.RateLimitPerMinute < 0 {
		errs = append(errs, errors.New("rate_limit_per_minute must be >= 0"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Tool is a tool discovered on a server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// capabilityFor builds the capability view of tool on srv. Approval is
// the per-tool approval; the server's own approval travels in ServerRef so
// the gate can report it separately.
func capabilityFor(srv *Server, tool Tool) capability.Capability {
	status := capability.StatusActive
	if !srv.Enabled || srv.Health == HealthUnhealthy {
		status = capability.StatusInactive
	}
	return capability.Capability{
		Name:        capability.ExternalName(srv.Name, tool.Name),
		Description: tool.Description,
		Kind:        capability.KindMCP,
		Origin:      capability.ExternalOrigin(srv.ID),
		Approved:    srv.ToolApproved(tool.Name),
		Status:      status,
		InputSchema: slices.Clone(tool.InputSchema),
		Server: &capability.ServerRef{
			ID:                 srv.ID,
			Name:               srv.Name,
			Approved:           srv.Approved,
			RateLimitPerMinute: srv.RateLimitPerMinute,
		},
		ToolName:  tool.Name,
		CreatedAt: srv.CreatedAt,
		UpdatedAt: srv.UpdatedAt,
	}
}
