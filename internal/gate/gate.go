// Package gate implements the security gate: a pure decision over a
// capability and an invocation context that always yields a Verdict.
package gate

import (
	"encoding/json"
	"fmt"

	"github.com/flemzord/skillgate/internal/capability"
	"github.com/flemzord/skillgate/internal/security"
)

// ReasonCode is the closed set of gate outcomes.
type ReasonCode string

// Reason codes, in evaluation order after ReasonPassed.
const (
	ReasonPassed        ReasonCode = "passed"
	ReasonUnapproved    ReasonCode = "unapproved"
	ReasonInactive      ReasonCode = "inactive"
	ReasonRateLimited   ReasonCode = "rate_limited"
	ReasonDomainBlocked ReasonCode = "domain_blocked"
	ReasonInputInvalid  ReasonCode = "input_invalid"
	ReasonMCPUnapproved ReasonCode = "mcp_unapproved"
)

// Reasons lists every reason code.
var Reasons = []ReasonCode{
	ReasonPassed, ReasonUnapproved, ReasonInactive, ReasonRateLimited,
	ReasonDomainBlocked, ReasonInputInvalid, ReasonMCPUnapproved,
}

// Verdict is the outcome of an evaluation. It is never persisted on its
// own; the audit record carries its reason code.
type Verdict struct {
	Allowed bool       `json:"allowed"`
	Reason  ReasonCode `json:"reason_code"`
	Message string     `json:"reason"`
}

func allow() Verdict {
	return Verdict{Allowed: true, Reason: ReasonPassed, Message: "all checks passed"}
}

func deny(code ReasonCode, format string, args ...any) Verdict {
	return Verdict{Reason: code, Message: fmt.Sprintf(format, args...)}
}

// Context is the part of an invocation the gate looks at.
type Context struct {
	Input json.RawMessage

	// Domain is the target host of a webhook call. Empty skips the
	// allowlist check.
	Domain string
}

// Limiter is the rate limiter surface used by the gate.
type Limiter interface {
	TryAcquireAll(scopes []security.ScopedLimit) (string, bool)
	GlobalLimit() security.Limit
}

// Gate evaluates invocations. Apart from the limiter it holds no state and
// performs no I/O.
type Gate struct {
	limiter Limiter
	limits  security.InputLimits
}

// New creates a gate.
func New(limiter Limiter, limits security.InputLimits) *Gate {
	return &Gate{limiter: limiter, limits: limits}
}

// Evaluate runs the checks in a fixed order and stops at the first
// failure:
//
//  1. approved, else unapproved
//  2. status active, else inactive
//  3. capability, server (external only) and global rate limits, else rate_limited
//  4. webhook domain allowlist, else domain_blocked
//  5. input against the capability's schema and payload limits, else input_invalid
//  6. owning server approved (external only), else mcp_unapproved
//
// Step 3 charges every scope or none. A token taken at step 3 is not
// returned when a later check denies.
func (g *Gate) Evaluate(c *capability.Capability, ctx Context) Verdict {
	if !c.Approved {
		return deny(ReasonUnapproved, "capability %q is not approved", c.Name)
	}
	if c.Status != capability.StatusActive {
		return deny(ReasonInactive, "capability %q is %s", c.Name, c.Status)
	}

	if v, ok := g.checkRate(c); !ok {
		return v
	}

	if c.Kind == capability.KindWebhook && ctx.Domain != "" {
		if !security.DomainAllowed(ctx.Domain, c.DomainAllowlist) {
			return deny(ReasonDomainBlocked, "domain %q is not allowed for %q", ctx.Domain, c.Name)
		}
	}

	if err := security.ValidateInput(c.InputSchema, ctx.Input, g.limits); err != nil {
		return deny(ReasonInputInvalid, "%v", err)
	}

	if c.External() && (c.Server == nil || !c.Server.Approved) {
		return deny(ReasonMCPUnapproved, "server of %q is not approved", c.Name)
	}

	return allow()
}

func (g *Gate) checkRate(c *capability.Capability) (Verdict, bool) {
	if g.limiter == nil {
		return Verdict{}, true
	}

	capScope := security.CapabilityScope(c.Name)
	scopes := []security.ScopedLimit{{Scope: capScope, Limit: security.PerMinute(c.RateLimitPerMinute)}}
	var serverScope string
	if c.External() && c.Server != nil {
		serverScope = security.ServerScope(c.Server.ID)
		scopes = append(scopes, security.ScopedLimit{Scope: serverScope, Limit: security.PerMinute(c.Server.RateLimitPerMinute)})
	}
	scopes = append(scopes, security.ScopedLimit{Scope: security.ScopeGlobal, Limit: g.limiter.GlobalLimit()})

	denied, ok := g.limiter.TryAcquireAll(scopes)
	switch {
	case ok:
		return Verdict{}, true
	case denied == capScope:
		return deny(ReasonRateLimited, "rate limit of %d/min reached for %q", c.RateLimitPerMinute, c.Name), false
	case denied == serverScope:
		return deny(ReasonRateLimited, "rate limit of %d/min reached for server %q", c.Server.RateLimitPerMinute, c.Server.Name), false
	default:
		return deny(ReasonRateLimited, "global rate limit reached"), false
	}
}
