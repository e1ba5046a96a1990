package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flemzord/skillgate/internal/capability"
)

// ToolCaller calls a tool on an external server.
type ToolCaller interface {
	CallTool(ctx context.Context, serverID, tool string, input json.RawMessage) (string, error)
}

// MCPStrategy routes external tool calls to the owning server's client.
type MCPStrategy struct {
	caller ToolCaller
}

var _ Strategy = (*MCPStrategy)(nil)

// NewMCPStrategy creates a strategy backed by caller.
func NewMCPStrategy(caller ToolCaller) *MCPStrategy {
	return &MCPStrategy{caller: caller}
}

// Execute implements Strategy.
func (m *MCPStrategy) Execute(ctx context.Context, c *capability.Capability, input json.RawMessage) (string, error) {
	if c.Server == nil || c.ToolName == "" {
		return "", fmt.Errorf("%w: %s has no server binding", ErrBadInput, c.Name)
	}
	return m.caller.CallTool(ctx, c.Server.ID, c.ToolName, input)
}
