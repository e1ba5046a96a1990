package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/flemzord/skillgate/internal/capability"
	"github.com/flemzord/skillgate/internal/invoke"
)

// mcpBridge exposes dispatchable capabilities as MCP tools. The tool set
// is re-synced from the catalog before every tools/list; tools/call always
// goes through the invoker, so a stale tool list never bypasses the gate.
type mcpBridge struct {
	invoker Invoker
	server  *server.MCPServer
	http    *server.StreamableHTTPServer
	logger  *slog.Logger

	mu      sync.Mutex
	exposed map[string]string // tool name -> fingerprint
}

func newMCPBridge(inv Invoker, version string, logger *slog.Logger) *mcpBridge {
	if version == "" {
		version = "dev"
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &mcpBridge{
		invoker: inv,
		logger:  logger.With("component", "mcp"),
		exposed: make(map[string]string),
	}

	hooks := &server.Hooks{}
	hooks.AddBeforeListTools(func(ctx context.Context, _ any, _ *mcp.ListToolsRequest) {
		if err := b.sync(ctx); err != nil {
			b.logger.Warn("mcp: tool sync failed", "error", err)
		}
	})

	b.server = server.NewMCPServer("skillgate", version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(hooks),
	)
	b.http = server.NewStreamableHTTPServer(b.server)
	return b
}

// Handler returns the streamable HTTP handler.
func (b *mcpBridge) Handler() http.Handler {
	return b.http
}

// sync reconciles the registered tools with the dispatchable capabilities.
func (b *mcpBridge) sync(ctx context.Context) error {
	caps, err := b.invoker.List(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	desired := make(map[string]string, len(caps))
	var changed []server.ServerTool
	for _, c := range caps {
		fp := c.Description + "\x00" + string(c.InputSchema)
		desired[c.Name] = fp
		if b.exposed[c.Name] == fp {
			continue
		}
		changed = append(changed, server.ServerTool{Tool: toolFor(&c), Handler: b.handler(c.Name)})
	}

	var removed []string
	for name := range b.exposed {
		if _, ok := desired[name]; !ok {
			removed = append(removed, name)
		}
	}
	slices.Sort(removed)

	if len(removed) > 0 {
		b.server.DeleteTools(removed...)
	}
	if len(changed) > 0 {
		b.server.AddTools(changed...)
	}
	if len(removed) > 0 || len(changed) > 0 {
		b.logger.Debug("mcp: tools synced", "changed", len(changed), "removed", len(removed))
	}
	b.exposed = desired
	return nil
}

// toolFor builds the MCP descriptor of c. MCP arguments are always an
// object, so only object schemas are forwarded as-is.
func toolFor(c *capability.Capability) mcp.Tool {
	if len(c.InputSchema) > 0 {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(c.InputSchema, &head); err == nil && head.Type == "object" {
			return mcp.NewToolWithRawSchema(c.Name, c.Description, c.InputSchema)
		}
	}
	return mcp.NewTool(c.Name, mcp.WithDescription(c.Description))
}

func (b *mcpBridge) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var input json.RawMessage
		if args := req.GetArguments(); len(args) > 0 {
			raw, err := json.Marshal(args)
			if err != nil {
				return mcp.NewToolResultError("invalid arguments"), nil
			}
			input = raw
		}

		res, err := b.invoker.Invoke(ctx, invoke.Request{
			Capability: name,
			Input:      input,
			Caller:     invoke.CallerMCP,
		})
		switch {
		case errors.Is(err, capability.ErrNotFound):
			return mcp.NewToolResultError("unknown capability: " + name), nil
		case err != nil:
			b.logger.Error("mcp: invocation failed", "capability", name, "error", err)
			return mcp.NewToolResultError("capability unavailable"), nil
		case !res.Success:
			return mcp.NewToolResultError(res.PublicError()), nil
		}
		return mcp.NewToolResultText(res.Output), nil
	}
}
