package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flemzord/skillgate/internal/security"
)

// Session is a live connection to one server.
type Session interface {
	ListTools(ctx context.Context) ([]Tool, error)
	CallTool(ctx context.Context, tool string, input json.RawMessage) (string, error)
	Close() error
}

// Connector opens sessions to servers.
type Connector interface {
	Connect(ctx context.Context, srv Server) (Session, error)
}

// MCPConnector connects over streamable HTTP (URL) or stdio (Command).
type MCPConnector struct {
	ClientName    string
	ClientVersion string
}

var _ Connector = MCPConnector{}

// Connect implements Connector. The session is initialized before it is
// returned.
func (c MCPConnector) Connect(ctx context.Context, srv Server) (Session, error) {
	var (
		cli *client.Client
		err error
	)
	switch {
	case srv.URL != "":
		cli, err = client.NewStreamableHttpClient(srv.URL)
		if err != nil {
			return nil, fmt.Errorf("creating http client for %s: %w", srv.Name, err)
		}
		if err := cli.Start(ctx); err != nil {
			_ = cli.Close()
			return nil, fmt.Errorf("starting http client for %s: %w", srv.Name, err)
		}
	case srv.Command != "":
		// The child gets a scrubbed environment plus the server's own vars.
		env := security.SanitizedEnv(srv.Env, nil)
		cli, err = client.NewStdioMCPClient(srv.Command, env, srv.Args...)
		if err != nil {
			return nil, fmt.Errorf("starting %s for %s: %w", srv.Command, srv.Name, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s has no connection descriptor", ErrInvalid, srv.Name)
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{
		Name:    c.clientName(),
		Version: c.clientVersion(),
	}
	if _, err := cli.Initialize(ctx, req); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("initializing %s: %w", srv.Name, err)
	}
	return &mcpSession{client: cli}, nil
}

func (c MCPConnector) clientName() string {
	if c.ClientName == "" {
		return "skillgate"
	}
	return c.ClientName
}

func (c MCPConnector) clientVersion() string {
	if c.ClientVersion == "" {
		return "dev"
	}
	return c.ClientVersion
}

type mcpSession struct {
	client *client.Client
}

func (s *mcpSession) ListTools(ctx context.Context) ([]Tool, error) {
	res, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	tools := make([]Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		schema := t.RawInputSchema
		if len(schema) == 0 {
			schema, err = json.Marshal(t.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("encoding schema of %s: %w", t.Name, err)
			}
		}
		tools = append(tools, Tool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return tools, nil
}

func (s *mcpSession) CallTool(ctx context.Context, tool string, input json.RawMessage) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	if trimmed := bytes.TrimSpace(input); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		var args map[string]any
		if err := json.Unmarshal(trimmed, &args); err != nil {
			return "", fmt.Errorf("tool arguments must be a JSON object: %w", err)
		}
		req.Params.Arguments = args
	}

	res, err := s.client.CallTool(ctx, req)
	if err != nil {
		return "", err
	}
	text := resultText(res)
	if res.IsError {
		return text, fmt.Errorf("%w: %s", ErrToolFailed, text)
	}
	return text, nil
}

func (s *mcpSession) Close() error {
	return s.client.Close()
}

// resultText joins the text parts of a tool result. Other content types
// are rendered as JSON.
func resultText(res *mcp.CallToolResult) string {
	parts := make([]string, 0, len(res.Content))
	for _, content := range res.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, tc.Text)
			continue
		}
		if raw, err := json.Marshal(content); err == nil {
			parts = append(parts, string(raw))
		}
	}
	if len(parts) == 0 && res.StructuredContent != nil {
		if raw, err := json.Marshal(res.StructuredContent); err == nil {
			parts = append(parts, string(raw))
		}
	}
	return strings.Join(parts, "\n")
}
