package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

func newTestMCPServer(t *testing.T) string {
	t.Helper()

	s := mcpserver.NewMCPServer("test-tools", "1.0.0")
	s.AddTool(mcp.NewTool("echo",
		mcp.WithDescription("Echo the text back"),
		mcp.WithString("text", mcp.Required()),
	), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(fmt.Sprint(req.GetArguments()["text"])), nil
	})
	s.AddTool(mcp.NewTool("fail"), func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("nope"), nil
	})

	ts := mcpserver.NewTestStreamableHTTPServer(s)
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestMCPConnector_StreamableHTTP(t *testing.T) {
	t.Parallel()

	url := newTestMCPServer(t)
	ctx := context.Background()

	sess, err := MCPConnector{}.Connect(ctx, Server{Name: "test", URL: url})
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer func() { _ = sess.Close() }()

	tools, err := sess.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools() error: %v", err)
	}
	var echo *Tool
	for i := range tools {
		if tools[i].Name == "echo" {
			echo = &tools[i]
		}
	}
	if echo == nil {
		t.Fatalf("echo not listed: %+v", tools)
	}
	var schema struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(echo.InputSchema, &schema); err != nil || len(schema.Required) != 1 || schema.Required[0] != "text" {
		t.Errorf("echo schema = %s", echo.InputSchema)
	}

	out, err := sess.CallTool(ctx, "echo", json.RawMessage(`{"text":"hello"}`))
	if err != nil || out != "hello" {
		t.Errorf("CallTool(echo) = %q, %v", out, err)
	}

	out, err = sess.CallTool(ctx, "fail", nil)
	if !errors.Is(err, ErrToolFailed) || out != "nope" {
		t.Errorf("CallTool(fail) = %q, %v; want ErrToolFailed", out, err)
	}

	if _, err := sess.CallTool(ctx, "echo", json.RawMessage(`[1]`)); err == nil {
		t.Error("non-object arguments should be rejected")
	}
}

func TestManager_WithMCPServer(t *testing.T) {
	t.Parallel()

	url := newTestMCPServer(t)
	m := NewManager(ManagerConfig{Store: NewMemoryStore()})
	defer func() { _ = m.Close() }()
	ctx := context.Background()

	srv, err := m.Add(ctx, Server{Name: "tools", URL: url})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Probe(ctx, srv.ID); err != nil {
		t.Fatalf("Probe() error: %v", err)
	}
	c, err := m.ResolveExternal(ctx, "tools__echo")
	if err != nil {
		t.Fatalf("ResolveExternal() error: %v", err)
	}
	out, err := m.CallTool(ctx, c.Server.ID, c.ToolName, json.RawMessage(`{"text":"via manager"}`))
	if err != nil || out != "via manager" {
		t.Errorf("CallTool() = %q, %v", out, err)
	}
}
