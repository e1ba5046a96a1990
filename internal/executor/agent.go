package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// AgentInstructionName is the code handler that forwards scheduled
// instructions to the agent inbox.
const AgentInstructionName = "agent_instruction"

// AgentInstructionConfig configures NewAgentInstructionHandler.
type AgentInstructionConfig struct {
	// InboxURL receives the instruction envelope as a JSON POST.
	InboxURL  string
	Client    *http.Client
	UserAgent string
	BodyLimit int
}

// NewAgentInstructionHandler returns the code handler that POSTs its input,
// an {"instruction", "task_id", "task_name"} envelope, to the agent inbox
// and returns the response body. Redirects are refused like webhooks.
func NewAgentInstructionHandler(cfg AgentInstructionConfig) CodeHandler {
	if cfg.Client == nil {
		cfg.Client = NewHTTPClient(0)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "skillgate"
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = 50_000
	}
	return CodeHandler{
		Name:        AgentInstructionName,
		Description: "Deliver an instruction to the agent inbox.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"instruction":{"type":"string"},"task_id":{"type":"string"},"task_name":{"type":"string"}},"required":["instruction"]}`),
		Run: func(ctx context.Context, input json.RawMessage) (string, error) {
			if cfg.InboxURL == "" {
				return "", fmt.Errorf("%w: agent inbox is not configured", ErrBadInput)
			}
			if !json.Valid(input) {
				return "", fmt.Errorf("%w: input is not JSON", ErrBadInput)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.InboxURL, bytes.NewReader(input))
			if err != nil {
				return "", fmt.Errorf("%w: %w", ErrUpstream, err)
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("User-Agent", cfg.UserAgent)

			resp, err := cfg.Client.Do(req)
			if err != nil {
				return "", fmt.Errorf("%w: %w", ErrUpstream, err)
			}
			defer func() { _ = resp.Body.Close() }()

			body, err := readBody(resp.Body, cfg.BodyLimit)
			if err != nil {
				return "", err
			}
			if err := checkResponse(resp, body); err != nil {
				return "", err
			}
			return Truncate(body, cfg.BodyLimit), nil
		},
	}
}
