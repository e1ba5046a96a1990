package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/flemzord/skillgate/internal/capability"
	"github.com/flemzord/skillgate/internal/security"
)

// secretPlaceholder matches {{secret:KEY}} in header values.
var secretPlaceholder = regexp.MustCompile(`\{\{\s*secret:([A-Za-z0-9_.\-]+)\s*\}\}`)

// WebhookConfig configures a WebhookStrategy.
type WebhookConfig struct {
	Client    *http.Client
	Secrets   security.SecretStore
	BodyLimit int
	UserAgent string
	Logger    *slog.Logger
}

// WebhookStrategy POSTs {"input": ...} to the capability's URL.
type WebhookStrategy struct {
	client    *http.Client
	secrets   security.SecretStore
	bodyLimit int
	userAgent string
	logger    *slog.Logger
}

var _ Strategy = (*WebhookStrategy)(nil)

// NewWebhookStrategy creates a webhook strategy. A nil client gets a
// client that refuses redirects.
func NewWebhookStrategy(cfg WebhookConfig) *WebhookStrategy {
	if cfg.Client == nil {
		cfg.Client = NewHTTPClient(0)
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = 50_000
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "skillgate"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WebhookStrategy{
		client:    cfg.Client,
		secrets:   cfg.Secrets,
		bodyLimit: cfg.BodyLimit,
		userAgent: cfg.UserAgent,
		logger:    cfg.Logger.With("component", "webhook"),
	}
}

type webhookBody struct {
	Input json.RawMessage `json:"input"`
}

// Execute implements Strategy.
func (w *WebhookStrategy) Execute(ctx context.Context, c *capability.Capability, input json.RawMessage) (string, error) {
	if len(bytes.TrimSpace(input)) == 0 {
		input = json.RawMessage("{}")
	}
	body, err := json.Marshal(webhookBody{Input: input})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadInput, err)
	}

	method := c.WebhookMethod
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, c.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", w.userAgent)

	// Secrets are resolved here, right before the call, and only live in
	// the outgoing request.
	for name, value := range c.WebhookHeaders {
		resolved, err := w.resolveSecrets(ctx, c.Name, value)
		if err != nil {
			return "", err
		}
		req.Header.Set(name, resolved)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	out, err := readBody(resp.Body, w.bodyLimit)
	if err != nil {
		return "", err
	}
	if err := checkResponse(resp, out); err != nil {
		w.logger.Warn("webhook failed", "capability", c.Name, "status", resp.StatusCode)
		return "", err
	}
	return Truncate(out, w.bodyLimit), nil
}

// resolveSecrets replaces every {{secret:KEY}} in value with the secret
// stored in the capability's scope. A missing secret is an error: sending
// the literal placeholder would leak configuration to the target.
func (w *WebhookStrategy) resolveSecrets(ctx context.Context, scope, value string) (string, error) {
	if !strings.Contains(value, "{{") {
		return value, nil
	}
	var firstErr error
	out := secretPlaceholder.ReplaceAllStringFunc(value, func(m string) string {
		if firstErr != nil {
			return m
		}
		key := secretPlaceholder.FindStringSubmatch(m)[1]
		if w.secrets == nil {
			firstErr = fmt.Errorf("%w: %s (no secret store)", ErrSecretMissing, key)
			return m
		}
		v, ok, err := w.secrets.GetSecret(ctx, scope, key)
		if err != nil {
			firstErr = fmt.Errorf("resolving secret %s: %w", key, err)
			return m
		}
		if !ok {
			firstErr = fmt.Errorf("%w: %s", ErrSecretMissing, key)
			return m
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}
