package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/flemzord/skillgate/internal/capability"
)

// Built-in template identifiers.
const (
	TemplateCalculator = "calculator"
	TemplateHTTPGet    = "http_get"
	TemplateRSS        = "rss"
)

// feedFetchLimit bounds the raw feed document, which is parsed before the
// rendered text is truncated to the output limit.
const feedFetchLimit = 256 << 10

var urlParam = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// TemplateFunc is a built-in, parameterized executor.
type TemplateFunc func(ctx context.Context, c *capability.Capability, input json.RawMessage) (string, error)

// TemplateConfig configures a TemplateStrategy.
type TemplateConfig struct {
	Client      *http.Client
	OutputLimit int
	UserAgent   string

	// MaxTries bounds attempts of idempotent GETs on network errors, 429
	// and 5xx. Defaults to 3.
	MaxTries   uint
	RetryDelay time.Duration

	Logger *slog.Logger
}

// TemplateStrategy runs built-in templates selected by Capability.Template.
type TemplateStrategy struct {
	templates   map[string]TemplateFunc
	client      *http.Client
	outputLimit int
	userAgent   string
	maxTries    uint
	retryDelay  time.Duration
	logger      *slog.Logger
}

var _ Strategy = (*TemplateStrategy)(nil)

// NewTemplateStrategy creates a strategy with the calculator, http_get and
// rss templates registered.
func NewTemplateStrategy(cfg TemplateConfig) *TemplateStrategy {
	if cfg.Client == nil {
		cfg.Client = NewHTTPClient(0)
	}
	if cfg.OutputLimit <= 0 {
		cfg.OutputLimit = 10_000
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "skillgate"
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	t := &TemplateStrategy{
		templates:   make(map[string]TemplateFunc),
		client:      cfg.Client,
		outputLimit: cfg.OutputLimit,
		userAgent:   cfg.UserAgent,
		maxTries:    cfg.MaxTries,
		retryDelay:  cfg.RetryDelay,
		logger:      cfg.Logger.With("component", "template"),
	}
	t.Register(TemplateCalculator, calculatorTemplate)
	t.Register(TemplateHTTPGet, t.httpGetTemplate)
	t.Register(TemplateRSS, t.rssTemplate)
	return t
}

// Register adds or replaces a template.
func (t *TemplateStrategy) Register(name string, fn TemplateFunc) {
	t.templates[name] = fn
}

// Names returns the registered template identifiers, sorted.
func (t *TemplateStrategy) Names() []string {
	return slices.Sorted(maps.Keys(t.templates))
}

// Execute implements Strategy. Template output is capped at the template
// output limit.
func (t *TemplateStrategy) Execute(ctx context.Context, c *capability.Capability, input json.RawMessage) (string, error) {
	fn, ok := t.templates[c.Template]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTemplate, c.Template)
	}
	out, err := fn(ctx, c, input)
	return Truncate(out, t.outputLimit), err
}

// calculatorTemplate accepts either a JSON string ("2+2") or an object
// with an "expression" field.
func calculatorTemplate(_ context.Context, _ *capability.Capability, input json.RawMessage) (string, error) {
	expr, err := expressionFrom(input)
	if err != nil {
		return "", err
	}
	v, err := Evaluate(expr)
	if err != nil {
		return "", err
	}
	return FormatNumber(v), nil
}

func expressionFrom(input json.RawMessage) (string, error) {
	input = bytes.TrimSpace(input)
	if len(input) == 0 {
		return "", fmt.Errorf("%w: expression is required", ErrBadInput)
	}
	var s string
	if err := json.Unmarshal(input, &s); err == nil {
		return s, nil
	}
	var obj struct {
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal(input, &obj); err != nil || obj.Expression == "" {
		return "", fmt.Errorf("%w: want a string or {\"expression\": ...}", ErrBadInput)
	}
	return obj.Expression, nil
}

// httpGetTemplate fetches template_config.url, with {{name}} placeholders
// filled from the input object, and returns the body.
func (t *TemplateStrategy) httpGetTemplate(ctx context.Context, c *capability.Capability, input json.RawMessage) (string, error) {
	target, err := expandURL(c.TemplateConfig["url"], input)
	if err != nil {
		return "", err
	}
	return t.fetch(ctx, c.Name, target, t.outputLimit)
}

// rssTemplate fetches the feed at template_config.url and renders up to
// template_config.max_items items (default 10).
func (t *TemplateStrategy) rssTemplate(ctx context.Context, c *capability.Capability, input json.RawMessage) (string, error) {
	target, err := expandURL(c.TemplateConfig["url"], input)
	if err != nil {
		return "", err
	}
	maxItems := 10
	if raw := c.TemplateConfig["max_items"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return "", fmt.Errorf("%w: max_items %q", ErrBadInput, raw)
		}
		maxItems = n
	}

	body, err := t.fetch(ctx, c.Name, target, feedFetchLimit)
	if err != nil {
		return "", err
	}
	title, items, err := ParseFeed([]byte(body), maxItems)
	if err != nil {
		return "", err
	}
	return FormatFeed(title, items), nil
}

// fetch GETs target, retrying transient failures with exponential backoff.
// Redirects and 4xx responses are not retried.
func (t *TemplateStrategy) fetch(ctx context.Context, capName, target string, limit int) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.retryDelay
	b.MaxInterval = 4 * t.retryDelay

	attempt := 0
	return backoff.Retry(ctx, func() (string, error) {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return "", backoff.Permanent(fmt.Errorf("%w: %w", ErrBadInput, err))
		}
		req.Header.Set("User-Agent", t.userAgent)

		resp, err := t.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return "", backoff.Permanent(ctx.Err())
			}
			t.logger.Debug("template fetch failed", "capability", capName, "attempt", attempt, "error", err)
			return "", fmt.Errorf("%w: %w", ErrUpstream, err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := readBody(resp.Body, limit)
		if err != nil {
			return "", err
		}
		if err := checkResponse(resp, body); err != nil {
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				t.logger.Debug("template fetch retryable status", "capability", capName, "attempt", attempt, "status", resp.StatusCode)
				return "", err
			}
			return "", backoff.Permanent(err)
		}
		return body, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(t.maxTries))
}

// expandURL fills {{name}} placeholders in raw with query-escaped values
// from the input object. Every placeholder must be provided.
func expandURL(raw string, input json.RawMessage) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: template_config.url is required", ErrBadInput)
	}

	params := map[string]any{}
	if trimmed := bytes.TrimSpace(input); len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &params); err != nil {
			return "", fmt.Errorf("%w: %w", ErrBadInput, err)
		}
	}

	var missing []string
	out := urlParam.ReplaceAllStringFunc(raw, func(m string) string {
		name := urlParam.FindStringSubmatch(m)[1]
		v, ok := params[name]
		if !ok || v == nil {
			missing = append(missing, name)
			return m
		}
		switch val := v.(type) {
		case string:
			return url.QueryEscape(val)
		case float64:
			return strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(val)
		default:
			missing = append(missing, name)
			return m
		}
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: missing or non-scalar parameters %s", ErrBadInput, strings.Join(missing, ", "))
	}

	u, err := url.Parse(out)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: template url %q is not an absolute http(s) URL", ErrBadInput, out)
	}
	return out, nil
}
