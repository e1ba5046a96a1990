package executor

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// NewHTTPClient returns a client that never follows redirects: the 3xx
// response itself is returned to the caller, so the redirect target is
// never contacted. The transport timeout is a backstop; executions are
// bounded by their context.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// checkResponse turns a redirect or non-2xx status into an error.
func checkResponse(resp *http.Response, body string) error {
	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return fmt.Errorf("%w: status %d to %q", ErrRedirectRefused, resp.StatusCode, resp.Header.Get("Location"))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: status %d: %s", ErrUpstreamStatus, resp.StatusCode, Truncate(body, 512))
	}
	return nil
}

// readBody reads enough of r to hold limit characters plus one, so the
// caller can tell a body that fits from one that must be truncated.
// A UTF-8 character is at most 4 bytes.
func readBody(r io.Reader, limit int) (string, error) {
	if limit <= 0 {
		limit = 50_000
	}
	data, err := io.ReadAll(io.LimitReader(r, int64(limit+1)*4))
	if err != nil && !errors.Is(err, io.EOF) {
		return string(data), fmt.Errorf("%w: reading body: %w", ErrUpstream, err)
	}
	return string(data), nil
}
