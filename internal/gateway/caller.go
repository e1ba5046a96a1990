package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/flemzord/skillgate/internal/capability"
	"github.com/flemzord/skillgate/internal/executor"
	"github.com/flemzord/skillgate/internal/gate"
	"github.com/flemzord/skillgate/internal/invoke"
)

// invokeRequest is the body of POST /api/invoke.
type invokeRequest struct {
	Name     string          `json:"name"`
	Input    json.RawMessage `json:"input,omitempty"`
	ThreadID string          `json:"thread_id,omitempty"`
	UserID   string          `json:"user_id,omitempty"`
	Channel  string          `json:"channel,omitempty"`
}

// invokeResponse is the body of a successful invocation.
type invokeResponse struct {
	Output    string `json:"output"`
	Truncated bool   `json:"truncated,omitempty"`
	AuditID   int64  `json:"audit_id"`
}

// failedInvocation is the body of a denied or failed invocation.
type failedInvocation struct {
	Error        string `json:"error"`
	ReasonCode   string `json:"reason_code"`
	FailureClass string `json:"failure_class,omitempty"`
	AuditID      int64  `json:"audit_id,omitempty"`
}

// handleInvoke runs one capability for a chat or agent caller.
func (g *Gateway) handleInvoke() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req invokeRequest
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, err.Error())
			return
		}
		if req.Name == "" {
			badRequest(w, "name is required")
			return
		}

		// Requests tied to a conversation come from the chat agent.
		caller := invoke.CallerHTTP
		if req.ThreadID != "" {
			caller = invoke.CallerChat
		}
		res, err := g.services.Invoker.Invoke(r.Context(), invoke.Request{
			Capability: req.Name,
			Input:      req.Input,
			Caller:     caller,
			ThreadID:   req.ThreadID,
			UserID:     req.UserID,
			Channel:    req.Channel,
		})
		switch {
		case errors.Is(err, capability.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown capability: " + req.Name})
			return
		case err != nil:
			writeError(w, g.logger, err)
			return
		}

		if res.Success {
			writeJSON(w, http.StatusOK, invokeResponse{Output: res.Output, Truncated: res.Truncated, AuditID: res.AuditID})
			return
		}
		writeJSON(w, invocationStatus(res), failedInvocation{
			Error:        res.PublicError(),
			ReasonCode:   string(res.Verdict.Reason),
			FailureClass: string(res.FailureClass),
			AuditID:      res.AuditID,
		})
	}
}

// invocationStatus picks the status code of an unsuccessful result.
func invocationStatus(res invoke.Result) int {
	if !res.Verdict.Allowed {
		switch res.Verdict.Reason {
		case gate.ReasonRateLimited:
			return http.StatusTooManyRequests
		case gate.ReasonInputInvalid:
			return http.StatusUnprocessableEntity
		default:
			return http.StatusForbidden
		}
	}
	if res.FailureClass == executor.FailureTimeout {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

// dispatchableJSON describes a capability a caller may invoke.
type dispatchableJSON struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Kind        string          `json:"kind"`
	Origin      string          `json:"origin"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// handleListDispatchable lists the capabilities callers may invoke now.
func (g *Gateway) handleListDispatchable() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caps, err := g.services.Invoker.List(r.Context())
		if err != nil {
			writeError(w, g.logger, err)
			return
		}
		out := make([]dispatchableJSON, 0, len(caps))
		for _, c := range caps {
			out = append(out, dispatchableJSON{
				Name:        c.Name,
				Description: c.Description,
				Kind:        string(c.Kind),
				Origin:      c.Origin,
				InputSchema: c.InputSchema,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}
