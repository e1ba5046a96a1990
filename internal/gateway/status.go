package gateway

import (
	"net/http"
	"time"

	"github.com/flemzord/skillgate/internal/capability"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Version      string `json:"version"`
	Uptime       int64  `json:"uptime_seconds"`
	Capabilities int    `json:"capabilities"`
	Pending      int    `json:"pending_approval"`
	Dispatchable int    `json:"dispatchable"`
	Sources      int    `json:"sources"`
	Tasks        int    `json:"tasks"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		resp := StatusResponse{
			Version: g.version,
			Uptime:  int64(time.Since(g.startedAt).Seconds()),
		}

		if g.services.Registry != nil {
			if caps, err := g.services.Registry.List(ctx); err == nil {
				resp.Capabilities = len(caps)
				for _, c := range caps {
					if c.Status == capability.StatusPending {
						resp.Pending++
					}
				}
			}
		}
		if g.services.Invoker != nil {
			if caps, err := g.services.Invoker.List(ctx); err == nil {
				resp.Dispatchable = len(caps)
			}
		}
		if g.services.Sources != nil {
			if servers, err := g.services.Sources.List(ctx); err == nil {
				resp.Sources = len(servers)
			}
		}
		if g.services.Tasks != nil {
			if tasks, err := g.services.Tasks.List(ctx); err == nil {
				resp.Tasks = len(tasks)
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
