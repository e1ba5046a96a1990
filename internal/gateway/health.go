package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/flemzord/skillgate/internal/source"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status  string         `json:"status"` // "ok" or "degraded"
	Sources []SourceHealth `json:"sources,omitempty"`
}

// SourceHealth is the health of one external source.
type SourceHealth struct {
	Name   string        `json:"name"`
	Health source.Health `json:"health"`
}

// handleHealth returns an http.HandlerFunc for GET /health.
// Returns 200 unless an approved, enabled source is unhealthy, in which
// case the gateway is degraded and answers 503. Local capabilities keep
// working either way.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok"}

		if g.services.Sources != nil {
			servers, err := g.services.Sources.List(r.Context())
			if err != nil {
				resp.Status = "degraded"
			}
			for _, srv := range servers {
				if !srv.Enabled {
					continue
				}
				resp.Sources = append(resp.Sources, SourceHealth{Name: srv.Name, Health: srv.Health})
				if srv.Approved && srv.Health == source.HealthUnhealthy {
					resp.Status = "degraded"
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == "degraded" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
