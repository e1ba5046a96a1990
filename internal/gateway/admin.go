package gateway

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/skillgate/internal/capability"
)

// capabilityRoutes mounts the capability registry under /api/capabilities.
func (g *Gateway) capabilityRoutes(r chi.Router) {
	r.Get("/", g.handleListCapabilities())
	r.Post("/", g.handleRegisterCapability())
	r.Route("/{name}", func(r chi.Router) {
		r.Get("/", g.handleGetCapability())
		r.Put("/", g.handleUpdateCapability())
		r.Delete("/", g.handleDeleteCapability())
		r.Post("/approve", g.capabilityAction(g.services.Registry.Approve))
		r.Post("/reject", g.capabilityAction(g.services.Registry.Reject))
		r.Post("/activate", g.capabilityAction(g.services.Registry.Activate))
		r.Post("/deactivate", g.capabilityAction(g.services.Registry.Deactivate))
		r.Put("/secrets/{key}", g.handleSetSecret())
	})
}

func (g *Gateway) handleListCapabilities() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caps, err := g.services.Registry.List(r.Context())
		if err != nil {
			writeError(w, g.logger, err)
			return
		}
		if caps == nil {
			caps = []capability.Capability{}
		}
		writeJSON(w, http.StatusOK, caps)
	}
}

func (g *Gateway) handleRegisterCapability() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var c capability.Capability
		if err := decodeJSON(r, &c); err != nil {
			badRequest(w, err.Error())
			return
		}
		created, err := g.services.Registry.Register(r.Context(), c)
		if err != nil {
			writeError(w, g.logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func (g *Gateway) handleGetCapability() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := g.services.Registry.Get(r.Context(), chi.URLParam(r, "name"))
		if err != nil {
			writeError(w, g.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func (g *Gateway) handleUpdateCapability() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var c capability.Capability
		if err := decodeJSON(r, &c); err != nil {
			badRequest(w, err.Error())
			return
		}
		c.Name = chi.URLParam(r, "name")
		updated, err := g.services.Registry.Update(r.Context(), c)
		if err != nil {
			writeError(w, g.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func (g *Gateway) handleDeleteCapability() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := g.services.Registry.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
			writeError(w, g.logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// capabilityAction adapts a lifecycle transition to a handler.
func (g *Gateway) capabilityAction(fn func(ctx context.Context, name string) (capability.Capability, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := fn(r.Context(), chi.URLParam(r, "name"))
		if err != nil {
			writeError(w, g.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

type secretRequest struct {
	Value string `json:"value"`
}

// handleSetSecret stores a secret in the capability's scope. The value is
// never echoed back.
func (g *Gateway) handleSetSecret() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req secretRequest
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, err.Error())
			return
		}
		if req.Value == "" {
			badRequest(w, "value is required")
			return
		}
		name, key := chi.URLParam(r, "name"), chi.URLParam(r, "key")
		if err := g.services.Registry.SetSecret(r.Context(), name, key, req.Value); err != nil {
			writeError(w, g.logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
