package gateway

import (
	"context"
	"maps"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/skillgate/internal/security"
	"github.com/flemzord/skillgate/internal/source"
)

// sourceJSON is a server as shown to admins. Environment values may hold
// credentials and are masked.
type sourceJSON struct {
	source.Server
	Tools []source.Tool `json:"tools"`
}

func (g *Gateway) sourceView(srv source.Server) sourceJSON {
	srv.Env = maps.Clone(srv.Env)
	for k := range srv.Env {
		srv.Env[k] = security.RedactPlaceholder
	}
	tools := g.services.Sources.Tools(srv.ID)
	if tools == nil {
		tools = []source.Tool{}
	}
	return sourceJSON{Server: srv, Tools: tools}
}

// sourceRoutes mounts external source administration under /api/sources.
func (g *Gateway) sourceRoutes(r chi.Router) {
	m := g.services.Sources
	r.Get("/", g.handleListSources())
	r.Post("/", g.handleAddSource())
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", g.sourceAction(m.Get))
		r.Put("/", g.handleUpdateSource())
		r.Delete("/", g.handleDeleteSource())
		r.Post("/approve", g.sourceAction(m.Approve))
		r.Post("/revoke", g.sourceAction(m.Revoke))
		r.Post("/enable", g.sourceAction(func(ctx context.Context, id string) (source.Server, error) {
			return m.SetEnabled(ctx, id, true)
		}))
		r.Post("/disable", g.sourceAction(func(ctx context.Context, id string) (source.Server, error) {
			return m.SetEnabled(ctx, id, false)
		}))
		r.Post("/probe", g.handleProbeSource())
		r.Post("/tools/{tool}/approve", g.toolAction(m.ApproveTool))
		r.Post("/tools/{tool}/revoke", g.toolAction(m.RevokeTool))
	})
}

func (g *Gateway) handleListSources() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		servers, err := g.services.Sources.List(r.Context())
		if err != nil {
			writeError(w, g.logger, err)
			return
		}
		out := make([]sourceJSON, 0, len(servers))
		for _, srv := range servers {
			out = append(out, g.sourceView(srv))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (g *Gateway) handleAddSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var srv source.Server
		if err := decodeJSON(r, &srv); err != nil {
			badRequest(w, err.Error())
			return
		}
		created, err := g.services.Sources.Add(r.Context(), srv)
		if err != nil {
			writeError(w, g.logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, g.sourceView(created))
	}
}

func (g *Gateway) handleUpdateSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch source.Server
		if err := decodeJSON(r, &patch); err != nil {
			badRequest(w, err.Error())
			return
		}
		id := chi.URLParam(r, "id")
		// A masked value read back from this API keeps the stored one.
		if len(patch.Env) > 0 {
			cur, err := g.services.Sources.Get(r.Context(), id)
			if err != nil {
				writeError(w, g.logger, err)
				return
			}
			for k, v := range patch.Env {
				if v == security.RedactPlaceholder {
					patch.Env[k] = cur.Env[k]
				}
			}
		}
		updated, err := g.services.Sources.Update(r.Context(), id, patch)
		if err != nil {
			writeError(w, g.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, g.sourceView(updated))
	}
}

func (g *Gateway) handleDeleteSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := g.services.Sources.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, g.logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleProbeSource probes one server now. A failed probe is not an API
// error: the server comes back unhealthy with its last error set.
func (g *Gateway) handleProbeSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		srv, err := g.services.Sources.Probe(r.Context(), chi.URLParam(r, "id"))
		if err != nil && srv.ID == "" {
			writeError(w, g.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, g.sourceView(srv))
	}
}

func (g *Gateway) sourceAction(fn func(ctx context.Context, id string) (source.Server, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		srv, err := fn(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, g.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, g.sourceView(srv))
	}
}

func (g *Gateway) toolAction(fn func(ctx context.Context, id, tool string) (source.Server, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		srv, err := fn(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "tool"))
		if err != nil {
			writeError(w, g.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, g.sourceView(srv))
	}
}
