package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(g.observeHTTP)

	// Public, no auth required.
	r.Get("/health", g.handleHealth())
	if g.services.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", g.services.Metrics.Handler())
	}

	// Everything else requires auth and is not mounted without it.
	if !g.config.Auth.IsConfigured() {
		return r
	}

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(g.config.Auth, g.services.Limiter, g.logger))
		r.Get("/status", g.handleStatus())

		if g.services.Invoker != nil && !g.config.DisableMCP {
			g.mcp = newMCPBridge(g.services.Invoker, g.version, g.logger)
			r.Handle("/mcp", g.mcp.Handler())
		}
		if g.services.Feed != nil {
			r.Get("/ws/audit", g.handleAuditFeed())
		}

		r.Route("/api", func(r chi.Router) {
			r.Use(limitBody(g.config.MaxBodyBytes))

			if g.services.Invoker != nil {
				r.Post("/invoke", g.handleInvoke())
				r.Get("/dispatchable", g.handleListDispatchable())
			}
			if g.services.Registry != nil {
				r.Route("/capabilities", g.capabilityRoutes)
			}
			if g.services.Sources != nil {
				r.Route("/sources", g.sourceRoutes)
			}
			if g.services.Tasks != nil {
				r.Route("/tasks", g.taskRoutes)
			}
			if g.services.Summaries != nil {
				r.Get("/summaries", g.handleListSummaries())
			}
			if g.services.Audit != nil {
				r.Get("/audit", g.handleQueryAudit())
				r.Get("/audit/{id}", g.handleGetAudit())
			}
		})
	})

	return r
}

// limitBody caps request bodies.
func limitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// observeHTTP records every request by route pattern, so path parameters
// do not explode label cardinality.
func (g *Gateway) observeHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.services.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		g.services.Metrics.ObserveHTTP(route, r.Method, status)
	})
}
