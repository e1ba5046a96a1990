package gateway

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/skillgate/internal/schedule"
)

// taskRoutes mounts scheduled task administration under /api/tasks.
func (g *Gateway) taskRoutes(r chi.Router) {
	m := g.services.Tasks
	r.Get("/", g.handleListTasks())
	r.Post("/", g.handleCreateTask())
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", g.taskAction(m.Get))
		r.Delete("/", g.handleDeleteTask())
		r.Post("/enable", g.taskAction(m.Enable))
		r.Post("/disable", g.taskAction(m.Disable))
	})
}

func (g *Gateway) handleListTasks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tasks, err := g.services.Tasks.List(r.Context())
		if err != nil {
			writeError(w, g.logger, err)
			return
		}
		if tasks == nil {
			tasks = []schedule.Task{}
		}
		writeJSON(w, http.StatusOK, tasks)
	}
}

func (g *Gateway) handleCreateTask() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var t schedule.Task
		if err := decodeJSON(r, &t); err != nil {
			badRequest(w, err.Error())
			return
		}
		created, err := g.services.Tasks.Create(r.Context(), t)
		if err != nil {
			writeError(w, g.logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func (g *Gateway) handleDeleteTask() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := g.services.Tasks.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, g.logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (g *Gateway) taskAction(fn func(ctx context.Context, id string) (schedule.Task, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := fn(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, g.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}
