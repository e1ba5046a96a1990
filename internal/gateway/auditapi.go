package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/skillgate/internal/audit"
)

const maxAuditPage = 500

// handleListSummaries returns the per-capability summaries dashboards read.
func (g *Gateway) handleListSummaries() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sums, err := g.services.Summaries.ListSummaries(r.Context())
		if err != nil {
			writeError(w, g.logger, err)
			return
		}
		if sums == nil {
			sums = []audit.Summary{}
		}
		writeJSON(w, http.StatusOK, sums)
	}
}

// parseAuditQuery reads the drill-down filters from the query string.
func parseAuditQuery(r *http.Request) (audit.Query, error) {
	v := r.URL.Query()
	q := audit.Query{
		Capability: v.Get("capability"),
		ReasonCode: v.Get("reason"),
		Limit:      100,
	}
	if s := v.Get("success"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return q, err
		}
		q.Success = &b
	}
	if s := v.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, err
		}
		q.Since = t
	}
	if s := v.Get("before"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return q, err
		}
		q.BeforeID = id
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return q, strconv.ErrSyntax
		}
		q.Limit = min(n, maxAuditPage)
	}
	return q, nil
}

// handleQueryAudit lists audit records, newest first. Paging uses the id
// of the last record as ?before=.
func (g *Gateway) handleQueryAudit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := parseAuditQuery(r)
		if err != nil {
			badRequest(w, "invalid query: "+err.Error())
			return
		}
		recs, err := g.services.Audit.ListRecords(r.Context(), q)
		if err != nil {
			writeError(w, g.logger, err)
			return
		}
		if recs == nil {
			recs = []audit.Record{}
		}
		writeJSON(w, http.StatusOK, recs)
	}
}

// auditDetail is one record with its full output when it was capped.
type auditDetail struct {
	audit.Record
	FullOutput string `json:"full_output,omitempty"`
}

func (g *Gateway) handleGetAudit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			badRequest(w, "invalid audit id")
			return
		}
		rec, err := g.services.Audit.GetRecord(r.Context(), id)
		if err != nil {
			writeError(w, g.logger, err)
			return
		}
		out := auditDetail{Record: rec}
		if rec.OutputRef != "" && g.services.Blobs != nil {
			full, err := g.services.Blobs.GetBlob(r.Context(), rec.OutputRef)
			if err != nil {
				g.logger.Warn("gateway: audit blob unavailable", "audit_id", id, "ref", rec.OutputRef, "error", err)
			} else {
				out.FullOutput = full
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}
