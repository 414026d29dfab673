package handler

import (
	"net/http"
	"time"

	"github.com/autoscore/autoscore/internal/audit"
	"github.com/autoscore/autoscore/internal/model"
)

const maxAuditPage = 1000

// AuditHandler exposes stored audit records to administrators.
type AuditHandler struct {
	reader audit.Reader
}

// NewAuditHandler creates a new AuditHandler. reader may be nil when the
// configured sink cannot be queried.
func NewAuditHandler(reader audit.Reader) *AuditHandler {
	return &AuditHandler{reader: reader}
}

// List returns audit records newest first.
// GET /api/v1/audit?limit=&offset=&client=
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusNotImplemented, "The configured audit sink does not support queries")
		return
	}

	start := time.Now()
	f := audit.Filter{
		Limit:  min(max(queryInt(r, "limit", audit.DefaultLimit), 1), maxAuditPage),
		Offset: max(0, queryInt(r, "offset", 0)),
		Client: r.URL.Query().Get("client"),
	}

	records, err := h.reader.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list audit records: "+err.Error())
		return
	}
	total, err := h.reader.Count(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count audit records: "+err.Error())
		return
	}
	if records == nil {
		records = []model.AuditRecord{}
	}

	writeJSON(w, http.StatusOK, model.ListResponse[model.AuditRecord]{
		Resource: records,
		Meta: &model.ResponseMeta{
			Count:  len(records),
			Total:  &total,
			Limit:  f.Limit,
			Offset: f.Offset,
			TookMs: float64(time.Since(start).Microseconds()) / 1000.0,
		},
	})
}
