package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/SRXKaiser/mro-inventory/internal/core"
)

func (h *Handler) lowStockReport(w http.ResponseWriter, r *http.Request) {
	if !h.requireCap(w, r, core.CapExport) {
		return
	}
	rows, err := h.svc.Reporting.GetLowStock(r.Context())
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, rows)
}

func (h *Handler) dailyKPIs(w http.ResponseWriter, r *http.Request) {
	if !h.requireCap(w, r, core.CapExport) {
		return
	}
	day := time.Now()
	if d := r.URL.Query().Get("date"); d != "" {
		parsed, err := time.Parse("2006-01-02", d)
		if err != nil {
			writeError(w, r, "invalid date, expected YYYY-MM-DD", "VALIDATION", http.StatusBadRequest)
			return
		}
		day = parsed
	}
	kpis, err := h.svc.Reporting.GetDailyKPIs(r.Context(), day)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, kpis)
}

func (h *Handler) sendDailyReport(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	if !h.requireCap(w, r, core.CapExport) {
		return
	}
	day := time.Now()
	if d := r.URL.Query().Get("date"); d != "" {
		parsed, err := time.Parse("2006-01-02", d)
		if err != nil {
			writeError(w, r, "invalid date, expected YYYY-MM-DD", "VALIDATION", http.StatusBadRequest)
			return
		}
		day = parsed
	}
	force := r.URL.Query().Get("force") == "true"
	ev, err := h.svc.Notify.SendDailyReport(r.Context(), day, force)
	if err != nil && ev == nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, ev)
}

func (h *Handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	if !h.requireCap(w, r, core.CapExport) {
		return
	}
	q := r.URL.Query()
	entityID, _ := strconv.Atoi(q.Get("entity_id"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	entries, err := h.svc.Audit.GetEntries(r.Context(), q.Get("entity_kind"), entityID, limit)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, entries)
}
