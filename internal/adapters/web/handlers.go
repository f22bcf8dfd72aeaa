package web

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SRXKaiser/mro-inventory/internal/core"
)

// Services bundles everything the HTTP surface needs.
type Services struct {
	Stock     core.StockService
	Catalog   core.CatalogService
	Locations core.LocationService
	Orders    core.WorkOrderService
	OrderOps  core.WorkOrderStockService
	Workflow  core.WorkflowService
	Reporting core.ReportingService
	Notify    core.NotifyService
	Audit     core.AuditService
}

// Handler holds the services and the chi router.
type Handler struct {
	svc    Services
	router chi.Router
	log    *slog.Logger
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc Services, log *slog.Logger, exposeMetrics bool) http.Handler {
	h := &Handler{svc: svc, log: log}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(Identity)

	r.Get("/api/health", h.health)
	if exposeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(RequestBodyLimit(1 << 20)) // 1 MB

		// Registry
		r.Post("/api/warehouses", h.createWarehouse)
		r.Get("/api/warehouses", h.listWarehouses)
		r.Get("/api/warehouses/{code}", h.getWarehouse)
		r.Post("/api/locations", h.createLocation)
		r.Get("/api/locations", h.listLocations)
		r.Get("/api/locations/{warehouse}/{code}", h.getLocation)
		r.Delete("/api/locations/{id}", h.deactivateLocation)

		// Catalog
		r.Post("/api/items", h.createItem)
		r.Get("/api/items", h.listItems)
		r.Get("/api/items/{sku}", h.getItem)
		r.Put("/api/items/{sku}/min-stock", h.setMinStock)
		r.Delete("/api/items/{sku}", h.deactivateItem)

		// Stock ledger
		r.Post("/api/stock/movements", h.registerMovement)
		r.Get("/api/stock/movements", h.listMovements)
		r.Get("/api/stock/movements/{id}", h.getMovement)
		r.Post("/api/stock/movements/{id}/void", h.voidMovement)
		r.Post("/api/stock/transfer", h.transfer)
		r.Post("/api/stock/adjust-delta", h.adjustDelta)
		r.Post("/api/stock/adjust-set", h.adjustSet)
		r.Get("/api/stock/levels", h.stockLevels)
		r.Get("/api/stock/snapshot", h.getSnapshot)

		// Work orders
		r.Post("/api/work-orders", h.createWorkOrder)
		r.Get("/api/work-orders", h.listWorkOrders)
		r.Get("/api/work-orders/by-code/{code}", h.getWorkOrderByCode)
		r.Get("/api/work-orders/{id}", h.getWorkOrder)
		r.Post("/api/work-orders/{id}/lines", h.addWorkOrderLine)
		r.Post("/api/work-orders/{id}/reserve", h.reserveForLine)
		r.Post("/api/work-orders/{id}/consume", h.consume)
		r.Post("/api/work-orders/{id}/return", h.returnToStock)
		r.Post("/api/work-orders/{id}/recompute", h.recomputeLines)
		r.Get("/api/work-orders/{id}/issues", h.listIssues)
		r.Get("/api/work-orders/{id}/returns", h.listReturns)
		r.Get("/api/work-orders/{id}/reservations", h.listReservations)
		r.Post("/api/reservations/{id}/release", h.releaseReservation)

		// Workflow
		r.Post("/api/work-orders/{id}/approve", h.approveWorkOrder)
		r.Post("/api/work-orders/{id}/pause", h.pauseWorkOrder)
		r.Post("/api/work-orders/{id}/resume", h.resumeWorkOrder)
		r.Post("/api/work-orders/{id}/complete", h.completeWorkOrder)
		r.Post("/api/work-orders/{id}/close", h.closeWorkOrder)
		r.Post("/api/work-orders/{id}/cancel", h.cancelWorkOrder)

		// Reports and audit
		r.Get("/api/reports/low-stock", h.lowStockReport)
		r.Get("/api/reports/daily-kpis", h.dailyKPIs)
		r.Post("/api/reports/daily/send", h.sendDailyReport)
		r.Get("/api/audit", h.auditEntries)
	})

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// requireCap rejects the request when the caller's role lacks the
// capability. Returns true when the request may proceed.
func (h *Handler) requireCap(w http.ResponseWriter, r *http.Request, cap core.Capability) bool {
	if err := core.RequireCapability(roleFromContext(r.Context()), cap); err != nil {
		writeCoreError(w, r, err)
		return false
	}
	return true
}

// requireActor extracts the X-Actor identity, rejecting anonymous mutations.
func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := actorFromContext(r.Context())
	if actor == "" {
		writeError(w, r, "X-Actor header is required", "VALIDATION", http.StatusBadRequest)
		return "", false
	}
	return actor, true
}

// audit records a best-effort audit entry; failures are logged, never
// surfaced to the client.
func (h *Handler) audit(r *http.Request, eventType, entityKind string, entityID int, before, after any) {
	actor := actorFromContext(r.Context())
	if actor == "" {
		actor = "anonymous"
	}
	if err := h.svc.Audit.Record(r.Context(), eventType, actor, entityKind, entityID, before, after); err != nil {
		h.log.Error("failed to write audit entry", "event", eventType, "error", err)
	}
}
