package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/SRXKaiser/mro-inventory/internal/core"
)

type createWorkOrderRequest struct {
	Code       string `json:"code"`
	Priority   string `json:"priority,omitempty"`
	AssignedTo string `json:"assigned_to,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

func (h *Handler) createWorkOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok || !h.requireCap(w, r, core.CapOperate) {
		return
	}
	var req createWorkOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	wo, err := h.svc.Orders.CreateWorkOrder(r.Context(), req.Code,
		core.WorkOrderPriority(req.Priority), actor, req.AssignedTo, req.Notes)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	h.audit(r, "workorder.created", "work_order", wo.ID, nil, wo)
	writeJSON(w, wo)
}

func (h *Handler) listWorkOrders(w http.ResponseWriter, r *http.Request) {
	var status *core.WorkOrderStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := core.WorkOrderStatus(s)
		status = &st
	}
	orders, err := h.svc.Orders.GetWorkOrders(r.Context(), status)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, orders)
}

func (h *Handler) getWorkOrderByCode(w http.ResponseWriter, r *http.Request) {
	wo, err := h.svc.Orders.GetWorkOrderByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, wo)
}

func (h *Handler) getWorkOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, "invalid work order id", "VALIDATION", http.StatusBadRequest)
		return
	}
	wo, err := h.svc.Orders.GetWorkOrder(r.Context(), id)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, wo)
}

type addLineRequest struct {
	SKU         string          `json:"sku"`
	QtyRequired decimal.Decimal `json:"qty_required"`
}

func (h *Handler) addWorkOrderLine(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	if !h.requireCap(w, r, core.CapOperate) {
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, "invalid work order id", "VALIDATION", http.StatusBadRequest)
		return
	}
	var req addLineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	line, err := h.svc.Orders.AddLine(r.Context(), id, req.SKU, req.QtyRequired)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, line)
}

type reserveRequest struct {
	LineID     int             `json:"line_id"`
	LocationID int             `json:"location_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Reason     string          `json:"reason,omitempty"`
}

func (h *Handler) reserveForLine(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok || !h.requireCap(w, r, core.CapOperate) {
		return
	}
	if _, ok := pathID(r); !ok {
		writeError(w, r, "invalid work order id", "VALIDATION", http.StatusBadRequest)
		return
	}
	var req reserveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.svc.OrderOps.Reserve(r.Context(), req.LineID, req.LocationID, req.Quantity, actor, req.Reason)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	h.audit(r, "workorder.reserved", "reservation", res.ID, nil, res)
	writeJSON(w, res)
}

type releaseRequest struct {
	Quantity decimal.Decimal `json:"quantity,omitempty"`
}

func (h *Handler) releaseReservation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok || !h.requireCap(w, r, core.CapOperate) {
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, "invalid reservation id", "VALIDATION", http.StatusBadRequest)
		return
	}
	var req releaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.svc.OrderOps.ReleaseReservation(r.Context(), id, req.Quantity, actor)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	h.audit(r, "workorder.released", "reservation", id, nil, res)
	writeJSON(w, res)
}

type consumeRequest struct {
	Notes string `json:"notes,omitempty"`
	Lines []struct {
		LineID        int             `json:"line_id"`
		LocationID    int             `json:"location_id"`
		Quantity      decimal.Decimal `json:"quantity"`
		ReservationID *int            `json:"reservation_id,omitempty"`
	} `json:"lines"`
}

func (h *Handler) consume(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok || !h.requireCap(w, r, core.CapOperate) {
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, "invalid work order id", "VALIDATION", http.StatusBadRequest)
		return
	}
	var req consumeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	lines := make([]core.ConsumeLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, core.ConsumeLine{
			LineID: l.LineID, LocationID: l.LocationID,
			Quantity: l.Quantity, ReservationID: l.ReservationID,
		})
	}
	issue, err := h.svc.OrderOps.Consume(r.Context(), id, actor, req.Notes, lines)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	h.audit(r, "workorder.consumed", "work_order", id, nil, issue)
	writeJSON(w, issue)
}

type returnRequest struct {
	Notes string `json:"notes,omitempty"`
	Lines []struct {
		LineID     int             `json:"line_id"`
		LocationID int             `json:"location_id"`
		Quantity   decimal.Decimal `json:"quantity"`
	} `json:"lines"`
}

func (h *Handler) returnToStock(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok || !h.requireCap(w, r, core.CapOperate) {
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, "invalid work order id", "VALIDATION", http.StatusBadRequest)
		return
	}
	var req returnRequest
	if !decodeBody(w, r, &req) {
		return
	}
	lines := make([]core.ReturnLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, core.ReturnLine{
			LineID: l.LineID, LocationID: l.LocationID, Quantity: l.Quantity,
		})
	}
	ret, err := h.svc.OrderOps.ReturnToStock(r.Context(), id, actor, req.Notes, lines)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	h.audit(r, "workorder.returned", "work_order", id, nil, ret)
	writeJSON(w, ret)
}

func (h *Handler) recomputeLines(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	if !h.requireCap(w, r, core.CapManage) {
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, "invalid work order id", "VALIDATION", http.StatusBadRequest)
		return
	}
	lines, err := h.svc.OrderOps.RecomputeLineCaches(r.Context(), id)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, lines)
}

func (h *Handler) listIssues(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, "invalid work order id", "VALIDATION", http.StatusBadRequest)
		return
	}
	issues, err := h.svc.Orders.GetIssues(r.Context(), id)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, issues)
}

func (h *Handler) listReturns(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, "invalid work order id", "VALIDATION", http.StatusBadRequest)
		return
	}
	returns, err := h.svc.Orders.GetReturns(r.Context(), id)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, returns)
}

func (h *Handler) listReservations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, "invalid work order id", "VALIDATION", http.StatusBadRequest)
		return
	}
	reservations, err := h.svc.Orders.GetReservations(r.Context(), id)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, reservations)
}

// ── Workflow transitions ──────────────────────────────────────────────────────

type reasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) workflowTransition(w http.ResponseWriter, r *http.Request, cap core.Capability,
	event string, fn func(id int, actor, reason string) (*core.WorkOrder, error)) {
	actor, ok := h.requireActor(w, r)
	if !ok || !h.requireCap(w, r, cap) {
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, "invalid work order id", "VALIDATION", http.StatusBadRequest)
		return
	}
	var req reasonRequest
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}
	wo, err := fn(id, actor, req.Reason)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	h.audit(r, event, "work_order", wo.ID, nil, wo)
	writeJSON(w, wo)
}

func (h *Handler) approveWorkOrder(w http.ResponseWriter, r *http.Request) {
	h.workflowTransition(w, r, core.CapManage, "workorder.approved",
		func(id int, actor, _ string) (*core.WorkOrder, error) {
			return h.svc.Workflow.Approve(r.Context(), id, actor)
		})
}

func (h *Handler) pauseWorkOrder(w http.ResponseWriter, r *http.Request) {
	h.workflowTransition(w, r, core.CapOperate, "workorder.paused",
		func(id int, actor, reason string) (*core.WorkOrder, error) {
			return h.svc.Workflow.Pause(r.Context(), id, actor, reason)
		})
}

func (h *Handler) resumeWorkOrder(w http.ResponseWriter, r *http.Request) {
	h.workflowTransition(w, r, core.CapOperate, "workorder.resumed",
		func(id int, actor, _ string) (*core.WorkOrder, error) {
			return h.svc.Workflow.Resume(r.Context(), id, actor)
		})
}

func (h *Handler) completeWorkOrder(w http.ResponseWriter, r *http.Request) {
	h.workflowTransition(w, r, core.CapOperate, "workorder.completed",
		func(id int, actor, _ string) (*core.WorkOrder, error) {
			return h.svc.Workflow.Complete(r.Context(), id, actor)
		})
}

func (h *Handler) closeWorkOrder(w http.ResponseWriter, r *http.Request) {
	h.workflowTransition(w, r, core.CapManage, "workorder.closed",
		func(id int, actor, _ string) (*core.WorkOrder, error) {
			return h.svc.Workflow.Close(r.Context(), id, actor)
		})
}

func (h *Handler) cancelWorkOrder(w http.ResponseWriter, r *http.Request) {
	h.workflowTransition(w, r, core.CapManage, "workorder.cancelled",
		func(id int, actor, reason string) (*core.WorkOrder, error) {
			return h.svc.Workflow.Cancel(r.Context(), id, actor, reason)
		})
}
