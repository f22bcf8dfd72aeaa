package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/SRXKaiser/mro-inventory/internal/core"
)

func pathID(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	return id, err == nil && id > 0
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, "invalid request body: "+err.Error(), "VALIDATION", http.StatusBadRequest)
		return false
	}
	return true
}

type movementRequest struct {
	ItemID     int             `json:"item_id"`
	LocationID int             `json:"location_id"`
	Type       string          `json:"type"`
	Quantity   decimal.Decimal `json:"quantity"`
	OccurredAt *time.Time      `json:"occurred_at,omitempty"`
	Reference  string          `json:"reference,omitempty"`
	Notes      string          `json:"notes,omitempty"`
}

func (h *Handler) registerMovement(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok || !h.requireCap(w, r, core.CapOperate) {
		return
	}
	var req movementRequest
	if !decodeBody(w, r, &req) {
		return
	}
	in := core.MovementInput{
		ItemID:       req.ItemID,
		LocationID:   req.LocationID,
		Type:         core.MovementType(req.Type),
		Quantity:     req.Quantity,
		RegisteredBy: actor,
		Reference:    req.Reference,
		Notes:        req.Notes,
	}
	if req.OccurredAt != nil {
		in.OccurredAt = *req.OccurredAt
	}
	res, err := h.svc.Stock.RegisterMovement(r.Context(), in)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	h.audit(r, "stock.movement", "movement", res.MovementID, nil, res)
	writeJSON(w, res)
}

type transferRequest struct {
	ItemID         int             `json:"item_id"`
	FromLocationID int             `json:"from_location_id"`
	ToLocationID   int             `json:"to_location_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	Reference      string          `json:"reference,omitempty"`
	Notes          string          `json:"notes,omitempty"`
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok || !h.requireCap(w, r, core.CapOperate) {
		return
	}
	var req transferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.svc.Stock.Transfer(r.Context(), core.TransferInput{
		ItemID:         req.ItemID,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Quantity:       req.Quantity,
		RegisteredBy:   actor,
		Reference:      req.Reference,
		Notes:          req.Notes,
	})
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	h.audit(r, "stock.transfer", "movement", res.OutMovementID, nil, res)
	writeJSON(w, res)
}

type adjustRequest struct {
	ItemID     int              `json:"item_id"`
	LocationID int              `json:"location_id"`
	Reason     string           `json:"reason"`
	Delta      *decimal.Decimal `json:"delta,omitempty"`
	NewOnHand  *decimal.Decimal `json:"new_on_hand,omitempty"`
	Reference  string           `json:"reference,omitempty"`
	Notes      string           `json:"notes,omitempty"`
}

func (h *Handler) adjustDelta(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok || !h.requireCap(w, r, core.CapManage) {
		return
	}
	var req adjustRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Delta == nil {
		writeError(w, r, "delta is required", "VALIDATION", http.StatusBadRequest)
		return
	}
	res, err := h.svc.Stock.AdjustDelta(r.Context(), core.AdjustInput{
		ItemID: req.ItemID, LocationID: req.LocationID,
		RegisteredBy: actor, Reason: req.Reason,
		Reference: req.Reference, Notes: req.Notes,
	}, *req.Delta)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	h.audit(r, "stock.adjust_delta", "movement", res.MovementID, nil, res)
	writeJSON(w, res)
}

func (h *Handler) adjustSet(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok || !h.requireCap(w, r, core.CapManage) {
		return
	}
	var req adjustRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.NewOnHand == nil {
		writeError(w, r, "new_on_hand is required", "VALIDATION", http.StatusBadRequest)
		return
	}
	res, err := h.svc.Stock.AdjustSet(r.Context(), core.AdjustInput{
		ItemID: req.ItemID, LocationID: req.LocationID,
		RegisteredBy: actor, Reason: req.Reason,
		Reference: req.Reference, Notes: req.Notes,
	}, *req.NewOnHand)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	h.audit(r, "stock.adjust_set", "movement", res.MovementID, nil, res)
	writeJSON(w, res)
}

type voidRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) voidMovement(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok || !h.requireCap(w, r, core.CapManage) {
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, "invalid movement id", "VALIDATION", http.StatusBadRequest)
		return
	}
	var req voidRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.svc.Stock.VoidMovement(r.Context(), id, actor, req.Reason, time.Time{})
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	h.audit(r, "stock.void", "movement", id, nil, res)
	writeJSON(w, res)
}

func (h *Handler) getMovement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, "invalid movement id", "VALIDATION", http.StatusBadRequest)
		return
	}
	mv, err := h.svc.Stock.GetMovement(r.Context(), id)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, mv)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	itemID, _ := strconv.Atoi(q.Get("item_id"))
	locationID, _ := strconv.Atoi(q.Get("location_id"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	movements, err := h.svc.Stock.GetMovements(r.Context(), itemID, locationID, limit)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, movements)
}

func (h *Handler) stockLevels(w http.ResponseWriter, r *http.Request) {
	levels, err := h.svc.Stock.GetStockLevels(r.Context())
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, levels)
}

func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	itemID, _ := strconv.Atoi(q.Get("item_id"))
	locationID, _ := strconv.Atoi(q.Get("location_id"))
	if itemID == 0 || locationID == 0 {
		writeError(w, r, "item_id and location_id are required", "VALIDATION", http.StatusBadRequest)
		return
	}
	snap, err := h.svc.Stock.GetSnapshot(r.Context(), itemID, locationID)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, snap)
}
