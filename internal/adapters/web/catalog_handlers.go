package web

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/SRXKaiser/mro-inventory/internal/core"
)

type warehouseRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func (h *Handler) createWarehouse(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	if !h.requireCap(w, r, core.CapManage) {
		return
	}
	var req warehouseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	wh, err := h.svc.Locations.CreateWarehouse(r.Context(), req.Code, req.Name)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	h.audit(r, "registry.warehouse_created", "warehouse", wh.ID, nil, wh)
	writeJSON(w, wh)
}

func (h *Handler) listWarehouses(w http.ResponseWriter, r *http.Request) {
	whs, err := h.svc.Locations.GetWarehouses(r.Context())
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, whs)
}

func (h *Handler) getWarehouse(w http.ResponseWriter, r *http.Request) {
	wh, err := h.svc.Locations.GetWarehouseByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, wh)
}

type locationRequest struct {
	WarehouseCode string `json:"warehouse_code"`
	Code          string `json:"code"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
}

func (h *Handler) createLocation(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	if !h.requireCap(w, r, core.CapManage) {
		return
	}
	var req locationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	loc, err := h.svc.Locations.CreateLocation(r.Context(), req.WarehouseCode, req.Code, req.Name, req.Description)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	h.audit(r, "registry.location_created", "location", loc.ID, nil, loc)
	writeJSON(w, loc)
}

func (h *Handler) listLocations(w http.ResponseWriter, r *http.Request) {
	locs, err := h.svc.Locations.GetLocations(r.Context(), r.URL.Query().Get("warehouse"))
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, locs)
}

func (h *Handler) getLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := h.svc.Locations.GetLocationByCode(r.Context(),
		chi.URLParam(r, "warehouse"), chi.URLParam(r, "code"))
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, loc)
}

func (h *Handler) deactivateLocation(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	if !h.requireCap(w, r, core.CapManage) {
		return
	}
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, r, "invalid location id", "VALIDATION", http.StatusBadRequest)
		return
	}
	if err := h.svc.Locations.DeactivateLocation(r.Context(), id); err != nil {
		writeCoreError(w, r, err)
		return
	}
	h.audit(r, "registry.location_deactivated", "location", id, nil, nil)
	writeJSON(w, map[string]string{"status": "deactivated"})
}

type itemRequest struct {
	SKU             string          `json:"sku"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	ItemType        string          `json:"item_type"`
	CriticalityCode string          `json:"criticality"`
	UomCode         string          `json:"uom"`
	MinStock        decimal.Decimal `json:"min_stock"`
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	if !h.requireCap(w, r, core.CapManage) {
		return
	}
	var req itemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	item, err := h.svc.Catalog.CreateItem(r.Context(), core.ItemInput{
		SKU:             req.SKU,
		Name:            req.Name,
		Description:     req.Description,
		ItemType:        req.ItemType,
		CriticalityCode: req.CriticalityCode,
		UomCode:         req.UomCode,
		MinStock:        req.MinStock,
	})
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	h.audit(r, "catalog.item_created", "item", item.ID, nil, item)
	writeJSON(w, item)
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Catalog.GetItems(r.Context())
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, items)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.Catalog.GetItemBySKU(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, item)
}

type minStockRequest struct {
	MinStock decimal.Decimal `json:"min_stock"`
}

func (h *Handler) setMinStock(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	if !h.requireCap(w, r, core.CapManage) {
		return
	}
	var req minStockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sku := chi.URLParam(r, "sku")
	before, err := h.svc.Catalog.GetItemBySKU(r.Context(), sku)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	item, err := h.svc.Catalog.SetMinStock(r.Context(), sku, req.MinStock)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	h.audit(r, "catalog.min_stock_changed", "item", item.ID, before, item)
	writeJSON(w, item)
}

func (h *Handler) deactivateItem(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	if !h.requireCap(w, r, core.CapManage) {
		return
	}
	sku := chi.URLParam(r, "sku")
	if err := h.svc.Catalog.DeactivateItem(r.Context(), sku); err != nil {
		writeCoreError(w, r, err)
		return
	}
	h.audit(r, "catalog.item_deactivated", "item", 0, nil, map[string]string{"sku": sku})
	writeJSON(w, map[string]string{"status": "deactivated"})
}
