package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SRXKaiser/mro-inventory/internal/core"
)

func TestReporting_LowStock(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	stock := core.NewStockService(pool, nil)
	reporting := core.NewReportingService(pool)

	receive(t, ctx, stock, itemBearing, locA1, 3) // min 5
	receive(t, ctx, stock, itemOil, locA2, 50)    // min 20, healthy

	rows, err := reporting.GetLowStock(ctx)
	if err != nil {
		t.Fatalf("GetLowStock failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one low stock row, got %d", len(rows))
	}
	if rows[0].SKU != "BRG-6204" || rows[0].Severity != core.SeverityMedium {
		t.Errorf("expected BRG-6204 at MEDIUM, got %s at %s", rows[0].SKU, rows[0].Severity)
	}
}

func TestReporting_DailyKPIs(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	stock := core.NewStockService(pool, nil)
	orders := core.NewWorkOrderService(pool)
	reporting := core.NewReportingService(pool)

	receive(t, ctx, stock, itemBearing, locA1, 10)
	out, err := stock.RegisterMovement(ctx, core.MovementInput{
		ItemID: itemBearing, LocationID: locA1, Type: core.MovementOut,
		Quantity: decimal.NewFromInt(2), RegisteredBy: "tester",
	})
	if err != nil {
		t.Fatalf("OUT failed: %v", err)
	}
	if _, err := stock.VoidMovement(ctx, out.MovementID, "supervisor", "mistake", time.Time{}); err != nil {
		t.Fatalf("VoidMovement failed: %v", err)
	}
	if _, err := orders.CreateWorkOrder(ctx, "WO-3001", core.PriorityLow, "planner", "", ""); err != nil {
		t.Fatalf("CreateWorkOrder failed: %v", err)
	}

	kpis, err := reporting.GetDailyKPIs(ctx, time.Now())
	if err != nil {
		t.Fatalf("GetDailyKPIs failed: %v", err)
	}
	// IN(10), OUT(2), plus the reversal IN from the void.
	if kpis.MovementsByType[core.MovementIn] != 2 || kpis.MovementsByType[core.MovementOut] != 1 {
		t.Errorf("unexpected movement counts: %+v", kpis.MovementsByType)
	}
	if kpis.WorkOrdersCreated != 1 || kpis.WorkOrdersOpen != 1 {
		t.Errorf("expected 1 created / 1 open work order, got %d / %d",
			kpis.WorkOrdersCreated, kpis.WorkOrdersOpen)
	}
}
