package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/SRXKaiser/mro-inventory/internal/core"
)

// setupWorkOrderTest seeds stock and returns the full work order stack.
func setupWorkOrderTest(t *testing.T) (*pgxpool.Pool, core.StockService, core.WorkOrderService, core.WorkOrderStockService, core.WorkflowService, context.Context) {
	t.Helper()
	pool := setupTestDB(t)
	ctx := context.Background()

	stock := core.NewStockService(pool, nil)
	orders := core.NewWorkOrderService(pool)
	orderOps := core.NewWorkOrderStockService(pool, stock, nil)
	workflow := core.NewWorkflowService(pool, stock, nil)

	receive(t, ctx, stock, itemBearing, locA1, 20)
	receive(t, ctx, stock, itemOil, locA2, 50)

	return pool, stock, orders, orderOps, workflow, ctx
}

// draftWithLine creates a DRAFT order with one bearing line of 8.
func draftWithLine(t *testing.T, ctx context.Context, orders core.WorkOrderService) (*core.WorkOrder, *core.WorkOrderLine) {
	t.Helper()
	wo, err := orders.CreateWorkOrder(ctx, "WO-1001", core.PriorityHigh, "planner", "tech.a", "pump overhaul")
	if err != nil {
		t.Fatalf("CreateWorkOrder failed: %v", err)
	}
	line, err := orders.AddLine(ctx, wo.ID, "BRG-6204", decimal.NewFromInt(8))
	if err != nil {
		t.Fatalf("AddLine failed: %v", err)
	}
	return wo, line
}

func TestWorkOrder_DuplicateLineRejected(t *testing.T) {
	pool, _, orders, _, _, ctx := setupWorkOrderTest(t)
	defer pool.Close()

	wo, _ := draftWithLine(t, ctx, orders)
	if _, err := orders.AddLine(ctx, wo.ID, "BRG-6204", decimal.NewFromInt(2)); err == nil {
		t.Fatal("expected duplicate (work order, item) line to be rejected")
	}
}

func TestWorkOrder_ReserveTracksSnapshot(t *testing.T) {
	pool, stock, orders, orderOps, _, ctx := setupWorkOrderTest(t)
	defer pool.Close()

	_, line := draftWithLine(t, ctx, orders)
	res, err := orderOps.Reserve(ctx, line.ID, locA1, decimal.NewFromInt(6), "planner", "pre-kitting")
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if res.Status != core.ReservationActive {
		t.Errorf("expected ACTIVE reservation, got %s", res.Status)
	}

	_, reserved := snapshotQty(t, ctx, stock, itemBearing, locA1)
	if !reserved.Equal(decimal.NewFromInt(6)) {
		t.Errorf("expected snapshot reserved 6, got %s", reserved)
	}

	wo2, err := orders.GetWorkOrder(ctx, line.WorkOrderID)
	if err != nil {
		t.Fatalf("GetWorkOrder failed: %v", err)
	}
	if !wo2.Lines[0].QtyReserved.Equal(decimal.NewFromInt(6)) {
		t.Errorf("expected line qty_reserved 6, got %s", wo2.Lines[0].QtyReserved)
	}
}

func TestWorkOrder_PartialReleaseThenFull(t *testing.T) {
	pool, stock, orders, orderOps, _, ctx := setupWorkOrderTest(t)
	defer pool.Close()

	_, line := draftWithLine(t, ctx, orders)
	res, err := orderOps.Reserve(ctx, line.ID, locA1, decimal.NewFromInt(6), "planner", "")
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	partial, err := orderOps.ReleaseReservation(ctx, res.ID, decimal.NewFromInt(2), "planner")
	if err != nil {
		t.Fatalf("partial release failed: %v", err)
	}
	if partial.Status != core.ReservationActive || !partial.Quantity.Equal(decimal.NewFromInt(4)) {
		t.Errorf("expected ACTIVE/4 after partial release, got %s/%s", partial.Status, partial.Quantity)
	}

	full, err := orderOps.ReleaseReservation(ctx, res.ID, decimal.Zero, "planner")
	if err != nil {
		t.Fatalf("full release failed: %v", err)
	}
	if full.Status != core.ReservationReleased || full.ReleasedAt == nil {
		t.Errorf("expected RELEASED with released_at, got %s", full.Status)
	}

	_, reserved := snapshotQty(t, ctx, stock, itemBearing, locA1)
	if !reserved.IsZero() {
		t.Errorf("expected snapshot reserved 0, got %s", reserved)
	}

	// Releasing a closed reservation fails.
	_, err = orderOps.ReleaseReservation(ctx, res.ID, decimal.Zero, "planner")
	var state *core.InvalidReservationStateError
	if !errors.As(err, &state) {
		t.Fatalf("expected InvalidReservationStateError, got %v", err)
	}
}

func TestWorkOrder_ConsumeFromReservationAutoStarts(t *testing.T) {
	pool, stock, orders, orderOps, workflow, ctx := setupWorkOrderTest(t)
	defer pool.Close()

	wo, line := draftWithLine(t, ctx, orders)
	res, err := orderOps.Reserve(ctx, line.ID, locA1, decimal.NewFromInt(6), "planner", "")
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if _, err := workflow.Approve(ctx, wo.ID, "supervisor"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	issue, err := orderOps.Consume(ctx, wo.ID, "tech.a", "first batch", []core.ConsumeLine{
		{LineID: line.ID, LocationID: locA1, Quantity: decimal.NewFromInt(4), ReservationID: &res.ID},
	})
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if len(issue.Lines) != 1 || issue.Lines[0].MovementOutID == 0 {
		t.Fatalf("expected one issue line with an OUT movement, got %+v", issue.Lines)
	}

	after, err := orders.GetWorkOrder(ctx, wo.ID)
	if err != nil {
		t.Fatalf("GetWorkOrder failed: %v", err)
	}
	if after.Status != core.WorkOrderInProgress || after.StartedAt == nil {
		t.Errorf("first consumption must move APPROVED to IN_PROGRESS with started_at, got %s", after.Status)
	}
	if !after.Lines[0].QtyConsumed.Equal(decimal.NewFromInt(4)) {
		t.Errorf("expected qty_consumed 4, got %s", after.Lines[0].QtyConsumed)
	}
	if !after.Lines[0].QtyReserved.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected qty_reserved 2 after drawing 4 of 6, got %s", after.Lines[0].QtyReserved)
	}

	onHand, reserved := snapshotQty(t, ctx, stock, itemBearing, locA1)
	if !onHand.Equal(decimal.NewFromInt(16)) || !reserved.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected snapshot 16/2, got %s/%s", onHand, reserved)
	}

	// The OUT movement carries the work order reference.
	mv, err := stock.GetMovement(ctx, issue.Lines[0].MovementOutID)
	if err != nil {
		t.Fatalf("GetMovement failed: %v", err)
	}
	if mv.Reference != "WO:WO-1001" {
		t.Errorf("expected reference WO:WO-1001, got %q", mv.Reference)
	}
}

func TestWorkOrder_ConsumeBeyondReservationFails(t *testing.T) {
	pool, _, orders, orderOps, workflow, ctx := setupWorkOrderTest(t)
	defer pool.Close()

	wo, line := draftWithLine(t, ctx, orders)
	res, err := orderOps.Reserve(ctx, line.ID, locA1, decimal.NewFromInt(2), "planner", "")
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if _, err := workflow.Approve(ctx, wo.ID, "supervisor"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	_, err = orderOps.Consume(ctx, wo.ID, "tech.a", "", []core.ConsumeLine{
		{LineID: line.ID, LocationID: locA1, Quantity: decimal.NewFromInt(3), ReservationID: &res.ID},
	})
	var state *core.InvalidReservationStateError
	if !errors.As(err, &state) {
		t.Fatalf("expected InvalidReservationStateError, got %v", err)
	}
}

func TestWorkOrder_ReturnToStock(t *testing.T) {
	pool, stock, orders, orderOps, workflow, ctx := setupWorkOrderTest(t)
	defer pool.Close()

	wo, line := draftWithLine(t, ctx, orders)
	if _, err := workflow.Approve(ctx, wo.ID, "supervisor"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := orderOps.Consume(ctx, wo.ID, "tech.a", "", []core.ConsumeLine{
		{LineID: line.ID, LocationID: locA1, Quantity: decimal.NewFromInt(5)},
	}); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	ret, err := orderOps.ReturnToStock(ctx, wo.ID, "tech.a", "unused", []core.ReturnLine{
		{LineID: line.ID, LocationID: locA1, Quantity: decimal.NewFromInt(2)},
	})
	if err != nil {
		t.Fatalf("ReturnToStock failed: %v", err)
	}
	if len(ret.Lines) != 1 || ret.Lines[0].MovementInID == 0 {
		t.Fatalf("expected one return line with an IN movement")
	}

	onHand, _ := snapshotQty(t, ctx, stock, itemBearing, locA1)
	if !onHand.Equal(decimal.NewFromInt(17)) {
		t.Errorf("expected on_hand 17 after consume 5 return 2, got %s", onHand)
	}

	// A line cannot return more than it consumed.
	_, err = orderOps.ReturnToStock(ctx, wo.ID, "tech.a", "", []core.ReturnLine{
		{LineID: line.ID, LocationID: locA1, Quantity: decimal.NewFromInt(4)},
	})
	var validation *core.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestWorkOrder_RecomputeIsIdempotent(t *testing.T) {
	pool, _, orders, orderOps, workflow, ctx := setupWorkOrderTest(t)
	defer pool.Close()

	wo, line := draftWithLine(t, ctx, orders)
	res, err := orderOps.Reserve(ctx, line.ID, locA1, decimal.NewFromInt(6), "planner", "")
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if _, err := workflow.Approve(ctx, wo.ID, "supervisor"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := orderOps.Consume(ctx, wo.ID, "tech.a", "", []core.ConsumeLine{
		{LineID: line.ID, LocationID: locA1, Quantity: decimal.NewFromInt(4), ReservationID: &res.ID},
	}); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	first, err := orderOps.RecomputeLineCaches(ctx, wo.ID)
	if err != nil {
		t.Fatalf("RecomputeLineCaches failed: %v", err)
	}
	second, err := orderOps.RecomputeLineCaches(ctx, wo.ID)
	if err != nil {
		t.Fatalf("second RecomputeLineCaches failed: %v", err)
	}

	if !first[0].QtyReserved.Equal(decimal.NewFromInt(2)) ||
		!first[0].QtyConsumed.Equal(decimal.NewFromInt(4)) ||
		!first[0].QtyReturned.IsZero() {
		t.Errorf("recompute produced %s/%s/%s, expected 2/4/0",
			first[0].QtyReserved, first[0].QtyConsumed, first[0].QtyReturned)
	}
	if !first[0].QtyReserved.Equal(second[0].QtyReserved) ||
		!first[0].QtyConsumed.Equal(second[0].QtyConsumed) ||
		!first[0].QtyReturned.Equal(second[0].QtyReturned) {
		t.Error("recompute must be idempotent")
	}
}

func TestWorkOrder_ConsumeBatchOrderedByItemLocation(t *testing.T) {
	pool, _, orders, orderOps, workflow, ctx := setupWorkOrderTest(t)
	defer pool.Close()

	wo, err := orders.CreateWorkOrder(ctx, "WO-1002", core.PriorityMedium, "planner", "tech.a", "")
	if err != nil {
		t.Fatalf("CreateWorkOrder failed: %v", err)
	}
	// Line ids run opposite to item ids: the oil line is created first.
	oilLine, err := orders.AddLine(ctx, wo.ID, "OIL-VG46", decimal.NewFromInt(5))
	if err != nil {
		t.Fatalf("AddLine failed: %v", err)
	}
	bearingLine, err := orders.AddLine(ctx, wo.ID, "BRG-6204", decimal.NewFromInt(2))
	if err != nil {
		t.Fatalf("AddLine failed: %v", err)
	}
	if _, err := workflow.Approve(ctx, wo.ID, "supervisor"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	issue, err := orderOps.Consume(ctx, wo.ID, "tech.a", "", []core.ConsumeLine{
		{LineID: oilLine.ID, LocationID: locA2, Quantity: decimal.NewFromInt(3)},
		{LineID: bearingLine.ID, LocationID: locA1, Quantity: decimal.NewFromInt(2)},
	})
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if len(issue.Lines) != 2 {
		t.Fatalf("expected 2 issue lines, got %d", len(issue.Lines))
	}
	// Lines are processed in ascending (item, location) order so concurrent
	// batches always lock shared snapshots the same way.
	if issue.Lines[0].ItemID != itemBearing || issue.Lines[1].ItemID != itemOil {
		t.Errorf("expected item order (%d, %d), got (%d, %d)",
			itemBearing, itemOil, issue.Lines[0].ItemID, issue.Lines[1].ItemID)
	}
}
