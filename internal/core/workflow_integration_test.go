package core_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/SRXKaiser/mro-inventory/internal/core"
)

func TestWorkflow_ApproveRequiresLines(t *testing.T) {
	pool, _, orders, _, workflow, ctx := setupWorkOrderTest(t)
	defer pool.Close()

	wo, err := orders.CreateWorkOrder(ctx, "WO-2001", core.PriorityMedium, "planner", "", "")
	if err != nil {
		t.Fatalf("CreateWorkOrder failed: %v", err)
	}

	_, err = workflow.Approve(ctx, wo.ID, "supervisor")
	var validation *core.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for empty order, got %v", err)
	}

	if _, err := orders.AddLine(ctx, wo.ID, "OIL-VG46", decimal.NewFromInt(10)); err != nil {
		t.Fatalf("AddLine failed: %v", err)
	}
	approved, err := workflow.Approve(ctx, wo.ID, "supervisor")
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if approved.Status != core.WorkOrderApproved || approved.ApprovedAt == nil {
		t.Errorf("expected APPROVED with approved_at, got %s", approved.Status)
	}

	// Approving twice is an invalid transition.
	_, err = workflow.Approve(ctx, wo.ID, "supervisor")
	var transition *core.InvalidTransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestWorkflow_CompleteRequiresConsumption(t *testing.T) {
	pool, _, orders, orderOps, workflow, ctx := setupWorkOrderTest(t)
	defer pool.Close()

	wo, line := draftWithLine(t, ctx, orders)
	if _, err := workflow.Approve(ctx, wo.ID, "supervisor"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	// Not yet IN_PROGRESS.
	_, err := workflow.Complete(ctx, wo.ID, "tech.a")
	var transition *core.InvalidTransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("expected InvalidTransitionError from APPROVED, got %v", err)
	}

	if _, err := orderOps.Consume(ctx, wo.ID, "tech.a", "", []core.ConsumeLine{
		{LineID: line.ID, LocationID: locA1, Quantity: decimal.NewFromInt(3)},
	}); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	completed, err := workflow.Complete(ctx, wo.ID, "tech.a")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if completed.Status != core.WorkOrderCompleted {
		t.Errorf("expected COMPLETED, got %s", completed.Status)
	}

	closed, err := workflow.Close(ctx, wo.ID, "supervisor")
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if closed.Status != core.WorkOrderClosed || closed.ClosedAt == nil {
		t.Errorf("expected CLOSED with closed_at, got %s", closed.Status)
	}
}

func TestWorkflow_PauseResume(t *testing.T) {
	pool, _, orders, orderOps, workflow, ctx := setupWorkOrderTest(t)
	defer pool.Close()

	wo, line := draftWithLine(t, ctx, orders)
	if _, err := workflow.Approve(ctx, wo.ID, "supervisor"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := orderOps.Consume(ctx, wo.ID, "tech.a", "", []core.ConsumeLine{
		{LineID: line.ID, LocationID: locA1, Quantity: decimal.NewFromInt(1)},
	}); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	paused, err := workflow.Pause(ctx, wo.ID, "tech.a", "waiting for crane")
	if err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if paused.Status != core.WorkOrderPaused || paused.PauseReason != "waiting for crane" {
		t.Errorf("expected PAUSED with reason, got %s %q", paused.Status, paused.PauseReason)
	}

	// Consuming while paused is rejected.
	_, err = orderOps.Consume(ctx, wo.ID, "tech.a", "", []core.ConsumeLine{
		{LineID: line.ID, LocationID: locA1, Quantity: decimal.NewFromInt(1)},
	})
	var transition *core.InvalidTransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("expected InvalidTransitionError while paused, got %v", err)
	}

	resumed, err := workflow.Resume(ctx, wo.ID, "tech.a")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed.Status != core.WorkOrderInProgress || resumed.PausedAt != nil {
		t.Errorf("expected IN_PROGRESS with pause fields cleared, got %s", resumed.Status)
	}
}

func TestWorkflow_CancelReleasesReservations(t *testing.T) {
	pool, stock, orders, orderOps, workflow, ctx := setupWorkOrderTest(t)
	defer pool.Close()

	wo, line := draftWithLine(t, ctx, orders)
	res, err := orderOps.Reserve(ctx, line.ID, locA1, decimal.NewFromInt(6), "planner", "")
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	cancelled, err := workflow.Cancel(ctx, wo.ID, "supervisor", "machine scrapped")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != core.WorkOrderCancelled || cancelled.CancelReason != "machine scrapped" {
		t.Errorf("expected CANCELLED with reason, got %s %q", cancelled.Status, cancelled.CancelReason)
	}

	_, reserved := snapshotQty(t, ctx, stock, itemBearing, locA1)
	if !reserved.IsZero() {
		t.Errorf("cancel must release the hold, snapshot reserved = %s", reserved)
	}

	all, err := orders.GetReservations(ctx, wo.ID)
	if err != nil {
		t.Fatalf("GetReservations failed: %v", err)
	}
	if len(all) != 1 || all[0].Status != core.ReservationVoided {
		t.Errorf("expected reservation %d VOIDED, got %+v", res.ID, all)
	}
}

func TestWorkflow_CancelForbiddenAfterConsumption(t *testing.T) {
	pool, _, orders, orderOps, workflow, ctx := setupWorkOrderTest(t)
	defer pool.Close()

	wo, line := draftWithLine(t, ctx, orders)
	if _, err := workflow.Approve(ctx, wo.ID, "supervisor"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := orderOps.Consume(ctx, wo.ID, "tech.a", "", []core.ConsumeLine{
		{LineID: line.ID, LocationID: locA1, Quantity: decimal.NewFromInt(2)},
	}); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	// IN_PROGRESS is not cancellable at all.
	_, err := workflow.Cancel(ctx, wo.ID, "supervisor", "changed mind")
	var transition *core.InvalidTransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}
