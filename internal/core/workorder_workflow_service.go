package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SRXKaiser/mro-inventory/internal/metrics"
)

// WorkflowService owns the work order state machine:
//
//	DRAFT -> APPROVED -> IN_PROGRESS <-> PAUSED
//	                     IN_PROGRESS -> COMPLETED -> CLOSED
//	DRAFT/APPROVED -> CANCELLED
//
// Every transition runs with the order row locked FOR UPDATE so concurrent
// transitions serialize; losers see InvalidTransitionError.
type WorkflowService interface {
	Approve(ctx context.Context, workOrderID int, actor string) (*WorkOrder, error)
	Pause(ctx context.Context, workOrderID int, actor, reason string) (*WorkOrder, error)
	Resume(ctx context.Context, workOrderID int, actor string) (*WorkOrder, error)
	// Complete requires that at least one consumption was issued.
	Complete(ctx context.Context, workOrderID int, actor string) (*WorkOrder, error)
	Close(ctx context.Context, workOrderID int, actor string) (*WorkOrder, error)
	// Cancel is only possible before any consumption; it releases every
	// ACTIVE reservation back to free stock.
	Cancel(ctx context.Context, workOrderID int, actor, reason string) (*WorkOrder, error)
}

type workflowService struct {
	pool     *pgxpool.Pool
	stock    StockService
	notifier SnapshotObserver
}

func NewWorkflowService(pool *pgxpool.Pool, stock StockService, observer SnapshotObserver) WorkflowService {
	return &workflowService{pool: pool, stock: stock, notifier: observer}
}

// transition moves the order from one of the allowed statuses to target,
// applying extra writes via apply while the row lock is held.
func (s *workflowService) transition(
	ctx context.Context,
	workOrderID int,
	actor string,
	verb string,
	allowed []WorkOrderStatus,
	target WorkOrderStatus,
	apply func(ctx context.Context, tx pgx.Tx, wo *WorkOrder, now time.Time) error,
) (*WorkOrder, error) {
	if actor == "" {
		return nil, validationf("actor is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	wo, err := lockWorkOrder(ctx, tx, workOrderID)
	if err != nil {
		return nil, err
	}
	ok := false
	for _, st := range allowed {
		if wo.Status == st {
			ok = true
			break
		}
	}
	if !ok {
		return nil, &InvalidTransitionError{Current: wo.Status, Requested: verb}
	}

	now := time.Now()
	if apply != nil {
		if err := apply(ctx, tx, wo, now); err != nil {
			return nil, err
		}
	}
	_, err = tx.Exec(ctx,
		"UPDATE work_orders SET status = $1 WHERE id = $2", string(target), wo.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update work order status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	metrics.WorkOrderTransitionsTotal.WithLabelValues(
		strings.ToLower(string(wo.Status)) + "_to_" + strings.ToLower(string(target))).Inc()
	wo.Status = target
	return wo, nil
}

func (s *workflowService) Approve(ctx context.Context, workOrderID int, actor string) (*WorkOrder, error) {
	return s.transition(ctx, workOrderID, actor, "approve",
		[]WorkOrderStatus{WorkOrderDraft}, WorkOrderApproved,
		func(ctx context.Context, tx pgx.Tx, wo *WorkOrder, now time.Time) error {
			var lineCount int
			err := tx.QueryRow(ctx,
				"SELECT COUNT(*) FROM work_order_lines WHERE work_order_id = $1", wo.ID,
			).Scan(&lineCount)
			if err != nil {
				return fmt.Errorf("failed to count work order lines: %w", err)
			}
			if lineCount == 0 {
				return validationf("cannot approve work order %s without lines", wo.Code)
			}
			_, err = tx.Exec(ctx,
				"UPDATE work_orders SET approved_at = $1 WHERE id = $2", now, wo.ID)
			if err != nil {
				return fmt.Errorf("failed to set approved_at: %w", err)
			}
			wo.ApprovedAt = &now
			return nil
		})
}

func (s *workflowService) Pause(ctx context.Context, workOrderID int, actor, reason string) (*WorkOrder, error) {
	return s.transition(ctx, workOrderID, actor, "pause",
		[]WorkOrderStatus{WorkOrderInProgress}, WorkOrderPaused,
		func(ctx context.Context, tx pgx.Tx, wo *WorkOrder, now time.Time) error {
			_, err := tx.Exec(ctx,
				"UPDATE work_orders SET paused_at = $1, pause_reason = $2 WHERE id = $3",
				now, strings.TrimSpace(reason), wo.ID)
			if err != nil {
				return fmt.Errorf("failed to set pause fields: %w", err)
			}
			wo.PausedAt = &now
			wo.PauseReason = strings.TrimSpace(reason)
			return nil
		})
}

func (s *workflowService) Resume(ctx context.Context, workOrderID int, actor string) (*WorkOrder, error) {
	return s.transition(ctx, workOrderID, actor, "resume",
		[]WorkOrderStatus{WorkOrderPaused}, WorkOrderInProgress,
		func(ctx context.Context, tx pgx.Tx, wo *WorkOrder, now time.Time) error {
			_, err := tx.Exec(ctx,
				"UPDATE work_orders SET paused_at = NULL, pause_reason = '' WHERE id = $1", wo.ID)
			if err != nil {
				return fmt.Errorf("failed to clear pause fields: %w", err)
			}
			wo.PausedAt = nil
			wo.PauseReason = ""
			return nil
		})
}

func (s *workflowService) Complete(ctx context.Context, workOrderID int, actor string) (*WorkOrder, error) {
	return s.transition(ctx, workOrderID, actor, "complete",
		[]WorkOrderStatus{WorkOrderInProgress}, WorkOrderCompleted,
		func(ctx context.Context, tx pgx.Tx, wo *WorkOrder, now time.Time) error {
			var issued int
			err := tx.QueryRow(ctx, `
				SELECT COUNT(*) FROM work_order_issue_lines il
				JOIN work_order_issues i ON i.id = il.issue_id
				WHERE i.work_order_id = $1
			`, wo.ID).Scan(&issued)
			if err != nil {
				return fmt.Errorf("failed to count issued lines: %w", err)
			}
			if issued == 0 {
				return validationf("cannot complete work order %s without any consumption", wo.Code)
			}
			return nil
		})
}

func (s *workflowService) Close(ctx context.Context, workOrderID int, actor string) (*WorkOrder, error) {
	return s.transition(ctx, workOrderID, actor, "close",
		[]WorkOrderStatus{WorkOrderCompleted}, WorkOrderClosed,
		func(ctx context.Context, tx pgx.Tx, wo *WorkOrder, now time.Time) error {
			_, err := tx.Exec(ctx,
				"UPDATE work_orders SET closed_at = $1 WHERE id = $2", now, wo.ID)
			if err != nil {
				return fmt.Errorf("failed to set closed_at: %w", err)
			}
			wo.ClosedAt = &now
			return nil
		})
}

func (s *workflowService) Cancel(ctx context.Context, workOrderID int, actor, reason string) (*WorkOrder, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, validationf("cancel reason is required")
	}
	type releasedPair struct{ itemID, locationID int }
	var released []releasedPair

	wo, err := s.transition(ctx, workOrderID, actor, "cancel",
		[]WorkOrderStatus{WorkOrderDraft, WorkOrderApproved}, WorkOrderCancelled,
		func(ctx context.Context, tx pgx.Tx, wo *WorkOrder, now time.Time) error {
			var consumed int
			err := tx.QueryRow(ctx, `
				SELECT COUNT(*) FROM work_order_issue_lines il
				JOIN work_order_issues i ON i.id = il.issue_id
				WHERE i.work_order_id = $1
			`, wo.ID).Scan(&consumed)
			if err != nil {
				return fmt.Errorf("failed to count issued lines: %w", err)
			}
			if consumed > 0 {
				return validationf("cannot cancel work order %s with consumed stock", wo.Code)
			}

			// Give every active hold back before the order goes terminal.
			rows, err := tx.Query(ctx,
				"SELECT"+reservationColumns+" FROM reservations WHERE work_order_id = $1 AND status = 'ACTIVE' ORDER BY item_id, location_id FOR UPDATE",
				wo.ID)
			if err != nil {
				return fmt.Errorf("failed to query active reservations: %w", err)
			}
			var active []Reservation
			for rows.Next() {
				var r Reservation
				if err := scanReservation(rows, &r); err != nil {
					rows.Close()
					return fmt.Errorf("failed to scan reservation: %w", err)
				}
				active = append(active, r)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}

			for i := range active {
				r := &active[i]
				if _, err := s.stock.ReleaseTx(ctx, tx, ReserveInput{
					ItemID: r.ItemID, LocationID: r.LocationID, Quantity: r.Quantity, Actor: actor,
				}); err != nil {
					return err
				}
				if err := shrinkReservation(ctx, tx, r, r.Quantity, ReservationVoided, now); err != nil {
					return err
				}
				if err := bumpLineQty(ctx, tx, r.LineID, "qty_reserved", r.Quantity.Neg()); err != nil {
					return err
				}
				released = append(released, releasedPair{r.ItemID, r.LocationID})
			}

			_, err = tx.Exec(ctx,
				"UPDATE work_orders SET cancelled_at = $1, cancel_reason = $2 WHERE id = $3",
				now, strings.TrimSpace(reason), wo.ID)
			if err != nil {
				return fmt.Errorf("failed to set cancel fields: %w", err)
			}
			wo.CancelledAt = &now
			wo.CancelReason = strings.TrimSpace(reason)
			return nil
		})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		for _, p := range released {
			s.notifier.SnapshotChanged(ctx, p.itemID, p.locationID, "work order cancel")
		}
	}
	return wo, nil
}
