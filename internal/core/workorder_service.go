package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// WorkOrderService manages work order headers and demand lines. Stock
// effects (reservations, issues, returns) live in WorkOrderStockService;
// status transitions live in WorkflowService.
type WorkOrderService interface {
	// CreateWorkOrder opens a DRAFT work order with a unique code.
	CreateWorkOrder(ctx context.Context, code string, priority WorkOrderPriority, requestedBy, assignedTo, notes string) (*WorkOrder, error)
	// AddLine adds an (item, qty_required) demand line; one line per item.
	// Lines may only be added while the work order is DRAFT.
	AddLine(ctx context.Context, workOrderID int, sku string, qtyRequired decimal.Decimal) (*WorkOrderLine, error)

	GetWorkOrder(ctx context.Context, workOrderID int) (*WorkOrder, error)
	GetWorkOrderByCode(ctx context.Context, code string) (*WorkOrder, error)
	GetWorkOrders(ctx context.Context, status *WorkOrderStatus) ([]WorkOrder, error)
	GetIssues(ctx context.Context, workOrderID int) ([]WorkOrderIssue, error)
	GetReturns(ctx context.Context, workOrderID int) ([]WorkOrderReturn, error)
	GetReservations(ctx context.Context, workOrderID int) ([]Reservation, error)
}

type workOrderService struct {
	pool *pgxpool.Pool
}

func NewWorkOrderService(pool *pgxpool.Pool) WorkOrderService {
	return &workOrderService{pool: pool}
}

func (s *workOrderService) CreateWorkOrder(ctx context.Context, code string, priority WorkOrderPriority, requestedBy, assignedTo, notes string) (*WorkOrder, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, validationf("work order code is required")
	}
	if requestedBy == "" {
		return nil, validationf("requested_by is required")
	}
	if priority == "" {
		priority = PriorityMedium
	}
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
	default:
		return nil, validationf("invalid priority %q", priority)
	}

	var assigned *string
	if assignedTo != "" {
		assigned = &assignedTo
	}

	var wo WorkOrder
	err := s.pool.QueryRow(ctx, `
		INSERT INTO work_orders (code, status, priority, requested_by, assigned_to, notes)
		VALUES ($1, 'DRAFT', $2, $3, $4, $5)
		RETURNING id, code, status, priority, requested_by, assigned_to, notes, created_at
	`, code, string(priority), requestedBy, assigned, notes).Scan(
		&wo.ID, &wo.Code, &wo.Status, &wo.Priority, &wo.RequestedBy, &wo.AssignedTo,
		&wo.Notes, &wo.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create work order: %w", err)
	}
	return &wo, nil
}

func (s *workOrderService) AddLine(ctx context.Context, workOrderID int, sku string, qtyRequired decimal.Decimal) (*WorkOrderLine, error) {
	if !qtyRequired.IsPositive() {
		return nil, validationf("qty_required must be greater than 0, got %s", qtyRequired)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status WorkOrderStatus
	err = tx.QueryRow(ctx,
		"SELECT status FROM work_orders WHERE id = $1 FOR UPDATE", workOrderID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("work order", workOrderID)
		}
		return nil, fmt.Errorf("failed to lock work order %d: %w", workOrderID, err)
	}
	if status != WorkOrderDraft {
		return nil, &InvalidTransitionError{Current: status, Requested: "add a line to"}
	}

	var itemID int
	err = tx.QueryRow(ctx,
		"SELECT id FROM items WHERE sku = $1 AND is_active = true", sku,
	).Scan(&itemID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("item", sku)
		}
		return nil, fmt.Errorf("failed to resolve item %s: %w", sku, err)
	}

	var line WorkOrderLine
	err = tx.QueryRow(ctx, `
		INSERT INTO work_order_lines (work_order_id, item_id, qty_required)
		VALUES ($1, $2, $3)
		RETURNING id, work_order_id, item_id, qty_required, qty_reserved, qty_consumed, qty_returned, created_at
	`, workOrderID, itemID, qtyRequired).Scan(
		&line.ID, &line.WorkOrderID, &line.ItemID, &line.QtyRequired,
		&line.QtyReserved, &line.QtyConsumed, &line.QtyReturned, &line.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert work order line: %w", err)
	}
	line.SKU = sku

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit line creation: %w", err)
	}
	return &line, nil
}

const workOrderColumns = `
	id, code, status, priority, requested_by, assigned_to, notes,
	approved_at, started_at, paused_at, pause_reason,
	closed_at, cancelled_at, cancel_reason, created_at`

func scanWorkOrder(row pgx.Row, wo *WorkOrder) error {
	return row.Scan(
		&wo.ID, &wo.Code, &wo.Status, &wo.Priority, &wo.RequestedBy, &wo.AssignedTo, &wo.Notes,
		&wo.ApprovedAt, &wo.StartedAt, &wo.PausedAt, &wo.PauseReason,
		&wo.ClosedAt, &wo.CancelledAt, &wo.CancelReason, &wo.CreatedAt,
	)
}

func (s *workOrderService) GetWorkOrder(ctx context.Context, workOrderID int) (*WorkOrder, error) {
	var wo WorkOrder
	err := scanWorkOrder(s.pool.QueryRow(ctx,
		"SELECT"+workOrderColumns+" FROM work_orders WHERE id = $1", workOrderID), &wo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("work order", workOrderID)
		}
		return nil, fmt.Errorf("failed to fetch work order %d: %w", workOrderID, err)
	}

	lines, err := fetchWorkOrderLines(ctx, s.pool, workOrderID)
	if err != nil {
		return nil, err
	}
	wo.Lines = lines
	return &wo, nil
}

func (s *workOrderService) GetWorkOrderByCode(ctx context.Context, code string) (*WorkOrder, error) {
	var id int
	err := s.pool.QueryRow(ctx, "SELECT id FROM work_orders WHERE code = $1", code).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("work order", code)
		}
		return nil, fmt.Errorf("failed to look up work order %s: %w", code, err)
	}
	return s.GetWorkOrder(ctx, id)
}

func (s *workOrderService) GetWorkOrders(ctx context.Context, status *WorkOrderStatus) ([]WorkOrder, error) {
	query := "SELECT" + workOrderColumns + " FROM work_orders"
	args := []any{}
	if status != nil {
		query += " WHERE status = $1"
		args = append(args, string(*status))
	}
	query += " ORDER BY id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query work orders: %w", err)
	}
	defer rows.Close()

	var orders []WorkOrder
	for rows.Next() {
		var wo WorkOrder
		if err := scanWorkOrder(rows, &wo); err != nil {
			return nil, fmt.Errorf("failed to scan work order: %w", err)
		}
		orders = append(orders, wo)
	}
	return orders, rows.Err()
}

// fetchWorkOrderLines works against either the pool or an open transaction.
func fetchWorkOrderLines(ctx context.Context, q querier, workOrderID int) ([]WorkOrderLine, error) {
	rows, err := q.Query(ctx, `
		SELECT wol.id, wol.work_order_id, wol.item_id, i.sku,
		       wol.qty_required, wol.qty_reserved, wol.qty_consumed, wol.qty_returned,
		       wol.created_at
		FROM work_order_lines wol
		JOIN items i ON i.id = wol.item_id
		WHERE wol.work_order_id = $1
		ORDER BY wol.id
	`, workOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query work order lines: %w", err)
	}
	defer rows.Close()

	var lines []WorkOrderLine
	for rows.Next() {
		var l WorkOrderLine
		if err := rows.Scan(&l.ID, &l.WorkOrderID, &l.ItemID, &l.SKU,
			&l.QtyRequired, &l.QtyReserved, &l.QtyConsumed, &l.QtyReturned, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan work order line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *workOrderService) GetIssues(ctx context.Context, workOrderID int) ([]WorkOrderIssue, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, work_order_id, technician, notes, created_at
		FROM work_order_issues
		WHERE work_order_id = $1
		ORDER BY id
	`, workOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer rows.Close()

	var issues []WorkOrderIssue
	for rows.Next() {
		var is WorkOrderIssue
		if err := rows.Scan(&is.ID, &is.WorkOrderID, &is.Technician, &is.Notes, &is.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, is)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range issues {
		lineRows, err := s.pool.Query(ctx, `
			SELECT id, issue_id, item_id, location_id, quantity, reservation_id, movement_out_id
			FROM work_order_issue_lines
			WHERE issue_id = $1
			ORDER BY id
		`, issues[i].ID)
		if err != nil {
			return nil, fmt.Errorf("failed to query issue lines: %w", err)
		}
		for lineRows.Next() {
			var l WorkOrderIssueLine
			if err := lineRows.Scan(&l.ID, &l.IssueID, &l.ItemID, &l.LocationID,
				&l.Quantity, &l.ReservationID, &l.MovementOutID); err != nil {
				lineRows.Close()
				return nil, fmt.Errorf("failed to scan issue line: %w", err)
			}
			issues[i].Lines = append(issues[i].Lines, l)
		}
		lineRows.Close()
		if err := lineRows.Err(); err != nil {
			return nil, err
		}
	}
	return issues, nil
}

func (s *workOrderService) GetReturns(ctx context.Context, workOrderID int) ([]WorkOrderReturn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, work_order_id, technician, notes, created_at
		FROM work_order_returns
		WHERE work_order_id = $1
		ORDER BY id
	`, workOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query returns: %w", err)
	}
	defer rows.Close()

	var returns []WorkOrderReturn
	for rows.Next() {
		var r WorkOrderReturn
		if err := rows.Scan(&r.ID, &r.WorkOrderID, &r.Technician, &r.Notes, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan return: %w", err)
		}
		returns = append(returns, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range returns {
		lineRows, err := s.pool.Query(ctx, `
			SELECT id, return_id, item_id, location_id, quantity, movement_in_id
			FROM work_order_return_lines
			WHERE return_id = $1
			ORDER BY id
		`, returns[i].ID)
		if err != nil {
			return nil, fmt.Errorf("failed to query return lines: %w", err)
		}
		for lineRows.Next() {
			var l WorkOrderReturnLine
			if err := lineRows.Scan(&l.ID, &l.ReturnID, &l.ItemID, &l.LocationID,
				&l.Quantity, &l.MovementInID); err != nil {
				lineRows.Close()
				return nil, fmt.Errorf("failed to scan return line: %w", err)
			}
			returns[i].Lines = append(returns[i].Lines, l)
		}
		lineRows.Close()
		if err := lineRows.Err(); err != nil {
			return nil, err
		}
	}
	return returns, nil
}

const reservationColumns = `
	id, work_order_id, line_id, item_id, location_id, quantity, status,
	created_by, reason, released_at, created_at`

func scanReservation(row pgx.Row, r *Reservation) error {
	return row.Scan(
		&r.ID, &r.WorkOrderID, &r.LineID, &r.ItemID, &r.LocationID,
		&r.Quantity, &r.Status, &r.CreatedBy, &r.Reason, &r.ReleasedAt, &r.CreatedAt,
	)
}

func (s *workOrderService) GetReservations(ctx context.Context, workOrderID int) ([]Reservation, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT"+reservationColumns+" FROM reservations WHERE work_order_id = $1 ORDER BY id",
		workOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var reservations []Reservation
	for rows.Next() {
		var r Reservation
		if err := scanReservation(rows, &r); err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		reservations = append(reservations, r)
	}
	return reservations, rows.Err()
}
