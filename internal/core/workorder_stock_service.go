package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/SRXKaiser/mro-inventory/internal/metrics"
)

// ConsumeLine is one item draw within a consumption batch. ReservationID,
// when set, must point to an ACTIVE reservation on the same line and
// location; the draw is taken out of that hold instead of free stock.
type ConsumeLine struct {
	LineID        int
	LocationID    int
	Quantity      decimal.Decimal
	ReservationID *int
}

// ReturnLine is one item going back to stock within a return batch.
type ReturnLine struct {
	LineID     int
	LocationID int
	Quantity   decimal.Decimal
}

// WorkOrderStockService runs the stock-affecting work order flows. All of
// them compose with the ledger's Tx variants so a batch either lands fully
// or not at all.
type WorkOrderStockService interface {
	// Reserve soft-holds quantity of a line's item at a location. Valid in
	// DRAFT, APPROVED and IN_PROGRESS.
	Reserve(ctx context.Context, lineID, locationID int, quantity decimal.Decimal, actor, reason string) (*Reservation, error)
	// ReleaseReservation gives back part or all of an ACTIVE reservation.
	// quantity zero means the full remaining amount.
	ReleaseReservation(ctx context.Context, reservationID int, quantity decimal.Decimal, actor string) (*Reservation, error)

	// Consume issues material to the work order: one OUT movement per line,
	// referenced back to the work order. Valid in APPROVED and IN_PROGRESS;
	// the first consumption moves an APPROVED order to IN_PROGRESS.
	Consume(ctx context.Context, workOrderID int, technician, notes string, lines []ConsumeLine) (*WorkOrderIssue, error)
	// ReturnToStock brings unused material back: one IN movement per line.
	// Valid in IN_PROGRESS and COMPLETED. A line cannot return more than it
	// has consumed.
	ReturnToStock(ctx context.Context, workOrderID int, technician, notes string, lines []ReturnLine) (*WorkOrderReturn, error)

	// RecomputeLineCaches rebuilds qty_reserved/qty_consumed/qty_returned on
	// every line of the order from the underlying reservation, issue and
	// return records. Idempotent.
	RecomputeLineCaches(ctx context.Context, workOrderID int) ([]WorkOrderLine, error)
}

type workOrderStockService struct {
	pool     *pgxpool.Pool
	stock    StockService
	notifier SnapshotObserver
}

// NewWorkOrderStockService wires the work order flows to the stock ledger.
// observer may be nil.
func NewWorkOrderStockService(pool *pgxpool.Pool, stock StockService, observer SnapshotObserver) WorkOrderStockService {
	return &workOrderStockService{pool: pool, stock: stock, notifier: observer}
}

func (s *workOrderStockService) afterCommit(ctx context.Context, itemID, locationID int, reason string) {
	if s.notifier != nil {
		s.notifier.SnapshotChanged(ctx, itemID, locationID, reason)
	}
}

// lockWorkOrder locks the order row for the rest of the transaction. Always
// taken before any snapshot lock.
func lockWorkOrder(ctx context.Context, tx pgx.Tx, workOrderID int) (*WorkOrder, error) {
	var wo WorkOrder
	err := scanWorkOrder(tx.QueryRow(ctx,
		"SELECT"+workOrderColumns+" FROM work_orders WHERE id = $1 FOR UPDATE", workOrderID), &wo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("work order", workOrderID)
		}
		return nil, fmt.Errorf("failed to lock work order %d: %w", workOrderID, err)
	}
	return &wo, nil
}

func lockLine(ctx context.Context, tx pgx.Tx, lineID int) (*WorkOrderLine, error) {
	var l WorkOrderLine
	err := tx.QueryRow(ctx, `
		SELECT id, work_order_id, item_id, qty_required, qty_reserved, qty_consumed, qty_returned, created_at
		FROM work_order_lines
		WHERE id = $1
		FOR UPDATE
	`, lineID).Scan(&l.ID, &l.WorkOrderID, &l.ItemID, &l.QtyRequired,
		&l.QtyReserved, &l.QtyConsumed, &l.QtyReturned, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("work order line", lineID)
		}
		return nil, fmt.Errorf("failed to lock work order line %d: %w", lineID, err)
	}
	return &l, nil
}

// lineItems maps the order's line ids to their item ids. Lines never change
// item, so a plain read is enough.
func lineItems(ctx context.Context, tx pgx.Tx, workOrderID int) (map[int]int, error) {
	rows, err := tx.Query(ctx,
		"SELECT id, item_id FROM work_order_lines WHERE work_order_id = $1", workOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load line items: %w", err)
	}
	defer rows.Close()

	items := map[int]int{}
	for rows.Next() {
		var id, itemID int
		if err := rows.Scan(&id, &itemID); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		items[id] = itemID
	}
	return items, rows.Err()
}

func bumpLineQty(ctx context.Context, tx pgx.Tx, lineID int, column string, delta decimal.Decimal) error {
	_, err := tx.Exec(ctx,
		fmt.Sprintf("UPDATE work_order_lines SET %s = %s + $1 WHERE id = $2", column, column),
		delta, lineID)
	if err != nil {
		return fmt.Errorf("failed to update work order line %d: %w", lineID, err)
	}
	return nil
}

func (s *workOrderStockService) Reserve(ctx context.Context, lineID, locationID int, quantity decimal.Decimal, actor, reason string) (*Reservation, error) {
	if actor == "" {
		return nil, validationf("actor is required")
	}
	if !quantity.IsPositive() {
		return nil, validationf("quantity must be greater than 0, got %s", quantity)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	line, err := lockLine(ctx, tx, lineID)
	if err != nil {
		return nil, err
	}
	wo, err := lockWorkOrder(ctx, tx, line.WorkOrderID)
	if err != nil {
		return nil, err
	}
	switch wo.Status {
	case WorkOrderDraft, WorkOrderApproved, WorkOrderInProgress:
	default:
		return nil, &InvalidTransitionError{Current: wo.Status, Requested: "reserve stock for"}
	}

	if _, err := s.stock.ReserveTx(ctx, tx, ReserveInput{
		ItemID: line.ItemID, LocationID: locationID, Quantity: quantity, Actor: actor,
	}); err != nil {
		return nil, err
	}

	var res Reservation
	err = scanReservation(tx.QueryRow(ctx, `
		INSERT INTO reservations (work_order_id, line_id, item_id, location_id, quantity, status, created_by, reason)
		VALUES ($1, $2, $3, $4, $5, 'ACTIVE', $6, $7)
		RETURNING`+reservationColumns+`
	`, wo.ID, line.ID, line.ItemID, locationID, quantity, actor, reason), &res)
	if err != nil {
		return nil, fmt.Errorf("failed to insert reservation: %w", err)
	}

	if err := bumpLineQty(ctx, tx, line.ID, "qty_reserved", quantity); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit reservation: %w", err)
	}

	s.afterCommit(ctx, line.ItemID, locationID, "work order reserve")
	return &res, nil
}

func lockReservation(ctx context.Context, tx pgx.Tx, reservationID int) (*Reservation, error) {
	var res Reservation
	err := scanReservation(tx.QueryRow(ctx,
		"SELECT"+reservationColumns+" FROM reservations WHERE id = $1 FOR UPDATE", reservationID), &res)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("reservation", reservationID)
		}
		return nil, fmt.Errorf("failed to lock reservation %d: %w", reservationID, err)
	}
	return &res, nil
}

// shrinkReservation reduces a reservation by quantity and moves it to
// finalStatus ('RELEASED' or 'CONSUMED') when it hits zero.
func shrinkReservation(ctx context.Context, tx pgx.Tx, res *Reservation, quantity decimal.Decimal, finalStatus ReservationStatus, now time.Time) error {
	remaining := res.Quantity.Sub(quantity)
	if remaining.IsZero() {
		_, err := tx.Exec(ctx, `
			UPDATE reservations SET quantity = 0, status = $1, released_at = $2 WHERE id = $3
		`, string(finalStatus), now, res.ID)
		if err != nil {
			return fmt.Errorf("failed to close reservation %d: %w", res.ID, err)
		}
		res.Status = finalStatus
		res.ReleasedAt = &now
	} else {
		_, err := tx.Exec(ctx,
			"UPDATE reservations SET quantity = $1 WHERE id = $2", remaining, res.ID)
		if err != nil {
			return fmt.Errorf("failed to shrink reservation %d: %w", res.ID, err)
		}
	}
	res.Quantity = remaining
	return nil
}

func (s *workOrderStockService) ReleaseReservation(ctx context.Context, reservationID int, quantity decimal.Decimal, actor string) (*Reservation, error) {
	if actor == "" {
		return nil, validationf("actor is required")
	}
	if quantity.IsNegative() {
		return nil, validationf("quantity cannot be negative")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	res, err := lockReservation(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}
	if res.Status != ReservationActive {
		return nil, &InvalidReservationStateError{ReservationID: res.ID,
			Msg: fmt.Sprintf("cannot release reservation in status %s", res.Status)}
	}
	if quantity.IsZero() {
		quantity = res.Quantity
	}
	if quantity.GreaterThan(res.Quantity) {
		return nil, &InvalidReservationStateError{ReservationID: res.ID,
			Msg: fmt.Sprintf("release of %s exceeds reserved %s",
				quantity.StringFixed(3), res.Quantity.StringFixed(3))}
	}

	if _, err := s.stock.ReleaseTx(ctx, tx, ReserveInput{
		ItemID: res.ItemID, LocationID: res.LocationID, Quantity: quantity, Actor: actor,
	}); err != nil {
		return nil, err
	}
	if err := shrinkReservation(ctx, tx, res, quantity, ReservationReleased, time.Now()); err != nil {
		return nil, err
	}
	if err := bumpLineQty(ctx, tx, res.LineID, "qty_reserved", quantity.Neg()); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit release: %w", err)
	}

	s.afterCommit(ctx, res.ItemID, res.LocationID, "work order release")
	return res, nil
}

func (s *workOrderStockService) Consume(ctx context.Context, workOrderID int, technician, notes string, lines []ConsumeLine) (*WorkOrderIssue, error) {
	if technician == "" {
		return nil, validationf("technician is required")
	}
	if len(lines) == 0 {
		return nil, validationf("at least one consume line is required")
	}
	for _, cl := range lines {
		if !cl.Quantity.IsPositive() {
			return nil, validationf("quantity must be greater than 0, got %s", cl.Quantity)
		}
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
	switch wo.Status {
	case WorkOrderApproved, WorkOrderInProgress:
	default:
		return nil, &InvalidTransitionError{Current: wo.Status, Requested: "consume stock on"}
	}

	// Snapshot locks are taken in ascending (item, location) order, the
	// same global order Transfer uses.
	itemOf, err := lineItems(ctx, tx, wo.ID)
	if err != nil {
		return nil, err
	}
	lines = append([]ConsumeLine(nil), lines...)
	sort.Slice(lines, func(i, j int) bool {
		if itemOf[lines[i].LineID] != itemOf[lines[j].LineID] {
			return itemOf[lines[i].LineID] < itemOf[lines[j].LineID]
		}
		if lines[i].LocationID != lines[j].LocationID {
			return lines[i].LocationID < lines[j].LocationID
		}
		return lines[i].LineID < lines[j].LineID
	})

	now := time.Now()
	var issue WorkOrderIssue
	err = tx.QueryRow(ctx, `
		INSERT INTO work_order_issues (work_order_id, technician, notes)
		VALUES ($1, $2, $3)
		RETURNING id, work_order_id, technician, notes, created_at
	`, wo.ID, technician, notes).Scan(&issue.ID, &issue.WorkOrderID, &issue.Technician, &issue.Notes, &issue.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert issue: %w", err)
	}

	type touchedPair struct{ itemID, locationID int }
	var touched []touchedPair
	for _, cl := range lines {
		line, err := lockLine(ctx, tx, cl.LineID)
		if err != nil {
			return nil, err
		}
		if line.WorkOrderID != wo.ID {
			return nil, validationf("line %d does not belong to work order %s", cl.LineID, wo.Code)
		}

		if cl.ReservationID != nil {
			res, err := lockReservation(ctx, tx, *cl.ReservationID)
			if err != nil {
				return nil, err
			}
			if res.Status != ReservationActive {
				return nil, &InvalidReservationStateError{ReservationID: res.ID,
					Msg: fmt.Sprintf("cannot consume from reservation in status %s", res.Status)}
			}
			if res.LineID != line.ID || res.LocationID != cl.LocationID {
				return nil, &InvalidReservationStateError{ReservationID: res.ID,
					Msg: "reservation does not match the consume line"}
			}
			if cl.Quantity.GreaterThan(res.Quantity) {
				return nil, &InvalidReservationStateError{ReservationID: res.ID,
					Msg: fmt.Sprintf("consume of %s exceeds reserved %s",
						cl.Quantity.StringFixed(3), res.Quantity.StringFixed(3))}
			}
			// Free the hold first so the OUT draws from available stock.
			if _, err := s.stock.ReleaseTx(ctx, tx, ReserveInput{
				ItemID: line.ItemID, LocationID: cl.LocationID, Quantity: cl.Quantity, Actor: technician,
			}); err != nil {
				return nil, err
			}
			if err := shrinkReservation(ctx, tx, res, cl.Quantity, ReservationConsumed, now); err != nil {
				return nil, err
			}
			if err := bumpLineQty(ctx, tx, line.ID, "qty_reserved", cl.Quantity.Neg()); err != nil {
				return nil, err
			}
		}

		out, err := s.stock.RegisterMovementTx(ctx, tx, MovementInput{
			ItemID: line.ItemID, LocationID: cl.LocationID, Type: MovementOut,
			Quantity: cl.Quantity, RegisteredBy: technician, OccurredAt: now,
			Reference: fmt.Sprintf("WO:%s", wo.Code), Notes: notes,
		})
		if err != nil {
			return nil, err
		}

		var il WorkOrderIssueLine
		err = tx.QueryRow(ctx, `
			INSERT INTO work_order_issue_lines (issue_id, item_id, location_id, quantity, reservation_id, movement_out_id)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, issue_id, item_id, location_id, quantity, reservation_id, movement_out_id
		`, issue.ID, line.ItemID, cl.LocationID, cl.Quantity, cl.ReservationID, out.MovementID).Scan(
			&il.ID, &il.IssueID, &il.ItemID, &il.LocationID, &il.Quantity, &il.ReservationID, &il.MovementOutID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert issue line: %w", err)
		}
		issue.Lines = append(issue.Lines, il)

		if err := bumpLineQty(ctx, tx, line.ID, "qty_consumed", cl.Quantity); err != nil {
			return nil, err
		}
		touched = append(touched, touchedPair{line.ItemID, cl.LocationID})
	}

	if wo.Status == WorkOrderApproved {
		// First consumption starts the work; started_at is set exactly once.
		_, err = tx.Exec(ctx, `
			UPDATE work_orders
			SET status = 'IN_PROGRESS', started_at = COALESCE(started_at, $1)
			WHERE id = $2
		`, now, wo.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to start work order %d: %w", wo.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit consumption: %w", err)
	}

	metrics.MovementsTotal.WithLabelValues(string(MovementOut)).Add(float64(len(lines)))
	if wo.Status == WorkOrderApproved {
		metrics.WorkOrderTransitionsTotal.WithLabelValues("approved_to_in_progress").Inc()
	}
	for _, t := range touched {
		s.afterCommit(ctx, t.itemID, t.locationID, "work order consume")
	}
	return &issue, nil
}

func (s *workOrderStockService) ReturnToStock(ctx context.Context, workOrderID int, technician, notes string, lines []ReturnLine) (*WorkOrderReturn, error) {
	if technician == "" {
		return nil, validationf("technician is required")
	}
	if len(lines) == 0 {
		return nil, validationf("at least one return line is required")
	}
	for _, rl := range lines {
		if !rl.Quantity.IsPositive() {
			return nil, validationf("quantity must be greater than 0, got %s", rl.Quantity)
		}
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
	switch wo.Status {
	case WorkOrderInProgress, WorkOrderCompleted:
	default:
		return nil, &InvalidTransitionError{Current: wo.Status, Requested: "return stock on"}
	}

	itemOf, err := lineItems(ctx, tx, wo.ID)
	if err != nil {
		return nil, err
	}
	lines = append([]ReturnLine(nil), lines...)
	sort.Slice(lines, func(i, j int) bool {
		if itemOf[lines[i].LineID] != itemOf[lines[j].LineID] {
			return itemOf[lines[i].LineID] < itemOf[lines[j].LineID]
		}
		if lines[i].LocationID != lines[j].LocationID {
			return lines[i].LocationID < lines[j].LocationID
		}
		return lines[i].LineID < lines[j].LineID
	})

	now := time.Now()
	var ret WorkOrderReturn
	err = tx.QueryRow(ctx, `
		INSERT INTO work_order_returns (work_order_id, technician, notes)
		VALUES ($1, $2, $3)
		RETURNING id, work_order_id, technician, notes, created_at
	`, wo.ID, technician, notes).Scan(&ret.ID, &ret.WorkOrderID, &ret.Technician, &ret.Notes, &ret.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert return: %w", err)
	}

	type touchedPair struct{ itemID, locationID int }
	var touched []touchedPair
	for _, rl := range lines {
		line, err := lockLine(ctx, tx, rl.LineID)
		if err != nil {
			return nil, err
		}
		if line.WorkOrderID != wo.ID {
			return nil, validationf("line %d does not belong to work order %s", rl.LineID, wo.Code)
		}
		returnable := line.QtyConsumed.Sub(line.QtyReturned)
		if rl.Quantity.GreaterThan(returnable) {
			return nil, validationf("return of %s exceeds returnable %s on line %d",
				rl.Quantity.StringFixed(3), returnable.StringFixed(3), line.ID)
		}

		in, err := s.stock.RegisterMovementTx(ctx, tx, MovementInput{
			ItemID: line.ItemID, LocationID: rl.LocationID, Type: MovementIn,
			Quantity: rl.Quantity, RegisteredBy: technician, OccurredAt: now,
			Reference: fmt.Sprintf("WO:%s", wo.Code), Notes: notes,
		})
		if err != nil {
			return nil, err
		}

		var retLine WorkOrderReturnLine
		err = tx.QueryRow(ctx, `
			INSERT INTO work_order_return_lines (return_id, item_id, location_id, quantity, movement_in_id)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, return_id, item_id, location_id, quantity, movement_in_id
		`, ret.ID, line.ItemID, rl.LocationID, rl.Quantity, in.MovementID).Scan(
			&retLine.ID, &retLine.ReturnID, &retLine.ItemID, &retLine.LocationID,
			&retLine.Quantity, &retLine.MovementInID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert return line: %w", err)
		}
		ret.Lines = append(ret.Lines, retLine)

		if err := bumpLineQty(ctx, tx, line.ID, "qty_returned", rl.Quantity); err != nil {
			return nil, err
		}
		touched = append(touched, touchedPair{line.ItemID, rl.LocationID})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit return: %w", err)
	}

	metrics.MovementsTotal.WithLabelValues(string(MovementIn)).Add(float64(len(lines)))
	for _, t := range touched {
		s.afterCommit(ctx, t.itemID, t.locationID, "work order return")
	}
	return &ret, nil
}

func (s *workOrderStockService) RecomputeLineCaches(ctx context.Context, workOrderID int) ([]WorkOrderLine, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := lockWorkOrder(ctx, tx, workOrderID); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE work_order_lines wol SET
			qty_reserved = COALESCE((
				SELECT SUM(r.quantity) FROM reservations r
				WHERE r.line_id = wol.id AND r.status = 'ACTIVE'
			), 0),
			qty_consumed = COALESCE((
				SELECT SUM(il.quantity) FROM work_order_issue_lines il
				JOIN work_order_issues i ON i.id = il.issue_id
				WHERE i.work_order_id = wol.work_order_id AND il.item_id = wol.item_id
			), 0),
			qty_returned = COALESCE((
				SELECT SUM(rl.quantity) FROM work_order_return_lines rl
				JOIN work_order_returns wr ON wr.id = rl.return_id
				WHERE wr.work_order_id = wol.work_order_id AND rl.item_id = wol.item_id
			), 0)
		WHERE wol.work_order_id = $1
	`, workOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to recompute line caches: %w", err)
	}

	lines, err := fetchWorkOrderLines(ctx, tx, workOrderID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit recompute: %w", err)
	}
	return lines, nil
}
