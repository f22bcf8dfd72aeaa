package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/SRXKaiser/mro-inventory/internal/metrics"
)

// MovementInput describes a simple IN/OUT movement to register.
// OccurredAt zero means "now". RegisteredBy is the opaque actor identifier;
// the ledger records who acted but never authenticates.
type MovementInput struct {
	ItemID       int
	LocationID   int
	Type         MovementType
	Quantity     decimal.Decimal
	RegisteredBy string
	OccurredAt   time.Time
	Reference    string
	Notes        string
}

// TransferInput moves quantity of one item between two locations atomically.
type TransferInput struct {
	ItemID         int
	FromLocationID int
	ToLocationID   int
	Quantity       decimal.Decimal
	RegisteredBy   string
	OccurredAt     time.Time
	Reference      string
	Notes          string
}

// AdjustInput covers both formal adjustment flavors. Reason is mandatory.
type AdjustInput struct {
	ItemID       int
	LocationID   int
	RegisteredBy string
	Reason       string
	OccurredAt   time.Time
	Reference    string
	Notes        string
}

// ReserveInput soft-holds (or releases) quantity against a snapshot.
type ReserveInput struct {
	ItemID     int
	LocationID int
	Quantity   decimal.Decimal
	Actor      string
	OccurredAt time.Time
}

type StockResult struct {
	ItemID     int
	LocationID int
	NewOnHand  decimal.Decimal
	MovementID int
}

type TransferResult struct {
	ItemID         int
	FromLocationID int
	ToLocationID   int
	Quantity       decimal.Decimal
	FromNewOnHand  decimal.Decimal
	ToNewOnHand    decimal.Decimal
	OutMovementID  int
	InMovementID   int
}

type VoidResult struct {
	OriginalID int
	VoidID     int
	ItemID     int
	LocationID int
	NewOnHand  decimal.Decimal
}

type ReserveResult struct {
	ItemID       int
	LocationID   int
	NewReserved  decimal.Decimal
	NewAvailable decimal.Decimal
}

// StockService is the stock ledger: the only writer of stock_snapshots and
// inventory_movements. Every mutating operation runs in a single transaction
// with the target snapshot row(s) locked FOR UPDATE, so concurrent mutations
// on the same (item, location) serialize.
type StockService interface {
	// RegisterMovement applies an IN or OUT. IN increases on_hand
	// unconditionally; OUT requires quantity <= on_hand - reserved.
	// ADJ is rejected here - use AdjustDelta or AdjustSet.
	RegisterMovement(ctx context.Context, in MovementInput) (*StockResult, error)
	// RegisterMovementTx is the same operation inside a caller-provided
	// transaction, used by the work order engine to keep consumption atomic
	// with its own writes. The caller owns the commit and the movement
	// counter.
	RegisterMovementTx(ctx context.Context, tx pgx.Tx, in MovementInput) (*StockResult, error)

	// Transfer executes OUT at the source and IN at the destination in one
	// transaction. Snapshots are locked in ascending location id regardless
	// of direction so two opposite transfers cannot deadlock.
	Transfer(ctx context.Context, in TransferInput) (*TransferResult, error)

	// AdjustDelta shifts on_hand by delta (either sign). The result may not
	// drop below reserved nor below zero.
	AdjustDelta(ctx context.Context, in AdjustInput, delta decimal.Decimal) (*StockResult, error)
	// AdjustSet sets on_hand to an absolute value >= reserved.
	AdjustSet(ctx context.Context, in AdjustInput, newOnHand decimal.Decimal) (*StockResult, error)

	// VoidMovement reverses an IN or OUT by creating the inverse movement and
	// marking the original void. A movement can be reversed at most once, and
	// undoing an IN may not claw back stock that is already reserved.
	VoidMovement(ctx context.Context, movementID int, voidedBy, reason string, occurredAt time.Time) (*VoidResult, error)

	// Reserve increments the soft-hold on a snapshot; no movement is written.
	Reserve(ctx context.Context, in ReserveInput) (*ReserveResult, error)
	ReserveTx(ctx context.Context, tx pgx.Tx, in ReserveInput) (*ReserveResult, error)
	// Release decrements the soft-hold; requires quantity <= reserved.
	Release(ctx context.Context, in ReserveInput) (*ReserveResult, error)
	ReleaseTx(ctx context.Context, tx pgx.Tx, in ReserveInput) (*ReserveResult, error)

	// Reads.
	GetSnapshot(ctx context.Context, itemID, locationID int) (*StockSnapshot, error)
	GetStockLevels(ctx context.Context) ([]StockLevel, error)
	GetMovement(ctx context.Context, movementID int) (*InventoryMovement, error)
	GetMovements(ctx context.Context, itemID, locationID int, limit int) ([]InventoryMovement, error)
}

type stockService struct {
	pool     *pgxpool.Pool
	notifier SnapshotObserver
}

// SnapshotObserver is notified after a committed mutation changed a snapshot.
// It must not fail the ledger operation; implementations swallow their own
// errors. The notification gate implements this.
type SnapshotObserver interface {
	SnapshotChanged(ctx context.Context, itemID, locationID int, reason string)
}

// NewStockService builds the ledger. observer may be nil.
func NewStockService(pool *pgxpool.Pool, observer SnapshotObserver) StockService {
	return &stockService{pool: pool, notifier: observer}
}

func (s *stockService) afterCommit(ctx context.Context, itemID, locationID int, reason string) {
	if s.notifier != nil {
		s.notifier.SnapshotChanged(ctx, itemID, locationID, reason)
	}
}

// lockSnapshot gets or creates the snapshot row for (item, location) and
// locks it for the rest of the transaction.
func lockSnapshot(ctx context.Context, tx pgx.Tx, itemID, locationID int) (*StockSnapshot, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO stock_snapshots (item_id, location_id, on_hand, reserved)
		VALUES ($1, $2, 0, 0)
		ON CONFLICT (item_id, location_id) DO NOTHING
	`, itemID, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert stock snapshot: %w", err)
	}

	var snap StockSnapshot
	err = tx.QueryRow(ctx, `
		SELECT id, item_id, location_id, on_hand, reserved, last_movement_at, updated_at
		FROM stock_snapshots
		WHERE item_id = $1 AND location_id = $2
		FOR UPDATE
	`, itemID, locationID).Scan(
		&snap.ID, &snap.ItemID, &snap.LocationID, &snap.OnHand, &snap.Reserved,
		&snap.LastMovementAt, &snap.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to lock stock snapshot: %w", err)
	}
	return &snap, nil
}

func writeSnapshotQuantities(ctx context.Context, tx pgx.Tx, snapID int, onHand, reserved decimal.Decimal, movedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE stock_snapshots
		SET on_hand = $1, reserved = $2, last_movement_at = $3, updated_at = NOW()
		WHERE id = $4
	`, onHand, reserved, movedAt, snapID)
	if err != nil {
		return fmt.Errorf("failed to update stock snapshot: %w", err)
	}
	return nil
}

func insertMovement(ctx context.Context, tx pgx.Tx, in MovementInput) (int, error) {
	var id int
	err := tx.QueryRow(ctx, `
		INSERT INTO inventory_movements (item_id, location_id, movement_type, quantity, occurred_at, registered_by, reference, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, in.ItemID, in.LocationID, string(in.Type), in.Quantity, in.OccurredAt,
		in.RegisteredBy, in.Reference, in.Notes).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert inventory movement: %w", err)
	}
	return id, nil
}

func validateMovementInput(in *MovementInput) error {
	if in.ItemID == 0 {
		return validationf("item is required")
	}
	if in.LocationID == 0 {
		return validationf("location is required")
	}
	if in.RegisteredBy == "" {
		return validationf("registered_by is required")
	}
	if !in.Quantity.IsPositive() {
		return validationf("quantity must be greater than 0, got %s", in.Quantity)
	}
	if in.OccurredAt.IsZero() {
		in.OccurredAt = time.Now()
	}
	in.Reference = strings.TrimSpace(in.Reference)
	in.Notes = strings.TrimSpace(in.Notes)
	return nil
}

// ── Simple IN/OUT movements ───────────────────────────────────────────────────

func (s *stockService) RegisterMovement(ctx context.Context, in MovementInput) (*StockResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	res, err := s.RegisterMovementTx(ctx, tx, in)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit movement: %w", err)
	}

	metrics.MovementsTotal.WithLabelValues(string(in.Type)).Inc()
	s.afterCommit(ctx, in.ItemID, in.LocationID, fmt.Sprintf("movement %s", in.Type))
	return res, nil
}

func (s *stockService) RegisterMovementTx(ctx context.Context, tx pgx.Tx, in MovementInput) (*StockResult, error) {
	if err := validateMovementInput(&in); err != nil {
		return nil, err
	}

	snap, err := lockSnapshot(ctx, tx, in.ItemID, in.LocationID)
	if err != nil {
		return nil, err
	}

	var newOnHand decimal.Decimal
	switch in.Type {
	case MovementIn:
		newOnHand = snap.OnHand.Add(in.Quantity)
	case MovementOut:
		available := snap.Available()
		if in.Quantity.GreaterThan(available) {
			return nil, &InsufficientStockError{Available: available, Reserved: snap.Reserved, Requested: in.Quantity}
		}
		newOnHand = snap.OnHand.Sub(in.Quantity)
	case MovementAdj:
		return nil, validationf("use AdjustDelta/AdjustSet for ADJ movements")
	default:
		return nil, validationf("invalid movement type %q", in.Type)
	}

	movementID, err := insertMovement(ctx, tx, in)
	if err != nil {
		return nil, err
	}
	if err := writeSnapshotQuantities(ctx, tx, snap.ID, newOnHand, snap.Reserved, in.OccurredAt); err != nil {
		return nil, err
	}

	return &StockResult{ItemID: in.ItemID, LocationID: in.LocationID, NewOnHand: newOnHand, MovementID: movementID}, nil
}

// ── Transfers ─────────────────────────────────────────────────────────────────

func (s *stockService) Transfer(ctx context.Context, in TransferInput) (*TransferResult, error) {
	if in.FromLocationID == 0 || in.ToLocationID == 0 {
		return nil, validationf("from_location and to_location are required")
	}
	if in.FromLocationID == in.ToLocationID {
		return nil, validationf("source and destination locations must differ")
	}
	mv := MovementInput{
		ItemID: in.ItemID, LocationID: in.FromLocationID, Quantity: in.Quantity,
		RegisteredBy: in.RegisteredBy, OccurredAt: in.OccurredAt,
		Reference: in.Reference, Notes: in.Notes, Type: MovementOut,
	}
	if err := validateMovementInput(&mv); err != nil {
		return nil, err
	}
	in.OccurredAt = mv.OccurredAt
	in.Reference = mv.Reference
	in.Notes = mv.Notes

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Canonical lock order: ascending location id, regardless of direction.
	first, second := in.FromLocationID, in.ToLocationID
	if second < first {
		first, second = second, first
	}
	snapA, err := lockSnapshot(ctx, tx, in.ItemID, first)
	if err != nil {
		return nil, err
	}
	snapB, err := lockSnapshot(ctx, tx, in.ItemID, second)
	if err != nil {
		return nil, err
	}

	snapFrom, snapTo := snapA, snapB
	if snapA.LocationID != in.FromLocationID {
		snapFrom, snapTo = snapB, snapA
	}

	available := snapFrom.Available()
	if in.Quantity.GreaterThan(available) {
		return nil, &InsufficientStockError{Available: available, Reserved: snapFrom.Reserved, Requested: in.Quantity}
	}

	newFrom := snapFrom.OnHand.Sub(in.Quantity)
	newTo := snapTo.OnHand.Add(in.Quantity)

	outID, err := insertMovement(ctx, tx, MovementInput{
		ItemID: in.ItemID, LocationID: in.FromLocationID, Type: MovementOut,
		Quantity: in.Quantity, OccurredAt: in.OccurredAt, RegisteredBy: in.RegisteredBy,
		Reference: in.Reference, Notes: strings.TrimSpace(in.Notes + "\n[TRANSFER OUT]"),
	})
	if err != nil {
		return nil, err
	}
	inID, err := insertMovement(ctx, tx, MovementInput{
		ItemID: in.ItemID, LocationID: in.ToLocationID, Type: MovementIn,
		Quantity: in.Quantity, OccurredAt: in.OccurredAt, RegisteredBy: in.RegisteredBy,
		Reference: in.Reference, Notes: strings.TrimSpace(in.Notes + "\n[TRANSFER IN]"),
	})
	if err != nil {
		return nil, err
	}

	if err := writeSnapshotQuantities(ctx, tx, snapFrom.ID, newFrom, snapFrom.Reserved, in.OccurredAt); err != nil {
		return nil, err
	}
	if err := writeSnapshotQuantities(ctx, tx, snapTo.ID, newTo, snapTo.Reserved, in.OccurredAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transfer: %w", err)
	}

	metrics.MovementsTotal.WithLabelValues(string(MovementOut)).Inc()
	metrics.MovementsTotal.WithLabelValues(string(MovementIn)).Inc()
	s.afterCommit(ctx, in.ItemID, in.FromLocationID, "transfer out")
	s.afterCommit(ctx, in.ItemID, in.ToLocationID, "transfer in")

	return &TransferResult{
		ItemID:         in.ItemID,
		FromLocationID: in.FromLocationID,
		ToLocationID:   in.ToLocationID,
		Quantity:       in.Quantity,
		FromNewOnHand:  newFrom,
		ToNewOnHand:    newTo,
		OutMovementID:  outID,
		InMovementID:   inID,
	}, nil
}

// ── Formal adjustments ────────────────────────────────────────────────────────

func validateAdjustInput(in *AdjustInput) error {
	if in.ItemID == 0 {
		return validationf("item is required")
	}
	if in.LocationID == 0 {
		return validationf("location is required")
	}
	if in.RegisteredBy == "" {
		return validationf("registered_by is required")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return validationf("reason is required for an adjustment")
	}
	if in.OccurredAt.IsZero() {
		in.OccurredAt = time.Now()
	}
	in.Reason = strings.TrimSpace(in.Reason)
	in.Reference = strings.TrimSpace(in.Reference)
	in.Notes = strings.TrimSpace(in.Notes)
	return nil
}

func (s *stockService) AdjustDelta(ctx context.Context, in AdjustInput, delta decimal.Decimal) (*StockResult, error) {
	if err := validateAdjustInput(&in); err != nil {
		return nil, err
	}
	if delta.IsZero() {
		return nil, validationf("delta must not be 0")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	snap, err := lockSnapshot(ctx, tx, in.ItemID, in.LocationID)
	if err != nil {
		return nil, err
	}

	newOnHand := snap.OnHand.Add(delta)
	if newOnHand.IsNegative() {
		return nil, &NegativeStockError{NewOnHand: newOnHand}
	}
	if newOnHand.LessThan(snap.Reserved) {
		return nil, &WouldViolateReservationError{NewOnHand: newOnHand, Reserved: snap.Reserved}
	}

	movementID, err := insertMovement(ctx, tx, MovementInput{
		ItemID: in.ItemID, LocationID: in.LocationID, Type: MovementAdj,
		Quantity: delta.Abs(), OccurredAt: in.OccurredAt, RegisteredBy: in.RegisteredBy,
		Reference: in.Reference,
		Notes:     strings.TrimSpace(fmt.Sprintf("[ADJ DELTA] %s\n%s", in.Reason, in.Notes)),
	})
	if err != nil {
		return nil, err
	}
	if err := writeSnapshotQuantities(ctx, tx, snap.ID, newOnHand, snap.Reserved, in.OccurredAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit adjustment: %w", err)
	}

	metrics.MovementsTotal.WithLabelValues(string(MovementAdj)).Inc()
	s.afterCommit(ctx, in.ItemID, in.LocationID, "adjust delta")
	return &StockResult{ItemID: in.ItemID, LocationID: in.LocationID, NewOnHand: newOnHand, MovementID: movementID}, nil
}

func (s *stockService) AdjustSet(ctx context.Context, in AdjustInput, newOnHand decimal.Decimal) (*StockResult, error) {
	if err := validateAdjustInput(&in); err != nil {
		return nil, err
	}
	if newOnHand.IsNegative() {
		return nil, validationf("new_on_hand cannot be negative")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	snap, err := lockSnapshot(ctx, tx, in.ItemID, in.LocationID)
	if err != nil {
		return nil, err
	}

	if newOnHand.LessThan(snap.Reserved) {
		return nil, &WouldViolateReservationError{NewOnHand: newOnHand, Reserved: snap.Reserved}
	}

	movementID, err := insertMovement(ctx, tx, MovementInput{
		ItemID: in.ItemID, LocationID: in.LocationID, Type: MovementAdj,
		Quantity: newOnHand.Sub(snap.OnHand).Abs(), OccurredAt: in.OccurredAt, RegisteredBy: in.RegisteredBy,
		Reference: in.Reference,
		Notes:     strings.TrimSpace(fmt.Sprintf("[ADJ SET] %s\n%s", in.Reason, in.Notes)),
	})
	if err != nil {
		return nil, err
	}
	if err := writeSnapshotQuantities(ctx, tx, snap.ID, newOnHand, snap.Reserved, in.OccurredAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit adjustment: %w", err)
	}

	metrics.MovementsTotal.WithLabelValues(string(MovementAdj)).Inc()
	s.afterCommit(ctx, in.ItemID, in.LocationID, "adjust set")
	return &StockResult{ItemID: in.ItemID, LocationID: in.LocationID, NewOnHand: newOnHand, MovementID: movementID}, nil
}

// ── Void / reversal ───────────────────────────────────────────────────────────

func (s *stockService) VoidMovement(ctx context.Context, movementID int, voidedBy, reason string, occurredAt time.Time) (*VoidResult, error) {
	if voidedBy == "" {
		return nil, validationf("voided_by is required")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, validationf("void reason is required")
	}
	reason = strings.TrimSpace(reason)
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var mv InventoryMovement
	err = tx.QueryRow(ctx, `
		SELECT id, item_id, location_id, movement_type, quantity, is_void
		FROM inventory_movements
		WHERE id = $1
		FOR UPDATE
	`, movementID).Scan(&mv.ID, &mv.ItemID, &mv.LocationID, &mv.MovementType, &mv.Quantity, &mv.IsVoid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("movement", movementID)
		}
		return nil, fmt.Errorf("failed to lock movement %d: %w", movementID, err)
	}

	if mv.IsVoid {
		return nil, &AlreadyVoidedError{MovementID: mv.ID}
	}
	var reversalID int
	err = tx.QueryRow(ctx,
		"SELECT id FROM inventory_movements WHERE void_of = $1", mv.ID,
	).Scan(&reversalID)
	if err == nil {
		return nil, &AlreadyHasReversalError{MovementID: mv.ID, ReversalID: reversalID}
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to check for existing reversal: %w", err)
	}

	snap, err := lockSnapshot(ctx, tx, mv.ItemID, mv.LocationID)
	if err != nil {
		return nil, err
	}

	var inverse MovementType
	var newOnHand decimal.Decimal
	switch mv.MovementType {
	case MovementIn:
		// Undoing an IN cannot claw back stock that is already reserved.
		available := snap.Available()
		if mv.Quantity.GreaterThan(available) {
			return nil, &InsufficientStockError{Available: available, Reserved: snap.Reserved, Requested: mv.Quantity}
		}
		inverse = MovementOut
		newOnHand = snap.OnHand.Sub(mv.Quantity)
	case MovementOut:
		inverse = MovementIn
		newOnHand = snap.OnHand.Add(mv.Quantity)
	case MovementAdj:
		return nil, validationf("voiding ADJ movements is not supported")
	default:
		return nil, validationf("invalid movement type %q", mv.MovementType)
	}

	var voidID int
	err = tx.QueryRow(ctx, `
		INSERT INTO inventory_movements
			(item_id, location_id, movement_type, quantity, occurred_at, registered_by,
			 reference, notes, is_void, voided_at, voided_by, void_reason, void_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '', true, $5, $6, $8, $9)
		RETURNING id
	`, mv.ItemID, mv.LocationID, string(inverse), mv.Quantity, occurredAt, voidedBy,
		fmt.Sprintf("VOID:%d", mv.ID), reason, mv.ID).Scan(&voidID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert reversal movement: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE inventory_movements
		SET is_void = true, voided_at = $1, voided_by = $2, void_reason = $3
		WHERE id = $4
	`, occurredAt, voidedBy, reason, mv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark movement %d void: %w", mv.ID, err)
	}

	if err := writeSnapshotQuantities(ctx, tx, snap.ID, newOnHand, snap.Reserved, occurredAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit void: %w", err)
	}

	metrics.VoidsTotal.Inc()
	s.afterCommit(ctx, mv.ItemID, mv.LocationID, "void movement")
	return &VoidResult{
		OriginalID: mv.ID,
		VoidID:     voidID,
		ItemID:     mv.ItemID,
		LocationID: mv.LocationID,
		NewOnHand:  newOnHand,
	}, nil
}

// ── Reservations ──────────────────────────────────────────────────────────────

func validateReserveInput(in *ReserveInput) error {
	if in.ItemID == 0 {
		return validationf("item is required")
	}
	if in.LocationID == 0 {
		return validationf("location is required")
	}
	if in.Actor == "" {
		return validationf("actor is required")
	}
	if !in.Quantity.IsPositive() {
		return validationf("quantity must be greater than 0, got %s", in.Quantity)
	}
	if in.OccurredAt.IsZero() {
		in.OccurredAt = time.Now()
	}
	return nil
}

func (s *stockService) Reserve(ctx context.Context, in ReserveInput) (*ReserveResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	res, err := s.ReserveTx(ctx, tx, in)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit reserve: %w", err)
	}
	s.afterCommit(ctx, in.ItemID, in.LocationID, "reserve")
	return res, nil
}

func (s *stockService) ReserveTx(ctx context.Context, tx pgx.Tx, in ReserveInput) (*ReserveResult, error) {
	if err := validateReserveInput(&in); err != nil {
		return nil, err
	}

	snap, err := lockSnapshot(ctx, tx, in.ItemID, in.LocationID)
	if err != nil {
		return nil, err
	}

	available := snap.Available()
	if in.Quantity.GreaterThan(available) {
		return nil, &InsufficientStockError{Available: available, Reserved: snap.Reserved, Requested: in.Quantity}
	}

	newReserved := snap.Reserved.Add(in.Quantity)
	if err := writeSnapshotQuantities(ctx, tx, snap.ID, snap.OnHand, newReserved, in.OccurredAt); err != nil {
		return nil, err
	}
	return &ReserveResult{
		ItemID:       in.ItemID,
		LocationID:   in.LocationID,
		NewReserved:  newReserved,
		NewAvailable: snap.OnHand.Sub(newReserved),
	}, nil
}

func (s *stockService) Release(ctx context.Context, in ReserveInput) (*ReserveResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	res, err := s.ReleaseTx(ctx, tx, in)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit release: %w", err)
	}
	s.afterCommit(ctx, in.ItemID, in.LocationID, "release")
	return res, nil
}

func (s *stockService) ReleaseTx(ctx context.Context, tx pgx.Tx, in ReserveInput) (*ReserveResult, error) {
	if err := validateReserveInput(&in); err != nil {
		return nil, err
	}

	snap, err := lockSnapshot(ctx, tx, in.ItemID, in.LocationID)
	if err != nil {
		return nil, err
	}

	if in.Quantity.GreaterThan(snap.Reserved) {
		return nil, validationf("cannot release more than reserved (%s)", snap.Reserved.StringFixed(3))
	}

	newReserved := snap.Reserved.Sub(in.Quantity)
	if err := writeSnapshotQuantities(ctx, tx, snap.ID, snap.OnHand, newReserved, in.OccurredAt); err != nil {
		return nil, err
	}
	return &ReserveResult{
		ItemID:       in.ItemID,
		LocationID:   in.LocationID,
		NewReserved:  newReserved,
		NewAvailable: snap.OnHand.Sub(newReserved),
	}, nil
}

// ── Reads ─────────────────────────────────────────────────────────────────────

func (s *stockService) GetSnapshot(ctx context.Context, itemID, locationID int) (*StockSnapshot, error) {
	var snap StockSnapshot
	err := s.pool.QueryRow(ctx, `
		SELECT id, item_id, location_id, on_hand, reserved, last_movement_at, updated_at
		FROM stock_snapshots
		WHERE item_id = $1 AND location_id = $2
	`, itemID, locationID).Scan(
		&snap.ID, &snap.ItemID, &snap.LocationID, &snap.OnHand, &snap.Reserved,
		&snap.LastMovementAt, &snap.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("snapshot", fmt.Sprintf("item=%d location=%d", itemID, locationID))
		}
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	return &snap, nil
}

func (s *stockService) GetStockLevels(ctx context.Context) ([]StockLevel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.sku, i.name, w.code, l.code,
		       ss.on_hand, ss.reserved, ss.on_hand - ss.reserved AS available,
		       i.min_stock
		FROM stock_snapshots ss
		JOIN items i      ON i.id = ss.item_id
		JOIN locations l  ON l.id = ss.location_id
		JOIN warehouses w ON w.id = l.warehouse_id
		ORDER BY w.code, l.code, i.sku
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock levels: %w", err)
	}
	defer rows.Close()

	var levels []StockLevel
	for rows.Next() {
		var sl StockLevel
		if err := rows.Scan(
			&sl.SKU, &sl.ItemName, &sl.WarehouseCode, &sl.LocationCode,
			&sl.OnHand, &sl.Reserved, &sl.Available, &sl.MinStock,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stock level: %w", err)
		}
		levels = append(levels, sl)
	}
	return levels, rows.Err()
}

func scanMovement(row pgx.Row, mv *InventoryMovement) error {
	return row.Scan(
		&mv.ID, &mv.ItemID, &mv.LocationID, &mv.MovementType, &mv.Quantity,
		&mv.OccurredAt, &mv.RegisteredBy, &mv.Reference, &mv.Notes,
		&mv.IsVoid, &mv.VoidedAt, &mv.VoidedBy, &mv.VoidReason, &mv.VoidOf,
		&mv.CreatedAt,
	)
}

const movementColumns = `
	id, item_id, location_id, movement_type, quantity,
	occurred_at, registered_by, reference, notes,
	is_void, voided_at, voided_by, void_reason, void_of,
	created_at`

func (s *stockService) GetMovement(ctx context.Context, movementID int) (*InventoryMovement, error) {
	var mv InventoryMovement
	err := scanMovement(s.pool.QueryRow(ctx,
		"SELECT"+movementColumns+" FROM inventory_movements WHERE id = $1", movementID), &mv)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("movement", movementID)
		}
		return nil, fmt.Errorf("failed to fetch movement %d: %w", movementID, err)
	}
	return &mv, nil
}

func (s *stockService) GetMovements(ctx context.Context, itemID, locationID int, limit int) ([]InventoryMovement, error) {
	if limit <= 0 {
		limit = 100
	}
	query := "SELECT" + movementColumns + " FROM inventory_movements WHERE 1=1"
	args := []any{}
	if itemID != 0 {
		args = append(args, itemID)
		query += fmt.Sprintf(" AND item_id = $%d", len(args))
	}
	if locationID != 0 {
		args = append(args, locationID)
		query += fmt.Sprintf(" AND location_id = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY occurred_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var movements []InventoryMovement
	for rows.Next() {
		var mv InventoryMovement
		if err := scanMovement(rows, &mv); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		movements = append(movements, mv)
	}
	return movements, rows.Err()
}
