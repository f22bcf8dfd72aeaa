package core_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/SRXKaiser/mro-inventory/internal/core"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live app database.
	// Set TEST_DATABASE_URL in your .env or environment to run integration tests.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set — skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	// Clean and seed test DB. The schema is expected to exist (goose up).
	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE audit_log, notification_events,
			work_order_return_lines, work_order_returns,
			work_order_issue_lines, work_order_issues,
			reservations, work_order_lines, work_orders,
			inventory_movements, stock_snapshots,
			items, locations, warehouses,
			units_of_measure, criticalities, item_types
		RESTART IDENTITY CASCADE;

		INSERT INTO item_types (name) VALUES ('SPARE_PART'), ('CONSUMABLE');
		INSERT INTO criticalities (code, name, rank) VALUES ('A', 'Critical', 1), ('C', 'Routine', 3);
		INSERT INTO units_of_measure (code, name) VALUES ('EA', 'Each'), ('L', 'Liter');

		INSERT INTO warehouses (code, name) VALUES ('WH1', 'Main Plant');
		INSERT INTO locations (warehouse_id, code, name) VALUES
			(1, 'A-01', 'Rack A row 1'),
			(1, 'A-02', 'Rack A row 2');

		INSERT INTO items (sku, name, item_type_id, criticality_id, uom_id, min_stock) VALUES
			('BRG-6204', 'Bearing 6204-2RS', 1, 1, 1, 5),
			('OIL-VG46', 'Hydraulic oil VG46', 2, 2, 2, 20);
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}

	return pool
}

const (
	itemBearing = 1
	itemOil     = 2
	locA1       = 1
	locA2       = 2
)

func mustResult(t *testing.T, res *core.StockResult, err error) *core.StockResult {
	t.Helper()
	if err != nil {
		t.Fatalf("stock operation failed: %v", err)
	}
	return res
}

func snapshotQty(t *testing.T, ctx context.Context, stock core.StockService, itemID, locationID int) (onHand, reserved decimal.Decimal) {
	t.Helper()
	snap, err := stock.GetSnapshot(ctx, itemID, locationID)
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	return snap.OnHand, snap.Reserved
}

func receive(t *testing.T, ctx context.Context, stock core.StockService, itemID, locationID int, qty int64) *core.StockResult {
	t.Helper()
	res, err := stock.RegisterMovement(ctx, core.MovementInput{
		ItemID: itemID, LocationID: locationID, Type: core.MovementIn,
		Quantity: decimal.NewFromInt(qty), RegisteredBy: "tester",
	})
	return mustResult(t, res, err)
}

func TestStock_MovementRoundTrip(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	stock := core.NewStockService(pool, nil)
	ctx := context.Background()

	receive(t, ctx, stock, itemBearing, locA1, 10)
	outRes, outErr := stock.RegisterMovement(ctx, core.MovementInput{
		ItemID: itemBearing, LocationID: locA1, Type: core.MovementOut,
		Quantity: decimal.NewFromInt(4), RegisteredBy: "tester",
	})
	res := mustResult(t, outRes, outErr)
	if !res.NewOnHand.Equal(decimal.NewFromInt(6)) {
		t.Errorf("expected on_hand 6, got %s", res.NewOnHand)
	}

	onHand, reserved := snapshotQty(t, ctx, stock, itemBearing, locA1)
	if !onHand.Equal(decimal.NewFromInt(6)) || !reserved.IsZero() {
		t.Errorf("expected snapshot 6/0, got %s/%s", onHand, reserved)
	}
}

func TestStock_OutBeyondAvailableFails(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	stock := core.NewStockService(pool, nil)
	ctx := context.Background()

	receive(t, ctx, stock, itemBearing, locA1, 5)
	_, err := stock.RegisterMovement(ctx, core.MovementInput{
		ItemID: itemBearing, LocationID: locA1, Type: core.MovementOut,
		Quantity: decimal.NewFromInt(6), RegisteredBy: "tester",
	})
	var insufficient *core.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}

	onHand, _ := snapshotQty(t, ctx, stock, itemBearing, locA1)
	if !onHand.Equal(decimal.NewFromInt(5)) {
		t.Errorf("failed OUT must not change on_hand, got %s", onHand)
	}
}

func TestStock_ReservedStockNotIssuable(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	stock := core.NewStockService(pool, nil)
	ctx := context.Background()

	receive(t, ctx, stock, itemBearing, locA1, 5)
	if _, err := stock.Reserve(ctx, core.ReserveInput{
		ItemID: itemBearing, LocationID: locA1,
		Quantity: decimal.NewFromInt(5), Actor: "tester",
	}); err != nil {
		t.Fatalf("Reserve of full stock should succeed: %v", err)
	}

	// Reserving one more unit has no stock to take.
	_, err := stock.Reserve(ctx, core.ReserveInput{
		ItemID: itemBearing, LocationID: locA1,
		Quantity: decimal.NewFromInt(1), Actor: "tester",
	})
	var insufficient *core.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}

	// And an OUT against fully reserved stock must fail too.
	_, err = stock.RegisterMovement(ctx, core.MovementInput{
		ItemID: itemBearing, LocationID: locA1, Type: core.MovementOut,
		Quantity: decimal.NewFromInt(1), RegisteredBy: "tester",
	})
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError for OUT, got %v", err)
	}

	rel, err := stock.Release(ctx, core.ReserveInput{
		ItemID: itemBearing, LocationID: locA1,
		Quantity: decimal.NewFromInt(2), Actor: "tester",
	})
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if !rel.NewAvailable.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected available 2 after release, got %s", rel.NewAvailable)
	}
}

func TestStock_TransferIsAtomic(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	stock := core.NewStockService(pool, nil)
	ctx := context.Background()

	receive(t, ctx, stock, itemOil, locA1, 30)

	res, err := stock.Transfer(ctx, core.TransferInput{
		ItemID: itemOil, FromLocationID: locA1, ToLocationID: locA2,
		Quantity: decimal.NewFromInt(12), RegisteredBy: "tester",
	})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if !res.FromNewOnHand.Equal(decimal.NewFromInt(18)) || !res.ToNewOnHand.Equal(decimal.NewFromInt(12)) {
		t.Errorf("expected 18/12 after transfer, got %s/%s", res.FromNewOnHand, res.ToNewOnHand)
	}

	// Insufficient transfer must leave both snapshots untouched.
	_, err = stock.Transfer(ctx, core.TransferInput{
		ItemID: itemOil, FromLocationID: locA1, ToLocationID: locA2,
		Quantity: decimal.NewFromInt(100), RegisteredBy: "tester",
	})
	var insufficient *core.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	fromOnHand, _ := snapshotQty(t, ctx, stock, itemOil, locA1)
	toOnHand, _ := snapshotQty(t, ctx, stock, itemOil, locA2)
	if !fromOnHand.Equal(decimal.NewFromInt(18)) || !toOnHand.Equal(decimal.NewFromInt(12)) {
		t.Errorf("failed transfer must not move stock, got %s/%s", fromOnHand, toOnHand)
	}
}

func TestStock_AdjustGuards(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	stock := core.NewStockService(pool, nil)
	ctx := context.Background()

	receive(t, ctx, stock, itemBearing, locA1, 10)
	if _, err := stock.Reserve(ctx, core.ReserveInput{
		ItemID: itemBearing, LocationID: locA1,
		Quantity: decimal.NewFromInt(4), Actor: "tester",
	}); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	adj := core.AdjustInput{
		ItemID: itemBearing, LocationID: locA1,
		RegisteredBy: "auditor", Reason: "cycle count",
	}

	// Dropping below the reservation is rejected.
	_, err := stock.AdjustSet(ctx, adj, decimal.NewFromInt(3))
	var violation *core.WouldViolateReservationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected WouldViolateReservationError, got %v", err)
	}

	_, err = stock.AdjustDelta(ctx, adj, decimal.NewFromInt(-20))
	var negative *core.NegativeStockError
	if !errors.As(err, &negative) {
		t.Fatalf("expected NegativeStockError, got %v", err)
	}

	// A legal set down to exactly the reserved amount works.
	res, err := stock.AdjustSet(ctx, adj, decimal.NewFromInt(4))
	if err != nil {
		t.Fatalf("AdjustSet failed: %v", err)
	}
	if !res.NewOnHand.Equal(decimal.NewFromInt(4)) {
		t.Errorf("expected on_hand 4, got %s", res.NewOnHand)
	}
}

func TestStock_VoidReversesOnce(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	stock := core.NewStockService(pool, nil)
	ctx := context.Background()

	receive(t, ctx, stock, itemBearing, locA1, 10)
	outRes, outErr := stock.RegisterMovement(ctx, core.MovementInput{
		ItemID: itemBearing, LocationID: locA1, Type: core.MovementOut,
		Quantity: decimal.NewFromInt(3), RegisteredBy: "tester",
	})
	out := mustResult(t, outRes, outErr)

	res, err := stock.VoidMovement(ctx, out.MovementID, "supervisor", "issued against wrong order", time.Time{})
	if err != nil {
		t.Fatalf("VoidMovement failed: %v", err)
	}
	if !res.NewOnHand.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected on_hand back to 10, got %s", res.NewOnHand)
	}

	// Second void of the same movement is rejected.
	_, err = stock.VoidMovement(ctx, out.MovementID, "supervisor", "again", time.Time{})
	var already *core.AlreadyVoidedError
	if !errors.As(err, &already) {
		t.Fatalf("expected AlreadyVoidedError, got %v", err)
	}

	// Voiding the reversal itself is rejected as well.
	_, err = stock.VoidMovement(ctx, res.VoidID, "supervisor", "nope", time.Time{})
	if !errors.As(err, &already) {
		t.Fatalf("expected AlreadyVoidedError for reversal, got %v", err)
	}

	mv, err := stock.GetMovement(ctx, out.MovementID)
	if err != nil {
		t.Fatalf("GetMovement failed: %v", err)
	}
	if !mv.IsVoid || mv.VoidedBy == nil {
		t.Errorf("original movement must be flagged void with voided_by set")
	}
}

func TestStock_VoidInCannotClawBackReserved(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	stock := core.NewStockService(pool, nil)
	ctx := context.Background()

	in := receive(t, ctx, stock, itemBearing, locA1, 5)
	if _, err := stock.Reserve(ctx, core.ReserveInput{
		ItemID: itemBearing, LocationID: locA1,
		Quantity: decimal.NewFromInt(3), Actor: "tester",
	}); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	// Only 2 are available but the void needs to pull back 5.
	_, err := stock.VoidMovement(ctx, in.MovementID, "supervisor", "wrong receipt", time.Time{})
	var insufficient *core.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
}

func TestStock_AdjVoidRejected(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	stock := core.NewStockService(pool, nil)
	ctx := context.Background()

	receive(t, ctx, stock, itemBearing, locA1, 10)
	adj, err := stock.AdjustDelta(ctx, core.AdjustInput{
		ItemID: itemBearing, LocationID: locA1,
		RegisteredBy: "auditor", Reason: "cycle count",
	}, decimal.NewFromInt(-2))
	if err != nil {
		t.Fatalf("AdjustDelta failed: %v", err)
	}

	_, err = stock.VoidMovement(ctx, adj.MovementID, "supervisor", "undo", time.Time{})
	var validation *core.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for ADJ void, got %v", err)
	}
}
