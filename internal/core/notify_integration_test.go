package core_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SRXKaiser/mro-inventory/internal/core"
)

// recordingSender captures everything the gate tries to send. failReports
// makes every report delivery fail.
type recordingSender struct {
	mu          sync.Mutex
	alerts      []core.StockAlert
	reports     int
	failReports bool
}

func (s *recordingSender) SendStockAlert(_ context.Context, alert core.StockAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *recordingSender) SendDailyReport(_ context.Context, _ core.DailyKPIs, _ []core.LowStockRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReports {
		return errors.New("smtp unavailable")
	}
	s.reports++
	return nil
}

func (s *recordingSender) alertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func TestNotify_AlertOnThresholdCrossing(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	sender := &recordingSender{}
	reporting := core.NewReportingService(pool)
	gate := core.NewNotifyService(pool, reporting, sender, core.DefaultCooldowns(), slog.Default())
	stock := core.NewStockService(pool, gate)

	// Bearing min_stock is 5. Receiving 10 keeps it healthy.
	receive(t, ctx, stock, itemBearing, locA1, 10)
	if sender.alertCount() != 0 {
		t.Fatalf("healthy snapshot must not alert, got %d", sender.alertCount())
	}

	// Dropping to 4 crosses the threshold.
	if _, err := stock.RegisterMovement(ctx, core.MovementInput{
		ItemID: itemBearing, LocationID: locA1, Type: core.MovementOut,
		Quantity: decimal.NewFromInt(6), RegisteredBy: "tester",
	}); err != nil {
		t.Fatalf("OUT failed: %v", err)
	}
	if sender.alertCount() != 1 {
		t.Fatalf("expected exactly one alert, got %d", sender.alertCount())
	}
	if sev := sender.alerts[0].Severity; sev != core.SeverityMedium {
		t.Errorf("expected MEDIUM at 4/0 against min 5, got %s", sev)
	}

	// Another drop at the same severity is throttled by the cooldown.
	if _, err := stock.RegisterMovement(ctx, core.MovementInput{
		ItemID: itemBearing, LocationID: locA1, Type: core.MovementOut,
		Quantity: decimal.NewFromInt(1), RegisteredBy: "tester",
	}); err != nil {
		t.Fatalf("OUT failed: %v", err)
	}
	if sender.alertCount() != 1 {
		t.Errorf("repeat alert within cooldown must be throttled, got %d", sender.alertCount())
	}

	// A severity escalation fires immediately despite the MEDIUM cooldown.
	if _, err := stock.Reserve(ctx, core.ReserveInput{
		ItemID: itemBearing, LocationID: locA1,
		Quantity: decimal.NewFromInt(3), Actor: "tester",
	}); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if sender.alertCount() != 2 {
		t.Fatalf("severity change must bypass the old cooldown, got %d", sender.alertCount())
	}
	if sev := sender.alerts[1].Severity; sev != core.SeverityCritical {
		t.Errorf("expected CRITICAL at 3/3 against min 5, got %s", sev)
	}
}

func TestNotify_ScanAndNotify(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	sender := &recordingSender{}
	reporting := core.NewReportingService(pool)
	gate := core.NewNotifyService(pool, reporting, sender, core.DefaultCooldowns(), slog.Default())
	stock := core.NewStockService(pool, nil)

	// Both items start below their minimums as soon as a snapshot exists.
	receive(t, ctx, stock, itemBearing, locA1, 2)
	receive(t, ctx, stock, itemOil, locA2, 5)

	sent, err := gate.ScanAndNotify(ctx)
	if err != nil {
		t.Fatalf("ScanAndNotify failed: %v", err)
	}
	if sent != 2 {
		t.Fatalf("expected 2 alerts from scan, got %d", sent)
	}

	// A second scan inside the cooldown sends nothing.
	sent, err = gate.ScanAndNotify(ctx)
	if err != nil {
		t.Fatalf("second ScanAndNotify failed: %v", err)
	}
	if sent != 0 {
		t.Errorf("expected throttled rescan, got %d alerts", sent)
	}
}

func TestNotify_DailyReportIdempotent(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	sender := &recordingSender{}
	reporting := core.NewReportingService(pool)
	gate := core.NewNotifyService(pool, reporting, sender, core.DefaultCooldowns(), slog.Default())

	day := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	first, err := gate.SendDailyReport(ctx, day, false)
	if err != nil {
		t.Fatalf("first SendDailyReport failed: %v", err)
	}
	if first.Status != core.NotificationSent || sender.reports != 1 {
		t.Fatalf("expected SENT and one delivery, got %s / %d", first.Status, sender.reports)
	}

	second, err := gate.SendDailyReport(ctx, day, false)
	if err != nil {
		t.Fatalf("second SendDailyReport failed: %v", err)
	}
	if second.Status != core.NotificationSent || sender.reports != 1 {
		t.Errorf("repeat of a sent day must not redeliver, got %s / %d deliveries", second.Status, sender.reports)
	}
	if second.SentAt == nil {
		t.Errorf("repeat must return the original send time")
	}

	forced, err := gate.SendDailyReport(ctx, day, true)
	if err != nil {
		t.Fatalf("forced SendDailyReport failed: %v", err)
	}
	if forced.Status != core.NotificationSent || sender.reports != 2 {
		t.Errorf("force must resend, got %s / %d deliveries", forced.Status, sender.reports)
	}
	if !forced.CooldownUntil.After(first.CooldownUntil) {
		t.Errorf("force must re-arm the cooldown, got %s <= %s", forced.CooldownUntil, first.CooldownUntil)
	}
}

func TestNotify_DailyReportCooldownSkip(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	sender := &recordingSender{failReports: true}
	reporting := core.NewReportingService(pool)
	gate := core.NewNotifyService(pool, reporting, sender, core.DefaultCooldowns(), slog.Default())

	day := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	// The first attempt fails but arms the cooldown.
	failed, err := gate.SendDailyReport(ctx, day, false)
	if err == nil {
		t.Fatal("expected delivery error from failing sender")
	}
	if failed.Status != core.NotificationFailed {
		t.Fatalf("expected FAILED, got %s", failed.Status)
	}
	if !failed.CooldownUntil.After(time.Now()) {
		t.Fatalf("failed attempt must leave the cooldown armed, got %s", failed.CooldownUntil)
	}

	// A retry inside the cooldown window records SKIPPED without sending.
	sender.failReports = false
	skipped, err := gate.SendDailyReport(ctx, day, false)
	if err != nil {
		t.Fatalf("in-cooldown SendDailyReport failed: %v", err)
	}
	if skipped.Status != core.NotificationSkipped || sender.reports != 0 {
		t.Fatalf("retry in cooldown must skip, got %s / %d deliveries", skipped.Status, sender.reports)
	}

	var persisted string
	err = pool.QueryRow(ctx,
		"SELECT status FROM notification_events WHERE kind = 'DAILY_REPORT' AND key = $1",
		day.UTC().Format("2006-01-02")).Scan(&persisted)
	if err != nil {
		t.Fatalf("failed to read notification event: %v", err)
	}
	if persisted != string(core.NotificationSkipped) {
		t.Errorf("SKIPPED must be persisted, got %s", persisted)
	}

	// Force punches through the cooldown and re-arms it.
	forced, err := gate.SendDailyReport(ctx, day, true)
	if err != nil {
		t.Fatalf("forced SendDailyReport failed: %v", err)
	}
	if forced.Status != core.NotificationSent || sender.reports != 1 {
		t.Errorf("force must send despite cooldown, got %s / %d deliveries", forced.Status, sender.reports)
	}
}
