package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/SRXKaiser/mro-inventory/internal/metrics"
)

// AlertSeverity orders stock alerts worst first. SeverityNone means the
// snapshot is healthy and no alert fires.
type AlertSeverity string

const (
	SeverityNone     AlertSeverity = ""
	SeverityCritical AlertSeverity = "CRITICAL"
	SeverityHigh     AlertSeverity = "HIGH"
	SeverityMedium   AlertSeverity = "MEDIUM"
)

// ComputeSeverity classifies a snapshot against its item minimum.
// Healthy while on_hand is strictly above min_stock. At or below the
// threshold: CRITICAL when nothing is free to issue, HIGH when part of
// the remainder is already promised to work orders, MEDIUM otherwise.
func ComputeSeverity(onHand, reserved, minStock decimal.Decimal) AlertSeverity {
	if onHand.GreaterThan(minStock) {
		return SeverityNone
	}
	available := onHand.Sub(reserved)
	switch {
	case available.LessThanOrEqual(decimal.Zero):
		return SeverityCritical
	case reserved.IsPositive():
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// Cooldowns holds the per-severity repeat-alert windows plus the daily
// report re-send window. Worse severities get shorter windows so they
// re-fire sooner.
type Cooldowns struct {
	Critical    time.Duration
	High        time.Duration
	Medium      time.Duration
	DailyReport time.Duration
}

func DefaultCooldowns() Cooldowns {
	return Cooldowns{
		Critical:    60 * time.Minute,
		High:        240 * time.Minute,
		Medium:      720 * time.Minute,
		DailyReport: 20 * time.Hour,
	}
}

func (c Cooldowns) For(sev AlertSeverity) time.Duration {
	switch sev {
	case SeverityCritical:
		return c.Critical
	case SeverityHigh:
		return c.High
	default:
		return c.Medium
	}
}

// StockAlert is the payload handed to the sender when a snapshot crosses
// its threshold.
type StockAlert struct {
	SKU           string
	ItemName      string
	WarehouseCode string
	LocationCode  string
	OnHand        decimal.Decimal
	Reserved      decimal.Decimal
	Available     decimal.Decimal
	MinStock      decimal.Decimal
	Severity      AlertSeverity
	Reason        string
}

// AlertSender delivers alerts and reports. Implementations live in the
// adapters; the core never knows the transport.
type AlertSender interface {
	SendStockAlert(ctx context.Context, alert StockAlert) error
	SendDailyReport(ctx context.Context, kpis DailyKPIs, lowStock []LowStockRow) error
}

// NotifyService is the notification gate. It implements SnapshotObserver so
// the ledger can poke it after commits, throttles repeat alerts per
// (item, location, severity), and runs the daily report exactly once per
// day through the notification_events ledger.
type NotifyService interface {
	SnapshotObserver

	// ScanAndNotify walks every snapshot at or below threshold and alerts
	// each one, subject to throttling. Returns the number of alerts sent.
	ScanAndNotify(ctx context.Context) (int, error)
	// SendDailyReport sends the report for the day containing t at most
	// once; force overrides a previous send.
	SendDailyReport(ctx context.Context, t time.Time, force bool) (*NotificationEvent, error)
}

type notifyService struct {
	pool      *pgxpool.Pool
	reporting ReportingService
	sender    AlertSender
	cooldowns Cooldowns
	log       *slog.Logger

	mu       sync.Mutex
	lastSent map[throttleKey]time.Time
}

type throttleKey struct {
	itemID     int
	locationID int
	severity   AlertSeverity
}

func NewNotifyService(pool *pgxpool.Pool, reporting ReportingService, sender AlertSender, cooldowns Cooldowns, log *slog.Logger) NotifyService {
	if log == nil {
		log = slog.Default()
	}
	return &notifyService{
		pool:      pool,
		reporting: reporting,
		sender:    sender,
		cooldowns: cooldowns,
		log:       log,
		lastSent:  map[throttleKey]time.Time{},
	}
}

// SnapshotChanged re-evaluates one snapshot after a committed ledger
// mutation. Never returns an error to the caller; delivery problems are
// logged and swallowed.
func (s *notifyService) SnapshotChanged(ctx context.Context, itemID, locationID int, reason string) {
	alert, err := s.loadAlert(ctx, itemID, locationID)
	if err != nil {
		s.log.Error("failed to evaluate snapshot for alerting",
			"item_id", itemID, "location_id", locationID, "error", err)
		return
	}
	if alert == nil {
		return
	}
	alert.Reason = reason
	s.deliver(ctx, itemID, locationID, *alert)
}

// loadAlert returns nil when the snapshot is healthy.
func (s *notifyService) loadAlert(ctx context.Context, itemID, locationID int) (*StockAlert, error) {
	var a StockAlert
	err := s.pool.QueryRow(ctx, `
		SELECT i.sku, i.name, w.code, l.code, ss.on_hand, ss.reserved, i.min_stock
		FROM stock_snapshots ss
		JOIN items i      ON i.id = ss.item_id
		JOIN locations l  ON l.id = ss.location_id
		JOIN warehouses w ON w.id = l.warehouse_id
		WHERE ss.item_id = $1 AND ss.location_id = $2
	`, itemID, locationID).Scan(
		&a.SKU, &a.ItemName, &a.WarehouseCode, &a.LocationCode,
		&a.OnHand, &a.Reserved, &a.MinStock,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load snapshot for alert: %w", err)
	}

	a.Severity = ComputeSeverity(a.OnHand, a.Reserved, a.MinStock)
	if a.Severity == SeverityNone {
		return nil, nil
	}
	a.Available = a.OnHand.Sub(a.Reserved)
	return &a, nil
}

// deliver sends the alert unless a matching one fired within its cooldown.
// Reports whether a send actually happened.
func (s *notifyService) deliver(ctx context.Context, itemID, locationID int, alert StockAlert) bool {
	key := throttleKey{itemID: itemID, locationID: locationID, severity: alert.Severity}
	now := time.Now()

	s.mu.Lock()
	last, seen := s.lastSent[key]
	if seen && now.Sub(last) < s.cooldowns.For(alert.Severity) {
		s.mu.Unlock()
		metrics.AlertsThrottledTotal.Inc()
		return false
	}
	s.lastSent[key] = now
	s.mu.Unlock()

	if err := s.sender.SendStockAlert(ctx, alert); err != nil {
		s.log.Error("failed to send stock alert",
			"sku", alert.SKU, "severity", string(alert.Severity), "error", err)
		// Drop the throttle mark so the next change retries.
		s.mu.Lock()
		if s.lastSent[key] == now {
			delete(s.lastSent, key)
		}
		s.mu.Unlock()
		return false
	}

	metrics.StockAlertsTotal.WithLabelValues(string(alert.Severity)).Inc()
	s.log.Info("stock alert sent",
		"sku", alert.SKU, "location", alert.LocationCode,
		"severity", string(alert.Severity), "available", alert.Available.StringFixed(3))
	return true
}

func (s *notifyService) ScanAndNotify(ctx context.Context) (int, error) {
	low, err := s.reporting.GetLowStock(ctx)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, row := range low {
		ok := s.deliver(ctx, row.ItemID, row.LocationID, StockAlert{
			SKU: row.SKU, ItemName: row.ItemName,
			WarehouseCode: row.WarehouseCode, LocationCode: row.LocationCode,
			OnHand: row.OnHand, Reserved: row.Reserved, Available: row.Available,
			MinStock: row.MinStock, Severity: row.Severity, Reason: "periodic scan",
		})
		if ok {
			sent++
		}
	}
	return sent, nil
}

// SendDailyReport is idempotent per calendar day: the (kind, key) row in
// notification_events is taken FOR UPDATE, so concurrent senders serialize.
// A SENT day never re-sends, a retry inside the persisted cooldown window
// lands as SKIPPED, and force overrides both and re-arms the cooldown.
func (s *notifyService) SendDailyReport(ctx context.Context, t time.Time, force bool) (*NotificationEvent, error) {
	day := t.UTC().Format("2006-01-02")
	now := time.Now()
	cooldownUntil := now.Add(s.cooldowns.DailyReport)
	subject := fmt.Sprintf("Inventory daily report %s", day)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO notification_events (kind, key, status, cooldown_until, subject)
		VALUES ($1, $2, 'PENDING', $3, $4)
		ON CONFLICT (kind, key) DO NOTHING
	`, string(NotificationDailyReport), day, cooldownUntil, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert notification event: %w", err)
	}
	created := tag.RowsAffected() == 1

	var ev NotificationEvent
	err = tx.QueryRow(ctx, `
		SELECT id, kind, key, status, cooldown_until, subject, recipient, error, sent_at, created_at
		FROM notification_events
		WHERE kind = $1 AND key = $2
		FOR UPDATE
	`, string(NotificationDailyReport), day).Scan(
		&ev.ID, &ev.Kind, &ev.Key, &ev.Status, &ev.CooldownUntil,
		&ev.Subject, &ev.Recipient, &ev.Error, &ev.SentAt, &ev.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to lock notification event: %w", err)
	}

	if !created {
		if ev.Status == NotificationSent && !force {
			s.log.Info("daily report already sent, skipping", "day", day)
			return &ev, tx.Commit(ctx)
		}
		if ev.InCooldown(now) && !force {
			skipReason := fmt.Sprintf("cooldown active until %s", ev.CooldownUntil.UTC().Format(time.RFC3339))
			_, err = tx.Exec(ctx,
				"UPDATE notification_events SET status = 'SKIPPED', error = $1 WHERE id = $2",
				skipReason, ev.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to mark notification event skipped: %w", err)
			}
			if err := tx.Commit(ctx); err != nil {
				return nil, fmt.Errorf("failed to commit notification event: %w", err)
			}
			ev.Status = NotificationSkipped
			ev.Error = skipReason
			s.log.Info("daily report in cooldown, skipping", "day", day, "cooldown_until", ev.CooldownUntil)
			return &ev, nil
		}
		// Retry or forced re-send: re-arm the cooldown before sending.
		_, err = tx.Exec(ctx, `
			UPDATE notification_events
			SET status = 'PENDING', error = '', cooldown_until = $1, subject = $2
			WHERE id = $3
		`, cooldownUntil, subject, ev.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to rearm notification event: %w", err)
		}
		ev.CooldownUntil = cooldownUntil
	}

	kpis, err := s.reporting.GetDailyKPIs(ctx, t)
	if err != nil {
		return nil, err
	}
	lowStock, err := s.reporting.GetLowStock(ctx)
	if err != nil {
		return nil, err
	}

	sendErr := s.sender.SendDailyReport(ctx, *kpis, lowStock)

	status := NotificationSent
	errText := ""
	var sentAt *time.Time
	if sendErr != nil {
		status = NotificationFailed
		errText = strings.TrimSpace(sendErr.Error())
		s.log.Error("failed to send daily report", "day", day, "error", sendErr)
	} else {
		sentAt = &now
	}

	_, err = tx.Exec(ctx, `
		UPDATE notification_events
		SET status = $1, subject = $2, error = $3, sent_at = $4
		WHERE id = $5
	`, string(status), subject, errText, sentAt, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update notification event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit notification event: %w", err)
	}

	ev.Status = status
	ev.Subject = subject
	ev.Error = errText
	ev.SentAt = sentAt
	return &ev, sendErr
}
