package core_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SRXKaiser/mro-inventory/internal/core"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestComputeSeverity(t *testing.T) {
	cases := []struct {
		name     string
		onHand   int64
		reserved int64
		minStock int64
		want     core.AlertSeverity
	}{
		{"healthy above threshold", 10, 0, 5, core.SeverityNone},
		{"exactly one above threshold", 6, 0, 5, core.SeverityNone},
		{"at threshold with free stock", 5, 0, 5, core.SeverityMedium},
		{"at threshold partially reserved", 5, 2, 5, core.SeverityHigh},
		{"at threshold fully reserved", 5, 5, 5, core.SeverityCritical},
		{"below threshold no free stock", 0, 0, 5, core.SeverityCritical},
		{"below threshold with free stock", 3, 0, 5, core.SeverityMedium},
		{"below threshold with hold", 3, 1, 5, core.SeverityHigh},
		{"zero minimum zero stock", 0, 0, 0, core.SeverityCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := core.ComputeSeverity(d(tc.onHand), d(tc.reserved), d(tc.minStock))
			if got != tc.want {
				t.Errorf("ComputeSeverity(%d, %d, %d) = %q, want %q",
					tc.onHand, tc.reserved, tc.minStock, got, tc.want)
			}
		})
	}
}

func TestCooldownsOrdering(t *testing.T) {
	c := core.DefaultCooldowns()
	if c.For(core.SeverityCritical) >= c.For(core.SeverityHigh) {
		t.Error("critical cooldown must be shorter than high")
	}
	if c.For(core.SeverityHigh) >= c.For(core.SeverityMedium) {
		t.Error("high cooldown must be shorter than medium")
	}
}

func TestNotificationEventInCooldown(t *testing.T) {
	now := time.Now()
	ev := core.NotificationEvent{CooldownUntil: now.Add(time.Minute)}
	if !ev.InCooldown(now) {
		t.Error("event with future cooldown_until must be in cooldown")
	}
	if ev.InCooldown(now.Add(2 * time.Minute)) {
		t.Error("event past cooldown_until must not be in cooldown")
	}
}
