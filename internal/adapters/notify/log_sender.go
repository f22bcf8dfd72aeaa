package notify

import (
	"context"
	"log/slog"
	"strings"

	"github.com/SRXKaiser/mro-inventory/internal/core"
)

// LogSender writes alerts and reports to the structured log. Deployments
// ship logs to the on-call channel; a direct mail or chat transport can
// replace this by implementing core.AlertSender.
type LogSender struct {
	log        *slog.Logger
	recipients []string
}

func NewLogSender(log *slog.Logger, recipients []string) *LogSender {
	return &LogSender{log: log, recipients: recipients}
}

func (s *LogSender) SendStockAlert(ctx context.Context, alert core.StockAlert) error {
	s.log.Warn("stock alert",
		"severity", string(alert.Severity),
		"sku", alert.SKU,
		"item", alert.ItemName,
		"warehouse", alert.WarehouseCode,
		"location", alert.LocationCode,
		"on_hand", alert.OnHand.StringFixed(3),
		"reserved", alert.Reserved.StringFixed(3),
		"available", alert.Available.StringFixed(3),
		"min_stock", alert.MinStock.StringFixed(3),
		"reason", alert.Reason,
		"recipients", strings.Join(s.recipients, ","),
	)
	return nil
}

func (s *LogSender) SendDailyReport(ctx context.Context, kpis core.DailyKPIs, lowStock []core.LowStockRow) error {
	movements := 0
	for _, n := range kpis.MovementsByType {
		movements += n
	}
	s.log.Info("daily inventory report",
		"date", kpis.Date.Format("2006-01-02"),
		"movements", movements,
		"voided_movements", kpis.VoidedMovements,
		"work_orders_created", kpis.WorkOrdersCreated,
		"work_orders_closed", kpis.WorkOrdersClosed,
		"work_orders_open", kpis.WorkOrdersOpen,
		"low_stock_rows", len(lowStock),
		"recipients", strings.Join(s.recipients, ","),
	)
	return nil
}
