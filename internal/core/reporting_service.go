package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// LowStockRow is one (item, location) pair at or below its minimum.
type LowStockRow struct {
	ItemID        int
	LocationID    int
	SKU           string
	ItemName      string
	WarehouseCode string
	LocationCode  string
	OnHand        decimal.Decimal
	Reserved      decimal.Decimal
	Available     decimal.Decimal
	MinStock      decimal.Decimal
	Severity      AlertSeverity
}

// DailyKPIs summarizes one calendar day of ledger and work order activity.
type DailyKPIs struct {
	Date              time.Time
	MovementsByType   map[MovementType]int
	VoidedMovements   int
	WorkOrdersCreated int
	WorkOrdersClosed  int
	WorkOrdersOpen    int
	LowStockCount     int
}

type ReportingService interface {
	// GetLowStock lists every snapshot where on_hand <= min_stock, worst first.
	GetLowStock(ctx context.Context) ([]LowStockRow, error)
	// GetDailyKPIs computes counters for the day containing t (UTC).
	GetDailyKPIs(ctx context.Context, t time.Time) (*DailyKPIs, error)
}

type reportingService struct {
	pool *pgxpool.Pool
}

func NewReportingService(pool *pgxpool.Pool) ReportingService {
	return &reportingService{pool: pool}
}

func (s *reportingService) GetLowStock(ctx context.Context) ([]LowStockRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ss.item_id, ss.location_id, i.sku, i.name, w.code, l.code,
		       ss.on_hand, ss.reserved, ss.on_hand - ss.reserved AS available,
		       i.min_stock
		FROM stock_snapshots ss
		JOIN items i      ON i.id = ss.item_id AND i.is_active = true
		JOIN locations l  ON l.id = ss.location_id
		JOIN warehouses w ON w.id = l.warehouse_id
		WHERE ss.on_hand <= i.min_stock
		ORDER BY available ASC, i.sku
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query low stock: %w", err)
	}
	defer rows.Close()

	var out []LowStockRow
	for rows.Next() {
		var r LowStockRow
		if err := rows.Scan(&r.ItemID, &r.LocationID, &r.SKU, &r.ItemName, &r.WarehouseCode, &r.LocationCode,
			&r.OnHand, &r.Reserved, &r.Available, &r.MinStock); err != nil {
			return nil, fmt.Errorf("failed to scan low stock row: %w", err)
		}
		r.Severity = ComputeSeverity(r.OnHand, r.Reserved, r.MinStock)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *reportingService) GetDailyKPIs(ctx context.Context, t time.Time) (*DailyKPIs, error) {
	dayStart := t.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	kpis := &DailyKPIs{
		Date:            dayStart,
		MovementsByType: map[MovementType]int{},
	}

	rows, err := s.pool.Query(ctx, `
		SELECT movement_type, COUNT(*), COUNT(*) FILTER (WHERE is_void)
		FROM inventory_movements
		WHERE occurred_at >= $1 AND occurred_at < $2
		GROUP BY movement_type
	`, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to query movement counts: %w", err)
	}
	for rows.Next() {
		var mt string
		var total, voided int
		if err := rows.Scan(&mt, &total, &voided); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan movement counts: %w", err)
		}
		kpis.MovementsByType[MovementType(mt)] = total
		kpis.VoidedMovements += voided
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE created_at >= $1 AND created_at < $2),
			COUNT(*) FILTER (WHERE closed_at  >= $1 AND closed_at  < $2),
			COUNT(*) FILTER (WHERE status NOT IN ('CLOSED', 'CANCELLED'))
		FROM work_orders
	`, dayStart, dayEnd).Scan(&kpis.WorkOrdersCreated, &kpis.WorkOrdersClosed, &kpis.WorkOrdersOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to query work order counts: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM stock_snapshots ss
		JOIN items i ON i.id = ss.item_id AND i.is_active = true
		WHERE ss.on_hand <= i.min_stock
	`).Scan(&kpis.LowStockCount)
	if err != nil {
		return nil, fmt.Errorf("failed to query low stock count: %w", err)
	}
	return kpis, nil
}
