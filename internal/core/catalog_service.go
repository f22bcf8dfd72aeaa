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

// ItemInput carries the fields needed to register a new SKU. Type,
// criticality, and unit of measure are referenced by their codes.
type ItemInput struct {
	SKU             string
	Name            string
	Description     string
	ItemType        string
	CriticalityCode string
	UomCode         string
	MinStock        decimal.Decimal
}

// CatalogService manages the item catalog. SKU and the classification
// references are immutable after creation; min_stock is the one tunable.
type CatalogService interface {
	CreateItem(ctx context.Context, in ItemInput) (*Item, error)
	GetItems(ctx context.Context) ([]Item, error)
	GetItemBySKU(ctx context.Context, sku string) (*Item, error)
	// SetMinStock updates the low-stock threshold that drives alerting.
	SetMinStock(ctx context.Context, sku string, minStock decimal.Decimal) (*Item, error)
	DeactivateItem(ctx context.Context, sku string) error
}

type catalogService struct {
	pool *pgxpool.Pool
}

func NewCatalogService(pool *pgxpool.Pool) CatalogService {
	return &catalogService{pool: pool}
}

const itemColumns = `
	id, sku, name, description, item_type_id, criticality_id, uom_id,
	min_stock, is_active, created_at`

func scanItem(row pgx.Row, it *Item) error {
	return row.Scan(
		&it.ID, &it.SKU, &it.Name, &it.Description,
		&it.ItemTypeID, &it.CriticalityID, &it.UomID,
		&it.MinStock, &it.IsActive, &it.CreatedAt,
	)
}

func (s *catalogService) CreateItem(ctx context.Context, in ItemInput) (*Item, error) {
	in.SKU = strings.TrimSpace(in.SKU)
	if in.SKU == "" {
		return nil, validationf("sku is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, validationf("item name is required")
	}
	if in.MinStock.IsNegative() {
		return nil, validationf("min_stock cannot be negative")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var itemTypeID int
	if err := tx.QueryRow(ctx,
		"SELECT id FROM item_types WHERE name = $1 AND is_active = true", in.ItemType,
	).Scan(&itemTypeID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("item type", in.ItemType)
		}
		return nil, fmt.Errorf("failed to resolve item type: %w", err)
	}

	var criticalityID int
	if err := tx.QueryRow(ctx,
		"SELECT id FROM criticalities WHERE code = $1 AND is_active = true", in.CriticalityCode,
	).Scan(&criticalityID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("criticality", in.CriticalityCode)
		}
		return nil, fmt.Errorf("failed to resolve criticality: %w", err)
	}

	var uomID int
	if err := tx.QueryRow(ctx,
		"SELECT id FROM units_of_measure WHERE code = $1 AND is_active = true", in.UomCode,
	).Scan(&uomID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("unit of measure", in.UomCode)
		}
		return nil, fmt.Errorf("failed to resolve unit of measure: %w", err)
	}

	var it Item
	err = scanItem(tx.QueryRow(ctx, `
		INSERT INTO items (sku, name, description, item_type_id, criticality_id, uom_id, min_stock)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING`+itemColumns,
		in.SKU, in.Name, in.Description, itemTypeID, criticalityID, uomID, in.MinStock), &it)
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit item creation: %w", err)
	}
	return &it, nil
}

func (s *catalogService) GetItems(ctx context.Context) ([]Item, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT"+itemColumns+" FROM items WHERE is_active = true ORDER BY sku")
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := scanItem(rows, &it); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *catalogService) GetItemBySKU(ctx context.Context, sku string) (*Item, error) {
	var it Item
	err := scanItem(s.pool.QueryRow(ctx,
		"SELECT"+itemColumns+" FROM items WHERE sku = $1", sku), &it)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("item", sku)
		}
		return nil, fmt.Errorf("failed to fetch item %s: %w", sku, err)
	}
	return &it, nil
}

func (s *catalogService) SetMinStock(ctx context.Context, sku string, minStock decimal.Decimal) (*Item, error) {
	if minStock.IsNegative() {
		return nil, validationf("min_stock cannot be negative")
	}

	var it Item
	err := scanItem(s.pool.QueryRow(ctx, `
		UPDATE items SET min_stock = $1, updated_at = NOW()
		WHERE sku = $2
		RETURNING`+itemColumns, minStock, sku), &it)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("item", sku)
		}
		return nil, fmt.Errorf("failed to update min_stock for %s: %w", sku, err)
	}
	return &it, nil
}

func (s *catalogService) DeactivateItem(ctx context.Context, sku string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE items SET is_active = false, updated_at = NOW() WHERE sku = $1", sku)
	if err != nil {
		return fmt.Errorf("failed to deactivate item %s: %w", sku, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("item", sku)
	}
	return nil
}
