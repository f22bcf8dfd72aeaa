package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LocationService manages the warehouse/location registry. Read-mostly
// reference data; the ledger only consumes location ids from here.
type LocationService interface {
	CreateWarehouse(ctx context.Context, code, name string) (*Warehouse, error)
	GetWarehouses(ctx context.Context) ([]Warehouse, error)
	GetWarehouseByCode(ctx context.Context, code string) (*Warehouse, error)

	// CreateLocation creates a location inside a warehouse; (warehouse, code)
	// is unique.
	CreateLocation(ctx context.Context, warehouseCode, code, name, description string) (*Location, error)
	GetLocations(ctx context.Context, warehouseCode string) ([]Location, error)
	GetLocationByCode(ctx context.Context, warehouseCode, code string) (*Location, error)
	DeactivateLocation(ctx context.Context, locationID int) error
}

type locationService struct {
	pool *pgxpool.Pool
}

func NewLocationService(pool *pgxpool.Pool) LocationService {
	return &locationService{pool: pool}
}

func (s *locationService) CreateWarehouse(ctx context.Context, code, name string) (*Warehouse, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, validationf("warehouse code is required")
	}

	var w Warehouse
	err := s.pool.QueryRow(ctx, `
		INSERT INTO warehouses (code, name)
		VALUES ($1, $2)
		RETURNING id, code, name, is_active, created_at
	`, code, name).Scan(&w.ID, &w.Code, &w.Name, &w.IsActive, &w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create warehouse: %w", err)
	}
	return &w, nil
}

func (s *locationService) GetWarehouses(ctx context.Context) ([]Warehouse, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, name, is_active, created_at
		FROM warehouses
		WHERE is_active = true
		ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query warehouses: %w", err)
	}
	defer rows.Close()

	var warehouses []Warehouse
	for rows.Next() {
		var w Warehouse
		if err := rows.Scan(&w.ID, &w.Code, &w.Name, &w.IsActive, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan warehouse: %w", err)
		}
		warehouses = append(warehouses, w)
	}
	return warehouses, rows.Err()
}

func (s *locationService) GetWarehouseByCode(ctx context.Context, code string) (*Warehouse, error) {
	var w Warehouse
	err := s.pool.QueryRow(ctx, `
		SELECT id, code, name, is_active, created_at
		FROM warehouses
		WHERE code = $1
	`, code).Scan(&w.ID, &w.Code, &w.Name, &w.IsActive, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("warehouse", code)
		}
		return nil, fmt.Errorf("failed to fetch warehouse %s: %w", code, err)
	}
	return &w, nil
}

func (s *locationService) CreateLocation(ctx context.Context, warehouseCode, code, name, description string) (*Location, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, validationf("location code is required")
	}

	wh, err := s.GetWarehouseByCode(ctx, warehouseCode)
	if err != nil {
		return nil, err
	}

	var l Location
	err = s.pool.QueryRow(ctx, `
		INSERT INTO locations (warehouse_id, code, name, description)
		VALUES ($1, $2, $3, $4)
		RETURNING id, warehouse_id, code, name, description, is_active, created_at
	`, wh.ID, code, name, description).Scan(
		&l.ID, &l.WarehouseID, &l.Code, &l.Name, &l.Description, &l.IsActive, &l.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create location: %w", err)
	}
	l.WarehouseCode = wh.Code
	return &l, nil
}

func (s *locationService) GetLocations(ctx context.Context, warehouseCode string) ([]Location, error) {
	query := `
		SELECT l.id, l.warehouse_id, w.code, l.code, l.name, l.description, l.is_active, l.created_at
		FROM locations l
		JOIN warehouses w ON w.id = l.warehouse_id
		WHERE l.is_active = true
	`
	args := []any{}
	if warehouseCode != "" {
		query += " AND w.code = $1"
		args = append(args, warehouseCode)
	}
	query += " ORDER BY w.code, l.code"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	defer rows.Close()

	var locations []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.WarehouseID, &l.WarehouseCode, &l.Code, &l.Name,
			&l.Description, &l.IsActive, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		locations = append(locations, l)
	}
	return locations, rows.Err()
}

func (s *locationService) GetLocationByCode(ctx context.Context, warehouseCode, code string) (*Location, error) {
	var l Location
	err := s.pool.QueryRow(ctx, `
		SELECT l.id, l.warehouse_id, w.code, l.code, l.name, l.description, l.is_active, l.created_at
		FROM locations l
		JOIN warehouses w ON w.id = l.warehouse_id
		WHERE w.code = $1 AND l.code = $2
	`, warehouseCode, code).Scan(
		&l.ID, &l.WarehouseID, &l.WarehouseCode, &l.Code, &l.Name,
		&l.Description, &l.IsActive, &l.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("location", warehouseCode+":"+code)
		}
		return nil, fmt.Errorf("failed to fetch location %s:%s: %w", warehouseCode, code, err)
	}
	return &l, nil
}

func (s *locationService) DeactivateLocation(ctx context.Context, locationID int) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE locations SET is_active = false WHERE id = $1", locationID)
	if err != nil {
		return fmt.Errorf("failed to deactivate location %d: %w", locationID, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("location", locationID)
	}
	return nil
}
