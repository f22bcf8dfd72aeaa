package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// MovementType classifies a ledger entry. IN and OUT record physical stock
// changes; ADJ records a formal correction and is only created through
// AdjustDelta / AdjustSet.
type MovementType string

const (
	MovementIn  MovementType = "IN"
	MovementOut MovementType = "OUT"
	MovementAdj MovementType = "ADJ"
)

// Warehouse is a physical site holding one or more locations.
type Warehouse struct {
	ID        int
	Code      string
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

// Location is a storage position inside a warehouse. (warehouse, code) is unique.
type Location struct {
	ID            int
	WarehouseID   int
	WarehouseCode string
	Code          string
	Name          string
	Description   string
	IsActive      bool
	CreatedAt     time.Time
}

// ItemType, Criticality, and UnitOfMeasure are catalog reference data.
type ItemType struct {
	ID       int
	Name     string
	IsActive bool
}

type Criticality struct {
	ID       int
	Code     string
	Name     string
	Rank     int
	IsActive bool
}

type UnitOfMeasure struct {
	ID       int
	Code     string
	Name     string
	IsActive bool
}

// Item is a stocked SKU. MinStock drives low-stock alerting; identity fields
// are immutable after creation.
type Item struct {
	ID            int
	SKU           string
	Name          string
	Description   string
	ItemTypeID    int
	CriticalityID int
	UomID         int
	MinStock      decimal.Decimal
	IsActive      bool
	CreatedAt     time.Time
}

// StockSnapshot is the per (item, location) quantity record. It is created
// lazily on the first movement or reservation touching the pair and never
// deleted. Invariant after every committed operation: 0 <= reserved <= on_hand.
type StockSnapshot struct {
	ID             int
	ItemID         int
	LocationID     int
	OnHand         decimal.Decimal
	Reserved       decimal.Decimal
	LastMovementAt *time.Time
	UpdatedAt      time.Time
}

// Available is the only quantity eligible for new OUT or reserve operations.
func (s StockSnapshot) Available() decimal.Decimal {
	return s.OnHand.Sub(s.Reserved)
}

// InventoryMovement is an immutable ledger entry. Once created, only the
// void-marking fields may change, and only through VoidMovement.
// VoidOf links a reversal back to the movement it undoes; the storage layer
// enforces at most one reversal per original.
type InventoryMovement struct {
	ID           int
	ItemID       int
	LocationID   int
	MovementType MovementType
	Quantity     decimal.Decimal
	OccurredAt   time.Time
	RegisteredBy string
	Reference    string
	Notes        string

	IsVoid     bool
	VoidedAt   *time.Time
	VoidedBy   *string
	VoidReason string
	VoidOf     *int

	CreatedAt time.Time
}

// StockLevel is a read view of a snapshot joined with item and location info.
type StockLevel struct {
	SKU           string
	ItemName      string
	WarehouseCode string
	LocationCode  string
	OnHand        decimal.Decimal
	Reserved      decimal.Decimal
	Available     decimal.Decimal
	MinStock      decimal.Decimal
}

// NotificationKind and NotificationStatus describe entries in the
// notification_events idempotency ledger.
type NotificationKind string

const (
	NotificationDailyReport NotificationKind = "DAILY_REPORT"
	NotificationStockAlert  NotificationKind = "STOCK_ALERT"
)

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "PENDING"
	NotificationSent    NotificationStatus = "SENT"
	NotificationSkipped NotificationStatus = "SKIPPED"
	NotificationFailed  NotificationStatus = "FAILED"
)

// NotificationEvent guarantees at most one effective send per (kind, key)
// within its cooldown window. (kind, key) is unique.
type NotificationEvent struct {
	ID            int
	Kind          NotificationKind
	Key           string
	Status        NotificationStatus
	CooldownUntil time.Time
	Subject       string
	Recipient     string
	Error         string
	SentAt        *time.Time
	CreatedAt     time.Time
}

// InCooldown reports whether the event's cooldown window is still open.
func (e NotificationEvent) InCooldown(now time.Time) bool {
	return now.Before(e.CooldownUntil)
}
