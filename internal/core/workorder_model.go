package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type WorkOrderStatus string

const (
	WorkOrderDraft      WorkOrderStatus = "DRAFT"
	WorkOrderApproved   WorkOrderStatus = "APPROVED"
	WorkOrderInProgress WorkOrderStatus = "IN_PROGRESS"
	WorkOrderPaused     WorkOrderStatus = "PAUSED"
	WorkOrderCompleted  WorkOrderStatus = "COMPLETED"
	WorkOrderCancelled  WorkOrderStatus = "CANCELLED"
	WorkOrderClosed     WorkOrderStatus = "CLOSED"
)

type WorkOrderPriority string

const (
	PriorityLow    WorkOrderPriority = "LOW"
	PriorityMedium WorkOrderPriority = "MED"
	PriorityHigh   WorkOrderPriority = "HIGH"
	PriorityUrgent WorkOrderPriority = "URG"
)

// WorkOrder is a unit of maintenance work that reserves and consumes
// inventory through its lifecycle.
type WorkOrder struct {
	ID          int
	Code        string
	Status      WorkOrderStatus
	Priority    WorkOrderPriority
	RequestedBy string
	AssignedTo  *string
	Notes       string

	ApprovedAt   *time.Time
	StartedAt    *time.Time
	PausedAt     *time.Time
	PauseReason  string
	ClosedAt     *time.Time
	CancelledAt  *time.Time
	CancelReason string

	CreatedAt time.Time
	Lines     []WorkOrderLine
}

// WorkOrderLine tracks one item's demand on a work order. The qty_* fields
// are denormalized sums over child reservation/issue/return records, kept
// transactionally in step with every mutation; RecomputeLineCaches rebuilds
// them from source records.
type WorkOrderLine struct {
	ID          int
	WorkOrderID int
	ItemID      int
	SKU         string
	QtyRequired decimal.Decimal
	QtyReserved decimal.Decimal
	QtyConsumed decimal.Decimal
	QtyReturned decimal.Decimal
	CreatedAt   time.Time
}

// QtyPending is the demand not yet consumed.
func (l WorkOrderLine) QtyPending() decimal.Decimal {
	return l.QtyRequired.Sub(l.QtyConsumed)
}

type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "ACTIVE"
	ReservationReleased ReservationStatus = "RELEASED"
	ReservationConsumed ReservationStatus = "CONSUMED"
	ReservationVoided   ReservationStatus = "VOIDED"
)

// Reservation is a soft-hold on StockSnapshot.reserved for a work order
// line. It never produces an inventory movement by itself.
type Reservation struct {
	ID          int
	WorkOrderID int
	LineID      int
	ItemID      int
	LocationID  int
	Quantity    decimal.Decimal
	Status      ReservationStatus
	CreatedBy   string
	Reason      string
	ReleasedAt  *time.Time
	CreatedAt   time.Time
}

// WorkOrderIssue is one batch consumption event against a work order.
type WorkOrderIssue struct {
	ID          int
	WorkOrderID int
	Technician  string
	Notes       string
	CreatedAt   time.Time
	Lines       []WorkOrderIssueLine
}

// WorkOrderIssueLine records one consumed item; MovementOutID references the
// OUT movement it produced, ReservationID the reservation it drew from, if any.
type WorkOrderIssueLine struct {
	ID            int
	IssueID       int
	ItemID        int
	LocationID    int
	Quantity      decimal.Decimal
	ReservationID *int
	MovementOutID int
}

// WorkOrderReturn mirrors WorkOrderIssue for material going back to stock.
type WorkOrderReturn struct {
	ID          int
	WorkOrderID int
	Technician  string
	Notes       string
	CreatedAt   time.Time
	Lines       []WorkOrderReturnLine
}

type WorkOrderReturnLine struct {
	ID           int
	ReturnID     int
	ItemID       int
	LocationID   int
	Quantity     decimal.Decimal
	MovementInID int
}
