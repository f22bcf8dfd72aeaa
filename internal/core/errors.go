package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// The error types below form the closed taxonomy every mutating operation
// reports through. A rejected mutation always rolls back in full; callers
// can branch on the type with errors.As.

// ValidationError reports malformed input: a missing required field, a
// non-positive quantity, or an empty reason where one is mandatory.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InsufficientStockError is returned when an OUT, transfer, or reserve
// exceeds the available quantity (on_hand - reserved).
type InsufficientStockError struct {
	Available decimal.Decimal
	Reserved  decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: available %s, reserved %s, requested %s",
		e.Available.StringFixed(3), e.Reserved.StringFixed(3), e.Requested.StringFixed(3))
}

// WouldViolateReservationError is returned when an adjustment would drop
// on_hand below the reserved quantity.
type WouldViolateReservationError struct {
	NewOnHand decimal.Decimal
	Reserved  decimal.Decimal
}

func (e *WouldViolateReservationError) Error() string {
	return fmt.Sprintf("adjustment would leave on_hand (%s) below reserved (%s)",
		e.NewOnHand.StringFixed(3), e.Reserved.StringFixed(3))
}

// NegativeStockError is returned when an adjustment would drive on_hand
// below zero.
type NegativeStockError struct {
	NewOnHand decimal.Decimal
}

func (e *NegativeStockError) Error() string {
	return fmt.Sprintf("adjustment would leave on_hand negative (%s)", e.NewOnHand.StringFixed(3))
}

// AlreadyVoidedError is returned when voiding a movement that is already
// marked void.
type AlreadyVoidedError struct {
	MovementID int
}

func (e *AlreadyVoidedError) Error() string {
	return fmt.Sprintf("movement %d is already voided", e.MovementID)
}

// AlreadyHasReversalError is returned when a movement already has a reversal
// linked to it.
type AlreadyHasReversalError struct {
	MovementID int
	ReversalID int
}

func (e *AlreadyHasReversalError) Error() string {
	return fmt.Sprintf("movement %d already has reversal %d", e.MovementID, e.ReversalID)
}

// InvalidTransitionError is returned by the workflow governor for any
// transition the state machine does not allow from the current status.
type InvalidTransitionError struct {
	Current   WorkOrderStatus
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s a work order in status %s", e.Requested, e.Current)
}

// InvalidReservationStateError is returned when a reservation referenced by
// a consume or release no longer matches: wrong status, wrong item/location,
// or not enough quantity left on it.
type InvalidReservationStateError struct {
	ReservationID int
	Msg           string
}

func (e *InvalidReservationStateError) Error() string {
	return fmt.Sprintf("reservation %d: %s", e.ReservationID, e.Msg)
}

// NotFoundError reports a missing entity by kind and reference.
type NotFoundError struct {
	Kind string
	Ref  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Ref)
}

func notFound(kind string, ref any) error {
	return &NotFoundError{Kind: kind, Ref: fmt.Sprint(ref)}
}
