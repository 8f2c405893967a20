package services

import (
	"errors"
	"fmt"

	"kbar-telegram/models"
)

var (
	// ErrStorage wraps every failure of the persisted store.
	ErrStorage           = errors.New("storage failure")
	ErrOutstandingOrder  = errors.New("unpaid order outstanding")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOrderNotFound     = errors.New("order not found")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrEmptyDraft        = errors.New("quick order is empty")
	ErrInvalidQuantity   = errors.New("quantity must be at least 1")
	ErrUnknownItem       = errors.New("unknown menu item")
	ErrNotAuthorized     = errors.New("not authorized")
)

// OutstandingOrderError carries the order that blocks a new one.
type OutstandingOrderError struct {
	Order models.Order
}

func (e *OutstandingOrderError) Error() string {
	return fmt.Sprintf("You have an unpaid order (#%s). Please complete payment before creating a new order.", e.Order.OrderNumber)
}

func (e *OutstandingOrderError) Unwrap() error { return ErrOutstandingOrder }

// TransitionError reports a status change whose precondition does not hold.
type TransitionError struct {
	OrderID string
	From    models.OrderStatus
	To      models.OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot move from %s to %s", e.OrderID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
