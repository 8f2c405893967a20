package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPendingPayment    OrderStatus = "pending_payment"
	StatusPaymentProcessing OrderStatus = "payment_processing"
	StatusPaymentFailed     OrderStatus = "payment_failed"
	StatusPreparing         OrderStatus = "preparing"
	StatusReady             OrderStatus = "ready"
	StatusCompleted         OrderStatus = "completed"
	StatusCancelled         OrderStatus = "cancelled"
)

// Origin tells which screen created the order.
type Origin string

const (
	OriginCart  Origin = "cart"
	OriginMenu  Origin = "menu"
	OriginQuick Origin = "quick"
)

// CartItem is one line of the persisted cart record.
type CartItem struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Emoji    string          `json:"emoji"`
}

func (c CartItem) LineTotal() decimal.Decimal {
	return c.Price.Mul(decimal.NewFromInt(int64(c.Quantity)))
}

// OrderItem is a cart line frozen into an order at creation time.
type OrderItem CartItem

func (i OrderItem) LineTotal() decimal.Decimal {
	return CartItem(i).LineTotal()
}

// Order is a row of the persisted orders record.
type Order struct {
	ID          string          `json:"id"`
	OrderNumber string          `json:"orderNumber"`
	Items       []OrderItem     `json:"items"`
	Total       decimal.Decimal `json:"total"`
	Status      OrderStatus     `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Type        Origin          `json:"type"`
	// PaymentStartedAt restarts the payment countdown on retry; nil means Timestamp.
	PaymentStartedAt *time.Time `json:"paymentStartedAt,omitempty"`
	LoyaltyAwarded   bool       `json:"loyaltyAwarded,omitempty"`
}

// ItemsTotal returns Σ price×quantity over the items.
func ItemsTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// SnapshotItems copies cart lines into order items.
func SnapshotItems(cart []CartItem) []OrderItem {
	out := make([]OrderItem, len(cart))
	for i, ci := range cart {
		out[i] = OrderItem(ci)
	}
	return out
}

// Recompute resets Total from the items.
func (o *Order) Recompute() {
	o.Total = ItemsTotal(o.Items)
}

// TotalMatches reports whether the stored total equals the recomputed one.
func (o *Order) TotalMatches() bool {
	return o.Total.Equal(ItemsTotal(o.Items))
}

func (o *Order) ItemCount() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

// CountdownStart is the instant the payment countdown is measured from.
func (o *Order) CountdownStart() time.Time {
	if o.PaymentStartedAt != nil {
		return *o.PaymentStartedAt
	}
	return o.Timestamp
}

// IsOutstanding reports pending_payment or payment_processing.
func (s OrderStatus) IsOutstanding() bool {
	return s == StatusPendingPayment || s == StatusPaymentProcessing
}

// IsUnpaid is the badge definition: outstanding or failed.
func (s OrderStatus) IsUnpaid() bool {
	return s.IsOutstanding() || s == StatusPaymentFailed
}

func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPendingPayment, StatusPaymentProcessing, StatusPaymentFailed,
		StatusPreparing, StatusReady, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}
