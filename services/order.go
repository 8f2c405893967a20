package services

import (
	"strings"
	"time"

	"kbar-telegram/models"

	"github.com/google/uuid"
)

// allowedTransitions lists every status change the order machine performs.
var allowedTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.StatusPendingPayment:    {models.StatusPaymentProcessing, models.StatusCancelled},
	models.StatusPaymentProcessing: {models.StatusPreparing, models.StatusPaymentFailed},
	models.StatusPaymentFailed:     {models.StatusPendingPayment, models.StatusCancelled},
	models.StatusCancelled:         {models.StatusPendingPayment},
	models.StatusPreparing:         {models.StatusReady},
	models.StatusReady:             {models.StatusCompleted},
}

// ValidStatusTransition returns true if moving from -> to is allowed.
func ValidStatusTransition(from, to models.OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NewOrderNumber returns "ORD-" plus 7 uppercase hex characters of a fresh UUID.
func NewOrderNumber(id uuid.UUID) string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:7])
}

// NewOrder freezes items into a pending_payment order. Items are copied and
// the total is recomputed from them.
func NewOrder(items []models.OrderItem, origin models.Origin, now time.Time) models.Order {
	id := uuid.New()
	o := models.Order{
		ID:          id.String(),
		OrderNumber: NewOrderNumber(id),
		Items:       append([]models.OrderItem(nil), items...),
		Status:      models.StatusPendingPayment,
		Timestamp:   now,
		Type:        origin,
	}
	o.Recompute()
	return o
}

// StatusLabel is the customer-facing name of a status.
func StatusLabel(s models.OrderStatus) string {
	switch s {
	case models.StatusPendingPayment:
		return "⏳ Awaiting payment"
	case models.StatusPaymentProcessing:
		return "💳 Processing payment"
	case models.StatusPaymentFailed:
		return "❌ Payment failed"
	case models.StatusPreparing:
		return "👨‍🍳 Preparing"
	case models.StatusReady:
		return "✅ Ready for pickup"
	case models.StatusCompleted:
		return "🎉 Completed"
	case models.StatusCancelled:
		return "🚫 Cancelled"
	default:
		return string(s)
	}
}

// CustomerMessageForOrderStatus is the one-line notice sent when an order changes status.
func CustomerMessageForOrderStatus(o *models.Order) string {
	switch o.Status {
	case models.StatusPreparing:
		return "Payment received for order #" + o.OrderNumber + " ($" + o.Total.StringFixed(2) + "). The bar is preparing it."
	case models.StatusPaymentFailed:
		return "Payment for order #" + o.OrderNumber + " failed. You can retry or cancel it."
	case models.StatusReady:
		return "Order #" + o.OrderNumber + " is ready at the bar."
	case models.StatusCompleted:
		return "Order #" + o.OrderNumber + " is completed. Enjoy!"
	case models.StatusCancelled:
		return "Order #" + o.OrderNumber + " was cancelled."
	}
	return ""
}
