package services

import (
	"fmt"
	"strconv"
	"strings"

	"kbar-telegram/models"
)

// OrderCardButton is one inline button (text + callback_data or url).
type OrderCardButton struct {
	Text         string
	CallbackData string
	URL          string // if set, use as URL button instead of callback
}

// OrderCardContent is the text and optional inline keyboard for an order card.
type OrderCardContent struct {
	Text    string
	Buttons [][]OrderCardButton
}

// Callback actions carried by card buttons.
const (
	ActionPay      = "pay"
	ActionCancel   = "cancel"
	ActionRetry    = "retry"
	ActionView     = "order"
	ActionReady    = "kready"
	ActionComplete = "kdone"
)

// FormatCountdown renders seconds as m:ss.
func FormatCountdown(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

func writeItems(sb *strings.Builder, items []models.OrderItem) {
	for _, it := range items {
		fmt.Fprintf(sb, "%s %s x%d  $%s\n", it.Emoji, it.Name, it.Quantity, it.LineTotal().StringFixed(2))
	}
}

// BuildCustomerCard returns the customer's view of an order. remaining is the
// countdown in seconds and is shown only while the order awaits payment.
func BuildCustomerCard(o models.Order, remaining int) OrderCardContent {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Order #%s\n", o.OrderNumber)
	fmt.Fprintf(&sb, "%s\n\n", o.Timestamp.Format("Jan 2, 15:04"))
	writeItems(&sb, o.Items)
	fmt.Fprintf(&sb, "\n💵 Total: $%s\n", o.Total.StringFixed(2))
	fmt.Fprintf(&sb, "Status: %s", StatusLabel(o.Status))
	switch o.Status {
	case models.StatusPendingPayment:
		fmt.Fprintf(&sb, "\n⏱ Pay within %s", FormatCountdown(remaining))
	case models.StatusPreparing:
		fmt.Fprintf(&sb, "\n⭐ +%d loyalty points", PointsFor(o.Total))
	}

	var buttons [][]OrderCardButton
	switch o.Status {
	case models.StatusPendingPayment:
		buttons = [][]OrderCardButton{
			{{Text: "💳 Pay $" + o.Total.StringFixed(2), CallbackData: ActionPay + ":" + o.ID}},
			{{Text: "🚫 Cancel", CallbackData: ActionCancel + ":" + o.ID}},
		}
	case models.StatusPaymentFailed:
		buttons = [][]OrderCardButton{
			{{Text: "🔁 Retry payment", CallbackData: ActionRetry + ":" + o.ID},
				{Text: "🚫 Cancel", CallbackData: ActionCancel + ":" + o.ID}},
		}
	case models.StatusCancelled:
		buttons = [][]OrderCardButton{
			{{Text: "🔁 Order again", CallbackData: ActionRetry + ":" + o.ID}},
		}
	}
	return OrderCardContent{Text: sb.String(), Buttons: buttons}
}

// BuildKitchenCard returns the staff view of a paid order with the next kitchen action.
func BuildKitchenCard(o models.Order, userID int64) OrderCardContent {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🧾 Order #%s\n\n", o.OrderNumber)
	writeItems(&sb, o.Items)
	fmt.Fprintf(&sb, "\nTotal: $%s\n", o.Total.StringFixed(2))
	fmt.Fprintf(&sb, "Status: %s", StatusLabel(o.Status))

	uid := strconv.FormatInt(userID, 10)
	var buttons [][]OrderCardButton
	switch o.Status {
	case models.StatusPreparing:
		buttons = [][]OrderCardButton{{{Text: "✅ Mark ready", CallbackData: ActionReady + ":" + uid + ":" + o.ID}}}
	case models.StatusReady:
		buttons = [][]OrderCardButton{{{Text: "🎉 Mark completed", CallbackData: ActionComplete + ":" + uid + ":" + o.ID}}}
	}
	return OrderCardContent{Text: sb.String(), Buttons: buttons}
}

// BuildDashboard is the per-user status message: cart badge, unpaid badge and loyalty.
func BuildDashboard(cartCount, unpaidCount int, points int64) OrderCardContent {
	p := TierProgress(points)
	var sb strings.Builder
	sb.WriteString("🍸 KBar\n\n")
	fmt.Fprintf(&sb, "🛒 Cart: %d\n", cartCount)
	fmt.Fprintf(&sb, "🧾 Unpaid orders: %d\n", unpaidCount)
	fmt.Fprintf(&sb, "⭐ %d points · %s", points, p.Current)
	if !p.Complete {
		fmt.Fprintf(&sb, "\n%d points to %s", p.Needed, p.Next)
	}
	cartLabel := "🛒 Cart"
	if cartCount > 0 {
		cartLabel = fmt.Sprintf("🛒 Cart (%d)", cartCount)
	}
	ordersLabel := "🧾 Orders"
	if unpaidCount > 0 {
		ordersLabel = fmt.Sprintf("🧾 Orders (%d)", unpaidCount)
	}
	return OrderCardContent{
		Text: sb.String(),
		Buttons: [][]OrderCardButton{
			{{Text: "📋 Menu", CallbackData: "menu"}, {Text: "⚡ Quick order", CallbackData: "quick"}},
			{{Text: cartLabel, CallbackData: "cart"}, {Text: ordersLabel, CallbackData: "orders"}},
			{{Text: "⭐ Loyalty", CallbackData: "loyalty"}},
		},
	}
}

// ProgressBar draws a 10-cell bar for 0..100 percent.
func ProgressBar(percent int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent / 10
	return strings.Repeat("▰", filled) + strings.Repeat("▱", 10-filled)
}

// BuildLoyaltyCard shows the points, the tier and progress to the next tier.
func BuildLoyaltyCard(points int64) OrderCardContent {
	p := TierProgress(points)
	var sb strings.Builder
	fmt.Fprintf(&sb, "⭐ Loyalty\n\n%d points\nTier: %s\n", points, p.Current)
	if p.Complete {
		sb.WriteString("You reached the top tier. 👑")
	} else {
		fmt.Fprintf(&sb, "%s %d%%\n%d/%d · %d more for %s", ProgressBar(p.Percent()), p.Percent(), p.IntoBand, p.BandWidth, p.Needed, p.Next)
	}
	sb.WriteString("\n\nEarn 1 point per $1 spent.")
	return OrderCardContent{Text: sb.String()}
}
