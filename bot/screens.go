package bot

import (
	"fmt"
	"strconv"
	"strings"

	"kbar-telegram/models"
	"kbar-telegram/services"

	"github.com/shopspring/decimal"
)

type button = services.OrderCardButton
type screen = services.OrderCardContent

// parseCallback splits "action:arg1:arg2".
func parseCallback(data string) (string, []string) {
	parts := strings.Split(data, ":")
	return parts[0], parts[1:]
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func categoriesScreen(cart services.Cart) screen {
	var sb strings.Builder
	sb.WriteString("📋 Menu\n\nPick a category.")
	if !cart.IsEmpty() {
		fmt.Fprintf(&sb, "\n\n🛒 %d in cart · %s", cart.ItemCount(), money(cart.Total()))
	}
	var rows [][]button
	var row []button
	for _, cat := range models.Categories() {
		row = append(row, button{Text: cat, CallbackData: "cat:" + cat})
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, []button{{Text: "⬅️ Back", CallbackData: "home"}})
	return screen{Text: sb.String(), Buttons: rows}
}

func itemLabel(it models.MenuItem) string {
	label := fmt.Sprintf("%s %s · %s", it.EmojiFor(), it.Name, money(it.Price))
	if it.Popular {
		label += " 🔥"
	}
	return label
}

func categoryScreen(category string, items []models.MenuItem) screen {
	rows := make([][]button, 0, len(items)+1)
	for _, it := range items {
		rows = append(rows, []button{{Text: itemLabel(it), CallbackData: "item:" + it.ID + ":1"}})
	}
	rows = append(rows, []button{{Text: "⬅️ Categories", CallbackData: "menu"}})
	return screen{Text: "📋 " + category, Buttons: rows}
}

func searchScreen(query string, items []models.MenuItem) screen {
	if len(items) == 0 {
		return screen{
			Text:    fmt.Sprintf("🔍 Nothing matches %q.", query),
			Buttons: [][]button{{{Text: "📋 Menu", CallbackData: "menu"}}},
		}
	}
	s := categoryScreen("", items)
	s.Text = fmt.Sprintf("🔍 %d result(s) for %q", len(items), query)
	return s
}

// itemScreen is the item detail with a quantity stepper.
func itemScreen(it models.MenuItem, qty int) screen {
	if qty < 1 {
		qty = 1
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n\n", it.EmojiFor(), it.Name)
	if it.Description != "" {
		sb.WriteString(it.Description + "\n\n")
	}
	var tags []string
	if it.Popular {
		tags = append(tags, "🔥 Popular")
	}
	if it.Spicy {
		tags = append(tags, "🌶 Spicy")
	}
	if it.Special {
		tags = append(tags, "⭐ Special")
	}
	if len(tags) > 0 {
		sb.WriteString(strings.Join(tags, " · ") + "\n\n")
	}
	subtotal := it.Price.Mul(decimal.NewFromInt(int64(qty)))
	fmt.Fprintf(&sb, "%s × %d = %s", money(it.Price), qty, money(subtotal))

	q := strconv.Itoa(qty)
	minus := qty - 1
	if minus < 1 {
		minus = 1
	}
	return screen{
		Text: sb.String(),
		Buttons: [][]button{
			{
				{Text: "➖", CallbackData: "item:" + it.ID + ":" + strconv.Itoa(minus)},
				{Text: q, CallbackData: "noop"},
				{Text: "➕", CallbackData: "item:" + it.ID + ":" + strconv.Itoa(qty+1)},
			},
			{{Text: "🛒 Add to cart", CallbackData: "add:" + it.ID + ":" + q}},
			{{Text: "⚡ Order now · " + money(subtotal), CallbackData: "buy:" + it.ID + ":" + q}},
			{{Text: "⬅️ Back", CallbackData: "cat:" + it.Category}},
		},
	}
}

func cartScreen(cart services.Cart) screen {
	if cart.IsEmpty() {
		return screen{
			Text:    "🛒 Your cart is empty.",
			Buttons: [][]button{{{Text: "📋 Browse menu", CallbackData: "menu"}}},
		}
	}
	var sb strings.Builder
	sb.WriteString("🛒 Cart\n\n")
	var rows [][]button
	for _, it := range cart.Items {
		fmt.Fprintf(&sb, "%s %s × %d · %s\n", it.Emoji, it.Name, it.Quantity, money(it.LineTotal()))
		rows = append(rows, []button{
			{Text: "➖ " + it.Name, CallbackData: "cqty:" + it.ID + ":" + strconv.Itoa(it.Quantity-1)},
			{Text: "➕", CallbackData: "cqty:" + it.ID + ":" + strconv.Itoa(it.Quantity+1)},
			{Text: "🗑", CallbackData: "crm:" + it.ID},
		})
	}
	fmt.Fprintf(&sb, "\n%d item(s) · Total %s", cart.ItemCount(), money(cart.Total()))
	rows = append(rows,
		[]button{{Text: "🧹 Clear", CallbackData: "cclear"}, {Text: "✅ Checkout " + money(cart.Total()), CallbackData: "checkout"}},
		[]button{{Text: "📋 Menu", CallbackData: "menu"}},
	)
	return screen{Text: sb.String(), Buttons: rows}
}

func quickScreen(draft []models.CartItem) screen {
	cart := services.Cart{Items: draft}
	in := make(map[string]bool, len(draft))
	for _, it := range draft {
		in[it.ID] = true
	}
	var sb strings.Builder
	sb.WriteString("⚡ Quick order\n\nTap to add, one of each.\n")
	var rows [][]button
	var row []button
	for _, it := range models.QuickCatalog {
		label := it.EmojiFor() + " " + it.Name
		if in[it.ID] {
			label = "✔ " + label
		}
		row = append(row, button{Text: label, CallbackData: "qadd:" + it.ID})
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	if !cart.IsEmpty() {
		sb.WriteString("\n")
		for _, it := range draft {
			fmt.Fprintf(&sb, "%s %s × %d · %s\n", it.Emoji, it.Name, it.Quantity, money(it.LineTotal()))
			rows = append(rows, []button{
				{Text: "➖ " + it.Name, CallbackData: "qqty:" + it.ID + ":" + strconv.Itoa(it.Quantity-1)},
				{Text: "➕", CallbackData: "qqty:" + it.ID + ":" + strconv.Itoa(it.Quantity+1)},
				{Text: "🗑", CallbackData: "qrm:" + it.ID},
			})
		}
		fmt.Fprintf(&sb, "\n%d item(s) · Total %s", cart.ItemCount(), money(cart.Total()))
		rows = append(rows, []button{
			{Text: "🧹 Clear", CallbackData: "qclear"},
			{Text: "✅ Place order " + money(cart.Total()), CallbackData: "qsubmit"},
		})
	}
	rows = append(rows, []button{{Text: "⬅️ Back", CallbackData: "home"}})
	return screen{Text: sb.String(), Buttons: rows}
}

func ordersScreen(orders []models.Order) screen {
	if len(orders) == 0 {
		return screen{
			Text:    "🧾 No orders yet.",
			Buttons: [][]button{{{Text: "📋 Menu", CallbackData: "menu"}}},
		}
	}
	var sb strings.Builder
	sb.WriteString("🧾 Your orders\n")
	var rows [][]button
	history := false
	for _, o := range orders {
		fmt.Fprintf(&sb, "\n#%s · %s · %s", o.OrderNumber, money(o.Total), services.StatusLabel(o.Status))
		rows = append(rows, []button{{Text: "#" + o.OrderNumber + " · " + money(o.Total), CallbackData: services.ActionView + ":" + o.ID}})
		if o.Status.IsTerminal() {
			history = true
		}
	}
	if history {
		rows = append(rows, []button{{Text: "🧹 Clear history", CallbackData: "hclear"}})
	}
	rows = append(rows, []button{{Text: "⬅️ Back", CallbackData: "home"}})
	return screen{Text: sb.String(), Buttons: rows}
}
