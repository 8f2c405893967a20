package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

func init() {
	// Persisted records keep prices as JSON numbers ({"price":7.99}).
	decimal.MarshalJSONWithoutQuotes = true
}

type MenuItem struct {
	ID          string
	Category    string // "Cocktails", "Beers", "Snacks", "Specials"
	Name        string
	Price       decimal.Decimal
	Description string
	Emoji       string
	Popular     bool
	Spicy       bool
	Special     bool
}

const (
	CategoryCocktails = "Cocktails"
	CategoryBeers     = "Beers"
	CategorySnacks    = "Snacks"
	CategorySpecials  = "Specials"
)

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Catalog is the static bar menu. Read-only.
var Catalog = []MenuItem{
	{ID: "1", Category: CategoryCocktails, Name: "Mojito", Price: price("7.99"), Description: "Refreshing cocktail with lime and mint", Emoji: "🍹", Popular: true},
	{ID: "2", Category: CategoryCocktails, Name: "Pina Colada", Price: price("7.99"), Description: "Creamy coconut and pineapple cocktail", Emoji: "🍹"},
	{ID: "3", Category: CategoryCocktails, Name: "Old Fashioned", Price: price("9.99"), Description: "Classic whiskey cocktail with bitters", Emoji: "🥃"},
	{ID: "4", Category: CategoryBeers, Name: "Lager Beer", Price: price("5.00"), Description: "Crisp and cold lager beer", Emoji: "🍺"},
	{ID: "5", Category: CategoryBeers, Name: "IPA", Price: price("6.50"), Description: "Hoppy craft IPA with citrus notes", Emoji: "🍺"},
	{ID: "6", Category: CategorySnacks, Name: "Chicken Wings", Price: price("9.50"), Description: "Spicy and crispy chicken wings", Emoji: "🍗", Spicy: true},
	{ID: "7", Category: CategorySnacks, Name: "Doritos", Price: price("4.50"), Description: "Spicy and crispy corn chips", Emoji: "🌮"},
	{ID: "8", Category: CategorySpecials, Name: "Bartender's Special", Price: price("10.99"), Description: "Ask your server about today special mix", Emoji: "⭐", Special: true},
}

// QuickCatalog holds the one-tap tiles of the quick-order screen.
var QuickCatalog = []MenuItem{
	{ID: "quick-1", Category: CategoryCocktails, Name: "Mojito", Price: price("7.99"), Emoji: "🍹", Popular: true},
	{ID: "quick-2", Category: CategoryBeers, Name: "Lager Beer", Price: price("5.00"), Emoji: "🍺", Popular: true},
	{ID: "quick-3", Category: CategorySpecials, Name: "Today's Special", Price: price("8.99"), Emoji: "⭐", Special: true},
	{ID: "quick-4", Category: CategorySnacks, Name: "Chicken Wings", Price: price("9.50"), Emoji: "🍗", Popular: true},
	{ID: "quick-5", Category: CategorySnacks, Name: "Margherita Pizza", Price: price("12.99"), Emoji: "🍕", Popular: true},
	{ID: "quick-6", Category: CategorySnacks, Name: "House Burger", Price: price("11.50"), Emoji: "🍔", Popular: true},
}

const defaultEmoji = "🍽️"

// FindMenuItem looks the id up in both the menu and the quick-order tiles.
func FindMenuItem(id string) (MenuItem, bool) {
	for _, it := range Catalog {
		if it.ID == id {
			return it, true
		}
	}
	for _, it := range QuickCatalog {
		if it.ID == id {
			return it, true
		}
	}
	return MenuItem{}, false
}

// Categories returns menu categories in catalog order.
func Categories() []string {
	var out []string
	seen := make(map[string]bool)
	for _, it := range Catalog {
		if !seen[it.Category] {
			seen[it.Category] = true
			out = append(out, it.Category)
		}
	}
	return out
}

func MenuByCategory(category string) []MenuItem {
	var out []MenuItem
	for _, it := range Catalog {
		if it.Category == category {
			out = append(out, it)
		}
	}
	return out
}

// SearchMenu matches the query against name and description, case-insensitive.
// An empty query returns the whole catalog.
func SearchMenu(query string) []MenuItem {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return append([]MenuItem(nil), Catalog...)
	}
	var out []MenuItem
	for _, it := range Catalog {
		if strings.Contains(strings.ToLower(it.Name), q) || strings.Contains(strings.ToLower(it.Description), q) {
			out = append(out, it)
		}
	}
	return out
}

// EmojiFor returns the display emoji of an item, falling back to a plate.
func (m MenuItem) EmojiFor() string {
	if m.Emoji == "" {
		return defaultEmoji
	}
	return m.Emoji
}
