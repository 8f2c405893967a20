package models

import "testing"

func TestFindMenuItem(t *testing.T) {
	tests := []struct {
		id   string
		name string
		ok   bool
	}{
		{"1", "Mojito", true},
		{"8", "Bartender's Special", true},
		{"quick-5", "Margherita Pizza", true},
		{"99", "", false},
	}
	for _, tt := range tests {
		it, ok := FindMenuItem(tt.id)
		if ok != tt.ok || it.Name != tt.name {
			t.Errorf("FindMenuItem(%q) = %q, %v, want %q, %v", tt.id, it.Name, ok, tt.name, tt.ok)
		}
	}
}

func TestSearchMenu(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", len(Catalog)},
		{"MOJITO", 1},
		{"spicy", 2},
		{"cocktail", 3},
		{"tequila", 0},
	}
	for _, tt := range tests {
		if got := len(SearchMenu(tt.query)); got != tt.want {
			t.Errorf("len(SearchMenu(%q)) = %d, want %d", tt.query, got, tt.want)
		}
	}
}

func TestCategories(t *testing.T) {
	want := []string{CategoryCocktails, CategoryBeers, CategorySnacks, CategorySpecials}
	got := Categories()
	if len(got) != len(want) {
		t.Fatalf("Categories() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Categories()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
