package menu

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMatchFlavorExactAndFuzzy(t *testing.T) {
	m := Default()
	tests := []struct {
		in   string
		want string
	}{
		{"Cheezy-7", "Cheezy-7"},
		{"cheezy-7", "Cheezy-7"},
		{"  margherita  ", "Margherita"},
		{"taro tea", "Taro Milk Tea"},
		{"vegas", "Las Vegas Treat"},
		{"sushi", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := m.MatchFlavor(tt.in); got != tt.want {
			t.Errorf("MatchFlavor(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMatchToppingAliases(t *testing.T) {
	m := Default()
	tests := []struct {
		in   string
		want string
	}{
		{"bell pepper", "capsicum"},
		{"corn", "sweet corn"},
		{"mushroom", "mushrooms"},
		{"panir", "paneer"},
		{"anchovies", ""},
	}
	for _, tt := range tests {
		if got := m.MatchTopping(tt.in); got != tt.want {
			t.Errorf("MatchTopping(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMatchSize(t *testing.T) {
	m := Default()
	tests := []struct {
		in   string
		want string
	}{
		{"M", "M"},
		{"medium", "M"},
		{"Large", "L"},
		{"small", "S"},
		{"extra large", ""},
	}
	for _, tt := range tests {
		if got := m.MatchSize(tt.in); got != tt.want {
			t.Errorf("MatchSize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPriceLookup(t *testing.T) {
	m := Default()
	if got := m.Price("Taro Milk Tea", "M"); got != 5.50 {
		t.Fatalf("Price(taro, M) = %v, want 5.50", got)
	}
	if got := m.Price("cheezy-7", "l"); got != 10.99 {
		t.Fatalf("Price(cheezy-7, l) = %v, want 10.99", got)
	}
	if got := m.Price("unknown", "M"); got != 0 {
		t.Fatalf("Price(unknown) = %v, want 0", got)
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "menu.yaml")
	doc := `summary: Test menu
flavors:
  - Pepperoni
toppings:
  - onion
sizes:
  - S
  - L
prices:
  pepperoni:
    S: 5.0
    L: 9.0
aliases:
  onion:
    - onions
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.MatchFlavor("pepperoni") != "Pepperoni" {
		t.Fatal("loaded menu did not match its own flavor")
	}
	if m.MatchTopping("onions") != "onion" {
		t.Fatal("loaded menu alias did not resolve")
	}
	if m.Price("Pepperoni", "L") != 9.0 {
		t.Fatalf("Price = %v, want 9.0", m.Price("Pepperoni", "L"))
	}
	if m.DefaultSize() != "S" {
		t.Fatalf("DefaultSize = %q, want S", m.DefaultSize())
	}
}

func TestLoadRejectsEmptyMenu(t *testing.T) {
	path := filepath.Join(t.TempDir(), "menu.yaml")
	if err := os.WriteFile(path, []byte("summary: nothing\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted a menu with no flavors")
	}
}
