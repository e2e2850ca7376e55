// Package menu holds the shop's catalog: items, toppings, sizes, and
// prices, with tolerant matching of spoken names against canonical ones.
package menu

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// Menu is the read-only catalog the conversation validates against.
type Menu struct {
	Summary  string                        `yaml:"summary"`
	Flavors  []string                      `yaml:"flavors"`
	Toppings []string                      `yaml:"toppings"`
	Sizes    []string                      `yaml:"sizes"`
	Prices   map[string]map[string]float64 `yaml:"prices"`
	Aliases  map[string][]string           `yaml:"aliases"`
}

// Load reads a menu from a YAML file.
func Load(path string) (*Menu, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("menu: read %s: %w", path, err)
	}
	var m Menu
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("menu: parse %s: %w", path, err)
	}
	if len(m.Flavors) == 0 {
		return nil, fmt.Errorf("menu: %s has no flavors", path)
	}
	return &m, nil
}

// Default is the built-in menu used when no menu file is configured.
func Default() *Menu {
	return &Menu{
		Summary:  "Pizzas in three sizes with a handful of toppings, plus boba teas.",
		Flavors:  []string{"Cheezy-7", "Las Vegas Treat", "Country Side", "Margherita", "Taro Milk Tea"},
		Toppings: []string{"paneer", "onion", "capsicum", "mushrooms", "sweet corn", "jalapeno", "tomato", "boba"},
		Sizes:    []string{"S", "M", "L"},
		Prices: map[string]map[string]float64{
			"cheezy-7":        {"S": 6.99, "M": 8.99, "L": 10.99},
			"las vegas treat": {"S": 7.49, "M": 9.49, "L": 11.49},
			"country side":    {"S": 6.49, "M": 8.49, "L": 10.49},
			"margherita":      {"S": 5.99, "M": 7.99, "L": 9.99},
			"taro milk tea":   {"S": 4.50, "M": 5.50, "L": 6.50},
		},
		Aliases: map[string][]string{
			"capsicum":      {"caps", "bell pepper", "bell peppers"},
			"mushrooms":     {"mushroom"},
			"sweet corn":    {"corn"},
			"jalapeno":      {"jalapenos"},
			"tomato":        {"tomatoes"},
			"paneer":        {"panir"},
			"taro milk tea": {"taro tea", "taro boba"},
		},
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// match resolves a spoken value against a canonical list: exact normalized
// match first, then configured aliases, then substring containment either
// way. Returns the canonical display form, or "" when nothing matches.
func (m *Menu) match(value string, canonical []string) string {
	v := normalize(value)
	if v == "" {
		return ""
	}

	byNorm := make(map[string]string, len(canonical))
	for _, c := range canonical {
		byNorm[normalize(c)] = c
	}
	if hit, ok := byNorm[v]; ok {
		return hit
	}

	for canon, aliases := range m.Aliases {
		cn := normalize(canon)
		display, known := byNorm[cn]
		if !known {
			continue
		}
		for _, a := range aliases {
			an := normalize(a)
			if an == "" {
				continue
			}
			if v == an || strings.Contains(an, v) || strings.Contains(v, an) {
				return display
			}
		}
	}

	for cn, display := range byNorm {
		if strings.Contains(cn, v) || strings.Contains(v, cn) {
			return display
		}
	}
	return ""
}

// MatchFlavor resolves a spoken item name to its canonical menu form.
func (m *Menu) MatchFlavor(value string) string {
	return m.match(value, m.Flavors)
}

// MatchTopping resolves a spoken topping to its canonical menu form.
func (m *Menu) MatchTopping(value string) string {
	return m.match(value, m.Toppings)
}

// MatchSize resolves a spoken size against the menu sizes, accepting common
// long forms.
func (m *Menu) MatchSize(value string) string {
	v := normalize(value)
	switch v {
	case "small":
		v = "s"
	case "medium", "regular":
		v = "m"
	case "large", "big":
		v = "l"
	}
	for _, s := range m.Sizes {
		if normalize(s) == v {
			return s
		}
	}
	return ""
}

// DefaultSize is the first configured size.
func (m *Menu) DefaultSize() string {
	if len(m.Sizes) == 0 {
		return ""
	}
	return m.Sizes[0]
}

// Price looks up the unit price for an item and size. The lookup is
// tolerant about size casing and falls back through "default" when the
// exact size key is absent. Returns 0 for unpriced items.
func (m *Menu) Price(item, size string) float64 {
	prices, ok := m.Prices[normalize(item)]
	if !ok {
		prices, ok = m.Prices[item]
	}
	if !ok {
		return 0
	}
	for _, key := range []string{size, strings.ToUpper(size), strings.ToLower(size), "default"} {
		if key == "" {
			continue
		}
		if p, ok := prices[key]; ok {
			return p
		}
	}
	return 0
}
