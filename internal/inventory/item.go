package inventory

import (
	"context"
	"fmt"
	"strings"
)

// Kind selects one of the two inventories. Its value is also the table name.
type Kind string

const (
	ShoppingList Kind = "shopping_list"
	Pantry       Kind = "pantry"
)

// Valid reports whether k names a known inventory.
func (k Kind) Valid() bool {
	return k == ShoppingList || k == Pantry
}

// Title is the human readable inventory name.
func (k Kind) Title() string {
	if k == Pantry {
		return "Pantry"
	}
	return "Shopping list"
}

// Item is a single inventory row.
type Item struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Quantity *string `json:"quantity"`
}

// Store is the storage collaborator for one inventory.
type Store interface {
	List(ctx context.Context) ([]Item, error)
	// Upsert creates the item or replaces the quantity of the item with the same name key.
	Upsert(ctx context.Context, name string, quantity *string) error
	// RemoveByName deletes by name key and reports whether a row was removed.
	RemoveByName(ctx context.Context, name string) (bool, error)
	// Update edits an item by id. It returns false when the id is unknown.
	Update(ctx context.Context, id, name string, quantity *string) (bool, error)
}

// NameKey is the case-insensitive identity of an item name.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func normalize(name string, quantity *string) (string, *string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, fmt.Errorf("item name must not be empty")
	}
	if quantity != nil {
		q := strings.TrimSpace(*quantity)
		if q == "" {
			quantity = nil
		} else {
			quantity = &q
		}
	}
	return name, quantity, nil
}

// FormatList renders items one per line for prompts and chat replies.
func FormatList(items []Item) string {
	if len(items) == 0 {
		return "(empty)"
	}
	var sb strings.Builder
	for i, it := range items {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("- ")
		sb.WriteString(it.Name)
		if it.Quantity != nil {
			fmt.Fprintf(&sb, " (%s)", *it.Quantity)
		}
	}
	return sb.String()
}
