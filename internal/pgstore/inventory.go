package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"recipe-assistant/internal/inventory"

	"github.com/google/uuid"
)

// InventoryStore implements inventory.Store on postgres.
type InventoryStore struct {
	DB   *sql.DB
	kind inventory.Kind
}

func NewInventoryStore(db *sql.DB, kind inventory.Kind) (*InventoryStore, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown inventory %q", kind)
	}
	return &InventoryStore{DB: db, kind: kind}, nil
}

func (s *InventoryStore) List(ctx context.Context) ([]inventory.Item, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, name, quantity FROM `+string(s.kind)+` ORDER BY lower(name), id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.kind, err)
	}
	defer rows.Close()

	items := []inventory.Item{}
	for rows.Next() {
		var it inventory.Item
		var qty sql.NullString
		if err := rows.Scan(&it.ID, &it.Name, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan %s item: %w", s.kind, err)
		}
		it.Quantity = strPtr(qty)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *InventoryStore) Upsert(ctx context.Context, name string, quantity *string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("item name must not be empty")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO `+string(s.kind)+` (id, name, name_key, quantity, created_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (name_key) DO UPDATE SET quantity = EXCLUDED.quantity;
`, uuid.NewString(), name, inventory.NameKey(name), trimmedQuantity(quantity))
	if err != nil {
		return fmt.Errorf("failed to upsert %s item: %w", s.kind, err)
	}
	return nil
}

func (s *InventoryStore) RemoveByName(ctx context.Context, name string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM `+string(s.kind)+` WHERE name_key = $1`, inventory.NameKey(name))
	if err != nil {
		return false, fmt.Errorf("failed to remove %s item: %w", s.kind, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *InventoryStore) Update(ctx context.Context, id, name string, quantity *string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, fmt.Errorf("item name must not be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE `+string(s.kind)+` SET name = $1, name_key = $2, quantity = $3 WHERE id = $4`,
		name, inventory.NameKey(name), trimmedQuantity(quantity), id)
	if err != nil {
		return false, fmt.Errorf("failed to update %s item: %w", s.kind, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func trimmedQuantity(q *string) any {
	if q == nil {
		return nil
	}
	v := strings.TrimSpace(*q)
	if v == "" {
		return nil
	}
	return v
}
