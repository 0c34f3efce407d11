package inventory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the sqlite-backed Store for one inventory table.
type Repository struct {
	db   *sql.DB
	kind Kind
}

// NewRepository creates a new Repository for the given inventory.
func NewRepository(d *sql.DB, kind Kind) (*Repository, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown inventory %q", kind)
	}
	return &Repository{db: d, kind: kind}, nil
}

// List returns all items ordered by name.
func (r *Repository) List(ctx context.Context) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, quantity FROM `+string(r.kind)+` ORDER BY name COLLATE NOCASE, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", r.kind, err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var it Item
		var qty sql.NullString
		if err := rows.Scan(&it.ID, &it.Name, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan %s item: %w", r.kind, err)
		}
		if qty.Valid {
			it.Quantity = &qty.String
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Upsert inserts the item or, when the name key exists, replaces its quantity.
// The stored name keeps the casing of the first write.
func (r *Repository) Upsert(ctx context.Context, name string, quantity *string) error {
	name, quantity, err := normalize(name, quantity)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO `+string(r.kind)+` (id, name, name_key, quantity, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name_key) DO UPDATE SET quantity = excluded.quantity`,
		uuid.NewString(), name, NameKey(name), quantity, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert %s item: %w", r.kind, err)
	}
	return nil
}

func (r *Repository) RemoveByName(ctx context.Context, name string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM `+string(r.kind)+` WHERE name_key = ?`, NameKey(name))
	if err != nil {
		return false, fmt.Errorf("failed to remove %s item: %w", r.kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Repository) Update(ctx context.Context, id, name string, quantity *string) (bool, error) {
	name, quantity, err := normalize(name, quantity)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE `+string(r.kind)+` SET name = ?, name_key = ?, quantity = ? WHERE id = ?`,
		name, NameKey(name), quantity, id)
	if err != nil {
		return false, fmt.Errorf("failed to update %s item: %w", r.kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
