package wallet

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/alovak/cardwallet/internal/live"
	"github.com/alovak/cardwallet/internal/stream"
	"github.com/alovak/cardwallet/wallet/models"
)

// CategoryRepository is the category side of the Store. Lists are always
// ordered by sort order, then id.
type CategoryRepository struct {
	s *Store
}

const categoryColumns = `id, name, display_name, icon_name, sort_order`

func (r *CategoryRepository) ObserveAll(ctx context.Context) <-chan stream.Update[[]models.Category] {
	return live.Watch(ctx, r.s.hub, TopicCategories, r.List)
}

func (r *CategoryRepository) List(ctx context.Context) ([]models.Category, error) {
	if r.s.db == nil {
		r.s.mu.RLock()
		out := make([]models.Category, len(r.s.categories))
		copy(out, r.s.categories)
		r.s.mu.RUnlock()

		sort.SliceStable(out, func(i, j int) bool {
			if out[i].SortOrder != out[j].SortOrder {
				return out[i].SortOrder < out[j].SortOrder
			}
			return out[i].ID < out[j].ID
		})
		return out, nil
	}

	rows, err := r.s.db.QueryContext(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY sort_order, id`)
	if err != nil {
		return nil, storageError("list categories", err)
	}
	defer rows.Close()

	out := make([]models.Category, 0)
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, storageError("list categories", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list categories", err)
	}
	return out, nil
}

// GetByID returns nil without error when the category does not exist.
func (r *CategoryRepository) GetByID(ctx context.Context, id string) (*models.Category, error) {
	if r.s.db == nil {
		return r.find(func(c models.Category) bool { return c.ID == id }), nil
	}
	return r.queryOne(ctx, "get category", `SELECT `+categoryColumns+` FROM categories WHERE id=$1`, id)
}

// GetByName returns the first category, in display order, with the name.
func (r *CategoryRepository) GetByName(ctx context.Context, name string) (*models.Category, error) {
	if r.s.db == nil {
		all, _ := r.List(ctx)
		for _, c := range all {
			if c.Name == name {
				return &c, nil
			}
		}
		return nil, nil
	}
	return r.queryOne(ctx, "get category by name",
		`SELECT `+categoryColumns+` FROM categories WHERE name=$1 ORDER BY sort_order, id LIMIT 1`, name)
}

func (r *CategoryRepository) Upsert(ctx context.Context, category models.Category) error {
	if r.s.db == nil {
		return r.s.mutate(func() error {
			for i, c := range r.s.categories {
				if c.ID == category.ID {
					r.s.categories[i] = category
					return nil
				}
			}
			r.s.categories = append(r.s.categories, category)
			return nil
		}, TopicCategories)
	}

	return r.s.inTx(ctx, "upsert category", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO categories(`+categoryColumns+`)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (id) DO UPDATE SET
				name=EXCLUDED.name,
				display_name=EXCLUDED.display_name,
				icon_name=EXCLUDED.icon_name,
				sort_order=EXCLUDED.sort_order
		`, category.ID, category.Name, category.DisplayName, nullString(category.IconName), category.SortOrder)
		return err
	}, TopicCategories)
}

// Delete removes only the category row; see Store.DeleteCategoryCascade for
// removing its cards too.
func (r *CategoryRepository) Delete(ctx context.Context, id string) error {
	if r.s.db == nil {
		return r.s.mutate(func() error {
			r.s.categories = removeCategory(r.s.categories, id)
			return nil
		}, TopicCategories)
	}
	return r.s.inTx(ctx, "delete category", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE id=$1`, id)
		return err
	}, TopicCategories)
}

func (r *CategoryRepository) DeleteAll(ctx context.Context) error {
	if r.s.db == nil {
		return r.s.mutate(func() error {
			r.s.categories = r.s.categories[:0]
			return nil
		}, TopicCategories)
	}
	return r.s.inTx(ctx, "delete all categories", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM categories`)
		return err
	}, TopicCategories)
}

func (r *CategoryRepository) Count(ctx context.Context) (int, error) {
	if r.s.db == nil {
		r.s.mu.RLock()
		defer r.s.mu.RUnlock()
		return len(r.s.categories), nil
	}
	var n int
	if err := r.s.db.QueryRowContext(ctx, `SELECT count(*) FROM categories`).Scan(&n); err != nil {
		return 0, storageError("count categories", err)
	}
	return n, nil
}

// NextSortOrder is 0 for an empty store, else the highest sort order plus
// one. It reads the current state on every call.
func (r *CategoryRepository) NextSortOrder(ctx context.Context) (int, error) {
	if r.s.db == nil {
		r.s.mu.RLock()
		defer r.s.mu.RUnlock()
		if len(r.s.categories) == 0 {
			return 0, nil
		}
		highest := r.s.categories[0].SortOrder
		for _, c := range r.s.categories[1:] {
			if c.SortOrder > highest {
				highest = c.SortOrder
			}
		}
		return highest + 1, nil
	}
	var n int
	if err := r.s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sort_order)+1, 0) FROM categories`).Scan(&n); err != nil {
		return 0, storageError("next sort order", err)
	}
	return n, nil
}

// SeedDefaultsIfEmpty inserts the default categories when there are none and
// reports whether it did. Concurrent seeders still end up with exactly the
// three defaults.
func (r *CategoryRepository) SeedDefaultsIfEmpty(ctx context.Context) (bool, error) {
	if r.s.db == nil {
		seeded := false
		err := r.s.mutate(func() error {
			if len(r.s.categories) == 0 {
				r.s.categories = append(r.s.categories, models.DefaultCategories()...)
				seeded = true
			}
			return nil
		}, TopicCategories)
		return seeded, err
	}

	n, err := r.Count(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}

	var inserted int64
	err = r.s.inTx(ctx, "seed categories", func(tx *sql.Tx) error {
		for _, c := range models.DefaultCategories() {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO categories(`+categoryColumns+`)
				VALUES ($1,$2,$3,$4,$5)
				ON CONFLICT (id) DO NOTHING
			`, c.ID, c.Name, c.DisplayName, nullString(c.IconName), c.SortOrder)
			if err != nil {
				return err
			}
			// a racing seeder may have inserted the row already
			if n, err := res.RowsAffected(); err == nil {
				inserted += n
			}
		}
		return nil
	}, TopicCategories)
	if err != nil {
		return false, err
	}
	return inserted > 0, nil
}

func (r *CategoryRepository) find(match func(models.Category) bool) *models.Category {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, c := range r.s.categories {
		if match(c) {
			category := c
			return &category
		}
	}
	return nil
}

func (r *CategoryRepository) queryOne(ctx context.Context, op, query string, args ...any) (*models.Category, error) {
	c, err := scanCategory(r.s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError(op, err)
	}
	return &c, nil
}

func scanCategory(row scanner) (models.Category, error) {
	var c models.Category
	var icon sql.NullString
	err := row.Scan(&c.ID, &c.Name, &c.DisplayName, &icon, &c.SortOrder)
	c.IconName = icon.String
	return c, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
