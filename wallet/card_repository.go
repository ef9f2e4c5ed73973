package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alovak/cardwallet/internal/live"
	"github.com/alovak/cardwallet/internal/stream"
	"github.com/alovak/cardwallet/wallet/models"
)

// CardRepository is the card side of the Store. At most one card is default
// at any time: Upsert refuses a second default and SetDefault swaps it
// atomically.
type CardRepository struct {
	s *Store
}

const cardColumns = `id, bank_name, card_type, card_number, masked_number, card_holder, category_id, color_hex, is_default`

// ObserveAll emits the current cards and again after every card mutation
// until ctx is done.
func (r *CardRepository) ObserveAll(ctx context.Context) <-chan stream.Update[[]models.Card] {
	return live.Watch(ctx, r.s.hub, TopicCards, r.List)
}

// ObserveByCategory emits the cards of one category after every card
// mutation. Each emission carries the card version it was read at, so
// emissions for different categories with equal versions show the same
// state of the store.
func (r *CardRepository) ObserveByCategory(ctx context.Context, categoryID string) <-chan stream.Update[[]models.Card] {
	return live.WatchVersioned(ctx, r.s.hub, TopicCards, func(ctx context.Context) ([]models.Card, uint64, error) {
		return r.listByCategoryAt(ctx, categoryID)
	})
}

func (r *CardRepository) List(ctx context.Context) ([]models.Card, error) {
	if r.s.db == nil {
		return r.filter(func(models.Card) bool { return true }), nil
	}
	return r.query(ctx, "list cards", `SELECT `+cardColumns+` FROM cards ORDER BY created_at, id`)
}

func (r *CardRepository) ListByCategory(ctx context.Context, categoryID string) ([]models.Card, error) {
	if r.s.db == nil {
		return r.filter(func(c models.Card) bool { return c.CategoryID == categoryID }), nil
	}
	return r.query(ctx, "list cards by category",
		`SELECT `+cardColumns+` FROM cards WHERE category_id=$1 ORDER BY created_at, id`, categoryID)
}

// listByCategoryAt reads the cards of a category together with the card
// version, both from one snapshot of the store.
func (r *CardRepository) listByCategoryAt(ctx context.Context, categoryID string) ([]models.Card, uint64, error) {
	if r.s.db == nil {
		r.s.mu.RLock()
		defer r.s.mu.RUnlock()
		out := make([]models.Card, 0)
		for _, c := range r.s.cards {
			if c.CategoryID == categoryID {
				out = append(out, c)
			}
		}
		return out, r.s.cardsVersion, nil
	}

	const op = "list cards by category"
	tx, err := r.s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, 0, storageError(op, err)
	}
	defer tx.Rollback()

	var version uint64
	if err := tx.QueryRowContext(ctx, `SELECT version FROM card_version`).Scan(&version); err != nil {
		return nil, 0, storageError(op, err)
	}
	cards, err := queryCards(ctx, tx, op,
		`SELECT `+cardColumns+` FROM cards WHERE category_id=$1 ORDER BY created_at, id`, categoryID)
	if err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, storageError(op, err)
	}
	return cards, version, nil
}

// GetByID returns nil without error when the card does not exist.
func (r *CardRepository) GetByID(ctx context.Context, id string) (*models.Card, error) {
	if r.s.db == nil {
		return r.find(func(c models.Card) bool { return c.ID == id }), nil
	}
	return r.queryOne(ctx, "get card", `SELECT `+cardColumns+` FROM cards WHERE id=$1`, id)
}

func (r *CardRepository) GetDefault(ctx context.Context) (*models.Card, error) {
	if r.s.db == nil {
		return r.find(func(c models.Card) bool { return c.IsDefault }), nil
	}
	return r.queryOne(ctx, "get default card", `SELECT `+cardColumns+` FROM cards WHERE is_default LIMIT 1`)
}

// Upsert inserts the card or replaces every field of the stored one. Storing
// a default card while another card is default fails with ErrConflict; use
// SetDefault to move the default.
func (r *CardRepository) Upsert(ctx context.Context, card models.Card) error {
	if r.s.db == nil {
		return r.s.mutate(func() error {
			idx := -1
			for i, c := range r.s.cards {
				if c.ID == card.ID {
					idx = i
				} else if card.IsDefault && c.IsDefault {
					return storageError("upsert card", fmt.Errorf("card %s is already default: %w", c.ID, ErrConflict))
				}
			}
			if idx < 0 {
				r.s.cards = append(r.s.cards, card)
			} else {
				r.s.cards[idx] = card
			}
			return nil
		}, TopicCards)
	}

	return r.s.inTx(ctx, "upsert card", func(tx *sql.Tx) error {
		return upsertCard(ctx, tx, card)
	}, TopicCards)
}

// UpsertDefault stores the card as the default card, clearing the previous
// default in the same unit. Either both happen or neither does.
func (r *CardRepository) UpsertDefault(ctx context.Context, card models.Card) error {
	card.IsDefault = true
	if r.s.db == nil {
		return r.s.mutate(func() error {
			idx := -1
			for i := range r.s.cards {
				if r.s.cards[i].ID == card.ID {
					idx = i
				}
				r.s.cards[i].IsDefault = false
			}
			if idx < 0 {
				r.s.cards = append(r.s.cards, card)
			} else {
				r.s.cards[idx] = card
			}
			return nil
		}, TopicCards)
	}

	return r.s.inTx(ctx, "upsert default card", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE cards SET is_default=false WHERE is_default AND id<>$1`, card.ID); err != nil {
			return err
		}
		return upsertCard(ctx, tx, card)
	}, TopicCards)
}

func upsertCard(ctx context.Context, tx *sql.Tx, card models.Card) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cards(`+cardColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			bank_name=EXCLUDED.bank_name,
			card_type=EXCLUDED.card_type,
			card_number=EXCLUDED.card_number,
			masked_number=EXCLUDED.masked_number,
			card_holder=EXCLUDED.card_holder,
			category_id=EXCLUDED.category_id,
			color_hex=EXCLUDED.color_hex,
			is_default=EXCLUDED.is_default
	`, card.ID, card.BankName, string(card.CardType), card.CardNumber, card.MaskedNumber,
		card.CardHolder, card.CategoryID, card.ColorHex, card.IsDefault)
	return err
}

// Delete is a no-op for unknown ids.
func (r *CardRepository) Delete(ctx context.Context, id string) error {
	if r.s.db == nil {
		return r.s.mutate(func() error {
			r.s.cards = removeCards(r.s.cards, func(c models.Card) bool { return c.ID == id })
			return nil
		}, TopicCards)
	}
	return r.s.inTx(ctx, "delete card", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE id=$1`, id)
		return err
	}, TopicCards)
}

func (r *CardRepository) DeleteByCategory(ctx context.Context, categoryID string) error {
	if r.s.db == nil {
		return r.s.mutate(func() error {
			r.s.cards = removeCards(r.s.cards, func(c models.Card) bool { return c.CategoryID == categoryID })
			return nil
		}, TopicCards)
	}
	return r.s.inTx(ctx, "delete cards by category", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE category_id=$1`, categoryID)
		return err
	}, TopicCards)
}

func (r *CardRepository) DeleteAll(ctx context.Context) error {
	if r.s.db == nil {
		return r.s.mutate(func() error {
			r.s.cards = r.s.cards[:0]
			return nil
		}, TopicCards)
	}
	return r.s.inTx(ctx, "delete all cards", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM cards`)
		return err
	}, TopicCards)
}

func (r *CardRepository) CountByCategory(ctx context.Context, categoryID string) (int, error) {
	if r.s.db == nil {
		return len(r.filter(func(c models.Card) bool { return c.CategoryID == categoryID })), nil
	}
	var n int
	err := r.s.db.QueryRowContext(ctx, `SELECT count(*) FROM cards WHERE category_id=$1`, categoryID).Scan(&n)
	if err != nil {
		return 0, storageError("count cards", err)
	}
	return n, nil
}

// SetDefault makes id the only default card. Readers never see two defaults
// or none in between. Unknown ids leave the current default untouched.
func (r *CardRepository) SetDefault(ctx context.Context, id string) error {
	if r.s.db == nil {
		return r.s.mutate(func() error {
			found := false
			for _, c := range r.s.cards {
				if c.ID == id {
					found = true
					break
				}
			}
			if !found {
				return nil
			}
			for i := range r.s.cards {
				r.s.cards[i].IsDefault = r.s.cards[i].ID == id
			}
			return nil
		}, TopicCards)
	}

	return r.s.inTx(ctx, "set default card", func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM cards WHERE id=$1 FOR UPDATE`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE cards SET is_default=false WHERE is_default AND id<>$1`, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE cards SET is_default=true WHERE id=$1`, id)
		return err
	}, TopicCards)
}

func (r *CardRepository) filter(keep func(models.Card) bool) []models.Card {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]models.Card, 0)
	for _, c := range r.s.cards {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

func (r *CardRepository) find(match func(models.Card) bool) *models.Card {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, c := range r.s.cards {
		if match(c) {
			card := c
			return &card
		}
	}
	return nil
}

func (r *CardRepository) query(ctx context.Context, op, query string, args ...any) ([]models.Card, error) {
	return queryCards(ctx, r.s.db, op, query, args...)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryCards(ctx context.Context, q queryer, op, query string, args ...any) ([]models.Card, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError(op, err)
	}
	defer rows.Close()

	out := make([]models.Card, 0)
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, storageError(op, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(op, err)
	}
	return out, nil
}

func (r *CardRepository) queryOne(ctx context.Context, op, query string, args ...any) (*models.Card, error) {
	c, err := scanCard(r.s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError(op, err)
	}
	return &c, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCard(row scanner) (models.Card, error) {
	var c models.Card
	var cardType string
	err := row.Scan(&c.ID, &c.BankName, &cardType, &c.CardNumber, &c.MaskedNumber,
		&c.CardHolder, &c.CategoryID, &c.ColorHex, &c.IsDefault)
	c.CardType = models.CardType(cardType)
	return c, err
}
