package wallet

import (
	"context"
	"database/sql"
	"sync"

	"github.com/alovak/cardwallet/internal/live"
	"github.com/alovak/cardwallet/wallet/models"
)

// Hub topics published after every committed mutation.
const (
	TopicCards      = "cards"
	TopicCategories = "categories"
)

const DefaultNotifyChannel = "wallet_changes"

// Store is the wallet's only shared mutable state. With a nil db it keeps
// everything in memory behind a RWMutex; otherwise it runs every mutation in
// a Postgres transaction that also emits pg_notify on the notify channel.
//
// Either way, every committed mutation is published on the hub, which is what
// drives the Observe* streams. Every mutation that touches cards also moves
// the card version forward, see CardRepository.ObserveByCategory.
type Store struct {
	cards        []models.Card
	categories   []models.Category
	cardsVersion uint64

	mu      sync.RWMutex
	db      *sql.DB
	hub     *live.Hub
	channel string
}

func NewStore(hub *live.Hub) *Store {
	if hub == nil {
		hub = live.NewHub()
	}
	return &Store{
		cards:      make([]models.Card, 0),
		categories: make([]models.Category, 0),
		hub:        hub,
	}
}

// NewPGStore constructs a db-backed store. The schema must exist, see Migrate.
func NewPGStore(db *sql.DB, hub *live.Hub, channel string) *Store {
	if hub == nil {
		hub = live.NewHub()
	}
	if channel == "" {
		channel = DefaultNotifyChannel
	}
	return &Store{db: db, hub: hub, channel: channel}
}

func (s *Store) Hub() *live.Hub {
	return s.hub
}

func (s *Store) Cards() *CardRepository {
	return &CardRepository{s: s}
}

func (s *Store) Categories() *CategoryRepository {
	return &CategoryRepository{s: s}
}

// Ping returns DB readiness.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}

// DeleteCategoryCascade deletes every card of the category and then the
// category itself as one unit: if the card delete fails, the category stays.
func (s *Store) DeleteCategoryCascade(ctx context.Context, categoryID string) error {
	if s.db == nil {
		return s.mutate(func() error {
			s.cards = removeCards(s.cards, func(c models.Card) bool { return c.CategoryID == categoryID })
			s.categories = removeCategory(s.categories, categoryID)
			return nil
		}, TopicCards, TopicCategories)
	}

	return s.inTx(ctx, "delete category cascade", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE category_id=$1`, categoryID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE id=$1`, categoryID)
		return err
	}, TopicCards, TopicCategories)
}

// mutate runs fn under the write lock and publishes topics once the lock is
// released.
func (s *Store) mutate(fn func() error, topics ...string) error {
	s.mu.Lock()
	err := fn()
	if err == nil && hasTopic(topics, TopicCards) {
		s.cardsVersion++
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.hub.Publish(topics...)
	return nil
}

// inTx runs fn in a transaction, queues a notification per topic and commits.
// Local subscribers are signalled after the commit.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error, topics ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return storageError(op, err)
	}
	if hasTopic(topics, TopicCards) {
		if _, err := tx.ExecContext(ctx, `UPDATE card_version SET version=version+1`); err != nil {
			return storageError(op, err)
		}
	}
	for _, topic := range topics {
		if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, s.channel, topic); err != nil {
			return storageError(op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageError(op, err)
	}

	s.hub.Publish(topics...)
	return nil
}

func hasTopic(topics []string, topic string) bool {
	for _, t := range topics {
		if t == topic {
			return true
		}
	}
	return false
}

func removeCards(cards []models.Card, drop func(models.Card) bool) []models.Card {
	kept := cards[:0]
	for _, c := range cards {
		if !drop(c) {
			kept = append(kept, c)
		}
	}
	return kept
}

func removeCategory(categories []models.Category, id string) []models.Category {
	kept := categories[:0]
	for _, c := range categories {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	return kept
}
