package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alovak/cardwallet/internal/cardfmt"
	"github.com/alovak/cardwallet/internal/metrics"
	"github.com/alovak/cardwallet/internal/stream"
	"github.com/alovak/cardwallet/internal/writer"
	"github.com/alovak/cardwallet/wallet/models"
	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

const (
	defaultColorHex = "#1E88E5"
	writerBuffer    = 64
)

// Service is the wallet's public surface. Mutations run one at a time on a
// single writer; reads and live views go straight to the store.
//
// Every operation reports failure through its error, which names the
// operation and wraps the cause.
type Service struct {
	store      *Store
	cards      *CardRepository
	categories *CategoryRepository
	aggregator *Aggregator
	writer     *writer.Writer
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func NewService(logger *slog.Logger, store *Store, m *metrics.Metrics) *Service {
	cards := store.Cards()
	return &Service{
		store:      store,
		cards:      cards,
		categories: store.Categories(),
		aggregator: NewAggregator(cards),
		writer:     writer.New(writerBuffer),
		logger:     logger.With(slog.String("component", "service")),
		metrics:    m,
	}
}

// Close stops the writer. Mutations fail afterwards; reads keep working.
func (s *Service) Close() {
	s.writer.Close()
}

// AddCard stores the card as is, replacing a card with the same id.
func (s *Service) AddCard(ctx context.Context, card models.Card) error {
	err := s.write(ctx, "add_card", func(ctx context.Context) error {
		if strings.TrimSpace(card.ID) == "" {
			return fmt.Errorf("card id is required: %w", ErrInvalid)
		}
		return s.cards.Upsert(ctx, card)
	})
	if err != nil {
		return fmt.Errorf("adding card: %w", err)
	}
	return nil
}

// CreateCard validates a typed-in card, masks its number and stores it under
// a new id. If the request asks for a default card the default moves to it.
func (s *Service) CreateCard(ctx context.Context, req models.CreateCard) (*models.Card, error) {
	card, err := newCard(req)
	if err != nil {
		s.metrics.RecordOperation("create_card", err)
		return nil, fmt.Errorf("creating card: %w", err)
	}

	err = s.write(ctx, "create_card", func(ctx context.Context) error {
		category, err := s.categories.GetByID(ctx, card.CategoryID)
		if err != nil {
			return err
		}
		if category == nil {
			return fmt.Errorf("unknown category %s: %w", card.CategoryID, ErrInvalid)
		}

		if req.IsDefault {
			card.IsDefault = true
			return s.cards.UpsertDefault(ctx, card)
		}
		return s.cards.Upsert(ctx, card)
	})
	if err != nil {
		return nil, fmt.Errorf("creating card: %w", err)
	}

	return &card, nil
}

func newCard(req models.CreateCard) (models.Card, error) {
	if strings.TrimSpace(req.BankName) == "" {
		return models.Card{}, fmt.Errorf("bank name is required: %w", ErrInvalid)
	}
	cardType, err := models.ParseCardType(req.CardType)
	if err != nil {
		return models.Card{}, fmt.Errorf("%v: %w", err, ErrInvalid)
	}
	if err := cardfmt.ValidateNumber(req.Number); err != nil {
		return models.Card{}, fmt.Errorf("%v: %w", err, ErrInvalid)
	}
	color := req.ColorHex
	if color == "" {
		color = defaultColorHex
	}
	if !cardfmt.ValidColorHex(color) {
		return models.Card{}, fmt.Errorf("color must be #RRGGBB (got %q): %w", color, ErrInvalid)
	}
	if strings.TrimSpace(req.CategoryID) == "" {
		return models.Card{}, fmt.Errorf("category id is required: %w", ErrInvalid)
	}

	return models.Card{
		ID:           uuid.New().String(),
		BankName:     strings.TrimSpace(req.BankName),
		CardType:     cardType,
		CardNumber:   cardfmt.MaskGrouped(req.Number),
		MaskedNumber: cardfmt.MaskShort(req.Number),
		CardHolder:   strings.TrimSpace(req.CardHolder),
		CategoryID:   req.CategoryID,
		ColorHex:     color,
	}, nil
}

// ReplaceCard overwrites every field of an existing card.
func (s *Service) ReplaceCard(ctx context.Context, card models.Card) error {
	err := s.write(ctx, "replace_card", func(ctx context.Context) error {
		if _, err := models.ParseCardType(string(card.CardType)); err != nil {
			return fmt.Errorf("%v: %w", err, ErrInvalid)
		}
		if !cardfmt.ValidColorHex(card.ColorHex) {
			return fmt.Errorf("color must be #RRGGBB (got %q): %w", card.ColorHex, ErrInvalid)
		}
		existing, err := s.cards.GetByID(ctx, card.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("card %s: %w", card.ID, ErrNotFound)
		}
		return s.cards.Upsert(ctx, card)
	})
	if err != nil {
		return fmt.Errorf("replacing card: %w", err)
	}
	return nil
}

// AddCategory creates a category at the end of the display order. Calls are
// serialized, so concurrent callers always get distinct sort orders.
func (s *Service) AddCategory(ctx context.Context, displayName, iconName string) (*models.Category, error) {
	displayName = strings.TrimSpace(displayName)
	var category models.Category

	err := s.write(ctx, "add_category", func(ctx context.Context) error {
		if displayName == "" {
			return fmt.Errorf("display name is required: %w", ErrInvalid)
		}
		next, err := s.categories.NextSortOrder(ctx)
		if err != nil {
			return err
		}
		category = models.Category{
			ID:          uuid.New().String(),
			Name:        models.CategoryName(displayName),
			DisplayName: displayName,
			IconName:    strings.TrimSpace(iconName),
			SortOrder:   next,
		}
		return s.categories.Upsert(ctx, category)
	})
	if err != nil {
		return nil, fmt.Errorf("adding category: %w", err)
	}
	return &category, nil
}

// DeleteCategory deletes the category together with all of its cards. When
// the cards cannot be deleted the category is kept.
func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	err := s.write(ctx, "delete_category", func(ctx context.Context) error {
		return s.store.DeleteCategoryCascade(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("deleting category: %w", err)
	}
	return nil
}

// SetDefaultCard moves the default to the card. Unknown ids are ignored.
func (s *Service) SetDefaultCard(ctx context.Context, id string) error {
	err := s.write(ctx, "set_default_card", func(ctx context.Context) error {
		return s.cards.SetDefault(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("setting default card: %w", err)
	}
	return nil
}

func (s *Service) DeleteCard(ctx context.Context, id string) error {
	err := s.write(ctx, "delete_card", func(ctx context.Context) error {
		return s.cards.Delete(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("deleting card: %w", err)
	}
	return nil
}

// SeedDefaults inserts the default categories if there are no categories.
func (s *Service) SeedDefaults(ctx context.Context) error {
	err := s.write(ctx, "seed_defaults", func(ctx context.Context) error {
		seeded, err := s.categories.SeedDefaultsIfEmpty(ctx)
		if seeded {
			s.logger.Info("seeded default categories")
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("seeding categories: %w", err)
	}
	return nil
}

// SeedAndObserve seeds the default categories once and returns the live
// category id -> cards view. The view follows category changes too.
func (s *Service) SeedAndObserve(ctx context.Context) (<-chan stream.Update[map[string][]models.Card], error) {
	if err := s.SeedDefaults(ctx); err != nil {
		return nil, err
	}
	return s.aggregator.ObserveLive(ctx, s.categories.ObserveAll(ctx)), nil
}

// ObserveWallet returns the live wallet as groups in category display order.
func (s *Service) ObserveWallet(ctx context.Context) <-chan stream.Update[[]models.Group] {
	return s.aggregator.ObserveWallet(ctx, s.categories.ObserveAll(ctx))
}

// ObserveGroupedByCategory is the live view over a fixed category list.
func (s *Service) ObserveGroupedByCategory(ctx context.Context, categories []models.Category) <-chan stream.Update[map[string][]models.Card] {
	return s.aggregator.ObserveGroupedByCategory(ctx, categories)
}

// Snapshot returns the current wallet.
func (s *Service) Snapshot(ctx context.Context) ([]models.Group, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	groups, err := stream.First(ctx, s.ObserveWallet(ctx))
	if err != nil {
		return nil, fmt.Errorf("loading wallet: %w", err)
	}
	return groups, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]models.Category, error) {
	categories, err := s.categories.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return categories, nil
}

func (s *Service) GetCategory(ctx context.Context, id string) (*models.Category, error) {
	category, err := s.categories.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding category: %w", err)
	}
	if category == nil {
		return nil, fmt.Errorf("finding category %s: %w", id, ErrNotFound)
	}
	return category, nil
}

func (s *Service) ListCards(ctx context.Context) ([]models.Card, error) {
	cards, err := s.cards.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing cards: %w", err)
	}
	return cards, nil
}

func (s *Service) ListCardsByCategory(ctx context.Context, categoryID string) ([]models.Card, error) {
	cards, err := s.cards.ListByCategory(ctx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("listing cards: %w", err)
	}
	return cards, nil
}

func (s *Service) GetCard(ctx context.Context, id string) (*models.Card, error) {
	card, err := s.cards.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding card: %w", err)
	}
	if card == nil {
		return nil, fmt.Errorf("finding card %s: %w", id, ErrNotFound)
	}
	return card, nil
}

func (s *Service) DefaultCard(ctx context.Context) (*models.Card, error) {
	card, err := s.cards.GetDefault(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding default card: %w", err)
	}
	if card == nil {
		return nil, fmt.Errorf("default card: %w", ErrNotFound)
	}
	return card, nil
}

// write runs fn on the writer and records the outcome.
func (s *Service) write(ctx context.Context, op string, fn func(context.Context) error) error {
	err := s.writer.Do(ctx, fn)
	s.metrics.RecordOperation(op, err)
	if err != nil && !errors.Is(err, ErrInvalid) && !errors.Is(err, ErrNotFound) {
		s.logger.Error("operation failed", slog.String("op", op), slog.Any("err", err))
	}
	return err
}
