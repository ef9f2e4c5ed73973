package wallet

import (
	"context"
	"fmt"

	"github.com/alovak/cardwallet/internal/stream"
	"github.com/alovak/cardwallet/wallet/models"
)

// CardObserver is the live per-category card query the aggregator joins.
type CardObserver interface {
	ObserveByCategory(ctx context.Context, categoryID string) <-chan stream.Update[[]models.Card]
}

// Aggregator joins categories to their cards as one live view.
type Aggregator struct {
	cards CardObserver
}

func NewAggregator(cards CardObserver) *Aggregator {
	return &Aggregator{cards: cards}
}

// ObserveGroupedByCategory emits a category id -> cards map each time the
// cards of any of the categories change. Every category is a key in every
// emitted map, with an empty slice when it has no cards. With no categories
// it emits one empty map and closes.
func (a *Aggregator) ObserveGroupedByCategory(ctx context.Context, categories []models.Category) <-chan stream.Update[map[string][]models.Card] {
	if len(categories) == 0 {
		return stream.Just(map[string][]models.Card{})
	}

	c := stream.Combine[string, []models.Card](ctx, a.cards.ObserveByCategory, stream.SameVersion())
	// only fails once ctx is done, and then the output closes anyway
	_ = c.SetKeys(ctx, categoryIDs(categories))
	return c.Updates()
}

// ObserveLive is ObserveGroupedByCategory over a changing category list.
// Card subscriptions are kept per category id: a new list only opens
// subscriptions for added categories and cancels those of removed ones.
func (a *Aggregator) ObserveLive(ctx context.Context, categories <-chan stream.Update[[]models.Category]) <-chan stream.Update[map[string][]models.Card] {
	c := stream.Combine[string, []models.Card](ctx, a.cards.ObserveByCategory, stream.SameVersion())
	go feedKeys(ctx, c, categories, nil)
	return c.Updates()
}

// ObserveWallet emits the wallet as groups in category display order. A view
// is only emitted once the cards of every listed category are known.
func (a *Aggregator) ObserveWallet(ctx context.Context, categories <-chan stream.Update[[]models.Category]) <-chan stream.Update[[]models.Group] {
	c := stream.Combine[string, []models.Card](ctx, a.cards.ObserveByCategory, stream.SameVersion())
	lists := make(chan []models.Category)
	go feedKeys(ctx, c, categories, lists)

	out := make(chan stream.Update[[]models.Group])
	go func() {
		defer close(out)

		var (
			cats    []models.Category
			grouped map[string][]models.Card
			errs    []error
			view    []models.Group
			dirty   bool
		)
		for {
			var (
				send chan<- stream.Update[[]models.Group]
				next stream.Update[[]models.Group]
			)
			switch {
			case len(errs) > 0:
				send, next = out, stream.Update[[]models.Group]{Err: errs[0]}
			case dirty:
				send, next = out, stream.Update[[]models.Group]{Value: view}
			}

			select {
			case <-ctx.Done():
				return
			case l := <-lists:
				cats = l
				if v, ok := buildGroups(cats, grouped); ok {
					view, dirty = v, true
				}
			case u, ok := <-c.Updates():
				if !ok {
					return
				}
				if u.Err != nil {
					errs = append(errs, u.Err)
					continue
				}
				grouped = u.Value
				if v, ok := buildGroups(cats, grouped); ok {
					view, dirty = v, true
				}
			case send <- next:
				if next.Err != nil {
					errs = errs[1:]
				} else {
					dirty = false
				}
			}
		}
	}()

	return out
}

// feedKeys drives the combiner's key set from the category stream. Each
// accepted list is also handed to lists when it is not nil.
func feedKeys(ctx context.Context, c *stream.Combiner[string, []models.Card], categories <-chan stream.Update[[]models.Category], lists chan<- []models.Category) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-categories:
			if !ok {
				return
			}
			if u.Err != nil {
				if err := c.Report(ctx, fmt.Errorf("observing categories: %w", u.Err)); err != nil {
					return
				}
				continue
			}
			if err := c.SetKeys(ctx, categoryIDs(u.Value)); err != nil {
				return
			}
			if lists == nil {
				continue
			}
			select {
			case lists <- u.Value:
			case <-ctx.Done():
				return
			}
		}
	}
}

func buildGroups(categories []models.Category, grouped map[string][]models.Card) ([]models.Group, bool) {
	if categories == nil || grouped == nil || len(grouped) != len(categories) {
		return nil, false
	}
	groups := make([]models.Group, 0, len(categories))
	for _, c := range categories {
		cards, ok := grouped[c.ID]
		if !ok {
			return nil, false
		}
		groups = append(groups, models.Group{Category: c, Cards: cards})
	}
	return groups, true
}

func categoryIDs(categories []models.Category) []string {
	ids := make([]string, 0, len(categories))
	for _, c := range categories {
		ids = append(ids, c.ID)
	}
	return ids
}
