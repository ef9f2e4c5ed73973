package wallet_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/alovak/cardwallet/internal/stream"
	"github.com/alovak/cardwallet/wallet"
	"github.com/alovak/cardwallet/wallet/models"
	"github.com/stretchr/testify/require"
)

func testCard(id, categoryID string) models.Card {
	return models.Card{
		ID:           id,
		BankName:     "Test Bank",
		CardType:     models.CardTypeVisa,
		CardNumber:   "**** **** **** 4242",
		MaskedNumber: "**** 4242",
		CardHolder:   "JANE DOE",
		CategoryID:   categoryID,
		ColorHex:     "#112233",
	}
}

func countDefaults(cards []models.Card) int {
	n := 0
	for _, c := range cards {
		if c.IsDefault {
			n++
		}
	}
	return n
}

func TestCardUpsertRoundTrip(t *testing.T) {
	ctx := context.Background()
	cards := wallet.NewStore(nil).Cards()

	card := testCard("c1", models.CategoryDebitCredit)
	card.IsDefault = true
	require.NoError(t, cards.Upsert(ctx, card))

	got, err := cards.GetByID(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, card, *got)

	// replace keeps the position and swaps every field
	require.NoError(t, cards.Upsert(ctx, testCard("c2", models.CategoryMemberCard)))
	replaced := testCard("c1", models.CategoryMemberCard)
	replaced.BankName = "Other Bank"
	replaced.CardType = models.CardTypeMastercard
	require.NoError(t, cards.Upsert(ctx, replaced))

	got, err = cards.GetByID(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, replaced, *got)

	all, err := cards.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "c1", all[0].ID)

	missing, err := cards.GetByID(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestCardUpsertRejectsSecondDefault(t *testing.T) {
	ctx := context.Background()
	cards := wallet.NewStore(nil).Cards()

	first := testCard("c1", models.CategoryDebitCredit)
	first.IsDefault = true
	require.NoError(t, cards.Upsert(ctx, first))

	second := testCard("c2", models.CategoryDebitCredit)
	second.IsDefault = true
	err := cards.Upsert(ctx, second)
	require.ErrorIs(t, err, wallet.ErrConflict)
	require.ErrorIs(t, err, wallet.ErrStorage)

	// re-upserting the current default is fine
	require.NoError(t, cards.Upsert(ctx, first))

	got, err := cards.GetByID(ctx, "c2")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDefaultInvariantHoldsForAnySequence(t *testing.T) {
	ctx := context.Background()
	cards := wallet.NewStore(nil).Cards()
	rnd := rand.New(rand.NewSource(42))

	ids := []string{"a", "b", "c", "d", "e"}
	for step := 0; step < 500; step++ {
		id := ids[rnd.Intn(len(ids))]
		switch rnd.Intn(3) {
		case 0:
			card := testCard(id, models.CategoryDebitCredit)
			card.IsDefault = rnd.Intn(2) == 0
			// a second default is refused, anything else must succeed
			if err := cards.Upsert(ctx, card); err != nil {
				require.ErrorIs(t, err, wallet.ErrConflict)
			}
		case 1:
			require.NoError(t, cards.SetDefault(ctx, id))
			existing, err := cards.GetByID(ctx, id)
			require.NoError(t, err)
			if existing != nil {
				require.True(t, existing.IsDefault)
				all, err := cards.List(ctx)
				require.NoError(t, err)
				require.Equal(t, 1, countDefaults(all))
			}
		case 2:
			require.NoError(t, cards.Delete(ctx, id))
		}

		all, err := cards.List(ctx)
		require.NoError(t, err)
		require.LessOrEqual(t, countDefaults(all), 1, "step %d", step)
	}
}

func TestSetDefaultSwapsAtomically(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cards := wallet.NewStore(nil).Cards()

	for i := 0; i < 4; i++ {
		require.NoError(t, cards.Upsert(ctx, testCard(fmt.Sprintf("c%d", i), models.CategoryDebitCredit)))
	}
	require.NoError(t, cards.SetDefault(ctx, "c0"))

	var (
		wg       sync.WaitGroup
		writeErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		for i := 0; i < 200; i++ {
			if err := cards.SetDefault(ctx, fmt.Sprintf("c%d", i%4)); err != nil {
				writeErr = err
				return
			}
		}
	}()

	for ctx.Err() == nil {
		all, err := cards.List(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, countDefaults(all), "reader saw a half applied swap")
	}
	wg.Wait()
	require.NoError(t, writeErr)
}

func TestUpsertDefaultMovesDefaultToNewCard(t *testing.T) {
	ctx := context.Background()
	cards := wallet.NewStore(nil).Cards()

	old := testCard("c1", models.CategoryDebitCredit)
	old.IsDefault = true
	require.NoError(t, cards.Upsert(ctx, old))

	require.NoError(t, cards.UpsertDefault(ctx, testCard("c2", models.CategoryMemberCard)))

	all, err := cards.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, 1, countDefaults(all))
	def, err := cards.GetDefault(ctx)
	require.NoError(t, err)
	require.Equal(t, "c2", def.ID)
}

func TestSetDefaultOnMissingCardIsNoop(t *testing.T) {
	ctx := context.Background()
	cards := wallet.NewStore(nil).Cards()

	require.NoError(t, cards.Upsert(ctx, testCard("c1", models.CategoryDebitCredit)))
	require.NoError(t, cards.SetDefault(ctx, "c1"))
	require.NoError(t, cards.SetDefault(ctx, "missing"))

	def, err := cards.GetDefault(ctx)
	require.NoError(t, err)
	require.Equal(t, "c1", def.ID)
}

func TestCardDeletesAreIdempotent(t *testing.T) {
	ctx := context.Background()
	cards := wallet.NewStore(nil).Cards()

	require.NoError(t, cards.Upsert(ctx, testCard("c1", "x")))
	require.NoError(t, cards.Upsert(ctx, testCard("c2", "x")))
	require.NoError(t, cards.Upsert(ctx, testCard("c3", "y")))

	require.NoError(t, cards.Delete(ctx, "c1"))
	require.NoError(t, cards.Delete(ctx, "c1"))

	n, err := cards.CountByCategory(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, cards.DeleteByCategory(ctx, "x"))
	require.NoError(t, cards.DeleteByCategory(ctx, "x"))
	n, err = cards.CountByCategory(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, 0, n)

	require.NoError(t, cards.DeleteAll(ctx))
	all, err := cards.List(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestDeleteCategoryCascade(t *testing.T) {
	ctx := context.Background()
	store := wallet.NewStore(nil)
	cards, categories := store.Cards(), store.Categories()

	_, err := categories.SeedDefaultsIfEmpty(ctx)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, cards.Upsert(ctx, testCard(fmt.Sprintf("c%d", i), models.CategoryMemberCard)))
	}
	require.NoError(t, cards.Upsert(ctx, testCard("keep", models.CategoryDebitCredit)))

	require.NoError(t, store.DeleteCategoryCascade(ctx, models.CategoryMemberCard))

	n, err := cards.CountByCategory(ctx, models.CategoryMemberCard)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	category, err := categories.GetByID(ctx, models.CategoryMemberCard)
	require.NoError(t, err)
	require.Nil(t, category)

	kept, err := cards.GetByID(ctx, "keep")
	require.NoError(t, err)
	require.NotNil(t, kept)
}

func TestSeedDefaultsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	categories := wallet.NewStore(nil).Categories()

	seeded, err := categories.SeedDefaultsIfEmpty(ctx)
	require.NoError(t, err)
	require.True(t, seeded)

	seeded, err = categories.SeedDefaultsIfEmpty(ctx)
	require.NoError(t, err)
	require.False(t, seeded)

	n, err := categories.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	all, err := categories.List(ctx)
	require.NoError(t, err)
	require.Equal(t, models.DefaultCategories(), all)

	byName, err := categories.GetByName(ctx, "MEMBER_CARD")
	require.NoError(t, err)
	require.Equal(t, models.CategoryMemberCard, byName.ID)
}

func TestCategoryListIsOrderedBySortOrder(t *testing.T) {
	ctx := context.Background()
	categories := wallet.NewStore(nil).Categories()

	next, err := categories.NextSortOrder(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, next)

	require.NoError(t, categories.Upsert(ctx, models.Category{ID: "z", Name: "Z", DisplayName: "z", SortOrder: 7}))
	require.NoError(t, categories.Upsert(ctx, models.Category{ID: "b", Name: "B", DisplayName: "b", SortOrder: 2}))
	require.NoError(t, categories.Upsert(ctx, models.Category{ID: "a", Name: "A", DisplayName: "a", SortOrder: 2}))

	all, err := categories.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "z"}, []string{all[0].ID, all[1].ID, all[2].ID})

	next, err = categories.NextSortOrder(ctx)
	require.NoError(t, err)
	require.Equal(t, 8, next)

	require.NoError(t, categories.Delete(ctx, "z"))
	require.NoError(t, categories.Delete(ctx, "z"))
	next, err = categories.NextSortOrder(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, next)

	require.NoError(t, categories.DeleteAll(ctx))
	n, err := categories.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestNextSortOrderFollowsNegativeOrders(t *testing.T) {
	ctx := context.Background()
	categories := wallet.NewStore(nil).Categories()

	require.NoError(t, categories.Upsert(ctx, models.Category{ID: "a", Name: "A", DisplayName: "a", SortOrder: -5}))
	next, err := categories.NextSortOrder(ctx)
	require.NoError(t, err)
	require.Equal(t, -4, next)

	require.NoError(t, categories.Upsert(ctx, models.Category{ID: "b", Name: "B", DisplayName: "b", SortOrder: -9}))
	next, err = categories.NextSortOrder(ctx)
	require.NoError(t, err)
	require.Equal(t, -4, next)
}

func TestObserveReemitsOnMutation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := wallet.NewStore(nil)
	cards := store.Cards()

	all := cards.ObserveAll(ctx)
	byCategory := cards.ObserveByCategory(ctx, "x")

	require.Empty(t, recvCards(t, all))
	require.Empty(t, recvCards(t, byCategory))
	require.Equal(t, 2, store.Hub().Subscribers())

	require.NoError(t, cards.Upsert(ctx, testCard("c1", "x")))
	require.Len(t, waitCards(t, all, 1), 1)
	require.Equal(t, "c1", waitCards(t, byCategory, 1)[0].ID)

	require.NoError(t, cards.Upsert(ctx, testCard("c2", "y")))
	require.Len(t, waitCards(t, all, 2), 2)

	cancel()
	require.Eventually(t, func() bool { return store.Hub().Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func recvCards(t *testing.T, ch <-chan stream.Update[[]models.Card]) []models.Card {
	t.Helper()
	select {
	case u, ok := <-ch:
		require.True(t, ok, "stream closed")
		require.NoError(t, u.Err)
		return u.Value
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cards")
	}
	return nil
}

// waitCards reads until the stream reports n cards.
func waitCards(t *testing.T, ch <-chan stream.Update[[]models.Card], n int) []models.Card {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-ch:
			require.True(t, ok, "stream closed")
			if u.Err == nil && len(u.Value) == n {
				return u.Value
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %d cards", n)
			return nil
		}
	}
}
