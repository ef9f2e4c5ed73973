package wallet_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alovak/cardwallet/wallet"
	"github.com/alovak/cardwallet/wallet/models"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (chi.Router, *wallet.Service) {
	t.Helper()
	svc := newTestService(t)
	require.NoError(t, svc.SeedDefaults(context.Background()))

	router := chi.NewRouter()
	wallet.NewAPI(discardLogger(), svc).AppendRoutes(router)
	return router, svc
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, &buf)
	router.ServeHTTP(w, req)
	return w
}

func TestAPICards(t *testing.T) {
	router, _ := newTestRouter(t)

	t.Run("create card", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/cards", models.CreateCard{
			BankName:   "Acme",
			CardType:   "VISA",
			Number:     "4111111111111111",
			CategoryID: models.CategoryDebitCredit,
		})
		require.Equal(t, http.StatusCreated, w.Code)

		card := models.Card{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &card))
		require.NotEmpty(t, card.ID)
		require.Equal(t, "**** **** **** 1111", card.CardNumber)
		require.NotContains(t, w.Body.String(), "4111111111111111")

		w = doJSON(t, router, http.MethodGet, "/cards/"+card.ID, nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = doJSON(t, router, http.MethodPost, "/cards/"+card.ID+"/default", nil)
		require.Equal(t, http.StatusNoContent, w.Code)

		w = doJSON(t, router, http.MethodGet, "/cards/default", nil)
		require.Equal(t, http.StatusOK, w.Code)
		def := models.Card{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &def))
		require.Equal(t, card.ID, def.ID)

		w = doJSON(t, router, http.MethodGet, "/cards?category_id="+models.CategoryDebitCredit, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var cards []models.Card
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cards))
		require.Len(t, cards, 1)

		w = doJSON(t, router, http.MethodGet, "/categories/"+models.CategoryMemberCard+"/cards", nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.JSONEq(t, `[]`, w.Body.String())
	})

	t.Run("invalid card", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/cards", models.CreateCard{BankName: "Acme", CardType: "AMEX", Number: "1234", CategoryID: models.CategoryDebitCredit})
		require.Equal(t, http.StatusBadRequest, w.Code)

		w = httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/cards", strings.NewReader("{")))
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown card", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/cards/nope", nil)
		require.Equal(t, http.StatusNotFound, w.Code)

		w = doJSON(t, router, http.MethodPut, "/cards/nope", testCard("ignored", "x"))
		require.Equal(t, http.StatusNotFound, w.Code)

		// deleting and defaulting unknown cards are no-ops
		w = doJSON(t, router, http.MethodDelete, "/cards/nope", nil)
		require.Equal(t, http.StatusNoContent, w.Code)
		w = doJSON(t, router, http.MethodPost, "/cards/nope/default", nil)
		require.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestAPIReplaceCardConflict(t *testing.T) {
	router, svc := newTestRouter(t)
	ctx := context.Background()

	first := testCard("c1", models.CategoryDebitCredit)
	first.IsDefault = true
	require.NoError(t, svc.AddCard(ctx, first))
	require.NoError(t, svc.AddCard(ctx, testCard("c2", models.CategoryDebitCredit)))

	second := testCard("whatever", models.CategoryDebitCredit)
	second.IsDefault = true
	w := doJSON(t, router, http.MethodPut, "/cards/c2", second)
	require.Equal(t, http.StatusConflict, w.Code)

	second.IsDefault = false
	second.BankName = "Renamed"
	w = doJSON(t, router, http.MethodPut, "/cards/c2", second)
	require.Equal(t, http.StatusOK, w.Code)
	got := models.Card{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, "c2", got.ID)
	require.Equal(t, "Renamed", got.BankName)
}

func TestAPICategories(t *testing.T) {
	router, svc := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/categories", models.CreateCategory{DisplayName: "Gym Pass", IconName: "fitness"})
	require.Equal(t, http.StatusCreated, w.Code)
	category := models.Category{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &category))
	require.Equal(t, "GYM_PASS", category.Name)
	require.Equal(t, 3, category.SortOrder)

	w = doJSON(t, router, http.MethodPost, "/categories", models.CreateCategory{DisplayName: " "})
	require.Equal(t, http.StatusBadRequest, w.Code)

	require.NoError(t, svc.AddCard(context.Background(), testCard("c1", category.ID)))

	w = doJSON(t, router, http.MethodDelete, "/categories/"+category.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	_, err := svc.GetCard(context.Background(), "c1")
	require.ErrorIs(t, err, wallet.ErrNotFound)

	w = doJSON(t, router, http.MethodGet, "/categories", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var categories []models.Category
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &categories))
	require.Len(t, categories, 3)
}

func TestAPIWallet(t *testing.T) {
	router, svc := newTestRouter(t)
	require.NoError(t, svc.AddCard(context.Background(), testCard("c1", models.CategoryMemberCard)))

	w := doJSON(t, router, http.MethodGet, "/wallet", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var groups []models.Group
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &groups))
	require.Len(t, groups, 3)
	require.Equal(t, models.CategoryMemberCard, groups[1].Category.ID)
	require.Len(t, groups[1].Cards, 1)
	require.NotNil(t, groups[0].Cards)
}

func TestAPIWalletStream(t *testing.T) {
	router, svc := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/wallet/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readGroups := func() []models.Group {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var groups []models.Group
		require.NoError(t, conn.ReadJSON(&groups))
		return groups
	}

	groups := readGroups()
	require.Len(t, groups, 3)
	for _, g := range groups {
		require.Empty(t, g.Cards)
	}

	require.NoError(t, svc.AddCard(context.Background(), testCard("c1", models.CategoryElectronicMoney)))

	for {
		groups = readGroups()
		if len(groups[2].Cards) == 1 {
			break
		}
	}
	require.Equal(t, "c1", groups[2].Cards[0].ID)
}
