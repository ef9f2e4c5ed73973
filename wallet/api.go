package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/alovak/cardwallet/wallet/models"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/exp/slog"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

// API is a HTTP API for the wallet service
type API struct {
	wallet   *Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewAPI(logger *slog.Logger, wallet *Service) *API {
	return &API{
		wallet: wallet,
		logger: logger.With(slog.String("component", "api")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// the wallet has no auth, any origin may watch it
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// AppendRoutes mounts the API. Mutating routes get the extra middlewares,
// e.g. a rate limiter.
func (a *API) AppendRoutes(r chi.Router, mutating ...func(http.Handler) http.Handler) {
	r.Route("/categories", func(r chi.Router) {
		r.Get("/", a.listCategories)
		r.With(mutating...).Post("/", a.addCategory)
		r.Route("/{categoryID}", func(r chi.Router) {
			r.With(mutating...).Delete("/", a.deleteCategory)
			r.Get("/cards", a.listCategoryCards)
		})
	})
	r.Route("/cards", func(r chi.Router) {
		r.Get("/", a.listCards)
		r.With(mutating...).Post("/", a.createCard)
		r.Get("/default", a.getDefaultCard)
		r.Route("/{cardID}", func(r chi.Router) {
			r.Get("/", a.getCard)
			r.With(mutating...).Put("/", a.replaceCard)
			r.With(mutating...).Delete("/", a.deleteCard)
			r.With(mutating...).Post("/default", a.setDefaultCard)
		})
	})
	r.Get("/wallet", a.getWallet)
	r.Get("/wallet/stream", a.streamWallet)
}

func (a *API) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := a.wallet.ListCategories(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (a *API) addCategory(w http.ResponseWriter, r *http.Request) {
	create := models.CreateCategory{}
	if err := json.NewDecoder(r.Body).Decode(&create); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	category, err := a.wallet.AddCategory(r.Context(), create.DisplayName, create.IconName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, category)
}

func (a *API) deleteCategory(w http.ResponseWriter, r *http.Request) {
	categoryID := chi.URLParam(r, "categoryID")

	if err := a.wallet.DeleteCategory(r.Context(), categoryID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listCategoryCards(w http.ResponseWriter, r *http.Request) {
	categoryID := chi.URLParam(r, "categoryID")

	cards, err := a.wallet.ListCardsByCategory(r.Context(), categoryID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

func (a *API) listCards(w http.ResponseWriter, r *http.Request) {
	var (
		cards []models.Card
		err   error
	)
	if categoryID := r.URL.Query().Get("category_id"); categoryID != "" {
		cards, err = a.wallet.ListCardsByCategory(r.Context(), categoryID)
	} else {
		cards, err = a.wallet.ListCards(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

func (a *API) createCard(w http.ResponseWriter, r *http.Request) {
	create := models.CreateCard{}
	if err := json.NewDecoder(r.Body).Decode(&create); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	card, err := a.wallet.CreateCard(r.Context(), create)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

func (a *API) getDefaultCard(w http.ResponseWriter, r *http.Request) {
	card, err := a.wallet.DefaultCard(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (a *API) getCard(w http.ResponseWriter, r *http.Request) {
	card, err := a.wallet.GetCard(r.Context(), chi.URLParam(r, "cardID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// replaceCard takes the full card; the id always comes from the path.
func (a *API) replaceCard(w http.ResponseWriter, r *http.Request) {
	card := models.Card{}
	if err := json.NewDecoder(r.Body).Decode(&card); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	card.ID = chi.URLParam(r, "cardID")

	if err := a.wallet.ReplaceCard(r.Context(), card); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (a *API) deleteCard(w http.ResponseWriter, r *http.Request) {
	if err := a.wallet.DeleteCard(r.Context(), chi.URLParam(r, "cardID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setDefaultCard(w http.ResponseWriter, r *http.Request) {
	if err := a.wallet.SetDefaultCard(r.Context(), chi.URLParam(r, "cardID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getWallet(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	groups, err := a.wallet.Snapshot(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// streamWallet pushes the whole wallet over a websocket on every change.
// Stream errors are sent as {"error": "..."} frames and the stream goes on.
func (a *API) streamWallet(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		a.logger.Info("websocket upgrade failed", slog.Any("err", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// the client only ever sends control frames; reading surfaces its close
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	updates := a.wallet.ObserveWallet(ctx)
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if u.Err != nil {
				a.logger.Error("wallet stream", slog.Any("err", u.Err))
				err = conn.WriteJSON(streamError{Error: u.Err.Error()})
			} else {
				err = conn.WriteJSON(u.Value)
			}
			if err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

type streamError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
