// Package walletclient talks to a running wallet server over its HTTP API.
package walletclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alovak/cardwallet/wallet/models"
)

type Client struct {
	Base string
	HTTP *http.Client
}

func New(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{Base: strings.TrimRight(base, "/"), HTTP: hc}
}

// StatusError is returned for any non-2xx reply.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status=%d body=%s", e.Status, e.Body)
}

func (c *Client) ListCategories(ctx context.Context) ([]models.Category, error) {
	var categories []models.Category
	if err := c.do(ctx, http.MethodGet, "/categories", nil, &categories); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

func (c *Client) AddCategory(ctx context.Context, create models.CreateCategory) (*models.Category, error) {
	category := &models.Category{}
	if err := c.do(ctx, http.MethodPost, "/categories", create, category); err != nil {
		return nil, fmt.Errorf("add category: %w", err)
	}
	return category, nil
}

func (c *Client) CreateCard(ctx context.Context, create models.CreateCard) (*models.Card, error) {
	card := &models.Card{}
	if err := c.do(ctx, http.MethodPost, "/cards", create, card); err != nil {
		return nil, fmt.Errorf("create card: %w", err)
	}
	return card, nil
}

func (c *Client) SetDefaultCard(ctx context.Context, cardID string) error {
	if err := c.do(ctx, http.MethodPost, "/cards/"+url.PathEscape(cardID)+"/default", nil, nil); err != nil {
		return fmt.Errorf("set default card: %w", err)
	}
	return nil
}

func (c *Client) Wallet(ctx context.Context) ([]models.Group, error) {
	var groups []models.Group
	if err := c.do(ctx, http.MethodGet, "/wallet", nil, &groups); err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return groups, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
