package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func TestStructuredLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	h := NewStructuredLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("hello"))
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/cards", nil))

	require.Equal(t, http.StatusCreated, w.Code)
	require.Contains(t, buf.String(), "method=POST")
	require.Contains(t, buf.String(), "path=/cards")
	require.Contains(t, buf.String(), "status=201")
	require.Contains(t, buf.String(), "bytes=5")
}

func TestStructuredLoggerServerError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	h := NewStructuredLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wallet", nil))

	require.Contains(t, buf.String(), "level=ERROR")
	require.Contains(t, buf.String(), "status=500")
}

func TestRateLimiter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	rl := NewRateLimiter(0.0001, 2, logger)
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/cards", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusNoContent, call("10.0.0.1:1000"))
	require.Equal(t, http.StatusNoContent, call("10.0.0.1:1001"))
	require.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:1002"))

	// other clients have their own bucket
	require.Equal(t, http.StatusNoContent, call("10.0.0.2:1000"))
}
