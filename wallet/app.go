package wallet

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/alovak/cardwallet/internal/live"
	"github.com/alovak/cardwallet/internal/metrics"
	"github.com/alovak/cardwallet/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"golang.org/x/exp/slog"
)

// App is the main application, it contains all the components of the wallet
// service and is responsible for starting and stopping them.
type App struct {
	srv      *http.Server
	wg       *sync.WaitGroup
	Addr     string
	logger   *slog.Logger
	config   *Config
	db       *sql.DB
	store    *Store
	service  *Service
	listener *Listener
	metrics  *metrics.Metrics
	// cancels request contexts, hijacked websocket streams included
	cancel context.CancelFunc
}

func NewApp(logger *slog.Logger, config *Config) *App {
	logger = logger.With(slog.String("app", "wallet"))

	if config == nil {
		config = DefaultConfig()
	}

	return &App{
		wg:      &sync.WaitGroup{},
		logger:  logger,
		config:  config,
		metrics: metrics.New(),
	}
}

// Start wires the components and starts serving. When it fails, everything
// it had opened is closed again.
func (a *App) Start() (err error) {
	a.logger.Info("starting app...")

	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	if err := a.config.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	hub := live.NewHub()
	switch a.config.Backend {
	case "pg":
		store, err := a.openPG(hub)
		if err != nil {
			return err
		}
		a.store = store
	default:
		a.store = NewStore(hub)
	}

	a.metrics.GaugeFunc("live_subscriptions", "Number of open live store subscriptions.", func() float64 {
		return float64(hub.Subscribers())
	})

	a.service = NewService(a.logger, a.store, a.metrics)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.service.SeedDefaults(ctx); err != nil {
		return err
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(middleware.NewStructuredLogger(a.logger))
	router.Use(a.metrics.InstrumentHandler)
	router.Use(chimiddleware.Recoverer)

	var mutating []func(http.Handler) http.Handler
	if a.config.RateLimit > 0 {
		limiter := middleware.NewRateLimiter(a.config.RateLimit, a.config.RateBurst, a.logger)
		mutating = append(mutating, limiter.Handler)
	}

	api := NewAPI(a.logger, a.service)
	api.AppendRoutes(router, mutating...)

	router.Handle("/metrics", a.metrics.Handler())
	router.Get("/-/live", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Get("/-/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.store.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	l, err := net.Listen("tcp", a.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening tcp port: %w", err)
	}

	a.Addr = l.Addr().String()

	baseCtx, cancelBase := context.WithCancel(context.Background())
	a.cancel = cancelBase
	a.srv = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		a.logger.Info("http server started", slog.String("addr", a.Addr))

		if err := a.srv.Serve(l); err != nil {
			if err != http.ErrServerClosed {
				a.logger.Error("starting http server", "err", err)
			}

			a.logger.Info("http server stopped")
		}
	}()

	return nil
}

func (a *App) openPG(hub *live.Hub) (*Store, error) {
	db, err := sql.Open("postgres", a.config.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating: %w", err)
	}

	if a.config.ListenNotify {
		listener, err := NewListener(a.logger, a.config.DSN, a.config.NotifyChannel, hub)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("starting listener: %w", err)
		}
		a.listener = listener
	}
	a.db = db

	return NewPGStore(db, hub, a.config.NotifyChannel), nil
}

// Service is set once Start has got past the backend setup, also when a
// later step failed.
func (a *App) Service() *Service {
	return a.service
}

func (a *App) Shutdown() {
	a.logger.Info("shutting down app...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.srv != nil {
		if err := a.srv.Shutdown(ctx); err != nil {
			a.logger.Error("shutting down http server", "err", err)
		}
	}
	if a.cancel != nil {
		a.cancel()
	}

	a.wg.Wait()
	a.closeResources()

	a.logger.Info("app stopped")
}

// closeResources stops the service writer and closes the listener and the
// db. It is safe to call more than once.
func (a *App) closeResources() {
	if a.service != nil {
		a.service.Close()
	}
	if a.listener != nil {
		if err := a.listener.Close(); err != nil {
			a.logger.Error("closing listener", "err", err)
		}
		a.listener = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("closing db", "err", err)
		}
		a.db = nil
	}
}
