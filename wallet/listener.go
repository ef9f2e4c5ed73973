package wallet

import (
	"fmt"
	"time"

	"github.com/alovak/cardwallet/internal/live"
	"github.com/lib/pq"
	"golang.org/x/exp/slog"
)

const listenerPingInterval = 90 * time.Second

// Listener relays Postgres notifications on the wallet channel to the hub, so
// writes made by other processes sharing the database reach local observers.
type Listener struct {
	l      *pq.Listener
	hub    *live.Hub
	logger *slog.Logger
	done   chan struct{}
	exited chan struct{}
}

func NewListener(logger *slog.Logger, dsn, channel string, hub *live.Hub) (*Listener, error) {
	logger = logger.With(slog.String("component", "listener"), slog.String("channel", channel))

	l := pq.NewListener(dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Error("listener event", slog.Int("event", int(ev)), slog.Any("err", err))
		}
	})
	if err := l.Listen(channel); err != nil {
		l.Close()
		return nil, fmt.Errorf("listening on %s: %w", channel, err)
	}

	ln := &Listener{
		l:      l,
		hub:    hub,
		logger: logger,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go ln.run()

	return ln, nil
}

func (ln *Listener) run() {
	defer close(ln.exited)

	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case n, ok := <-ln.l.Notify:
			if !ok {
				return
			}
			if n == nil {
				// reconnected: anything may have changed meanwhile
				ln.hub.Publish(TopicCards, TopicCategories)
				continue
			}
			ln.hub.Publish(n.Extra)
		case <-ticker.C:
			if err := ln.l.Ping(); err != nil {
				ln.logger.Error("pinging listener connection", slog.Any("err", err))
			}
		case <-ln.done:
			return
		}
	}
}

func (ln *Listener) Close() error {
	close(ln.done)
	err := ln.l.Close()
	<-ln.exited
	return err
}
