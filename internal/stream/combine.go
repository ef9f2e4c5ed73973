package stream

import (
	"context"
	"errors"
	"fmt"
)

var ErrClosed = errors.New("stream closed")

// Opener starts the source stream for key. The source should close its channel
// once ctx is done; the combiner stops reading from it either way.
type Opener[K comparable, V any] func(ctx context.Context, key K) <-chan Update[V]

// Combiner is a combine-latest over a dynamic set of keyed sources.
//
// Every time any source emits, the combiner emits a map holding the most recent
// value of every current key. Nothing is emitted until each current key has
// produced at least one value, so a key is never missing from an emitted map.
// Sources are opened once per key and kept across SetKeys calls; only added
// keys are opened and only removed keys are cancelled.
//
// The output is conflated: a slow reader receives the newest snapshot rather
// than every intermediate one. Errors are queued and delivered, in order,
// before the next snapshot.
type Combiner[K comparable, V any] struct {
	open        Opener[K, V]
	sameVersion bool
	control     chan control[K]
	out         chan Update[map[K]V]
	done        chan struct{}
}

type Option func(*options)

type options struct {
	sameVersion bool
}

// SameVersion holds snapshots back until the latest value of every source
// carries the same Update.Version, so an emitted map never mixes values read
// at different store versions. Emitted snapshots carry that version.
//
// Sources must reload after every version change, otherwise the combiner
// can wait forever for a lagging source.
func SameVersion() Option {
	return func(o *options) { o.sameVersion = true }
}

type control[K comparable] struct {
	keys []K
	err  error
}

type source[V any] struct {
	cancel context.CancelFunc
	gen    uint64
	latest V
	ready   bool
	version uint64
}

type keyed[K comparable, V any] struct {
	key K
	gen uint64
	upd Update[V]
}

// Combine starts a combiner with no keys. Nothing is emitted until the first
// SetKeys call. The output channel closes when ctx is done.
func Combine[K comparable, V any](ctx context.Context, open Opener[K, V], opts ...Option) *Combiner[K, V] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	c := &Combiner[K, V]{
		open:        open,
		sameVersion: o.sameVersion,
		control:     make(chan control[K]),
		out:         make(chan Update[map[K]V]),
		done:        make(chan struct{}),
	}
	go c.run(ctx)
	return c
}

func (c *Combiner[K, V]) Updates() <-chan Update[map[K]V] {
	return c.out
}

// SetKeys replaces the set of observed keys. Duplicate keys are collapsed.
func (c *Combiner[K, V]) SetKeys(ctx context.Context, keys []K) error {
	if keys == nil {
		keys = []K{}
	}
	return c.send(ctx, control[K]{keys: keys})
}

// Report forwards an upstream error to the output without touching the
// current snapshot.
func (c *Combiner[K, V]) Report(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	return c.send(ctx, control[K]{err: err})
}

func (c *Combiner[K, V]) send(ctx context.Context, m control[K]) error {
	select {
	case c.control <- m:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Combiner[K, V]) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.out)

	in := make(chan keyed[K, V])
	sources := make(map[K]*source[V])
	defer func() {
		for _, s := range sources {
			s.cancel()
		}
	}()

	var (
		gen        uint64
		configured bool
		dirty      bool
		errs       []error
	)

	for {
		var (
			send chan<- Update[map[K]V]
			next Update[map[K]V]
		)
		switch {
		case len(errs) > 0:
			send, next = c.out, Update[map[K]V]{Err: errs[0]}
		case dirty && configured && allReady(sources):
			version, consistent := commonVersion(sources)
			if c.sameVersion && !consistent {
				break
			}
			send, next = c.out, Update[map[K]V]{Value: snapshot(sources), Version: version}
		}

		select {
		case <-ctx.Done():
			return

		case m := <-c.control:
			if m.err != nil {
				errs = append(errs, m.err)
				continue
			}
			configured = true
			dirty = true

			want := make(map[K]struct{}, len(m.keys))
			for _, k := range m.keys {
				want[k] = struct{}{}
			}
			for k, s := range sources {
				if _, ok := want[k]; !ok {
					s.cancel()
					delete(sources, k)
				}
			}
			for k := range want {
				if _, ok := sources[k]; ok {
					continue
				}
				gen++
				subCtx, cancel := context.WithCancel(ctx)
				sources[k] = &source[V]{cancel: cancel, gen: gen}
				go forward(subCtx, k, gen, c.open(subCtx, k), in)
			}

		case m := <-in:
			s, ok := sources[m.key]
			if !ok || s.gen != m.gen {
				// late value from a removed source
				continue
			}
			if m.upd.Err != nil {
				errs = append(errs, fmt.Errorf("%v: %w", m.key, m.upd.Err))
				continue
			}
			s.latest, s.version, s.ready = m.upd.Value, m.upd.Version, true
			dirty = true

		case send <- next:
			if next.Err != nil {
				errs = errs[1:]
			} else {
				dirty = false
			}
		}
	}
}

func forward[K comparable, V any](ctx context.Context, key K, gen uint64, src <-chan Update[V], in chan<- keyed[K, V]) {
	for {
		select {
		case u, ok := <-src:
			if !ok {
				return
			}
			select {
			case in <- keyed[K, V]{key: key, gen: gen, upd: u}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func allReady[K comparable, V any](sources map[K]*source[V]) bool {
	for _, s := range sources {
		if !s.ready {
			return false
		}
	}
	return true
}

// commonVersion reports the version shared by every source, if there is one.
func commonVersion[K comparable, V any](sources map[K]*source[V]) (uint64, bool) {
	var (
		version uint64
		first   = true
	)
	for _, s := range sources {
		if first {
			version, first = s.version, false
			continue
		}
		if s.version != version {
			return 0, false
		}
	}
	return version, true
}

func snapshot[K comparable, V any](sources map[K]*source[V]) map[K]V {
	m := make(map[K]V, len(sources))
	for k, s := range sources {
		m[k] = s.latest
	}
	return m
}
