// Package writer serializes mutations through a single goroutine.
package writer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var ErrClosed = errors.New("writer closed")

const (
	jobQueued int32 = iota
	jobStarted
	jobAbandoned
)

type job struct {
	ctx    context.Context
	fn     func(context.Context) error
	result chan error
	state  *atomic.Int32
}

// Writer runs submitted jobs one at a time in submission order. Jobs whose
// context is already done by the time they reach the front of the queue are
// skipped and report the context error. A job that has started always runs
// to completion and its caller gets its result.
type Writer struct {
	jobs    chan job
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func New(buffer int) *Writer {
	w := &Writer{
		jobs:    make(chan job, buffer),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Writer) loop() {
	defer close(w.stopped)
	for {
		select {
		case j := <-w.jobs:
			if !j.state.CompareAndSwap(jobQueued, jobStarted) {
				// the caller gave up while it was queued
				continue
			}
			if err := j.ctx.Err(); err != nil {
				j.result <- err
				continue
			}
			j.result <- j.fn(j.ctx)
		case <-w.quit:
			// drain so nobody waits forever on a queued job
			for {
				select {
				case j := <-w.jobs:
					j.result <- ErrClosed
				default:
					return
				}
			}
		}
	}
}

// Do queues fn and waits for its result. If ctx is done while fn is still
// queued Do returns early; fn will then be skipped. Once fn has started Do
// waits for it, so a nil error always means fn ran and succeeded.
func (w *Writer) Do(ctx context.Context, fn func(context.Context) error) error {
	j := job{ctx: ctx, fn: fn, result: make(chan error, 1), state: new(atomic.Int32)}

	select {
	case <-w.quit:
		return ErrClosed
	default:
	}

	select {
	case w.jobs <- j:
	case <-w.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.result:
		return err
	case <-w.stopped:
		// enqueued after the final drain
		select {
		case err := <-j.result:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		if j.state.CompareAndSwap(jobQueued, jobAbandoned) {
			return ctx.Err()
		}
		return <-j.result
	}
}

// Close stops the writer after the running job, if any, finishes. Jobs still
// queued fail with ErrClosed.
func (w *Writer) Close() {
	w.once.Do(func() { close(w.quit) })
	<-w.stopped
}
