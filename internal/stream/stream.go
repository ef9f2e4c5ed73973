// Package stream holds the small set of channel-based reactive primitives the
// wallet builds its live views from.
//
// A stream is a receive-only channel of Update values. A producer closes the
// channel when the context it was started with is done; errors travel in-band
// as Update.Err and never terminate the stream on their own.
package stream

import "context"

// Update is one emission of a stream: either a value or an error.
//
// Version identifies the state of the underlying store the value was read
// at. Values read at the same version are mutually consistent. Sources that
// do not track versions leave it zero.
type Update[T any] struct {
	Value   T
	Err     error
	Version uint64
}

// Just returns a stream that emits v once and closes.
func Just[T any](v T) <-chan Update[T] {
	ch := make(chan Update[T], 1)
	ch <- Update[T]{Value: v}
	close(ch)
	return ch
}

// First blocks until the stream emits, the stream closes or ctx is done.
func First[T any](ctx context.Context, in <-chan Update[T]) (T, error) {
	var zero T
	select {
	case u, ok := <-in:
		if !ok {
			return zero, ErrClosed
		}
		return u.Value, u.Err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
