// Package handler defines the boundary between the executor and indexer
// logic: handlers receive a batch of blocks plus a Store bound to the batch's
// transaction, and persist entities through it.
package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"graph-indexer/internal/blocks"
)

// ErrHandlerTimeout is returned when a handler overruns its deadline.
var ErrHandlerTimeout = errors.New("handler timed out")

// Handler indexes a batch of blocks. Returning an error rolls the batch back.
type Handler interface {
	Handle(ctx context.Context, store Store, batch []blocks.BlockData) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, store Store, batch []blocks.BlockData) error

func (f HandlerFunc) Handle(ctx context.Context, store Store, batch []blocks.BlockData) error {
	return f(ctx, store, batch)
}

// WithTimeout bounds each invocation of h. A handler that ignores its context
// is abandoned when the deadline passes; the caller's transaction is rolled
// back, so its late writes fail.
func WithTimeout(h Handler, d time.Duration) Handler {
	if d <= 0 {
		return h
	}
	return HandlerFunc(func(ctx context.Context, store Store, batch []blocks.BlockData) error {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			done <- h.Handle(ctx, store, batch)
		}()

		select {
		case err := <-done:
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s: %v", ErrHandlerTimeout, d, err)
			}
			return err
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s", ErrHandlerTimeout, d)
			}
			return ctx.Err()
		}
	})
}
