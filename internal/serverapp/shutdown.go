package serverapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"graph-indexer/internal/logging"
)

// cleanupStack releases resources in reverse order of acquisition.
type cleanupStack struct {
	items []cleanupItem
}

type cleanupItem struct {
	name string
	fn   func(context.Context) error
}

func (s *cleanupStack) push(name string, fn func(context.Context) error) {
	s.items = append(s.items, cleanupItem{name: name, fn: fn})
}

// run pops every step even when one fails. Failures are logged and returned
// joined, each prefixed with its step name.
func (s *cleanupStack) run(ctx context.Context, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Nop()
	}
	var errs []error
	for i := len(s.items) - 1; i >= 0; i-- {
		item := s.items[i]
		logger.Info("shutting down " + item.name)
		if err := item.fn(ctx); err != nil {
			logger.Warn("cleanup error",
				slog.String("component", item.name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", item.name, err))
		}
	}
	s.items = nil
	return errors.Join(errs...)
}

// Shutdown stops the executors first, then the HTTP server, then releases
// the database and telemetry providers. Later calls return the first result.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a.shutdownOnce.Do(func() {
		a.stateMu.Lock()
		cleanup := a.cleanup
		a.started = false
		a.stateMu.Unlock()

		a.shutdownErr = cleanup.run(ctx, a.logger)
	})

	return a.shutdownErr
}
