package serverapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"
)

// Start launches the HTTP server, the schema refresh loop and one goroutine
// per executor. It requires Init to have completed.
func (a *App) Start() (<-chan error, error) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if !a.initialized {
		return nil, fmt.Errorf("app is not initialized")
	}
	if a.started {
		return a.serverErrors, nil
	}

	workCtx, cancel := context.WithCancel(context.Background())
	group, workCtx := errgroup.WithContext(workCtx)

	a.refresh.Start(workCtx)
	group.Go(func() error {
		return a.refresh.Wait(context.Background())
	})

	running := 0
	for _, ix := range a.indexers {
		if ix.exec == nil {
			continue
		}
		exec := ix.exec
		running++
		group.Go(func() error {
			runExecutor(workCtx, a.logger, exec)
			return nil
		})
	}

	a.workers = group
	a.stopWorkers = cancel
	a.cleanup.push("indexers", func(shutdownCtx context.Context) error {
		return a.stopIndexers(shutdownCtx)
	})

	a.serverErrors = a.startServer(running)
	a.started = true
	return a.serverErrors, nil
}

func (a *App) startServer(executors int) chan error {
	serverErrors := make(chan error, 1)
	srv := a.srv
	go func() {
		attrs := []any{
			slog.String("address", a.serverAddr),
			slog.String("graphql_endpoint", graphRoute),
			slog.String("health_endpoint", "/health"),
			slog.Int("indexers", len(a.indexers)),
			slog.Int("executors", executors),
			slog.Int("graphql_max_depth", a.cfg.Server.GraphQLMaxDepth),
			slog.String("log_level", a.cfg.Observability.Logging.Level),
		}
		if a.meterProvider != nil {
			attrs = append(attrs, slog.String("metrics_endpoint", "/metrics"))
		}
		if a.cfg.Server.RateLimitEnabled {
			attrs = append(attrs,
				slog.Float64("rate_limit_rps", a.cfg.Server.RateLimitRPS),
				slog.Int("rate_limit_burst", a.cfg.Server.RateLimitBurst),
				slog.Bool("rate_limit_per_client", a.cfg.Server.RateLimitPerClient),
			)
		}
		a.logger.Info("server starting", attrs...)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()
	return serverErrors
}

// stopIndexers trips every kill switch, cancels the refresh loop and waits
// for the goroutines to drain. An executor mid-batch finishes or rolls back
// that batch before returning.
func (a *App) stopIndexers(ctx context.Context) error {
	a.stateMu.Lock()
	group, cancel := a.workers, a.stopWorkers
	a.stateMu.Unlock()
	if group == nil {
		return nil
	}

	for _, ix := range a.indexers {
		if ix.exec != nil {
			ix.exec.Kill()
		}
	}
	cancel()

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("indexers did not stop: %w", ctx.Err())
	}
}

// WaitForStop waits for either an OS signal or a server error.
func (a *App) WaitForStop(stop <-chan os.Signal, serverErrors <-chan error) (reason string, err error) {
	if serverErrors == nil {
		a.stateMu.Lock()
		serverErrors = a.serverErrors
		a.stateMu.Unlock()
	}

	if stop == nil && serverErrors == nil {
		return "", fmt.Errorf("both stop and serverErrors channels are nil")
	}

	select {
	case err := <-serverErrors:
		if err == nil {
			return "server_error", fmt.Errorf("server stopped unexpectedly")
		}
		return "server_error", fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		if a.logger != nil {
			a.logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		}
		return "signal", nil
	}
}
