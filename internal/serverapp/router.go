package serverapp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"graph-indexer/internal/catalog"
	"graph-indexer/internal/gqlrequest"
	"graph-indexer/internal/logging"
	"graph-indexer/internal/middleware"
	"graph-indexer/internal/planner"
	"graph-indexer/internal/resolver"
)

const (
	graphRoute    = "/api/graph/{namespace}/{identifier}"
	graphiQLRoute = graphRoute + "/graphiql"
)

type errorBody struct {
	Errors []errorMessage `json:"errors"`
}

type errorMessage struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeGraphQLError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Errors: []errorMessage{{Message: msg}}})
}

// buildRouter mounts the GraphQL, health, admin and metrics endpoints.
//
//	request -> rate limit -> CORS -> otelhttp -> logging -> chi route
//	    graph route: analysis -> metrics -> tracing -> graphQLHandler
func (a *App) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.LoggingMiddleware(a.logger))

	graphql := chi.Chain(
		middleware.GraphQLRequestAnalysisMiddleware(),
		middleware.GraphQLMetricsMiddleware(a.metrics.graphql),
		middleware.GraphQLTracingMiddleware(),
	)
	query := graphql.Handler(a.graphQLHandler())
	r.Method(http.MethodGet, graphRoute, query)
	r.Method(http.MethodPost, graphRoute, query)

	if a.cfg.Server.GraphiQLEnabled {
		// The page posts back to its own URL, so data queries land on Execute.
		r.Get(graphiQLRoute, a.graphiQLHandler())
		r.Method(http.MethodPost, graphiQLRoute, query)
		a.logger.Info("GraphiQL enabled", slog.String("path", graphiQLRoute))
	}

	r.Get("/health", a.healthHandler())

	r.Route("/admin", func(r chi.Router) {
		r.Post("/schemas/refresh", a.schemaRefreshHandler())
		r.Delete("/indexers/{namespace}/{identifier}", a.removeIndexerHandler())
	})
	a.logger.Warn("admin endpoints are not authenticated; restrict access at the network layer")

	if a.meterProvider != nil {
		r.Handle("/metrics", promhttp.Handler())
		a.logger.Info("metrics endpoint enabled", slog.String("path", "/metrics"))
	}

	return r
}

// wrapHTTPHandler applies the process-wide policies outside the router.
func (a *App) wrapHTTPHandler(handler http.Handler) http.Handler {
	cfg := a.cfg
	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r)
			}),
		)
	}

	handler = middleware.CORSMiddleware(middleware.CORSConfig{
		Enabled:          cfg.Server.CORSEnabled,
		AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
		AllowedMethods:   cfg.Server.CORSAllowedMethods,
		AllowedHeaders:   cfg.Server.CORSAllowedHeaders,
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: cfg.Server.CORSAllowCredentials,
		MaxAge:           cfg.Server.CORSMaxAge,
	})(handler)

	return middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Enabled:   cfg.Server.RateLimitEnabled,
		RPS:       cfg.Server.RateLimitRPS,
		Burst:     cfg.Server.RateLimitBurst,
		PerClient: cfg.Server.RateLimitPerClient,
	})(handler)
}

// httpRootSpanName keeps span names low-cardinality by collapsing indexer
// paths onto their route pattern.
func httpRootSpanName(r *http.Request) string {
	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}
	return method + " " + normalizeHTTPSpanRoute(r.URL.Path)
}

func normalizeHTTPSpanRoute(rawPath string) string {
	switch rawPath {
	case "/health", "/metrics", "/admin/schemas/refresh":
		return rawPath
	}
	parts := strings.Split(strings.Trim(rawPath, "/"), "/")
	switch {
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "graph":
		return graphRoute
	case len(parts) == 5 && parts[0] == "api" && parts[1] == "graph" && parts[4] == "graphiql":
		return graphiQLRoute
	case len(parts) == 4 && parts[0] == "admin" && parts[1] == "indexers":
		return "/admin/indexers/{namespace}/{identifier}"
	}
	return "/*"
}

func (a *App) graphQLHandler() http.HandlerFunc {
	maxBody := a.cfg.Server.MaxRequestBodyBytes
	return func(w http.ResponseWriter, r *http.Request) {
		if maxBody > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		env, err := gqlrequest.DecodeEnvelope(r)
		if err != nil {
			writeGraphQLError(w, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(env.Query) == "" {
			writeGraphQLError(w, http.StatusBadRequest, "request does not include a query")
			return
		}
		variables, err := env.VariablesMap()
		if err != nil {
			writeGraphQLError(w, http.StatusBadRequest, gqlrequest.ErrVariablesNotObject.Error())
			return
		}

		data, err := a.resolver.Execute(r.Context(), resolver.Request{
			Namespace:     chi.URLParam(r, middleware.NamespaceParam),
			Identifier:    chi.URLParam(r, middleware.IdentifierParam),
			Query:         env.Query,
			OperationName: env.OperationName,
			Variables:     variables,
		})
		if err != nil {
			a.writeExecuteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Data json.RawMessage `json:"data"`
		}{Data: data})
	}
}

func (a *App) writeExecuteError(w http.ResponseWriter, r *http.Request, err error) {
	var gqlErr *planner.GraphqlError
	switch {
	case errors.As(err, &gqlErr):
		writeGraphQLError(w, http.StatusBadRequest, gqlErr.Error())
	case errors.Is(err, catalog.ErrNotFound):
		writeGraphQLError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeGraphQLError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		logging.FromContext(r.Context()).Error("graphql execution failed", slog.String("error", err.Error()))
		writeGraphQLError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *App) graphiQLHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, err := a.resolver.GraphiQLHandler(r.Context(),
			chi.URLParam(r, middleware.NamespaceParam),
			chi.URLParam(r, middleware.IdentifierParam),
		)
		if err != nil {
			a.writeExecuteError(w, r, err)
			return
		}
		h.ServeHTTP(w, r)
	}
}

type healthReport struct {
	Status   string          `json:"status"`
	Database string          `json:"database"`
	Indexers []IndexerStatus `json:"indexers"`
}

func (a *App) healthHandler() http.HandlerFunc {
	timeout := a.cfg.Server.HealthCheckTimeout
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		report := healthReport{Status: "healthy", Database: "ok", Indexers: a.indexerStatuses()}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := a.db.PingContext(ctx); err != nil {
			reqLogger.Error("health check failed",
				slog.String("error", err.Error()),
				slog.String("check", "database"),
			)
			// Generic message only; the log carries the detail.
			report.Status, report.Database = "unhealthy", "failed"
			writeJSON(w, http.StatusServiceUnavailable, report)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func (a *App) schemaRefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		changes, err := a.refresh.RefreshNow(r.Context())
		if err != nil {
			logging.FromContext(r.Context()).Warn("manual schema refresh failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusBadGateway, map[string]any{"status": "error", "changes": len(changes)})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "changes": len(changes)})
	}
}

func (a *App) removeIndexerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ns := chi.URLParam(r, middleware.NamespaceParam)
		id := chi.URLParam(r, middleware.IdentifierParam)
		for _, ix := range a.indexers {
			if ix.exec != nil && ix.manifest.Namespace == ns && ix.manifest.Identifier == id {
				ix.exec.Kill()
			}
		}
		if err := a.catalog.Remove(r.Context(), ns, id); err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				writeGraphQLError(w, http.StatusNotFound, err.Error())
				return
			}
			logging.FromContext(r.Context()).Error("remove indexer failed", slog.String("error", err.Error()))
			writeGraphQLError(w, http.StatusInternalServerError, "internal error")
			return
		}
		a.resolver.Invalidate(ns, id)
		logging.FromContext(r.Context()).Info("indexer removed", slog.String("indexer", ns+"."+id))
		w.WriteHeader(http.StatusNoContent)
	}
}
