package resolver

import (
	"context"
	"net/http"

	"github.com/graphql-go/handler"
)

// GraphiQLHandler serves the GraphiQL page for one indexer. The page talks to
// the reflection schema, which answers introspection but carries no data
// resolvers, so callers route data queries to Execute instead.
func (r *Resolver) GraphiQLHandler(ctx context.Context, namespace, identifier string) (http.Handler, error) {
	reflected, err := r.ReflectionSchema(ctx, namespace, identifier)
	if err != nil {
		return nil, err
	}
	return handler.New(&handler.Config{
		Schema:   &reflected,
		Pretty:   true,
		GraphiQL: true,
	}), nil
}
