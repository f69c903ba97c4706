package gqlrequest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := WithExecMeta(context.Background(), ExecMeta{Namespace: "lending", Identifier: "main", OperationType: "query"})
	analysis := &Analysis{Name: "Loans"}
	ctx = WithAnalysis(ctx, analysis)

	meta, ok := ExecMetaFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "lending.main", meta.Indexer())
	assert.Same(t, analysis, AnalysisFromContext(ctx))

	_, ok = ExecMetaFromContext(context.Background())
	assert.False(t, ok)
	assert.Nil(t, AnalysisFromContext(context.Background()))
	assert.Empty(t, ExecMeta{}.Indexer())
}
