package sqlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: "beep", want: "'beep'"},
		{name: "empty", input: "", want: "''"},
		{name: "embedded quote", input: "o'brien", want: "'o''brien'"},
		{name: "injection attempt", input: "x'; DROP TABLE t; --", want: "'x''; DROP TABLE t; --'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, QuoteString(tt.input))
		})
	}
}

func TestIsIdentifier(t *testing.T) {
	assert.True(t, IsIdentifier("test_namespace"))
	assert.True(t, IsIdentifier("_private1"))
	assert.False(t, IsIdentifier("1abc"))
	assert.False(t, IsIdentifier("Upper"))
	assert.False(t, IsIdentifier("semi;colon"))
	assert.False(t, IsIdentifier(""))
}

func TestSchemaName(t *testing.T) {
	assert.Equal(t, "fuel_explorer", SchemaName("fuel", "explorer"))
}
