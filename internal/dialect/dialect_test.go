package dialect

import (
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  Dialect
	}{
		{"postgres", Postgres},
		{"PostgreSQL", Postgres},
		{"", Postgres},
		{"sqlite3", SQLite},
		{"tidb", MySQL},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Parse("oracle")
	assert.Error(t, err)
}

func TestForDriver(t *testing.T) {
	d, err := ForDriver("pgx")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)

	d, err = ForDriver("postgres")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)

	d, err = ForDriver("mysql")
	require.NoError(t, err)
	assert.Equal(t, MySQL, d)

	_, err = ForDriver("mssql")
	assert.Error(t, err)
}

func TestQualify(t *testing.T) {
	assert.Equal(t, "ns.thing", Postgres.Qualify("ns", "thing"))
	assert.Equal(t, "ns.thing", MySQL.Qualify("ns", "thing"))
	assert.Equal(t, "thing", SQLite.Qualify("ns", "thing"))
	assert.Equal(t, "thing", Postgres.Qualify("", "thing"))
}

func TestJSONFunctions(t *testing.T) {
	assert.Equal(t, "json_build_object", Postgres.JSONObject())
	assert.Equal(t, "json_agg", Postgres.JSONArrayAgg())
	assert.Equal(t, "JSON_OBJECT", MySQL.JSONObject())
	assert.Equal(t, "JSON_ARRAYAGG", MySQL.JSONArrayAgg())
}

func TestBuilderPlaceholders(t *testing.T) {
	sql, _, err := Postgres.Builder().Select("id").From("t").Where(sq.Eq{"id": 1}).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM t WHERE id = $1", sql)

	sql, _, err = MySQL.Builder().Select("id").From("t").Where(sq.Eq{"id": 1}).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM t WHERE id = ?", sql)
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"a""b"`, Postgres.QuoteIdentifier(`a"b`))
	assert.Equal(t, "`a``b`", MySQL.QuoteIdentifier("a`b"))
}
