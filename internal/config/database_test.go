package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graph-indexer/internal/dialect"
)

func TestDSN(t *testing.T) {
	t.Run("postgres url", func(t *testing.T) {
		d := DatabaseConfig{Host: "db", Port: 5432, User: "indexer", Password: "p@ss", Database: "graph", SSLMode: "disable"}
		assert.Equal(t, "postgres://indexer:p%40ss@db:5432/graph?sslmode=disable", d.DSN())
		assert.Equal(t, "postgres://indexer:xxxxx@db:5432/graph?sslmode=disable", d.RedactedDSN())
	})

	t.Run("mysql", func(t *testing.T) {
		d := DatabaseConfig{Driver: "mysql", Host: "127.0.0.1", Port: 4000, User: "root", Database: "graph"}
		dsn := d.DSN()
		assert.Contains(t, dsn, "root@tcp(127.0.0.1:4000)/graph")
		assert.Contains(t, dsn, "parseTime=true")
	})

	t.Run("explicit dsn wins", func(t *testing.T) {
		d := DatabaseConfig{ConnectionString: "postgres://a@b/c", Host: "ignored", Port: 1}
		assert.Equal(t, "postgres://a@b/c", d.DSN())
		assert.Equal(t, "dsn(pgx)", d.Address())
	})
}

func TestDatabaseDialect(t *testing.T) {
	d := DatabaseConfig{}
	got, err := d.Dialect()
	require.NoError(t, err)
	assert.Equal(t, dialect.Postgres, got)

	d.Driver = "mysql"
	got, err = d.Dialect()
	require.NoError(t, err)
	assert.Equal(t, dialect.MySQL, got)
}
