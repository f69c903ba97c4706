package ddl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graph-indexer/internal/dialect"
	"graph-indexer/internal/schema"
)

const lendingSDL = `
schema {
  query: QueryRoot
}

type QueryRoot {
  borrower: Borrower
  lender: Lender
  auditor: Auditor
}

type Borrower {
  id: ID!
  account: Address! @indexed
}

type Lender {
  id: ID!
  account: Address!
  hash: Bytes32! @indexed
  borrower: Borrower!
}

type Auditor {
  id: ID!
  account: Address!
  hash: Bytes32! @indexed
  borrower: Borrower!
}
`

const indexSDL = `
schema {
  query: QueryRoot
}

type QueryRoot {
  payer: Payer
  payee: Payee
}

type Payer {
  id: ID!
  account: Address! @indexed
}

type Payee {
  id: ID!
  account: Address!
  hash: Bytes32! @indexed
}
`

func generate(t *testing.T, namespace, sdl string, d dialect.Dialect) *Output {
	t.Helper()
	s, err := schema.Parse(namespace, "", sdl)
	require.NoError(t, err)
	out, err := Generate(s, d)
	require.NoError(t, err)
	return out
}

func TestGenerateBasicPostgresSchema(t *testing.T) {
	out := generate(t, "test_namespace", `
schema {
  query: QueryRoot
}

type QueryRoot {
  thing1: Thing1
  thing2: Thing2
}

type Thing1 {
  id: ID!
  account: Address!
}

type Thing2 {
  id: ID!
  account: Address!
  hash: Bytes32!
}
`, dialect.Postgres)

	require.Len(t, out.Statements, 3)
	assert.Equal(t, "CREATE SCHEMA IF NOT EXISTS test_namespace", out.Statements[0])
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS\n"+
		" test_namespace.thing1 (\n"+
		" id bigint primary key not null,\n"+
		"account varchar(64) not null,\n"+
		"object bytea not null"+
		"\n)", out.Statements[1])
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS\n"+
		" test_namespace.thing2 (\n"+
		" id bigint primary key not null,\n"+
		"account varchar(64) not null,\n"+
		"hash varchar(64) not null,\n"+
		"object bytea not null\n"+
		")", out.Statements[2])
}

func TestGenerateIsDeterministic(t *testing.T) {
	for _, d := range []dialect.Dialect{dialect.Postgres, dialect.SQLite, dialect.MySQL} {
		t.Run(d.String(), func(t *testing.T) {
			first := generate(t, "namespace", lendingSDL, d)
			for i := 0; i < 5; i++ {
				again := generate(t, "namespace", lendingSDL, d)
				assert.Equal(t, first.All(), again.All())
				assert.Equal(t, first.TypeIDs, again.TypeIDs)
			}
			for _, stmt := range first.Statements {
				if len(stmt) > 12 && stmt[:12] == "CREATE TABLE" {
					assert.Contains(t, stmt, "\nobject ")
				}
			}
		})
	}
}

func TestPostgresForeignKeys(t *testing.T) {
	out := generate(t, "namespace", lendingSDL, dialect.Postgres)

	require.Len(t, out.ForeignKeys, 2)
	assert.Equal(t, "ALTER TABLE namespace.lender ADD CONSTRAINT fk_borrower_id FOREIGN KEY (borrower) REFERENCES namespace.borrower(id) ON DELETE NO ACTION ON UPDATE NO ACTION INITIALLY DEFERRED;",
		out.ForeignKeys[0].SQL(dialect.Postgres))
	assert.Equal(t, "ALTER TABLE namespace.auditor ADD CONSTRAINT fk_borrower_id FOREIGN KEY (borrower) REFERENCES namespace.borrower(id) ON DELETE NO ACTION ON UPDATE NO ACTION INITIALLY DEFERRED;",
		out.ForeignKeys[1].SQL(dialect.Postgres))
}

func TestSQLiteForeignKeys(t *testing.T) {
	out := generate(t, "namespace", lendingSDL, dialect.SQLite)

	require.Len(t, out.ForeignKeys, 2)
	assert.Equal(t, "ALTER TABLE lender DROP COLUMN borrower; ALTER TABLE lender ADD COLUMN borrower BIGINT REFERENCES borrower(id);",
		out.ForeignKeys[0].SQL(dialect.SQLite))
	assert.Equal(t, "ALTER TABLE auditor DROP COLUMN borrower; ALTER TABLE auditor ADD COLUMN borrower BIGINT REFERENCES borrower(id);",
		out.ForeignKeys[1].SQL(dialect.SQLite))
	for _, stmt := range out.Statements {
		assert.NotContains(t, stmt, "CREATE SCHEMA")
	}
}

func TestMySQLForeignKeysUseSchemaUniqueNames(t *testing.T) {
	out := generate(t, "namespace", lendingSDL, dialect.MySQL)

	require.Len(t, out.ForeignKeys, 2)
	assert.Equal(t, "ALTER TABLE namespace.lender ADD CONSTRAINT fk_lender_borrower__borrower_id FOREIGN KEY (borrower) REFERENCES namespace.borrower(id) ON DELETE NO ACTION ON UPDATE NO ACTION;",
		out.ForeignKeys[0].SQL(dialect.MySQL))
}

func TestPostgresIndices(t *testing.T) {
	out := generate(t, "namespace", indexSDL, dialect.Postgres)

	require.Len(t, out.Indices, 2)
	assert.Equal(t, "CREATE INDEX payer_account_idx ON namespace.payer USING btree (account);", out.Indices[0].SQL(dialect.Postgres))
	assert.Equal(t, "CREATE INDEX payee_hash_idx ON namespace.payee USING btree (hash);", out.Indices[1].SQL(dialect.Postgres))
}

func TestSQLiteIndices(t *testing.T) {
	out := generate(t, "namespace", indexSDL, dialect.SQLite)

	require.Len(t, out.Indices, 2)
	assert.Equal(t, "CREATE INDEX payer_account_idx ON payer(account);", out.Indices[0].SQL(dialect.SQLite))
	assert.Equal(t, "CREATE INDEX payee_hash_idx ON payee(hash);", out.Indices[1].SQL(dialect.SQLite))
}

func TestUniqueIndex(t *testing.T) {
	out := generate(t, "ns", `type Account { id: ID! address: Address! @unique }`, dialect.MySQL)
	require.Len(t, out.Indices, 1)
	assert.Equal(t, "CREATE UNIQUE INDEX account_address_idx ON ns.account (address);", out.Indices[0].SQL(dialect.MySQL))
}

func TestDuplicateConstraintNamesOnOneTable(t *testing.T) {
	out := generate(t, "ns", `
type Borrower { id: ID! }
type Loan { id: ID! borrower: Borrower! cosigner: Borrower }
`, dialect.Postgres)

	require.Len(t, out.ForeignKeys, 2)
	assert.Equal(t, "fk_borrower_id", out.ForeignKeys[0].Name(dialect.Postgres))
	assert.Equal(t, "fk_borrower_id_cosigner", out.ForeignKeys[1].Name(dialect.Postgres))
}

func TestJunctionTables(t *testing.T) {
	out := generate(t, "ns", `
type Borrower { id: ID! }
type Lender { id: ID! borrowers: [Borrower!]! }
`, dialect.Postgres)

	require.Len(t, out.Statements, 4)
	assert.Contains(t, out.Statements[2], "borrowers bigint[] not null")
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS\n"+
		" ns.lenders_borrowers (\n"+
		" lender_id bigint not null,\n"+
		"borrower_id bigint not null,\n"+
		"UNIQUE(lender_id, borrower_id)\n"+
		")", out.Statements[3])

	require.Len(t, out.Junctions, 1)
	var junctionID int64
	for _, row := range out.TypeIDs {
		if row.Kind == KindJunction {
			junctionID = row.ID
		}
	}
	assert.Equal(t, schema.TypeID("ns", "lenders_borrowers"), junctionID)
	for _, c := range out.Columns {
		if c.Name == "lender_id" || c.Name == "borrower_id" {
			assert.Equal(t, junctionID, c.TypeID, c.Name)
		}
	}

	require.Len(t, out.ForeignKeys, 2)
	assert.Equal(t, "ALTER TABLE ns.lenders_borrowers ADD CONSTRAINT fk_lender_id_id FOREIGN KEY (lender_id) REFERENCES ns.lender(id) ON DELETE NO ACTION ON UPDATE NO ACTION INITIALLY DEFERRED;",
		out.ForeignKeys[0].SQL(dialect.Postgres))
}

func TestCatalogRows(t *testing.T) {
	s, err := schema.Parse("ns", "idx", `
enum Color { RED GREEN }
type Paint @entity(virtual: true) { color: Color! }
type Thing { id: ID! color: Color paint: Paint }
`)
	require.NoError(t, err)
	out, err := Generate(s, dialect.Postgres)
	require.NoError(t, err)

	assert.Equal(t, "ns_idx", out.Namespace)
	assert.Equal(t, s.Version, out.GraphRoot.Version)
	assert.Equal(t, "QueryRoot", out.GraphRoot.QueryRoot)

	kinds := map[string]string{}
	for _, row := range out.TypeIDs {
		kinds[row.GraphQLName] = row.Kind
		assert.Equal(t, schema.TypeID("ns_idx", row.GraphQLName), row.ID)
	}
	assert.Equal(t, map[string]string{"Paint": KindVirtual, "Thing": KindEntity, "Color": KindEnum}, kinds)

	var thingCols []string
	for _, c := range out.Columns {
		if c.TypeID == s.TypeID("Thing") {
			thingCols = append(thingCols, c.Name+":"+c.ColumnType)
		}
	}
	assert.Equal(t, []string{"id:ID", "color:Enum", "paint:Json", "object:Object"}, thingCols)

	require.Len(t, out.RootColumns, 1)
	assert.Equal(t, RootColumnRow{Name: "thing", GraphQLType: "[Thing!]"}, out.RootColumns[0])
	assert.Contains(t, out.Statements[1], "paint Json")
}
