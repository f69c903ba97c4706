package catalog

import (
	"graph-indexer/internal/dialect"
)

// Catalog table names.
const (
	TableGraphRoot   = "graph_registry_graph_root"
	TableTypeIDs     = "graph_registry_type_ids"
	TableColumns     = "graph_registry_columns"
	TableRootColumns = "graph_registry_root_columns"
)

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS graph_registry_graph_root (
    id bigserial primary key,
    schema_name varchar(63) not null,
    schema_identifier varchar(63) not null,
    version varchar(64) not null,
    query varchar(255) not null,
    schema_text text not null,
    created_at timestamp not null default now(),
    UNIQUE(schema_name, schema_identifier, version)
)`,
	`CREATE TABLE IF NOT EXISTS graph_registry_type_ids (
    id bigint not null,
    schema_version varchar(64) not null,
    schema_name varchar(63) not null,
    schema_identifier varchar(63) not null,
    graphql_name varchar(255) not null,
    table_name varchar(255) not null,
    kind varchar(16) not null,
    members text not null,
    PRIMARY KEY (id, schema_version)
)`,
	`CREATE TABLE IF NOT EXISTS graph_registry_columns (
    id bigserial primary key,
    type_id bigint not null,
    schema_version varchar(64) not null,
    column_position integer not null,
    column_name varchar(255) not null,
    column_type varchar(32) not null,
    graphql_type varchar(255) not null,
    nullable boolean not null,
    is_unique boolean not null default false,
    indexed boolean not null default false,
    ref_column varchar(255) not null default ''
)`,
	`CREATE TABLE IF NOT EXISTS graph_registry_root_columns (
    id bigserial primary key,
    root_id bigint not null references graph_registry_graph_root(id) on delete cascade,
    column_name varchar(255) not null,
    graphql_type varchar(255) not null
)`,
	`CREATE INDEX IF NOT EXISTS graph_registry_columns_type_idx ON graph_registry_columns (type_id, schema_version)`,
}

var mysqlMigrations = []string{
	`CREATE TABLE IF NOT EXISTS graph_registry_graph_root (
    id bigint not null auto_increment primary key,
    schema_name varchar(63) not null,
    schema_identifier varchar(63) not null,
    version varchar(64) not null,
    query varchar(255) not null,
    schema_text longtext not null,
    created_at timestamp not null default current_timestamp,
    UNIQUE KEY graph_root_version_uq (schema_name, schema_identifier, version)
)`,
	`CREATE TABLE IF NOT EXISTS graph_registry_type_ids (
    id bigint not null,
    schema_version varchar(64) not null,
    schema_name varchar(63) not null,
    schema_identifier varchar(63) not null,
    graphql_name varchar(255) not null,
    table_name varchar(255) not null,
    kind varchar(16) not null,
    members text not null,
    PRIMARY KEY (id, schema_version)
)`,
	`CREATE TABLE IF NOT EXISTS graph_registry_columns (
    id bigint not null auto_increment primary key,
    type_id bigint not null,
    schema_version varchar(64) not null,
    column_position int not null,
    column_name varchar(255) not null,
    column_type varchar(32) not null,
    graphql_type varchar(255) not null,
    nullable boolean not null,
    is_unique boolean not null default false,
    indexed boolean not null default false,
    ref_column varchar(255) not null default '',
    KEY graph_registry_columns_type_idx (type_id, schema_version)
)`,
	`CREATE TABLE IF NOT EXISTS graph_registry_root_columns (
    id bigint not null auto_increment primary key,
    root_id bigint not null,
    column_name varchar(255) not null,
    graphql_type varchar(255) not null,
    CONSTRAINT graph_registry_root_columns_root_fk FOREIGN KEY (root_id)
        REFERENCES graph_registry_graph_root(id) ON DELETE CASCADE
)`,
}

// Migrations returns the catalog DDL for a dialect. SQLite is DDL-generation
// only and has no catalog.
func Migrations(d dialect.Dialect) []string {
	switch d {
	case dialect.MySQL:
		return mysqlMigrations
	case dialect.Postgres:
		return postgresMigrations
	default:
		return nil
	}
}
