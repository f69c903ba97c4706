// Package sqlutil provides SQL literal and identifier helpers.
package sqlutil

import (
	"regexp"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// QuoteString quotes a SQL string literal with single quotes and escapes
// any single quotes within the string by doubling them.
func QuoteString(s string) string {
	escaped := strings.ReplaceAll(s, "'", "''")
	return "'" + escaped + "'"
}

// IsIdentifier reports whether name can be spliced into DDL unquoted:
// lowercase ASCII letters, digits and underscores, not starting with a digit.
func IsIdentifier(name string) bool {
	return len(name) <= 63 && identifierPattern.MatchString(name)
}

// SchemaName joins an indexer's namespace and identifier into the database
// schema that holds its tables.
func SchemaName(namespace, identifier string) string {
	return namespace + "_" + identifier
}
