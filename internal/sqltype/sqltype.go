// Package sqltype maps schema scalars onto storage column types and renders
// those column types for each SQL dialect.
package sqltype

import (
	"fmt"

	"graph-indexer/internal/dialect"
)

// ColumnType is the storage class of one generated column. Its string value is
// persisted in the catalog, so existing names must never change.
type ColumnType string

const (
	ID         ColumnType = "ID"
	Address    ColumnType = "Address"
	AssetID    ColumnType = "AssetId"
	Bytes4     ColumnType = "Bytes4"
	Bytes8     ColumnType = "Bytes8"
	Bytes32    ColumnType = "Bytes32"
	Bytes64    ColumnType = "Bytes64"
	ContractID ColumnType = "ContractId"
	Salt       ColumnType = "Salt"
	MessageID  ColumnType = "MessageId"
	Nonce      ColumnType = "Nonce"
	TxID       ColumnType = "TxId"
	BlockID    ColumnType = "BlockId"
	Signature  ColumnType = "Signature"
	Int4       ColumnType = "Int4"
	Int8       ColumnType = "Int8"
	Int16      ColumnType = "Int16"
	UInt4      ColumnType = "UInt4"
	UInt8      ColumnType = "UInt8"
	UInt16     ColumnType = "UInt16"
	Float      ColumnType = "Float"
	Timestamp  ColumnType = "Timestamp"
	Object     ColumnType = "Object"
	Blob       ColumnType = "Blob"
	Json       ColumnType = "Json"
	Charfield  ColumnType = "Charfield"
	Identity   ColumnType = "Identity"
	Boolean    ColumnType = "Boolean"
	Enum       ColumnType = "Enum"
	ForeignKey ColumnType = "ForeignKey"
	Array      ColumnType = "Array"
)

// scalarColumns maps every built-in schema scalar (including the sized integer
// aliases) onto its column type.
var scalarColumns = map[string]ColumnType{
	"ID":         ID,
	"Address":    Address,
	"AssetId":    AssetID,
	"Bytes4":     Bytes4,
	"Bytes8":     Bytes8,
	"Bytes32":    Bytes32,
	"Bytes64":    Bytes64,
	"ContractId": ContractID,
	"Salt":       Salt,
	"MessageId":  MessageID,
	"Nonce":      Nonce,
	"TxId":       TxID,
	"BlockId":    BlockID,
	"Signature":  Signature,
	"Int4":       Int4,
	"I8":         Int4,
	"I16":        Int4,
	"I32":        Int4,
	"Int":        Int4,
	"Int8":       Int8,
	"I64":        Int8,
	"Int16":      Int16,
	"I128":       Int16,
	"UInt4":      UInt4,
	"U8":         UInt4,
	"U16":        UInt4,
	"U32":        UInt4,
	"UInt8":      UInt8,
	"U64":        UInt8,
	"UInt16":     UInt16,
	"U128":       UInt16,
	"Float":      Float,
	"Timestamp":  Timestamp,
	"Object":     Object,
	"Blob":       Blob,
	"Bytes":      Blob,
	"HexString":  Blob,
	"Json":       Json,
	"Charfield":  Charfield,
	"String":     Charfield,
	"Identity":   Identity,
	"Boolean":    Boolean,
}

// FromScalar resolves a scalar name. ok is false for non-scalars.
func FromScalar(name string) (ColumnType, bool) {
	ct, ok := scalarColumns[name]
	return ct, ok
}

// IsScalar reports whether name is a built-in scalar.
func IsScalar(name string) bool {
	_, ok := scalarColumns[name]
	return ok
}

// ScalarNames lists every built-in scalar name.
func ScalarNames() []string {
	out := make([]string, 0, len(scalarColumns))
	for name := range scalarColumns {
		out = append(out, name)
	}
	return out
}

// Parse restores a ColumnType read back from the catalog.
func Parse(name string) (ColumnType, error) {
	ct := ColumnType(name)
	switch ct {
	case Enum, ForeignKey, Array:
		return ct, nil
	}
	for _, known := range scalarColumns {
		if known == ct {
			return ct, nil
		}
	}
	return "", fmt.Errorf("unknown column type %q", name)
}

// SQL renders the column type for a dialect. Array columns use ArraySQL.
func (c ColumnType) SQL(d dialect.Dialect) string {
	base := c.postgres()
	switch d {
	case dialect.SQLite:
		switch base {
		case "bytea":
			return "blob"
		case "bigint primary key":
			return "integer primary key"
		case "Json":
			return "json"
		}
	case dialect.MySQL:
		switch base {
		case "bytea":
			return "longblob"
		case "numeric":
			return "decimal(39, 0)"
		case "varchar(10485760)":
			return "longtext"
		case "Json":
			return "json"
		case "double precision":
			return "double"
		}
	}
	return base
}

func (c ColumnType) postgres() string {
	switch c {
	case ID:
		return "bigint primary key"
	case Address, AssetID, Bytes32, ContractID, Salt, MessageID, Nonce, TxID, BlockID:
		return "varchar(64)"
	case Bytes4:
		return "varchar(8)"
	case Bytes8:
		return "varchar(16)"
	case Bytes64, Signature:
		return "varchar(128)"
	case Int4, UInt4:
		return "integer"
	case Int8, UInt8, ForeignKey:
		return "bigint"
	case Int16, UInt16:
		return "numeric"
	case Float:
		return "double precision"
	case Timestamp:
		return "timestamp"
	case Object:
		return "bytea"
	case Blob:
		return "varchar(10485760)"
	case Json:
		return "Json"
	case Charfield, Enum:
		return "varchar(255)"
	case Identity:
		return "varchar(66)"
	case Boolean:
		return "boolean"
	default:
		return "varchar(255)"
	}
}

// ArraySQL renders a list-of-scalar column whose elements have type elem.
func ArraySQL(elem ColumnType, d dialect.Dialect) string {
	switch d {
	case dialect.Postgres:
		return elem.SQL(d) + "[]"
	case dialect.MySQL:
		return "json"
	default:
		return "text"
	}
}

// IsInteger reports whether values of this column are integral numbers.
func (c ColumnType) IsInteger() bool {
	switch c {
	case ID, Int4, Int8, Int16, UInt4, UInt8, UInt16, ForeignKey:
		return true
	}
	return false
}
