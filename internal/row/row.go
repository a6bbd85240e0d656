// Package row defines MoteDB's logical data model: typed Values, the
// ordered Row they compose, per-table Schema validation, and the composite
// key that lets a single LSM keyspace carry many logical tables.
package row

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/motedb/motedb/internal/merrors"
)

// Kind identifies the type tag carried by a Value. Comparison and hashing of
// cells stay monomorphic on Kind rather than going through a runtime
// dispatch hierarchy.
type Kind uint8

const (
	KindNull Kind = iota
	KindInteger
	KindFloat
	KindText
	KindBlob
	KindBoolean
	KindTimestamp // microseconds since epoch
	KindVector    // []float32
	KindSpatial   // serialized geometry (WKB-like bytes)
)

// Value is a single typed cell. Exactly one of the typed fields is
// meaningful, selected by Kind; this keeps comparisons and serialization a
// switch on Kind instead of an interface type-switch per operation.
type Value struct {
	Kind      Kind
	Integer   int64
	Float     float64
	Text      string
	Blob      []byte
	Boolean   bool
	Timestamp int64 // micros
	Vector    []float32
	Spatial   []byte
}

func NullValue() Value                { return Value{Kind: KindNull} }
func IntegerValue(v int64) Value      { return Value{Kind: KindInteger, Integer: v} }
func FloatValue(v float64) Value      { return Value{Kind: KindFloat, Float: v} }
func TextValue(v string) Value        { return Value{Kind: KindText, Text: v} }
func BlobValue(v []byte) Value        { return Value{Kind: KindBlob, Blob: v} }
func BooleanValue(v bool) Value       { return Value{Kind: KindBoolean, Boolean: v} }
func TimestampValue(v time.Time) Value {
	return Value{Kind: KindTimestamp, Timestamp: v.UnixMicro()}
}
func VectorValue(v []float32) Value  { return Value{Kind: KindVector, Vector: v} }
func SpatialValue(v []byte) Value    { return Value{Kind: KindSpatial, Spatial: v} }

// Column describes one position in a Schema.
type Column struct {
	Name      string
	Kind      Kind
	PrimaryKey bool
	Unique    bool
}

// Schema is the ordered column list rows are validated against.
type Schema struct {
	Columns []Column
}

// IndexOf returns the position of the named column, or -1.
func (s Schema) IndexOf(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// PrimaryKeyIndex returns the position of the primary-key column, or -1 if
// the schema has none.
func (s Schema) PrimaryKeyIndex() int {
	for i, c := range s.Columns {
		if c.PrimaryKey {
			return i
		}
	}
	return -1
}

// Row is an ordered sequence of typed Values matching a Schema's column
// order positionally.
type Row struct {
	Values []Value
}

// Validate checks a row's arity and per-column kinds against schema.
func Validate(schema Schema, r Row) error {
	if len(r.Values) != len(schema.Columns) {
		return merrors.InvalidDataErr("row.validate", fmt.Sprintf(
			"expected %d columns, got %d", len(schema.Columns), len(r.Values)), nil)
	}
	for i, col := range schema.Columns {
		v := r.Values[i]
		if v.Kind == KindNull {
			continue
		}
		if v.Kind != col.Kind {
			return merrors.InvalidDataErr("row.validate", fmt.Sprintf(
				"column %q: expected kind %d, got %d", col.Name, col.Kind, v.Kind), nil)
		}
	}
	return nil
}

// RowID is a 64-bit monotonically allocated integer, unique per database.
type RowID uint64

// CompositeKey packs a 32-bit table hash and a 32-bit row id into the
// single 64-bit key the LSM, bloom filters, and SSTables operate on:
// (table_hash << 32) | (row_id & 0xFFFFFFFF).
type CompositeKey uint64

// TableHash stably hashes a table name down to 32 bits using FNV-1a.
// Implementers must verify on table creation that no two table names
// collide under this hash — collisions are a hard error, never silently
// tolerated, since CompositeKey uses it as the sole table discriminator.
func TableHash(tableName string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tableName))
	return h.Sum32()
}

// MakeCompositeKey packs a table hash and row id into a CompositeKey.
func MakeCompositeKey(tableHash uint32, rowID RowID) CompositeKey {
	return CompositeKey(uint64(tableHash)<<32 | (uint64(rowID) & 0xFFFFFFFF))
}

// TableHashOf extracts the high 32 bits (table hash) of a CompositeKey.
func (k CompositeKey) TableHashOf() uint32 { return uint32(k >> 32) }

// RowIDOf extracts the low 32 bits (row id) of a CompositeKey.
func (k CompositeKey) RowIDOf() RowID { return RowID(uint32(k)) }

// TablePrefixRange returns the [start, end) composite-key range covering
// every row of the table whose name hashes to tableHash — the range
// scan_prefix(table_hash) relies on.
func TablePrefixRange(tableHash uint32) (start, end CompositeKey) {
	start = CompositeKey(uint64(tableHash) << 32)
	end = CompositeKey(uint64(tableHash+1) << 32)
	return
}
