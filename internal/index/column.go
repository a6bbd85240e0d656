package index

import (
	"fmt"

	"github.com/motedb/motedb/internal/merrors"
	"github.com/motedb/motedb/internal/query"
	"github.com/motedb/motedb/internal/row"
	"github.com/motedb/motedb/internal/types"
)

// ColumnIndex is an ordered secondary index over one column of one table,
// backing QueryByColumn/QueryByColumnRange.
type ColumnIndex struct {
	Name      string
	Table     string
	ColumnIdx int
	ordered   *orderedIndex
}

// NewColumnIndex creates an empty column index over table's columnIdx'th
// column.
func NewColumnIndex(name, table string, columnIdx int) *ColumnIndex {
	return &ColumnIndex{Name: name, Table: table, ColumnIdx: columnIdx, ordered: newOrderedIndex()}
}

// valueToComparable converts a row.Value into the types.Comparable the
// ordered B+Tree keys on. A Null value has no comparable representation
// and is simply not indexed (queries can't match it anyway with the
// operators ScanCondition exposes).
func valueToComparable(v row.Value) (types.Comparable, bool) {
	switch v.Kind {
	case row.KindInteger:
		return types.IntKey(v.Integer), true
	case row.KindFloat:
		return types.FloatKey(v.Float), true
	case row.KindText:
		return types.VarcharKey(v.Text), true
	case row.KindBoolean:
		return types.BoolKey(v.Boolean), true
	case row.KindTimestamp:
		return microsToDateKey(v.Timestamp), true
	default:
		return nil, false
	}
}

// Insert indexes one row's column value, replacing any previously indexed
// value for the same row id (idempotent if unchanged).
func (ci *ColumnIndex) Insert(id row.RowID, r row.Row) {
	v := r.ColumnValue(ci.ColumnIdx)
	cmp, ok := valueToComparable(v)
	if !ok {
		ci.ordered.remove(id)
		return
	}
	ci.ordered.insert(id, cmp)
}

// Remove drops id from the index entirely (used by delete; an update
// replaces the old value inside Insert).
func (ci *ColumnIndex) Remove(id row.RowID) {
	ci.ordered.remove(id)
}

// BatchInsert indexes every live row in rows and removes every tombstoned
// row id. Used by the flush callback when a table's batch of flushed rows
// meets the facade's Config.BatchIndexThreshold.
func (ci *ColumnIndex) BatchInsert(rows []FlushRow) {
	for _, fr := range rows {
		if fr.Deleted {
			ci.ordered.remove(fr.RowID)
			continue
		}
		ci.Insert(fr.RowID, fr.Row)
	}
}

// Query returns every row id whose indexed column value satisfies cond.
func (ci *ColumnIndex) Query(cond *query.ScanCondition) []row.RowID {
	return ci.ordered.query(cond)
}

// Len returns how many rows are currently indexed.
func (ci *ColumnIndex) Len() int { return ci.ordered.Len() }

// Save persists the index to path.
func (ci *ColumnIndex) Save(path string) error { return ci.ordered.Save(path) }

// Load rebuilds the index from a file Save previously wrote.
func (ci *ColumnIndex) Load(path string) error { return ci.ordered.Load(path) }

// validateColumnIdx returns an Index error if columnIdx is out of range for
// schema, used by the database facade's CreateColumnIndex.
func validateColumnIdx(schema row.Schema, columnIdx int) error {
	if columnIdx < 0 || columnIdx >= len(schema.Columns) {
		return merrors.IndexErr("index.create_column_index", fmt.Sprintf("column index %d out of range", columnIdx), nil)
	}
	return nil
}

// ValidateColumnIdx is the exported form validateColumnIdx wraps, for the
// database facade to call before constructing a ColumnIndex.
func ValidateColumnIdx(schema row.Schema, columnIdx int) error {
	return validateColumnIdx(schema, columnIdx)
}
