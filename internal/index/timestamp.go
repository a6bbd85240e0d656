package index

import (
	"time"

	"github.com/motedb/motedb/internal/query"
	"github.com/motedb/motedb/internal/row"
	"github.com/motedb/motedb/internal/types"
)

// TimestampIndex is the single global ordered index over every row's
// timestamp column (one per table), backing QueryTimestampRange. It is the
// same ordered-B+Tree structure as ColumnIndex, specialized to always key
// on a types.DateKey.
type TimestampIndex struct {
	Table     string
	ColumnIdx int
	ordered   *orderedIndex
}

// NewTimestampIndex creates an empty timestamp index over table's
// columnIdx'th (KindTimestamp) column.
func NewTimestampIndex(table string, columnIdx int) *TimestampIndex {
	return &TimestampIndex{Table: table, ColumnIdx: columnIdx, ordered: newOrderedIndex()}
}

func (ti *TimestampIndex) Insert(id row.RowID, r row.Row) {
	v := r.ColumnValue(ti.ColumnIdx)
	if v.Kind != row.KindTimestamp {
		return
	}
	ti.ordered.insert(id, microsToDateKey(v.Timestamp))
}

func (ti *TimestampIndex) Remove(id row.RowID) { ti.ordered.remove(id) }

func (ti *TimestampIndex) BatchInsert(rows []FlushRow) {
	for _, fr := range rows {
		if fr.Deleted {
			ti.ordered.remove(fr.RowID)
			continue
		}
		ti.Insert(fr.RowID, fr.Row)
	}
}

// QueryRange returns every row id with a timestamp in [start, end].
func (ti *TimestampIndex) QueryRange(start, end time.Time) []row.RowID {
	cond := query.Between(types.DateKey(start), types.DateKey(end))
	return ti.ordered.query(cond)
}

func (ti *TimestampIndex) Len() int { return ti.ordered.Len() }

func (ti *TimestampIndex) Save(path string) error { return ti.ordered.Save(path) }
func (ti *TimestampIndex) Load(path string) error { return ti.ordered.Load(path) }
