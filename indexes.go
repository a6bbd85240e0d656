package motedb

import (
	"github.com/motedb/motedb/internal/index"
	"github.com/motedb/motedb/internal/row"
)

// registeredIndex wraps exactly one of the five index adapter kinds behind
// the common apply/remove/save/load surface the database facade drives,
// mirroring the way index_metadata.go's indexRecord discriminates kind with
// a single tag instead of five separate maps.
type registeredIndex struct {
	record indexRecord

	column    *index.ColumnIndex
	timestamp *index.TimestampIndex
	vector    *index.VectorIndex
	spatial   *index.SpatialIndex
	text      *index.TextIndex
}

// applyOne indexes a single committed row, the incremental per-CRUD path
// that keeps an index converged between flush-triggered batch builds.
func (ri *registeredIndex) applyOne(fr index.FlushRow) error {
	if fr.Deleted {
		ri.remove(fr.RowID)
		return nil
	}
	switch ri.record.Kind {
	case index.KindColumn:
		ri.column.Insert(fr.RowID, fr.Row)
	case index.KindTimestamp:
		ri.timestamp.Insert(fr.RowID, fr.Row)
	case index.KindVector:
		return ri.vector.Insert(fr.RowID, fr.Row)
	case index.KindSpatial:
		return ri.spatial.Insert(fr.RowID, fr.Row)
	case index.KindText:
		ri.text.Insert(fr.RowID, fr.Row)
	}
	return nil
}

// applyBatch batch-builds or extends the index from rows, the path the
// unified flush callback drives once a table's flushed batch reaches
// Config.BatchIndexThreshold, and the path CreateXIndex uses to backfill an index
// created against an already-populated table.
func (ri *registeredIndex) applyBatch(rows []index.FlushRow) error {
	switch ri.record.Kind {
	case index.KindColumn:
		ri.column.BatchInsert(rows)
	case index.KindTimestamp:
		ri.timestamp.BatchInsert(rows)
	case index.KindVector:
		return ri.vector.BatchInsert(rows)
	case index.KindSpatial:
		return ri.spatial.BatchInsert(rows)
	case index.KindText:
		ri.text.BatchInsert(rows)
	}
	return nil
}

// remove drops id from whichever adapter this registeredIndex wraps. It is
// called for a committed delete (removeFromIndexes) and for a tombstone
// passed to applyOne; an update is applied through applyOne's Insert alone.
func (ri *registeredIndex) remove(id row.RowID) {
	switch ri.record.Kind {
	case index.KindColumn:
		ri.column.Remove(id)
	case index.KindTimestamp:
		ri.timestamp.Remove(id)
	case index.KindVector:
		ri.vector.Remove(id)
	case index.KindSpatial:
		ri.spatial.Remove(id)
	case index.KindText:
		ri.text.Remove(id)
	}
}

// save persists the wrapped adapter's data file to path.
func (ri *registeredIndex) save(path string) error {
	switch ri.record.Kind {
	case index.KindColumn:
		return ri.column.Save(path)
	case index.KindTimestamp:
		return ri.timestamp.Save(path)
	case index.KindVector:
		return ri.vector.Save(path)
	case index.KindSpatial:
		return ri.spatial.Save(path)
	case index.KindText:
		return ri.text.Save(path)
	}
	return nil
}

// load rebuilds the wrapped adapter's state from a file save previously
// wrote. A missing file (index created but never flushed) is not an error:
// the adapter simply starts empty and backfill/incremental updates populate
// it as writes land.
func (ri *registeredIndex) load(path string) error {
	switch ri.record.Kind {
	case index.KindColumn:
		return ri.column.Load(path)
	case index.KindTimestamp:
		return ri.timestamp.Load(path)
	case index.KindVector:
		return ri.vector.Load(path)
	case index.KindSpatial:
		return ri.spatial.Load(path)
	case index.KindText:
		return ri.text.Load(path)
	}
	return nil
}

// len reports how many rows the wrapped adapter currently indexes, backing
// the per-index counts Stats() reports.
func (ri *registeredIndex) len() int {
	switch ri.record.Kind {
	case index.KindColumn:
		return ri.column.Len()
	case index.KindTimestamp:
		return ri.timestamp.Len()
	case index.KindVector:
		return ri.vector.Len()
	case index.KindSpatial:
		return ri.spatial.Len()
	case index.KindText:
		return ri.text.Len()
	}
	return 0
}
