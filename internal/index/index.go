// Package index implements MoteDB's secondary index adapters: column,
// timestamp, vector, spatial, and text. Each adapter exposes the same
// open/batch-insert/probe/flush/stats surface the database facade drives;
// the algorithms behind that surface are deliberately simple (ordered
// B-tree, linear-scan KNN, grid bucketing, an inverted index with BM25)
// since the core only specifies the interface these adapters present, not
// DiskANN/R-tree/BM25-internal implementations.
package index

import (
	"github.com/motedb/motedb/internal/row"
)

// BatchThreshold is a batch size, in rows, at or above which a flushed
// table's batch is worth an adapter's batch-build path. Nothing reads it:
// the database facade compares against its own Config.BatchIndexThreshold,
// which defaults to the same 500.
const BatchThreshold = 500

// FlushRow is one decoded row handed to an index adapter during a flush
// callback batch build or an incremental CRUD update.
type FlushRow struct {
	RowID     row.RowID
	Row       row.Row
	Timestamp uint64
	Deleted   bool
}

// ColumnIndexKind discriminates the shape of an index request so the
// database facade's CreateXIndex methods can share one metadata record
// type (see motedb/index_metadata.go).
type ColumnIndexKind uint8

const (
	KindColumn ColumnIndexKind = iota
	KindTimestamp
	KindVector
	KindSpatial
	KindText
)
