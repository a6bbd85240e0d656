package motedb

import (
	"github.com/motedb/motedb/internal/lsm"
	"github.com/motedb/motedb/internal/merrors"
)

// DatabaseStats summarizes a database's storage and index state, the value
// Stats() returns: table/index counts plus the LSM engine's own flush and
// compaction counters (see lsm.Stats).
type DatabaseStats struct {
	Tables int
	Indexes int
	LSM    lsm.Stats
}

// TransactionStats summarizes MVCC activity: how many transactions are
// currently active and the oldest start timestamp among them, the watermark
// vacuum uses when reclaiming version-chain nodes.
type TransactionStats struct {
	ActiveTransactions int
	MinActiveStartTS   uint64
}

// VectorIndexStatsResult reports a vector index's shape: how many rows it
// covers and the dimension every vector must match.
type VectorIndexStatsResult struct {
	Name      string
	Table     string
	Dimension int
	Count     int
}

// SpatialIndexStatsResult reports a spatial index's row count.
type SpatialIndexStatsResult struct {
	Name  string
	Table string
	Count int
}

// Stats returns a snapshot of table, index, and LSM engine activity.
func (db *Database) Stats() DatabaseStats {
	db.mu.RLock()
	indexCount := len(db.indexes)
	db.mu.RUnlock()
	return DatabaseStats{
		Tables:  len(db.catalog.tableNames()),
		Indexes: indexCount,
		LSM:     db.engine.Stats(),
	}
}

// TransactionStats returns a snapshot of MVCC coordinator activity.
func (db *Database) TransactionStats() TransactionStats {
	return TransactionStats{
		ActiveTransactions: db.coordinator.ActiveCount(),
		MinActiveStartTS:   db.coordinator.MinActiveStartTS(),
	}
}

// VectorIndexStats returns indexName's shape, failing if it is not a
// registered vector index.
func (db *Database) VectorIndexStats(indexName string) (VectorIndexStatsResult, error) {
	db.mu.RLock()
	ri, ok := db.indexes[indexName]
	db.mu.RUnlock()
	if !ok || ri.vector == nil {
		return VectorIndexStatsResult{}, merrors.IndexErr("motedb.vector_index_stats", indexName+" is not a vector index", nil)
	}
	return VectorIndexStatsResult{
		Name: ri.record.Name, Table: ri.record.Table,
		Dimension: ri.vector.Dim, Count: ri.vector.Len(),
	}, nil
}

// SpatialIndexStats returns indexName's row count, failing if it is not a
// registered spatial index.
func (db *Database) SpatialIndexStats(indexName string) (SpatialIndexStatsResult, error) {
	db.mu.RLock()
	ri, ok := db.indexes[indexName]
	db.mu.RUnlock()
	if !ok || ri.spatial == nil {
		return SpatialIndexStatsResult{}, merrors.IndexErr("motedb.spatial_index_stats", indexName+" is not a spatial index", nil)
	}
	return SpatialIndexStatsResult{
		Name: ri.record.Name, Table: ri.record.Table, Count: ri.spatial.Len(),
	}, nil
}
