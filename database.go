package motedb

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/motedb/motedb/internal/index"
	"github.com/motedb/motedb/internal/lsm"
	"github.com/motedb/motedb/internal/memtable"
	"github.com/motedb/motedb/internal/merrors"
	"github.com/motedb/motedb/internal/mvcc"
	"github.com/motedb/motedb/internal/query"
	"github.com/motedb/motedb/internal/row"
	"github.com/motedb/motedb/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Database is MoteDB's facade: it wires the LSM engine, the MVCC
// coordinator, and every secondary index adapter together behind a single
// CRUD/query/transaction surface, the way the teacher's top-level engine
// type wires its B+Tree, WAL, and checkpoint manager together.
type Database struct {
	cfg    Config
	dir    string
	engine *lsm.Engine

	catalog      *catalog
	indexMeta    *indexCatalog
	clock        *mvcc.Clock
	versionStore *mvcc.VersionStore
	lockMgr      *mvcc.LockManager
	coordinator  *mvcc.Coordinator
	recovery     *mvcc.RecoveryManager

	registry *prometheus.Registry
	metrics  *dbMetrics

	mu      sync.RWMutex
	indexes map[string]*registeredIndex   // by index name
	byTable map[string][]*registeredIndex // by table name, for flush fan-out
}

type dbMetrics struct {
	rowsWritten  prometheus.Counter
	rowsDeleted  prometheus.Counter
	flushesTotal prometheus.Counter
	txnCommits   prometheus.Counter
	txnAborts    prometheus.Counter
}

func newMetrics(reg *prometheus.Registry) *dbMetrics {
	m := &dbMetrics{
		rowsWritten:  prometheus.NewCounter(prometheus.CounterOpts{Name: "motedb_rows_written_total"}),
		rowsDeleted:  prometheus.NewCounter(prometheus.CounterOpts{Name: "motedb_rows_deleted_total"}),
		flushesTotal: prometheus.NewCounter(prometheus.CounterOpts{Name: "motedb_flushes_total"}),
		txnCommits:   prometheus.NewCounter(prometheus.CounterOpts{Name: "motedb_txn_commits_total"}),
		txnAborts:    prometheus.NewCounter(prometheus.CounterOpts{Name: "motedb_txn_aborts_total"}),
	}
	reg.MustRegister(m.rowsWritten, m.rowsDeleted, m.flushesTotal, m.txnCommits, m.txnAborts)
	return m
}

// Create opens (or creates) a database rooted at dir using DefaultConfig,
// the zero-configuration entry point for the create/open lifecycle surface.
func Create(dir string) (*Database, error) {
	return Open(DefaultConfig(dir))
}

// CreateWithConfig is Create with an explicit, caller-supplied Config.
func CreateWithConfig(cfg Config) (*Database, error) {
	return Open(cfg)
}

// Open opens (or creates) a database rooted at cfg.Dir: its LSM engine, its
// table/index catalogs, and the MVCC layer rebuilt from the engine's single
// recovery scan of the WAL.
func Open(cfg Config) (*Database, error) {
	engine, err := lsm.Open(cfg.lsmConfig())
	if err != nil {
		return nil, err
	}

	cat, err := openCatalog(cfg.Dir)
	if err != nil {
		engine.Close()
		return nil, err
	}
	idxMeta, err := openIndexCatalog(cfg.Dir)
	if err != nil {
		engine.Close()
		return nil, err
	}

	clock := mvcc.NewClock()
	versionStore := mvcc.NewVersionStore()
	lockMgr := mvcc.NewLockManager()
	coordinator := mvcc.NewCoordinator(clock, lockMgr, versionStore, engine.LogTxnBegin, engine.LogTxnCommit)
	recovery := mvcc.NewRecoveryManager(versionStore, clock)

	if _, err := recovery.Recover(engine.RecoveredRecords()); err != nil {
		engine.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	db := &Database{
		cfg: cfg, dir: cfg.Dir, engine: engine,
		catalog: cat, indexMeta: idxMeta,
		clock: clock, versionStore: versionStore, lockMgr: lockMgr, coordinator: coordinator, recovery: recovery,
		registry: reg, metrics: newMetrics(reg),
		indexes: make(map[string]*registeredIndex),
		byTable: make(map[string][]*registeredIndex),
	}

	if err := db.loadIndexes(); err != nil {
		engine.Close()
		return nil, err
	}

	engine.RegisterFlushCallback(db.onFlush)

	log.Info().Str("dir", cfg.Dir).Int("tables", len(cat.tableNames())).Msg("motedb: opened")
	return db, nil
}

// Close flushes any pending memtables and closes the underlying engine.
func (db *Database) Close() error {
	return db.engine.Close()
}

// Flush forces every pending write to be rotated out of the active memtable
// and flushed, invoking the registered index callback synchronously before
// returning. Tests use this to make flush-triggered batch indexing
// deterministic instead of racing the background flush loop.
func (db *Database) Flush() error {
	return db.engine.Flush()
}

// CreateTable registers a new table under schema.
func (db *Database) CreateTable(name string, schema row.Schema) error {
	return db.catalog.createTable(name, schema)
}

// applyWrite writes r's bytes durably at commitTS, tagging the WAL record
// with txnID so recovery can gate its redo on that transaction's Commit
// record surviving.
func (db *Database) applyWrite(table string, id row.RowID, op mvcc.WriteOp, r row.Row, txnID, commitTS uint64) error {
	if op == mvcc.OpDelete {
		old, err := row.Encode(r)
		if err != nil {
			return err
		}
		if err := db.engine.Delete(table, uint64(id), old, txnID, commitTS); err != nil {
			return err
		}
		db.metrics.rowsDeleted.Inc()
		db.removeFromIndexes(table, id)
		return nil
	}

	data, err := row.Encode(r)
	if err != nil {
		return err
	}
	if err := db.engine.Put(table, uint64(id), data, txnID, commitTS); err != nil {
		return err
	}
	db.metrics.rowsWritten.Inc()
	db.updateIndexesIncremental(table, id, r, commitTS)
	return nil
}

// InsertRow validates r against table's schema, allocates a row id, and
// commits it as a single autocommit transaction.
func (db *Database) InsertRow(table string, r row.Row) (row.RowID, error) {
	te, ok := db.catalog.get(table)
	if !ok {
		return 0, merrors.InvalidDataErr("motedb.insert_row", fmt.Sprintf("table %q does not exist", table), nil)
	}
	if err := row.Validate(te.Schema, r); err != nil {
		return 0, err
	}
	id, err := db.catalog.nextRowID(table)
	if err != nil {
		return 0, err
	}

	txn := db.coordinator.Begin(mvcc.SnapshotIsolation)
	txn.Insert(table, id, r)
	if _, err := db.coordinator.Commit(txn, db.applyWrite); err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateRow validates newRow and commits it as a single autocommit
// transaction, replacing the current visible version of id.
func (db *Database) UpdateRow(table string, id row.RowID, newRow row.Row) error {
	te, ok := db.catalog.get(table)
	if !ok {
		return merrors.InvalidDataErr("motedb.update_row", fmt.Sprintf("table %q does not exist", table), nil)
	}
	if err := row.Validate(te.Schema, newRow); err != nil {
		return err
	}

	txn := db.coordinator.Begin(mvcc.SnapshotIsolation)
	txn.Update(table, id, newRow)
	_, err := db.coordinator.Commit(txn, db.applyWrite)
	return err
}

// DeleteRow commits a tombstone for id as a single autocommit transaction.
// oldRow is the row being removed, needed for WAL logging and index
// removal.
func (db *Database) DeleteRow(table string, id row.RowID, oldRow row.Row) error {
	txn := db.coordinator.Begin(mvcc.SnapshotIsolation)
	txn.Delete(table, id, oldRow)
	_, err := db.coordinator.Commit(txn, db.applyWrite)
	return err
}

// GetRow returns the current visible version of id in table, outside any
// explicit transaction (a fresh snapshot taken at call time).
func (db *Database) GetRow(table string, id row.RowID) (row.Row, bool) {
	snap := mvcc.Snapshot{Timestamp: db.clock.Current(), ActiveTxns: map[uint64]bool{}}
	return db.versionStore.GetVisibleVersion(id, snap)
}

// RowResult pairs a row id with its decoded row, the scan_table_rows
// surface's return shape.
type RowResult struct {
	RowID row.RowID
	Row   row.Row
}

// ScanTableRows returns every live row in table, decoded, in row_id order.
// Composite keys sort table_hash first then row_id, so one table's prefix
// range already comes back row_id-ascending without a separate sort step.
func (db *Database) ScanTableRows(table string) ([]RowResult, error) {
	if _, ok := db.catalog.get(table); !ok {
		return nil, merrors.InvalidDataErr("motedb.scan_table_rows", fmt.Sprintf("table %q does not exist", table), nil)
	}
	entries, err := db.engine.ScanPrefix(table)
	if err != nil {
		return nil, err
	}
	out := make([]RowResult, 0, len(entries))
	for _, ent := range entries {
		r, err := row.Decode(ent.Value.Inline)
		if err != nil {
			log.Warn().Err(err).Msg("motedb: skipping undecodable row during scan")
			continue
		}
		out = append(out, RowResult{RowID: ent.Key.RowIDOf(), Row: r})
	}
	return out, nil
}

// BatchInsert inserts every row in rows as independent autocommit
// transactions sharing no snapshot, returning the allocated row ids in
// order. Intended for bulk loads ahead of an index build, where per-row
// transactional isolation doesn't matter.
func (db *Database) BatchInsert(table string, rows []row.Row) ([]row.RowID, error) {
	ids := make([]row.RowID, 0, len(rows))
	for _, r := range rows {
		id, err := db.InsertRow(table, r)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// BatchInsertWithVectors is BatchInsert for tables carrying a vector
// column, named separately so callers driving a vector-index bulk load
// read clearly at the call site even though the underlying path is
// identical: the vector facet lives inside the row itself.
func (db *Database) BatchInsertWithVectors(table string, rows []row.Row) ([]row.RowID, error) {
	return db.BatchInsert(table, rows)
}

// --- index administration ---

func (db *Database) indexDataPath(name string) string {
	return filepath.Join(db.dir, indexRecord{Name: name}.fileName())
}

// CreateColumnIndex builds (and registers) an ordered index over table's
// named column from every row currently visible in the engine.
func (db *Database) CreateColumnIndex(name, table, column string) error {
	te, ok := db.catalog.get(table)
	if !ok {
		return merrors.InvalidDataErr("motedb.create_column_index", fmt.Sprintf("table %q does not exist", table), nil)
	}
	colIdx := te.Schema.IndexOf(column)
	if err := index.ValidateColumnIdx(te.Schema, colIdx); err != nil {
		return err
	}
	ci := index.NewColumnIndex(name, table, colIdx)
	ri := &registeredIndex{record: indexRecord{Name: name, Table: table, ColumnIdx: colIdx, Kind: index.KindColumn}, column: ci}
	if err := db.backfill(ri); err != nil {
		return err
	}
	return db.registerIndex(ri)
}

// CreateTimestampIndex builds the global ordered timestamp index for
// table's named column.
func (db *Database) CreateTimestampIndex(name, table, column string) error {
	te, ok := db.catalog.get(table)
	if !ok {
		return merrors.InvalidDataErr("motedb.create_timestamp_index", fmt.Sprintf("table %q does not exist", table), nil)
	}
	colIdx := te.Schema.IndexOf(column)
	if err := index.ValidateColumnIdx(te.Schema, colIdx); err != nil {
		return err
	}
	ti := index.NewTimestampIndex(table, colIdx)
	ri := &registeredIndex{record: indexRecord{Name: name, Table: table, ColumnIdx: colIdx, Kind: index.KindTimestamp}, timestamp: ti}
	if err := db.backfill(ri); err != nil {
		return err
	}
	return db.registerIndex(ri)
}

// CreateVectorIndex builds a brute-force KNN index over table's named
// fixed-dimension vector column.
func (db *Database) CreateVectorIndex(name, table, column string, dim int) error {
	te, ok := db.catalog.get(table)
	if !ok {
		return merrors.InvalidDataErr("motedb.create_vector_index", fmt.Sprintf("table %q does not exist", table), nil)
	}
	colIdx := te.Schema.IndexOf(column)
	if err := index.ValidateColumnIdx(te.Schema, colIdx); err != nil {
		return err
	}
	vi := index.NewVectorIndex(name, table, colIdx, dim)
	ri := &registeredIndex{record: indexRecord{Name: name, Table: table, ColumnIdx: colIdx, Kind: index.KindVector, Dim: dim}, vector: vi}
	if err := db.backfill(ri); err != nil {
		return err
	}
	return db.registerIndex(ri)
}

// CreateSpatialIndex builds a uniform-grid bounding-box index over table's
// named point column.
func (db *Database) CreateSpatialIndex(name, table, column string) error {
	te, ok := db.catalog.get(table)
	if !ok {
		return merrors.InvalidDataErr("motedb.create_spatial_index", fmt.Sprintf("table %q does not exist", table), nil)
	}
	colIdx := te.Schema.IndexOf(column)
	if err := index.ValidateColumnIdx(te.Schema, colIdx); err != nil {
		return err
	}
	si := index.NewSpatialIndex(name, table, colIdx)
	ri := &registeredIndex{record: indexRecord{Name: name, Table: table, ColumnIdx: colIdx, Kind: index.KindSpatial}, spatial: si}
	if err := db.backfill(ri); err != nil {
		return err
	}
	return db.registerIndex(ri)
}

// CreateTextIndex builds a BM25 inverted index over table's named text
// column.
func (db *Database) CreateTextIndex(name, table, column string) error {
	te, ok := db.catalog.get(table)
	if !ok {
		return merrors.InvalidDataErr("motedb.create_text_index", fmt.Sprintf("table %q does not exist", table), nil)
	}
	colIdx := te.Schema.IndexOf(column)
	if err := index.ValidateColumnIdx(te.Schema, colIdx); err != nil {
		return err
	}
	ti := index.NewTextIndex(name, table, colIdx)
	ri := &registeredIndex{record: indexRecord{Name: name, Table: table, ColumnIdx: colIdx, Kind: index.KindText}, text: ti}
	if err := db.backfill(ri); err != nil {
		return err
	}
	return db.registerIndex(ri)
}

// backfill indexes every row currently visible for ri's table, used when an
// index is created against a table that already has data.
func (db *Database) backfill(ri *registeredIndex) error {
	te, ok := db.catalog.get(ri.record.Table)
	if !ok {
		return merrors.InvalidDataErr("motedb.backfill", fmt.Sprintf("table %q does not exist", ri.record.Table), nil)
	}
	entries, err := db.engine.ScanPrefix(ri.record.Table)
	if err != nil {
		return err
	}
	rows := make([]index.FlushRow, 0, len(entries))
	for _, ent := range entries {
		r, err := row.Decode(ent.Value.Inline)
		if err != nil {
			log.Warn().Err(err).Msg("motedb: skipping undecodable row during backfill")
			continue
		}
		rows = append(rows, index.FlushRow{RowID: ent.Key.RowIDOf(), Row: r, Timestamp: ent.Value.Timestamp})
	}
	_ = te
	return ri.applyBatch(rows)
}

func (db *Database) registerIndex(ri *registeredIndex) error {
	if err := db.indexMeta.register(ri.record); err != nil {
		return err
	}
	if err := ri.save(db.indexDataPath(ri.record.Name)); err != nil {
		return err
	}
	db.mu.Lock()
	db.indexes[ri.record.Name] = ri
	db.byTable[ri.record.Table] = append(db.byTable[ri.record.Table], ri)
	db.mu.Unlock()
	return nil
}

// DropIndex removes a previously created index, both its in-memory state
// and its metadata/data files' registration.
func (db *Database) DropIndex(name string) error {
	db.mu.Lock()
	ri, ok := db.indexes[name]
	if !ok {
		db.mu.Unlock()
		return merrors.InvalidDataErr("motedb.drop_index", fmt.Sprintf("index %q does not exist", name), nil)
	}
	delete(db.indexes, name)
	list := db.byTable[ri.record.Table]
	for i, x := range list {
		if x == ri {
			db.byTable[ri.record.Table] = append(list[:i], list[i+1:]...)
			break
		}
	}
	db.mu.Unlock()
	return db.indexMeta.unregister(name)
}

func (db *Database) loadIndexes() error {
	for _, rec := range db.indexMeta.all() {
		ri := &registeredIndex{record: rec}
		switch rec.Kind {
		case index.KindColumn:
			ri.column = index.NewColumnIndex(rec.Name, rec.Table, rec.ColumnIdx)
		case index.KindTimestamp:
			ri.timestamp = index.NewTimestampIndex(rec.Table, rec.ColumnIdx)
		case index.KindVector:
			ri.vector = index.NewVectorIndex(rec.Name, rec.Table, rec.ColumnIdx, rec.Dim)
		case index.KindSpatial:
			ri.spatial = index.NewSpatialIndex(rec.Name, rec.Table, rec.ColumnIdx)
		case index.KindText:
			ri.text = index.NewTextIndex(rec.Name, rec.Table, rec.ColumnIdx)
		}
		if err := ri.load(db.indexDataPath(rec.Name)); err != nil {
			return err
		}
		db.indexes[rec.Name] = ri
		db.byTable[rec.Table] = append(db.byTable[rec.Table], ri)
	}
	return nil
}

// updateIndexesIncremental applies one committed row to every index
// covering table, the per-write path that keeps indexes converged between
// flushes (the flush callback's batch path re-observes the same data
// idempotently once a table's flushed batch reaches
// Config.BatchIndexThreshold).
func (db *Database) updateIndexesIncremental(table string, id row.RowID, r row.Row, ts uint64) {
	db.mu.RLock()
	list := append([]*registeredIndex(nil), db.byTable[table]...)
	db.mu.RUnlock()
	for _, ri := range list {
		if err := ri.applyOne(index.FlushRow{RowID: id, Row: r, Timestamp: ts}); err != nil {
			log.Warn().Err(err).Str("index", ri.record.Name).Msg("motedb: incremental index update failed")
		}
	}
}

func (db *Database) removeFromIndexes(table string, id row.RowID) {
	db.mu.RLock()
	list := append([]*registeredIndex(nil), db.byTable[table]...)
	db.mu.RUnlock()
	for _, ri := range list {
		ri.remove(id)
	}
}

// onFlush is the unified flush callback the LSM engine invokes with every
// flushed memtable's frozen, blob-resolved entries. A table's flushed batch
// that meets Config.BatchIndexThreshold uses each covering index's batch-build
// path; smaller batches are skipped here since the already-applied
// incremental updates cover them (re-running BatchInsert on a frozen
// memtable view would just redo idempotent work, but skipping it keeps a
// small flush cheap).
func (db *Database) onFlush(entries []memtable.Entry) error {
	db.metrics.flushesTotal.Inc()

	byTable := make(map[uint32][]memtable.Entry)
	for _, ent := range entries {
		hash := ent.Key.TableHashOf()
		byTable[hash] = append(byTable[hash], ent)
	}

	for hash, tableEntries := range byTable {
		if len(tableEntries) < db.cfg.BatchIndexThreshold {
			continue
		}
		name, ok := db.catalog.nameForHash(hash)
		if !ok {
			continue
		}
		db.mu.RLock()
		list := append([]*registeredIndex(nil), db.byTable[name]...)
		db.mu.RUnlock()
		if len(list) == 0 {
			continue
		}

		rows := make([]index.FlushRow, 0, len(tableEntries))
		for _, ent := range tableEntries {
			fr := index.FlushRow{RowID: ent.Key.RowIDOf(), Timestamp: ent.Value.Timestamp, Deleted: ent.Value.Deleted}
			if !ent.Value.Deleted {
				r, err := row.Decode(ent.Value.Inline)
				if err != nil {
					log.Warn().Err(err).Msg("motedb: skipping undecodable row in flush callback")
					continue
				}
				fr.Row = r
			}
			rows = append(rows, fr)
		}
		for _, ri := range list {
			if err := ri.applyBatch(rows); err != nil {
				return err
			}
			if err := ri.save(db.indexDataPath(ri.record.Name)); err != nil {
				return err
			}
		}
	}
	return nil
}

// --- queries ---

// QueryByColumn returns every row id in table's named indexed column
// equal to value.
func (db *Database) QueryByColumn(indexName string, value types.Comparable) ([]row.RowID, error) {
	ri, err := db.mustColumnIndex(indexName)
	if err != nil {
		return nil, err
	}
	return ri.column.Query(query.Equal(value)), nil
}

// QueryByColumnRange returns every row id in table's named indexed column
// whose value satisfies cond (use query.Between/GreaterThan/etc.).
func (db *Database) QueryByColumnRange(indexName string, cond *query.ScanCondition) ([]row.RowID, error) {
	ri, err := db.mustColumnIndex(indexName)
	if err != nil {
		return nil, err
	}
	return ri.column.Query(cond), nil
}

// QueryTimestampRange returns every row id whose indexed timestamp column
// falls within [start, end].
func (db *Database) QueryTimestampRange(indexName string, startUnixMicro, endUnixMicro time.Time) ([]row.RowID, error) {
	db.mu.RLock()
	ri, ok := db.indexes[indexName]
	db.mu.RUnlock()
	if !ok || ri.timestamp == nil {
		return nil, merrors.IndexErr("motedb.query_timestamp_range", fmt.Sprintf("%q is not a timestamp index", indexName), nil)
	}
	return ri.timestamp.QueryRange(startUnixMicro, endUnixMicro), nil
}

// VectorSearch returns the k nearest row ids to queryVec under indexName.
func (db *Database) VectorSearch(indexName string, queryVec []float32, k int) ([]index.VectorHit, error) {
	db.mu.RLock()
	ri, ok := db.indexes[indexName]
	db.mu.RUnlock()
	if !ok || ri.vector == nil {
		return nil, merrors.IndexErr("motedb.vector_search", fmt.Sprintf("%q is not a vector index", indexName), nil)
	}
	return ri.vector.Search(queryVec, k), nil
}

// SpatialSearch returns every row id within bb under indexName.
func (db *Database) SpatialSearch(indexName string, bb index.BoundingBox) ([]row.RowID, error) {
	db.mu.RLock()
	ri, ok := db.indexes[indexName]
	db.mu.RUnlock()
	if !ok || ri.spatial == nil {
		return nil, merrors.IndexErr("motedb.spatial_search", fmt.Sprintf("%q is not a spatial index", indexName), nil)
	}
	return ri.spatial.Search(bb), nil
}

// TextSearchRanked returns the top k row ids ranked by BM25 relevance to
// queryText under indexName.
func (db *Database) TextSearchRanked(indexName, queryText string, k int) ([]index.TextHit, error) {
	db.mu.RLock()
	ri, ok := db.indexes[indexName]
	db.mu.RUnlock()
	if !ok || ri.text == nil {
		return nil, merrors.IndexErr("motedb.text_search", fmt.Sprintf("%q is not a text index", indexName), nil)
	}
	return ri.text.Search(queryText, k), nil
}

func (db *Database) mustColumnIndex(name string) (*registeredIndex, error) {
	db.mu.RLock()
	ri, ok := db.indexes[name]
	db.mu.RUnlock()
	if !ok || ri.column == nil {
		return nil, merrors.IndexErr("motedb.query_by_column", fmt.Sprintf("%q is not a column index", name), nil)
	}
	return ri, nil
}
