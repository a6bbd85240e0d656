// Package lsm implements the LSMEngine: the active memtable plus bounded
// immutable queue, leveled SSTables, blob store, and the background flush
// and compaction threads that keep them in shape. It is the storage layer
// the database facade drives; it knows nothing about rows, columns, or
// SQL, only composite keys and byte values.
package lsm

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/motedb/motedb/internal/blobstore"
	"github.com/motedb/motedb/internal/compaction"
	"github.com/motedb/motedb/internal/fileref"
	"github.com/motedb/motedb/internal/manifest"
	"github.com/motedb/motedb/internal/memtable"
	"github.com/motedb/motedb/internal/merrors"
	"github.com/motedb/motedb/internal/row"
	"github.com/motedb/motedb/internal/sstable"
	"github.com/motedb/motedb/internal/wal"
	"github.com/rs/zerolog/log"
)

// blobThreshold is the inline-value size above which Put stores the payload
// in the blob store instead of inside the SSTable's data blocks, keeping
// block reads cheap for the common small-row case.
const blobThreshold = 4096

// immutableQueueLimit is how many rotated memtables may wait for a
// background flush before Put starts blocking new writers.
const immutableQueueLimit = 4

// backpressurePoll and backpressureTimeout bound how long Put waits for the
// flush thread to drain the immutable queue before giving up.
const backpressurePoll = 10 * time.Millisecond
const backpressureTimeout = 100 * time.Second

// FlushCallback is invoked with a frozen view of a memtable's entries after
// it has been rotated out of the write path but before its SSTable is
// published to the manifest. The database facade registers one callback that
// serves every secondary index, so each index observes exactly the same frozen data the
// SSTable itself was built from — the "unified flush callback" that lets
// column, timestamp, vector, and spatial indexes all batch-build off one
// pass instead of four independent triggers.
type FlushCallback func(entries []memtable.Entry) error

// Config configures one LSMEngine.
type Config struct {
	Dir               string
	MemtableSizeLimit int64
	VectorDim         int
	WAL               wal.Options
	Compaction        compaction.Options
	BlobSegmentSize   int64
}

// DefaultConfig returns sensible defaults rooted at dir.
func DefaultConfig(dir string) Config {
	walOpts := wal.DefaultOptions()
	walOpts.DirPath = filepath.Join(dir, "wal")

	return Config{
		Dir:               dir,
		MemtableSizeLimit: 16 * 1024 * 1024,
		WAL:               walOpts,
		Compaction:        compaction.DefaultOptions(filepath.Join(dir, "sstables")),
		BlobSegmentSize:   64 * 1024 * 1024,
	}
}

// Engine is the LSM storage engine.
type Engine struct {
	cfg Config

	wal      *wal.Manager
	manifest *manifest.Manifest
	blobs    *blobstore.Store
	fileRefs *fileref.Manager

	mu         sync.RWMutex
	active     *memtable.Table
	immutable  []*memtable.Table
	readerCache map[uint64]*sstable.Reader

	recoveredRecords map[uint32][]*wal.Record

	flushCh chan struct{}

	callbacksMu sync.Mutex
	callbacks   []FlushCallback

	statsMu         sync.Mutex
	flushCount      int64
	compactionCount int64
	bytesRead       int64
	bytesWritten    int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Stats summarizes engine-wide activity for the database facade's Stats()
// surface: how many flushes and compactions have run, the current level
// layout, and the running write-amplification ratio those compactions have
// produced.
type Stats struct {
	FlushCount        int64
	CompactionCount   int64
	BytesRead         int64
	BytesWritten      int64
	WriteAmplification float64
	ActiveMemtableSize int64
	ImmutableQueueLen  int
	LevelFileCounts    map[int]int
	LevelSizeBytes     map[int]int64
}

// Stats returns a snapshot of the engine's counters and current level
// layout. It never blocks on I/O: level metadata comes from the manifest's
// in-memory snapshot.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	flushes, compactions, read, written := e.flushCount, e.compactionCount, e.bytesRead, e.bytesWritten
	e.statsMu.Unlock()

	e.mu.RLock()
	activeSize := e.active.SizeBytes()
	immutableLen := len(e.immutable)
	e.mu.RUnlock()

	snap := e.manifest.Snapshot()
	counts := make(map[int]int, len(snap.Levels))
	sizes := make(map[int]int64, len(snap.Levels))
	for level, files := range snap.Levels {
		counts[level] = len(files)
		for _, f := range files {
			sizes[level] += f.SizeBytes
		}
	}

	s := Stats{
		FlushCount: flushes, CompactionCount: compactions,
		BytesRead: read, BytesWritten: written,
		ActiveMemtableSize: activeSize, ImmutableQueueLen: immutableLen,
		LevelFileCounts: counts, LevelSizeBytes: sizes,
	}
	if read > 0 {
		s.WriteAmplification = float64(written) / float64(read)
	}
	return s
}

// Open opens (or creates) an LSM engine rooted at cfg.Dir, replaying its WAL
// against a fresh active memtable and starting the background flush and
// compaction threads.
func Open(cfg Config) (*Engine, error) {
	if cfg.MemtableSizeLimit <= 0 {
		cfg = DefaultConfig(cfg.Dir)
	}

	m, err := manifest.Open(filepath.Join(cfg.Dir, "manifest"))
	if err != nil {
		return nil, err
	}

	blobs, err := blobstore.Open(filepath.Join(cfg.Dir, "blobs"), cfg.BlobSegmentSize)
	if err != nil {
		return nil, err
	}

	walMgr, err := wal.NewManager(cfg.WAL)
	if err != nil {
		blobs.Close()
		return nil, err
	}

	e := &Engine{
		cfg:         cfg,
		wal:         walMgr,
		manifest:    m,
		blobs:       blobs,
		fileRefs:    fileref.NewManager(),
		readerCache: make(map[uint64]*sstable.Reader),
		flushCh:     make(chan struct{}, 1),
	}
	e.active = memtable.New(memtable.Config{SizeLimit: cfg.MemtableSizeLimit, VectorDim: cfg.VectorDim})
	e.ctx, e.cancel = context.WithCancel(context.Background())

	if err := e.recover(); err != nil {
		return nil, err
	}

	e.wg.Add(2)
	go e.flushLoop()
	go e.compactionLoop()

	return e, nil
}

// recover replays every WAL record not yet reflected in the manifest's
// last-flushed LSN back into the active memtable, and retains the full scan
// so a caller rebuilding higher-level state (the MVCC version store) can
// reuse it via RecoveredRecords instead of re-reading the WAL a second time.
func (e *Engine) recover() error {
	records, err := e.wal.Recover()
	if err != nil {
		return err
	}
	e.recoveredRecords = records

	lastLSN := e.manifest.Snapshot().LastLSN
	for _, partition := range records {
		for _, rec := range partition {
			if rec.LSN <= lastLSN {
				continue
			}
			switch rec.Kind {
			case wal.RecordInsert, wal.RecordUpdate:
				key := row.MakeCompositeKey(row.TableHash(rec.Table), row.RowID(rec.RowID))
				e.active.Put(key, memtable.Value{Inline: rec.Data, Timestamp: rec.CommitTS})
			case wal.RecordDelete:
				key := row.MakeCompositeKey(row.TableHash(rec.Table), row.RowID(rec.RowID))
				e.active.Put(key, memtable.Value{Deleted: true, Timestamp: rec.CommitTS})
			}
		}
	}
	return nil
}

// RecoveredRecords returns the exact WAL partitions this engine's Open scan
// produced, so the database facade can rebuild MVCC version chains from the
// same single read of the WAL instead of invoking wal.Manager.Recover again.
func (e *Engine) RecoveredRecords() map[uint32][]*wal.Record {
	return e.recoveredRecords
}

// ScanMemtablesOnly returns every live entry for tableHash held in the
// active and immutable memtables, skipping SSTables entirely: the newest
// version per key, in ascending key order.
func (e *Engine) ScanMemtablesOnly(tableHash uint32) []memtable.Entry {
	start, end := row.TablePrefixRange(tableHash)

	e.mu.RLock()
	active := e.active
	immutable := append([]*memtable.Table(nil), e.immutable...)
	e.mu.RUnlock()

	merged := make(map[row.CompositeKey]candidate)
	merge := func(k row.CompositeKey, ts uint64, v memtable.Value) {
		c := merged[k]
		merged[k] = newer(c, candidate{ts: ts, value: v, present: true})
	}
	for _, ent := range active.ScanRange(start, end) {
		merge(ent.Key, ent.Value.Timestamp, ent.Value)
	}
	for _, t := range immutable {
		for _, ent := range t.ScanRange(start, end) {
			merge(ent.Key, ent.Value.Timestamp, ent.Value)
		}
	}

	out := make([]memtable.Entry, 0, len(merged))
	for k, c := range merged {
		if c.value.Deleted {
			continue
		}
		out = append(out, memtable.Entry{Key: k, Value: c.value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// LogTxnBegin appends a transaction Begin record to every WAL partition, so
// recovery can classify the transaction even if its eventual writes land in
// other partitions.
func (e *Engine) LogTxnBegin(txnID uint64, isolation uint8) error {
	for p := uint32(0); p < e.cfg.WAL.Partitions; p++ {
		if _, err := e.wal.LogBegin(p, txnID, isolation); err != nil {
			return err
		}
	}
	return nil
}

// LogTxnCommit appends a transaction Commit record (carrying commitTS) to
// every WAL partition.
func (e *Engine) LogTxnCommit(txnID, commitTS uint64) error {
	for p := uint32(0); p < e.cfg.WAL.Partitions; p++ {
		if _, err := e.wal.LogCommit(p, txnID, commitTS); err != nil {
			return err
		}
	}
	return nil
}

// LogTxnRollback appends a transaction Rollback record to every WAL
// partition.
func (e *Engine) LogTxnRollback(txnID uint64) error {
	for p := uint32(0); p < e.cfg.WAL.Partitions; p++ {
		if _, err := e.wal.LogRollback(p, txnID); err != nil {
			return err
		}
	}
	return nil
}

// RegisterFlushCallback adds cb to the set invoked on every memtable flush.
func (e *Engine) RegisterFlushCallback(cb FlushCallback) {
	e.callbacksMu.Lock()
	defer e.callbacksMu.Unlock()
	e.callbacks = append(e.callbacks, cb)
}

func (e *Engine) partitionFor(key row.CompositeKey) uint32 {
	return wal.PartitionFor(uint64(key), e.cfg.WAL.Partitions)
}

// Put durably logs and applies a write for key. timestamp should be a
// commit timestamp from the MVCC layer so reads merge correctly across
// memtable generations and SSTables. txnID tags the WAL record with its
// owning transaction (0 for an autocommit write) so recovery's Analysis
// phase can gate this record's redo on that transaction's own Commit
// record surviving.
func (e *Engine) Put(table string, rowID uint64, data []byte, txnID, timestamp uint64) error {
	key := row.MakeCompositeKey(row.TableHash(table), row.RowID(rowID))
	if _, err := e.wal.LogInsert(e.partitionFor(key), txnID, table, rowID, data); err != nil {
		return err
	}

	val := memtable.Value{Timestamp: timestamp}
	if len(data) > blobThreshold {
		ref, err := e.blobs.Put(data)
		if err != nil {
			return err
		}
		val.Blob = &ref
	} else {
		val.Inline = data
	}

	return e.applyAndMaybeRotate(key, val)
}

// Delete logs and applies a tombstone for key. txnID tags the WAL record
// the same way Put's does.
func (e *Engine) Delete(table string, rowID uint64, oldData []byte, txnID, timestamp uint64) error {
	key := row.MakeCompositeKey(row.TableHash(table), row.RowID(rowID))
	if _, err := e.wal.LogDelete(e.partitionFor(key), txnID, table, rowID, oldData); err != nil {
		return err
	}
	return e.applyAndMaybeRotate(key, memtable.Value{Deleted: true, Timestamp: timestamp})
}

func (e *Engine) applyAndMaybeRotate(key row.CompositeKey, val memtable.Value) error {
	e.mu.RLock()
	active := e.active
	e.mu.RUnlock()

	active.Put(key, val)

	if active.ShouldFlush() {
		return e.rotate(active)
	}
	return nil
}

// rotate moves table (expected to be the current active memtable) into the
// immutable queue and installs a fresh active memtable, blocking with
// backpressure if the queue is already full.
func (e *Engine) rotate(table *memtable.Table) error {
	e.mu.Lock()
	if e.active != table {
		e.mu.Unlock()
		return nil // another writer already rotated this memtable
	}
	deadline := time.Now().Add(backpressureTimeout)
	for len(e.immutable) >= immutableQueueLimit {
		if time.Now().After(deadline) {
			e.mu.Unlock()
			return merrors.TransactionErr("lsm.rotate", "immutable queue backpressure timed out", nil)
		}
		e.mu.Unlock()
		<-time.After(backpressurePoll)
		e.mu.Lock()
	}

	e.immutable = append(e.immutable, table)
	e.active = memtable.New(table.Config())
	e.mu.Unlock()

	select {
	case e.flushCh <- struct{}{}:
	default:
	}
	return nil
}

func (e *Engine) flushLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.flushCh:
			if err := e.drainImmutable(); err != nil {
				log.Error().Err(err).Msg("memtable flush failed")
			}
		case <-ticker.C:
			if err := e.drainImmutable(); err != nil {
				log.Error().Err(err).Msg("memtable flush failed")
			}
		}
	}
}

func (e *Engine) drainImmutable() error {
	for {
		e.mu.Lock()
		if len(e.immutable) == 0 {
			e.mu.Unlock()
			return nil
		}
		table := e.immutable[0]
		e.mu.Unlock()

		if err := e.flush(table); err != nil {
			return err
		}

		e.mu.Lock()
		e.immutable = e.immutable[1:]
		e.mu.Unlock()
	}
}

// flush builds an SSTable from table's frozen contents, invoking every
// registered flush callback on the same entry view before the table is
// published to the manifest.
func (e *Engine) flush(table *memtable.Table) error {
	entries := table.ScanAll()

	e.callbacksMu.Lock()
	callbacks := append([]FlushCallback(nil), e.callbacks...)
	e.callbacksMu.Unlock()
	if len(callbacks) > 0 {
		// Callbacks operate on decoded row bytes; resolve any blob-stored
		// values here so index builders never have to know about the
		// inline/blob split the memtable itself carries.
		resolved, err := e.resolveBlobsForCallback(entries)
		if err != nil {
			return err
		}
		for _, cb := range callbacks {
			if err := cb(resolved); err != nil {
				return err
			}
		}
	}

	if len(entries) == 0 {
		return nil
	}

	id, err := e.manifest.NextFileID()
	if err != nil {
		return err
	}
	path := filepath.Join(e.cfg.Compaction.Dir, fmt.Sprintf("%06d.sst", id))
	builder, err := sstable.NewBuilder(path, sstable.DefaultBuilderOptions())
	if err != nil {
		return err
	}

	for _, ent := range entries {
		se := sstable.Entry{Key: uint64(ent.Key), Timestamp: ent.Value.Timestamp, Deleted: ent.Value.Deleted}
		if ent.Value.Blob != nil {
			se.Kind = sstable.ValueBlob
			se.FileID = ent.Value.Blob.FileID
			se.Offset = uint64(ent.Value.Blob.Offset)
			se.Size = ent.Value.Blob.Size
		} else {
			se.Kind = sstable.ValueInline
			se.Inline = ent.Value.Inline
		}
		if err := builder.Add(se); err != nil {
			builder.Abort()
			return err
		}
	}

	meta, err := builder.Finish()
	if err != nil {
		return err
	}

	e.statsMu.Lock()
	e.flushCount++
	e.bytesWritten += meta.SizeBytes
	e.statsMu.Unlock()

	lastLSN := e.wal.LastLSN()
	return e.manifest.Apply([]manifest.SSTableMeta{{
		ID: id, Level: 0, Path: meta.Path,
		MinKey: meta.MinKey, MaxKey: meta.MaxKey,
		MinTimestamp: int64(meta.MinTimestamp), MaxTimestamp: int64(meta.MaxTimestamp),
		SizeBytes: meta.SizeBytes,
	}}, nil, lastLSN)
}

// candidate is one version of a key found somewhere in the engine, used to
// pick the newest across memtable generations and SSTable levels.
type candidate struct {
	ts      uint64
	value   memtable.Value
	present bool
}

func newer(a, b candidate) candidate {
	if !a.present {
		return b
	}
	if !b.present {
		return a
	}
	if a.ts >= b.ts {
		return a
	}
	return b
}

// Get returns the current value for (table, rowID), or found=false if it
// does not exist or has been deleted.
func (e *Engine) Get(table string, rowID uint64) (memtable.Value, bool, error) {
	key := row.MakeCompositeKey(row.TableHash(table), row.RowID(rowID))

	e.mu.RLock()
	active := e.active
	immutable := append([]*memtable.Table(nil), e.immutable...)
	e.mu.RUnlock()

	best := candidate{}
	if v, ok := active.Get(key); ok {
		best = newer(best, candidate{ts: v.Timestamp, value: v, present: true})
	}
	for _, t := range immutable {
		if v, ok := t.Get(key); ok {
			best = newer(best, candidate{ts: v.Timestamp, value: v, present: true})
		}
	}

	snap := e.manifest.Snapshot()
	levels := make([]int, 0, len(snap.Levels))
	for l := range snap.Levels {
		levels = append(levels, l)
	}
	sort.Ints(levels)

	for _, level := range levels {
		for _, meta := range snap.Levels[level] {
			if uint64(key) < meta.MinKey || uint64(key) > meta.MaxKey {
				continue
			}
			r, err := e.readerFor(meta)
			if err != nil {
				return memtable.Value{}, false, err
			}
			se, ok, err := r.Get(uint64(key))
			if err != nil {
				return memtable.Value{}, false, err
			}
			if !ok {
				continue
			}
			v, err := e.valueFromEntry(se)
			if err != nil {
				return memtable.Value{}, false, err
			}
			best = newer(best, candidate{ts: se.Timestamp, value: v, present: true})
		}
	}

	if !best.present || best.value.Deleted {
		return memtable.Value{}, false, nil
	}
	return best.value, true, nil
}

// resolveBlobsForCallback returns a copy of entries with every Blob-backed
// value's bytes fetched into Inline, leaving tombstones and already-inline
// values untouched.
func (e *Engine) resolveBlobsForCallback(entries []memtable.Entry) ([]memtable.Entry, error) {
	out := make([]memtable.Entry, len(entries))
	for i, ent := range entries {
		out[i] = ent
		if ent.Value.Deleted || ent.Value.Blob == nil {
			continue
		}
		data, err := e.blobs.Get(*ent.Value.Blob)
		if err != nil {
			return nil, err
		}
		out[i].Value.Inline = data
		out[i].Value.Blob = nil
	}
	return out, nil
}

func (e *Engine) valueFromEntry(se sstable.Entry) (memtable.Value, error) {
	v := memtable.Value{Timestamp: se.Timestamp, Deleted: se.Deleted}
	if se.Kind == sstable.ValueBlob {
		data, err := e.blobs.Get(blobstore.BlobRef{FileID: se.FileID, Offset: int64(se.Offset), Size: se.Size})
		if err != nil {
			return memtable.Value{}, err
		}
		v.Inline = data
	} else {
		v.Inline = se.Inline
	}
	return v, nil
}

func (e *Engine) readerFor(meta manifest.SSTableMeta) (*sstable.Reader, error) {
	e.mu.RLock()
	r, ok := e.readerCache[meta.ID]
	e.mu.RUnlock()
	if ok {
		return r, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.readerCache[meta.ID]; ok {
		return r, nil
	}
	r, err := sstable.Open(meta.Path)
	if err != nil {
		return nil, err
	}
	e.readerCache[meta.ID] = r
	return r, nil
}

// ScanRange returns every live (non-deleted) entry with composite key in
// [start, end), newest version per key, in ascending key order. It merges
// the active memtable, the immutable queue, and every overlapping SSTable.
func (e *Engine) ScanRange(start, end row.CompositeKey) ([]memtable.Entry, error) {
	e.mu.RLock()
	active := e.active
	immutable := append([]*memtable.Table(nil), e.immutable...)
	e.mu.RUnlock()

	merged := make(map[row.CompositeKey]candidate)
	merge := func(k row.CompositeKey, ts uint64, v memtable.Value) {
		c := merged[k]
		merged[k] = newer(c, candidate{ts: ts, value: v, present: true})
	}

	for _, ent := range active.ScanRange(start, end) {
		merge(ent.Key, ent.Value.Timestamp, ent.Value)
	}
	for _, t := range immutable {
		for _, ent := range t.ScanRange(start, end) {
			merge(ent.Key, ent.Value.Timestamp, ent.Value)
		}
	}

	snap := e.manifest.Snapshot()
	for _, files := range snap.Levels {
		for _, meta := range files {
			if meta.MaxKey < uint64(start) || meta.MinKey >= uint64(end) {
				continue
			}
			r, err := e.readerFor(meta)
			if err != nil {
				return nil, err
			}
			it := r.NewRangeIterator(uint64(start))
			for it.Next() {
				se := it.Entry()
				if se.Key < uint64(start) {
					continue
				}
				if se.Key >= uint64(end) {
					break
				}
				v, err := e.valueFromEntry(se)
				if err != nil {
					return nil, err
				}
				merge(row.CompositeKey(se.Key), se.Timestamp, v)
			}
			if it.Err() != nil {
				return nil, it.Err()
			}
		}
	}

	out := make([]memtable.Entry, 0, len(merged))
	for k, c := range merged {
		if c.value.Deleted {
			continue
		}
		out = append(out, memtable.Entry{Key: k, Value: c.value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// ScanPrefix returns every live entry whose composite key belongs to
// tableHash's row-id range.
func (e *Engine) ScanPrefix(table string) ([]memtable.Entry, error) {
	start, end := row.TablePrefixRange(row.TableHash(table))
	return e.ScanRange(start, end)
}

// Flush is the foreground flush operation: it rotates the active memtable
// (if it holds anything) into the immutable queue and then synchronously
// drains the immutable queue, running every registered flush callback and
// publishing an SSTable for each memtable before returning. Callers use this
// to make flush-triggered batch indexing deterministic instead of racing the
// background flush loop.
func (e *Engine) Flush() error {
	e.mu.Lock()
	active := e.active
	e.mu.Unlock()

	if active.Len() > 0 {
		if err := e.rotate(active); err != nil {
			return err
		}
	}
	return e.drainImmutable()
}

func (e *Engine) compactionLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if err := e.runCompactionPass(); err != nil {
				log.Error().Err(err).Msg("compaction pass failed")
			}
		}
	}
}

func (e *Engine) runCompactionPass() error {
	snap := e.manifest.Snapshot()

	if l0 := compaction.PickL0(snap.Levels[0], e.cfg.Compaction); l0 != nil {
		if err := e.compact(l0, 1); err != nil {
			return err
		}
		return nil
	}

	levels := make([]int, 0, len(snap.Levels))
	for l := range snap.Levels {
		if l > 0 {
			levels = append(levels, l)
		}
	}
	sort.Ints(levels)

	for _, level := range levels {
		from, to := compaction.PickLevel(level, snap.Levels[level], snap.Levels[level+1], e.cfg.Compaction)
		if from == nil {
			continue
		}
		if err := e.compact(append(from, to...), level+1); err != nil {
			return err
		}
		return nil
	}
	return nil
}

func (e *Engine) compact(inputs []manifest.SSTableMeta, targetLevel int) error {
	isBaseLevel := e.isBaseLevel(targetLevel)
	outputs, stats, err := compaction.Run(inputs, e.manifest.NextFileID, targetLevel, isBaseLevel, e.cfg.Compaction)
	if err != nil {
		return err
	}

	removed := compaction.RemovedIDs(inputs)
	if err := e.manifest.Apply(outputs, removed, e.manifest.Snapshot().LastLSN); err != nil {
		return err
	}

	e.mu.Lock()
	for _, id := range removed {
		if r, ok := e.readerCache[id]; ok {
			r.Close()
			delete(e.readerCache, id)
		}
	}
	e.mu.Unlock()

	for _, meta := range inputs {
		e.fileRefs.MarkForDeletion(meta.Path)
	}

	e.statsMu.Lock()
	e.compactionCount++
	e.bytesRead += stats.BytesRead
	e.bytesWritten += stats.BytesWritten
	e.statsMu.Unlock()

	log.Info().
		Int("target_level", targetLevel).
		Int("input_files", stats.InputFiles).
		Int("output_files", stats.OutputFiles).
		Msg("compaction applied")
	return nil
}

func (e *Engine) isBaseLevel(level int) bool {
	snap := e.manifest.Snapshot()
	maxLevel := level
	for l := range snap.Levels {
		if l > maxLevel {
			maxLevel = l
		}
	}
	return level >= maxLevel
}

// Close stops the background threads, flushes any pending memtables, and
// closes the WAL, blob store, and cached SSTable readers.
func (e *Engine) Close() error {
	e.cancel()
	e.wg.Wait()

	e.mu.Lock()
	pending := append(e.immutable, e.active)
	e.immutable = nil
	e.mu.Unlock()

	for _, t := range pending {
		if t.Len() == 0 {
			continue
		}
		if err := e.flush(t); err != nil {
			return err
		}
	}

	for _, r := range e.readerCache {
		r.Close()
	}
	if err := e.wal.Close(); err != nil {
		return err
	}
	return e.blobs.Close()
}
