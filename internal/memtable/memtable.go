// Package memtable implements UnifiedMemTable: the ordered in-memory table
// keyed by a 64-bit composite key that the LSM engine rotates into its
// immutable queue and flushes into an SSTable. Ordering is provided by the
// same latch-crabbed concurrent B+Tree the teacher used for its on-disk
// column index (internal/btree), adapted here to map a composite key to a
// slot in an append-only entries slice instead of a heap file offset.
package memtable

import (
	"sync"
	"sync/atomic"

	"github.com/motedb/motedb/internal/blobstore"
	"github.com/motedb/motedb/internal/btree"
	"github.com/motedb/motedb/internal/row"
	"github.com/motedb/motedb/internal/types"
)

// Value is the LSM-layer value stored for one composite key: either an
// inline byte payload or a reference to the blob store, carrying the
// timestamp used for MVCC-adjacent newest-wins merge and a tombstone flag.
type Value struct {
	Inline    []byte
	Blob      *blobstore.BlobRef
	Timestamp uint64
	Deleted   bool

	// Vector, when non-nil on a memtable configured with VectorDim, is
	// added to the memtable's vector facet, so the memtable never decodes
	// the row payload itself. lsm.Engine's Put and WAL replay do not set
	// it.
	Vector []float32
}

// Size estimates the in-memory footprint of a value for the memtable's
// should-flush accounting.
func (v Value) Size() int {
	return len(v.Inline) + 16 + 1
}

// Entry pairs a composite key with its current value, returned by scans.
type Entry struct {
	Key   row.CompositeKey
	Value Value
}

// Config configures one UnifiedMemTable instance. Every memtable produced
// by a Rotate carries the same Config, including whether it tracks a
// vector facet, so flush and read paths never have to special-case a
// differently-shaped sibling.
type Config struct {
	// SizeLimit is the byte threshold at which ShouldFlush reports true.
	SizeLimit int64

	// VectorDim, when non-zero, configures the optional vector facet:
	// vector_search becomes available, backed by the rows' own resident
	// bytes (no second lookup needed).
	VectorDim int
}

// Table is one UnifiedMemTable: an ordered map plus an optional in-memory
// vector facet, tracking its own byte size for flush-threshold decisions.
type Table struct {
	cfg Config

	mu      sync.RWMutex
	tree    *btree.BPlusTree // types.Uint64Key -> index into entries
	byKey   map[row.CompositeKey]int
	entries []Entry

	size atomic.Int64

	vectors *vectorFacet
}

// New creates an empty memtable configured by cfg.
func New(cfg Config) *Table {
	if cfg.SizeLimit <= 0 {
		cfg.SizeLimit = 16 * 1024 * 1024
	}
	t := &Table{
		cfg:   cfg,
		tree:  btree.NewTree(64),
		byKey: make(map[row.CompositeKey]int),
	}
	if cfg.VectorDim > 0 {
		t.vectors = newVectorFacet(cfg.VectorDim)
	}
	return t
}

// Config returns the configuration this memtable was constructed with, so
// Rotate can build an identical sibling.
func (t *Table) Config() Config { return t.cfg }

// Put inserts or overwrites the value for key. Active memtables are the
// only structure that accepts mutation; Put never blocks on I/O.
func (t *Table) Put(key row.CompositeKey, v Value) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx, ok := t.byKey[key]; ok {
		old := t.entries[idx].Value
		t.size.Add(int64(v.Size() - old.Size()))
		t.entries[idx].Value = v
	} else {
		idx := len(t.entries)
		t.entries = append(t.entries, Entry{Key: key, Value: v})
		t.byKey[key] = idx
		_ = t.tree.Insert(types.Uint64Key(key), int64(idx))
		t.size.Add(int64(8 + v.Size()))
	}

	if t.vectors != nil {
		if v.Deleted || v.Vector == nil {
			t.vectors.remove(key)
		} else {
			t.vectors.upsert(key, v.Vector)
		}
	}
}

// Get returns the current value for key, if present.
func (t *Table) Get(key row.CompositeKey) (Value, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.byKey[key]
	if !ok {
		return Value{}, false
	}
	return t.entries[idx].Value, true
}

// SizeBytes returns the memtable's current estimated byte size.
func (t *Table) SizeBytes() int64 { return t.size.Load() }

// ShouldFlush reports whether the memtable has crossed its configured size
// threshold and is due for rotation into the immutable queue.
func (t *Table) ShouldFlush() bool { return t.SizeBytes() >= t.cfg.SizeLimit }

// Len returns the number of distinct keys currently held.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// ScanRange returns every entry with key in [start, end), in ascending key
// order. Tombstones are included so the LSM read path can apply them.
func (t *Table) ScanRange(start, end row.CompositeKey) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c := t.tree.NewCursor()
	c.Seek(types.Uint64Key(start))
	defer c.Close()

	var out []Entry
	for c.Valid() {
		k := row.CompositeKey(c.Key().(types.Uint64Key))
		if k >= end {
			break
		}
		out = append(out, t.entries[c.Value()])
		c.Next()
	}
	return out
}

// ScanAll returns every entry in ascending key order.
func (t *Table) ScanAll() []Entry {
	return t.ScanRange(0, ^row.CompositeKey(0))
}

// VectorSearch returns the k nearest entries to query by Euclidean
// distance, ascending. It returns an empty result if this memtable was not
// configured with a vector facet.
func (t *Table) VectorSearch(query []float32, k int) []VectorHit {
	if t.vectors == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	hits := t.vectors.search(query, k)
	for i := range hits {
		if idx, ok := t.byKey[hits[i].Key]; ok {
			hits[i].Value = t.entries[idx].Value
		}
	}
	return hits
}
