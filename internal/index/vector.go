package index

import (
	"fmt"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/motedb/motedb/internal/merrors"
	"github.com/motedb/motedb/internal/row"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// VectorHit is one result of a vector index search.
type VectorHit struct {
	RowID    row.RowID
	Distance float64
}

// VectorIndex is a brute-force Euclidean-distance KNN index over one
// fixed-dimension vector column. Exact linear scan is the core's
// deliberately simple stand-in for a real DiskANN/Vamana graph, which is
// explicitly out of scope for this layer (see index.go's package doc); a
// flushed batch here is typically small enough (bounded by one memtable's
// worth of rows) that brute force stays fast.
type VectorIndex struct {
	Name      string
	Table     string
	ColumnIdx int
	Dim       int

	mu      sync.RWMutex
	vectors map[row.RowID][]float32
}

// NewVectorIndex creates an empty vector index expecting dim-dimensional
// vectors.
func NewVectorIndex(name, table string, columnIdx, dim int) *VectorIndex {
	return &VectorIndex{Name: name, Table: table, ColumnIdx: columnIdx, Dim: dim, vectors: make(map[row.RowID][]float32)}
}

// Insert indexes one row's vector column, rejecting a dimension mismatch.
func (vi *VectorIndex) Insert(id row.RowID, r row.Row) error {
	v := r.ColumnValue(vi.ColumnIdx)
	if v.Kind != row.KindVector {
		return nil
	}
	if len(v.Vector) != vi.Dim {
		return merrors.InvalidDataErr("index.vector.insert",
			fmt.Sprintf("vector dimension %d does not match index dimension %d", len(v.Vector), vi.Dim), nil)
	}
	vi.mu.Lock()
	defer vi.mu.Unlock()
	vi.vectors[id] = v.Vector
	return nil
}

// Remove drops id from the index.
func (vi *VectorIndex) Remove(id row.RowID) {
	vi.mu.Lock()
	defer vi.mu.Unlock()
	delete(vi.vectors, id)
}

// BatchInsert indexes every non-tombstone row in rows.
func (vi *VectorIndex) BatchInsert(rows []FlushRow) error {
	for _, fr := range rows {
		if fr.Deleted {
			vi.Remove(fr.RowID)
			continue
		}
		if err := vi.Insert(fr.RowID, fr.Row); err != nil {
			return err
		}
	}
	return nil
}

func euclidean(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Search returns the k nearest indexed rows to query by Euclidean
// distance, ascending (monotonically non-decreasing distances).
func (vi *VectorIndex) Search(query []float32, k int) []VectorHit {
	vi.mu.RLock()
	defer vi.mu.RUnlock()

	hits := make([]VectorHit, 0, len(vi.vectors))
	for id, v := range vi.vectors {
		hits = append(hits, VectorHit{RowID: id, Distance: euclidean(query, v)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}

// Len returns how many vectors are currently indexed.
func (vi *VectorIndex) Len() int {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	return len(vi.vectors)
}

type wireVectorEntry struct {
	RowID  uint64    `bson:"row_id"`
	Vector []float32 `bson:"vector"`
}

// Save persists the index's vectors to path as BSON.
func (vi *VectorIndex) Save(path string) error {
	vi.mu.RLock()
	entries := make([]wireVectorEntry, 0, len(vi.vectors))
	for id, v := range vi.vectors {
		entries = append(entries, wireVectorEntry{RowID: uint64(id), Vector: v})
	}
	vi.mu.RUnlock()

	data, err := bson.Marshal(struct {
		Dim     int                `bson:"dim"`
		Entries []wireVectorEntry `bson:"entries"`
	}{Dim: vi.Dim, Entries: entries})
	if err != nil {
		return merrors.SerializationErr("index.vector.save", "bson marshal failed", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return merrors.IOErr("index.vector.save", "failed to write index file", err)
	}
	return nil
}

// Load rebuilds the index from a file Save previously wrote.
func (vi *VectorIndex) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return merrors.IOErr("index.vector.load", "failed to read index file", err)
	}
	var wire struct {
		Dim     int                `bson:"dim"`
		Entries []wireVectorEntry `bson:"entries"`
	}
	if err := bson.Unmarshal(data, &wire); err != nil {
		return merrors.SerializationErr("index.vector.load", "bson unmarshal failed", err)
	}

	vi.mu.Lock()
	defer vi.mu.Unlock()
	if wire.Dim != 0 {
		vi.Dim = wire.Dim
	}
	for _, we := range wire.Entries {
		vi.vectors[row.RowID(we.RowID)] = we.Vector
	}
	return nil
}
