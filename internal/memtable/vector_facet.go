package memtable

import (
	"math"
	"sort"
	"sync"

	"github.com/motedb/motedb/internal/row"
)

// VectorHit is one result of a memtable vector search: the composite key,
// its current value (so the caller avoids a second lookup), and its
// distance to the query vector.
type VectorHit struct {
	Key      row.CompositeKey
	Value    Value
	Distance float64
}

// vectorFacet is the memtable's optional ANN facet. A memtable is bounded
// by its flush-size threshold, so an exact brute-force scan over its
// resident vectors is cheap and simpler than maintaining a true graph
// in-memory for data that is about to be superseded by the persisted,
// batch-built vector index anyway (see internal/index's vector adapter for
// the same brute-force search performed over flushed, persisted vectors).
type vectorFacet struct {
	dim int

	mu  sync.RWMutex
	vec map[row.CompositeKey][]float32
}

func newVectorFacet(dim int) *vectorFacet {
	return &vectorFacet{dim: dim, vec: make(map[row.CompositeKey][]float32)}
}

func (f *vectorFacet) upsert(key row.CompositeKey, v []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vec[key] = v
}

func (f *vectorFacet) remove(key row.CompositeKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.vec, key)
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

func (f *vectorFacet) search(query []float32, k int) []VectorHit {
	f.mu.RLock()
	defer f.mu.RUnlock()

	hits := make([]VectorHit, 0, len(f.vec))
	for key, v := range f.vec {
		hits = append(hits, VectorHit{Key: key, Distance: euclidean(query, v)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}
