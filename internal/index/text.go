package index

import (
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/motedb/motedb/internal/merrors"
	"github.com/motedb/motedb/internal/row"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// bm25K1 and bm25B are the standard Okapi BM25 tuning constants.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// TextHit is one ranked result of a text index search.
type TextHit struct {
	RowID row.RowID
	Score float64
}

// TextIndex is an inverted index over one text column, ranking matches by
// BM25. Query planning/parsing beyond simple term splitting (phrase
// queries, stemming, stopword lists) is out of this layer's scope — the
// core specifies only the search(query, k) interface.
type TextIndex struct {
	Name      string
	Table     string
	ColumnIdx int

	mu         sync.RWMutex
	postings   map[string]map[row.RowID]int // term -> docID -> term frequency
	docLengths map[row.RowID]int
	docTerms   map[row.RowID][]string // for Remove, without re-tokenizing
	totalLen   int
}

// NewTextIndex creates an empty text index over table's columnIdx'th
// (KindText) column.
func NewTextIndex(name, table string, columnIdx int) *TextIndex {
	return &TextIndex{
		Name: name, Table: table, ColumnIdx: columnIdx,
		postings: make(map[string]map[row.RowID]int),
		docLengths: make(map[row.RowID]int),
		docTerms:   make(map[row.RowID][]string),
	}
}

// tokenize lowercases and splits on runs of non-letter/non-digit
// characters, the simplest reasonable term boundary for a BM25 index that
// doesn't aim to model a real analyzer pipeline.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Insert indexes one row's text column, replacing any prior terms indexed
// for the same row id.
func (ti *TextIndex) Insert(id row.RowID, r row.Row) {
	v := r.ColumnValue(ti.ColumnIdx)
	if v.Kind != row.KindText {
		ti.Remove(id)
		return
	}
	terms := tokenize(v.Text)

	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.removeLocked(id)

	freq := make(map[string]int, len(terms))
	for _, t := range terms {
		freq[t]++
	}
	for t, f := range freq {
		if ti.postings[t] == nil {
			ti.postings[t] = make(map[row.RowID]int)
		}
		ti.postings[t][id] = f
	}
	ti.docLengths[id] = len(terms)
	ti.docTerms[id] = terms
	ti.totalLen += len(terms)
}

// Remove drops id from the index.
func (ti *TextIndex) Remove(id row.RowID) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.removeLocked(id)
}

func (ti *TextIndex) removeLocked(id row.RowID) {
	terms, ok := ti.docTerms[id]
	if !ok {
		return
	}
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		if seen[t] {
			continue
		}
		seen[t] = true
		delete(ti.postings[t], id)
		if len(ti.postings[t]) == 0 {
			delete(ti.postings, t)
		}
	}
	ti.totalLen -= ti.docLengths[id]
	delete(ti.docLengths, id)
	delete(ti.docTerms, id)
}

// BatchInsert indexes every non-tombstone row in rows.
func (ti *TextIndex) BatchInsert(rows []FlushRow) {
	for _, fr := range rows {
		if fr.Deleted {
			ti.Remove(fr.RowID)
			continue
		}
		ti.Insert(fr.RowID, fr.Row)
	}
}

// Search tokenizes query, scores every matching document by BM25, and
// returns the top k by descending score.
func (ti *TextIndex) Search(query string, k int) []TextHit {
	terms := tokenize(query)

	ti.mu.RLock()
	defer ti.mu.RUnlock()

	numDocs := len(ti.docLengths)
	if numDocs == 0 || len(terms) == 0 {
		return nil
	}
	avgdl := float64(ti.totalLen) / float64(numDocs)

	scores := make(map[row.RowID]float64)
	seenTerm := make(map[string]bool, len(terms))
	for _, term := range terms {
		if seenTerm[term] {
			continue
		}
		seenTerm[term] = true
		docs := ti.postings[term]
		if len(docs) == 0 {
			continue
		}
		idf := math.Log(1 + (float64(numDocs)-float64(len(docs))+0.5)/(float64(len(docs))+0.5))
		for id, tf := range docs {
			dl := float64(ti.docLengths[id])
			denom := float64(tf) + bm25K1*(1-bm25B+bm25B*dl/avgdl)
			scores[id] += idf * (float64(tf) * (bm25K1 + 1) / denom)
		}
	}

	hits := make([]TextHit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, TextHit{RowID: id, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}

// Len returns how many documents are currently indexed.
func (ti *TextIndex) Len() int {
	ti.mu.RLock()
	defer ti.mu.RUnlock()
	return len(ti.docLengths)
}

type wireTextEntry struct {
	RowID uint64   `bson:"row_id"`
	Terms []string `bson:"terms"`
}

// Save persists the index's per-document term lists to path as BSON (the
// postings/lengths are rebuilt from these on Load).
func (ti *TextIndex) Save(path string) error {
	ti.mu.RLock()
	entries := make([]wireTextEntry, 0, len(ti.docTerms))
	for id, terms := range ti.docTerms {
		entries = append(entries, wireTextEntry{RowID: uint64(id), Terms: terms})
	}
	ti.mu.RUnlock()

	data, err := bson.Marshal(struct {
		Entries []wireTextEntry `bson:"entries"`
	}{Entries: entries})
	if err != nil {
		return merrors.SerializationErr("index.text.save", "bson marshal failed", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return merrors.IOErr("index.text.save", "failed to write index file", err)
	}
	return nil
}

// Load rebuilds the index from a file Save previously wrote.
func (ti *TextIndex) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return merrors.IOErr("index.text.load", "failed to read index file", err)
	}
	var wire struct {
		Entries []wireTextEntry `bson:"entries"`
	}
	if err := bson.Unmarshal(data, &wire); err != nil {
		return merrors.SerializationErr("index.text.load", "bson unmarshal failed", err)
	}

	ti.mu.Lock()
	defer ti.mu.Unlock()
	for _, we := range wire.Entries {
		id := row.RowID(we.RowID)
		freq := make(map[string]int, len(we.Terms))
		for _, t := range we.Terms {
			freq[t]++
		}
		for t, f := range freq {
			if ti.postings[t] == nil {
				ti.postings[t] = make(map[row.RowID]int)
			}
			ti.postings[t][id] = f
		}
		ti.docLengths[id] = len(we.Terms)
		ti.docTerms[id] = we.Terms
		ti.totalLen += len(we.Terms)
	}
	return nil
}
