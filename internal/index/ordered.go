package index

import (
	"os"
	"sync"
	"time"

	"github.com/motedb/motedb/internal/btree"
	"github.com/motedb/motedb/internal/merrors"
	"github.com/motedb/motedb/internal/query"
	"github.com/motedb/motedb/internal/row"
	"github.com/motedb/motedb/internal/types"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func timeToMicros(dk types.DateKey) int64 { return time.Time(dk).UnixMicro() }
func microsToDateKey(micros int64) types.DateKey { return types.DateKey(time.UnixMicro(micros)) }

// orderedIndex backs both the column and timestamp index adapters: a
// types.Comparable value maps, via the shared B+Tree, to a posting-list id,
// and the posting lists themselves live in a side map rather than inside
// the tree. btree.BPlusTree has no Delete, so this is how the index
// simulates removing a row from its value's posting list (and, on an
// update, moving it to a new one) without ever needing to delete a tree
// key: the tree key simply points at an emptied posting list forever
// after, which costs a little unreclaimed space but no correctness.
type orderedIndex struct {
	mu          sync.RWMutex
	tree        *btree.BPlusTree
	postings    map[int64][]row.RowID
	nextPosting int64
	current     map[row.RowID]types.Comparable
}

func newOrderedIndex() *orderedIndex {
	return &orderedIndex{
		tree:     btree.NewTree(64),
		postings: make(map[int64][]row.RowID),
		current:  make(map[row.RowID]types.Comparable),
	}
}

// insert indexes id under value, idempotent if id is already indexed at
// value (the common case for a batch flush re-observing a row an
// incremental update already placed).
func (oi *orderedIndex) insert(id row.RowID, value types.Comparable) {
	oi.mu.Lock()
	defer oi.mu.Unlock()

	if old, ok := oi.current[id]; ok {
		if old.Compare(value) == 0 {
			return
		}
		oi.removeLocked(id, old)
	}

	pid, ok := oi.tree.Get(value)
	if !ok {
		pid = oi.nextPosting
		oi.nextPosting++
		_ = oi.tree.Insert(value, pid)
	}
	oi.postings[pid] = append(oi.postings[pid], id)
	oi.current[id] = value
}

// remove drops id from its currently indexed value's posting list, if any.
func (oi *orderedIndex) remove(id row.RowID) {
	oi.mu.Lock()
	defer oi.mu.Unlock()
	value, ok := oi.current[id]
	if !ok {
		return
	}
	oi.removeLocked(id, value)
	delete(oi.current, id)
}

// removeLocked removes id from value's posting list. Caller must hold
// oi.mu for writing.
func (oi *orderedIndex) removeLocked(id row.RowID, value types.Comparable) {
	pid, ok := oi.tree.Get(value)
	if !ok {
		return
	}
	list := oi.postings[pid]
	for i, rid := range list {
		if rid == id {
			oi.postings[pid] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// batchInsert indexes every (id, value) pair, skipping pairs already
// indexed at the given value.
func (oi *orderedIndex) batchInsert(pairs []struct {
	ID    row.RowID
	Value types.Comparable
}) {
	for _, p := range pairs {
		oi.insert(p.ID, p.Value)
	}
}

// query returns every indexed row id matching cond, in ascending key
// order. A nil cond returns every indexed row id.
func (oi *orderedIndex) query(cond *query.ScanCondition) []row.RowID {
	oi.mu.RLock()
	defer oi.mu.RUnlock()

	cursor := oi.tree.NewCursor()
	if cond != nil && cond.ShouldSeek() {
		cursor.Seek(cond.GetStartKey())
	} else {
		cursor.Seek(nil)
	}
	defer cursor.Close()

	var out []row.RowID
	for cursor.Valid() {
		key := cursor.Key()
		if cond != nil && !cond.ShouldContinue(key) {
			break
		}
		if cond == nil || cond.Matches(key) {
			out = append(out, oi.postings[cursor.Value()]...)
		}
		cursor.Next()
	}
	return out
}

// Len returns the number of rows currently indexed, for Stats().
func (oi *orderedIndex) Len() int {
	oi.mu.RLock()
	defer oi.mu.RUnlock()
	return len(oi.current)
}

// wireOrderedEntry is the persisted shape of one indexed row, keyed by
// value kind so Load can reconstruct the right types.Comparable.
type wireOrderedEntry struct {
	RowID   uint64  `bson:"row_id"`
	ValKind uint8   `bson:"val_kind"`
	Int     int64   `bson:"i,omitempty"`
	Str     string  `bson:"s,omitempty"`
	Flt     float64 `bson:"f,omitempty"`
	Bool    bool    `bson:"b,omitempty"`
	Micros  int64   `bson:"t,omitempty"`
}

const (
	valKindInt uint8 = iota
	valKindStr
	valKindFloat
	valKindBool
	valKindDate
)

// Save persists the index's current row -> value map to path as BSON; Load
// rebuilds the tree and posting lists from it. Only current is persisted
// (not the tree/postings split), since those are a derived, in-memory-only
// optimization the loader reconstructs from scratch.
func (oi *orderedIndex) Save(path string) error {
	oi.mu.RLock()
	entries := make([]wireOrderedEntry, 0, len(oi.current))
	for id, v := range oi.current {
		we := wireOrderedEntry{RowID: uint64(id)}
		switch t := v.(type) {
		case types.IntKey:
			we.ValKind, we.Int = valKindInt, int64(t)
		case types.VarcharKey:
			we.ValKind, we.Str = valKindStr, string(t)
		case types.FloatKey:
			we.ValKind, we.Flt = valKindFloat, float64(t)
		case types.BoolKey:
			we.ValKind, we.Bool = valKindBool, bool(t)
		case types.DateKey:
			we.ValKind, we.Micros = valKindDate, timeToMicros(t)
		}
		entries = append(entries, we)
	}
	oi.mu.RUnlock()

	data, err := bson.Marshal(struct {
		Entries []wireOrderedEntry `bson:"entries"`
	}{Entries: entries})
	if err != nil {
		return merrors.SerializationErr("index.ordered.save", "bson marshal failed", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return merrors.IOErr("index.ordered.save", "failed to write index file", err)
	}
	return nil
}

// Load rebuilds the index from a file Save previously wrote.
func (oi *orderedIndex) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return merrors.IOErr("index.ordered.load", "failed to read index file", err)
	}
	var wire struct {
		Entries []wireOrderedEntry `bson:"entries"`
	}
	if err := bson.Unmarshal(data, &wire); err != nil {
		return merrors.SerializationErr("index.ordered.load", "bson unmarshal failed", err)
	}

	oi.mu.Lock()
	defer oi.mu.Unlock()
	for _, we := range wire.Entries {
		var v types.Comparable
		switch we.ValKind {
		case valKindInt:
			v = types.IntKey(we.Int)
		case valKindStr:
			v = types.VarcharKey(we.Str)
		case valKindFloat:
			v = types.FloatKey(we.Flt)
		case valKindBool:
			v = types.BoolKey(we.Bool)
		case valKindDate:
			v = microsToDateKey(we.Micros)
		default:
			continue
		}
		id := row.RowID(we.RowID)
		pid, ok := oi.tree.Get(v)
		if !ok {
			pid = oi.nextPosting
			oi.nextPosting++
			_ = oi.tree.Insert(v, pid)
		}
		oi.postings[pid] = append(oi.postings[pid], id)
		oi.current[id] = v
	}
	return nil
}
