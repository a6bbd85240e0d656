package mvcc

import (
	"sync"

	"github.com/motedb/motedb/internal/row"
)

// Version is one node in a RowId's version chain, ordered newest-first.
// EndTS == 0 means the version is still current.
type Version struct {
	Row          row.Row
	CreatorTxnID uint64
	BeginTS      uint64
	EndTS        uint64
	Deleted      bool
	Next         *Version
}

// Snapshot captures the visibility rule a transaction reads against: a
// version is visible iff BeginTS <= Timestamp, (EndTS == 0 || EndTS >
// Timestamp), and its creator is not in ActiveTxns.
type Snapshot struct {
	Timestamp  uint64
	ActiveTxns map[uint64]bool
}

// Visible reports whether v is visible under s.
func (s Snapshot) Visible(v *Version) bool {
	if v.BeginTS > s.Timestamp {
		return false
	}
	if v.EndTS != 0 && v.EndTS <= s.Timestamp {
		return false
	}
	if s.ActiveTxns[v.CreatorTxnID] {
		return false
	}
	return true
}

// chain guards one RowId's version list with its own lock so hot rows
// don't serialize against unrelated ones: a concurrent map of per-row
// chains, each behind a short-held read/write lock on its head pointer.
type chain struct {
	mu   sync.RWMutex
	head *Version
}

// VersionStore holds every RowId's version chain.
type VersionStore struct {
	mu     sync.RWMutex
	chains map[row.RowID]*chain
}

// NewVersionStore returns an empty VersionStore.
func NewVersionStore() *VersionStore {
	return &VersionStore{chains: make(map[row.RowID]*chain)}
}

func (vs *VersionStore) chainFor(id row.RowID) *chain {
	vs.mu.RLock()
	c, ok := vs.chains[id]
	vs.mu.RUnlock()
	if ok {
		return c
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()
	if c, ok := vs.chains[id]; ok {
		return c
	}
	c = &chain{}
	vs.chains[id] = c
	return c
}

// InsertVersion prepends a new current version, ending whatever the
// previous head was exactly at beginTS.
func (vs *VersionStore) InsertVersion(id row.RowID, r row.Row, txnID, beginTS uint64) {
	c := vs.chainFor(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.head != nil && c.head.EndTS == 0 {
		c.head.EndTS = beginTS
	}
	c.head = &Version{Row: r, CreatorTxnID: txnID, BeginTS: beginTS, Next: c.head}
}

// UpdateVersion is InsertVersion's name for the non-insert case; the wire
// behavior is identical (the chain doesn't distinguish insert from update
// once both are just "a new current version").
func (vs *VersionStore) UpdateVersion(id row.RowID, r row.Row, txnID, beginTS uint64) {
	vs.InsertVersion(id, r, txnID, beginTS)
}

// DeleteVersion ends the current head at beginTS and prepends a tombstone
// version so get_visible_version sees "not found" for any snapshot at or
// after it, while older snapshots still see the prior value.
func (vs *VersionStore) DeleteVersion(id row.RowID, txnID, beginTS uint64) {
	c := vs.chainFor(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.head != nil && c.head.EndTS == 0 {
		c.head.EndTS = beginTS
	}
	c.head = &Version{CreatorTxnID: txnID, BeginTS: beginTS, Deleted: true, Next: c.head}
}

// GetVisibleVersion walks id's chain from head (newest) and returns the
// first version visible under snap, or ok=false if none is (including the
// case where the visible version is a tombstone).
func (vs *VersionStore) GetVisibleVersion(id row.RowID, snap Snapshot) (row.Row, bool) {
	c := vs.chainFor(id)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for v := c.head; v != nil; v = v.Next {
		if snap.Visible(v) {
			if v.Deleted {
				return row.Row{}, false
			}
			return v.Row, true
		}
	}
	return row.Row{}, false
}

// Vacuum drops chain nodes whose EndTS is set and older than minActiveTS:
// no live or future snapshot can ever need them again, since every
// transaction's snapshot timestamp is >= the oldest currently active
// transaction's start_ts. Returns the number of nodes reclaimed.
func (vs *VersionStore) Vacuum(minActiveTS uint64) int {
	vs.mu.RLock()
	chains := make([]*chain, 0, len(vs.chains))
	for _, c := range vs.chains {
		chains = append(chains, c)
	}
	vs.mu.RUnlock()

	reclaimed := 0
	for _, c := range chains {
		c.mu.Lock()
		var kept *Version
		var tail *Version
		for v := c.head; v != nil; v = v.Next {
			if v.EndTS != 0 && v.EndTS < minActiveTS {
				reclaimed++
				continue
			}
			node := &Version{Row: v.Row, CreatorTxnID: v.CreatorTxnID, BeginTS: v.BeginTS, EndTS: v.EndTS, Deleted: v.Deleted}
			if kept == nil {
				kept = node
				tail = node
			} else {
				tail.Next = node
				tail = node
			}
		}
		c.head = kept
		c.mu.Unlock()
	}
	return reclaimed
}
