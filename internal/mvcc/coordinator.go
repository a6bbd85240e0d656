package mvcc

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/motedb/motedb/internal/merrors"
	"github.com/motedb/motedb/internal/row"
)

// Isolation selects a transaction's validation strength.
type Isolation uint8

const (
	// SnapshotIsolation sees a fixed snapshot for the whole transaction
	// but performs no write-set re-validation at commit.
	SnapshotIsolation Isolation = iota
	// Serializable additionally re-examines the read set for writes
	// committed after the snapshot timestamp, rejecting write-skew.
	Serializable
)

// State is a transaction's place in its Active -> Committed | Aborted
// state machine. Every other transition is an error.
type State uint8

const (
	StateActive State = iota
	StateCommitted
	StateAborted
)

// WriteOp discriminates a staged write_set entry.
type WriteOp uint8

const (
	OpInsert WriteOp = iota
	OpUpdate
	OpDelete
)

// WriteEntry is one write_set value: the table a RowId belongs to and the
// row bytes current as of this transaction's uncommitted view. For Delete,
// Row holds the row being removed (needed so the apply callback can WAL it
// and so savepoint undo can restore it).
type WriteEntry struct {
	Table string
	Row   row.Row
	Op    WriteOp
}

// DeltaKind discriminates one savepoint delta operation.
type DeltaKind uint8

const (
	DeltaInsert DeltaKind = iota
	DeltaUpdate
	DeltaDelete
)

// DeltaOp is one compressed operation recorded against a savepoint: at most
// one per (savepoint, RowId).
type DeltaOp struct {
	RowID row.RowID
	Kind  DeltaKind
	Old   *WriteEntry // nil for a pure Insert
}

// Savepoint holds only the deltas recorded since its creation, not a copy
// of the whole write_set.
type Savepoint struct {
	Name        string
	WriteDeltas []DeltaOp
	ReadDeltas  map[row.RowID]bool
}

// TransactionContext is a single transaction's full mutable state:
// isolation, snapshot, staged writes/reads, and its savepoint stack.
type TransactionContext struct {
	TxnID     uint64
	StartTS   uint64
	Isolation Isolation
	Snapshot  Snapshot

	mu         sync.Mutex
	state      State
	WriteSet   map[row.RowID]WriteEntry
	ReadSet    map[row.RowID]bool
	Savepoints []*Savepoint
}

// State returns the transaction's current lifecycle state.
func (t *TransactionContext) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// newTxnID derives a time-ordered 64-bit transaction id from a uuid.NewV7,
// so txn_id stays globally traceable in logs (the high bits carry the v7
// timestamp) while remaining a cheap map/lock-table key.
func newTxnID() uint64 {
	id := uuid.Must(uuid.NewV7())
	return binary.BigEndian.Uint64(id[:8])
}

// recordDelta appends exactly one compressed DeltaOp per (savepoint, RowId)
// to every savepoint currently on the stack, applying the merge rules:
// Insert+Update => Insert(new); Update+Update => Update(original old);
// Insert+Delete => remove both.
func recordDelta(txn *TransactionContext, id row.RowID, kind DeltaKind, old *WriteEntry) {
	for _, sp := range txn.Savepoints {
		appendDelta(sp, id, kind, old)
	}
}

func appendDelta(sp *Savepoint, id row.RowID, kind DeltaKind, old *WriteEntry) {
	for i, d := range sp.WriteDeltas {
		if d.RowID != id {
			continue
		}
		switch {
		case d.Kind == DeltaInsert && kind == DeltaUpdate:
			// net effect since the savepoint is still "this row was
			// inserted"; nothing to change.
			return
		case d.Kind == DeltaUpdate && kind == DeltaUpdate:
			// keep the original old value, ignore the intermediate one.
			return
		case d.Kind == DeltaInsert && kind == DeltaDelete:
			sp.WriteDeltas = append(sp.WriteDeltas[:i], sp.WriteDeltas[i+1:]...)
			return
		case d.Kind == DeltaUpdate && kind == DeltaDelete:
			sp.WriteDeltas[i] = DeltaOp{RowID: id, Kind: DeltaDelete, Old: d.Old}
			return
		case d.Kind == DeltaDelete && kind == DeltaInsert:
			// re-inserted after a delete within the same savepoint: net
			// effect relative to the savepoint is an update from the
			// original (pre-delete) value.
			sp.WriteDeltas[i] = DeltaOp{RowID: id, Kind: DeltaUpdate, Old: d.Old}
			return
		default:
			sp.WriteDeltas[i] = DeltaOp{RowID: id, Kind: kind, Old: old}
			return
		}
	}
	sp.WriteDeltas = append(sp.WriteDeltas, DeltaOp{RowID: id, Kind: kind, Old: old})
}

// Insert stages an insert for id into the write_set.
func (t *TransactionContext) Insert(table string, id row.RowID, r row.Row) {
	t.mu.Lock()
	defer t.mu.Unlock()
	recordDelta(t, id, DeltaInsert, nil)
	t.WriteSet[id] = WriteEntry{Table: table, Row: r, Op: OpInsert}
}

// Update stages an update for id, recording the entry's prior staged state
// (if any) as the delta's undo value.
func (t *TransactionContext) Update(table string, id row.RowID, newRow row.Row) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var oldCopy *WriteEntry
	if old, ok := t.WriteSet[id]; ok {
		oc := old
		oldCopy = &oc
	}
	recordDelta(t, id, DeltaUpdate, oldCopy)
	t.WriteSet[id] = WriteEntry{Table: table, Row: newRow, Op: OpUpdate}
}

// Delete stages a delete for id, carrying oldRow so WAL logging and
// savepoint undo both have the prior value available.
func (t *TransactionContext) Delete(table string, id row.RowID, oldRow row.Row) {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := WriteEntry{Table: table, Row: oldRow, Op: OpDelete}
	recordDelta(t, id, DeltaDelete, &old)
	t.WriteSet[id] = WriteEntry{Table: table, Row: oldRow, Op: OpDelete}
}

// RecordRead adds id to the read_set, and to every active savepoint's
// read_deltas so rollback can subtract it back out.
func (t *TransactionContext) RecordRead(id row.RowID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadSet[id] = true
	for _, sp := range t.Savepoints {
		sp.ReadDeltas[id] = true
	}
}

// StagedWrite returns id's currently staged write_set entry, if any, so a
// caller reading inside the transaction sees its own uncommitted writes
// before falling back to the version store's committed snapshot view.
func (t *TransactionContext) StagedWrite(id row.RowID) (WriteEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.WriteSet[id]
	return w, ok
}

// CreateSavepoint pushes a new, empty savepoint. O(1): it holds no copy of
// the current write_set, only future deltas.
func (t *TransactionContext) CreateSavepoint(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Savepoints = append(t.Savepoints, &Savepoint{Name: name, ReadDeltas: make(map[row.RowID]bool)})
}

// Coordinator drives the Active -> Committed|Aborted state machine for
// every transaction, allocating txn ids/timestamps from clock and
// validating Serializable transactions against a short commit log.
type Coordinator struct {
	clock        *Clock
	lockMgr      *LockManager
	versionStore *VersionStore
	logBegin     TxnBeginLogger
	logCommit    TxnCommitLogger

	mu            sync.Mutex
	active        map[uint64]*TransactionContext
	recentCommits []commitLogEntry
}

type commitLogEntry struct {
	commitTS uint64
	rowIDs   map[row.RowID]bool
}

// TxnBeginLogger writes a transaction's Begin record to the WAL ahead of its
// first durable write, so recovery's Analysis phase can classify every
// record the transaction produces even if it crashes before committing.
type TxnBeginLogger func(txnID uint64, isolation uint8) error

// TxnCommitLogger writes a transaction's Commit record to the WAL once every
// staged write has been applied, the marker recovery's Analysis phase looks
// for to redo that transaction's records.
type TxnCommitLogger func(txnID, commitTS uint64) error

// NewCoordinator wires a Coordinator to its shared clock, lock manager,
// version store, and the WAL transaction-framing hooks Commit calls around
// its apply loop.
func NewCoordinator(clock *Clock, lockMgr *LockManager, versionStore *VersionStore, logBegin TxnBeginLogger, logCommit TxnCommitLogger) *Coordinator {
	return &Coordinator{
		clock:        clock,
		lockMgr:      lockMgr,
		versionStore: versionStore,
		logBegin:     logBegin,
		logCommit:    logCommit,
		active:       make(map[uint64]*TransactionContext),
	}
}

// Begin allocates a txn id and start_ts, and builds a snapshot over every
// currently active transaction (excluding itself).
func (c *Coordinator) Begin(isolation Isolation) *TransactionContext {
	c.mu.Lock()
	defer c.mu.Unlock()

	txnID := newTxnID()
	startTS := c.clock.Next()
	activeSet := make(map[uint64]bool, len(c.active))
	for id := range c.active {
		activeSet[id] = true
	}

	txn := &TransactionContext{
		TxnID:     txnID,
		StartTS:   startTS,
		Isolation: isolation,
		Snapshot:  Snapshot{Timestamp: startTS, ActiveTxns: activeSet},
		WriteSet:  make(map[row.RowID]WriteEntry),
		ReadSet:   make(map[row.RowID]bool),
	}
	c.active[txnID] = txn
	return txn
}

// ApplyFunc performs the durable side effect (WAL + LSM + incremental
// index update) for one committed write_set entry, sharing the
// transaction's single commit_ts across every row it touches. txnID tags
// the record so recovery can gate its redo on that transaction's own
// Commit record surviving.
type ApplyFunc func(table string, rowID row.RowID, op WriteOp, r row.Row, txnID, commitTS uint64) error

// Commit validates (for Serializable), allocates a commit_ts, writes a
// Begin record, applies every staged write via apply tagged with the
// transaction's id, writes a Commit record, records each row's new
// version, and transitions the transaction to Committed. A failed apply
// call leaves the transaction Active so the caller can retry or roll back;
// recovery will find no surviving Commit record for it and undo whatever
// rows it did manage to apply.
func (c *Coordinator) Commit(txn *TransactionContext, apply ApplyFunc) (uint64, error) {
	txn.mu.Lock()
	if txn.state != StateActive {
		txn.mu.Unlock()
		return 0, merrors.TransactionErr("mvcc.commit", fmt.Sprintf("transaction %d is not active", txn.TxnID), nil)
	}
	if txn.Isolation == Serializable {
		if err := c.validateSerializable(txn); err != nil {
			txn.mu.Unlock()
			return 0, err
		}
	}
	writes := make(map[row.RowID]WriteEntry, len(txn.WriteSet))
	for id, w := range txn.WriteSet {
		writes[id] = w
	}
	txn.mu.Unlock()

	if len(writes) > 0 {
		if err := c.logBegin(txn.TxnID, uint8(txn.Isolation)); err != nil {
			return 0, err
		}
	}

	c.mu.Lock()
	commitTS := c.clock.Next()
	c.mu.Unlock()

	for id, w := range writes {
		if err := apply(w.Table, id, w.Op, w.Row, txn.TxnID, commitTS); err != nil {
			return 0, err
		}
		if w.Op == OpDelete {
			c.versionStore.DeleteVersion(id, txn.TxnID, commitTS)
		} else {
			c.versionStore.InsertVersion(id, w.Row, txn.TxnID, commitTS)
		}
	}

	if len(writes) > 0 {
		if err := c.logCommit(txn.TxnID, commitTS); err != nil {
			return 0, err
		}
	}

	rowIDs := make(map[row.RowID]bool, len(writes))
	for id := range writes {
		rowIDs[id] = true
	}

	c.mu.Lock()
	c.recentCommits = append(c.recentCommits, commitLogEntry{commitTS: commitTS, rowIDs: rowIDs})
	delete(c.active, txn.TxnID)
	c.pruneCommitLogLocked()
	c.mu.Unlock()

	c.lockMgr.ReleaseAll(txn.TxnID)

	txn.mu.Lock()
	txn.state = StateCommitted
	txn.mu.Unlock()
	return commitTS, nil
}

// Rollback clears the write_set and transitions to Aborted. Nothing was
// ever written to the WAL or LSM for an uncommitted transaction under this
// coordinator's staged-write model, so there is nothing to undo there;
// rollback is purely an in-memory state transition.
func (c *Coordinator) Rollback(txn *TransactionContext) error {
	txn.mu.Lock()
	if txn.state != StateActive {
		txn.mu.Unlock()
		return merrors.TransactionErr("mvcc.rollback", fmt.Sprintf("transaction %d is not active", txn.TxnID), nil)
	}
	txn.WriteSet = make(map[row.RowID]WriteEntry)
	txn.state = StateAborted
	txn.mu.Unlock()

	c.mu.Lock()
	delete(c.active, txn.TxnID)
	c.mu.Unlock()

	c.lockMgr.ReleaseAll(txn.TxnID)
	return nil
}

// RollbackToSavepoint locates the named savepoint, replays every later
// savepoint's (and the target's own) write_deltas in reverse, undoes each
// against write_set, subtracts read_deltas from read_set, then truncates
// the savepoint stack to before the target.
func (c *Coordinator) RollbackToSavepoint(txn *TransactionContext, name string) error {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	idx := -1
	for i, sp := range txn.Savepoints {
		if sp.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return merrors.TransactionErr("mvcc.rollback_to_savepoint", fmt.Sprintf("savepoint %q not found", name), nil)
	}

	for i := len(txn.Savepoints) - 1; i >= idx; i-- {
		sp := txn.Savepoints[i]
		for j := len(sp.WriteDeltas) - 1; j >= 0; j-- {
			d := sp.WriteDeltas[j]
			switch d.Kind {
			case DeltaInsert:
				delete(txn.WriteSet, d.RowID)
			case DeltaUpdate, DeltaDelete:
				if d.Old != nil {
					txn.WriteSet[d.RowID] = *d.Old
				} else {
					delete(txn.WriteSet, d.RowID)
				}
			}
		}
		for id := range sp.ReadDeltas {
			delete(txn.ReadSet, id)
		}
	}

	txn.Savepoints = txn.Savepoints[:idx]
	return nil
}

// ReleaseSavepoint drops the named savepoint marker while keeping every
// change made since it was created; nested savepoints below it already
// recorded the same deltas independently (every write appends to every
// active savepoint), so no merge is needed.
func (c *Coordinator) ReleaseSavepoint(txn *TransactionContext, name string) error {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	for i, sp := range txn.Savepoints {
		if sp.Name == name {
			txn.Savepoints = append(txn.Savepoints[:i], txn.Savepoints[i+1:]...)
			return nil
		}
	}
	return merrors.TransactionErr("mvcc.release_savepoint", fmt.Sprintf("savepoint %q not found", name), nil)
}

// validateSerializable re-examines txn's read set against every commit
// recorded after its snapshot timestamp, rejecting on the first
// intersecting row (write-skew).
func (c *Coordinator) validateSerializable(txn *TransactionContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, commit := range c.recentCommits {
		if commit.commitTS <= txn.StartTS {
			continue
		}
		for id := range txn.ReadSet {
			if commit.rowIDs[id] {
				return merrors.TransactionErr("mvcc.commit",
					fmt.Sprintf("serializable conflict: row %d was written by a transaction that committed after this snapshot", id), nil)
			}
		}
	}
	return nil
}

// pruneCommitLogLocked drops commit log entries no active transaction can
// still need to validate against (older than every active start_ts).
// Caller must hold c.mu.
func (c *Coordinator) pruneCommitLogLocked() {
	minStart := c.clock.Current()
	for _, t := range c.active {
		if t.StartTS < minStart {
			minStart = t.StartTS
		}
	}
	kept := c.recentCommits[:0]
	for _, entry := range c.recentCommits {
		if entry.commitTS >= minStart {
			kept = append(kept, entry)
		}
	}
	c.recentCommits = kept
}

// MinActiveStartTS returns the oldest start_ts among active transactions,
// or the clock's current value if none are active: the watermark vacuum
// uses to decide which version-chain nodes are safely reclaimable.
func (c *Coordinator) MinActiveStartTS() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	min := c.clock.Current()
	for _, t := range c.active {
		if t.StartTS < min {
			min = t.StartTS
		}
	}
	return min
}

// ActiveCount returns the number of transactions currently active, for
// Stats()/TransactionStats().
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}
