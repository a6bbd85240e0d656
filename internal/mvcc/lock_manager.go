package mvcc

import (
	"fmt"
	"sync"

	"github.com/motedb/motedb/internal/merrors"
	"github.com/motedb/motedb/internal/row"
)

// rowLock tracks the holders of one RowId's lock: either any number of
// shared holders, or exactly one exclusive holder.
type rowLock struct {
	exclusiveHolder uint64 // 0 = none
	sharedHolders   map[uint64]bool
}

// LockManager is a minimal row-level lock table backing Serializable
// write-skew detection: it never blocks (an embedded single-process engine
// has no long queueing concern here), it simply fails fast with a Lock
// error on conflict so the caller can retry or abort.
type LockManager struct {
	mu    sync.Mutex
	locks map[row.RowID]*rowLock
}

// NewLockManager returns an empty lock table.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[row.RowID]*rowLock)}
}

func (lm *LockManager) lockFor(id row.RowID) *rowLock {
	l, ok := lm.locks[id]
	if !ok {
		l = &rowLock{sharedHolders: make(map[uint64]bool)}
		lm.locks[id] = l
	}
	return l
}

// AcquireShared grants a shared (read) lock on id to txnID, failing if an
// exclusive lock is held by a different transaction.
func (lm *LockManager) AcquireShared(txnID uint64, id row.RowID) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	l := lm.lockFor(id)
	if l.exclusiveHolder != 0 && l.exclusiveHolder != txnID {
		return merrors.LockErr("mvcc.lock.acquire_shared",
			fmt.Sprintf("row %d exclusively locked by another transaction", id), nil)
	}
	l.sharedHolders[txnID] = true
	return nil
}

// AcquireExclusive grants an exclusive (write) lock on id to txnID,
// failing if any other transaction holds a shared or exclusive lock.
func (lm *LockManager) AcquireExclusive(txnID uint64, id row.RowID) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	l := lm.lockFor(id)
	if l.exclusiveHolder != 0 && l.exclusiveHolder != txnID {
		return merrors.LockErr("mvcc.lock.acquire_exclusive",
			fmt.Sprintf("row %d exclusively locked by another transaction", id), nil)
	}
	for holder := range l.sharedHolders {
		if holder != txnID {
			return merrors.LockErr("mvcc.lock.acquire_exclusive",
				fmt.Sprintf("row %d shared-locked by another transaction", id), nil)
		}
	}
	l.exclusiveHolder = txnID
	return nil
}

// Release drops every lock txnID holds on id.
func (lm *LockManager) Release(txnID uint64, id row.RowID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	l, ok := lm.locks[id]
	if !ok {
		return
	}
	delete(l.sharedHolders, txnID)
	if l.exclusiveHolder == txnID {
		l.exclusiveHolder = 0
	}
	if l.exclusiveHolder == 0 && len(l.sharedHolders) == 0 {
		delete(lm.locks, id)
	}
}

// ReleaseAll drops every lock held by txnID across all rows, called at
// commit and rollback.
func (lm *LockManager) ReleaseAll(txnID uint64) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for id, l := range lm.locks {
		delete(l.sharedHolders, txnID)
		if l.exclusiveHolder == txnID {
			l.exclusiveHolder = 0
		}
		if l.exclusiveHolder == 0 && len(l.sharedHolders) == 0 {
			delete(lm.locks, id)
		}
	}
}
