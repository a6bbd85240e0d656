package motedb

import (
	"fmt"

	"github.com/motedb/motedb/internal/merrors"
	"github.com/motedb/motedb/internal/mvcc"
	"github.com/motedb/motedb/internal/row"
)

// Txn is a handle to one in-flight MVCC transaction: a fixed snapshot, a
// staged write_set, and a savepoint stack, all owned by the underlying
// mvcc.TransactionContext. Operations performed through a Txn don't touch
// the WAL or LSM until CommitTransaction applies the whole write_set under
// one commit timestamp.
type Txn struct {
	db  *Database
	ctx *mvcc.TransactionContext
}

// BeginTransaction starts a new transaction at isolation level, taking a
// snapshot of every currently active transaction so visibility checks never
// need to consult the coordinator again mid-transaction.
func (db *Database) BeginTransaction(isolation mvcc.Isolation) *Txn {
	return &Txn{db: db, ctx: db.coordinator.Begin(isolation)}
}

// CommitTransaction validates (Serializable only), allocates a commit
// timestamp, and durably applies every staged write through WAL -> LSM ->
// incremental index update, all sharing that one timestamp. A failed commit
// leaves txn Aborted and its staged writes already cleared by Rollback.
func (db *Database) CommitTransaction(txn *Txn) (uint64, error) {
	commitTS, err := db.coordinator.Commit(txn.ctx, db.applyWrite)
	if err != nil {
		_ = db.coordinator.Rollback(txn.ctx)
		return 0, err
	}
	db.metrics.txnCommits.Inc()
	return commitTS, nil
}

// RollbackTransaction discards every staged write and transitions txn to
// Aborted. Nothing was written to the WAL or LSM for an uncommitted
// transaction, so this is purely an in-memory undo.
func (db *Database) RollbackTransaction(txn *Txn) error {
	if err := db.coordinator.Rollback(txn.ctx); err != nil {
		return err
	}
	db.metrics.txnAborts.Inc()
	return nil
}

// Savepoint creates a named savepoint; subsequent writes on txn record a
// compressed delta against it until it is released or rolled back to.
func (txn *Txn) Savepoint(name string) {
	txn.ctx.CreateSavepoint(name)
}

// RollbackToSavepoint undoes every write_set change made since name was
// created (and releases read_set entries recorded since), without ending
// the transaction.
func (db *Database) RollbackToSavepoint(txn *Txn, name string) error {
	return db.coordinator.RollbackToSavepoint(txn.ctx, name)
}

// ReleaseSavepoint drops the named savepoint marker while keeping every
// change made since it was created.
func (db *Database) ReleaseSavepoint(txn *Txn, name string) error {
	return db.coordinator.ReleaseSavepoint(txn.ctx, name)
}

// InsertRow validates r, allocates a row id, and stages an insert into
// txn's write_set. The row becomes durable only when the transaction
// commits.
func (txn *Txn) InsertRow(table string, r row.Row) (row.RowID, error) {
	db := txn.db
	te, ok := db.catalog.get(table)
	if !ok {
		return 0, merrors.InvalidDataErr("motedb.txn.insert_row", fmt.Sprintf("table %q does not exist", table), nil)
	}
	if err := row.Validate(te.Schema, r); err != nil {
		return 0, err
	}
	id, err := db.catalog.nextRowID(table)
	if err != nil {
		return 0, err
	}
	txn.ctx.Insert(table, id, r)
	return id, nil
}

// UpdateRow validates newRow and stages an update to id in txn's write_set.
func (txn *Txn) UpdateRow(table string, id row.RowID, newRow row.Row) error {
	db := txn.db
	te, ok := db.catalog.get(table)
	if !ok {
		return merrors.InvalidDataErr("motedb.txn.update_row", fmt.Sprintf("table %q does not exist", table), nil)
	}
	if err := row.Validate(te.Schema, newRow); err != nil {
		return err
	}
	txn.ctx.Update(table, id, newRow)
	return nil
}

// DeleteRow stages a delete of id (carrying oldRow for undo and WAL
// logging at commit) in txn's write_set.
func (txn *Txn) DeleteRow(table string, id row.RowID, oldRow row.Row) error {
	txn.ctx.Delete(table, id, oldRow)
	return nil
}

// GetRow reads id's value as visible to txn: its own uncommitted write if
// one is staged, otherwise the newest version satisfying txn's snapshot.
// Either way the read is recorded into txn's read_set so a later
// Serializable commit can detect write-skew against it.
func (txn *Txn) GetRow(table string, id row.RowID) (row.Row, bool) {
	if w, ok := txn.ctx.StagedWrite(id); ok {
		txn.ctx.RecordRead(id)
		if w.Op == mvcc.OpDelete {
			return row.Row{}, false
		}
		return w.Row, true
	}
	txn.ctx.RecordRead(id)
	return txn.db.versionStore.GetVisibleVersion(id, txn.ctx.Snapshot)
}

// TxnID returns the transaction's identifier, for logging and diagnostics.
func (txn *Txn) TxnID() uint64 { return txn.ctx.TxnID }
