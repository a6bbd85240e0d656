package mvcc

import (
	"testing"

	"github.com/motedb/motedb/internal/row"
	"github.com/stretchr/testify/require"
)

func textRow(s string) row.Row {
	return row.Row{Values: []row.Value{row.TextValue(s)}}
}

func TestVersionStoreVisibility(t *testing.T) {
	vs := NewVersionStore()
	vs.InsertVersion(1, textRow("v1"), 100, 10)

	snapBefore := Snapshot{Timestamp: 5, ActiveTxns: map[uint64]bool{}}
	_, ok := vs.GetVisibleVersion(1, snapBefore)
	require.False(t, ok)

	snapAfter := Snapshot{Timestamp: 20, ActiveTxns: map[uint64]bool{}}
	r, ok := vs.GetVisibleVersion(1, snapAfter)
	require.True(t, ok)
	require.Equal(t, "v1", r.Values[0].Text)

	vs.InsertVersion(1, textRow("v2"), 200, 30)
	r, ok = vs.GetVisibleVersion(1, snapAfter)
	require.True(t, ok)
	require.Equal(t, "v1", r.Values[0].Text, "snapshot at ts 20 must not see a version created at ts 30")

	snapLatest := Snapshot{Timestamp: 40, ActiveTxns: map[uint64]bool{}}
	r, ok = vs.GetVisibleVersion(1, snapLatest)
	require.True(t, ok)
	require.Equal(t, "v2", r.Values[0].Text)
}

func TestVersionStoreTombstone(t *testing.T) {
	vs := NewVersionStore()
	vs.InsertVersion(1, textRow("v1"), 1, 10)
	vs.DeleteVersion(1, 2, 20)

	_, ok := vs.GetVisibleVersion(1, Snapshot{Timestamp: 30, ActiveTxns: map[uint64]bool{}})
	require.False(t, ok, "deleted row must not be visible after its delete timestamp")

	r, ok := vs.GetVisibleVersion(1, Snapshot{Timestamp: 15, ActiveTxns: map[uint64]bool{}})
	require.True(t, ok, "snapshot before the delete must still see the prior version")
	require.Equal(t, "v1", r.Values[0].Text)
}

func TestSnapshotExcludesActiveCreator(t *testing.T) {
	vs := NewVersionStore()
	vs.InsertVersion(1, textRow("v1"), 99, 10)
	snap := Snapshot{Timestamp: 20, ActiveTxns: map[uint64]bool{99: true}}
	_, ok := vs.GetVisibleVersion(1, snap)
	require.False(t, ok, "a version created by a still-active txn must not be visible")
}

func newTestCoordinator() (*Coordinator, *applyRecorder) {
	rec := &applyRecorder{}
	noopBegin := func(txnID uint64, isolation uint8) error { return nil }
	noopCommit := func(txnID, commitTS uint64) error { return nil }
	return NewCoordinator(NewClock(), NewLockManager(), NewVersionStore(), noopBegin, noopCommit), rec
}

type applyRecorder struct {
	calls []struct {
		table    string
		rowID    row.RowID
		op       WriteOp
		r        row.Row
		txnID    uint64
		commitTS uint64
	}
}

func (a *applyRecorder) apply(table string, rowID row.RowID, op WriteOp, r row.Row, txnID, commitTS uint64) error {
	a.calls = append(a.calls, struct {
		table    string
		rowID    row.RowID
		op       WriteOp
		r        row.Row
		txnID    uint64
		commitTS uint64
	}{table, rowID, op, r, txnID, commitTS})
	return nil
}

func TestCommitTransitionsStateAndAppliesWrites(t *testing.T) {
	c, rec := newTestCoordinator()
	txn := c.Begin(SnapshotIsolation)
	txn.Insert("users", 1, textRow("alice"))

	commitTS, err := c.Commit(txn, rec.apply)
	require.NoError(t, err)
	require.NotZero(t, commitTS)
	require.Equal(t, StateCommitted, txn.State())
	require.Len(t, rec.calls, 1)
	require.Equal(t, row.RowID(1), rec.calls[0].rowID)

	_, err = c.Commit(txn, rec.apply)
	require.Error(t, err, "committing an already-committed transaction must fail")
}

func TestRollbackClearsWriteSet(t *testing.T) {
	c, rec := newTestCoordinator()
	txn := c.Begin(SnapshotIsolation)
	txn.Insert("users", 1, textRow("alice"))

	require.NoError(t, c.Rollback(txn))
	require.Equal(t, StateAborted, txn.State())

	_, err := c.Commit(txn, rec.apply)
	require.Error(t, err, "committing a rolled-back transaction must fail")
	require.Empty(t, rec.calls)
}

func TestSavepointRollback(t *testing.T) {
	c, rec := newTestCoordinator()
	txn := c.Begin(SnapshotIsolation)

	txn.Insert("users", 10, textRow("original"))
	txn.CreateSavepoint("sp1")
	txn.Insert("users", 11, textRow("eleven"))
	txn.Insert("users", 12, textRow("twelve"))
	txn.Update("users", 10, textRow("changed"))

	require.NoError(t, c.RollbackToSavepoint(txn, "sp1"))

	txn.mu.Lock()
	_, has11 := txn.WriteSet[11]
	_, has12 := txn.WriteSet[12]
	entry10 := txn.WriteSet[10]
	txn.mu.Unlock()

	require.False(t, has11)
	require.False(t, has12)
	require.Equal(t, "original", entry10.Row.Values[0].Text)

	_, err := c.Commit(txn, rec.apply)
	require.NoError(t, err)
	require.Len(t, rec.calls, 1, "only row 10 should have been committed")
}

func TestSerializableWriteSkewDetected(t *testing.T) {
	c, rec := newTestCoordinator()

	txnA := c.Begin(Serializable)
	txnA.RecordRead(1)

	txnB := c.Begin(Serializable)
	txnB.Update("users", 1, textRow("from-b"))
	_, err := c.Commit(txnB, rec.apply)
	require.NoError(t, err)

	txnA.Update("users", 1, textRow("from-a"))
	_, err = c.Commit(txnA, rec.apply)
	require.Error(t, err, "txn A read row 1 before txn B's conflicting commit; Serializable must reject")
}

func TestReleaseSavepointKeepsChanges(t *testing.T) {
	c, rec := newTestCoordinator()
	txn := c.Begin(SnapshotIsolation)
	txn.CreateSavepoint("sp1")
	txn.Insert("users", 1, textRow("kept"))
	require.NoError(t, c.ReleaseSavepoint(txn, "sp1"))

	_, err := c.Commit(txn, rec.apply)
	require.NoError(t, err)
	require.Len(t, rec.calls, 1)
}
