package wal_test

import (
	"testing"

	"github.com/motedb/motedb/internal/wal"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, policy wal.SyncPolicy) *wal.Manager {
	t.Helper()
	opts := wal.DefaultOptions()
	opts.DirPath = t.TempDir()
	opts.Partitions = 4
	opts.Policy = policy
	m, err := wal.NewManager(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestManager_LogInsertAssignsIncreasingLSNs(t *testing.T) {
	m := newTestManager(t, wal.Synchronous)

	lsn1, err := m.LogInsert(0, 0, "users", 1, []byte("alice"))
	require.NoError(t, err)

	lsn2, err := m.LogInsert(0, 0, "users", 2, []byte("bob"))
	require.NoError(t, err)

	require.Greater(t, lsn2, lsn1)
}

func TestManager_BatchAppendAssignsIncreasingLSNs(t *testing.T) {
	m := newTestManager(t, wal.NoSync)

	records := []*wal.Record{
		{Kind: wal.RecordInsert, Table: "users", RowID: 1, Data: []byte("a")},
		{Kind: wal.RecordInsert, Table: "users", RowID: 2, Data: []byte("b")},
		{Kind: wal.RecordInsert, Table: "users", RowID: 3, Data: []byte("c")},
	}
	lsns, err := m.BatchAppend(1, records)
	require.NoError(t, err)
	require.Len(t, lsns, 3)
	require.Greater(t, lsns[1], lsns[0])
	require.Greater(t, lsns[2], lsns[1])
}

func TestManager_PartitionOutOfRange(t *testing.T) {
	m := newTestManager(t, wal.NoSync)

	_, err := m.LogInsert(99, 0, "users", 1, []byte("x"))
	require.Error(t, err)
}

func TestPartitionFor_IsStable(t *testing.T) {
	require.Equal(t, wal.PartitionFor(10, 4), wal.PartitionFor(10, 4))
	require.Less(t, wal.PartitionFor(10, 4), uint32(4))
}
