package manifest_test

import (
	"testing"

	"github.com/motedb/motedb/internal/manifest"
	"github.com/stretchr/testify/require"
)

func TestManifest_OpenCreatesEmptySnapshot(t *testing.T) {
	m, err := manifest.Open(t.TempDir())
	require.NoError(t, err)

	snap := m.Snapshot()
	require.Empty(t, snap.Levels)
	require.EqualValues(t, 1, snap.NextFileID)
}

func TestManifest_ApplyAddsAndRemoves(t *testing.T) {
	dir := t.TempDir()
	m, err := manifest.Open(dir)
	require.NoError(t, err)

	id1, err := m.NextFileID()
	require.NoError(t, err)
	id2, err := m.NextFileID()
	require.NoError(t, err)

	err = m.Apply([]manifest.SSTableMeta{
		{ID: id1, Level: 0, Path: "sst1.db", MinKey: 1, MaxKey: 100},
		{ID: id2, Level: 0, Path: "sst2.db", MinKey: 101, MaxKey: 200},
	}, nil, 10)
	require.NoError(t, err)

	snap := m.Snapshot()
	require.Len(t, snap.Levels[0], 2)
	require.EqualValues(t, 10, snap.LastLSN)

	err = m.Apply([]manifest.SSTableMeta{
		{ID: id1 + id2 + 1, Level: 1, Path: "merged.db", MinKey: 1, MaxKey: 200},
	}, []uint64{id1, id2}, 11)
	require.NoError(t, err)

	snap = m.Snapshot()
	require.Empty(t, snap.Levels[0])
	require.Len(t, snap.Levels[1], 1)
}

func TestManifest_ReopenRestoresState(t *testing.T) {
	dir := t.TempDir()
	m, err := manifest.Open(dir)
	require.NoError(t, err)
	id, err := m.NextFileID()
	require.NoError(t, err)
	require.NoError(t, m.Apply([]manifest.SSTableMeta{
		{ID: id, Level: 2, Path: "sst.db", MinKey: 1, MaxKey: 50},
	}, nil, 5))

	m2, err := manifest.Open(dir)
	require.NoError(t, err)
	snap := m2.Snapshot()
	require.Len(t, snap.Levels[2], 1)
	require.EqualValues(t, 5, snap.LastLSN)
	require.Equal(t, "sst.db", snap.Levels[2][0].Path)
}
