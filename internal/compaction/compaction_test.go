package compaction

import (
	"path/filepath"
	"testing"

	"github.com/motedb/motedb/internal/manifest"
	"github.com/motedb/motedb/internal/sstable"
	"github.com/stretchr/testify/require"
)

func buildTable(t *testing.T, dir, name string, entries []sstable.Entry) manifest.SSTableMeta {
	t.Helper()
	path := filepath.Join(dir, name)
	b, err := sstable.NewBuilder(path, sstable.DefaultBuilderOptions())
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, b.Add(e))
	}
	meta, err := b.Finish()
	require.NoError(t, err)
	return manifest.SSTableMeta{
		Path: meta.Path, MinKey: meta.MinKey, MaxKey: meta.MaxKey, SizeBytes: meta.SizeBytes,
	}
}

func TestRunMergesAndDedupsNewestWins(t *testing.T) {
	dir := t.TempDir()
	older := buildTable(t, dir, "older.sst", []sstable.Entry{
		{Key: 1, Timestamp: 1, Inline: []byte("old-1")},
		{Key: 2, Timestamp: 1, Inline: []byte("old-2")},
	})
	newer := buildTable(t, dir, "newer.sst", []sstable.Entry{
		{Key: 2, Timestamp: 2, Inline: []byte("new-2")},
		{Key: 3, Timestamp: 2, Inline: []byte("new-3")},
	})

	var nextID uint64
	alloc := func() (uint64, error) { nextID++; return nextID, nil }

	outputs, stats, err := Run([]manifest.SSTableMeta{older, newer}, alloc, 1, false, DefaultOptions(dir))
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	require.EqualValues(t, 1, stats.EntriesDropped)

	r, err := sstable.Open(outputs[0].Path)
	require.NoError(t, err)
	defer r.Close()

	e, ok, err := r.Get(2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("new-2"), e.Inline)

	e, ok, err = r.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("old-1"), e.Inline)
}

func TestRunDropsExpiredTombstonesOnBaseLevel(t *testing.T) {
	dir := t.TempDir()
	table := buildTable(t, dir, "t.sst", []sstable.Entry{
		{Key: 1, Timestamp: 1, Deleted: true},
		{Key: 2, Timestamp: 1, Inline: []byte("v2")},
	})

	var nextID uint64
	alloc := func() (uint64, error) { nextID++; return nextID, nil }
	opts := DefaultOptions(dir)

	outputs, stats, err := Run([]manifest.SSTableMeta{table}, alloc, 1, true, opts)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.EntriesDropped)
	require.Len(t, outputs, 1)

	r, err := sstable.Open(outputs[0].Path)
	require.NoError(t, err)
	defer r.Close()
	_, ok, err := r.Get(1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPickL0RequiresTrigger(t *testing.T) {
	opts := DefaultOptions(t.TempDir())
	opts.L0CompactionTrigger = 2
	require.Nil(t, PickL0([]manifest.SSTableMeta{{ID: 1}}, opts))
	require.Len(t, PickL0([]manifest.SSTableMeta{{ID: 1}, {ID: 2}}, opts), 2)
}

func TestPickLevelWidensToOverlappingNext(t *testing.T) {
	opts := DefaultOptions(t.TempDir())
	opts.BaseLevelSizeBytes = 1

	level := []manifest.SSTableMeta{{ID: 1, MinKey: 10, MaxKey: 20, SizeBytes: 100}}
	next := []manifest.SSTableMeta{
		{ID: 2, MinKey: 0, MaxKey: 15, SizeBytes: 50},
		{ID: 3, MinKey: 25, MaxKey: 30, SizeBytes: 50},
	}

	from, to := PickLevel(1, level, next, opts)
	require.Len(t, from, 1)
	require.Len(t, to, 1)
	require.EqualValues(t, 2, to[0].ID)
}
