package index

import (
	"testing"
	"time"

	"github.com/motedb/motedb/internal/query"
	"github.com/motedb/motedb/internal/row"
	"github.com/motedb/motedb/internal/types"
	"github.com/stretchr/testify/require"
)

func rowWithText(s string) row.Row {
	return row.Row{Values: []row.Value{row.TextValue(s)}}
}

func TestColumnIndexEqualityAndRange(t *testing.T) {
	ci := NewColumnIndex("by_age", "users", 0)
	ci.Insert(1, row.Row{Values: []row.Value{row.IntegerValue(10)}})
	ci.Insert(2, row.Row{Values: []row.Value{row.IntegerValue(20)}})
	ci.Insert(3, row.Row{Values: []row.Value{row.IntegerValue(20)}})
	ci.Insert(4, row.Row{Values: []row.Value{row.IntegerValue(30)}})

	got := ci.Query(query.Equal(types.IntKey(20)))
	require.ElementsMatch(t, []row.RowID{2, 3}, got)

	got = ci.Query(query.Between(types.IntKey(15), types.IntKey(25)))
	require.ElementsMatch(t, []row.RowID{2, 3}, got)

	got = ci.Query(query.GreaterThan(types.IntKey(20)))
	require.ElementsMatch(t, []row.RowID{4}, got)
}

func TestColumnIndexUpdateMovesPosting(t *testing.T) {
	ci := NewColumnIndex("by_age", "users", 0)
	ci.Insert(1, row.Row{Values: []row.Value{row.IntegerValue(10)}})
	ci.Insert(1, row.Row{Values: []row.Value{row.IntegerValue(99)}})

	require.Empty(t, ci.Query(query.Equal(types.IntKey(10))))
	require.ElementsMatch(t, []row.RowID{1}, ci.Query(query.Equal(types.IntKey(99))))
}

func TestColumnIndexRemove(t *testing.T) {
	ci := NewColumnIndex("by_age", "users", 0)
	ci.Insert(1, row.Row{Values: []row.Value{row.IntegerValue(10)}})
	ci.Remove(1)
	require.Empty(t, ci.Query(query.Equal(types.IntKey(10))))
	require.Equal(t, 0, ci.Len())
}

func TestColumnIndexInsertIdempotent(t *testing.T) {
	ci := NewColumnIndex("by_age", "users", 0)
	ci.Insert(1, row.Row{Values: []row.Value{row.IntegerValue(10)}})
	ci.Insert(1, row.Row{Values: []row.Value{row.IntegerValue(10)}})
	require.Equal(t, []row.RowID{1}, ci.Query(query.Equal(types.IntKey(10))))
}

func TestTimestampIndexRange(t *testing.T) {
	ti := NewTimestampIndex("events", 0)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ti.Insert(1, row.Row{Values: []row.Value{row.TimestampValue(base)}})
	ti.Insert(2, row.Row{Values: []row.Value{row.TimestampValue(base.Add(time.Hour))}})
	ti.Insert(3, row.Row{Values: []row.Value{row.TimestampValue(base.Add(48 * time.Hour))}})

	got := ti.QueryRange(base, base.Add(2*time.Hour))
	require.ElementsMatch(t, []row.RowID{1, 2}, got)
}

func TestVectorIndexSearchOrdersByDistance(t *testing.T) {
	vi := NewVectorIndex("by_embedding", "docs", 0, 2)
	require.NoError(t, vi.Insert(1, row.Row{Values: []row.Value{row.VectorValue([]float32{0, 0})}}))
	require.NoError(t, vi.Insert(2, row.Row{Values: []row.Value{row.VectorValue([]float32{10, 10})}}))
	require.NoError(t, vi.Insert(3, row.Row{Values: []row.Value{row.VectorValue([]float32{1, 1})}}))

	hits := vi.Search([]float32{0, 0}, 2)
	require.Len(t, hits, 2)
	require.Equal(t, row.RowID(1), hits[0].RowID)
	require.Equal(t, row.RowID(3), hits[1].RowID)
	require.LessOrEqual(t, hits[0].Distance, hits[1].Distance)
}

func TestVectorIndexDimensionMismatch(t *testing.T) {
	vi := NewVectorIndex("by_embedding", "docs", 0, 3)
	err := vi.Insert(1, row.Row{Values: []row.Value{row.VectorValue([]float32{1, 2})}})
	require.Error(t, err)
}

func TestSpatialIndexBoundingBox(t *testing.T) {
	si := NewSpatialIndex("by_loc", "places", 0)
	mk := func(x, y float64) row.Row {
		return row.Row{Values: []row.Value{row.SpatialValue(EncodePoint(Point{X: x, Y: y}))}}
	}
	require.NoError(t, si.Insert(1, mk(0, 0)))
	require.NoError(t, si.Insert(2, mk(5, 5)))
	require.NoError(t, si.Insert(3, mk(100, 100)))

	got := si.Search(BoundingBox{MinX: -1, MinY: -1, MaxX: 10, MaxY: 10})
	require.ElementsMatch(t, []row.RowID{1, 2}, got)
}

func TestSpatialIndexRemove(t *testing.T) {
	si := NewSpatialIndex("by_loc", "places", 0)
	r := row.Row{Values: []row.Value{row.SpatialValue(EncodePoint(Point{X: 1, Y: 1}))}}
	require.NoError(t, si.Insert(1, r))
	si.Remove(1)
	got := si.Search(BoundingBox{MinX: 0, MinY: 0, MaxX: 2, MaxY: 2})
	require.Empty(t, got)
}

func TestTextIndexRanksMoreRelevantHigher(t *testing.T) {
	ti := NewTextIndex("by_body", "docs", 0)
	ti.Insert(1, rowWithText("the quick brown fox"))
	ti.Insert(2, rowWithText("fox fox fox jumps"))
	ti.Insert(3, rowWithText("completely unrelated text"))

	hits := ti.Search("fox", 10)
	require.Len(t, hits, 2)
	require.Equal(t, row.RowID(2), hits[0].RowID, "doc with higher term frequency should rank first")
}

func TestTextIndexRemoveClearsPostings(t *testing.T) {
	ti := NewTextIndex("by_body", "docs", 0)
	ti.Insert(1, rowWithText("hello world"))
	ti.Remove(1)
	require.Empty(t, ti.Search("hello", 10))
	require.Equal(t, 0, ti.Len())
}

func TestTextIndexReinsertReplacesTerms(t *testing.T) {
	ti := NewTextIndex("by_body", "docs", 0)
	ti.Insert(1, rowWithText("alpha"))
	ti.Insert(1, rowWithText("beta"))
	require.Empty(t, ti.Search("alpha", 10))
	require.Len(t, ti.Search("beta", 10), 1)
}
