package index

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/motedb/motedb/internal/merrors"
	"github.com/motedb/motedb/internal/row"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Point is a minimal 2D point geometry, MoteDB's entire WKB-like spatial
// encoding: two big-endian float64s, X then Y. Polygon/line geometry is out
// of scope (the core specifies only the index adapter interface, not a
// full geometry model).
type Point struct {
	X, Y float64
}

// EncodePoint serializes p into the bytes row.Value.Spatial carries.
func EncodePoint(p Point) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], math.Float64bits(p.X))
	binary.BigEndian.PutUint64(buf[8:16], math.Float64bits(p.Y))
	return buf
}

// DecodePoint parses bytes written by EncodePoint.
func DecodePoint(b []byte) (Point, error) {
	if len(b) != 16 {
		return Point{}, merrors.InvalidDataErr("index.spatial.decode_point", fmt.Sprintf("expected 16 bytes, got %d", len(b)), nil)
	}
	x := math.Float64frombits(binary.BigEndian.Uint64(b[0:8]))
	y := math.Float64frombits(binary.BigEndian.Uint64(b[8:16]))
	return Point{X: x, Y: y}, nil
}

// BoundingBox is an axis-aligned query region, inclusive on every edge.
type BoundingBox struct {
	MinX, MinY, MaxX, MaxY float64
}

// Contains reports whether p falls within bb.
func (bb BoundingBox) Contains(p Point) bool {
	return p.X >= bb.MinX && p.X <= bb.MaxX && p.Y >= bb.MinY && p.Y <= bb.MaxY
}

// defaultCellSize buckets points coarsely enough that a typical query
// bounding box touches a handful of cells, not thousands.
const defaultCellSize = 10.0

type cellKey struct{ cx, cy int64 }

func cellFor(p Point, size float64) cellKey {
	return cellKey{cx: int64(math.Floor(p.X / size)), cy: int64(math.Floor(p.Y / size))}
}

// SpatialIndex is a uniform-grid bounding-box index: points are bucketed
// into fixed-size cells, and a range query only scans the cells the query
// box overlaps. This is MoteDB's simplified stand-in for an R-tree, which
// is out of this layer's scope.
type SpatialIndex struct {
	Name      string
	Table     string
	ColumnIdx int
	CellSize  float64

	mu     sync.RWMutex
	cells  map[cellKey][]row.RowID
	points map[row.RowID]Point
}

// NewSpatialIndex creates an empty spatial index using the default cell
// size.
func NewSpatialIndex(name, table string, columnIdx int) *SpatialIndex {
	return &SpatialIndex{
		Name: name, Table: table, ColumnIdx: columnIdx, CellSize: defaultCellSize,
		cells: make(map[cellKey][]row.RowID), points: make(map[row.RowID]Point),
	}
}

// Insert indexes one row's spatial column value.
func (si *SpatialIndex) Insert(id row.RowID, r row.Row) error {
	v := r.ColumnValue(si.ColumnIdx)
	if v.Kind != row.KindSpatial {
		return nil
	}
	p, err := DecodePoint(v.Spatial)
	if err != nil {
		return err
	}
	si.mu.Lock()
	defer si.mu.Unlock()
	if old, ok := si.points[id]; ok {
		si.removeFromCellLocked(id, old)
	}
	k := cellFor(p, si.CellSize)
	si.cells[k] = append(si.cells[k], id)
	si.points[id] = p
	return nil
}

// Remove drops id from the index.
func (si *SpatialIndex) Remove(id row.RowID) {
	si.mu.Lock()
	defer si.mu.Unlock()
	p, ok := si.points[id]
	if !ok {
		return
	}
	si.removeFromCellLocked(id, p)
	delete(si.points, id)
}

func (si *SpatialIndex) removeFromCellLocked(id row.RowID, p Point) {
	k := cellFor(p, si.CellSize)
	list := si.cells[k]
	for i, rid := range list {
		if rid == id {
			si.cells[k] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// BatchInsert indexes every non-tombstone row in rows.
func (si *SpatialIndex) BatchInsert(rows []FlushRow) error {
	for _, fr := range rows {
		if fr.Deleted {
			si.Remove(fr.RowID)
			continue
		}
		if err := si.Insert(fr.RowID, fr.Row); err != nil {
			return err
		}
	}
	return nil
}

// Search returns every indexed row id whose point falls within bb.
func (si *SpatialIndex) Search(bb BoundingBox) []row.RowID {
	si.mu.RLock()
	defer si.mu.RUnlock()

	minCell := cellFor(Point{X: bb.MinX, Y: bb.MinY}, si.CellSize)
	maxCell := cellFor(Point{X: bb.MaxX, Y: bb.MaxY}, si.CellSize)

	var out []row.RowID
	for cx := minCell.cx; cx <= maxCell.cx; cx++ {
		for cy := minCell.cy; cy <= maxCell.cy; cy++ {
			for _, id := range si.cells[cellKey{cx, cy}] {
				if bb.Contains(si.points[id]) {
					out = append(out, id)
				}
			}
		}
	}
	return out
}

// Len returns how many points are currently indexed.
func (si *SpatialIndex) Len() int {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return len(si.points)
}

type wireSpatialEntry struct {
	RowID uint64  `bson:"row_id"`
	X     float64 `bson:"x"`
	Y     float64 `bson:"y"`
}

// Save persists the index's points to path as BSON.
func (si *SpatialIndex) Save(path string) error {
	si.mu.RLock()
	entries := make([]wireSpatialEntry, 0, len(si.points))
	for id, p := range si.points {
		entries = append(entries, wireSpatialEntry{RowID: uint64(id), X: p.X, Y: p.Y})
	}
	si.mu.RUnlock()

	data, err := bson.Marshal(struct {
		Entries []wireSpatialEntry `bson:"entries"`
	}{Entries: entries})
	if err != nil {
		return merrors.SerializationErr("index.spatial.save", "bson marshal failed", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return merrors.IOErr("index.spatial.save", "failed to write index file", err)
	}
	return nil
}

// Load rebuilds the index from a file Save previously wrote.
func (si *SpatialIndex) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return merrors.IOErr("index.spatial.load", "failed to read index file", err)
	}
	var wire struct {
		Entries []wireSpatialEntry `bson:"entries"`
	}
	if err := bson.Unmarshal(data, &wire); err != nil {
		return merrors.SerializationErr("index.spatial.load", "bson unmarshal failed", err)
	}

	si.mu.Lock()
	defer si.mu.Unlock()
	for _, we := range wire.Entries {
		id := row.RowID(we.RowID)
		p := Point{X: we.X, Y: we.Y}
		k := cellFor(p, si.CellSize)
		si.cells[k] = append(si.cells[k], id)
		si.points[id] = p
	}
	return nil
}
