// Package manifest tracks the current set of SSTables per level (and L0
// sublevel) plus the LSN watermark as of the last flush, so Open() can
// reconstruct the LSM's on-disk shape without replaying every SSTable
// footer. Writes use the same write-temp-then-rename atomicity the
// teacher's checkpoint manager uses for B+Tree snapshots, and a CURRENT
// pointer file in the LevelDB/RocksDB/Pebble tradition selects which
// manifest generation is live; that naming convention is borrowed, the
// libraries are not.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/motedb/motedb/internal/merrors"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// SSTableMeta describes one SSTable file tracked by the manifest.
type SSTableMeta struct {
	ID           uint64 `bson:"id"`
	Level        int    `bson:"level"`
	Sublevel     int    `bson:"sublevel"` // meaningful only for Level == 0
	Path         string `bson:"path"`
	MinKey       uint64 `bson:"min_key"`
	MaxKey       uint64 `bson:"max_key"`
	MinTimestamp int64  `bson:"min_ts"`
	MaxTimestamp int64  `bson:"max_ts"`
	SizeBytes    int64  `bson:"size_bytes"`
}

// Snapshot is the full durable state of the LSM's file layout.
type Snapshot struct {
	Levels     map[int][]SSTableMeta `bson:"-"`
	NextFileID uint64                `bson:"next_file_id"`
	LastLSN    uint64                `bson:"last_lsn"`
}

// wireSnapshot mirrors Snapshot but with string level keys: the BSON map
// codec requires string (or TextMarshaler) map keys, so integer levels are
// formatted going out and parsed coming back.
type wireSnapshot struct {
	Levels     map[string][]SSTableMeta `bson:"levels"`
	NextFileID uint64                   `bson:"next_file_id"`
	LastLSN    uint64                   `bson:"last_lsn"`
}

func emptySnapshot() Snapshot {
	return Snapshot{Levels: make(map[int][]SSTableMeta), NextFileID: 1}
}

func toWire(s Snapshot) wireSnapshot {
	w := wireSnapshot{Levels: make(map[string][]SSTableMeta, len(s.Levels)), NextFileID: s.NextFileID, LastLSN: s.LastLSN}
	for level, files := range s.Levels {
		w.Levels[strconv.Itoa(level)] = files
	}
	return w
}

func fromWire(w wireSnapshot) (Snapshot, error) {
	s := Snapshot{Levels: make(map[int][]SSTableMeta, len(w.Levels)), NextFileID: w.NextFileID, LastLSN: w.LastLSN}
	for levelStr, files := range w.Levels {
		level, err := strconv.Atoi(levelStr)
		if err != nil {
			return Snapshot{}, merrors.CorruptionErr("manifest.from_wire", "non-integer level key", err)
		}
		s.Levels[level] = files
	}
	return s, nil
}

// Manifest is the durable record of a database's current SSTable layout.
type Manifest struct {
	mu       sync.Mutex
	dir      string
	seq      uint64
	snapshot Snapshot
}

const currentFile = "CURRENT"

func manifestFileName(seq uint64) string {
	return fmt.Sprintf("MANIFEST_%06d", seq)
}

// Open loads the manifest generation named by CURRENT, or creates an empty
// one if the directory has never been initialized.
func Open(dir string) (*Manifest, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, merrors.IOErr("manifest.open", "failed to create manifest directory", err)
	}

	m := &Manifest{dir: dir}

	currentPath := filepath.Join(dir, currentFile)
	data, err := os.ReadFile(currentPath)
	if os.IsNotExist(err) {
		m.snapshot = emptySnapshot()
		if err := m.save(); err != nil {
			return nil, err
		}
		return m, nil
	}
	if err != nil {
		return nil, merrors.IOErr("manifest.open", "failed to read CURRENT pointer", err)
	}

	name := strings.TrimSpace(string(data))
	seq, err := parseManifestSeq(name)
	if err != nil {
		return nil, merrors.CorruptionErr("manifest.open", "malformed CURRENT pointer", err)
	}

	snapshotData, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, merrors.IOErr("manifest.open", "failed to read manifest generation", err)
	}

	var wire wireSnapshot
	if err := bson.Unmarshal(snapshotData, &wire); err != nil {
		return nil, merrors.SerializationErr("manifest.open", "failed to decode manifest", err)
	}
	snap, err := fromWire(wire)
	if err != nil {
		return nil, err
	}

	m.seq = seq
	m.snapshot = snap
	return m, nil
}

func parseManifestSeq(name string) (uint64, error) {
	const prefix = "MANIFEST_"
	if !strings.HasPrefix(name, prefix) {
		return 0, merrors.CorruptionErr("manifest.parse_seq", "missing MANIFEST_ prefix", nil)
	}
	return strconv.ParseUint(strings.TrimPrefix(name, prefix), 10, 64)
}

// Snapshot returns a copy of the current durable state.
func (m *Manifest) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSnapshot(m.snapshot)
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := Snapshot{Levels: make(map[int][]SSTableMeta, len(s.Levels)), NextFileID: s.NextFileID, LastLSN: s.LastLSN}
	for level, files := range s.Levels {
		cp := make([]SSTableMeta, len(files))
		copy(cp, files)
		out.Levels[level] = cp
	}
	return out
}

// NextFileID allocates and persists the next SSTable file id.
func (m *Manifest) NextFileID() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.snapshot.NextFileID
	m.snapshot.NextFileID++
	return id, m.save()
}

// Apply records a set of added and removed SSTables atomically (a flush or
// a compaction) along with the new WAL LSN watermark, then persists the
// result as a new manifest generation.
func (m *Manifest) Apply(added []SSTableMeta, removed []uint64, lastLSN uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	removedSet := make(map[uint64]bool, len(removed))
	for _, id := range removed {
		removedSet[id] = true
	}

	for level, files := range m.snapshot.Levels {
		kept := files[:0:0]
		for _, f := range files {
			if !removedSet[f.ID] {
				kept = append(kept, f)
			}
		}
		m.snapshot.Levels[level] = kept
	}

	for _, f := range added {
		m.snapshot.Levels[f.Level] = append(m.snapshot.Levels[f.Level], f)
	}
	for level := range m.snapshot.Levels {
		sort.Slice(m.snapshot.Levels[level], func(i, j int) bool {
			return m.snapshot.Levels[level][i].MinKey < m.snapshot.Levels[level][j].MinKey
		})
	}

	if lastLSN > m.snapshot.LastLSN {
		m.snapshot.LastLSN = lastLSN
	}
	return m.save()
}

// save writes the current snapshot as a new manifest generation, repoints
// CURRENT at it atomically, then drops older generations.
func (m *Manifest) save() error {
	m.seq++
	name := manifestFileName(m.seq)
	path := filepath.Join(m.dir, name)

	data, err := bson.Marshal(toWire(m.snapshot))
	if err != nil {
		return merrors.SerializationErr("manifest.save", "failed to encode manifest", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return merrors.IOErr("manifest.save", "failed to write manifest temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return merrors.IOErr("manifest.save", "failed to install manifest generation", err)
	}

	currentTmp := filepath.Join(m.dir, currentFile+".tmp")
	if err := os.WriteFile(currentTmp, []byte(name), 0644); err != nil {
		return merrors.IOErr("manifest.save", "failed to write CURRENT temp file", err)
	}
	if err := os.Rename(currentTmp, filepath.Join(m.dir, currentFile)); err != nil {
		return merrors.IOErr("manifest.save", "failed to repoint CURRENT", err)
	}

	m.cleanOldGenerations()
	return nil
}

func (m *Manifest) cleanOldGenerations() {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "MANIFEST_") {
			continue
		}
		seq, err := parseManifestSeq(e.Name())
		if err == nil && seq < m.seq {
			os.Remove(filepath.Join(m.dir, e.Name()))
		}
	}
}
