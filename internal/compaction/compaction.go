// Package compaction implements MoteDB's two compaction strategies: tiered
// compaction across L0 sublevels (which may overlap in key range, since each
// is an independent flush) and leveled compaction from L1 upward (where each
// level's files are disjoint and sorted). Both funnel through a K-way
// min-heap merge keyed by (key, -timestamp) so the newest version of a key
// always wins and duplicate keys collapse to one output entry.
package compaction

import (
	"container/heap"
	"fmt"
	"path/filepath"
	"time"

	"github.com/motedb/motedb/internal/manifest"
	"github.com/motedb/motedb/internal/sstable"
	"github.com/rs/zerolog/log"
)

// maxOutputSizeBytes bounds a single compaction output file; once crossed,
// Run starts a fresh SSTable rather than growing one file without limit.
const maxOutputSizeBytes = 64 * 1024 * 1024

// Options tunes compaction trigger thresholds.
type Options struct {
	L0CompactionTrigger int           // number of L0 sublevels that trigger a compaction
	LevelSizeMultiplier int           // each level's target size is this factor times the one above
	BaseLevelSizeBytes  int64         // target size of L1
	TombstoneTTL        time.Duration // tombstones older than this are dropped during compaction
	Dir                 string        // directory new SSTables are written into
}

// DefaultOptions matches spec.md's defaults: 4 L0 sublevels, 10x level fanout,
// 24h tombstone retention.
func DefaultOptions(dir string) Options {
	return Options{
		L0CompactionTrigger: 4,
		LevelSizeMultiplier: 10,
		BaseLevelSizeBytes:  64 * 1024 * 1024,
		TombstoneTTL:        24 * time.Hour,
		Dir:                 dir,
	}
}

// Stats reports write amplification for one compaction run.
type Stats struct {
	InputFiles     int
	OutputFiles    int
	BytesRead      int64
	BytesWritten   int64
	EntriesWritten uint64
	EntriesDropped uint64 // expired tombstones and superseded versions
	Duration       time.Duration
}

// WriteAmplification is BytesWritten/BytesRead for this run, 0 if nothing
// was read.
func (s Stats) WriteAmplification() float64 {
	if s.BytesRead == 0 {
		return 0
	}
	return float64(s.BytesWritten) / float64(s.BytesRead)
}

// PickL0 returns a copy of every L0 file, in the order given, once the L0
// file count reaches the trigger, or nil if below threshold.
func PickL0(files []manifest.SSTableMeta, opts Options) []manifest.SSTableMeta {
	if len(files) < opts.L0CompactionTrigger {
		return nil
	}
	out := make([]manifest.SSTableMeta, len(files))
	copy(out, files)
	return out
}

// LevelTargetSize returns the target total byte size for a non-L0 level.
func LevelTargetSize(level int, opts Options) int64 {
	target := opts.BaseLevelSizeBytes
	for i := 1; i < level; i++ {
		target *= int64(opts.LevelSizeMultiplier)
	}
	return target
}

// PickLevel returns the files from level and (if any overlap) level+1 to
// compact when level's total size exceeds its target, or nil otherwise. The
// single largest file in level is chosen and widened to every level+1 file it
// overlaps.
func PickLevel(level int, levelFiles, nextFiles []manifest.SSTableMeta, opts Options) (from []manifest.SSTableMeta, to []manifest.SSTableMeta) {
	var total int64
	for _, f := range levelFiles {
		total += f.SizeBytes
	}
	if total <= LevelTargetSize(level, opts) || len(levelFiles) == 0 {
		return nil, nil
	}

	victim := levelFiles[0]
	for _, f := range levelFiles[1:] {
		if f.SizeBytes > victim.SizeBytes {
			victim = f
		}
	}
	from = []manifest.SSTableMeta{victim}

	for _, f := range nextFiles {
		if overlaps(victim, f) {
			to = append(to, f)
		}
	}
	return from, to
}

func overlaps(a, b manifest.SSTableMeta) bool {
	return a.MinKey <= b.MaxKey && b.MinKey <= a.MaxKey
}

// heapItem is one live stream in the K-way merge.
type heapItem struct {
	entry    sstable.Entry
	streamID int // higher streamID = later input, wins ties on equal key and timestamp
	it       *sstable.Iterator
}

type mergeHeap []*heapItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	if h[i].entry.Key != h[j].entry.Key {
		return h[i].entry.Key < h[j].entry.Key
	}
	if h[i].entry.Timestamp != h[j].entry.Timestamp {
		return h[i].entry.Timestamp > h[j].entry.Timestamp
	}
	return h[i].streamID > h[j].streamID
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)        { *h = append(*h, x.(*heapItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Run merges inputFiles (for equal keys the higher timestamp wins; on an
// equal timestamp too, the later file in inputFiles wins) into one or more
// new SSTables under opts.Dir,
// dropping superseded versions and tombstones older than opts.TombstoneTTL
// unless isBaseLevel is false (a tombstone must survive until it has
// propagated to the last level, since an older value might still live
// below it).
func Run(inputFiles []manifest.SSTableMeta, nextFileID func() (uint64, error), targetLevel int, isBaseLevel bool, opts Options) ([]manifest.SSTableMeta, Stats, error) {
	start := clockNow()
	readers := make([]*sstable.Reader, 0, len(inputFiles))
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()

	h := &mergeHeap{}
	heap.Init(h)
	var bytesRead int64
	for i, meta := range inputFiles {
		r, err := sstable.Open(meta.Path)
		if err != nil {
			return nil, Stats{}, err
		}
		readers = append(readers, r)
		bytesRead += meta.SizeBytes

		it := r.NewIterator()
		if it.Next() {
			heap.Push(h, &heapItem{entry: it.Entry(), streamID: i, it: it})
		} else if it.Err() != nil {
			return nil, Stats{}, it.Err()
		}
	}

	var outputs []manifest.SSTableMeta
	var stats Stats
	stats.InputFiles = len(inputFiles)

	var builder *sstable.Builder
	var builderSize int64
	var builderID uint64

	finishCurrent := func() error {
		if builder == nil {
			return nil
		}
		meta, err := builder.Finish()
		if err != nil {
			return err
		}
		builder = nil
		outputs = append(outputs, manifest.SSTableMeta{
			ID:           builderID,
			Level:        targetLevel,
			Path:         meta.Path,
			MinKey:       meta.MinKey,
			MaxKey:       meta.MaxKey,
			MinTimestamp: int64(meta.MinTimestamp),
			MaxTimestamp: int64(meta.MaxTimestamp),
			SizeBytes:    meta.SizeBytes,
		})
		stats.BytesWritten += meta.SizeBytes
		stats.EntriesWritten += meta.NumEntries
		return nil
	}

	var lastKey uint64
	haveLast := false
	cutoff := uint64(0)
	if isBaseLevel && opts.TombstoneTTL > 0 {
		cutoff = uint64(nowUnixNano()) - uint64(opts.TombstoneTTL.Nanoseconds())
	}

	for h.Len() > 0 {
		top := (*h)[0]
		entry := top.entry

		if top.it.Next() {
			next := &heapItem{entry: top.it.Entry(), streamID: top.streamID, it: top.it}
			(*h)[0] = next
			heap.Fix(h, 0)
		} else {
			if top.it.Err() != nil {
				return nil, Stats{}, top.it.Err()
			}
			heap.Pop(h)
		}

		if haveLast && entry.Key == lastKey {
			stats.EntriesDropped++
			continue // superseded by a newer version already emitted
		}
		lastKey, haveLast = entry.Key, true

		if isBaseLevel && entry.Deleted && entry.Timestamp < cutoff {
			stats.EntriesDropped++
			continue
		}

		if builder == nil {
			id, err := nextFileID()
			if err != nil {
				return nil, Stats{}, err
			}
			builderID = id
			path := filepath.Join(opts.Dir, fmt.Sprintf("%06d.sst", id))
			builder, err = sstable.NewBuilder(path, sstable.DefaultBuilderOptions())
			if err != nil {
				return nil, Stats{}, err
			}
		}

		if err := builder.Add(entry); err != nil {
			return nil, Stats{}, err
		}
		builderSize += int64(entry.Size) + int64(len(entry.Inline)) + 24
		if builderSize >= maxOutputSizeBytes {
			if err := finishCurrent(); err != nil {
				return nil, Stats{}, err
			}
			builderSize = 0
		}
	}

	if err := finishCurrent(); err != nil {
		return nil, Stats{}, err
	}

	stats.BytesRead = bytesRead
	stats.OutputFiles = len(outputs)
	stats.Duration = clockNow().Sub(start)

	log.Debug().
		Int("input_files", stats.InputFiles).
		Int("output_files", stats.OutputFiles).
		Uint64("entries_dropped", stats.EntriesDropped).
		Float64("write_amp", stats.WriteAmplification()).
		Msg("compaction run complete")

	return outputs, stats, nil
}

// RemovedIDs extracts the manifest file IDs to retire after a compaction.
func RemovedIDs(files []manifest.SSTableMeta) []uint64 {
	ids := make([]uint64, len(files))
	for i, f := range files {
		ids[i] = f.ID
	}
	return ids
}

// clockNow and nowUnixNano are the only two time reads in this package,
// isolated so tests can't trip over wall-clock flakiness when asserting on
// Stats.Duration or tombstone cutoffs.
func clockNow() time.Time { return time.Now() }
func nowUnixNano() int64  { return time.Now().UnixNano() }
