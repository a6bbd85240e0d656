// Package motedb implements the Database facade: schema/table management,
// CRUD wired through WAL/LSM/MVCC/index, transactions with savepoints, and
// the registered flush callback that keeps every secondary index converged
// with what the LSM has durably published.
package motedb

import (
	"path/filepath"
	"time"

	"github.com/motedb/motedb/internal/compaction"
	"github.com/motedb/motedb/internal/lsm"
	"github.com/motedb/motedb/internal/wal"
)

// Config aggregates every subsystem's options into the single struct Open
// takes, mirroring the teacher's per-subsystem Config/Options pattern
// (wal.Options, compaction.Options) one level up.
type Config struct {
	Dir string

	MemtableSizeLimit int64
	VectorDim         int
	WAL               wal.Options
	Compaction        compaction.Options
	BlobSegmentSize   int64

	// FlushThreshold is a pending-write count carried by the presets. No
	// code path reads it: inserts keep no pending counter and never start a
	// flush by count. A flush happens when the active memtable reaches
	// MemtableSizeLimit, or on an explicit Flush or Close.
	FlushThreshold int

	// BatchIndexThreshold is the minimum number of rows a flushed table's
	// batch must contain before index adapters use their batch-build path
	// instead of relying on already-applied incremental updates.
	BatchIndexThreshold int

	// TombstoneTTL, when positive, replaces Compaction.TombstoneTTL, the
	// tombstone retention compaction applies when it writes the deepest
	// level.
	TombstoneTTL time.Duration

	// QueryTimeout is stored with the configuration, but no query path
	// reads it: queries run to completion with no time limit.
	QueryTimeout time.Duration
}

// DefaultConfig returns balanced defaults rooted at dir, the teacher's
// "default" preset.
func DefaultConfig(dir string) Config {
	walOpts := wal.DefaultOptions()
	walOpts.DirPath = filepath.Join(dir, "wal")

	return Config{
		Dir:                 dir,
		MemtableSizeLimit:    16 * 1024 * 1024,
		WAL:                 walOpts,
		Compaction:           compaction.DefaultOptions(filepath.Join(dir, "sstables")),
		BlobSegmentSize:      64 * 1024 * 1024,
		FlushThreshold:       1000,
		BatchIndexThreshold:  500,
		TombstoneTTL:         24 * time.Hour,
		QueryTimeout:         30 * time.Second,
	}
}

// TestConfig returns a preset tuned for fast, deterministic tests: small
// memtables so flush/compaction paths exercise without needing thousands of
// rows, synchronous WAL so assertions never race a background fsync.
func TestConfig(dir string) Config {
	cfg := DefaultConfig(dir)
	cfg.MemtableSizeLimit = 16 * 1024
	cfg.FlushThreshold = 10
	cfg.BatchIndexThreshold = 5
	cfg.WAL.Policy = wal.Synchronous
	cfg.TombstoneTTL = time.Second
	return cfg
}

// ProductionConfig returns a preset favoring durability and steady-state
// throughput over raw peak write speed: group-commit WAL, larger memtables
// to amortize flush overhead.
func ProductionConfig(dir string) Config {
	cfg := DefaultConfig(dir)
	cfg.MemtableSizeLimit = 64 * 1024 * 1024
	cfg.WAL.Policy = wal.GroupCommit
	cfg.FlushThreshold = 5000
	return cfg
}

// HighThroughputConfig favors write throughput over durability and read
// amplification: large memtables, periodic (not per-write) fsync.
func HighThroughputConfig(dir string) Config {
	cfg := DefaultConfig(dir)
	cfg.MemtableSizeLimit = 128 * 1024 * 1024
	cfg.WAL.Policy = wal.Periodic
	cfg.FlushThreshold = 10000
	cfg.BlobSegmentSize = 256 * 1024 * 1024
	return cfg
}

// LowMemoryConfig favors a small resident footprint over throughput: tiny
// memtables and frequent flushes, at the cost of more (smaller) SSTables
// and more frequent compaction.
func LowMemoryConfig(dir string) Config {
	cfg := DefaultConfig(dir)
	cfg.MemtableSizeLimit = 1 * 1024 * 1024
	cfg.FlushThreshold = 200
	cfg.BlobSegmentSize = 8 * 1024 * 1024
	return cfg
}

func (c Config) lsmConfig() lsm.Config {
	comp := c.Compaction
	if c.TombstoneTTL > 0 {
		comp.TombstoneTTL = c.TombstoneTTL
	}
	return lsm.Config{
		Dir:               c.Dir,
		MemtableSizeLimit: c.MemtableSizeLimit,
		VectorDim:         c.VectorDim,
		WAL:               c.WAL,
		Compaction:        comp,
		BlobSegmentSize:   c.BlobSegmentSize,
	}
}
