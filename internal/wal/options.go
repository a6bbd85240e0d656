package wal

import "time"

// SyncPolicy selects the durability strategy for a WAL partition.
type SyncPolicy int

const (
	// Synchronous calls fsync() after every append. Safest, slowest.
	Synchronous SyncPolicy = iota

	// GroupCommit fsyncs only in BatchAppend (or an explicit Sync); a
	// single append is flushed to the OS but not fsynced.
	GroupCommit

	// Periodic fsyncs on a background timer (PeriodicInterval).
	Periodic

	// NoSync never calls fsync(); durability relies entirely on the
	// OS page cache. Fastest, only safe for disposable/test data.
	NoSync
)

// Options configures a Writer.
type Options struct {
	// DirPath is the directory holding partition_<i>.wal files.
	DirPath string

	// Partitions is the number of partition files; a composite key's
	// partition is composite_key mod Partitions.
	Partitions uint32

	// BufferSize is the bufio buffer size per partition, in bytes.
	BufferSize int

	Policy SyncPolicy

	// PeriodicInterval is the fsync period when Policy is Periodic.
	PeriodicInterval time.Duration

	// GroupCommitWindow is carried in the options but nothing reads it: a
	// GroupCommit append never waits for other appends.
	GroupCommitWindow time.Duration
}

// DefaultOptions returns a balanced configuration.
func DefaultOptions() Options {
	return Options{
		DirPath:           "./wal_data",
		Partitions:        8,
		BufferSize:        64 * 1024,
		Policy:            GroupCommit,
		PeriodicInterval:  200 * time.Millisecond,
		GroupCommitWindow: 5 * time.Millisecond,
	}
}
