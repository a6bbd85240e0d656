package wal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/motedb/motedb/internal/merrors"
	"github.com/motedb/motedb/internal/motecrc"
)

// partitionWriter owns one partition_<i>.wal file. Composite keys route to a
// partition via key mod Partitions so a single hot row never serializes
// writes to unrelated rows behind one mutex.
type partitionWriter struct {
	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	index   uint32
	pending int64 // bytes written since the last fsync

	done   chan struct{}
	ticker *time.Ticker
	closed bool
}

// Manager fans writes out across Options.Partitions partition files and
// allocates LSNs from one process-wide monotonic counter.
type Manager struct {
	opts       Options
	partitions []*partitionWriter
	lsn        atomic.Uint64
}

func partitionPath(dir string, i uint32) string {
	return filepath.Join(dir, fmt.Sprintf("partition_%d.wal", i))
}

// PartitionFor returns the partition a composite key routes to.
func PartitionFor(compositeKey uint64, partitions uint32) uint32 {
	return uint32(compositeKey % uint64(partitions))
}

// NewManager opens (creating if needed) Options.Partitions partition files
// under Options.DirPath.
func NewManager(opts Options) (*Manager, error) {
	if opts.Partitions == 0 {
		opts.Partitions = 1
	}
	if err := os.MkdirAll(opts.DirPath, 0755); err != nil {
		return nil, merrors.IOErr("wal.manager.open", "failed to create wal directory", err)
	}

	m := &Manager{opts: opts, partitions: make([]*partitionWriter, opts.Partitions)}
	for i := uint32(0); i < opts.Partitions; i++ {
		pw, err := openPartition(partitionPath(opts.DirPath, i), i, opts)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.partitions[i] = pw
	}
	return m, nil
}

func openPartition(path string, index uint32, opts Options) (*partitionWriter, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, merrors.IOErr("wal.partition.open", "failed to open wal partition file", err)
	}

	pw := &partitionWriter{
		file:   f,
		writer: bufio.NewWriterSize(f, opts.BufferSize),
		index:  index,
		done:   make(chan struct{}),
	}

	if opts.Policy == Periodic {
		pw.ticker = time.NewTicker(opts.PeriodicInterval)
		go pw.backgroundSync()
	}
	return pw, nil
}

func (pw *partitionWriter) writeLocked(entry *WALEntry) error {
	n, err := entry.WriteTo(pw.writer)
	if err != nil {
		return merrors.IOErr("wal.partition.write", "failed to write wal entry", err)
	}
	pw.pending += n
	return nil
}

func (pw *partitionWriter) syncLocked() error {
	if err := pw.writer.Flush(); err != nil {
		return merrors.IOErr("wal.partition.sync", "failed to flush wal buffer", err)
	}
	if err := pw.file.Sync(); err != nil {
		return merrors.IOErr("wal.partition.sync", "failed to fsync wal file", err)
	}
	pw.pending = 0
	return nil
}

func (pw *partitionWriter) backgroundSync() {
	for {
		select {
		case <-pw.ticker.C:
			pw.mu.Lock()
			_ = pw.syncLocked()
			pw.mu.Unlock()
		case <-pw.done:
			return
		}
	}
}

func (pw *partitionWriter) close() error {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if pw.closed {
		return nil
	}
	pw.closed = true
	if pw.ticker != nil {
		pw.ticker.Stop()
		close(pw.done)
	}
	err := pw.syncLocked()
	closeErr := pw.file.Close()
	if err != nil {
		return err
	}
	return closeErr
}

func (m *Manager) nextLSN() uint64 { return m.lsn.Add(1) }

// LastLSN returns the most recently assigned LSN, the watermark the
// manifest records on each flush so recovery knows which WAL records are
// already durable in an SSTable.
func (m *Manager) LastLSN() uint64 { return m.lsn.Load() }

func (m *Manager) buildEntry(kind RecordKind, rec *Record) *WALEntry {
	rec.Kind = kind
	lsn := m.nextLSN()
	rec.LSN = lsn
	payload := MarshalRecord(rec)
	return &WALEntry{
		Header: WALHeader{
			Magic:      WALMagic,
			Version:    WALVersion,
			EntryType:  uint8(kind),
			LSN:        lsn,
			PayloadLen: uint32(len(payload)),
			CRC32:      motecrc.Checksum(payload),
		},
		Payload: payload,
	}
}

// append writes a single entry to its partition and applies the configured
// sync policy, returning the LSN assigned to the entry.
func (m *Manager) append(partition uint32, kind RecordKind, rec *Record) (uint64, error) {
	if partition >= uint32(len(m.partitions)) {
		return 0, merrors.InvalidDataErr("wal.append", "partition out of range", nil)
	}
	entry := m.buildEntry(kind, rec)
	pw := m.partitions[partition]

	pw.mu.Lock()
	defer pw.mu.Unlock()

	if err := pw.writeLocked(entry); err != nil {
		return 0, err
	}

	switch m.opts.Policy {
	case Synchronous:
		if err := pw.syncLocked(); err != nil {
			return 0, err
		}
	case GroupCommit:
		// A caller relying on the durability guarantee should follow up
		// with Sync(partition) once it has queued all writes in its
		// batch; a single append under GroupCommit is flushed to the OS
		// buffer immediately but not necessarily fsynced.
		if err := pw.writer.Flush(); err != nil {
			return 0, merrors.IOErr("wal.append", "failed to flush wal buffer", err)
		}
	case NoSync, Periodic:
		// left for the background ticker or an explicit Sync call
	}
	return entry.Header.LSN, nil
}

// LogInsert appends an Insert record tagged with txnID, the owning
// transaction recovery's Analysis phase gates this record's redo on.
func (m *Manager) LogInsert(partition uint32, txnID uint64, table string, rowID uint64, data []byte) (uint64, error) {
	return m.append(partition, RecordInsert, &Record{Table: table, RowID: rowID, Partition: partition, Data: data, TxnID: txnID})
}

// LogUpdate appends an Update record carrying both the new and previous
// row bytes. Recovery redoes from the new bytes and does not read the
// previous ones.
func (m *Manager) LogUpdate(partition uint32, txnID uint64, table string, rowID uint64, data, oldData []byte) (uint64, error) {
	return m.append(partition, RecordUpdate, &Record{Table: table, RowID: rowID, Partition: partition, Data: data, OldData: oldData, TxnID: txnID})
}

// LogDelete appends a Delete record carrying the tombstoned row's previous
// bytes; recovery does not read them.
func (m *Manager) LogDelete(partition uint32, txnID uint64, table string, rowID uint64, oldData []byte) (uint64, error) {
	return m.append(partition, RecordDelete, &Record{Table: table, RowID: rowID, Partition: partition, OldData: oldData, TxnID: txnID})
}

// LogBegin appends a Begin record for a transaction.
func (m *Manager) LogBegin(partition uint32, txnID uint64, isolation uint8) (uint64, error) {
	return m.append(partition, RecordBegin, &Record{TxnID: txnID, Partition: partition, Isolation: isolation})
}

// LogCommit appends a Commit record carrying the assigned commit timestamp.
func (m *Manager) LogCommit(partition uint32, txnID uint64, commitTS uint64) (uint64, error) {
	return m.append(partition, RecordCommit, &Record{TxnID: txnID, Partition: partition, CommitTS: commitTS})
}

// LogRollback appends a Rollback record.
func (m *Manager) LogRollback(partition uint32, txnID uint64) (uint64, error) {
	return m.append(partition, RecordRollback, &Record{TxnID: txnID, Partition: partition})
}

// BatchAppend writes every record to partition under a single lock hold and
// performs exactly one fsync at the end (skipped entirely under NoSync).
func (m *Manager) BatchAppend(partition uint32, records []*Record) ([]uint64, error) {
	if partition >= uint32(len(m.partitions)) {
		return nil, merrors.InvalidDataErr("wal.batch_append", "partition out of range", nil)
	}
	pw := m.partitions[partition]
	lsns := make([]uint64, len(records))

	pw.mu.Lock()
	defer pw.mu.Unlock()

	for i, rec := range records {
		entry := m.buildEntry(rec.Kind, rec)
		if err := pw.writeLocked(entry); err != nil {
			return nil, err
		}
		lsns[i] = entry.Header.LSN
	}

	if m.opts.Policy != NoSync {
		if err := pw.syncLocked(); err != nil {
			return nil, err
		}
	} else if err := pw.writer.Flush(); err != nil {
		return nil, merrors.IOErr("wal.batch_append", "failed to flush wal buffer", err)
	}
	return lsns, nil
}

// Sync forces an fsync of partition, for callers using GroupCommit that
// need to confirm durability after queuing a batch of single appends.
func (m *Manager) Sync(partition uint32) error {
	if partition >= uint32(len(m.partitions)) {
		return merrors.InvalidDataErr("wal.sync", "partition out of range", nil)
	}
	pw := m.partitions[partition]
	pw.mu.Lock()
	defer pw.mu.Unlock()
	return pw.syncLocked()
}

// Checkpoint appends a Checkpoint record marking the last LSN whose effects
// are now durable in SSTables, fsyncs it, then truncates the partition file
// down to just that marker: every record before it is no longer needed for
// crash recovery since the flush that triggered the checkpoint already
// persisted their effects.
func (m *Manager) Checkpoint(partition uint32) error {
	if partition >= uint32(len(m.partitions)) {
		return merrors.InvalidDataErr("wal.checkpoint", "partition out of range", nil)
	}
	pw := m.partitions[partition]

	entry := m.buildEntry(RecordCheckpoint, &Record{Partition: partition})

	pw.mu.Lock()
	defer pw.mu.Unlock()

	if err := pw.writeLocked(entry); err != nil {
		return err
	}
	if err := pw.syncLocked(); err != nil {
		return err
	}

	if err := pw.file.Truncate(0); err != nil {
		return merrors.IOErr("wal.checkpoint", "failed to truncate wal partition", err)
	}
	if _, err := pw.file.Seek(0, 0); err != nil {
		return merrors.IOErr("wal.checkpoint", "failed to rewind wal partition", err)
	}
	pw.writer.Reset(pw.file)

	if err := pw.writeLocked(entry); err != nil {
		return err
	}
	return pw.syncLocked()
}

// Close flushes and closes every partition file.
func (m *Manager) Close() error {
	var firstErr error
	for _, pw := range m.partitions {
		if pw == nil {
			continue
		}
		if err := pw.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
