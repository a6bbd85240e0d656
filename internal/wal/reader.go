package wal

import (
	"io"
	"os"

	"github.com/motedb/motedb/internal/merrors"
	"github.com/motedb/motedb/internal/motecrc"
	"github.com/rs/zerolog/log"
)

// Reader reads entries from one partition file sequentially.
type Reader struct {
	file   *os.File
	offset int64
}

// NewReader opens a reader over an existing partition file.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, merrors.IOErr("wal.reader.open", "failed to open wal partition file", err)
	}
	return &Reader{file: f}, nil
}

// maxPayloadLen guards against allocating on a garbage length read out of a
// corrupted header.
const maxPayloadLen = 1 << 30

// ReadEntry reads the next entry. It returns io.EOF at a clean end of file.
// A truncated trailing write (the process crashed mid-append) surfaces as
// io.ErrUnexpectedEOF, which Recover treats as the end of valid history
// rather than a hard failure.
func (r *Reader) ReadEntry() (*WALEntry, error) {
	headerBuf := make([]byte, HeaderSize)
	n, err := io.ReadFull(r.file, headerBuf)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	if n != HeaderSize {
		return nil, io.ErrUnexpectedEOF
	}

	var header WALHeader
	header.Decode(headerBuf)

	if header.Magic != WALMagic {
		return nil, merrors.CorruptionErr("wal.reader.read_entry", "bad magic number", nil)
	}
	if header.PayloadLen > maxPayloadLen {
		return nil, merrors.CorruptionErr("wal.reader.read_entry", "payload length too large", nil)
	}

	entry := &WALEntry{Header: header}
	if header.PayloadLen == 0 {
		return entry, nil
	}

	entry.Payload = make([]byte, header.PayloadLen)
	if _, err := io.ReadFull(r.file, entry.Payload); err != nil {
		return nil, io.ErrUnexpectedEOF
	}

	if !motecrc.Validate(entry.Payload, header.CRC32) {
		return nil, merrors.CorruptionErr("wal.reader.read_entry", "checksum mismatch", nil)
	}

	r.offset += int64(HeaderSize) + int64(header.PayloadLen)
	return entry, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Recover reads every partition file and returns the records needed to
// rebuild in-memory state: everything after the last Checkpoint record in
// each partition (records before it are assumed already durable in
// SSTables). A corrupted or truncated tail stops that partition's replay at
// the last good entry rather than failing recovery outright, matching an
// append-only log that can be torn by a crash mid-write.
func (m *Manager) Recover() (map[uint32][]*Record, error) {
	out := make(map[uint32][]*Record, len(m.partitions))

	var maxLSN uint64
	for i := range m.partitions {
		path := partitionPath(m.opts.DirPath, uint32(i))
		records, err := recoverPartition(path)
		if err != nil {
			return nil, err
		}
		out[uint32(i)] = records
		for _, rec := range records {
			if rec.LSN > maxLSN {
				maxLSN = rec.LSN
			}
		}
	}
	for {
		cur := m.lsn.Load()
		if maxLSN <= cur || m.lsn.CompareAndSwap(cur, maxLSN) {
			break
		}
	}
	return out, nil
}

func recoverPartition(path string) ([]*Record, error) {
	r, err := NewReader(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var all []*Record
	lastCheckpoint := -1

	for {
		entry, err := r.ReadEntry()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("wal: stopping replay at corrupted or truncated entry")
			break
		}

		rec, err := UnmarshalRecord(entry.Payload)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("wal: stopping replay at undecodable record")
			break
		}
		rec.LSN = entry.Header.LSN

		all = append(all, rec)
		if rec.Kind == RecordCheckpoint {
			lastCheckpoint = len(all) - 1
		}
	}

	if lastCheckpoint >= 0 {
		all = all[lastCheckpoint+1:]
	}
	return all, nil
}
