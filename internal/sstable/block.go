// Package sstable implements MoteDB's immutable, sorted, block-compressed
// SSTable: the on-disk unit the LSM engine flushes memtables into and
// compacts. Layout, wire types, and the footer follow spec.md §3/§6
// exactly: [Block...][IndexBlock][BloomFilter][64-byte Footer].
package sstable

import (
	"encoding/binary"

	"github.com/golang/snappy"
	"github.com/motedb/motedb/internal/merrors"
)

// ValueKind discriminates an on-disk entry's value body.
type ValueKind uint8

const (
	ValueInline ValueKind = 0
	ValueBlob   ValueKind = 1
)

const (
	blockFlagRaw    byte = 0
	blockFlagSnappy byte = 1
)

// Entry is one (key, timestamp, deleted, value) tuple as stored in a block.
type Entry struct {
	Key       uint64
	Timestamp uint64
	Deleted   bool
	Kind      ValueKind
	Inline    []byte // ValueInline
	FileID    uint32 // ValueBlob
	Offset    uint64 // ValueBlob
	Size      uint32 // ValueBlob
}

// encodedSize returns the entry's serialized byte length (excluding the
// block-level count prefix).
func (e Entry) encodedSize() int {
	base := 8 + 8 + 1 + 1 // key + timestamp + deleted + kind
	if e.Kind == ValueBlob {
		return base + 4 + 8 + 4
	}
	return base + 4 + len(e.Inline)
}

func appendEntry(buf []byte, e Entry) []byte {
	var hdr [18]byte
	binary.BigEndian.PutUint64(hdr[0:8], e.Key)
	binary.BigEndian.PutUint64(hdr[8:16], e.Timestamp)
	if e.Deleted {
		hdr[16] = 1
	}
	hdr[17] = byte(e.Kind)
	buf = append(buf, hdr[:]...)

	if e.Kind == ValueBlob {
		var body [16]byte
		binary.BigEndian.PutUint32(body[0:4], e.FileID)
		binary.BigEndian.PutUint64(body[4:12], e.Offset)
		binary.BigEndian.PutUint32(body[12:16], e.Size)
		buf = append(buf, body[:]...)
	} else {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(e.Inline)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, e.Inline...)
	}
	return buf
}

func consumeEntry(data []byte) (Entry, []byte, error) {
	if len(data) < 18 {
		return Entry{}, nil, merrors.CorruptionErr("sstable.block.decode", "truncated entry header", nil)
	}
	e := Entry{
		Key:       binary.BigEndian.Uint64(data[0:8]),
		Timestamp: binary.BigEndian.Uint64(data[8:16]),
		Deleted:   data[16] != 0,
		Kind:      ValueKind(data[17]),
	}
	data = data[18:]

	if e.Kind == ValueBlob {
		if len(data) < 16 {
			return Entry{}, nil, merrors.CorruptionErr("sstable.block.decode", "truncated blob ref", nil)
		}
		e.FileID = binary.BigEndian.Uint32(data[0:4])
		e.Offset = binary.BigEndian.Uint64(data[4:12])
		e.Size = binary.BigEndian.Uint32(data[12:16])
		return e, data[16:], nil
	}

	if len(data) < 4 {
		return Entry{}, nil, merrors.CorruptionErr("sstable.block.decode", "truncated inline length", nil)
	}
	n := binary.BigEndian.Uint32(data[0:4])
	data = data[4:]
	if uint64(len(data)) < uint64(n) {
		return Entry{}, nil, merrors.CorruptionErr("sstable.block.decode", "truncated inline payload", nil)
	}
	e.Inline = append([]byte(nil), data[:n]...)
	return e, data[n:], nil
}

// encodeBlock serializes entries (already strictly key-ascending) into a
// raw payload: u32 count followed by the entries themselves, optionally
// snappy-compressed with a leading flag byte.
func encodeBlock(entries []Entry, compress bool) []byte {
	payload := make([]byte, 4, 256)
	binary.BigEndian.PutUint32(payload[0:4], uint32(len(entries)))
	for _, e := range entries {
		payload = appendEntry(payload, e)
	}

	if compress {
		compressed := snappy.Encode(nil, payload)
		out := make([]byte, 1+len(compressed))
		out[0] = blockFlagSnappy
		copy(out[1:], compressed)
		return out
	}
	out := make([]byte, 1+len(payload))
	out[0] = blockFlagRaw
	copy(out[1:], payload)
	return out
}

// decodeBlock reverses encodeBlock.
func decodeBlock(raw []byte) ([]Entry, error) {
	if len(raw) < 1 {
		return nil, merrors.CorruptionErr("sstable.block.decode", "empty block", nil)
	}
	flag, body := raw[0], raw[1:]

	var payload []byte
	switch flag {
	case blockFlagRaw:
		payload = body
	case blockFlagSnappy:
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, merrors.CorruptionErr("sstable.block.decode", "snappy decompression failed", err)
		}
		payload = decoded
	default:
		return nil, merrors.CorruptionErr("sstable.block.decode", "unknown block flag", nil)
	}

	if len(payload) < 4 {
		return nil, merrors.CorruptionErr("sstable.block.decode", "truncated block count", nil)
	}
	count := binary.BigEndian.Uint32(payload[0:4])
	data := payload[4:]

	entries := make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		e, rest, err := consumeEntry(data)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		data = rest
	}
	return entries, nil
}
