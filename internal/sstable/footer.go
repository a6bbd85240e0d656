package sstable

import (
	"encoding/binary"

	"github.com/motedb/motedb/internal/merrors"
)

const (
	// Magic identifies a MoteDB SSTable file.
	Magic      uint32 = 0x4C534D54
	FormatVersion uint32 = 1

	// FooterSize is the fixed trailing footer length.
	FooterSize = 64
)

// Footer is the fixed 64-byte trailer every SSTable ends with.
type Footer struct {
	Magic        uint32
	Version      uint32
	IndexOffset  uint64
	IndexSize    uint64
	BloomOffset  uint64
	BloomSize    uint64
	EntryCount   uint64
	MinTimestamp uint64
	MaxTimestamp uint64
}

// Encode serializes the footer into a FooterSize-byte buffer.
func (f Footer) Encode() []byte {
	buf := make([]byte, FooterSize)
	binary.BigEndian.PutUint32(buf[0:4], f.Magic)
	binary.BigEndian.PutUint32(buf[4:8], f.Version)
	binary.BigEndian.PutUint64(buf[8:16], f.IndexOffset)
	binary.BigEndian.PutUint64(buf[16:24], f.IndexSize)
	binary.BigEndian.PutUint64(buf[24:32], f.BloomOffset)
	binary.BigEndian.PutUint64(buf[32:40], f.BloomSize)
	binary.BigEndian.PutUint64(buf[40:48], f.EntryCount)
	binary.BigEndian.PutUint64(buf[48:56], f.MinTimestamp)
	binary.BigEndian.PutUint64(buf[56:64], f.MaxTimestamp)
	return buf
}

// DecodeFooter parses a FooterSize-byte buffer, validating the magic.
func DecodeFooter(buf []byte) (Footer, error) {
	if len(buf) != FooterSize {
		return Footer{}, merrors.CorruptionErr("sstable.footer.decode", "wrong footer size", nil)
	}
	f := Footer{
		Magic:        binary.BigEndian.Uint32(buf[0:4]),
		Version:      binary.BigEndian.Uint32(buf[4:8]),
		IndexOffset:  binary.BigEndian.Uint64(buf[8:16]),
		IndexSize:    binary.BigEndian.Uint64(buf[16:24]),
		BloomOffset:  binary.BigEndian.Uint64(buf[24:32]),
		BloomSize:    binary.BigEndian.Uint64(buf[32:40]),
		EntryCount:   binary.BigEndian.Uint64(buf[40:48]),
		MinTimestamp: binary.BigEndian.Uint64(buf[48:56]),
		MaxTimestamp: binary.BigEndian.Uint64(buf[56:64]),
	}
	if f.Magic != Magic {
		return Footer{}, merrors.CorruptionErr("sstable.footer.decode", "bad magic number", nil)
	}
	return f, nil
}

// IndexEntry is one (first_key, offset, size) triple describing a data
// block, used to binary-search for the block that might hold a key.
type IndexEntry struct {
	FirstKey uint64
	Offset   uint64
	Size     uint64
}

func encodeIndexBlock(entries []IndexEntry) []byte {
	buf := make([]byte, 0, len(entries)*24)
	for _, e := range entries {
		var b [24]byte
		binary.BigEndian.PutUint64(b[0:8], e.FirstKey)
		binary.BigEndian.PutUint64(b[8:16], e.Offset)
		binary.BigEndian.PutUint64(b[16:24], e.Size)
		buf = append(buf, b[:]...)
	}
	return buf
}

func decodeIndexBlock(data []byte) ([]IndexEntry, error) {
	if len(data)%24 != 0 {
		return nil, merrors.CorruptionErr("sstable.index.decode", "index block not a multiple of entry size", nil)
	}
	n := len(data) / 24
	out := make([]IndexEntry, n)
	for i := 0; i < n; i++ {
		b := data[i*24 : i*24+24]
		out[i] = IndexEntry{
			FirstKey: binary.BigEndian.Uint64(b[0:8]),
			Offset:   binary.BigEndian.Uint64(b[8:16]),
			Size:     binary.BigEndian.Uint64(b[16:24]),
		}
	}
	return out, nil
}
