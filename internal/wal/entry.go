package wal

import (
	"encoding/binary"
	"io"
)

// Fixed-size entry header, one per WAL record.
const (
	HeaderSize = 24 // fixed header size in bytes
	WALVersion = 1  // current WAL wire format version

	// WALMagic identifies a MoteDB WAL entry header.
	WALMagic = 0x4D4F5445
)

// WALHeader is the 24-byte fixed header preceding every entry's payload.
// EntryType mirrors a RecordKind value; it is kept as a separate byte
// outside the protowire payload so recovery can classify and CRC-validate
// an entry without decoding the payload first.
type WALHeader struct {
	Magic      uint32 // 4 bytes
	Version    uint8  // 1 byte
	EntryType  uint8  // 1 byte
	Reserved   uint16 // 2 bytes (padding/alignment)
	LSN        uint64 // 8 bytes (log sequence number)
	PayloadLen uint32 // 4 bytes
	CRC32      uint32 // 4 bytes, checksum of the payload only
}

// WALEntry is a complete on-disk log entry.
type WALEntry struct {
	Header  WALHeader
	Payload []byte
}

// Encode serializes the header into buf, which must be HeaderSize bytes.
func (h *WALHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.EntryType
	binary.LittleEndian.PutUint16(buf[6:8], h.Reserved)
	binary.LittleEndian.PutUint64(buf[8:16], h.LSN)
	binary.LittleEndian.PutUint32(buf[16:20], h.PayloadLen)
	binary.LittleEndian.PutUint32(buf[20:24], h.CRC32)
}

// Decode parses a HeaderSize-byte buffer into h.
func (h *WALHeader) Decode(buf []byte) {
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Version = buf[4]
	h.EntryType = buf[5]
	h.Reserved = binary.LittleEndian.Uint16(buf[6:8])
	h.LSN = binary.LittleEndian.Uint64(buf[8:16])
	h.PayloadLen = binary.LittleEndian.Uint32(buf[16:20])
	h.CRC32 = binary.LittleEndian.Uint32(buf[20:24])
}

// WriteTo writes header then payload to w.
func (e *WALEntry) WriteTo(w io.Writer) (int64, error) {
	var headerBuf [HeaderSize]byte
	e.Header.Encode(headerBuf[:])

	n, err := w.Write(headerBuf[:])
	if err != nil {
		return int64(n), err
	}
	m, err := w.Write(e.Payload)
	return int64(n + m), err
}
