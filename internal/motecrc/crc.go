// Package motecrc provides the single CRC32C (Castagnoli) implementation
// shared by the WAL and blob store records, so every on-disk checksum in
// MoteDB is computed and validated the same way. SSTable blocks and footers
// carry no checksum.
package motecrc

import "hash/crc32"

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// Checksum computes the CRC32C of data.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoliTable)
}

// Validate reports whether data matches the expected CRC32C checksum.
func Validate(data []byte, expected uint32) bool {
	return Checksum(data) == expected
}
