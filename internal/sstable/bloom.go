package sstable

import (
	"encoding/binary"

	"github.com/motedb/motedb/internal/merrors"
)

// Bloom is a fixed-size Bloom filter over 64-bit keys, built once per
// SSTable and consulted before any block is touched: may_contain=false is a
// hard guarantee the key is absent from the file.
type Bloom struct {
	numHashes uint32
	bits      []byte
	numBits   uint64
}

// NewBloom sizes a filter for expectedKeys entries at bitsPerKey bits each.
func NewBloom(expectedKeys int, bitsPerKey int) *Bloom {
	if expectedKeys < 1 {
		expectedKeys = 1
	}
	if bitsPerKey < 1 {
		bitsPerKey = 10
	}
	numBits := uint64(expectedKeys * bitsPerKey)
	if numBits < 64 {
		numBits = 64
	}
	numHashes := uint32(float64(bitsPerKey) * 0.69) // ln(2)
	if numHashes < 1 {
		numHashes = 1
	}
	if numHashes > 30 {
		numHashes = 30
	}
	return &Bloom{
		numHashes: numHashes,
		bits:      make([]byte, (numBits+7)/8),
		numBits:   numBits,
	}
}

func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}

// Add records key in the filter using double hashing: two base hashes
// combined linearly to derive numHashes probe positions, the standard
// technique for Bloom filters that avoids numHashes independent hash
// functions.
func (b *Bloom) Add(key uint64) {
	h1 := splitmix64(key)
	h2 := splitmix64(h1)
	for i := uint32(0); i < b.numHashes; i++ {
		pos := (h1 + uint64(i)*h2) % b.numBits
		b.bits[pos/8] |= 1 << (pos % 8)
	}
}

// MayContain reports whether key might be present. false is definitive.
func (b *Bloom) MayContain(key uint64) bool {
	if b.numBits == 0 {
		return true
	}
	h1 := splitmix64(key)
	h2 := splitmix64(h1)
	for i := uint32(0); i < b.numHashes; i++ {
		pos := (h1 + uint64(i)*h2) % b.numBits
		if b.bits[pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
	}
	return true
}

// Encode serializes the filter as: u32 num_hashes, u64 num_bits, bits.
func (b *Bloom) Encode() []byte {
	out := make([]byte, 4+8+len(b.bits))
	binary.BigEndian.PutUint32(out[0:4], b.numHashes)
	binary.BigEndian.PutUint64(out[4:12], b.numBits)
	copy(out[12:], b.bits)
	return out
}

// DecodeBloom parses bytes produced by Encode.
func DecodeBloom(data []byte) (*Bloom, error) {
	if len(data) < 12 {
		return nil, merrors.CorruptionErr("sstable.bloom.decode", "truncated bloom header", nil)
	}
	numHashes := binary.BigEndian.Uint32(data[0:4])
	numBits := binary.BigEndian.Uint64(data[4:12])
	bits := data[12:]
	if uint64(len(bits)*8) < numBits {
		return nil, merrors.CorruptionErr("sstable.bloom.decode", "truncated bloom bits", nil)
	}
	return &Bloom{numHashes: numHashes, numBits: numBits, bits: bits}, nil
}
