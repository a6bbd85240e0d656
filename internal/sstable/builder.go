package sstable

import (
	"os"

	"github.com/motedb/motedb/internal/merrors"
)

// Meta describes a finished SSTable, the value a Builder.Finish and the
// manifest/compaction code pass around instead of re-opening the file.
type Meta struct {
	Path         string
	SizeBytes    int64
	NumEntries   uint64
	MinKey       uint64
	MaxKey       uint64
	MinTimestamp uint64
	MaxTimestamp uint64
}

// BuilderOptions configures block size, bloom sizing, and compression.
type BuilderOptions struct {
	BlockSize     int // bytes; a block is emitted once its buffer reaches this
	BitsPerKey    int // bloom filter bits per expected key
	ExpectedKeys  int // sizes the bloom filter; 0 uses a small default
	Compress      bool
}

// DefaultBuilderOptions returns a balanced configuration.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{BlockSize: 32 * 1024, BitsPerKey: 10, ExpectedKeys: 1024, Compress: true}
}

// Builder streams key-ordered entries into a new SSTable file.
type Builder struct {
	path string
	file *os.File
	opts BuilderOptions

	offset      int64
	pending     []Entry
	pendingSize int
	index       []IndexEntry
	bloom       *Bloom

	numEntries   uint64
	minKey       uint64
	maxKey       uint64
	haveKey      bool
	minTimestamp uint64
	maxTimestamp uint64
	haveTs       bool

	lastKey    uint64
	haveLast   bool
}

// NewBuilder creates (truncating) the SSTable file at path.
func NewBuilder(path string, opts BuilderOptions) (*Builder, error) {
	if opts.BlockSize <= 0 {
		opts = DefaultBuilderOptions()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, merrors.IOErr("sstable.builder.open", "failed to create sstable file", err)
	}
	return &Builder{
		path:  path,
		file:  f,
		opts:  opts,
		bloom: NewBloom(opts.ExpectedKeys, opts.BitsPerKey),
	}, nil
}

// Add appends one entry. Keys across the whole file must be strictly
// ascending; callers (the flush and compaction paths) are responsible for
// pre-sorting/merging, since the builder does no buffering-for-order of
// its own — it emits blocks as it goes.
func (b *Builder) Add(e Entry) error {
	if b.haveLast && e.Key <= b.lastKey {
		return merrors.InvalidDataErr("sstable.builder.add", "keys must be strictly ascending", nil)
	}
	b.lastKey = e.Key
	b.haveLast = true

	if !b.haveKey {
		b.minKey, b.maxKey, b.haveKey = e.Key, e.Key, true
	} else if e.Key > b.maxKey {
		b.maxKey = e.Key
	}
	if !b.haveTs {
		b.minTimestamp, b.maxTimestamp, b.haveTs = e.Timestamp, e.Timestamp, true
	} else {
		if e.Timestamp < b.minTimestamp {
			b.minTimestamp = e.Timestamp
		}
		if e.Timestamp > b.maxTimestamp {
			b.maxTimestamp = e.Timestamp
		}
	}

	b.bloom.Add(e.Key)
	b.numEntries++

	b.pending = append(b.pending, e)
	b.pendingSize += e.encodedSize()
	if b.pendingSize >= b.opts.BlockSize {
		return b.flushBlock()
	}
	return nil
}

func (b *Builder) flushBlock() error {
	if len(b.pending) == 0 {
		return nil
	}
	firstKey := b.pending[0].Key
	raw := encodeBlock(b.pending, b.opts.Compress)

	n, err := b.file.WriteAt(raw, b.offset)
	if err != nil {
		return merrors.IOErr("sstable.builder.flush_block", "failed to write data block", err)
	}
	b.index = append(b.index, IndexEntry{FirstKey: firstKey, Offset: uint64(b.offset), Size: uint64(n)})
	b.offset += int64(n)
	b.pending = b.pending[:0]
	b.pendingSize = 0
	return nil
}

// Finish flushes any buffered block, writes the index block, bloom filter,
// and footer, fsyncs the file, and returns its metadata.
func (b *Builder) Finish() (Meta, error) {
	if err := b.flushBlock(); err != nil {
		return Meta{}, err
	}

	indexBytes := encodeIndexBlock(b.index)
	indexOffset := b.offset
	if _, err := b.file.WriteAt(indexBytes, indexOffset); err != nil {
		return Meta{}, merrors.IOErr("sstable.builder.finish", "failed to write index block", err)
	}
	b.offset += int64(len(indexBytes))

	bloomBytes := b.bloom.Encode()
	bloomOffset := b.offset
	if _, err := b.file.WriteAt(bloomBytes, bloomOffset); err != nil {
		return Meta{}, merrors.IOErr("sstable.builder.finish", "failed to write bloom filter", err)
	}
	b.offset += int64(len(bloomBytes))

	footer := Footer{
		Magic:        Magic,
		Version:      FormatVersion,
		IndexOffset:  uint64(indexOffset),
		IndexSize:    uint64(len(indexBytes)),
		BloomOffset:  uint64(bloomOffset),
		BloomSize:    uint64(len(bloomBytes)),
		EntryCount:   b.numEntries,
		MinTimestamp: b.minTimestamp,
		MaxTimestamp: b.maxTimestamp,
	}
	footerBytes := footer.Encode()
	if _, err := b.file.WriteAt(footerBytes, b.offset); err != nil {
		return Meta{}, merrors.IOErr("sstable.builder.finish", "failed to write footer", err)
	}
	b.offset += int64(len(footerBytes))

	if err := b.file.Sync(); err != nil {
		return Meta{}, merrors.IOErr("sstable.builder.finish", "failed to fsync sstable", err)
	}
	if err := b.file.Close(); err != nil {
		return Meta{}, merrors.IOErr("sstable.builder.finish", "failed to close sstable", err)
	}

	return Meta{
		Path:         b.path,
		SizeBytes:    b.offset,
		NumEntries:   b.numEntries,
		MinKey:       b.minKey,
		MaxKey:       b.maxKey,
		MinTimestamp: b.minTimestamp,
		MaxTimestamp: b.maxTimestamp,
	}, nil
}

// Abort discards a partially-built file, closing and removing it.
func (b *Builder) Abort() {
	b.file.Close()
	os.Remove(b.path)
}
