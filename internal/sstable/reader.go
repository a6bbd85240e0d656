package sstable

import (
	"os"
	"sort"

	"github.com/motedb/motedb/internal/merrors"
)

// Reader opens an immutable SSTable file, keeping its footer, index block,
// and bloom filter resident in memory so Get only ever touches disk for
// the one data block that might hold the key.
type Reader struct {
	path   string
	file   *os.File
	footer Footer
	index  []IndexEntry
	bloom  *Bloom
}

// Open opens path and loads its footer, index block, and bloom filter.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, merrors.FileNotFoundErr("sstable.open", path, err)
		}
		return nil, merrors.IOErr("sstable.open", "failed to open sstable", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, merrors.IOErr("sstable.open", "failed to stat sstable", err)
	}
	if info.Size() < FooterSize {
		f.Close()
		return nil, merrors.CorruptionErr("sstable.open", "file too small to contain a footer", nil)
	}

	footerBuf := make([]byte, FooterSize)
	if _, err := f.ReadAt(footerBuf, info.Size()-FooterSize); err != nil {
		f.Close()
		return nil, merrors.IOErr("sstable.open", "failed to read footer", err)
	}
	footer, err := DecodeFooter(footerBuf)
	if err != nil {
		f.Close()
		return nil, err
	}

	indexBuf := make([]byte, footer.IndexSize)
	if _, err := f.ReadAt(indexBuf, int64(footer.IndexOffset)); err != nil {
		f.Close()
		return nil, merrors.IOErr("sstable.open", "failed to read index block", err)
	}
	index, err := decodeIndexBlock(indexBuf)
	if err != nil {
		f.Close()
		return nil, err
	}

	bloomBuf := make([]byte, footer.BloomSize)
	if _, err := f.ReadAt(bloomBuf, int64(footer.BloomOffset)); err != nil {
		f.Close()
		return nil, merrors.IOErr("sstable.open", "failed to read bloom filter", err)
	}
	bloom, err := DecodeBloom(bloomBuf)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Reader{path: path, file: f, footer: footer, index: index, bloom: bloom}, nil
}

func (r *Reader) Path() string       { return r.path }
func (r *Reader) Footer() Footer     { return r.footer }
func (r *Reader) NumEntries() uint64 { return r.footer.EntryCount }

// Close closes the underlying file.
func (r *Reader) Close() error { return r.file.Close() }

// MayContain delegates to the resident bloom filter.
func (r *Reader) MayContain(key uint64) bool { return r.bloom.MayContain(key) }

func (r *Reader) readBlock(ie IndexEntry) ([]Entry, error) {
	raw := make([]byte, ie.Size)
	if _, err := r.file.ReadAt(raw, int64(ie.Offset)); err != nil {
		return nil, merrors.IOErr("sstable.read_block", "failed to read data block", err)
	}
	return decodeBlock(raw)
}

// Get returns the entry for key, if present, via bloom test + block-index
// binary search + block linear scan.
func (r *Reader) Get(key uint64) (Entry, bool, error) {
	if !r.bloom.MayContain(key) {
		return Entry{}, false, nil
	}
	if len(r.index) == 0 {
		return Entry{}, false, nil
	}

	i := sort.Search(len(r.index), func(i int) bool { return r.index[i].FirstKey > key }) - 1
	if i < 0 {
		return Entry{}, false, nil
	}

	entries, err := r.readBlock(r.index[i])
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.Key == key {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// Iterator streams every entry in the file in ascending key order.
type Iterator struct {
	r      *Reader
	blkIdx int
	pos    int
	cur    []Entry
	err    error
}

// NewIterator returns a full-file iterator.
func (r *Reader) NewIterator() *Iterator {
	return &Iterator{r: r}
}

// NewRangeIterator returns an iterator positioned at the block that might
// hold the first key >= start; callers still need to skip leading entries
// below start within that block, but every later block is pure forward
// progress. If start is before every key in the file, iteration begins at
// the first block.
func (r *Reader) NewRangeIterator(start uint64) *Iterator {
	if len(r.index) == 0 {
		return &Iterator{r: r}
	}
	i := sort.Search(len(r.index), func(i int) bool { return r.index[i].FirstKey > start }) - 1
	if i < 0 {
		i = 0
	}
	return &Iterator{r: r, blkIdx: i}
}

// Next advances the iterator, returning false at end of file or on error
// (check Err in that case).
func (it *Iterator) Next() bool {
	for {
		if it.pos < len(it.cur) {
			it.pos++
			return true
		}
		if it.blkIdx >= len(it.r.index) {
			return false
		}
		entries, err := it.r.readBlock(it.r.index[it.blkIdx])
		if err != nil {
			it.err = err
			return false
		}
		it.blkIdx++
		it.cur = entries
		it.pos = 0
	}
}

// Entry returns the iterator's current entry; valid only after Next
// returned true.
func (it *Iterator) Entry() Entry { return it.cur[it.pos-1] }

// Err returns the first error the iterator encountered, if any.
func (it *Iterator) Err() error { return it.err }
