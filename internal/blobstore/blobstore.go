// Package blobstore holds large values that cross a configurable size
// threshold out of the LSM's inline path: rows keep only a BlobRef pointer,
// and the bytes live in an append-only side file. Segmentation, the active
// file cursor, and the on-disk header-then-records layout are adapted from
// the teacher's heap segment manager, simplified for blobs because they are
// write-once and never updated or version-chained the way a heap record is.
package blobstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/motedb/motedb/internal/merrors"
	"github.com/motedb/motedb/internal/motecrc"
)

const (
	blobMagic      uint32 = 0x424C4F42 // ASCII "BLOB"
	blobVersion    uint32 = 1
	segmentHeader         = 8 // magic(4) + version(4)
	recordOverhead         = 4 + 4 // size(4) + crc32(4), around the payload

	// DefaultMaxSegmentSize bounds how large a single segment file grows
	// before a new one is rolled.
	DefaultMaxSegmentSize int64 = 256 * 1024 * 1024
)

// BlobRef is the pointer a row's inline value is replaced by once the value
// crosses the blob threshold.
type BlobRef struct {
	FileID uint32
	Offset int64
	Size   uint32
}

type segment struct {
	id   uint32
	path string
	file *os.File
	size int64
}

// Store manages a sequence of segment files under basePath (basePath_00001.blob,
// basePath_00002.blob, ...).
type Store struct {
	mu             sync.RWMutex
	basePath       string
	maxSegmentSize int64
	segments       map[uint32]*segment
	active         *segment
}

func segmentPath(basePath string, id uint32) string {
	return fmt.Sprintf("%s_%05d.blob", basePath, id)
}

// Open opens or creates a blob store rooted at basePath.
func Open(basePath string, maxSegmentSize int64) (*Store, error) {
	if maxSegmentSize <= 0 {
		maxSegmentSize = DefaultMaxSegmentSize
	}
	if err := os.MkdirAll(filepath.Dir(basePath), 0755); err != nil {
		return nil, merrors.IOErr("blobstore.open", "failed to create blob directory", err)
	}

	s := &Store{
		basePath:       basePath,
		maxSegmentSize: maxSegmentSize,
		segments:       make(map[uint32]*segment),
	}

	var id uint32 = 1
	var last *segment
	for {
		path := segmentPath(basePath, id)
		f, err := os.OpenFile(path, os.O_RDWR, 0644)
		if os.IsNotExist(err) {
			break
		}
		if err != nil {
			s.Close()
			return nil, merrors.IOErr("blobstore.open", "failed to open blob segment", err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			s.Close()
			return nil, merrors.IOErr("blobstore.open", "failed to stat blob segment", err)
		}
		seg := &segment{id: id, path: path, file: f, size: info.Size()}
		s.segments[id] = seg
		last = seg
		id++
	}

	if last == nil {
		seg, err := s.createSegment(1)
		if err != nil {
			return nil, err
		}
		s.active = seg
	} else {
		s.active = last
	}
	return s, nil
}

func (s *Store) createSegment(id uint32) (*segment, error) {
	path := segmentPath(s.basePath, id)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, merrors.IOErr("blobstore.create_segment", "failed to create blob segment", err)
	}

	var header [segmentHeader]byte
	binary.BigEndian.PutUint32(header[0:4], blobMagic)
	binary.BigEndian.PutUint32(header[4:8], blobVersion)
	if _, err := f.Write(header[:]); err != nil {
		f.Close()
		return nil, merrors.IOErr("blobstore.create_segment", "failed to write blob segment header", err)
	}

	seg := &segment{id: id, path: path, file: f, size: segmentHeader}
	s.segments[id] = seg
	return seg, nil
}

// Put appends data as a new blob record and returns a reference to it.
func (s *Store) Put(data []byte) (BlobRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recordSize := int64(recordOverhead + len(data))
	if s.active.size+recordSize > s.maxSegmentSize {
		seg, err := s.createSegment(s.active.id + 1)
		if err != nil {
			return BlobRef{}, err
		}
		s.active = seg
	}

	seg := s.active
	offset := seg.size

	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(len(data)))
	if _, err := seg.file.WriteAt(sizeBuf[:], offset); err != nil {
		return BlobRef{}, merrors.IOErr("blobstore.put", "failed to write blob size header", err)
	}
	if _, err := seg.file.WriteAt(data, offset+4); err != nil {
		return BlobRef{}, merrors.IOErr("blobstore.put", "failed to write blob payload", err)
	}
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], motecrc.Checksum(data))
	if _, err := seg.file.WriteAt(crcBuf[:], offset+4+int64(len(data))); err != nil {
		return BlobRef{}, merrors.IOErr("blobstore.put", "failed to write blob checksum", err)
	}

	seg.size += recordSize
	return BlobRef{FileID: seg.id, Offset: offset, Size: uint32(len(data))}, nil
}

// Get resolves a BlobRef back to its bytes, validating the trailing CRC32.
func (s *Store) Get(ref BlobRef) ([]byte, error) {
	s.mu.RLock()
	seg, ok := s.segments[ref.FileID]
	s.mu.RUnlock()
	if !ok {
		return nil, merrors.FileNotFoundErr("blobstore.get", fmt.Sprintf("blob segment %d not found", ref.FileID), nil)
	}

	buf := make([]byte, recordOverhead+int(ref.Size))
	if _, err := seg.file.ReadAt(buf, ref.Offset); err != nil && err != io.EOF {
		return nil, merrors.IOErr("blobstore.get", "failed to read blob record", err)
	}

	size := binary.BigEndian.Uint32(buf[0:4])
	if size != ref.Size {
		return nil, merrors.CorruptionErr("blobstore.get", "blob size mismatch", nil)
	}
	data := buf[4 : 4+size]
	crc := binary.BigEndian.Uint32(buf[4+size : 4+size+4])
	if !motecrc.Validate(data, crc) {
		return nil, merrors.CorruptionErr("blobstore.get", "blob checksum mismatch", nil)
	}

	out := make([]byte, size)
	copy(out, data)
	return out, nil
}

// Close closes every open segment file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, seg := range s.segments {
		if err := seg.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
