package kvstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
)

const segmentExt = ".seg"

var (
	errShortRead = errors.New("record extends past end of segment")

	// errSegmentFailed marks a segment whose tail could not be rolled back
	// after a failed append.
	errSegmentFailed = errors.New("segment has an unrecoverable tail")
)

func segmentPath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d%s", id, segmentExt))
}

// parseSegmentName returns the id encoded in a segment file name.
func parseSegmentName(name string) (uint64, bool) {
	if !strings.HasSuffix(name, segmentExt) {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimSuffix(name, segmentExt), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// segment is a single log file. Only the active segment holds a write
// handle; sealed segments are read through segmentReaders.
type segment struct {
	id   uint64
	path string

	file *os.File // nil once sealed
	size atomic.Int64

	// failed is set when a failed append could not be rolled back. The
	// file may then hold bytes past size, so no further appends or
	// rotation are allowed; replay cuts the tail on the next open.
	failed error
}

// createSegment creates a new, empty segment file for appending.
func createSegment(dir string, id uint64) (*segment, error) {
	path := segmentPath(dir, id)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &segment{id: id, path: path, file: file}, nil
}

// resumeSegment reopens an existing segment of the given size for appending.
func resumeSegment(dir string, id uint64, size int64) (*segment, error) {
	path := segmentPath(dir, id)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	s := &segment{id: id, path: path, file: file}
	s.size.Store(size)
	return s, nil
}

func sealedSegment(dir string, id uint64, size int64) *segment {
	s := &segment{id: id, path: segmentPath(dir, id)}
	s.size.Store(size)
	return s
}

// append writes one framed record and returns the offset it starts at. A
// failed write is rolled back so the file never ends in a partial record
// that the in-memory size doesn't know about.
func (s *segment) append(data []byte, sync bool) (int64, error) {
	if s.failed != nil {
		return 0, s.failed
	}
	if s.file == nil {
		return 0, errors.Errorf("segment %d is sealed", s.id)
	}

	offset := s.size.Load()
	_, err := s.file.Write(data)
	if err == nil && sync {
		err = s.file.Sync()
	}
	if err != nil {
		if terr := s.file.Truncate(offset); terr != nil {
			s.failed = errors.Wrapf(errSegmentFailed, "segment %d: %v", s.id, terr)
			return 0, errors.Wrapf(s.failed, "append: %v", err)
		}
		return 0, err
	}

	s.size.Add(int64(len(data)))
	return offset, nil
}

// err reports why the segment can no longer take appends, if it failed.
func (s *segment) err() error {
	return s.failed
}

// sync ensures all data is persisted to disk
func (s *segment) sync() error {
	if s.file == nil {
		return nil
	}
	return s.file.Sync()
}

// seal flushes the segment and drops its write handle.
func (s *segment) seal() error {
	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return err
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// discard closes and deletes a segment that never became part of the log.
func (s *segment) discard() {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	os.Remove(s.path)
}

// Size returns the current size of the segment
func (s *segment) Size() int64 {
	return s.size.Load()
}

// segmentReader is a shared read-only handle with reference counting so an
// evicted or retired handle is closed only after in-flight reads finish.
type segmentReader struct {
	id       uint64
	file     *os.File
	refCount atomic.Int32
}

func openSegmentReader(dir string, id uint64) (*segmentReader, error) {
	file, err := os.Open(segmentPath(dir, id))
	if err != nil {
		return nil, err
	}
	r := &segmentReader{id: id, file: file}
	r.refCount.Store(1) // held by the cache
	return r, nil
}

func (r *segmentReader) acquire() bool {
	for {
		n := r.refCount.Load()
		if n <= 0 {
			return false
		}
		if r.refCount.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (r *segmentReader) release() {
	if r.refCount.Add(-1) == 0 {
		// Last reference gone, safe to close
		r.file.Close()
	}
}

// readAt reads exactly length bytes at offset.
func (r *segmentReader) readAt(offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := r.file.ReadAt(buf, offset)
	if n == length {
		return buf, nil
	}
	if err == nil || err == io.EOF {
		return nil, errShortRead
	}
	return nil, err
}
