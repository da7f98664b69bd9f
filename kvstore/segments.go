package kvstore

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/intellect4all/kvs/common"
	"github.com/intellect4all/kvs/metrics"
)

// segmentStore owns the directory of segment files: the single active
// segment taking appends, the sealed ones, and a cache of read handles.
type segmentStore struct {
	dir string
	log *zap.Logger

	mu       sync.RWMutex // guards segments and active
	segments map[uint64]*segment
	active   *segment

	readers   *lru.Cache // id -> *segmentReader
	totalSize atomic.Int64
}

func newSegmentStore(dir string, cacheSize int, log *zap.Logger) (*segmentStore, error) {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	readers, err := lru.NewWithEvict(cacheSize, func(_, value interface{}) {
		value.(*segmentReader).release()
	})
	if err != nil {
		return nil, err
	}
	return &segmentStore{
		dir:      dir,
		log:      log,
		segments: make(map[uint64]*segment),
		readers:  readers,
	}, nil
}

// listSegmentIDs returns the ids of the segment files in dir, oldest first.
func listSegmentIDs(dir string) ([]uint64, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(files))
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if id, ok := parseSegmentName(file.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// load registers a replayed segment as sealed.
func (s *segmentStore) load(id uint64, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.segments[id] = sealedSegment(s.dir, id, size)
	s.totalSize.Add(size)
}

// openActive makes the newest segment active if it is below maxSize, or
// creates the next one.
func (s *segmentStore) openActive(maxSize int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newest *segment
	for _, seg := range s.segments {
		if newest == nil || seg.id > newest.id {
			newest = seg
		}
	}

	if newest != nil && newest.Size() < maxSize {
		seg, err := resumeSegment(s.dir, newest.id, newest.Size())
		if err != nil {
			return common.IOError(fmt.Sprintf("resume segment %d", newest.id), err)
		}
		s.segments[seg.id] = seg
		s.active = seg
		return nil
	}

	id := uint64(1)
	if newest != nil {
		id = newest.id + 1
	}
	seg, err := createSegment(s.dir, id)
	if err != nil {
		return common.IOError(fmt.Sprintf("create segment %d", id), err)
	}
	s.segments[id] = seg
	s.active = seg
	return syncDir(s.dir)
}

func (s *segmentStore) activeID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.id
}

func (s *segmentStore) activeSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.Size()
}

func (s *segmentStore) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.segments)
}

func (s *segmentStore) size() int64 {
	return s.totalSize.Load()
}

// append writes data to the active segment. Callers serialise appends.
func (s *segmentStore) append(data []byte, sync bool) (uint64, int64, error) {
	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()

	offset, err := active.append(data, sync)
	if err != nil {
		return 0, 0, common.IOError(fmt.Sprintf("append to segment %d", active.id), err)
	}
	s.totalSize.Add(int64(len(data)))
	return active.id, offset, nil
}

// readAt reads the length bytes at offset of segment id.
func (s *segmentStore) readAt(id uint64, offset int64, length int) ([]byte, error) {
	r, err := s.reader(id)
	if err != nil {
		return nil, err
	}
	defer r.release()

	data, err := r.readAt(offset, length)
	if err == errShortRead {
		return nil, common.CorruptError(fmt.Sprintf("read segment %d at %d", id, offset), err)
	}
	if err != nil {
		return nil, common.IOError(fmt.Sprintf("read segment %d at %d", id, offset), err)
	}
	return data, nil
}

// reader returns an acquired read handle for segment id.
func (s *segmentStore) reader(id uint64) (*segmentReader, error) {
	for {
		if v, ok := s.readers.Get(id); ok {
			if r := v.(*segmentReader); r.acquire() {
				metrics.ReaderCacheLookups.WithLabelValues("hit").Inc()
				return r, nil
			}
		}

		s.mu.RLock()
		_, known := s.segments[id]
		s.mu.RUnlock()
		if !known {
			return nil, common.CorruptError("open reader", errors.Errorf("segment %d not found", id))
		}

		metrics.ReaderCacheLookups.WithLabelValues("miss").Inc()
		r, err := openSegmentReader(s.dir, id)
		if err != nil {
			return nil, common.IOError(fmt.Sprintf("open segment %d", id), err)
		}
		r.acquire()

		// Another goroutine may have cached a handle first; use theirs.
		if found, _ := s.readers.ContainsOrAdd(id, r); found {
			r.release()
			r.release()
			continue
		}
		return r, nil
	}
}

// create makes a new segment that is not yet part of the log. Compaction
// uses it to build a replacement off to the side.
func (s *segmentStore) create(id uint64) (*segment, error) {
	seg, err := createSegment(s.dir, id)
	if err != nil {
		return nil, common.IOError(fmt.Sprintf("create segment %d", id), err)
	}
	return seg, nil
}

// rotate seals the active segment and starts the next one. The old
// segment is durable before its successor exists, so after a crash only the
// newest segment can hold a partial record.
func (s *segmentStore) rotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.active
	if err := old.err(); err != nil {
		return common.IOError(fmt.Sprintf("rotate segment %d", old.id), err)
	}
	if err := old.seal(); err != nil {
		s.reopenActive(old)
		return common.IOError(fmt.Sprintf("seal segment %d", old.id), err)
	}

	seg, err := createSegment(s.dir, old.id+1)
	if err != nil {
		s.reopenActive(old)
		return common.IOError(fmt.Sprintf("create segment %d", old.id+1), err)
	}

	s.segments[seg.id] = seg
	s.active = seg

	s.log.Debug("rotated segment",
		zap.Uint64("sealed", old.id),
		zap.Int64("sealedSize", old.Size()),
		zap.Uint64("active", seg.id))
	return syncDir(s.dir)
}

// reopenActive keeps appending to seg after a failed rotation rather than
// leaving the store without an active segment. Callers hold mu.
func (s *segmentStore) reopenActive(seg *segment) {
	if seg.file != nil {
		return
	}
	resumed, err := resumeSegment(s.dir, seg.id, seg.Size())
	if err != nil {
		s.log.Error("failed to reopen active segment", zap.Uint64("segment", seg.id), zap.Error(err))
		return
	}
	s.segments[seg.id] = resumed
	s.active = resumed
}

// replace swaps the whole segment set for a sealed compacted segment and a
// fresh active one. The compacted segment must already be durable. It
// returns the retired segments, whose files are still on disk; pass them to
// purge once nothing can reference them.
func (s *segmentStore) replace(compacted, active *segment) []*segment {
	s.mu.Lock()
	defer s.mu.Unlock()

	retired := make([]*segment, 0, len(s.segments))
	for _, seg := range s.segments {
		retired = append(retired, seg)
	}
	sort.Slice(retired, func(i, j int) bool { return retired[i].id < retired[j].id })

	s.active.seal()
	for _, seg := range retired {
		s.readers.Remove(seg.id)
	}

	s.segments = map[uint64]*segment{
		compacted.id: compacted,
		active.id:    active,
	}
	s.active = active
	s.totalSize.Store(compacted.Size() + active.Size())
	return retired
}

// purge deletes the files of retired segments, oldest first. It stops at
// the first file it cannot delete: that segment and every newer retired one
// are put back as sealed segments, so the files left on disk are always a
// suffix of the old log and replaying them cannot revive a removed key.
// Their total size is returned; a later compaction retries them.
func (s *segmentStore) purge(retired []*segment) (int64, error) {
	var firstErr error
	var leftover int64
	for i, seg := range retired {
		err := removeFile(seg.path)
		if err == nil || os.IsNotExist(err) {
			continue
		}

		firstErr = common.IOError(fmt.Sprintf("remove segment %d", seg.id), err)
		s.log.Warn("failed to remove compacted segment",
			zap.Uint64("segment", seg.id),
			zap.Int("kept", len(retired)-i),
			zap.Error(err))

		s.mu.Lock()
		for _, kept := range retired[i:] {
			s.segments[kept.id] = kept
			s.totalSize.Add(kept.Size())
			leftover += kept.Size()
		}
		s.mu.Unlock()
		break
	}
	if err := syncDir(s.dir); err != nil && firstErr == nil {
		firstErr = err
	}
	return leftover, firstErr
}

// sync flushes the active segment.
func (s *segmentStore) sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return common.IOError(fmt.Sprintf("sync segment %d", s.active.id), s.active.sync())
}

// close seals the active segment and drops every cached reader.
func (s *segmentStore) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.active != nil {
		err = common.IOError(fmt.Sprintf("seal segment %d", s.active.id), s.active.seal())
	}
	s.readers.Purge()
	return err
}

// removeFile deletes retired segment files; tests swap it to simulate
// failures.
var removeFile = os.Remove

// syncDir makes segment creations and deletions in dir durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return common.IOError("open directory", err)
	}
	defer d.Close()
	return common.IOError("sync directory", d.Sync())
}
