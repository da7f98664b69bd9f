// Package kvstore is a log-structured key-value engine. Every mutation is
// appended to a directory of segment files; an in-memory index maps each
// key to its latest record so reads cost one lookup and one disk read.
// Space held by overwritten and removed records is reclaimed by compaction.
package kvstore

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/intellect4all/kvs/common"
	"github.com/intellect4all/kvs/metrics"
)

const engineName = "kvs"

type Config struct {
	DataDir     string
	SegmentSize int64 // Rotate to a new segment when the active one reaches this size

	// Compaction runs when stale bytes reach CompactionMinStale and the
	// stale share of the log reaches CompactionRatio. A negative ratio
	// disables automatic compaction.
	CompactionMinStale int64
	CompactionRatio    float64

	ReaderCacheSize int  // Read handles kept open
	SyncOnWrite     bool // fsync after every append

	Logger *zap.Logger
}

func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:            dataDir,
		SegmentSize:        4 * 1024 * 1024,
		CompactionMinStale: 1024 * 1024,
		CompactionRatio:    0.5,
		ReaderCacheSize:    16,
		SyncOnWrite:        true,
	}
}

// KvStore is the log-structured engine. It is safe for concurrent use:
// mutations are serialised, reads run in parallel.
type KvStore struct {
	config Config
	log    *zap.Logger

	index    *index
	segments *segmentStore

	// writeMu serialises Set, Remove, Compact and Close. stateMu is held
	// shared by Get and exclusively while compaction retires segments.
	writeMu sync.Mutex
	stateMu sync.RWMutex

	staleBytes atomic.Int64

	stats struct {
		writeCount   atomic.Int64
		readCount    atomic.Int64
		compactCount atomic.Int64
	}

	closed atomic.Bool
}

var _ common.Engine = (*KvStore)(nil)
var _ common.Compacter = (*KvStore)(nil)
var _ common.StatsReporter = (*KvStore)(nil)

// Open opens the store in config.DataDir, creating it if needed, and
// replays the log to rebuild the index.
func Open(config Config) (*KvStore, error) {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		return nil, common.IOError("create data directory", err)
	}

	log := config.Logger.With(zap.String("dir", config.DataDir))
	segments, err := newSegmentStore(config.DataDir, config.ReaderCacheSize, log)
	if err != nil {
		return nil, err
	}

	kv := &KvStore{
		config:   config,
		log:      log,
		index:    newIndex(),
		segments: segments,
	}

	if err := kv.recover(); err != nil {
		kv.segments.close()
		return nil, errors.Wrap(err, "recovery failed")
	}
	if err := kv.segments.openActive(config.SegmentSize); err != nil {
		kv.segments.close()
		return nil, err
	}
	metrics.StaleBytes.Set(float64(kv.staleBytes.Load()))

	return kv, nil
}

// Set stores value under key. An error matching common.ErrCompaction means
// the write itself is durable and only the compaction it triggered failed.
func (kv *KvStore) Set(key, value string) (err error) {
	start := time.Now()
	defer func() { metrics.Observe(engineName, metrics.OpSet, metrics.Status(err, true), start) }()

	kv.writeMu.Lock()
	defer kv.writeMu.Unlock()

	if kv.closed.Load() {
		return common.ErrClosed
	}

	data, err := encodeRecord(setCommand(key, value))
	if err != nil {
		return err
	}
	loc, err := kv.append(data)
	if err != nil {
		return err
	}

	if prev, existed := kv.index.put(key, loc); existed {
		kv.addStale(int64(prev.length))
	}
	kv.stats.writeCount.Add(1)

	return kv.maybeCompact()
}

// Get returns the value stored under key.
func (kv *KvStore) Get(key string) (value string, found bool, err error) {
	start := time.Now()
	defer func() { metrics.Observe(engineName, metrics.OpGet, metrics.Status(err, found), start) }()

	kv.stateMu.RLock()
	defer kv.stateMu.RUnlock()

	if kv.closed.Load() {
		return "", false, common.ErrClosed
	}

	loc, ok := kv.index.get(key)
	if !ok {
		return "", false, nil
	}

	cmd, err := kv.readRecord(key, loc)
	if err != nil {
		return "", false, err
	}

	kv.stats.readCount.Add(1)
	return cmd.Value, true, nil
}

// Remove deletes key. It returns common.ErrKeyNotFound if key is absent.
// As with Set, common.ErrCompaction is reported after the removal is logged.
func (kv *KvStore) Remove(key string) (err error) {
	start := time.Now()
	defer func() {
		status := metrics.Status(err, true)
		if err == common.ErrKeyNotFound {
			status = metrics.StatusNotFound
		}
		metrics.Observe(engineName, metrics.OpRemove, status, start)
	}()

	kv.writeMu.Lock()
	defer kv.writeMu.Unlock()

	if kv.closed.Load() {
		return common.ErrClosed
	}

	if _, ok := kv.index.get(key); !ok {
		return common.ErrKeyNotFound
	}

	data, err := encodeRecord(removeCommand(key))
	if err != nil {
		return err
	}
	loc, err := kv.append(data)
	if err != nil {
		return err
	}

	// Both the superseded Set and the Remove itself are dead weight.
	prev, _ := kv.index.delete(key)
	kv.addStale(int64(prev.length) + int64(loc.length))
	kv.stats.writeCount.Add(1)

	return kv.maybeCompact()
}

// Compact rewrites the live data into a fresh segment and drops the rest.
func (kv *KvStore) Compact() error {
	kv.writeMu.Lock()
	defer kv.writeMu.Unlock()

	if kv.closed.Load() {
		return common.ErrClosed
	}
	return kv.compact()
}

// Sync flushes the active segment to disk.
func (kv *KvStore) Sync() error {
	kv.writeMu.Lock()
	defer kv.writeMu.Unlock()

	if kv.closed.Load() {
		return common.ErrClosed
	}
	return kv.segments.sync()
}

func (kv *KvStore) Close() error {
	kv.writeMu.Lock()
	defer kv.writeMu.Unlock()

	if kv.closed.Load() {
		return nil // Already closed
	}

	kv.stateMu.Lock()
	defer kv.stateMu.Unlock()

	kv.closed.Store(true)
	return kv.segments.close()
}

func (kv *KvStore) Stats() common.Stats {
	totalDiskSize := kv.segments.size()
	stale := kv.staleBytes.Load()

	// Space Amplification: ratio of disk usage to live data size
	spaceAmp := 1.0
	if live := kv.index.liveBytes(); live > 0 {
		spaceAmp = float64(totalDiskSize) / float64(live)
	}

	var activeSegSize int64
	if !kv.closed.Load() {
		activeSegSize = kv.segments.activeSize()
	}

	return common.Stats{
		NumKeys:       kv.index.len(),
		NumSegments:   kv.segments.count(),
		ActiveSegSize: activeSegSize,
		TotalDiskSize: totalDiskSize,
		StaleBytes:    stale,
		WriteCount:    kv.stats.writeCount.Load(),
		ReadCount:     kv.stats.readCount.Load(),
		CompactCount:  kv.stats.compactCount.Load(),
		SpaceAmp:      spaceAmp,
	}
}

// append writes a framed record, rotating first if the active segment is
// full. The index is only updated by callers after this succeeds.
func (kv *KvStore) append(data []byte) (entry, error) {
	if kv.segments.activeSize() >= kv.config.SegmentSize {
		start := time.Now()
		err := kv.segments.rotate()
		metrics.Observe(engineName, metrics.OpRotate, metrics.Status(err, true), start)
		if err != nil {
			return entry{}, err
		}
	}

	id, offset, err := kv.segments.append(data, kv.config.SyncOnWrite)
	if err != nil {
		return entry{}, err
	}
	return entry{segmentID: id, offset: offset, length: int32(len(data))}, nil
}

// readRecord reads and checks the Set record indexed for key.
func (kv *KvStore) readRecord(key string, loc entry) (command, error) {
	data, err := kv.segments.readAt(loc.segmentID, loc.offset, int(loc.length))
	if err != nil {
		return command{}, err
	}

	cmd, size, err := decodeRecord(data)
	if err == errTruncated || (err == nil && size != len(data)) {
		return command{}, common.CorruptError("read record",
			errors.Errorf("bad record length at segment %d offset %d", loc.segmentID, loc.offset))
	}
	if err != nil {
		return command{}, errors.Wrapf(err, "segment %d offset %d", loc.segmentID, loc.offset)
	}
	if cmd.Op != opSet || cmd.Key != key {
		return command{}, common.CorruptError("read record",
			errors.Errorf("indexed %s record for %q at segment %d offset %d, want set %q",
				cmd.Op, cmd.Key, loc.segmentID, loc.offset, key))
	}
	return cmd, nil
}

func (kv *KvStore) addStale(n int64) {
	metrics.StaleBytes.Set(float64(kv.staleBytes.Add(n)))
}

func (kv *KvStore) shouldCompact() bool {
	if kv.config.CompactionRatio < 0 {
		return false
	}
	stale := kv.staleBytes.Load()
	total := kv.segments.size()
	if stale == 0 || total == 0 {
		return false
	}
	return stale >= kv.config.CompactionMinStale &&
		float64(stale)/float64(total) >= kv.config.CompactionRatio
}

func (kv *KvStore) maybeCompact() error {
	if !kv.shouldCompact() {
		return nil
	}
	err := kv.compact()
	if err != nil {
		kv.log.Warn("background compaction failed after write", zap.Error(err))
	}
	return err
}
