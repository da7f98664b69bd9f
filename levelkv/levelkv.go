// Package levelkv is a storage engine backed by goleveldb. It exists so
// callers can swap backends behind common.Engine; it shares no on-disk
// format with kvstore.
package levelkv

import (
	"io/fs"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/intellect4all/kvs/common"
	"github.com/intellect4all/kvs/metrics"
)

const engineName = "leveldb"

type Config struct {
	DataDir     string
	SyncOnWrite bool // fsync the leveldb journal on every write

	// BlockCacheSize is leveldb's block cache capacity in bytes; zero
	// keeps leveldb's default.
	BlockCacheSize int

	Logger *zap.Logger
}

func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:     dataDir,
		SyncOnWrite: true,
	}
}

// Engine adapts a leveldb database to common.Engine.
type Engine struct {
	db     *leveldb.DB
	config Config
	log    *zap.Logger
	wo     *opt.WriteOptions

	writeMu sync.Mutex // makes Remove's check-then-delete atomic
	closed  atomic.Bool

	stats struct {
		writeCount   atomic.Int64
		readCount    atomic.Int64
		compactCount atomic.Int64
	}
}

var _ common.Engine = (*Engine)(nil)
var _ common.Compacter = (*Engine)(nil)
var _ common.StatsReporter = (*Engine)(nil)

func Open(config Config) (*Engine, error) {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	db, err := leveldb.OpenFile(config.DataDir, &opt.Options{
		BlockCacheCapacity: config.BlockCacheSize,
	})
	if err != nil {
		if lerrors.IsCorrupted(err) {
			return nil, common.CorruptError("open leveldb", err)
		}
		return nil, common.IOError("open leveldb", err)
	}

	log := config.Logger.With(zap.String("dir", config.DataDir), zap.String("engine", engineName))
	log.Info("opened leveldb store")

	return &Engine{
		db:     db,
		config: config,
		log:    log,
		wo:     &opt.WriteOptions{Sync: config.SyncOnWrite},
	}, nil
}

func (e *Engine) Set(key, value string) (err error) {
	start := time.Now()
	defer func() { metrics.Observe(engineName, metrics.OpSet, metrics.Status(err, true), start) }()

	if e.closed.Load() {
		return common.ErrClosed
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.db.Put([]byte(key), []byte(value), e.wo); err != nil {
		return e.wrap("put", err)
	}
	e.stats.writeCount.Add(1)
	return nil
}

func (e *Engine) Get(key string) (value string, found bool, err error) {
	start := time.Now()
	defer func() { metrics.Observe(engineName, metrics.OpGet, metrics.Status(err, found), start) }()

	if e.closed.Load() {
		return "", false, common.ErrClosed
	}

	data, err := e.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, e.wrap("get", err)
	}

	e.stats.readCount.Add(1)
	return string(data), true, nil
}

// Remove deletes key, failing with common.ErrKeyNotFound when it is absent.
// leveldb itself treats deleting a missing key as success.
func (e *Engine) Remove(key string) (err error) {
	start := time.Now()
	defer func() {
		status := metrics.Status(err, true)
		if err == common.ErrKeyNotFound {
			status = metrics.StatusNotFound
		}
		metrics.Observe(engineName, metrics.OpRemove, status, start)
	}()

	if e.closed.Load() {
		return common.ErrClosed
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	ok, err := e.db.Has([]byte(key), nil)
	if err != nil {
		return e.wrap("has", err)
	}
	if !ok {
		return common.ErrKeyNotFound
	}
	if err := e.db.Delete([]byte(key), e.wo); err != nil {
		return e.wrap("delete", err)
	}
	e.stats.writeCount.Add(1)
	return nil
}

// Compact compacts leveldb's whole key range.
func (e *Engine) Compact() (err error) {
	start := time.Now()
	defer func() { metrics.Observe(engineName, metrics.OpCompact, metrics.Status(err, true), start) }()

	if e.closed.Load() {
		return common.ErrClosed
	}
	if err := e.db.CompactRange(util.Range{}); err != nil {
		return common.CompactionError("compact range", e.wrap("compact", err))
	}
	e.stats.compactCount.Add(1)
	return nil
}

func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	return e.wrap("close", e.db.Close())
}

// Stats walks the key space to count keys, so it is meant for tooling,
// not hot paths.
func (e *Engine) Stats() common.Stats {
	stats := common.Stats{
		WriteCount:   e.stats.writeCount.Load(),
		ReadCount:    e.stats.readCount.Load(),
		CompactCount: e.stats.compactCount.Load(),
		SpaceAmp:     1.0,
	}

	var live int64
	if !e.closed.Load() {
		iter := e.db.NewIterator(nil, nil)
		for iter.Next() {
			stats.NumKeys++
			live += int64(len(iter.Key()) + len(iter.Value()))
		}
		iter.Release()
	}

	filepath.WalkDir(e.config.DataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		stats.TotalDiskSize += info.Size()
		if filepath.Ext(path) == ".ldb" {
			stats.NumSegments++
		}
		return nil
	})

	if live > 0 {
		stats.SpaceAmp = float64(stats.TotalDiskSize) / float64(live)
	}
	return stats
}

func (e *Engine) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == leveldb.ErrClosed {
		return common.ErrClosed
	}
	if lerrors.IsCorrupted(err) {
		return common.CorruptError(op, err)
	}
	return common.IOError(op, err)
}
