package kvstore

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/intellect4all/kvs/common"
	"github.com/intellect4all/kvs/metrics"
)

// compact copies every live record into a new segment and retires all
// older segments. Callers hold writeMu.
//
// The compacted segment takes id active+1 and the new active segment
// active+2, so if we crash before the old files are gone, replay sees the
// compacted copies after the originals and ends up in the same state.
func (kv *KvStore) compact() (err error) {
	start := time.Now()
	defer func() { metrics.Observe(engineName, metrics.OpCompact, metrics.Status(err, true), start) }()

	sizeBefore := kv.segments.size()
	staleBefore := kv.staleBytes.Load()

	activeID := kv.segments.activeID()
	compacted, err := kv.segments.create(activeID + 1)
	if err != nil {
		return common.CompactionError("create compaction segment", err)
	}

	moved, err := kv.copyLive(compacted)
	if err != nil {
		compacted.discard()
		return common.CompactionError("copy live records", err)
	}
	if err := compacted.seal(); err != nil {
		compacted.discard()
		return common.CompactionError("seal compaction segment", common.IOError("sync", err))
	}

	active, err := kv.segments.create(activeID + 2)
	if err != nil {
		compacted.discard()
		return common.CompactionError("create active segment", err)
	}
	if err := syncDir(kv.config.DataDir); err != nil {
		active.discard()
		compacted.discard()
		return common.CompactionError("sync directory", err)
	}

	// Nothing is deleted before this point; from here on the compacted
	// segment is the log.
	kv.stateMu.Lock()
	kv.index.apply(moved)
	retired := kv.segments.replace(compacted, active)
	kv.stateMu.Unlock()

	leftover, err := kv.segments.purge(retired)
	kv.staleBytes.Store(leftover)
	metrics.StaleBytes.Set(float64(leftover))
	kv.stats.compactCount.Add(1)

	sizeAfter := kv.segments.size()
	if sizeBefore > sizeAfter {
		metrics.ReclaimedBytesTotal.Add(float64(sizeBefore - sizeAfter))
	}

	kv.log.Info("compacted log",
		zap.Int("retiredSegments", len(retired)),
		zap.Uint64("compactedSegment", compacted.id),
		zap.Int("liveKeys", len(moved)),
		zap.Int64("staleBytes", staleBefore),
		zap.Int64("sizeBefore", sizeBefore),
		zap.Int64("sizeAfter", sizeAfter),
		zap.Duration("elapsed", time.Since(start)))

	return common.CompactionError("remove retired segments", err)
}

// copyLive re-appends the current record of every indexed key to dst and
// returns the new locations. The index itself is left untouched.
func (kv *KvStore) copyLive(dst *segment) (map[string]entry, error) {
	live := kv.index.snapshot()

	// Read in log order to keep the source reads sequential.
	sort.Slice(live, func(i, j int) bool {
		if live[i].segmentID != live[j].segmentID {
			return live[i].segmentID < live[j].segmentID
		}
		return live[i].offset < live[j].offset
	})

	moved := make(map[string]entry, len(live))
	for _, e := range live {
		cmd, err := kv.readRecord(e.key, e.entry)
		if err != nil {
			return nil, err
		}

		data, err := encodeRecord(setCommand(cmd.Key, cmd.Value))
		if err != nil {
			return nil, err
		}
		offset, err := dst.append(data, false)
		if err != nil {
			return nil, common.IOError("append to compaction segment", err)
		}
		moved[e.key] = entry{segmentID: dst.id, offset: offset, length: int32(len(data))}
	}
	return moved, nil
}
