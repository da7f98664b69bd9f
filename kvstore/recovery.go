package kvstore

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/intellect4all/kvs/common"
	"github.com/intellect4all/kvs/metrics"
)

// recover rebuilds the index and the stale byte count by replaying every
// segment, oldest first.
func (kv *KvStore) recover() error {
	start := time.Now()

	ids, err := listSegmentIDs(kv.config.DataDir)
	if err != nil {
		return common.IOError("list segments", err)
	}

	var records int
	for i, id := range ids {
		size, n, err := kv.replaySegment(id, i == len(ids)-1)
		if err != nil {
			return err
		}
		kv.segments.load(id, size)
		records += n
	}

	metrics.ReplayedRecordsTotal.Add(float64(records))
	metrics.Observe(engineName, metrics.OpReplay, metrics.StatusOK, start)
	kv.log.Info("recovered store",
		zap.Int("segments", len(ids)),
		zap.Int("records", records),
		zap.Int64("keys", kv.index.len()),
		zap.Int64("staleBytes", kv.staleBytes.Load()),
		zap.Duration("elapsed", time.Since(start)))

	return nil
}

// replaySegment folds the records of one segment into the index and returns
// the segment's valid length and record count. Older segments were sealed
// before their successor was created, so only the newest segment can end in
// a partial record; that record is cut off. Any other damage fails the
// replay.
func (kv *KvStore) replaySegment(id uint64, newest bool) (int64, int, error) {
	path := segmentPath(kv.config.DataDir, id)
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, common.IOError(fmt.Sprintf("open segment %d", id), err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return 0, 0, common.IOError(fmt.Sprintf("stat segment %d", id), err)
	}
	fileSize := stat.Size()

	scanner := newRecordScanner(file, fileSize)
	records := 0
	for {
		cmd, offset, size, err := scanner.next()
		if err == io.EOF {
			return fileSize, records, nil
		}

		// A torn final write shows up either as a short record or as a
		// complete-looking last record with a bad checksum.
		partial := err == errTruncated ||
			(errors.Is(err, common.ErrCorrupt) && size > 0 && offset+int64(size) == fileSize)
		if partial && !newest {
			return 0, 0, common.CorruptError(fmt.Sprintf("replay segment %d", id),
				errors.Errorf("sealed segment ends in a partial record at offset %d: %v", offset, err))
		}
		if partial {
			kv.log.Warn("discarding partial record at end of segment",
				zap.Uint64("segment", id),
				zap.Int64("offset", offset),
				zap.Int64("discarded", fileSize-offset),
				zap.NamedError("cause", err))
			if err := os.Truncate(path, offset); err != nil {
				return 0, 0, common.IOError(fmt.Sprintf("truncate segment %d", id), err)
			}
			return offset, records, nil
		}
		if err != nil {
			if errors.Is(err, common.ErrCorrupt) {
				return 0, 0, errors.Wrapf(err, "segment %d offset %d", id, offset)
			}
			return 0, 0, common.IOError(fmt.Sprintf("read segment %d", id), err)
		}

		kv.fold(cmd, entry{segmentID: id, offset: offset, length: int32(size)})
		records++
	}
}

// fold applies one replayed record to the index. A Remove for a key that is
// already absent is fine: compaction drops removes along with the sets they
// cancelled.
func (kv *KvStore) fold(cmd command, loc entry) {
	switch cmd.Op {
	case opSet:
		if prev, existed := kv.index.put(cmd.Key, loc); existed {
			kv.staleBytes.Add(int64(prev.length))
		}
	case opRemove:
		stale := int64(loc.length)
		if prev, existed := kv.index.delete(cmd.Key); existed {
			stale += int64(prev.length)
		}
		kv.staleBytes.Add(stale)
	}
}
