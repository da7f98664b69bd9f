package kvstore

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellect4all/kvs/common"
	"github.com/intellect4all/kvs/common/testutil"
)

// TestRecovery checks that reopening yields exactly the state before close.
func TestRecovery(t *testing.T) {
	dir := testutil.TempDir(t)
	config := testConfig(t, dir)
	config.SegmentSize = 4096

	kv := openStore(t, config)
	rng := rand.New(rand.NewSource(7))
	expected := make(map[string]string)
	for i := 0; i < 3000; i++ {
		key := fmt.Sprintf("key%d", rng.Intn(300))
		if _, ok := expected[key]; ok && rng.Intn(4) == 0 {
			require.NoError(t, kv.Remove(key))
			delete(expected, key)
			continue
		}
		value := fmt.Sprintf("value%d", i)
		require.NoError(t, kv.Set(key, value))
		expected[key] = value
	}
	statsBefore := kv.Stats()
	require.Greater(t, statsBefore.NumSegments, 1)
	require.NoError(t, kv.Close())

	kv2 := openStore(t, config)
	defer kv2.Close()

	for i := 0; i < 300; i++ {
		key := fmt.Sprintf("key%d", i)
		if want, ok := expected[key]; ok {
			requireValue(t, kv2, key, want)
		} else {
			requireMissing(t, kv2, key)
		}
	}

	statsAfter := kv2.Stats()
	assert.Equal(t, int64(len(expected)), statsAfter.NumKeys)
	assert.Equal(t, statsBefore.StaleBytes, statsAfter.StaleBytes)
	assert.Equal(t, statsBefore.TotalDiskSize, statsAfter.TotalDiskSize)
}

func TestRecoveryDoesNotResurrectRemovedKeys(t *testing.T) {
	dir := testutil.TempDir(t)
	config := testConfig(t, dir)

	kv := openStore(t, config)
	require.NoError(t, kv.Set("gone", "1"))
	require.NoError(t, kv.Remove("gone"))
	require.NoError(t, kv.Set("kept", "2"))
	require.NoError(t, kv.Close())

	kv2 := openStore(t, config)
	defer kv2.Close()

	requireMissing(t, kv2, "gone")
	requireValue(t, kv2, "kept", "2")
	assert.ErrorIs(t, kv2.Remove("gone"), common.ErrKeyNotFound)
}

func TestRecoveryResumesActiveSegment(t *testing.T) {
	dir := testutil.TempDir(t)
	config := testConfig(t, dir)

	kv := openStore(t, config)
	require.NoError(t, kv.Set("a", "1"))
	require.NoError(t, kv.Close())

	kv2 := openStore(t, config)
	require.NoError(t, kv2.Set("b", "2"))
	require.NoError(t, kv2.Close())

	// Still a single segment: the small active segment was reused.
	assert.Len(t, testutil.Files(t, dir, "*.seg"), 1)

	// A full newest segment is sealed and a new one started.
	config.SegmentSize = 1
	kv3 := openStore(t, config)
	defer kv3.Close()
	assert.Equal(t, []string{
		filepath.Join(dir, "1.seg"),
		filepath.Join(dir, "2.seg"),
	}, testutil.Files(t, dir, "*.seg"))
	requireValue(t, kv3, "a", "1")
	requireValue(t, kv3, "b", "2")
}

// TestRecoveryTruncatedTail simulates a crash in the middle of an append.
func TestRecoveryTruncatedTail(t *testing.T) {
	cuts := map[string]func(lastRecord int64) int64{
		"inside payload": func(n int64) int64 { return n - 3 },
		"inside header":  func(n int64) int64 { return headerSize - 2 },
		"after header":   func(n int64) int64 { return headerSize },
	}

	for name, cut := range cuts {
		t.Run(name, func(t *testing.T) {
			dir := testutil.TempDir(t)
			config := testConfig(t, dir)

			kv := openStore(t, config)
			for i := 0; i < 10; i++ {
				require.NoError(t, kv.Set(fmt.Sprintf("key%d", i), fmt.Sprintf("value%d", i)))
			}
			require.NoError(t, kv.Close())

			path := filepath.Join(dir, "1.seg")
			info, err := os.Stat(path)
			require.NoError(t, err)
			last := recordSize(t, setCommand("key9", "value9"))
			testutil.Truncate(t, path, info.Size()-last+cut(last))

			kv2 := openStore(t, config)
			for i := 0; i < 9; i++ {
				requireValue(t, kv2, fmt.Sprintf("key%d", i), fmt.Sprintf("value%d", i))
			}
			requireMissing(t, kv2, "key9")

			// The partial record is gone, so new appends land on a
			// record boundary.
			require.NoError(t, kv2.Set("key10", "value10"))
			require.NoError(t, kv2.Close())

			kv3 := openStore(t, config)
			defer kv3.Close()
			requireValue(t, kv3, "key10", "value10")
			requireValue(t, kv3, "key8", "value8")
		})
	}
}

// TestRecoveryTornLastRecord covers a last record that is complete in
// length but whose bytes did not all reach the disk.
func TestRecoveryTornLastRecord(t *testing.T) {
	dir := testutil.TempDir(t)
	config := testConfig(t, dir)

	kv := openStore(t, config)
	require.NoError(t, kv.Set("a", "1"))
	require.NoError(t, kv.Set("a", "2"))
	require.NoError(t, kv.Close())

	path := filepath.Join(dir, "1.seg")
	info, err := os.Stat(path)
	require.NoError(t, err)
	testutil.FlipByte(t, path, info.Size()-1)

	kv2 := openStore(t, config)
	defer kv2.Close()
	requireValue(t, kv2, "a", "1")
}

// TestRecoveryInteriorCorruption damages records that a crash could not
// have produced and expects Open to refuse the log without touching it.
func TestRecoveryInteriorCorruption(t *testing.T) {
	last := recordSize(t, setCommand("key4", "value"))
	damage := map[string]func(fileSize int64) int64{
		"first payload": func(int64) int64 { return headerSize + 1 },
		"first length":  func(int64) int64 { return 5 },
		"last length":   func(n int64) int64 { return n - last + 5 },
		"last header":   func(n int64) int64 { return n - last + 9 },
	}

	for name, offset := range damage {
		t.Run(name, func(t *testing.T) {
			dir := testutil.TempDir(t)
			config := testConfig(t, dir)

			kv := openStore(t, config)
			for i := 0; i < 5; i++ {
				require.NoError(t, kv.Set(fmt.Sprintf("key%d", i), "value"))
			}
			require.NoError(t, kv.Close())

			path := filepath.Join(dir, "1.seg")
			info, err := os.Stat(path)
			require.NoError(t, err)
			testutil.FlipByte(t, path, offset(info.Size()))

			_, err = Open(config)
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrCorrupt)

			after, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, info.Size(), after.Size())
		})
	}
}

// TestRecoveryPartialSealedSegment checks that only the newest segment may
// end in a partial record.
func TestRecoveryPartialSealedSegment(t *testing.T) {
	damage := map[string]func(t *testing.T, path string, size int64){
		"truncated": func(t *testing.T, path string, size int64) { testutil.Truncate(t, path, size-3) },
		"torn":      func(t *testing.T, path string, size int64) { testutil.FlipByte(t, path, size-1) },
	}

	for name, apply := range damage {
		t.Run(name, func(t *testing.T) {
			dir := testutil.TempDir(t)
			config := testConfig(t, dir)
			config.SegmentSize = 1 // one record per segment

			cmds := []command{setCommand("a", "1"), setCommand("b", "2"), setCommand("c", "3")}
			kv := openStore(t, config)
			for _, cmd := range cmds {
				require.NoError(t, kv.Set(cmd.Key, cmd.Value))
			}
			require.NoError(t, kv.Close())

			for i, cmd := range cmds[:2] {
				id := uint64(i + 1)
				path := segmentPath(dir, id)
				info, err := os.Stat(path)
				require.NoError(t, err)
				apply(t, path, info.Size())

				_, err = Open(config)
				require.Error(t, err, "segment %d", id)
				assert.ErrorIs(t, err, common.ErrCorrupt)

				after, err := os.Stat(path)
				require.NoError(t, err)
				assert.NotZero(t, after.Size())

				// Put the segment back for the next case.
				require.NoError(t, os.Remove(path))
				rewriteSegment(t, dir, id, cmd)
			}

			// The same damage to the newest segment is a torn append.
			path := segmentPath(dir, 3)
			info, err := os.Stat(path)
			require.NoError(t, err)
			apply(t, path, info.Size())

			kv2 := openStore(t, config)
			defer kv2.Close()
			requireValue(t, kv2, "a", "1")
			requireValue(t, kv2, "b", "2")
			requireMissing(t, kv2, "c")
		})
	}
}

func rewriteSegment(t *testing.T, dir string, id uint64, cmds ...command) {
	t.Helper()
	seg, err := createSegment(dir, id)
	require.NoError(t, err)
	for _, cmd := range cmds {
		data, err := encodeRecord(cmd)
		require.NoError(t, err)
		_, err = seg.append(data, false)
		require.NoError(t, err)
	}
	require.NoError(t, seg.seal())
}

// TestRecoveryAfterInterruptedCompaction replays a directory where the
// compacted copy of the data exists next to the segments it replaced.
func TestRecoveryAfterInterruptedCompaction(t *testing.T) {
	dir := testutil.TempDir(t)
	config := testConfig(t, dir)

	kv := openStore(t, config)
	require.NoError(t, kv.Set("a", "1"))
	require.NoError(t, kv.Set("b", "2"))
	require.NoError(t, kv.Set("a", "3"))
	require.NoError(t, kv.Close())

	// Hand-build what compaction would have written as segment 2.
	compacted, err := createSegment(dir, 2)
	require.NoError(t, err)
	for _, cmd := range []command{setCommand("a", "3"), setCommand("b", "2")} {
		data, err := encodeRecord(cmd)
		require.NoError(t, err)
		_, err = compacted.append(data, false)
		require.NoError(t, err)
	}
	require.NoError(t, compacted.seal())

	kv2 := openStore(t, config)
	defer kv2.Close()
	requireValue(t, kv2, "a", "3")
	requireValue(t, kv2, "b", "2")
	assert.Equal(t, int64(2), kv2.Stats().NumKeys)

	require.NoError(t, kv2.Compact())
	requireValue(t, kv2, "a", "3")
	requireValue(t, kv2, "b", "2")
	assert.Zero(t, kv2.Stats().StaleBytes)
	assert.Len(t, testutil.Files(t, dir, "*.seg"), 2)
}

func TestListSegmentIDsIgnoresOtherFiles(t *testing.T) {
	dir := testutil.TempDir(t)
	for _, name := range []string{"10.seg", "2.seg", "0.seg", "x.seg", "3.log", "LOCK"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "4.seg"), 0755))

	ids, err := listSegmentIDs(dir)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 10}, ids)
}
