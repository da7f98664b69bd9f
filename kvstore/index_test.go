package kvstore

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexPutDelete(t *testing.T) {
	ix := newIndex()

	_, existed := ix.put("k", entry{segmentID: 1, offset: 0, length: 10})
	assert.False(t, existed)

	prev, existed := ix.put("k", entry{segmentID: 1, offset: 10, length: 12})
	assert.True(t, existed)
	assert.Equal(t, int32(10), prev.length)
	assert.Equal(t, int64(1), ix.len())
	assert.Equal(t, int64(12), ix.liveBytes())

	prev, existed = ix.delete("k")
	assert.True(t, existed)
	assert.Equal(t, int64(10), prev.offset)
	assert.Equal(t, int64(0), ix.len())

	_, existed = ix.delete("k")
	assert.False(t, existed)
}

func TestIndexSnapshotAndApply(t *testing.T) {
	ix := newIndex()
	for i := 0; i < 1000; i++ {
		ix.put(fmt.Sprintf("key%d", i), entry{segmentID: 1, offset: int64(i * 10), length: 10})
	}

	live := ix.snapshot()
	assert.Len(t, live, 1000)

	moved := make(map[string]entry, len(live))
	for i, e := range live {
		moved[e.key] = entry{segmentID: 2, offset: int64(i * 10), length: 10}
	}
	ix.apply(moved)

	assert.Equal(t, int64(1000), ix.len())
	for k, want := range moved {
		got, ok := ix.get(k)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
}
