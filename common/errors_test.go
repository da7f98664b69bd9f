package common

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	err := IOError("append segment 3", fs.ErrPermission)

	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, fs.ErrPermission)
	assert.NotErrorIs(t, err, ErrCorrupt)
	assert.Equal(t, "append segment 3: io error: permission denied", err.Error())

	var serr *Error
	assert.True(t, errors.As(err, &serr))
	assert.Equal(t, "append segment 3", serr.Op)
}

func TestErrorNilCause(t *testing.T) {
	assert.Nil(t, IOError("sync", nil))
	assert.Nil(t, CompactionError("swap", nil))

	err := CorruptError("decode", nil)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.Equal(t, "decode: corrupt record", err.Error())
}

func TestCompactionErrorKeepsCause(t *testing.T) {
	cause := CorruptError("read record", errors.New("crc mismatch"))
	err := CompactionError("copy live records", cause)

	assert.ErrorIs(t, err, ErrCompaction)
	assert.ErrorIs(t, err, ErrCorrupt)
}
