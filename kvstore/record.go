package kvstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/intellect4all/kvs/common"
)

// Record format on disk:
// [header crc32(4)][payload len(4)][payload crc32(4)][msgpack payload]
// The header CRC covers the length and the payload CRC, so a damaged
// length is caught before it is used to size a read.
const (
	headerSize = 4 + 4 + 4
)

type op uint8

const (
	opSet    op = 1
	opRemove op = 2
)

func (o op) String() string {
	switch o {
	case opSet:
		return "set"
	case opRemove:
		return "remove"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// command is the payload of one log record.
type command struct {
	Op    op     `msgpack:"op"`
	Key   string `msgpack:"k"`
	Value string `msgpack:"v,omitempty"`
}

func setCommand(key, value string) command {
	return command{Op: opSet, Key: key, Value: value}
}

func removeCommand(key string) command {
	return command{Op: opRemove, Key: key}
}

// errTruncated means the record runs past the end of the available data,
// which is what a crash in the middle of an append leaves behind.
var errTruncated = errors.New("truncated record")

// encodeRecord frames cmd for appending to a segment.
func encodeRecord(cmd command) ([]byte, error) {
	payload, err := msgpack.Marshal(&cmd)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s %q", cmd.Op, cmd.Key)
	}

	buf := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[8:12], crc32.ChecksumIEEE(payload))
	binary.LittleEndian.PutUint32(buf[0:4], crc32.ChecksumIEEE(buf[4:headerSize]))
	copy(buf[headerSize:], payload)
	return buf, nil
}

// decodeRecord decodes the record at the start of data and returns it with
// its framed size.
func decodeRecord(data []byte) (command, int, error) {
	if len(data) < headerSize {
		return command{}, 0, errTruncated
	}
	n, err := checkHeader(data[:headerSize])
	if err != nil {
		return command{}, 0, err
	}
	size := headerSize + int(n)
	if len(data) < size {
		return command{}, 0, errTruncated
	}
	cmd, err := decodeFrame(data[:headerSize], data[headerSize:size])
	return cmd, size, err
}

// checkHeader verifies a record header and returns the payload length.
func checkHeader(header []byte) (uint32, error) {
	stored := binary.LittleEndian.Uint32(header[0:4])
	if crc := crc32.ChecksumIEEE(header[4:headerSize]); crc != stored {
		return 0, common.CorruptError("decode record",
			errors.Errorf("header crc mismatch: stored=%x calculated=%x", stored, crc))
	}
	return binary.LittleEndian.Uint32(header[4:8]), nil
}

// decodeFrame decodes a payload whose header has already been checked.
func decodeFrame(header, payload []byte) (command, error) {
	stored := binary.LittleEndian.Uint32(header[8:12])
	if crc := crc32.ChecksumIEEE(payload); crc != stored {
		return command{}, common.CorruptError("decode record",
			errors.Errorf("payload crc mismatch: stored=%x calculated=%x", stored, crc))
	}

	var cmd command
	if err := msgpack.Unmarshal(payload, &cmd); err != nil {
		return command{}, common.CorruptError("decode record", err)
	}
	if cmd.Op != opSet && cmd.Op != opRemove {
		return command{}, common.CorruptError("decode record", errors.Errorf("unknown %s", cmd.Op))
	}
	return cmd, nil
}

// recordScanner reads the records of a segment front to back.
type recordScanner struct {
	r      *bufio.Reader
	offset int64
	limit  int64
	header [headerSize]byte
	buf    []byte
}

func newRecordScanner(r io.Reader, limit int64) *recordScanner {
	return &recordScanner{
		r:     bufio.NewReaderSize(r, 64*1024),
		limit: limit,
	}
}

// next returns the next record with its offset and framed size. It returns
// io.EOF at a clean end of data and errTruncated if the data ends inside a
// record whose header is intact. A record with a corrupt payload still
// reports its offset and size; a corrupt header reports size 0.
func (s *recordScanner) next() (command, int64, int, error) {
	offset := s.offset
	if offset >= s.limit {
		return command{}, offset, 0, io.EOF
	}

	if _, err := io.ReadFull(s.r, s.header[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return command{}, offset, 0, errTruncated
		}
		return command{}, offset, 0, err
	}

	length, err := checkHeader(s.header[:])
	if err != nil {
		return command{}, offset, 0, err
	}
	n := int64(length)
	if offset+headerSize+n > s.limit {
		return command{}, offset, 0, errTruncated
	}
	if int64(cap(s.buf)) < n {
		s.buf = make([]byte, n)
	}
	payload := s.buf[:n]
	if _, err := io.ReadFull(s.r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return command{}, offset, 0, errTruncated
		}
		return command{}, offset, 0, err
	}

	size := headerSize + int(n)
	s.offset += int64(size)
	cmd, err := decodeFrame(s.header[:], payload)
	return cmd, offset, size, err
}
