// Package bytesx provides functions operating on bytes.
//
// Specifically we implement these operations:
//
// 1. big-endian integer reading and writing on a [bytes.Buffer];
//
// 2. fixed-size reads that fail on truncation;
//
// 3. in-place compaction of fixed-capacity buffers.
package bytesx

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ooni/minisasl/internal/runtimex"
)

// ErrShortRead indicates that the buffer does not contain enough bytes.
var ErrShortRead = errors.New("short read")

// ReadUint32 is a convenience function that reads a uint32 from a 4-byte
// buffer, returning an error if the operation failed.
func ReadUint32(buf *bytes.Buffer) (uint32, error) {
	var numBuf [4]byte
	_, err := io.ReadFull(buf, numBuf[:])
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(numBuf[:]), nil
}

// WriteUint32 is a convenience function that appends to the given buffer
// 4 bytes containing the big-endian representation of the given uint32 value.
func WriteUint32(buf *bytes.Buffer, val uint32) {
	var numBuf [4]byte
	binary.BigEndian.PutUint32(numBuf[:], val)
	buf.Write(numBuf[:])
}

// ReadUint64 is like [ReadUint32] but reads an 8-byte big-endian value.
func ReadUint64(buf *bytes.Buffer) (uint64, error) {
	var numBuf [8]byte
	_, err := io.ReadFull(buf, numBuf[:])
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(numBuf[:]), nil
}

// ReadBytes reads exactly n bytes from buf and returns a copy of them. It
// returns ErrShortRead when buf holds fewer than n bytes.
func ReadBytes(buf *bytes.Buffer, n int) ([]byte, error) {
	if n < 0 || buf.Len() < n {
		return nil, fmt.Errorf("%w: want %d bytes, have %d", ErrShortRead, n, buf.Len())
	}
	out := make([]byte, n)
	copy(out, buf.Next(n))
	return out, nil
}

// Compact discards the first consumed bytes out of the first length bytes
// of b by moving the remaining ones to the front. It returns the new length.
func Compact(b []byte, consumed, length int) int {
	runtimex.Assert(length >= 0 && length <= len(b), "length is out of bounds")
	runtimex.Assert(consumed >= 0 && consumed <= length, "consumed is out of bounds")
	if consumed == 0 {
		return length
	}
	return copy(b, b[consumed:length])
}
