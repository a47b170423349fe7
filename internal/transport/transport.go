// Package transport contains an in-memory transport implementing
// [model.TransportInput] and [model.TransportOutput].
//
// It is the inner transport sitting behind the SASL filter: what the filter
// forwards after the negotiation becomes readable with [Buffer.Read], and what
// the application writes with [Buffer.Write] becomes pending output.
package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ooni/minisasl/internal/model"
	"github.com/ooni/minisasl/internal/runtimex"
)

// ErrClosed indicates an operation on a closed side of the transport.
var ErrClosed = errors.New("transport: closed")

// Buffer is an in-memory transport. The zero value is invalid; use [NewBuffer].
type Buffer struct {
	headClosed bool
	output     bytes.Buffer
	received   bytes.Buffer
	tail       []byte
	tailClosed bool
}

var _ model.TransportWrapper = &Buffer{}

// NewBuffer creates a [Buffer] accepting up to capacity bytes per Process call.
func NewBuffer(capacity int) *Buffer {
	runtimex.Assert(capacity > 0, "NewBuffer: capacity must be positive")
	return &Buffer{
		headClosed: false,
		output:     bytes.Buffer{},
		received:   bytes.Buffer{},
		tail:       make([]byte, capacity),
		tailClosed: false,
	}
}

// Capacity implements model.TransportInput.
func (b *Buffer) Capacity() int {
	if b.tailClosed {
		return model.EndOfStream
	}
	return len(b.tail)
}

// Position implements model.TransportInput.
func (b *Buffer) Position() int {
	if b.tailClosed {
		return model.EndOfStream
	}
	return b.received.Len()
}

// Tail implements model.TransportInput.
func (b *Buffer) Tail() []byte {
	return b.tail
}

// Process implements model.TransportInput.
func (b *Buffer) Process(n int) error {
	if b.tailClosed {
		return fmt.Errorf("%w: process after close", ErrClosed)
	}
	runtimex.Assert(n >= 0 && n <= len(b.tail), "Process: invalid byte count")
	b.received.Write(b.tail[:n])
	return nil
}

// CloseTail implements model.TransportInput.
func (b *Buffer) CloseTail() {
	b.tailClosed = true
}

// Read reads the bytes processed so far. It returns [io.EOF] once the tail is
// closed and everything has been read, and zero bytes with no error when no
// byte is available yet.
func (b *Buffer) Read(p []byte) (int, error) {
	if b.received.Len() <= 0 {
		if b.tailClosed {
			return 0, io.EOF
		}
		return 0, nil
	}
	return b.received.Read(p)
}

// Received returns the number of bytes Read would return.
func (b *Buffer) Received() int {
	return b.received.Len()
}

// Write queues p for output.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.headClosed {
		return 0, fmt.Errorf("%w: write after close", ErrClosed)
	}
	return b.output.Write(p)
}

// Pending implements model.TransportOutput.
func (b *Buffer) Pending() int {
	if b.headClosed {
		return model.EndOfStream
	}
	return b.output.Len()
}

// Head implements model.TransportOutput.
func (b *Buffer) Head() []byte {
	return b.output.Bytes()
}

// Pop implements model.TransportOutput.
func (b *Buffer) Pop(n int) {
	runtimex.Assert(n >= 0 && n <= b.output.Len(), "Pop: invalid byte count")
	b.output.Next(n)
}

// CloseHead implements model.TransportOutput.
func (b *Buffer) CloseHead() {
	b.headClosed = true
}
