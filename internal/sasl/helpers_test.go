package sasl

import (
	"testing"

	"github.com/ooni/minisasl/internal/codec"
	"github.com/ooni/minisasl/internal/model"
	"github.com/ooni/minisasl/internal/transport"
)

func newTestSession(t *testing.T) (*Session, *model.TestLogger) {
	t.Helper()
	logger := model.NewTestLogger()
	return NewSession(logger, &model.DummyTracer{}, codec.MinMaxFrameSize), logger
}

func newTestFilter(s *Session, innerCapacity int) (*Filter, *transport.Buffer) {
	inner := transport.NewBuffer(innerCapacity)
	return s.Wrap(inner, inner), inner
}

// frames returns the encoding of the given bodies.
func frames(t *testing.T, bodies ...model.FrameBody) []byte {
	t.Helper()
	var out []byte
	for _, body := range bodies {
		frame, err := codec.SASL{}.EncodeFrame(body)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, frame...)
	}
	return out
}

// withHeader returns the protocol header followed by the given bodies.
func withHeader(t *testing.T, bodies ...model.FrameBody) []byte {
	t.Helper()
	return append(append([]byte{}, codec.Header...), frames(t, bodies...)...)
}

// drain pops and returns everything the filter has to send right now.
func drain(t *testing.T, f model.TransportOutput) []byte {
	t.Helper()
	var out []byte
	for {
		n := f.Pending()
		if n <= 0 {
			return out
		}
		head := f.Head()
		if len(head) != n {
			t.Fatalf("Head() has %d bytes but Pending() is %d", len(head), n)
		}
		out = append(out, head...)
		f.Pop(n)
	}
}

// write delivers data to the filter in chunks of at most chunk bytes.
func write(f model.TransportInput, data []byte, chunk int) error {
	for len(data) > 0 {
		capacity := f.Capacity()
		if capacity <= 0 {
			return errNoCapacity
		}
		n := chunk
		if n > capacity {
			n = capacity
		}
		if n > len(data) {
			n = len(data)
		}
		copy(f.Tail(), data[:n])
		data = data[n:]
		if err := f.Process(n); err != nil {
			return err
		}
	}
	return nil
}

type testError string

func (e testError) Error() string { return string(e) }

const errNoCapacity = testError("no capacity")

func mustWrite(t *testing.T, f model.TransportInput, data []byte) {
	t.Helper()
	if err := write(f, data, len(data)); err != nil {
		t.Fatal(err)
	}
}

// readAll returns the bytes the inner transport has received.
func readAll(inner *transport.Buffer) []byte {
	out := make([]byte, inner.Received())
	n, _ := inner.Read(out)
	return out[:n]
}
