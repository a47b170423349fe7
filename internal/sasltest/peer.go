package sasltest

import (
	"fmt"
	"io"
	"time"

	"github.com/apex/log"
	"github.com/ooni/minisasl/internal/codec"
	"github.com/ooni/minisasl/internal/framing"
	"github.com/ooni/minisasl/internal/model"
)

// WriteSequence writes the protocol header followed by the passed frame sequence (in
// their string representation) to w. It waits the specified interval after each frame.
func WriteSequence(w io.Writer, seq []string) error {
	if _, err := w.Write(codec.Header); err != nil {
		return err
	}
	return WriteFrames(w, seq)
}

// WriteFrames is like [WriteSequence] but does not write the protocol header.
func WriteFrames(w io.Writer, seq []string) error {
	for _, item := range seq {
		tf, err := NewTestFrameFromString(item)
		if err != nil {
			return fmt.Errorf("sasltest: error reading test sequence: %w", err)
		}
		frame, err := codec.SASL{}.EncodeFrame(tf.Body)
		if err != nil {
			return err
		}
		if _, err := w.Write(frame); err != nil {
			return err
		}
		time.Sleep(tf.IAT)
	}
	return nil
}

// frameCollector is a [framing.FrameSink] collecting a fixed number of frames.
type frameCollector struct {
	bodies []model.FrameBody
	want   int
}

func (fc *frameCollector) HandleFrame(body model.FrameBody, payload []byte) error {
	fc.bodies = append(fc.bodies, body)
	return nil
}

func (fc *frameCollector) AcceptsFrames() bool {
	return len(fc.bodies) < fc.want
}

// FrameReader reads the frames a peer sends. The zero value is invalid; use [NewFrameReader].
type FrameReader struct {
	buffered []byte
	parser   *framing.Parser
	r        io.Reader
}

// NewFrameReader creates a [FrameReader] expecting the protocol header first.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		buffered: nil,
		parser:   framing.NewParser(codec.SASL{}, codec.Header, codec.MinMaxFrameSize, log.Log, &model.DummyTracer{}),
		r:        r,
	}
}

// ReadFrames blocks until it has read n frames. Bytes following the last frame stay
// buffered and are returned by [FrameReader.Buffered].
func (fr *FrameReader) ReadFrames(n int) ([]model.FrameBody, error) {
	sink := &frameCollector{want: n}
	buf := make([]byte, 1024)
	for {
		consumed, err := fr.parser.Input(fr.buffered, sink)
		if err != nil {
			return sink.bodies, err
		}
		fr.buffered = fr.buffered[consumed:]
		if !sink.AcceptsFrames() {
			return sink.bodies, nil
		}
		count, err := fr.r.Read(buf)
		if err != nil {
			return sink.bodies, err
		}
		fr.buffered = append(fr.buffered, buf[:count]...)
	}
}

// Buffered returns the bytes read but not parsed yet.
func (fr *FrameReader) Buffered() []byte {
	return fr.buffered
}
