package framing

import (
	"bytes"
	"fmt"

	"github.com/ooni/minisasl/internal/model"
)

// Writer serializes frames into an internal queue. The zero value is
// invalid; use [NewWriter].
type Writer struct {
	encoder      Encoder
	logger       model.Logger
	maxFrameSize int
	pending      bytes.Buffer
	tracer       model.HandshakeTracer
}

// NewWriter creates a [Writer] refusing frames larger than maxFrameSize.
func NewWriter(encoder Encoder, maxFrameSize int, logger model.Logger, tracer model.HandshakeTracer) *Writer {
	return &Writer{
		encoder:      encoder,
		logger:       logger,
		maxFrameSize: maxFrameSize,
		pending:      bytes.Buffer{},
		tracer:       tracer,
	}
}

// WriteHeader queues the protocol header.
func (w *Writer) WriteHeader(header []byte) {
	w.pending.Write(header)
}

// WriteFrame encodes and queues body.
func (w *Writer) WriteFrame(body model.FrameBody) error {
	frame, err := w.encoder.EncodeFrame(body)
	if err != nil {
		return err
	}
	if len(frame) > w.maxFrameSize {
		return fmt.Errorf("%w: %d bytes, max is %d", ErrFrameTooLarge, len(frame), w.maxFrameSize)
	}
	model.LogFrame(w.logger, model.DirectionOutgoing, body)
	w.tracer.OnOutgoingFrame(body)
	w.pending.Write(frame)
	return nil
}

// ReadBytes moves as many queued bytes as fit into dst and returns how many it moved.
func (w *Writer) ReadBytes(dst []byte) int {
	n, _ := w.pending.Read(dst)
	return n
}

// Pending returns the number of queued bytes.
func (w *Writer) Pending() int {
	return w.pending.Len()
}
