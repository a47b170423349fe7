package framing

import (
	"encoding/binary"
	"fmt"

	"github.com/ooni/minisasl/internal/model"
)

// Parser reassembles frames out of a byte stream. The zero value is
// invalid; use [NewParser].
type Parser struct {
	decoder      Decoder
	err          error
	header       []byte
	headerSeen   int
	logger       model.Logger
	maxFrameSize int
	tracer       model.HandshakeTracer
}

// NewParser creates a [Parser] that expects the given protocol header before
// any frame and refuses frames larger than maxFrameSize.
func NewParser(decoder Decoder, header []byte, maxFrameSize int, logger model.Logger, tracer model.HandshakeTracer) *Parser {
	return &Parser{
		decoder:      decoder,
		err:          nil,
		header:       header,
		headerSeen:   0,
		logger:       logger,
		maxFrameSize: maxFrameSize,
		tracer:       tracer,
	}
}

// Input parses as many complete frames as data contains, dispatching each one
// to sink, and returns the number of bytes consumed. Bytes of an incomplete
// frame are not consumed: the caller must present them again, followed by the
// rest of the frame. Errors are sticky.
func (p *Parser) Input(data []byte, sink FrameSink) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	consumed, err := p.input(data, sink)
	p.err = err
	return consumed, err
}

func (p *Parser) input(data []byte, sink FrameSink) (int, error) {
	consumed := 0

	// the header may arrive one byte at a time
	for p.headerSeen < len(p.header) {
		if consumed >= len(data) {
			return consumed, nil
		}
		if data[consumed] != p.header[p.headerSeen] {
			return consumed, fmt.Errorf("%w: byte %d is 0x%02x", ErrBadHeader, p.headerSeen, data[consumed])
		}
		p.headerSeen++
		consumed++
	}

	for sink.AcceptsFrames() {
		rest := data[consumed:]
		if len(rest) < sizeFieldLen {
			return consumed, nil
		}
		size := binary.BigEndian.Uint32(rest[:sizeFieldLen])
		if size < minFrameSize {
			return consumed, fmt.Errorf("%w: size %d", ErrBadFrame, size)
		}
		if uint64(size) > uint64(p.maxFrameSize) {
			return consumed, fmt.Errorf("%w: %d bytes, max is %d", ErrFrameTooLarge, size, p.maxFrameSize)
		}
		if len(rest) < int(size) {
			return consumed, nil
		}
		body, payload, err := p.decoder.DecodeFrame(rest[:size])
		if err != nil {
			return consumed, err
		}
		consumed += int(size)
		model.LogFrame(p.logger, model.DirectionIncoming, body)
		p.tracer.OnIncomingFrame(body)
		if err := sink.HandleFrame(body, payload); err != nil {
			return consumed, err
		}
	}
	return consumed, nil
}
