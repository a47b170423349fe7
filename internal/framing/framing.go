// Package framing moves SASL frame bodies in and out of byte buffers.
//
// The [Writer] queues the protocol header and the encoded frames and drains
// them into whatever room the caller has. The [Parser] validates the peer's
// protocol header and reassembles length-delimited frames that may arrive
// split across many calls.
package framing

import (
	"errors"

	"github.com/ooni/minisasl/internal/model"
)

var (
	// ErrFrameTooLarge indicates a frame exceeding the negotiated max frame size.
	ErrFrameTooLarge = errors.New("sasl framing: frame too large")

	// ErrBadHeader indicates the peer sent something other than the SASL protocol header.
	ErrBadHeader = errors.New("sasl framing: bad protocol header")

	// ErrBadFrame indicates a frame whose size field cannot be valid.
	ErrBadFrame = errors.New("sasl framing: bad frame")
)

// Encoder serializes a frame body into a complete frame.
type Encoder interface {
	EncodeFrame(body model.FrameBody) ([]byte, error)
}

// Decoder parses a complete frame into its body and trailing payload.
type Decoder interface {
	DecodeFrame(frame []byte) (model.FrameBody, []byte, error)
}

// FrameSink receives the frames assembled by a [Parser].
type FrameSink interface {
	// HandleFrame consumes a frame body and the payload following it.
	HandleFrame(body model.FrameBody, payload []byte) error

	// AcceptsFrames returns whether the sink still wants negotiation frames. The
	// parser checks it before each frame and leaves the remaining bytes alone
	// once it returns false.
	AcceptsFrames() bool
}

// sizeFieldLen is the length of the frame size prefix.
const sizeFieldLen = 4

// minFrameSize is the size of a frame with an empty body.
const minFrameSize = 8
