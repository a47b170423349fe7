package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ooni/minisasl/internal/optional"
)

// HandshakeTracer allows to collect traces for a given SASL negotiation. A HandshakeTracer can be
// optionally added to the configuration, and it will be propagated to the session and its filter.
type HandshakeTracer interface {
	// TimeNow allows to inject time for deterministic tests.
	TimeNow() time.Time

	// OnStateChange is called for each transition in the state machine.
	OnStateChange(from, to NegotiationState)

	// OnIncomingFrame is called when a frame body has been parsed.
	OnIncomingFrame(body FrameBody)

	// OnOutgoingFrame is called when a frame body is about to be written.
	OnOutgoingFrame(body FrameBody)

	// OnHandshakeDone is called once the negotiation outcome is known.
	OnHandshakeDone(outcome Outcome)

	// Trace returns an array of [HandshakeEvent]s.
	Trace() []HandshakeEvent
}

const (
	HandshakeEventStateChange = iota
	HandshakeEventFrameIn
	HandshakeEventFrameOut
	HandshakeEventDone
)

// HandshakeEventType indicates which event we logged.
type HandshakeEventType int

// Ensure that it implements the Stringer interface.
var _ fmt.Stringer = HandshakeEventType(0)

// String implements fmt.Stringer
func (e HandshakeEventType) String() string {
	switch e {
	case HandshakeEventStateChange:
		return "state"
	case HandshakeEventFrameIn:
		return "frame_in"
	case HandshakeEventFrameOut:
		return "frame_out"
	case HandshakeEventDone:
		return "done"
	default:
		return "unknown"
	}
}

// HandshakeEvent must implement the event annotation methods, plus json serialization.
type HandshakeEvent interface {
	Type() HandshakeEventType
	Time() time.Time
	Frame() optional.Value[LoggedFrame]
	json.Marshaler
}

// LoggedFrame tracks metadata about a frame useful to build traces.
type LoggedFrame struct {
	Direction Direction

	// Code is the body descriptor code.
	Code BodyCode

	// PayloadSize is the size of the opaque blob carried by the body, if any.
	PayloadSize int
}

// NewLoggedFrame extracts the trace metadata from a frame body.
func NewLoggedFrame(direction Direction, body FrameBody) LoggedFrame {
	lf := LoggedFrame{Direction: direction, Code: body.Code()}
	switch b := body.(type) {
	case *Init:
		lf.PayloadSize = len(b.InitialResponse)
	case *Challenge:
		lf.PayloadSize = len(b.Challenge)
	case *Response:
		lf.PayloadSize = len(b.Response)
	case *OutcomeBody:
		lf.PayloadSize = len(b.AdditionalData)
	}
	return lf
}

// MarshalJSON implements json.Marshaler.
func (lf LoggedFrame) MarshalJSON() ([]byte, error) {
	j := struct {
		Code        string `json:"code"`
		Direction   string `json:"direction"`
		PayloadSize int    `json:"payload_size"`
	}{
		Code:        lf.Code.String(),
		Direction:   lf.Direction.String(),
		PayloadSize: lf.PayloadSize,
	}
	return json.Marshal(j)
}

// Direction is one of two directions on a frame.
type Direction int

const (
	// DirectionIncoming marks received frames.
	DirectionIncoming = Direction(iota)

	// DirectionOutgoing marks frames to be sent.
	DirectionOutgoing
)

var _ fmt.Stringer = Direction(0)

// String implements fmt.Stringer
func (d Direction) String() string {
	switch d {
	case DirectionIncoming:
		return "recv"
	case DirectionOutgoing:
		return "send"
	default:
		return "undefined"
	}
}

// DummyTracer is a no-op implementation of [model.HandshakeTracer] that does nothing
// but can be safely passed as a default implementation.
type DummyTracer struct{}

// TimeNow allows to manipulate time for deterministic tests.
func (dt *DummyTracer) TimeNow() time.Time { return time.Now() }

// OnStateChange is called for each transition in the state machine.
func (dt *DummyTracer) OnStateChange(from, to NegotiationState) {}

// OnIncomingFrame is called when a frame body has been parsed.
func (dt *DummyTracer) OnIncomingFrame(body FrameBody) {}

// OnOutgoingFrame is called when a frame body is about to be written.
func (dt *DummyTracer) OnOutgoingFrame(body FrameBody) {}

// OnHandshakeDone is called once the negotiation outcome is known.
func (dt *DummyTracer) OnHandshakeDone(outcome Outcome) {}

// Trace returns a structured log containing an array of [model.HandshakeEvent].
func (dt *DummyTracer) Trace() []HandshakeEvent { return []HandshakeEvent{} }

// Assert that DummyTracer implements [model.HandshakeTracer].
var _ HandshakeTracer = &DummyTracer{}
