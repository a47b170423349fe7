// Package tracex implements a [model.HandshakeTracer] that can be passed to the
// configuration to observe the events of a SASL negotiation.
package tracex

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/ooni/minisasl/internal/model"
	"github.com/ooni/minisasl/internal/optional"
)

// event implements [model.HandshakeEvent]
type event struct {
	// eventType is the type for this event.
	eventType model.HandshakeEventType

	// atTime is the time for this event.
	atTime time.Time

	// deltaTime is the time for this event, relative to the start time.
	deltaTime time.Duration

	// stage is the negotiation state when the event happened.
	stage model.NegotiationState

	// tags help interpreting the event, like the mechanism carried by a frame.
	tags []string

	// loggedFrame is an optional frame metadata.
	loggedFrame optional.Value[model.LoggedFrame]

	// transactionID is an optional index identifying one particular handshake.
	transactionID int64
}

func newEvent(etype model.HandshakeEventType, stage model.NegotiationState, t time.Time, t0 time.Time, txid int64) *event {
	return &event{
		eventType:     etype,
		atTime:        t,
		deltaTime:     t.Sub(t0),
		stage:         stage,
		tags:          make([]string, 0),
		loggedFrame:   optional.None[model.LoggedFrame](),
		transactionID: txid,
	}
}

// Type returns the type for the event.
func (e *event) Type() model.HandshakeEventType {
	return e.eventType
}

// Time returns the event timestamp.
func (e *event) Time() time.Time {
	return e.atTime
}

// Frame returns an optional logged frame.
func (e *event) Frame() optional.Value[model.LoggedFrame] {
	return e.loggedFrame
}

// MarshalJSON implements json.Marshaler
func (e *event) MarshalJSON() ([]byte, error) {
	j := struct {
		Type          string             `json:"operation"`
		Stage         string             `json:"stage"`
		Time          float64            `json:"t"`
		Tags          []string           `json:"tags"`
		Frame         *model.LoggedFrame `json:"frame,omitempty"`
		TransactionID int64              `json:"transaction_id,omitempty"`
	}{
		Type:          e.eventType.String(),
		Stage:         e.stage.String()[2:],
		Time:          e.deltaTime.Seconds(),
		Tags:          e.tags,
		Frame:         nil,
		TransactionID: e.transactionID,
	}
	if !e.loggedFrame.IsNone() {
		frame := e.loggedFrame.Unwrap()
		j.Frame = &frame
	}
	return json.Marshal(j)
}

var _ model.HandshakeEvent = &event{}

// Tracer implements [model.HandshakeTracer].
type Tracer struct {
	// events is the array of handshake events.
	events []model.HandshakeEvent

	// mu guards access to the fields.
	mu sync.Mutex

	// now returns the current time.
	now func() time.Time

	// stage is the last negotiation state we observed.
	stage model.NegotiationState

	// transactionID is an optional index that will be added to any events produced by this tracer.
	transactionID int64

	// zeroTime is the time when we started a trace.
	zeroTime time.Time
}

var _ model.HandshakeTracer = &Tracer{}

// NewTracer returns a Tracer with the passed start time.
func NewTracer(start time.Time) *Tracer {
	return &Tracer{
		events:   make([]model.HandshakeEvent, 0),
		now:      time.Now,
		stage:    model.S_IDLE,
		zeroTime: start,
	}
}

// NewTracerWithTransactionID returns a Tracer with the passed start time and the given
// identifier for a transaction, which is added to every event.
func NewTracerWithTransactionID(start time.Time, txid int64) *Tracer {
	t := NewTracer(start)
	t.transactionID = txid
	return t
}

// TimeNow allows to manipulate time for deterministic tests.
func (t *Tracer) TimeNow() time.Time {
	return t.now()
}

// OnStateChange is called for each transition in the state machine.
func (t *Tracer) OnStateChange(from, to model.NegotiationState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stage = to
	e := newEvent(model.HandshakeEventStateChange, to, t.TimeNow(), t.zeroTime, t.transactionID)
	e.tags = append(e.tags, "from="+from.String())
	t.events = append(t.events, e)
}

// OnIncomingFrame is called when a frame body has been parsed.
func (t *Tracer) OnIncomingFrame(body model.FrameBody) {
	t.onFrame(model.HandshakeEventFrameIn, model.DirectionIncoming, body)
}

// OnOutgoingFrame is called when a frame body is about to be written.
func (t *Tracer) OnOutgoingFrame(body model.FrameBody) {
	t.onFrame(model.HandshakeEventFrameOut, model.DirectionOutgoing, body)
}

func (t *Tracer) onFrame(etype model.HandshakeEventType, direction model.Direction, body model.FrameBody) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := newEvent(etype, t.stage, t.TimeNow(), t.zeroTime, t.transactionID)
	e.loggedFrame = optional.Some(model.NewLoggedFrame(direction, body))
	maybeAddTagsFromBody(e, body)
	t.events = append(t.events, e)
}

// OnHandshakeDone is called once the negotiation outcome is known.
func (t *Tracer) OnHandshakeDone(outcome model.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := newEvent(model.HandshakeEventDone, t.stage, t.TimeNow(), t.zeroTime, t.transactionID)
	e.tags = append(e.tags, "outcome="+outcome.String())
	t.events = append(t.events, e)
}

// Trace returns a copy of the array of [model.HandshakeEvent].
func (t *Tracer) Trace() []model.HandshakeEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.HandshakeEvent{}, t.events...)
}

// maybeAddTagsFromBody derives meaningful tags from the frame body, and
// adds them to the tag array in the passed event.
func maybeAddTagsFromBody(e *event, body model.FrameBody) {
	switch b := body.(type) {
	case *model.Mechanisms:
		for _, m := range b.Mechanisms {
			e.tags = append(e.tags, "mechanism="+m)
		}
	case *model.Init:
		e.tags = append(e.tags, "mechanism="+b.Mechanism)
		if b.Hostname != "" {
			e.tags = append(e.tags, "hostname="+b.Hostname)
		}
	case *model.OutcomeBody:
		e.tags = append(e.tags, "outcome="+b.Outcome.String())
	}
}
