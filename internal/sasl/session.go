// Package sasl implements the SASL negotiation state machine and the
// transport filter that runs it in front of an inner transport.
//
// A [Session] knows nothing about sockets. Bytes flow in and out of it through
// the [Filter] returned by [Session.Wrap], which the caller drives with the
// [model.TransportWrapper] contract. Once each direction has finished
// negotiating, the filter forwards the bytes of that direction to the inner
// transport untouched.
package sasl

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/ooni/minisasl/internal/codec"
	"github.com/ooni/minisasl/internal/framing"
	"github.com/ooni/minisasl/internal/model"
	"github.com/ooni/minisasl/internal/optional"
)

// MechanismPlain is the name of the PLAIN mechanism.
const MechanismPlain = "PLAIN"

// Session is a SASL negotiation. The zero value is invalid; please, construct
// using [NewSession]. A Session is not safe for concurrent use: the caller must
// invoke its methods, and the methods of its [Filter], sequentially.
type Session struct {
	// chosenMechanism is the mechanism we selected (initiator) or the
	// initiator selected (acceptor).
	chosenMechanism optional.Value[string]

	// done is set once the outcome is decided.
	done bool

	// err is the first protocol error, after which the session is unusable.
	err error

	// headerWritten is set once the protocol header has been queued.
	headerWritten bool

	// hostname is the host the initiator wants to reach.
	hostname optional.Value[string]

	// id identifies this session in logs and traces.
	id uuid.UUID

	// incoming is the last blob received from the peer and not read yet.
	incoming optional.Value[[]byte]

	// logger is the logger to use.
	logger model.Logger

	// maxFrameSize bounds the frames and the filter buffers.
	maxFrameSize int

	// mechanisms is our list (acceptor) or the peer's list (initiator).
	mechanisms []string

	// outcome is the verdict, [model.OutcomeNone] until decided.
	outcome model.Outcome

	// outgoing is the challenge or response we still have to send.
	outgoing optional.Value[[]byte]

	// parser reassembles incoming frames.
	parser *framing.Parser

	// side is nil until the role is known.
	side side

	// state is the negotiation state.
	state model.NegotiationState

	// tracer traces the negotiation.
	tracer model.HandshakeTracer

	// writer queues outgoing frames.
	writer *framing.Writer
}

// NewSession creates a new [Session] whose frames are at most maxFrameSize
// bytes, which cannot be smaller than [codec.MinMaxFrameSize].
func NewSession(logger model.Logger, tracer model.HandshakeTracer, maxFrameSize int) *Session {
	if maxFrameSize < codec.MinMaxFrameSize {
		maxFrameSize = codec.MinMaxFrameSize
	}
	id := uuid.New()
	logger = model.NewPrefixLogger(logger, fmt.Sprintf("sasl[%s]", id.String()[:8]))
	return &Session{
		chosenMechanism: optional.None[string](),
		done:            false,
		err:             nil,
		headerWritten:   false,
		hostname:        optional.None[string](),
		id:              id,
		incoming:        optional.None[[]byte](),
		logger:          logger,
		maxFrameSize:    maxFrameSize,
		mechanisms:      nil,
		outcome:         model.OutcomeNone,
		outgoing:        optional.None[[]byte](),
		parser:          framing.NewParser(codec.SASL{}, codec.Header, maxFrameSize, logger, tracer),
		side:            nil,
		state:           model.S_IDLE,
		tracer:          tracer,
		writer:          framing.NewWriter(codec.SASL{}, maxFrameSize, logger, tracer),
	}
}

// ID returns the unique identifier of this session.
func (s *Session) ID() string {
	return s.id.String()
}

// Role returns our role.
func (s *Session) Role() model.Role {
	return roleOf(s.side)
}

// State returns the negotiation state.
func (s *Session) State() model.NegotiationState {
	return s.state
}

// Outcome returns the outcome, which is [model.OutcomeNone] until decided.
func (s *Session) Outcome() model.Outcome {
	return s.outcome
}

// IsDone returns whether the negotiation is over. The acceptor is only done once
// it has also received the init frame of the initiator.
func (s *Session) IsDone() bool {
	if !s.done {
		return false
	}
	switch side := s.side.(type) {
	case *initiatorSide:
		return true
	case *acceptorSide:
		return side.initReceived
	default:
		return false
	}
}

// Err returns the protocol error that made this session unusable, if any.
func (s *Session) Err() error {
	return s.err
}

// Client makes us the initiator. If the mechanisms are already set, the list
// must contain exactly one entry, which becomes the chosen mechanism.
func (s *Session) Client() error {
	if _, ok := s.side.(*acceptorSide); ok {
		return fmt.Errorf("%w: cannot become %s", ErrRoleConflict, model.RoleInitiator)
	}
	if s.mechanisms != nil {
		if len(s.mechanisms) != 1 {
			return fmt.Errorf("%w: the initiator needs exactly one mechanism, got %d", ErrBadMechanisms, len(s.mechanisms))
		}
		s.chosenMechanism = optional.Some(s.mechanisms[0])
	}
	s.becomeInitiator()
	return nil
}

// Server makes us the acceptor.
func (s *Session) Server() error {
	if _, ok := s.side.(*initiatorSide); ok {
		return fmt.Errorf("%w: cannot become %s", ErrRoleConflict, model.RoleAcceptor)
	}
	s.becomeAcceptor()
	return nil
}

func (s *Session) becomeInitiator() {
	if s.side == nil {
		s.side = &initiatorSide{}
		s.logger.Debugf("role: %s", model.RoleInitiator)
	}
}

func (s *Session) becomeAcceptor() {
	if s.side == nil {
		s.side = &acceptorSide{}
		s.logger.Debugf("role: %s", model.RoleAcceptor)
	}
}

// SetMechanisms sets the mechanisms. The acceptor advertises them to the peer.
// The initiator must pass exactly one mechanism, which becomes the chosen one;
// there is no policy for picking among several.
func (s *Session) SetMechanisms(mechanisms ...string) error {
	if len(mechanisms) == 0 {
		return fmt.Errorf("%w: empty list", ErrBadMechanisms)
	}
	if _, ok := s.side.(*initiatorSide); ok {
		if len(mechanisms) != 1 {
			return fmt.Errorf("%w: the initiator needs exactly one mechanism, got %d", ErrBadMechanisms, len(mechanisms))
		}
		s.chosenMechanism = optional.Some(mechanisms[0])
	}
	s.mechanisms = append([]string{}, mechanisms...)
	return nil
}

// RemoteMechanisms returns the mechanism chosen by the initiator when we are the
// acceptor, or the mechanisms advertised by the acceptor when we are the initiator.
func (s *Session) RemoteMechanisms() ([]string, error) {
	switch s.side.(type) {
	case *acceptorSide:
		if s.chosenMechanism.IsNone() {
			return []string{}, nil
		}
		return []string{s.chosenMechanism.Unwrap()}, nil
	case *initiatorSide:
		return append([]string{}, s.mechanisms...), nil
	default:
		return nil, fmt.Errorf("%w: role is %s", ErrRoleMismatch, model.RoleUndetermined)
	}
}

// SetRemoteHostname sets the hostname the initiator sends in its init frame.
func (s *Session) SetRemoteHostname(hostname string) error {
	if err := s.checkRoleOrUndetermined(model.RoleInitiator); err != nil {
		return err
	}
	s.hostname = optional.Some(hostname)
	return nil
}

// Hostname returns the hostname received from the initiator, if any.
func (s *Session) Hostname() (string, error) {
	if err := s.checkRoleOrUndetermined(model.RoleAcceptor); err != nil {
		return "", err
	}
	return s.hostname.UnwrapOr(""), nil
}

// Plain selects the PLAIN mechanism and prepares its initial response. It makes
// us the initiator.
func (s *Session) Plain(username, password string) error {
	if _, ok := s.side.(*acceptorSide); ok {
		return fmt.Errorf("%w: PLAIN credentials need the %s role", ErrRoleConflict, model.RoleInitiator)
	}
	s.becomeInitiator()
	s.chosenMechanism = optional.Some(MechanismPlain)
	blob := make([]byte, 0, len(username)+len(password)+2)
	blob = append(blob, 0x00)
	blob = append(blob, username...)
	blob = append(blob, 0x00)
	blob = append(blob, password...)
	s.outgoing = optional.Some(blob)
	return nil
}

// Send sets the next challenge (acceptor) or response (initiator). The initiator
// sends the first one inside its init frame. A value not sent yet is replaced.
func (s *Session) Send(p []byte) int {
	s.outgoing = optional.Some(append([]byte{}, p...))
	return len(p)
}

// Pending returns the number of bytes of the last received challenge, response
// or initial response that [Session.Recv] has not returned yet.
func (s *Session) Pending() int {
	return len(s.incoming.UnwrapOr(nil))
}

// Recv copies the last received challenge, response or initial response into p.
// It returns [io.EOF] when there is nothing to read.
func (s *Session) Recv(p []byte) (int, error) {
	if s.incoming.IsNone() {
		return 0, io.EOF
	}
	blob := s.incoming.Unwrap()
	n := copy(p, blob)
	if n == len(blob) {
		s.incoming = optional.None[[]byte]()
	} else {
		s.incoming = optional.Some(blob[n:])
	}
	return n, nil
}

// Done decides the outcome of the negotiation. Only the acceptor can call it.
func (s *Session) Done(outcome model.Outcome) error {
	if err := s.checkRole(model.RoleAcceptor); err != nil {
		return err
	}
	if !outcome.IsValidCode() {
		return fmt.Errorf("%w: %s", ErrBadOutcome, outcome)
	}
	if s.done {
		return fmt.Errorf("%w: outcome is %s", ErrAlreadyDone, s.outcome)
	}
	s.markDone(outcome)
	s.setState(outcome.State())
	return nil
}

// Fail forces a local system failure, for example because the connection broke.
// An undetermined role becomes the initiator. The session is done right away.
func (s *Session) Fail() {
	switch side := s.side.(type) {
	case nil:
		s.side = &initiatorSide{initSent: true}
	case *initiatorSide:
		side.initSent = true
	case *acceptorSide:
		side.initReceived = true
	}
	if s.done {
		return
	}
	s.logger.Warn("forcing negotiation failure")
	s.markDone(model.OutcomeSys)
	s.setState(model.S_FAIL)
}

// AllowSkip would allow the peer to skip the negotiation. It is not supported.
func (s *Session) AllowSkip(allow bool) error {
	return ErrSkipUnsupported
}

// String implements fmt.Stringer.
func (s *Session) String() string {
	return fmt.Sprintf("Session [id=%s, outcome=%s, state=%s, done=%v, role=%s]",
		s.id, s.outcome, s.state, s.done, s.Role())
}

// Wrap returns the [Filter] running this session in front of the given inner
// transport. Call it once per session.
func (s *Session) Wrap(input model.TransportInput, output model.TransportOutput) *Filter {
	return newFilter(s, input, output)
}

func (s *Session) checkRole(role model.Role) error {
	if current := s.Role(); current != role {
		return fmt.Errorf("%w: role is %s but should be %s", ErrRoleMismatch, current, role)
	}
	return nil
}

func (s *Session) checkRoleOrUndetermined(role model.Role) error {
	if s.side == nil {
		return nil
	}
	return s.checkRole(role)
}

// setState moves to a new state. Terminal states never change.
func (s *Session) setState(state model.NegotiationState) {
	if s.state == state || s.state.IsTerminal() {
		return
	}
	s.logger.Infof("[@] %s -> %s", s.state, state)
	s.tracer.OnStateChange(s.state, state)
	s.state = state
}

func (s *Session) markDone(outcome model.Outcome) {
	s.outcome = outcome
	s.done = true
	s.tracer.OnHandshakeDone(outcome)
	s.logger.Infof("negotiation done: %s", s)
}

// setError records the first protocol error.
func (s *Session) setError(err error) {
	if s.err == nil {
		s.logger.Warnf("session unusable: %s", err.Error())
		s.err = err
	}
}

// inputActive returns whether incoming bytes still belong to the negotiation.
func (s *Session) inputActive() bool {
	switch side := s.side.(type) {
	case *initiatorSide:
		return !s.done
	case *acceptorSide:
		return !side.initReceived || !s.done
	default:
		return true
	}
}

// produceOutput queues the header followed by whatever frames the current state
// calls for. Calling it again without a state change queues nothing.
func (s *Session) produceOutput() error {
	if !s.headerWritten {
		s.writer.WriteHeader(codec.Header)
		s.headerWritten = true
	}
	switch side := s.side.(type) {
	case *acceptorSide:
		return s.produceAcceptorOutput(side)
	case *initiatorSide:
		return s.produceInitiatorOutput(side)
	default:
		return nil
	}
}

func (s *Session) produceAcceptorOutput(side *acceptorSide) error {
	if !side.mechanismsSent && s.mechanisms != nil {
		body := &model.Mechanisms{Mechanisms: append([]string{}, s.mechanisms...)}
		if err := s.writer.WriteFrame(body); err != nil {
			return err
		}
		side.mechanismsSent = true
		s.setState(model.S_STEP)
	}
	if s.state == model.S_STEP {
		if blob, ok := s.outgoing.Take(); ok {
			if err := s.writer.WriteFrame(&model.Challenge{Challenge: blob}); err != nil {
				return err
			}
		}
	}
	if s.done && !side.outcomeSent {
		if err := s.writer.WriteFrame(&model.OutcomeBody{Outcome: s.outcome}); err != nil {
			return err
		}
		side.outcomeSent = true
	}
	return nil
}

func (s *Session) produceInitiatorOutput(side *initiatorSide) error {
	if s.state == model.S_IDLE && !side.initSent && !s.chosenMechanism.IsNone() {
		body := &model.Init{
			Mechanism: s.chosenMechanism.Unwrap(),
			Hostname:  s.hostname.UnwrapOr(""),
		}
		if blob, ok := s.outgoing.Take(); ok {
			body.InitialResponse = blob
		}
		if err := s.writer.WriteFrame(body); err != nil {
			return err
		}
		side.initSent = true
		s.setState(model.S_STEP)
		// the outcome may have arrived before we sent the init
		if s.outcome != model.OutcomeNone {
			s.setState(s.outcome.State())
		}
	}
	if s.state == model.S_STEP {
		if blob, ok := s.outgoing.Take(); ok {
			if err := s.writer.WriteFrame(&model.Response{Response: blob}); err != nil {
				return err
			}
		}
	}
	return nil
}

// sessionSink adapts a [Session] to [framing.FrameSink].
type sessionSink struct {
	s *Session
}

var _ framing.FrameSink = sessionSink{}

// AcceptsFrames implements framing.FrameSink.
func (ss sessionSink) AcceptsFrames() bool {
	return ss.s.inputActive()
}

// HandleFrame implements framing.FrameSink.
func (ss sessionSink) HandleFrame(body model.FrameBody, payload []byte) error {
	return ss.s.consumeFrame(body, payload)
}

// consumeFrame dispatches an incoming frame body to its handler.
func (s *Session) consumeFrame(body model.FrameBody, payload []byte) error {
	switch b := body.(type) {
	case *model.Init:
		return s.handleInit(b)
	case *model.Response:
		return s.handleResponse(b)
	case *model.Mechanisms:
		return s.handleMechanisms(b)
	case *model.Challenge:
		return s.handleChallenge(b)
	case *model.OutcomeBody:
		return s.handleOutcome(b)
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedFrame, model.DescribeBody(body))
	}
}

func (s *Session) handleInit(body *model.Init) error {
	s.becomeAcceptor()
	side, ok := s.side.(*acceptorSide)
	if !ok {
		return fmt.Errorf("%w: %s received as %s", ErrRoleMismatch, body.Code(), s.Role())
	}
	if side.initReceived {
		return fmt.Errorf("%w: second %s", ErrUnexpectedFrame, body.Code())
	}
	side.initReceived = true
	s.chosenMechanism = optional.Some(body.Mechanism)
	if body.Hostname != "" {
		s.hostname = optional.Some(body.Hostname)
	}
	if body.InitialResponse != nil {
		s.incoming = optional.Some(body.InitialResponse)
	}
	return nil
}

func (s *Session) handleResponse(body *model.Response) error {
	side, ok := s.side.(*acceptorSide)
	if !ok {
		return fmt.Errorf("%w: %s received as %s", ErrRoleMismatch, body.Code(), s.Role())
	}
	if !side.initReceived {
		return fmt.Errorf("%w: %s before %s", ErrUnexpectedFrame, body.Code(), model.CodeInit)
	}
	s.incoming = optional.Some(body.Response)
	return nil
}

func (s *Session) handleMechanisms(body *model.Mechanisms) error {
	s.becomeInitiator()
	side, ok := s.side.(*initiatorSide)
	if !ok {
		return fmt.Errorf("%w: %s received as %s", ErrRoleMismatch, body.Code(), s.Role())
	}
	if side.mechanismsReceived {
		return fmt.Errorf("%w: second %s", ErrUnexpectedFrame, body.Code())
	}
	side.mechanismsReceived = true
	s.mechanisms = append([]string{}, body.Mechanisms...)
	return nil
}

func (s *Session) handleChallenge(body *model.Challenge) error {
	if _, ok := s.side.(*initiatorSide); !ok {
		return fmt.Errorf("%w: %s received as %s", ErrRoleMismatch, body.Code(), s.Role())
	}
	s.incoming = optional.Some(body.Challenge)
	return nil
}

func (s *Session) handleOutcome(body *model.OutcomeBody) error {
	if _, ok := s.side.(*initiatorSide); !ok {
		return fmt.Errorf("%w: %s received as %s", ErrRoleMismatch, body.Code(), s.Role())
	}
	if !body.Outcome.IsValidCode() {
		return fmt.Errorf("%w: %s", ErrBadOutcome, body.Outcome)
	}
	s.markDone(body.Outcome)
	if s.state != model.S_IDLE {
		s.setState(body.Outcome.State())
	}
	return nil
}
