package model

//
// Frame bodies
//
// The bodies carried by SASL frames. Serialization lives in the codec package;
// here we only model what each body contains.
//

import (
	"fmt"
	"strings"
)

// BodyCode is the descriptor code identifying a SASL frame body.
type BodyCode uint64

// SASL frame body descriptor codes.
const (
	CodeMechanisms = BodyCode(0x40 + iota) // 0x40
	CodeInit                               // 0x41
	CodeChallenge                          // 0x42
	CodeResponse                           // 0x43
	CodeOutcome                            // 0x44
)

// String returns the body code string representation.
func (c BodyCode) String() string {
	switch c {
	case CodeMechanisms:
		return "SASL_MECHANISMS"
	case CodeInit:
		return "SASL_INIT"
	case CodeChallenge:
		return "SASL_CHALLENGE"
	case CodeResponse:
		return "SASL_RESPONSE"
	case CodeOutcome:
		return "SASL_OUTCOME"
	default:
		return "SASL_UNKNOWN"
	}
}

// FrameBody is the body of a SASL frame.
type FrameBody interface {
	// Code returns the descriptor code of this body.
	Code() BodyCode
}

// Mechanisms advertises the mechanisms supported by the acceptor.
type Mechanisms struct {
	// Mechanisms is the ordered list of mechanism names.
	Mechanisms []string
}

// Code implements FrameBody.
func (*Mechanisms) Code() BodyCode { return CodeMechanisms }

// Init selects a mechanism and optionally carries the initial response.
type Init struct {
	// Mechanism is the selected mechanism name.
	Mechanism string

	// InitialResponse is the initial response, nil when absent.
	InitialResponse []byte

	// Hostname is the name of the host the initiator wants to reach, empty when absent.
	Hostname string
}

// Code implements FrameBody.
func (*Init) Code() BodyCode { return CodeInit }

// Challenge carries a security challenge from the acceptor.
type Challenge struct {
	Challenge []byte
}

// Code implements FrameBody.
func (*Challenge) Code() BodyCode { return CodeChallenge }

// Response carries a security response from the initiator.
type Response struct {
	Response []byte
}

// Code implements FrameBody.
func (*Response) Code() BodyCode { return CodeResponse }

// OutcomeBody carries the verdict of the negotiation.
type OutcomeBody struct {
	// Outcome is the outcome code.
	Outcome Outcome

	// AdditionalData is optional extra data for the initiator, nil when absent.
	AdditionalData []byte
}

// Code implements FrameBody.
func (*OutcomeBody) Code() BodyCode { return CodeOutcome }

// DescribeBody returns a compact human readable representation of a frame body.
func DescribeBody(body FrameBody) string {
	switch b := body.(type) {
	case *Mechanisms:
		return fmt.Sprintf("%s {mechanisms=[%s]}", b.Code(), strings.Join(b.Mechanisms, " "))
	case *Init:
		return fmt.Sprintf("%s {mechanism=%s, hostname=%q} [%d bytes]",
			b.Code(), b.Mechanism, b.Hostname, len(b.InitialResponse))
	case *Challenge:
		return fmt.Sprintf("%s [%d bytes]", b.Code(), len(b.Challenge))
	case *Response:
		return fmt.Sprintf("%s [%d bytes]", b.Code(), len(b.Response))
	case *OutcomeBody:
		return fmt.Sprintf("%s {code=%s}", b.Code(), b.Outcome)
	case nil:
		return "<nil>"
	default:
		return body.Code().String()
	}
}

// LogFrame writes an entry in the passed logger with a representation of the frame body.
func LogFrame(logger Logger, direction Direction, body FrameBody) {
	var dir string
	switch direction {
	case DirectionIncoming:
		dir = "<"
	case DirectionOutgoing:
		dir = ">"
	default:
		logger.Warnf("wrong direction: %d", direction)
		return
	}
	logger.Debugf("%s %s", dir, DescribeBody(body))
}
