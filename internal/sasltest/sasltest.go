// Package sasltest provides utilities for SASL testing.
package sasltest

import (
	"fmt"
	"strings"
	"time"

	"github.com/ooni/minisasl/internal/model"
)

// TestFrame is used to simulate frames sent by a peer. The goal is to be able to have a
// compact representation of a sequence of frames, their body, and the inter-arrival time.
type TestFrame struct {
	// Body is the frame body.
	Body model.FrameBody

	// IAT is the inter-arrival time until the next frame is sent.
	IAT time.Duration
}

// NewTestFrameFromString parses a test frame string in the form:
//
//	"MECHANISMS PLAIN,ANONYMOUS"
//	"INIT PLAIN \x00user\x00pass +10ms"
//	"CHALLENGE data"
//	"RESPONSE data"
//	"OUTCOME AUTH"
//
// The inter-arrival time suffix is optional.
func NewTestFrameFromString(s string) (*TestFrame, error) {
	parts := strings.SplitN(s, " +", 2)
	tf := &TestFrame{}
	if len(parts) == 2 {
		iat, err := time.ParseDuration(parts[1])
		if err != nil {
			return nil, fmt.Errorf("failed to parse duration: %v", err)
		}
		tf.IAT = iat
	}

	fields := strings.Fields(parts[0])
	if len(fields) < 1 {
		return nil, fmt.Errorf("empty test frame: %q", s)
	}
	args := fields[1:]
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	switch fields[0] {
	case "MECHANISMS":
		if len(args) != 1 {
			return nil, fmt.Errorf("MECHANISMS needs one argument: %q", s)
		}
		tf.Body = &model.Mechanisms{Mechanisms: strings.Split(args[0], ",")}

	case "INIT":
		if len(args) < 1 || len(args) > 2 {
			return nil, fmt.Errorf("INIT needs one or two arguments: %q", s)
		}
		body := &model.Init{Mechanism: args[0]}
		if len(args) == 2 {
			body.InitialResponse = []byte(args[1])
		}
		tf.Body = body

	case "CHALLENGE":
		tf.Body = &model.Challenge{Challenge: []byte(arg(0))}

	case "RESPONSE":
		tf.Body = &model.Response{Response: []byte(arg(0))}

	case "OUTCOME":
		outcome, err := model.NewOutcomeFromString(arg(0))
		if err != nil {
			return nil, fmt.Errorf("failed to parse outcome: %v", err)
		}
		tf.Body = &model.OutcomeBody{Outcome: outcome}

	default:
		return nil, fmt.Errorf("unknown frame kind: %q", fields[0])
	}
	return tf, nil
}
