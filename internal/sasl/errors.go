package sasl

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolViolation is the umbrella for errors that make a session unusable.
	ErrProtocolViolation = errors.New("sasl: protocol violation")

	// ErrRoleMismatch indicates an operation or frame not allowed for our role.
	ErrRoleMismatch = fmt.Errorf("%w: role mismatch", ErrProtocolViolation)

	// ErrUnexpectedFrame indicates a frame arriving out of sequence.
	ErrUnexpectedFrame = fmt.Errorf("%w: unexpected frame", ErrProtocolViolation)

	// ErrRoleConflict indicates an attempt to change a role that is already set.
	ErrRoleConflict = fmt.Errorf("%w: role already set", ErrProtocolViolation)

	// ErrBadMechanisms indicates a mechanism list we cannot use.
	ErrBadMechanisms = errors.New("sasl: bad mechanisms")

	// ErrBadOutcome indicates an outcome that cannot terminate a negotiation.
	ErrBadOutcome = errors.New("sasl: bad outcome")

	// ErrAlreadyDone indicates an attempt to decide the outcome twice.
	ErrAlreadyDone = errors.New("sasl: negotiation already done")

	// ErrSkipUnsupported is returned by [Session.AllowSkip].
	ErrSkipUnsupported = fmt.Errorf("sasl: allow skip: %w", errors.ErrUnsupported)
)
