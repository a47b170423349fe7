package model

import "errors"

// Role is the side an endpoint plays in the SASL negotiation.
type Role int

const (
	// RoleUndetermined means we do not know our role yet. The role is either set
	// explicitly or inferred from the first frame we receive.
	RoleUndetermined = Role(iota)

	// RoleInitiator is the client side: it picks a mechanism and proves its identity.
	RoleInitiator

	// RoleAcceptor is the server side: it advertises mechanisms and judges the outcome.
	RoleAcceptor
)

// String maps a [Role] to a string.
func (r Role) String() string {
	switch r {
	case RoleUndetermined:
		return "UNDETERMINED"
	case RoleInitiator:
		return "INITIATOR"
	case RoleAcceptor:
		return "ACCEPTOR"
	default:
		return "INVALID"
	}
}

// NegotiationState is the state of the SASL negotiation.
type NegotiationState int

const (
	// S_IDLE means no exchange has happened yet.
	S_IDLE = NegotiationState(iota)

	// S_STEP means the exchange is in progress.
	S_STEP

	// S_PASS means the negotiation succeeded. Terminal.
	S_PASS

	// S_FAIL means the negotiation failed. Terminal.
	S_FAIL
)

// String maps a [NegotiationState] to a string.
func (ns NegotiationState) String() string {
	switch ns {
	case S_IDLE:
		return "S_IDLE"
	case S_STEP:
		return "S_STEP"
	case S_PASS:
		return "S_PASS"
	case S_FAIL:
		return "S_FAIL"
	default:
		return "S_INVALID"
	}
}

// IsTerminal returns true for [S_PASS] and [S_FAIL].
func (ns NegotiationState) IsTerminal() bool {
	return ns == S_PASS || ns == S_FAIL
}

// Outcome is the verdict of a negotiation. The non-negative values match
// the sasl-code carried by the sasl-outcome frame.
type Outcome int

const (
	// OutcomeNone means the outcome is not decided yet.
	OutcomeNone = Outcome(iota) - 1

	// OutcomeOK means authentication succeeded.
	OutcomeOK

	// OutcomeAuth means authentication failed because of bad credentials.
	OutcomeAuth

	// OutcomeSys means authentication failed because of a system error.
	OutcomeSys

	// OutcomeSysPerm means a system error that is unlikely to be corrected without intervention.
	OutcomeSysPerm

	// OutcomeSysTemp means a transient system error.
	OutcomeSysTemp
)

// String maps an [Outcome] to a string.
func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "NONE"
	case OutcomeOK:
		return "OK"
	case OutcomeAuth:
		return "AUTH"
	case OutcomeSys:
		return "SYS"
	case OutcomeSysPerm:
		return "SYS_PERM"
	case OutcomeSysTemp:
		return "SYS_TEMP"
	default:
		return "INVALID"
	}
}

// IsValidCode returns whether this outcome can travel inside a sasl-outcome frame.
func (o Outcome) IsValidCode() bool {
	return o >= OutcomeOK && o <= OutcomeSysTemp
}

// State returns the terminal [NegotiationState] for this outcome. It returns
// [S_PASS] for [OutcomeOK] and [S_FAIL] for anything else.
func (o Outcome) State() NegotiationState {
	if o == OutcomeOK {
		return S_PASS
	}
	return S_FAIL
}

// NewOutcomeFromString returns an outcome from its string representation, and an error if
// it cannot parse it. [OutcomeNone] is always coupled with a non-nil error.
func NewOutcomeFromString(s string) (Outcome, error) {
	switch s {
	case "OK":
		return OutcomeOK, nil
	case "AUTH":
		return OutcomeAuth, nil
	case "SYS":
		return OutcomeSys, nil
	case "SYS_PERM":
		return OutcomeSysPerm, nil
	case "SYS_TEMP":
		return OutcomeSysTemp, nil
	default:
		return OutcomeNone, errors.New("unknown outcome")
	}
}
