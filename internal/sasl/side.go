package sasl

import "github.com/ooni/minisasl/internal/model"

// side holds the flags that only make sense for one role. A nil side means
// the role is not determined yet.
type side interface {
	role() model.Role
}

// initiatorSide is the state specific to the initiator.
type initiatorSide struct {
	// initSent is set once we have queued the init frame.
	initSent bool

	// mechanismsReceived is set once the acceptor advertised its mechanisms.
	mechanismsReceived bool
}

func (*initiatorSide) role() model.Role { return model.RoleInitiator }

// acceptorSide is the state specific to the acceptor.
type acceptorSide struct {
	// mechanismsSent is set once we have queued the mechanisms frame.
	mechanismsSent bool

	// initReceived is set once the initiator sent its init frame.
	initReceived bool

	// outcomeSent is set once we have queued the outcome frame.
	outcomeSent bool
}

func (*acceptorSide) role() model.Role { return model.RoleAcceptor }

// roleOf returns the role of a possibly nil side.
func roleOf(s side) model.Role {
	if s == nil {
		return model.RoleUndetermined
	}
	return s.role()
}
