// Package handshake runs a SASL negotiation over a [net.Conn] and returns a
// connection positioned right after the negotiation, ready for AMQP.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ooni/minisasl/internal/codec"
	"github.com/ooni/minisasl/internal/model"
	"github.com/ooni/minisasl/internal/networkio"
	"github.com/ooni/minisasl/internal/sasl"
	"github.com/ooni/minisasl/internal/transport"
	"github.com/ooni/minisasl/pkg/config"
)

var (
	// ErrAuthFailed is returned when the negotiation ends with an outcome other than OK.
	ErrAuthFailed = errors.New("handshake: authentication failed")

	// ErrNoMechanism means the initiator has neither credentials nor a mechanism.
	ErrNoMechanism = errors.New("handshake: no mechanism configured")
)

// flushTimeout bounds the best-effort flush after an I/O failure.
const flushTimeout = time.Second

// Result is the result of a negotiation.
type Result struct {
	// Outcome is the outcome of the negotiation.
	Outcome model.Outcome

	// State is the final negotiation state.
	State model.NegotiationState

	// SessionID identifies the session in logs and traces.
	SessionID string

	// Conn is the connection to use after the negotiation. It first returns
	// the bytes the peer sent right after the negotiation frames.
	Conn net.Conn
}

// Authenticator decides the outcome for the mechanism selected by the initiator
// and its initial response, which is nil when the initiator did not send any.
type Authenticator func(ctx context.Context, mechanism string, response []byte) model.Outcome

// Initiate runs the initiator over conn. With credentials in the config it uses PLAIN,
// otherwise the single configured mechanism.
func Initiate(ctx context.Context, conn net.Conn, cfg *config.Config) (*Result, error) {
	opts := cfg.SASLOptions()
	session := sasl.NewSession(cfg.Logger(), cfg.Tracer(), opts.MaxFrameSize)
	if err := session.Client(); err != nil {
		return nil, err
	}
	switch {
	case opts.HasAuthInfo():
		if err := session.Plain(opts.Username, opts.Password); err != nil {
			return nil, err
		}
	case len(opts.Mechanisms) > 0:
		if err := session.SetMechanisms(opts.Mechanisms...); err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoMechanism
	}
	if opts.Hostname != "" {
		if err := session.SetRemoteHostname(opts.Hostname); err != nil {
			return nil, err
		}
	}
	return newRunner(ctx, conn, session, cfg, nil).run()
}

// Accept runs the acceptor over conn, advertising the configured mechanisms and
// asking auth for the outcome once the init frame arrives.
func Accept(ctx context.Context, conn net.Conn, cfg *config.Config, auth Authenticator) (*Result, error) {
	opts := cfg.SASLOptions()
	session := sasl.NewSession(cfg.Logger(), cfg.Tracer(), opts.MaxFrameSize)
	if err := session.Server(); err != nil {
		return nil, err
	}
	if err := session.SetMechanisms(opts.Mechanisms...); err != nil {
		return nil, err
	}
	return newRunner(ctx, conn, session, cfg, auth).run()
}

// runner drives a session over a conn.
type runner struct {
	auth       Authenticator
	conn       net.Conn
	ctx        context.Context
	driver     *networkio.Driver
	filter     *sasl.Filter
	inner      *transport.Buffer
	logger     model.Logger
	mechanisms []string
	session    *sasl.Session
}

func newRunner(ctx context.Context, conn net.Conn, session *sasl.Session, cfg *config.Config, auth Authenticator) *runner {
	inner := transport.NewBuffer(max(cfg.SASLOptions().MaxFrameSize, codec.MinMaxFrameSize))
	filter := session.Wrap(inner, inner)
	return &runner{
		auth:       auth,
		conn:       conn,
		ctx:        ctx,
		driver:     networkio.NewDriver(cfg.Logger(), conn, filter),
		filter:     filter,
		inner:      inner,
		logger:     cfg.Logger(),
		mechanisms: cfg.SASLOptions().Mechanisms,
		session:    session,
	}
}

func (r *runner) negotiating() bool {
	return r.filter.InputNegotiating() || r.filter.OutputNegotiating()
}

func (r *runner) run() (*Result, error) {
	for r.negotiating() {
		if err := r.driver.Flush(r.ctx); err != nil {
			return nil, r.fail(err)
		}
		if r.auth != nil && r.maybeAuthenticate() {
			continue
		}
		if !r.filter.InputNegotiating() {
			continue
		}
		if err := r.driver.ReadOnce(r.ctx); err != nil {
			return nil, r.fail(err)
		}
	}
	result := &Result{
		Outcome:   r.session.Outcome(),
		State:     r.session.State(),
		SessionID: r.session.ID(),
		Conn:      newReplayConn(r.conn, r.leftover()),
	}
	if result.State != model.S_PASS {
		return result, fmt.Errorf("%w: %s", ErrAuthFailed, result.Outcome)
	}
	return result, nil
}

// maybeAuthenticate decides the outcome once the init frame has arrived and
// returns whether it did so.
func (r *runner) maybeAuthenticate() bool {
	if r.session.Outcome() != model.OutcomeNone {
		return false
	}
	chosen, err := r.session.RemoteMechanisms()
	if err != nil || len(chosen) != 1 {
		return false
	}
	var response []byte
	if n := r.session.Pending(); n > 0 {
		response = make([]byte, n)
		r.session.Recv(response)
	}
	outcome := model.OutcomeAuth
	if r.advertised(chosen[0]) {
		outcome = r.auth(r.ctx, chosen[0], response)
	} else {
		r.logger.Warnf("handshake: mechanism %q was not advertised", chosen[0])
	}
	if err := r.session.Done(outcome); err != nil {
		r.logger.Warnf("handshake: %s", err.Error())
		r.session.Fail()
	}
	return true
}

func (r *runner) advertised(mechanism string) bool {
	for _, m := range r.mechanisms {
		if m == mechanism {
			return true
		}
	}
	return false
}

// fail forces the failure of the session and gives the peer a chance to see
// what we still have to send.
func (r *runner) fail(err error) error {
	r.logger.Warnf("handshake: %s", err.Error())
	r.session.Fail()
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	r.driver.Flush(ctx)
	return err
}

// leftover returns the bytes received after the negotiation frames.
func (r *runner) leftover() []byte {
	out := make([]byte, r.inner.Received())
	n, _ := r.inner.Read(out)
	return out[:n]
}
