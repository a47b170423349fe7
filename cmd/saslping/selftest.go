package main

import (
	"bytes"
	"context"
	"net"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"

	"github.com/ooni/minisasl/internal/model"
	"github.com/ooni/minisasl/internal/sasl"
	"github.com/ooni/minisasl/pkg/config"
	"github.com/ooni/minisasl/pkg/handshake"
)

// runSelfTest runs the initiator configured by cfg against an acceptor that
// accepts the same credentials, over a loopback TCP connection.
func runSelfTest(ctx context.Context, cfg *config.Config) error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	defer listener.Close()

	opts := cfg.SASLOptions()
	mechanisms := opts.Mechanisms
	if len(mechanisms) == 0 {
		mechanisms = []string{sasl.MechanismPlain}
	}
	serverCfg := config.NewConfig(
		config.WithLogger(model.NewPrefixLogger(log.Log, "[acceptor]")),
		config.WithMechanisms(mechanisms...),
		config.WithMaxFrameSize(opts.MaxFrameSize),
	)
	want := []byte("\x00" + opts.Username + "\x00" + opts.Password)
	auth := func(ctx context.Context, mechanism string, response []byte) model.Outcome {
		if mechanism != sasl.MechanismPlain || bytes.Equal(response, want) {
			return model.OutcomeOK
		}
		return model.OutcomeAuth
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		defer conn.Close()
		_, err = handshake.Accept(ctx, conn, serverCfg, auth)
		return err
	})
	g.Go(func() error {
		conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", listener.Addr().String())
		if err != nil {
			return err
		}
		defer conn.Close()
		result, err := handshake.Initiate(ctx, conn, cfg)
		if result != nil {
			printResult(result)
		}
		return err
	})
	return g.Wait()
}
