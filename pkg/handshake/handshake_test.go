package handshake

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ooni/minisasl/internal/model"
	"github.com/ooni/minisasl/internal/sasl"
	"github.com/ooni/minisasl/internal/sasltest"
	"github.com/ooni/minisasl/pkg/config"
	"golang.org/x/sync/errgroup"
)

// amqpHeader is what an AMQP peer sends right after the negotiation.
var amqpHeader = []byte("AMQP\x00\x01\x00\x00")

// newConnPair returns the two ends of a loopback TCP connection.
func newConnPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, _ := listener.Accept()
		accepted <- conn
	}()
	client, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	server := <-accepted
	if server == nil {
		t.Fatal("accept failed")
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func plainAuthenticator(username, password string) Authenticator {
	want := []byte("\x00" + username + "\x00" + password)
	return func(ctx context.Context, mechanism string, response []byte) model.Outcome {
		if mechanism == sasl.MechanismPlain && bytes.Equal(response, want) {
			return model.OutcomeOK
		}
		return model.OutcomeAuth
	}
}

func TestInitiateAndAccept(t *testing.T) {
	t.Run("valid credentials", func(t *testing.T) {
		clientConn, serverConn := newConnPair(t)
		clientCfg := config.NewConfig(
			config.WithLogger(model.NewTestLogger()),
			config.WithPlainCredentials("guest", "guest"),
			config.WithHostname("localhost"),
		)
		serverCfg := config.NewConfig(
			config.WithLogger(model.NewTestLogger()),
			config.WithMechanisms("PLAIN", "ANONYMOUS"),
		)

		var clientResult, serverResult *Result
		g, ctx := errgroup.WithContext(context.Background())
		g.Go(func() (err error) {
			clientResult, err = Initiate(ctx, clientConn, clientCfg)
			return
		})
		g.Go(func() (err error) {
			serverResult, err = Accept(ctx, serverConn, serverCfg, plainAuthenticator("guest", "guest"))
			return
		})
		if err := g.Wait(); err != nil {
			t.Fatal(err)
		}

		for _, result := range []*Result{clientResult, serverResult} {
			if result.Outcome != model.OutcomeOK || result.State != model.S_PASS {
				t.Fatalf("unexpected result: %+v", result)
			}
			if result.SessionID == "" {
				t.Fatal("expected a session id")
			}
		}

		// the connections now carry AMQP
		if _, err := clientResult.Conn.Write(amqpHeader); err != nil {
			t.Fatal(err)
		}
		got := make([]byte, len(amqpHeader))
		if _, err := io.ReadFull(serverResult.Conn, got); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(amqpHeader, got); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("invalid credentials", func(t *testing.T) {
		clientConn, serverConn := newConnPair(t)
		clientCfg := config.NewConfig(
			config.WithLogger(model.NewTestLogger()),
			config.WithPlainCredentials("guest", "wrong"),
		)
		serverCfg := config.NewConfig(
			config.WithLogger(model.NewTestLogger()),
			config.WithMechanisms("PLAIN"),
		)

		var clientResult, serverResult *Result
		var clientErr, serverErr error
		g := &errgroup.Group{}
		g.Go(func() error {
			clientResult, clientErr = Initiate(context.Background(), clientConn, clientCfg)
			return nil
		})
		g.Go(func() error {
			serverResult, serverErr = Accept(context.Background(), serverConn, serverCfg, plainAuthenticator("guest", "guest"))
			return nil
		})
		g.Wait()

		for _, err := range []error{clientErr, serverErr} {
			if !errors.Is(err, ErrAuthFailed) {
				t.Fatalf("expected ErrAuthFailed, got %v", err)
			}
		}
		for _, result := range []*Result{clientResult, serverResult} {
			if result == nil || result.Outcome != model.OutcomeAuth || result.State != model.S_FAIL {
				t.Fatalf("unexpected result: %+v", result)
			}
		}
	})
}

func TestInitiate(t *testing.T) {
	t.Run("bytes following the outcome are replayed", func(t *testing.T) {
		clientConn, serverConn := newConnPair(t)
		cfg := config.NewConfig(
			config.WithLogger(model.NewTestLogger()),
			config.WithMechanisms("ANONYMOUS"),
		)
		g := &errgroup.Group{}
		g.Go(func() error {
			// the peer answers right away, followed by the AMQP header
			var buf bytes.Buffer
			if err := sasltest.WriteSequence(&buf, []string{"MECHANISMS ANONYMOUS", "OUTCOME OK"}); err != nil {
				return err
			}
			buf.Write(amqpHeader)
			if _, err := serverConn.Write(buf.Bytes()); err != nil {
				return err
			}
			bodies, err := sasltest.NewFrameReader(serverConn).ReadFrames(1)
			if err != nil {
				return err
			}
			if diff := cmp.Diff([]model.FrameBody{&model.Init{Mechanism: "ANONYMOUS"}}, bodies); diff != "" {
				return errors.New(diff)
			}
			return nil
		})
		result, err := Initiate(context.Background(), clientConn, cfg)
		if err != nil {
			t.Fatal(err)
		}
		if err := g.Wait(); err != nil {
			t.Fatal(err)
		}
		got := make([]byte, len(amqpHeader))
		if _, err := io.ReadFull(result.Conn, got); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(amqpHeader, got); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("the peer closes the connection", func(t *testing.T) {
		clientConn, serverConn := newConnPair(t)
		cfg := config.NewConfig(
			config.WithLogger(model.NewTestLogger()),
			config.WithPlainCredentials("u", "p"),
		)
		go func() {
			sasltest.NewFrameReader(serverConn).ReadFrames(1)
			serverConn.Close()
		}()
		_, err := Initiate(context.Background(), clientConn, cfg)
		if !errors.Is(err, io.EOF) {
			t.Fatalf("expected EOF, got %v", err)
		}
	})

	t.Run("the context expires", func(t *testing.T) {
		clientConn, _ := newConnPair(t)
		logger := model.NewTestLogger()
		cfg := config.NewConfig(
			config.WithLogger(logger),
			config.WithPlainCredentials("u", "p"),
		)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := Initiate(ctx, clientConn, cfg)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected a deadline error, got %v", err)
		}
		if !logger.Contains("forcing negotiation failure") {
			t.Fatal("expected the session to fail")
		}
	})

	t.Run("without mechanisms", func(t *testing.T) {
		clientConn, _ := newConnPair(t)
		_, err := Initiate(context.Background(), clientConn, config.NewConfig(config.WithLogger(model.NewTestLogger())))
		if !errors.Is(err, ErrNoMechanism) {
			t.Fatalf("expected ErrNoMechanism, got %v", err)
		}
	})

	t.Run("with several mechanisms", func(t *testing.T) {
		clientConn, _ := newConnPair(t)
		cfg := config.NewConfig(
			config.WithLogger(model.NewTestLogger()),
			config.WithMechanisms("PLAIN", "ANONYMOUS"),
		)
		_, err := Initiate(context.Background(), clientConn, cfg)
		if !errors.Is(err, sasl.ErrBadMechanisms) {
			t.Fatalf("expected ErrBadMechanisms, got %v", err)
		}
	})
}

func TestAccept(t *testing.T) {
	t.Run("a mechanism we did not advertise", func(t *testing.T) {
		clientConn, serverConn := newConnPair(t)
		cfg := config.NewConfig(
			config.WithLogger(model.NewTestLogger()),
			config.WithMechanisms("PLAIN"),
		)
		called := false
		auth := func(ctx context.Context, mechanism string, response []byte) model.Outcome {
			called = true
			return model.OutcomeOK
		}
		var bodies []model.FrameBody
		g := &errgroup.Group{}
		g.Go(func() (err error) {
			if err = sasltest.WriteSequence(clientConn, []string{"INIT EXTERNAL"}); err != nil {
				return
			}
			bodies, err = sasltest.NewFrameReader(clientConn).ReadFrames(2)
			return
		})
		result, err := Accept(context.Background(), serverConn, cfg, auth)
		if !errors.Is(err, ErrAuthFailed) {
			t.Fatalf("expected ErrAuthFailed, got %v", err)
		}
		if err := g.Wait(); err != nil {
			t.Fatal(err)
		}
		if called {
			t.Fatal("the authenticator should not run")
		}
		if result.Outcome != model.OutcomeAuth {
			t.Fatalf("unexpected outcome %s", result.Outcome)
		}
		want := []model.FrameBody{
			&model.Mechanisms{Mechanisms: []string{"PLAIN"}},
			&model.OutcomeBody{Outcome: model.OutcomeAuth},
		}
		if diff := cmp.Diff(want, bodies); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("a protocol violation", func(t *testing.T) {
		clientConn, serverConn := newConnPair(t)
		cfg := config.NewConfig(
			config.WithLogger(model.NewTestLogger()),
			config.WithMechanisms("PLAIN"),
		)
		go sasltest.WriteSequence(clientConn, []string{"OUTCOME OK"})
		_, err := Accept(context.Background(), serverConn, cfg, plainAuthenticator("u", "p"))
		if !errors.Is(err, sasl.ErrProtocolViolation) {
			t.Fatalf("expected a protocol violation, got %v", err)
		}
	})

	t.Run("without mechanisms", func(t *testing.T) {
		_, serverConn := newConnPair(t)
		cfg := config.NewConfig(config.WithLogger(model.NewTestLogger()))
		_, err := Accept(context.Background(), serverConn, cfg, plainAuthenticator("u", "p"))
		if !errors.Is(err, sasl.ErrBadMechanisms) {
			t.Fatalf("expected ErrBadMechanisms, got %v", err)
		}
	})
}
