package sasl

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ooni/minisasl/internal/model"
	"github.com/ooni/minisasl/internal/sasltest"
	"github.com/ooni/minisasl/internal/transport"
)

// amqpHeader is what an AMQP peer sends right after the negotiation.
var amqpHeader = []byte("AMQP\x00\x01\x00\x00")

func TestFilterForwardsBytesFollowingTheNegotiation(t *testing.T) {
	trailer := append(append([]byte{}, amqpHeader...), []byte("open frame bytes")...)

	t.Run("initiator input", func(t *testing.T) {
		for _, chunk := range []int{1, 3, 7, 1024} {
			s, _ := newTestSession(t)
			if err := s.Plain("u", "p"); err != nil {
				t.Fatal(err)
			}
			f, inner := newTestFilter(s, 64)
			drain(t, f)
			input := append(withHeader(t, &model.OutcomeBody{Outcome: model.OutcomeOK}), trailer...)
			if err := write(f, input, chunk); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(trailer, readAll(inner)); diff != "" {
				t.Fatalf("chunk %d: %s", chunk, diff)
			}
		}
	})

	t.Run("acceptor input after an early outcome", func(t *testing.T) {
		for _, chunk := range []int{1, 5, 1024} {
			s, _ := newTestSession(t)
			_ = s.Server()
			_ = s.SetMechanisms("ANONYMOUS")
			f, inner := newTestFilter(s, 64)
			if err := s.Done(model.OutcomeOK); err != nil {
				t.Fatal(err)
			}
			drain(t, f)
			if !f.InputNegotiating() {
				t.Fatal("input must still be negotiating")
			}
			input := append(withHeader(t, &model.Init{Mechanism: "ANONYMOUS"}), trailer...)
			if err := write(f, input, chunk); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(trailer, readAll(inner)); diff != "" {
				t.Fatalf("chunk %d: %s", chunk, diff)
			}
		}
	})
}

func TestFilterOutputSwitchesBeforeInput(t *testing.T) {
	s, _ := newTestSession(t)
	_ = s.Server()
	_ = s.SetMechanisms("ANONYMOUS")
	f, inner := newTestFilter(s, 64)
	if err := s.Done(model.OutcomeOK); err != nil {
		t.Fatal(err)
	}

	// bytes the application queues early must follow the negotiation frames
	if _, err := inner.Write(amqpHeader); err != nil {
		t.Fatal(err)
	}
	got := drain(t, f)
	want := append(withHeader(t,
		&model.Mechanisms{Mechanisms: []string{"ANONYMOUS"}},
		&model.OutcomeBody{Outcome: model.OutcomeOK},
	), amqpHeader...)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatal(diff)
	}
	if f.OutputNegotiating() {
		t.Fatal("output should be over")
	}
	if !f.InputNegotiating() {
		t.Fatal("input should still be negotiating")
	}
	if _, err := inner.Write([]byte("more")); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte("more"), drain(t, f)); diff != "" {
		t.Fatal(diff)
	}
}

func TestFilterResidualBytesKeepTheirOrder(t *testing.T) {
	s, _ := newTestSession(t)
	_ = s.Plain("u", "p")
	// the inner transport takes two bytes per call
	f, inner := newTestFilter(s, 2)
	drain(t, f)

	mustWrite(t, f, append(withHeader(t, &model.OutcomeBody{Outcome: model.OutcomeOK}), []byte("abcdefgh")...))
	if f.InputNegotiating() {
		t.Fatal("input should be over")
	}
	if f.Position() != 6 {
		t.Fatalf("Position() = %d, want the residual bytes", f.Position())
	}

	// new bytes land behind the residual ones
	mustWrite(t, f, []byte("ij"))
	for i := 0; i < 8; i++ {
		if err := f.Process(0); err != nil {
			t.Fatal(err)
		}
	}
	if diff := cmp.Diff("abcdefghij", string(readAll(inner))); diff != "" {
		t.Fatal(diff)
	}
	if f.Capacity() != inner.Capacity() {
		t.Fatal("an empty residual buffer means passthrough")
	}
}

func TestFilterTracksTheLentTail(t *testing.T) {
	s, _ := newTestSession(t)
	_ = s.Server()
	f, inner := newTestFilter(s, 64)
	mustWrite(t, f, withHeader(t, &model.Init{Mechanism: "ANONYMOUS"}))

	// the caller obtains the tail while negotiating, then the outcome is decided
	tail := f.Tail()
	n := copy(tail, amqpHeader)
	if err := s.Done(model.OutcomeOK); err != nil {
		t.Fatal(err)
	}
	if err := f.Process(n); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(amqpHeader, readAll(inner)); diff != "" {
		t.Fatal(diff)
	}
}

func TestFilterClose(t *testing.T) {
	t.Run("closing the tail while negotiating", func(t *testing.T) {
		s, _ := newTestSession(t)
		_ = s.Plain("u", "p")
		f, inner := newTestFilter(s, 64)
		f.CloseTail()
		if f.Capacity() != model.EndOfStream || f.Position() != model.EndOfStream {
			t.Fatal("expected end of stream on the input side")
		}
		if inner.Capacity() != model.EndOfStream {
			t.Fatal("closing must propagate to the inner transport")
		}
		// the queued frames still drain, then the output reports end of stream
		if len(drain(t, f)) == 0 {
			t.Fatal("expected the header and the init frame")
		}
		if f.Pending() != model.EndOfStream {
			t.Fatalf("Pending() = %d", f.Pending())
		}
	})

	t.Run("closing the head delegates", func(t *testing.T) {
		s, _ := newTestSession(t)
		f, inner := newTestFilter(s, 64)
		f.CloseHead()
		if inner.Pending() != model.EndOfStream {
			t.Fatal("CloseHead must reach the inner transport")
		}
	})

	t.Run("closing the tail after the negotiation", func(t *testing.T) {
		s, _ := newTestSession(t)
		_ = s.Plain("u", "p")
		f, inner := newTestFilter(s, 2)
		drain(t, f)
		mustWrite(t, f, append(withHeader(t, &model.OutcomeBody{Outcome: model.OutcomeOK}), []byte("xyz")...))
		f.CloseTail()
		if f.Capacity() != model.EndOfStream {
			t.Fatal("expected end of stream")
		}
		// closing forwards the residual byte first
		if diff := cmp.Diff("xyz", string(readAll(inner))); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestFilterHeaderIsWrittenOnce(t *testing.T) {
	s, _ := newTestSession(t)
	f, _ := newTestFilter(s, 64)
	first := drain(t, f)
	if diff := cmp.Diff(withHeader(t), first); diff != "" {
		t.Fatal(diff)
	}
	if err := s.Plain("u", "p"); err != nil {
		t.Fatal(err)
	}
	second := drain(t, f)
	if bytes.Contains(second, withHeader(t)) {
		t.Fatal("the header must be written once")
	}
	if diff := cmp.Diff(frames(t, &model.Init{Mechanism: MechanismPlain, InitialResponse: []byte("\x00u\x00p")}), second); diff != "" {
		t.Fatal(diff)
	}
}

func TestFilterDrainsLargeOutputAcrossPops(t *testing.T) {
	s, _ := newTestSession(t)
	_ = s.Server()
	_ = s.SetMechanisms("PLAIN")
	f, _ := newTestFilter(s, 64)
	drain(t, f)
	mustWrite(t, f, withHeader(t, &model.Init{Mechanism: "PLAIN"}))

	// a challenge filling almost a whole frame, then an outcome that does not fit
	// in the rest of the output buffer
	challenge := bytes.Repeat([]byte{'c'}, 480)
	s.Send(challenge)
	if f.Pending() <= 0 {
		t.Fatal("expected the challenge to be pending")
	}
	if err := s.Done(model.OutcomeOK); err != nil {
		t.Fatal(err)
	}
	var got []byte
	for i := 0; i < 100; i++ {
		n := f.Pending()
		if n <= 0 {
			break
		}
		if n > 7 {
			n = 7
		}
		got = append(got, f.Head()[:n]...)
		f.Pop(n)
	}
	want := frames(t,
		&model.Challenge{Challenge: challenge},
		&model.OutcomeBody{Outcome: model.OutcomeOK},
	)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatal(diff)
	}
	if f.OutputNegotiating() {
		t.Fatal("output should be over")
	}
}

// pump moves the pending output of each filter into the other one.
func pump(t *testing.T, a, b *Filter) {
	t.Helper()
	for i := 0; i < 32; i++ {
		ab := drain(t, a)
		ba := drain(t, b)
		if len(ab) == 0 && len(ba) == 0 {
			return
		}
		mustWrite(t, b, ab)
		mustWrite(t, a, ba)
	}
	t.Fatal("the exchange does not converge")
}

func TestFilterLoopback(t *testing.T) {
	client, _ := newTestSession(t)
	if err := client.Plain("guest", "guest"); err != nil {
		t.Fatal(err)
	}
	if err := client.SetRemoteHostname("localhost"); err != nil {
		t.Fatal(err)
	}
	server, _ := newTestSession(t)
	if err := server.Server(); err != nil {
		t.Fatal(err)
	}
	if err := server.SetMechanisms("PLAIN", "ANONYMOUS"); err != nil {
		t.Fatal(err)
	}
	cf, cinner := newTestFilter(client, 64)
	sf, sinner := newTestFilter(server, 64)

	pump(t, cf, sf)
	if server.Pending() == 0 {
		t.Fatal("the server should have received the initial response")
	}
	response := make([]byte, server.Pending())
	if _, err := server.Recv(response); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(response, []byte("\x00guest\x00guest")) {
		t.Fatalf("unexpected response %q", response)
	}
	if err := server.Done(model.OutcomeOK); err != nil {
		t.Fatal(err)
	}
	pump(t, cf, sf)

	for _, s := range []*Session{client, server} {
		if !s.IsDone() || s.State() != model.S_PASS {
			t.Fatalf("unexpected session: %s", s)
		}
	}
	hostname, _ := server.Hostname()
	if hostname != "localhost" {
		t.Fatalf("Hostname() = %q", hostname)
	}
	mechs, _ := client.RemoteMechanisms()
	if diff := cmp.Diff([]string{"PLAIN", "ANONYMOUS"}, mechs); diff != "" {
		t.Fatal(diff)
	}

	// application data now flows through the inner transports
	exchange(t, cinner, cf, sf, sinner, "hello from the client")
	exchange(t, sinner, sf, cf, cinner, "hello from the server")
}

func exchange(t *testing.T, from *transport.Buffer, fromFilter, toFilter *Filter, to *transport.Buffer, msg string) {
	t.Helper()
	if _, err := from.Write([]byte(msg)); err != nil {
		t.Fatal(err)
	}
	if err := write(toFilter, drain(t, fromFilter), 16); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(msg, string(readAll(to))); diff != "" {
		t.Fatal(diff)
	}
}

func TestFilterRejectsInvalidCounts(t *testing.T) {
	s, _ := newTestSession(t)
	_ = s.Plain("u", "p")
	f, _ := newTestFilter(s, 64)
	n := f.Pending()
	sasltest.AssertPanic(t, func() { f.Pop(n + 1) })
	sasltest.AssertPanic(t, func() { f.Process(f.Capacity() + 1) })
}
