package sasl

import (
	"github.com/ooni/minisasl/internal/bytesx"
	"github.com/ooni/minisasl/internal/model"
	"github.com/ooni/minisasl/internal/runtimex"
)

// Filter runs a [Session] in front of an inner transport. While a direction is
// negotiating, its bytes go through buffers owned by the filter; afterwards the
// filter forwards that direction to the inner transport. The two directions
// switch independently. The zero value is invalid; use [Session.Wrap].
type Filter struct {
	// headClosed makes Pending report end of stream once the output drains.
	headClosed bool

	// inBuf holds incoming bytes not parsed or not forwarded yet.
	inBuf []byte

	// inLen is the number of valid bytes in inBuf.
	inLen int

	// input is the inner transport input.
	input model.TransportInput

	// outBuf holds outgoing bytes not popped yet.
	outBuf []byte

	// outLen is the number of valid bytes in outBuf.
	outLen int

	// output is the inner transport output.
	output model.TransportOutput

	// outputComplete is set once the acceptor has queued everything it had to say.
	outputComplete bool

	// session is the session we run.
	session *Session

	// tailLent is set when the last Tail call returned a region of inBuf.
	tailLent bool

	// tailClosed is set once the input side has been closed.
	tailClosed bool
}

var _ model.TransportWrapper = &Filter{}

func newFilter(session *Session, input model.TransportInput, output model.TransportOutput) *Filter {
	return &Filter{
		headClosed:     false,
		inBuf:          make([]byte, session.maxFrameSize),
		inLen:          0,
		input:          input,
		outBuf:         make([]byte, session.maxFrameSize),
		outLen:         0,
		output:         output,
		outputComplete: false,
		session:        session,
		tailClosed:     false,
		tailLent:       false,
	}
}

// Session returns the session run by this filter.
func (f *Filter) Session() *Session {
	return f.session
}

// InputNegotiating returns whether incoming bytes still belong to the negotiation.
// Once it returns false it never returns true again.
func (f *Filter) InputNegotiating() bool {
	return f.session.inputActive()
}

// OutputNegotiating returns whether the negotiation still produces outgoing bytes.
// Once it returns false it never returns true again.
func (f *Filter) OutputNegotiating() bool {
	switch side := f.session.side.(type) {
	case *initiatorSide:
		return !f.session.done || !side.initSent
	case *acceptorSide:
		return !f.outputComplete
	default:
		return true
	}
}

// inputBuffered returns whether the input side still goes through inBuf. This
// remains true after the negotiation until the residual bytes have been forwarded.
func (f *Filter) inputBuffered() bool {
	return f.InputNegotiating() || f.inLen > 0
}

// outputBuffered returns whether the output side still goes through outBuf. This
// remains true after the negotiation until every queued byte has been popped.
func (f *Filter) outputBuffered() bool {
	return f.OutputNegotiating() || f.outLen > 0 || f.session.writer.Pending() > 0
}

// Capacity implements model.TransportInput.
func (f *Filter) Capacity() int {
	if f.tailClosed {
		return model.EndOfStream
	}
	if f.inputBuffered() {
		return len(f.inBuf) - f.inLen
	}
	return f.input.Capacity()
}

// Position implements model.TransportInput.
func (f *Filter) Position() int {
	if f.tailClosed {
		return model.EndOfStream
	}
	if f.inputBuffered() {
		return f.inLen
	}
	return f.input.Position()
}

// Tail implements model.TransportInput.
func (f *Filter) Tail() []byte {
	f.tailLent = f.inputBuffered()
	if f.tailLent {
		return f.inBuf[f.inLen:]
	}
	return f.input.Tail()
}

// Process implements model.TransportInput.
func (f *Filter) Process(n int) error {
	if err := f.session.Err(); err != nil {
		return err
	}
	// the negotiation may have ended after the caller wrote into inBuf
	lent := f.tailLent
	f.tailLent = false
	if !lent && !f.inputBuffered() {
		return f.input.Process(n)
	}
	runtimex.Assert(n >= 0 && f.inLen+n <= len(f.inBuf), "Process: invalid byte count")
	f.inLen += n

	if f.InputNegotiating() {
		consumed, err := f.session.parser.Input(f.inBuf[:f.inLen], sessionSink{f.session})
		f.inLen = bytesx.Compact(f.inBuf, consumed, f.inLen)
		if err != nil {
			f.session.setError(err)
			return err
		}
		if f.InputNegotiating() {
			return nil
		}
		f.session.logger.Debugf("input: negotiation over, %d residual bytes", f.inLen)
	}
	return f.drainInput()
}

// drainInput forwards as many residual bytes as the inner transport accepts.
func (f *Filter) drainInput() error {
	if f.inLen <= 0 {
		return f.input.Process(0)
	}
	capacity := f.input.Capacity()
	if capacity == model.EndOfStream {
		f.session.logger.Warnf("input: inner transport closed, dropping %d bytes", f.inLen)
		f.tailClosed = true
		f.inLen = 0
		return nil
	}
	tail := f.input.Tail()
	if len(tail) > capacity {
		tail = tail[:capacity]
	}
	n := copy(tail, f.inBuf[:f.inLen])
	f.inLen = bytesx.Compact(f.inBuf, n, f.inLen)
	return f.input.Process(n)
}

// CloseTail implements model.TransportInput.
func (f *Filter) CloseTail() {
	if f.tailClosed {
		return
	}
	if f.InputNegotiating() {
		f.headClosed = true
	} else if f.inLen > 0 {
		// best effort: the inner transport gets what it can take before closing
		_ = f.drainInput()
	}
	f.tailClosed = true
	f.input.CloseTail()
}

// fill runs the negotiation and moves the queued frames into outBuf.
func (f *Filter) fill() {
	if f.OutputNegotiating() && f.session.Err() == nil {
		if err := f.session.produceOutput(); err != nil {
			f.session.setError(err)
		}
		if _, ok := f.session.side.(*acceptorSide); ok && f.session.done && !f.outputComplete {
			f.session.logger.Debug("output: negotiation over")
			f.outputComplete = true
		}
	}
	f.outLen += f.session.writer.ReadBytes(f.outBuf[f.outLen:])
}

// Pending implements model.TransportOutput.
func (f *Filter) Pending() int {
	if !f.outputBuffered() {
		return f.output.Pending()
	}
	f.fill()
	if f.headClosed && f.outLen == 0 {
		return model.EndOfStream
	}
	return f.outLen
}

// Head implements model.TransportOutput. The returned slice must not be modified.
func (f *Filter) Head() []byte {
	if !f.outputBuffered() {
		return f.output.Head()
	}
	f.Pending()
	return f.outBuf[:f.outLen:f.outLen]
}

// Pop implements model.TransportOutput.
func (f *Filter) Pop(n int) {
	if !f.outputBuffered() {
		f.output.Pop(n)
		return
	}
	runtimex.Assert(n >= 0 && n <= f.outLen, "Pop: invalid byte count")
	f.outLen = bytesx.Compact(f.outBuf, n, f.outLen)
}

// CloseHead implements model.TransportOutput.
func (f *Filter) CloseHead() {
	f.output.CloseHead()
}
