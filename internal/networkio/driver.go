package networkio

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/ooni/minisasl/internal/model"
)

// withContext runs fx, interrupting the pending I/O on conn when ctx is done. When the
// context caused the failure, the returned error is the context error.
func withContext(ctx context.Context, conn net.Conn, fx func() error) error {
	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
		close(interrupted)
	})
	err := fx()
	if stop() {
		return err
	}
	<-interrupted
	conn.SetDeadline(time.Time{})
	if err != nil {
		return ctx.Err()
	}
	return nil
}

// Driver moves bytes between a [net.Conn] and a [model.TransportWrapper]. The zero
// value is invalid; use [NewDriver].
type Driver struct {
	conn      net.Conn
	logger    model.Logger
	transport model.TransportWrapper
}

// NewDriver creates a new [Driver].
func NewDriver(logger model.Logger, conn net.Conn, transport model.TransportWrapper) *Driver {
	return &Driver{
		conn:      conn,
		logger:    logger,
		transport: transport,
	}
}

// Flush writes every pending byte of the transport to the connection.
func (d *Driver) Flush(ctx context.Context) error {
	return withContext(ctx, d.conn, func() error {
		for {
			n := d.transport.Pending()
			if n <= 0 {
				return nil
			}
			count, err := d.conn.Write(d.transport.Head()[:n])
			if count > 0 {
				d.transport.Pop(count)
			}
			if err != nil {
				return err
			}
		}
	})
}

// ReadOnce performs a single read from the connection and hands the bytes to the
// transport. It returns [io.EOF] once the connection or the transport input is closed,
// after closing the transport input.
func (d *Driver) ReadOnce(ctx context.Context) error {
	capacity := d.transport.Capacity()
	if capacity == model.EndOfStream {
		return io.EOF
	}
	if capacity <= 0 {
		return ErrNoCapacity
	}
	tail := d.transport.Tail()
	if len(tail) > capacity {
		tail = tail[:capacity]
	}
	var count int
	err := withContext(ctx, d.conn, func() (err error) {
		count, err = d.conn.Read(tail)
		return
	})
	if count > 0 {
		if perr := d.transport.Process(count); perr != nil {
			return perr
		}
	}
	if errors.Is(err, io.EOF) {
		d.logger.Debug("networkio: connection closed by peer")
		d.transport.CloseTail()
		return io.EOF
	}
	return err
}
