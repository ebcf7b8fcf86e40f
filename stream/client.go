package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mastercactapus/gscan/coord"
)

// ErrWrite is matched by every *WriteError.
var ErrWrite = errors.New("stream: write failed")

// WriteError is returned by Client.Send when a record could not be written.
// The connection is unusable afterwards.
type WriteError struct {
	Addr string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("stream: write to %s: %v", e.Addr, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Is(target error) bool { return target == ErrWrite }

// ClientOptions configure a Client.
type ClientOptions struct {
	DialTimeout time.Duration

	// WriteTimeout bounds each Send; zero waits forever.
	WriteTimeout time.Duration
}

// ClientStats are running counters of a Client.
type ClientStats struct {
	Points uint64
	Bytes  uint64
}

// Client sends points to a receiver.
type Client struct {
	conn net.Conn
	opt  ClientOptions

	mx  sync.Mutex
	buf [RecordSize]byte
	err error

	points atomic.Uint64
	bytes  atomic.Uint64
}

// Dial connects to the receiver at addr.
func Dial(ctx context.Context, addr string, opt ClientOptions) (*Client, error) {
	d := net.Dialer{Timeout: opt.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("stream: dial %s: %w", addr, err)
	}
	return NewClient(conn, opt), nil
}

// NewClient sends points over an established connection.
func NewClient(conn net.Conn, opt ClientOptions) *Client {
	return &Client{conn: conn, opt: opt}
}

// Send writes one record, blocking until it is handed to the connection.
// Concurrent calls are serialized. After a failure every call returns the
// same *WriteError; nothing is retried.
func (c *Client) Send(p coord.Point) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.err != nil {
		return c.err
	}

	if c.opt.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.opt.WriteTimeout)); err != nil {
			c.err = &WriteError{Addr: c.addr(), Err: err}
			return c.err
		}
	}
	PutRecord(c.buf[:], p)
	n, err := c.conn.Write(c.buf[:])
	c.bytes.Add(uint64(n))
	if err != nil {
		c.err = &WriteError{Addr: c.addr(), Err: err}
		return c.err
	}
	c.points.Add(1)
	return nil
}

func (c *Client) addr() string {
	if a := c.conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return "unknown"
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() ClientStats {
	return ClientStats{Points: c.points.Load(), Bytes: c.bytes.Load()}
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }
