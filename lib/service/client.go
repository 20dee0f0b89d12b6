// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/webeonic/treegix-sub004/lib/clock"
	"github.com/webeonic/treegix-sub004/lib/codec"
	"github.com/webeonic/treegix-sub004/lib/ipc"
)

// dialRetryInterval is the pause between connection attempts while the
// service socket does not exist yet or refuses connections.
const dialRetryInterval = 100 * time.Millisecond

// Conn is the client side of a connection to a Service. Messages are
// read by a background goroutine so that Recv can wait with a bounded
// timeout.
type Conn struct {
	conn    net.Conn
	encoder *codec.Encoder
	writeMu sync.Mutex

	incoming  chan ipc.Message
	readErr   error
	done      chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
}

// Dial connects to the service at socketPath, retrying until timeout
// elapses. The poller starts racing the manager's listener, so a
// missing or refusing socket is retried rather than reported.
func Dial(ctx context.Context, socketPath string, timeout time.Duration, clk clock.Clock) (*Conn, error) {
	deadline := clk.Now().Add(timeout)
	var dialer net.Dialer
	for {
		conn, err := dialer.DialContext(ctx, "unix", socketPath)
		if err == nil {
			return newConn(conn), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !clk.Now().Before(deadline) {
			return nil, fmt.Errorf("connecting to %s: %w", socketPath, err)
		}
		clk.Sleep(dialRetryInterval)
	}
}

func newConn(conn net.Conn) *Conn {
	c := &Conn{
		conn:     conn,
		encoder:  codec.NewEncoder(conn),
		incoming: make(chan ipc.Message, 1),
		done:     make(chan struct{}),
		closing:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	defer close(c.done)
	decoder := codec.NewDecoder(c.conn)
	for {
		var message ipc.Message
		if err := decoder.Decode(&message); err != nil {
			c.readErr = err
			return
		}
		select {
		case c.incoming <- message:
		case <-c.closing:
			return
		}
	}
}

// Send writes one message.
func (c *Conn) Send(message ipc.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.encoder.Encode(message); err != nil {
		return fmt.Errorf("sending %s: %w", message.Code, err)
	}
	return nil
}

// ErrConnectionClosed is returned by Recv after the service closed the
// connection.
var ErrConnectionClosed = errors.New("connection closed by service")

// Recv waits up to timeout for the next message. It returns ok=false
// if nothing arrived in time, and an error once the connection is gone
// or ctx is cancelled.
func (c *Conn) Recv(ctx context.Context, timeout time.Duration) (ipc.Message, bool, error) {
	select {
	case message := <-c.incoming:
		return message, true, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case message := <-c.incoming:
		return message, true, nil
	case <-c.done:
		select {
		case message := <-c.incoming:
			return message, true, nil
		default:
		}
		return ipc.Message{}, false, fmt.Errorf("%w: %v", ErrConnectionClosed, c.readErr)
	case <-timer.C:
		return ipc.Message{}, false, nil
	case <-ctx.Done():
		return ipc.Message{}, false, ctx.Err()
	}
}

// Close closes the connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		err = c.conn.Close()
	})
	return err
}
