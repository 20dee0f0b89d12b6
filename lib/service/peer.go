// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/webeonic/treegix-sub004/lib/codec"
	"github.com/webeonic/treegix-sub004/lib/ipc"
)

// ErrDisconnected is returned by Send on a client whose connection has
// gone away.
var ErrDisconnected = errors.New("client disconnected")

// Credentials identify the process on the other end of a connection,
// as reported by the kernel (SO_PEERCRED) when it connected.
type Credentials struct {
	PID int32
	UID uint32
	GID uint32
}

// Client is the service side of one accepted connection. It is safe to
// call Send from any goroutine, and a *Client stays valid after the
// connection drops: Send then fails and Connected reports false.
type Client struct {
	id           uint64
	conn         net.Conn
	decoder      *codec.Decoder
	writeTimeout time.Duration
	credentials  Credentials

	writeMu sync.Mutex
	encoder *codec.Encoder

	closed  atomic.Bool
	local   atomic.Bool
	closeMu sync.Once
}

func newClient(id uint64, conn net.Conn, writeTimeout time.Duration) *Client {
	client := &Client{
		id:           id,
		conn:         conn,
		decoder:      codec.NewDecoder(conn),
		encoder:      codec.NewEncoder(conn),
		writeTimeout: writeTimeout,
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		client.credentials, _ = peerCredentials(unixConn)
	}
	return client
}

// ID is a per-service sequence number identifying the connection in
// logs.
func (c *Client) ID() uint64 { return c.id }

// Credentials returns the peer process credentials. They are zero if
// the kernel could not report them.
func (c *Client) Credentials() Credentials { return c.credentials }

// Connected reports whether the connection is still open.
func (c *Client) Connected() bool { return !c.closed.Load() }

// Send writes one message to the client.
func (c *Client) Send(message ipc.Message) error {
	if c.closed.Load() {
		return ErrDisconnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.encoder.Encode(message); err != nil {
		return fmt.Errorf("sending %s to client %d: %w", message.Code, c.id, err)
	}
	return nil
}

// Close closes the connection. The service's reader for this client
// stops and no further events arrive from it.
func (c *Client) Close() error {
	var err error
	c.closeMu.Do(func() {
		c.local.Store(!c.closed.Load())
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) closedLocally() bool { return c.local.Load() }

func (c *Client) read() (ipc.Message, error) {
	var message ipc.Message
	if err := c.decoder.Decode(&message); err != nil {
		c.closed.Store(true)
		return ipc.Message{}, err
	}
	return message, nil
}

func peerCredentials(conn *net.UnixConn) (Credentials, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return Credentials{}, err
	}
	var ucred *unix.Ucred
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		ucred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return Credentials{}, err
	}
	if sockErr != nil {
		return Credentials{}, sockErr
	}
	return Credentials{PID: ucred.Pid, UID: ucred.Uid, GID: ucred.Gid}, nil
}
