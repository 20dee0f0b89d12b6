// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/webeonic/treegix-sub004/lib/ipc"
)

// ErrClosed is returned by Recv once the service has been closed.
var ErrClosed = errors.New("service closed")

// defaultWriteTimeout bounds a single Send to a connected client.
const defaultWriteTimeout = 10 * time.Second

// eventBuffer is the capacity of the event channel. Reader goroutines
// block once it is full, which stops reading from their sockets.
const eventBuffer = 256

// Config configures a Service.
type Config struct {
	// SocketPath is the filesystem path of the listening socket. A
	// stale socket at this path is removed.
	SocketPath string

	// Logger receives connection-level diagnostics.
	Logger *slog.Logger

	// WriteTimeout bounds each Send. Zero means 10 seconds.
	WriteTimeout time.Duration
}

// Event is one message received from a client.
type Event struct {
	Client  *Client
	Message ipc.Message
}

// Service accepts connections on a Unix socket and delivers every
// message they carry through Recv.
type Service struct {
	socketPath   string
	logger       *slog.Logger
	writeTimeout time.Duration

	listener net.Listener
	events   chan Event
	done     chan struct{}
	once     sync.Once

	mu      sync.Mutex
	clients map[*Client]struct{}
	nextID  uint64

	readers sync.WaitGroup
}

// Listen creates the socket and starts accepting connections. The
// socket is created with mode 0660 so that only the owning user and
// group can reach it.
func Listen(config Config) (*Service, error) {
	if config.SocketPath == "" {
		return nil, errors.New("socket path is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	writeTimeout := config.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = defaultWriteTimeout
	}

	if err := os.MkdirAll(filepath.Dir(config.SocketPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}
	if err := os.Remove(config.SocketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket %s: %w", config.SocketPath, err)
	}
	listener, err := net.Listen("unix", config.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", config.SocketPath, err)
	}
	if err := os.Chmod(config.SocketPath, 0o660); err != nil {
		listener.Close()
		return nil, fmt.Errorf("setting socket permissions: %w", err)
	}

	service := &Service{
		socketPath:   config.SocketPath,
		logger:       logger,
		writeTimeout: writeTimeout,
		listener:     listener,
		events:       make(chan Event, eventBuffer),
		done:         make(chan struct{}),
		clients:      make(map[*Client]struct{}),
	}
	go service.acceptLoop()
	logger.Info("ipc service listening", "path", config.SocketPath)
	return service, nil
}

// SocketPath returns the path the service listens on.
func (s *Service) SocketPath() string { return s.socketPath }

func (s *Service) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		client := s.register(conn)
		if client == nil {
			conn.Close()
			return
		}
		go func() {
			defer s.readers.Done()
			s.readLoop(client)
		}()
	}
}

// register returns nil once the service is closing.
func (s *Service) register(conn net.Conn) *Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return nil
	default:
	}
	s.nextID++
	client := newClient(s.nextID, conn, s.writeTimeout)
	s.clients[client] = struct{}{}
	s.readers.Add(1)
	s.logger.Debug("client connected", "client", client.id, "pid", client.credentials.PID)
	return client
}

func (s *Service) readLoop(client *Client) {
	defer func() {
		client.Close()
		s.mu.Lock()
		delete(s.clients, client)
		s.mu.Unlock()
	}()

	for {
		message, err := client.read()
		if err != nil {
			if !client.closedLocally() {
				s.logger.Debug("client disconnected", "client", client.id, "reason", err)
			}
			return
		}
		select {
		case s.events <- Event{Client: client, Message: message}:
		case <-s.done:
			return
		}
	}
}

// Recv waits up to timeout for the next message from any client. It
// returns ok=false if the timeout expired with nothing to deliver, and
// an error if ctx was cancelled or the service was closed.
func (s *Service) Recv(ctx context.Context, timeout time.Duration) (Event, bool, error) {
	select {
	case event := <-s.events:
		return event, true, nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return Event{}, false, err
	}
	if timeout <= 0 {
		return Event{}, false, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case event := <-s.events:
		return event, true, nil
	case <-timer.C:
		return Event{}, false, nil
	case <-ctx.Done():
		return Event{}, false, ctx.Err()
	case <-s.done:
		return Event{}, false, ErrClosed
	}
}

// Close stops accepting connections, disconnects every client and
// removes the socket file.
func (s *Service) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.listener.Close()

		s.mu.Lock()
		clients := make([]*Client, 0, len(s.clients))
		for client := range s.clients {
			clients = append(clients, client)
		}
		s.mu.Unlock()
		for _, client := range clients {
			client.Close()
		}
		s.readers.Wait()
		os.Remove(s.socketPath)
	})
	return err
}
