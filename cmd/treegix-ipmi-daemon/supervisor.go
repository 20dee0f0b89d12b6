// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/webeonic/treegix-sub004/lib/clock"
)

// childSpec describes one process to start.
type childSpec struct {
	name string
	path string
	args []string
}

// childExit reports a child that stopped.
type childExit struct {
	child *child
	err   error
}

type child struct {
	spec childSpec
	cmd  *exec.Cmd
}

// Supervisor starts the manager and pollers and keeps them running as a
// unit.
type Supervisor struct {
	clock  clock.Clock
	logger *slog.Logger

	// stdout and stderr are inherited by every child.
	stdout io.Writer
	stderr io.Writer

	// socketPoll is how often the manager socket is checked for during
	// startup; socketTimeout bounds the whole wait.
	socketPoll    time.Duration
	socketTimeout time.Duration

	// stopTimeout is how long children get to exit after SIGTERM before
	// they are killed.
	stopTimeout time.Duration

	running []*child
	exits   chan childExit
}

// Run starts the manager, waits for socketPath, starts the pollers and
// blocks until ctx is cancelled or a child exits. It returns nil on
// cancellation and an error naming the child otherwise. Every child has
// exited by the time Run returns.
func (s *Supervisor) Run(ctx context.Context, manager childSpec, socketPath string, pollers []childSpec) error {
	s.exits = make(chan childExit, len(pollers)+1)
	defer s.stopAll()

	if err := s.start(manager); err != nil {
		return err
	}
	if err := s.waitForSocket(ctx, socketPath); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	s.logger.Info("IPMI manager is accepting connections", "socket", socketPath)

	for _, spec := range pollers {
		if err := s.start(spec); err != nil {
			return err
		}
	}
	s.logger.Info("IPMI service started", "pollers", len(pollers))

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down IPMI service")
		return nil
	case exit := <-s.exits:
		return s.exitError(exit)
	}
}

func (s *Supervisor) start(spec childSpec) error {
	cmd := exec.Command(spec.path, spec.args...)
	cmd.Stdout = s.stdout
	cmd.Stderr = s.stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGTERM}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("cannot start %s: %w", spec.name, err)
	}

	c := &child{spec: spec, cmd: cmd}
	s.running = append(s.running, c)
	s.logger.Info("started child process", "name", spec.name, "child_pid", cmd.Process.Pid)

	go func() {
		s.exits <- childExit{child: c, err: cmd.Wait()}
	}()
	return nil
}

// waitForSocket polls until path exists. The manager exiting first is
// reported as that child's failure.
func (s *Supervisor) waitForSocket(ctx context.Context, path string) error {
	deadline := s.clock.Now().Add(s.socketTimeout)
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("checking manager socket: %w", err)
		}
		if !s.clock.Now().Before(deadline) {
			return fmt.Errorf("manager socket %s did not appear within %s", path, s.socketTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case exit := <-s.exits:
			return s.exitError(exit)
		case <-s.clock.After(s.socketPoll):
		}
	}
}

func (s *Supervisor) exitError(exit childExit) error {
	s.forget(exit.child)
	if exit.err != nil {
		return fmt.Errorf("%s (pid %d) exited: %w", exit.child.spec.name, exit.child.cmd.Process.Pid, exit.err)
	}
	return fmt.Errorf("%s (pid %d) exited unexpectedly", exit.child.spec.name, exit.child.cmd.Process.Pid)
}

func (s *Supervisor) forget(c *child) {
	for i, running := range s.running {
		if running == c {
			s.running = append(s.running[:i], s.running[i+1:]...)
			return
		}
	}
}

// stopAll sends SIGTERM to every running child and waits for all of
// them, killing whatever is left after stopTimeout.
func (s *Supervisor) stopAll() {
	if len(s.running) == 0 {
		return
	}
	for _, c := range s.running {
		// The child may already have exited; its exit is collected below.
		_ = c.cmd.Process.Signal(syscall.SIGTERM)
	}

	timeout := s.clock.After(s.stopTimeout)
	for len(s.running) > 0 {
		select {
		case exit := <-s.exits:
			s.forget(exit.child)
			s.logger.Info("child process stopped", "name", exit.child.spec.name, "error", exit.err)
		case <-timeout:
			for _, c := range s.running {
				s.logger.Warn("child process did not stop, killing it", "name", c.spec.name, "child_pid", c.cmd.Process.Pid)
				_ = c.cmd.Process.Kill()
			}
			// Killed children still report through exits.
			timeout = nil
		}
	}
}
