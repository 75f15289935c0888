// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package supervisor

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/AleutianAI/DeployHelper/services/relay/procgroup"
)

// waitDelay bounds how long Wait keeps copying output after the child exits
// while a grandchild still holds the pipes.
const waitDelay = 2 * time.Second

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Command describes one long-running child process.
type Command struct {
	Name   string
	Path   string
	Args   []string
	Dir    string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// Handle is a started child process.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Handle interface {
	// Pid returns the operating-system process id.
	Pid() int

	// Done is closed once the process has exited and its output is drained.
	Done() <-chan struct{}

	// ExitErr returns the result of waiting on the process. Only valid
	// after Done is closed.
	ExitErr() error

	// Terminate asks the process group to exit (SIGTERM on Unix).
	Terminate() error

	// Kill forcibly ends the process group (SIGKILL on Unix).
	Kill() error
}

// Spawner starts child processes.
//
// The supervisor never starts processes itself; every spawn goes through this
// interface so tests can substitute MockSpawner.
type Spawner interface {
	// Spawn starts c in its own process group and returns immediately.
	//
	// # Inputs
	//
	//   - ctx: Checked before starting. Cancelling it later does NOT stop
	//     the child; use Handle.Terminate.
	//   - c: The command to run.
	//
	// # Outputs
	//
	//   - Handle: The running process.
	//   - error: Non-nil if the process could not be started.
	Spawn(ctx context.Context, c Command) (Handle, error)
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// ExecSpawner implements Spawner using os/exec.
type ExecSpawner struct{}

// Spawn implements Spawner.
func (ExecSpawner) Spawn(ctx context.Context, c Command) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	cmd.WaitDelay = waitDelay
	procgroup.Prepare(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &execHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		h.err = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

type execHandle struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (h *execHandle) Pid() int              { return h.cmd.Process.Pid }
func (h *execHandle) Done() <-chan struct{} { return h.done }

func (h *execHandle) ExitErr() error {
	<-h.done
	return h.err
}

func (h *execHandle) Terminate() error { return procgroup.Terminate(h.cmd) }
func (h *execHandle) Kill() error      { return procgroup.Kill(h.cmd) }

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockSpawner is a test double for Spawner.
//
// Without SpawnFunc every spawn succeeds with a MockHandle that exits as soon
// as it is terminated.
//
//	spawner := &supervisor.MockSpawner{}
//	sup, _ := supervisor.New(cfg, spawner, logger)
//	sup.Start(ctx, "frontend")
//	assert.Len(t, spawner.GetCalls(), 1)
type MockSpawner struct {
	// SpawnFunc is called when Spawn is invoked
	SpawnFunc func(ctx context.Context, c Command) (Handle, error)

	// Calls records all spawned commands
	Calls []Command

	// Handles records the handles returned by the default behavior
	Handles []*MockHandle

	mu      sync.Mutex
	nextPid int
}

// Spawn records the call and delegates to SpawnFunc.
func (m *MockSpawner) Spawn(ctx context.Context, c Command) (Handle, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, c)
	fn := m.SpawnFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, c)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPid++
	h := NewMockHandle(1000 + m.nextPid)
	m.Handles = append(m.Handles, h)
	return h, nil
}

// GetCalls returns a copy of recorded spawns.
func (m *MockSpawner) GetCalls() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Command, len(m.Calls))
	copy(out, m.Calls)
	return out
}

// GetHandles returns a copy of the handles created by the default behavior.
func (m *MockSpawner) GetHandles() []*MockHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockHandle, len(m.Handles))
	copy(out, m.Handles)
	return out
}

// MockHandle is a controllable Handle.
type MockHandle struct {
	pid int

	// IgnoreTerminate makes Terminate a no-op so Kill is required.
	IgnoreTerminate bool

	mu         sync.Mutex
	done       chan struct{}
	err        error
	exited     bool
	terminates int
	kills      int
}

// NewMockHandle returns a running MockHandle.
func NewMockHandle(pid int) *MockHandle {
	return &MockHandle{pid: pid, done: make(chan struct{})}
}

func (h *MockHandle) Pid() int              { return h.pid }
func (h *MockHandle) Done() <-chan struct{} { return h.done }

func (h *MockHandle) ExitErr() error {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Exit simulates the process exiting on its own. Safe to call twice.
func (h *MockHandle) Exit(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited {
		return
	}
	h.exited = true
	h.err = err
	close(h.done)
}

func (h *MockHandle) Terminate() error {
	h.mu.Lock()
	h.terminates++
	ignore := h.IgnoreTerminate
	h.mu.Unlock()
	if !ignore {
		h.Exit(nil)
	}
	return nil
}

func (h *MockHandle) Kill() error {
	h.mu.Lock()
	h.kills++
	h.mu.Unlock()
	h.Exit(nil)
	return nil
}

// Signals returns how many times Terminate and Kill were called.
func (h *MockHandle) Signals() (terminates, kills int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminates, h.kills
}
