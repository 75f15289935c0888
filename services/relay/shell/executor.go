// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package shell runs one-shot operator commands for the relay.
//
// Commands are passed verbatim to the configured shell. There is no
// sandboxing: the relay is a trusted same-operator remote shell.
package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/AleutianAI/DeployHelper/pkg/logging"
	"github.com/AleutianAI/DeployHelper/services/relay/datatypes"
	"github.com/AleutianAI/DeployHelper/services/relay/procgroup"
)

const (
	// DefaultShell interprets commands.
	DefaultShell = "/bin/sh"

	// DefaultMaxOutput caps captured output per command.
	DefaultMaxOutput = 1 << 20

	waitDelay = time.Second
)

// Config configures an Executor.
type Config struct {
	// Shell is invoked as `<Shell> -c <command>`. Default: DefaultShell.
	Shell string

	// Timeout bounds each command. Zero means no timeout.
	Timeout time.Duration

	// Workdir is the initial default directory. Default: the server's cwd.
	Workdir string

	// MaxOutput caps captured bytes. Default: DefaultMaxOutput.
	MaxOutput int
}

// Request is one command to run.
type Request struct {
	SessionID string
	Command   string

	// Dir overrides the executor's default directory when non-empty.
	Dir string
}

// Result is the outcome of a Request.
type Result struct {
	Command  string
	Output   string
	ExitCode int
	Duration time.Duration

	// Err is a ShellExecutionError when the command failed, timed out, or
	// was cancelled. Output is still populated.
	Err error
}

type runKey struct {
	session string
	command string
}

// Executor runs shell commands and tracks them for cancellation.
//
// # Thread Safety
//
// Safe for concurrent use. Commands run in parallel.
type Executor struct {
	shell     string
	timeout   time.Duration
	maxOutput int
	logger    *logging.Logger

	mu      sync.Mutex
	workdir string
	seq     uint64
	running map[runKey]map[uint64]context.CancelFunc
}

// New builds an Executor.
func New(cfg Config, logger *logging.Logger) (*Executor, error) {
	if cfg.Shell == "" {
		cfg.Shell = DefaultShell
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = DefaultMaxOutput
	}
	if logger == nil {
		logger = logging.Nop()
	}

	workdir := cfg.Workdir
	if workdir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		workdir = wd
	}
	abs, err := checkDir(workdir)
	if err != nil {
		return nil, err
	}

	return &Executor{
		shell:     cfg.Shell,
		timeout:   cfg.Timeout,
		maxOutput: cfg.MaxOutput,
		logger:    logger,
		workdir:   abs,
		running:   make(map[runKey]map[uint64]context.CancelFunc),
	}, nil
}

// Workdir returns the default directory for commands without one.
func (e *Executor) Workdir() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.workdir
}

// SetWorkdir changes the default directory. Relative paths resolve against
// the current default. The directory must exist.
func (e *Executor) SetWorkdir(path string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if path == "" {
		return "", datatypes.NewError(datatypes.KindValidation, "cd", "path is required", nil)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.workdir, path)
	}
	abs, err := checkDir(path)
	if err != nil {
		return "", err
	}
	e.workdir = abs
	return abs, nil
}

func checkDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", datatypes.NewError(datatypes.KindValidation, "cd", err.Error(), err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", datatypes.NewError(datatypes.KindValidation, "cd",
			fmt.Sprintf("directory %s does not exist", abs), err)
	}
	if !info.IsDir() {
		return "", datatypes.NewError(datatypes.KindValidation, "cd",
			fmt.Sprintf("%s is not a directory", abs), nil)
	}
	return abs, nil
}

// Run executes req and blocks until it finishes, times out, or is
// cancelled. Stdout and stderr are captured together in arrival order.
func (e *Executor) Run(ctx context.Context, req Request) Result {
	start := time.Now()
	res := Result{Command: req.Command}

	dir := req.Dir
	if dir == "" {
		dir = e.Workdir()
	}

	var cancel context.CancelFunc
	if e.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	id := e.register(req.SessionID, req.Command, cancel)
	defer e.unregister(req.SessionID, req.Command, id)

	out := &cappedBuffer{limit: e.maxOutput}
	cmd := exec.CommandContext(ctx, e.shell, "-c", req.Command)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = waitDelay
	procgroup.Prepare(cmd)
	cmd.Cancel = func() error { return procgroup.Kill(cmd) }

	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Output = out.String()

	if err == nil {
		return res
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	}

	msg := err.Error()
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		msg = fmt.Sprintf("command timed out after %s", e.timeout)
	case errors.Is(ctx.Err(), context.Canceled):
		msg = "command cancelled"
	}
	res.Err = datatypes.NewError(datatypes.KindShell, "exec", msg, err)

	e.logger.Debug("command failed",
		"session_id", req.SessionID,
		"command", req.Command,
		"exit_code", res.ExitCode,
		"error", msg,
	)
	return res
}

// Cancel stops every in-flight run of command started by sessionID and
// reports how many were cancelled.
func (e *Executor) Cancel(sessionID, command string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	runs := e.running[runKey{sessionID, command}]
	for _, cancel := range runs {
		cancel()
	}
	return len(runs)
}

// CancelAll stops every in-flight command.
func (e *Executor) CancelAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, runs := range e.running {
		for _, cancel := range runs {
			cancel()
		}
	}
}

// InFlight returns the number of running commands.
func (e *Executor) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, runs := range e.running {
		n += len(runs)
	}
	return n
}

func (e *Executor) register(session, command string, cancel context.CancelFunc) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	k := runKey{session, command}
	if e.running[k] == nil {
		e.running[k] = make(map[uint64]context.CancelFunc)
	}
	e.running[k][e.seq] = cancel
	return e.seq
}

func (e *Executor) unregister(session, command string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := runKey{session, command}
	delete(e.running[k], id)
	if len(e.running[k]) == 0 {
		delete(e.running, k)
	}
}

// cappedBuffer keeps the first limit bytes and discards the rest.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return len(p), nil
	}
	room := b.limit - len(b.buf)
	if len(p) > room {
		b.buf = append(b.buf, p[:max(room, 0)]...)
		b.buf = dropPartialRune(b.buf)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// dropPartialRune cuts a multi-byte sequence left incomplete at the end of buf.
func dropPartialRune(buf []byte) []byte {
	for i := len(buf) - 1; i >= 0 && i >= len(buf)-utf8.UTFMax; i-- {
		if utf8.RuneStart(buf[i]) {
			if !utf8.FullRune(buf[i:]) {
				return buf[:i]
			}
			break
		}
	}
	return buf
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return string(b.buf) + "\n[output truncated]"
	}
	return string(b.buf)
}
