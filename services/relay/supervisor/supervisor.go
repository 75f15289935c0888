// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package supervisor owns the named long-running child processes (the
// frontend and backend dev servers) and exposes idempotent lifecycle
// operations over them.
//
// # Invariants
//
//   - At most one live handle exists per name. Start on a running name is a
//     no-op that reports the existing state.
//   - Stop waits for the process to exit before clearing its slot, so a
//     restart never overlaps an old and a new instance.
//   - A process that exits on its own clears its slot; a later Start retries.
//   - Restart cycles never overlap. Callers arriving while a cycle is in
//     flight share its result.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/DeployHelper/pkg/logging"
	"github.com/AleutianAI/DeployHelper/services/relay/datatypes"
)

const (
	// DefaultSettleDelay is the pause between stop and start in a restart.
	DefaultSettleDelay = 2 * time.Second

	// DefaultStopGrace is how long Stop waits after SIGTERM before SIGKILL.
	DefaultStopGrace = 5 * time.Second

	// StoppedAllStatus is returned by StopAll.
	StoppedAllStatus = "All servers stopped"

	restartedPrefix = "Servers restarted"
)

// ProcessSpec configures one supervised process.
type ProcessSpec struct {
	Name    string
	Command string
	Args    []string
	Dir     string
	Env     []string
}

// Config configures a Supervisor.
type Config struct {
	// Processes in start order. Names must be unique and non-empty.
	Processes []ProcessSpec

	// SettleDelay between StopAll and StartAll in Restart. Zero means
	// DefaultSettleDelay; negative means no delay.
	SettleDelay time.Duration

	// StopGrace between SIGTERM and SIGKILL. Zero means DefaultStopGrace.
	StopGrace time.Duration
}

// Observer receives lifecycle events. Used for metrics.
type Observer interface {
	ObserveProcess(name, event string, running bool)
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option {
	return func(s *Supervisor) { s.observer = o }
}

// slot is the state of one named process.
type slot struct {
	spec ProcessSpec

	// op serializes start and stop of this name.
	op sync.Mutex

	// state guards handle and startedAt. Held only briefly, never across a
	// spawn or a wait.
	state     sync.Mutex
	handle    Handle
	startedAt time.Time
	stopping  Handle
}

func (s *slot) current() (Handle, time.Time) {
	s.state.Lock()
	defer s.state.Unlock()
	return s.handle, s.startedAt
}

func (s *slot) set(h Handle) {
	s.state.Lock()
	defer s.state.Unlock()
	s.handle = h
	s.startedAt = time.Now()
}

// markStopping records that h is being stopped deliberately.
func (s *slot) markStopping(h Handle) {
	s.state.Lock()
	defer s.state.Unlock()
	s.stopping = h
}

// clearIf empties the slot if it still holds h. stopped reports whether h
// was being stopped deliberately.
func (s *slot) clearIf(h Handle) (cleared, stopped bool) {
	s.state.Lock()
	defer s.state.Unlock()
	stopped = s.stopping == h
	if s.handle != h {
		return false, stopped
	}
	s.handle = nil
	s.startedAt = time.Time{}
	s.stopping = nil
	return true, stopped
}

// Supervisor manages named child processes.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Supervisor struct {
	spawner  Spawner
	logger   *logging.Logger
	observer Observer

	order []string
	slots map[string]*slot

	settleDelay time.Duration
	stopGrace   time.Duration

	// sleep waits d or until ctx is done. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	// cycle keeps restart cycles from overlapping each other.
	cycle  sync.Mutex
	flight singleflight.Group

	watchers sync.WaitGroup
}

// New builds a Supervisor. Nothing is started.
func New(cfg Config, spawner Spawner, logger *logging.Logger, opts ...Option) (*Supervisor, error) {
	if spawner == nil {
		spawner = ExecSpawner{}
	}
	if logger == nil {
		logger = logging.Nop()
	}

	s := &Supervisor{
		spawner:     spawner,
		logger:      logger,
		slots:       make(map[string]*slot, len(cfg.Processes)),
		settleDelay: cfg.SettleDelay,
		stopGrace:   cfg.StopGrace,
		sleep:       sleepContext,
	}
	if s.settleDelay == 0 {
		s.settleDelay = DefaultSettleDelay
	}
	if s.stopGrace <= 0 {
		s.stopGrace = DefaultStopGrace
	}

	for _, spec := range cfg.Processes {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, datatypes.NewError(datatypes.KindValidation, "supervisor", "process name is required", nil)
		}
		if spec.Command == "" {
			return nil, datatypes.NewError(datatypes.KindValidation, "supervisor",
				fmt.Sprintf("process %q has no command", name), nil)
		}
		if _, dup := s.slots[name]; dup {
			return nil, datatypes.NewError(datatypes.KindValidation, "supervisor",
				fmt.Sprintf("duplicate process name %q", name), nil)
		}
		spec.Name = name
		s.slots[name] = &slot{spec: spec}
		s.order = append(s.order, name)
	}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Names returns the configured process names in start order.
func (s *Supervisor) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Start launches the named process unless it is already running.
//
// # Outputs
//
//   - string: "<Name> server started" or "<Name> server is already running".
//   - error: ProcessError if the name is unknown or the spawn failed. The
//     slot stays empty on failure.
func (s *Supervisor) Start(ctx context.Context, name string) (string, error) {
	sl, err := s.slot(name)
	if err != nil {
		return "", err
	}

	sl.op.Lock()
	defer sl.op.Unlock()

	if h, _ := sl.current(); h != nil {
		return fmt.Sprintf("%s server is already running", displayName(name)), nil
	}

	procLogger := s.logger.With("process", name)
	stdout := logging.NewLineWriter(procLogger, logging.LevelInfo, "stdout")
	stderr := logging.NewLineWriter(procLogger, logging.LevelWarn, "stderr")

	h, err := s.spawner.Spawn(ctx, Command{
		Name:   name,
		Path:   sl.spec.Command,
		Args:   sl.spec.Args,
		Dir:    sl.spec.Dir,
		Env:    sl.spec.Env,
		Stdout: stdout,
		Stderr: stderr,
	})
	if err != nil {
		s.notify(name, "failed", false)
		procLogger.Error("failed to start process", "error", err)
		return "", datatypes.NewError(datatypes.KindProcess, "start",
			fmt.Sprintf("failed to start %s server: %v", displayName(name), err), err)
	}

	sl.set(h)
	s.notify(name, "started", true)
	procLogger.Info("process started", "pid", h.Pid(), "command", sl.spec.Command)

	s.watchers.Add(1)
	go s.watch(sl, h, stdout, stderr)

	return fmt.Sprintf("%s server started", displayName(name)), nil
}

// watch clears the slot when h exits, whether stopped or crashed.
func (s *Supervisor) watch(sl *slot, h Handle, stdout, stderr *logging.LineWriter) {
	defer s.watchers.Done()
	<-h.Done()
	stdout.Flush()
	stderr.Flush()

	if cleared, stopped := sl.clearIf(h); cleared && !stopped {
		s.notify(sl.spec.Name, "exited", false)
		s.logger.Warn("process exited", "process", sl.spec.Name, "pid", h.Pid(), "error", errString(h.ExitErr()))
	}
}

// StartAll starts every configured process in order.
//
// # Outputs
//
//   - string: One status line per process that produced one, joined by "\n".
//   - error: The joined spawn failures, if any. Other processes are still
//     attempted.
func (s *Supervisor) StartAll(ctx context.Context) (string, error) {
	var (
		statuses []string
		errs     []error
	)
	for _, name := range s.order {
		status, err := s.Start(ctx, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		statuses = append(statuses, status)
	}
	return strings.Join(statuses, "\n"), errors.Join(errs...)
}

// Stop terminates the named process group and waits for it to exit. It is a
// no-op when the process is not running.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	sl, err := s.slot(name)
	if err != nil {
		return err
	}

	sl.op.Lock()
	defer sl.op.Unlock()

	h, _ := sl.current()
	if h == nil {
		return nil
	}

	sl.markStopping(h)
	if err := s.terminate(ctx, name, h); err != nil {
		return err
	}
	sl.clearIf(h)
	s.notify(name, "stopped", false)
	s.logger.Info("process stopped", "process", name, "pid", h.Pid())
	return nil
}

// terminate sends SIGTERM, escalates to SIGKILL after the grace period or
// when ctx ends, and waits for exit.
func (s *Supervisor) terminate(ctx context.Context, name string, h Handle) error {
	if err := h.Terminate(); err != nil {
		s.logger.Warn("terminate failed, killing", "process", name, "error", err)
		if kerr := h.Kill(); kerr != nil {
			return datatypes.NewError(datatypes.KindProcess, "stop",
				fmt.Sprintf("failed to stop %s server: %v", displayName(name), kerr), kerr)
		}
	}

	grace := time.NewTimer(s.stopGrace)
	defer grace.Stop()

	select {
	case <-h.Done():
		return nil
	case <-grace.C:
		s.logger.Warn("process ignored SIGTERM, killing", "process", name, "grace", s.stopGrace)
	case <-ctx.Done():
	}

	if err := h.Kill(); err != nil {
		return datatypes.NewError(datatypes.KindProcess, "stop",
			fmt.Sprintf("failed to kill %s server: %v", displayName(name), err), err)
	}

	deadline := time.NewTimer(s.stopGrace)
	defer deadline.Stop()
	select {
	case <-h.Done():
		return nil
	case <-deadline.C:
		return datatypes.NewError(datatypes.KindProcess, "stop",
			fmt.Sprintf("%s server did not exit after SIGKILL", displayName(name)), nil)
	}
}

// StopAll stops every process in parallel and returns StoppedAllStatus. A
// failure to stop one process does not prevent stopping the others.
func (s *Supervisor) StopAll(ctx context.Context) (string, error) {
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	for _, name := range s.order {
		g.Go(func() error {
			if err := s.Stop(ctx, name); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return StoppedAllStatus, errors.Join(errs...)
}

// Restart stops everything, waits the settle delay, and starts everything.
//
// # Description
//
// Overlapping callers share one cycle and receive the same result. A caller
// arriving after a cycle finished starts a new one. The shared cycle is not
// cancelled when an individual caller's context is.
//
// # Outputs
//
//   - string: "Servers restarted\n<StartAll statuses>".
//   - error: Stop or start failures.
func (s *Supervisor) Restart(ctx context.Context) (string, error) {
	v, err, shared := s.flight.Do("restart:*", func() (any, error) {
		return s.cycleAll(context.WithoutCancel(ctx))
	})
	if shared {
		s.logger.Debug("restart coalesced with an in-flight cycle")
	}
	status, _ := v.(string)
	return status, err
}

func (s *Supervisor) cycleAll(ctx context.Context) (string, error) {
	s.cycle.Lock()
	defer s.cycle.Unlock()

	s.logger.Info("restarting all processes", "settle_delay", s.settleDelay)
	if _, err := s.StopAll(ctx); err != nil {
		return "", err
	}
	if err := s.settle(ctx); err != nil {
		return "", err
	}
	started, err := s.StartAll(ctx)
	return restartedPrefix + "\n" + started, err
}

// RestartProcess runs the stop, settle, start cycle for one name.
func (s *Supervisor) RestartProcess(ctx context.Context, name string) (string, error) {
	if _, err := s.slot(name); err != nil {
		return "", err
	}
	v, err, _ := s.flight.Do("restart:"+name, func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		s.cycle.Lock()
		defer s.cycle.Unlock()

		if err := s.Stop(ctx, name); err != nil {
			return "", err
		}
		if err := s.settle(ctx); err != nil {
			return "", err
		}
		return s.Start(ctx, name)
	})
	status, _ := v.(string)
	return status, err
}

func (s *Supervisor) settle(ctx context.Context) error {
	if s.settleDelay <= 0 {
		return nil
	}
	return s.sleep(ctx, s.settleDelay)
}

// Status reports every configured process in start order.
func (s *Supervisor) Status() []datatypes.ProcessStatus {
	out := make([]datatypes.ProcessStatus, 0, len(s.order))
	for _, name := range s.order {
		h, startedAt := s.slots[name].current()
		st := datatypes.ProcessStatus{Name: name, Running: h != nil}
		if h != nil {
			st.Pid = h.Pid()
			st.StartedAt = startedAt.Unix()
		}
		out = append(out, st)
	}
	return out
}

// Running reports whether name has a live handle.
func (s *Supervisor) Running(name string) bool {
	sl, ok := s.slots[name]
	if !ok {
		return false
	}
	h, _ := sl.current()
	return h != nil
}

// Shutdown stops every process and waits for exit watchers to finish.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	_, err := s.StopAll(ctx)
	done := make(chan struct{})
	go func() {
		s.watchers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

func (s *Supervisor) slot(name string) (*slot, error) {
	sl, ok := s.slots[name]
	if !ok {
		return nil, datatypes.NewError(datatypes.KindProcess, "lookup",
			fmt.Sprintf("unknown process %q", name), nil)
	}
	return sl, nil
}

func (s *Supervisor) notify(name, event string, running bool) {
	if s.observer != nil {
		s.observer.ObserveProcess(name, event, running)
	}
}

// displayName capitalizes the first letter: "frontend" -> "Frontend".
func displayName(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
