// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hub is the command relay: a registry of websocket console sessions,
// dispatch of inbound commands, and broadcast of every result to every open
// session.
//
// # Protocol
//
// On connect the server sends
//
//	{"type":"connected","sessionId":"<uuid>","message":"Terminal connected successfully"}
//
// Clients send {"type":"command","command":"...","cwd":"..."}. The reserved
// commands start-servers, stop-servers, restart-servers and firebase-deploy
// drive the process supervisor or the deploy command; anything else runs in
// a shell. Each command runs on its own goroutine and its result is broadcast
// as {"type":"output","output":"...","command":"...","error":"..."} to all
// sessions, including ones that connected after the command was sent.
//
// {"type":"cancel","command":"..."} stops the caller's own in-flight runs of
// that command.
//
// Malformed payloads and throttled commands are answered with
// {"type":"error","message":"..."} to the sender only.
package hub

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/DeployHelper/pkg/logging"
	"github.com/AleutianAI/DeployHelper/services/relay/datatypes"
	"github.com/AleutianAI/DeployHelper/services/relay/observability"
	"github.com/AleutianAI/DeployHelper/services/relay/shell"
)

const (
	// DefaultDeployCommand runs for the firebase-deploy verb.
	DefaultDeployCommand = "firebase deploy"

	defaultWriteTimeout = 10 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultMaxMessage   = 1 << 20
)

// Lifecycle is the process supervisor as seen by the relay.
type Lifecycle interface {
	StartAll(ctx context.Context) (string, error)
	StopAll(ctx context.Context) (string, error)
	Restart(ctx context.Context) (string, error)
}

// Runner executes shell commands. *shell.Executor satisfies it.
type Runner interface {
	Run(ctx context.Context, req shell.Request) shell.Result
	Cancel(sessionID, command string) int
}

// Config configures a Hub.
type Config struct {
	// DeployCommand runs for firebase-deploy. Default: DefaultDeployCommand.
	DeployCommand string

	// CommandsPerSecond limits commands per session. Zero disables limiting.
	CommandsPerSecond float64

	// CommandBurst is the limiter bucket size. Default: 1.
	CommandBurst int

	// WriteTimeout bounds each frame written to a session.
	WriteTimeout time.Duration

	// PongWait is how long a silent client is kept. Pings go out at 9/10 of
	// it.
	PongWait time.Duration

	// MaxMessageBytes caps inbound frames.
	MaxMessageBytes int64
}

// Hub is the command relay.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Hub struct {
	cfg       Config
	lifecycle Lifecycle
	runner    Runner
	logger    *logging.Logger
	metrics   *observability.RelayMetrics
	upgrader  websocket.Upgrader

	// baseCtx outlives individual connections; commands keep running after
	// their sender disconnects.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	inflight sync.WaitGroup
}

// New builds a Hub. metrics may be nil.
func New(cfg Config, lifecycle Lifecycle, runner Runner, logger *logging.Logger, metrics *observability.RelayMetrics) *Hub {
	if cfg.DeployCommand == "" {
		cfg.DeployCommand = DefaultDeployCommand
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessage
	}
	if logger == nil {
		logger = logging.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:       cfg,
		lifecycle: lifecycle,
		runner:    runner,
		logger:    logger,
		metrics:   metrics,
		upgrader: websocket.Upgrader{
			// The console is served from other local origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		baseCtx:  ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// =============================================================================
// Connection handling
// =============================================================================

// ServeHTTP upgrades the request and runs the session until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.isClosed() {
		http.Error(w, "relay is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	var limiter *rate.Limiter
	if h.cfg.CommandsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.cfg.CommandsPerSecond), h.cfg.CommandBurst)
	}
	sess := newSession(id.String(), conn, limiter)
	logger := h.logger.With("session_id", sess.id)

	if !h.add(sess) {
		sess.close(websocket.CloseGoingAway, "relay is shutting down")
		return
	}
	defer func() {
		h.remove(sess)
		sess.close(websocket.CloseNormalClosure, "")
		logger.Info("session disconnected")
	}()
	logger.Info("session connected", "remote", r.RemoteAddr)

	if err := sess.send(datatypes.NewConnected(sess.id), h.cfg.WriteTimeout); err != nil {
		logger.Warn("failed to send greeting", "error", err)
		return
	}

	conn.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go h.keepAlive(sess, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Debug("read failed", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		h.handle(sess, data, logger)
	}
}

func (h *Hub) keepAlive(sess *Session, done <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PongWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := sess.ping(h.cfg.WriteTimeout); err != nil {
				return
			}
		}
	}
}

// handle processes one inbound frame.
func (h *Hub) handle(sess *Session, data []byte, logger *logging.Logger) {
	msg, err := datatypes.ParseCommandMessage(data)
	if err != nil {
		h.metrics.ProtocolError()
		logger.Debug("rejected payload", "error", err)
		h.reply(sess, datatypes.NewErrorMessage(messageOf(err)))
		return
	}

	if msg.Type == datatypes.MessageTypeCancel {
		command := msg.Command
		if command == datatypes.VerbFirebaseDeploy {
			command = h.cfg.DeployCommand
		}
		n := h.runner.Cancel(sess.id, command)
		logger.Info("cancel requested", "command", msg.Command, "cancelled", n)
		h.reply(sess, datatypes.OutputMessage{
			Type:    datatypes.MessageTypeOutput,
			Command: msg.Command,
			Output:  cancelSummary(n),
		})
		return
	}

	if !sess.allow() {
		h.metrics.Throttled()
		h.reply(sess, datatypes.NewErrorMessage("rate limit exceeded, command dropped: "+msg.Command))
		return
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	h.inflight.Add(1)
	h.mu.RUnlock()

	logger.Info("command received", "command", msg.Command, "cwd", msg.Cwd)
	go func() {
		defer h.inflight.Done()
		h.execute(sess.id, msg)
	}()
}

// execute runs msg and broadcasts its result.
func (h *Hub) execute(sessionID string, msg datatypes.CommandMessage) {
	ctx := h.baseCtx
	start := time.Now()

	var (
		out  datatypes.OutputMessage
		kind = observability.CommandKindLifecycle
		err  error
	)

	switch msg.Command {
	case datatypes.VerbStartServers:
		var status string
		status, err = h.lifecycle.StartAll(ctx)
		out = datatypes.NewOutput(msg.Command, status, err)
	case datatypes.VerbStopServers:
		var status string
		status, err = h.lifecycle.StopAll(ctx)
		out = datatypes.NewOutput(msg.Command, status, err)
	case datatypes.VerbRestartServers:
		var status string
		status, err = h.lifecycle.Restart(ctx)
		out = datatypes.NewOutput(msg.Command, status, err)
	case datatypes.VerbFirebaseDeploy:
		kind = observability.CommandKindDeploy
		res := h.runner.Run(ctx, shell.Request{SessionID: sessionID, Command: h.cfg.DeployCommand, Dir: msg.Cwd})
		err = res.Err
		out = datatypes.NewOutput(datatypes.FirebaseDeployLabel, res.Output, err)
	default:
		kind = observability.CommandKindShell
		res := h.runner.Run(ctx, shell.Request{SessionID: sessionID, Command: msg.Command, Dir: msg.Cwd})
		err = res.Err
		out = datatypes.NewOutput(msg.Command, res.Output, err)
	}

	h.metrics.CommandFinished(kind, err == nil, time.Since(start))
	if err != nil {
		h.logger.Warn("command failed", "session_id", sessionID, "command", msg.Command, "error", err)
	}
	h.Broadcast(out)
}

// =============================================================================
// Fan-out
// =============================================================================

// Broadcast sends msg to every open session and returns how many received
// it. Sessions whose send fails are dropped; the broadcast continues.
func (h *Hub) Broadcast(msg datatypes.OutputMessage) int {
	snapshot := h.snapshot()

	delivered := 0
	var dropped []*Session
	for _, sess := range snapshot {
		if err := sess.send(msg, h.cfg.WriteTimeout); err != nil {
			h.logger.Warn("broadcast send failed, dropping session", "session_id", sess.id, "error", err)
			dropped = append(dropped, sess)
			continue
		}
		delivered++
	}

	for _, sess := range dropped {
		h.remove(sess)
		sess.close(websocket.CloseInternalServerErr, "send failed")
	}
	h.metrics.Broadcast(len(dropped))
	return delivered
}

// reply sends msg to one session only.
func (h *Hub) reply(sess *Session, msg datatypes.OutputMessage) {
	if err := sess.send(msg, h.cfg.WriteTimeout); err != nil {
		h.logger.Debug("reply failed", "session_id", sess.id, "error", err)
	}
}

func (h *Hub) snapshot() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// =============================================================================
// Registry
// =============================================================================

func (h *Hub) add(sess *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[sess.id] = sess
	h.metrics.SessionOpened()
	return true
}

// remove deletes sess from the registry. Only the first call has effect.
func (h *Hub) remove(sess *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.sessions[sess.id]; !ok || cur != sess {
		return false
	}
	delete(h.sessions, sess.id)
	h.metrics.SessionClosed()
	return true
}

// Sessions returns the number of open sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// Shutdown stops accepting sessions and commands, waits for in-flight
// commands until ctx ends (then cancels them), and closes every session.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		h.cancel()
		<-done
	}
	h.cancel()

	for _, sess := range h.snapshot() {
		h.remove(sess)
		sess.close(websocket.CloseGoingAway, "relay is shutting down")
	}
	return err
}

func messageOf(err error) string {
	var e *datatypes.Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

func cancelSummary(n int) string {
	switch n {
	case 0:
		return "No running command to cancel"
	case 1:
		return "Cancelled 1 running command"
	default:
		return "Cancelled " + strconv.Itoa(n) + " running commands"
	}
}
