// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package deploy writes submitted artifacts to the content store, cycling the
// supervised servers around the write when the artifact needs it, and
// narrates every step to the relay.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/DeployHelper/pkg/logging"
	"github.com/AleutianAI/DeployHelper/services/relay/datatypes"
	"github.com/AleutianAI/DeployHelper/services/relay/observability"
	"github.com/AleutianAI/DeployHelper/services/relay/secretscan"
)

var tracer = otel.Tracer("github.com/AleutianAI/DeployHelper/services/relay/deploy")

// DefaultSettleDelay separates the store write from the server restart.
const DefaultSettleDelay = 2 * time.Second

// Store is the content store as seen by the orchestrator.
// *contentstore.Client satisfies it.
type Store interface {
	Upsert(ctx context.Context, path string, content []byte, message string) (string, error)
}

// Lifecycle is the subset of the supervisor a deployment drives.
type Lifecycle interface {
	StartAll(ctx context.Context) (string, error)
	StopAll(ctx context.Context) (string, error)
}

// Scanner inspects code for hard-coded credentials. *secretscan.Scanner
// satisfies it.
type Scanner interface {
	Scan(content string) []secretscan.Finding
}

// Broadcaster delivers progress lines. *hub.Hub satisfies it.
type Broadcaster interface {
	Broadcast(msg datatypes.OutputMessage) int
}

// AfterFunc runs fn once after d and returns a function that cancels the run
// if it has not started. It reports whether the cancel took effect.
type AfterFunc func(d time.Duration, fn func()) (stop func() bool)

func timeAfterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// Result describes a successful deployment.
type Result struct {
	FileName        string
	Path            string
	ResourceVersion string

	// RestartScheduled is true when StartAll will run after the settle delay.
	RestartScheduled bool
}

// Config configures an Orchestrator.
type Config struct {
	// SettleDelay is the wait between the write and StartAll.
	// Zero means DefaultSettleDelay.
	SettleDelay time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records deployments.
func WithMetrics(m *observability.RelayMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSecretScan checks code before it is written. ModeWarn logs findings;
// ModeBlock rejects the artifact with a ValidationError.
func WithSecretScan(s Scanner, mode secretscan.Mode) Option {
	return func(o *Orchestrator) {
		o.scanner = s
		o.scanMode = mode
	}
}

// WithAfterFunc replaces time.AfterFunc for scheduling restarts.
func WithAfterFunc(f AfterFunc) Option {
	return func(o *Orchestrator) { o.after = f }
}

// Orchestrator runs deployments.
//
// # Thread Safety
//
// Deploy may be called concurrently. Concurrent deployments to the same path
// are serialized by the store; lifecycle calls are serialized by the
// supervisor.
type Orchestrator struct {
	store     Store
	lifecycle Lifecycle
	out       Broadcaster
	logger    *logging.Logger
	metrics   *observability.RelayMetrics
	validate  *validator.Validate
	settle    time.Duration
	after     AfterFunc
	scanner   Scanner
	scanMode  secretscan.Mode

	// Scheduled restarts run on baseCtx, not the submitting request's.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	closed  bool
	nextID  uint64
	timers  map[uint64]func() bool
	pending sync.WaitGroup
}

// New builds an Orchestrator.
func New(cfg Config, store Store, lifecycle Lifecycle, out Broadcaster, logger *logging.Logger, opts ...Option) *Orchestrator {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		store:     store,
		lifecycle: lifecycle,
		out:       out,
		logger:    logger,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		settle:    cfg.SettleDelay,
		after:     timeAfterFunc,
		baseCtx:   ctx,
		cancel:    cancel,
		timers:    make(map[uint64]func() bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CommitMessage is the store commit message for fileName.
func CommitMessage(fileName string) string {
	return fmt.Sprintf("Update %s via Deploy Helper", fileName)
}

// Deploy writes artifact to the content store.
//
// # Description
//
// Progress is broadcast in order:
//
//  1. "Processing <fileName>..."
//  2. "Stopping servers for file update..." (restart artifacts only)
//  3. "Successfully processed <fileName>" or "Error processing <fileName>: <msg>"
//
// For restart artifacts StartAll is scheduled after the settle delay and
// "Restarting servers..." is broadcast when it fires.
//
// # Limitations
//
//   - If the write fails after the servers were stopped, they stay stopped
//     until someone sends start-servers.
//   - A failing StopAll is logged and the write proceeds.
func (o *Orchestrator) Deploy(ctx context.Context, artifact datatypes.SubmittedArtifact) (*Result, error) {
	ctx, span := tracer.Start(ctx, "deploy.Deploy", trace.WithAttributes(
		attribute.String("deploy.path", artifact.Path),
		attribute.Bool("deploy.restart", artifact.RequiresServerRestart),
	))
	defer span.End()

	start := time.Now()
	res, err := o.deploy(ctx, artifact)
	o.metrics.DeploymentFinished(err == nil, string(datatypes.KindOf(err)), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(datatypes.KindOf(err)))
	} else {
		span.SetAttributes(attribute.String("deploy.version", res.ResourceVersion))
	}
	return res, err
}

func (o *Orchestrator) deploy(ctx context.Context, artifact datatypes.SubmittedArtifact) (*Result, error) {
	logger := o.logger.With("file_name", artifact.FileName, "path", artifact.Path)
	o.progress("Processing %s...", artifact.FileName)

	if err := o.check(artifact); err != nil {
		o.fail(logger, artifact.FileName, err)
		return nil, err
	}
	if err := o.scan(ctx, logger, artifact); err != nil {
		o.fail(logger, artifact.FileName, err)
		return nil, err
	}

	if artifact.RequiresServerRestart {
		o.progress("Stopping servers for file update...")
		if _, err := o.lifecycle.StopAll(ctx); err != nil {
			logger.Warn("stopping servers before write failed, continuing", "error", err)
		}
	}

	version, err := o.store.Upsert(ctx, artifact.Path, []byte(artifact.Code), CommitMessage(artifact.FileName))
	if err != nil {
		o.fail(logger, artifact.FileName, err)
		return nil, err
	}

	result := &Result{
		FileName:        artifact.FileName,
		Path:            artifact.Path,
		ResourceVersion: version,
	}
	if artifact.RequiresServerRestart {
		result.RestartScheduled = o.scheduleRestart()
	}

	o.progress("Successfully processed %s", artifact.FileName)
	logger.Info("artifact deployed", "version", version, "restart", result.RestartScheduled)
	return result, nil
}

func (o *Orchestrator) check(artifact datatypes.SubmittedArtifact) error {
	err := o.validate.Struct(artifact)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return datatypes.NewError(datatypes.KindValidation, "deploy", err.Error(), err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, lowerFirst(fe.Field()))
	}
	msg := "missing " + strings.Join(fields, ", ")
	return datatypes.NewError(datatypes.KindValidation, "deploy", msg, err)
}

// scan runs before any lifecycle or store call so a blocked artifact leaves
// the servers untouched.
func (o *Orchestrator) scan(ctx context.Context, logger *logging.Logger, artifact datatypes.SubmittedArtifact) error {
	if o.scanner == nil || o.scanMode == "" || o.scanMode == secretscan.ModeOff {
		return nil
	}
	findings := o.scanner.Scan(artifact.Code)
	if len(findings) == 0 {
		return nil
	}

	ids := secretscan.PatternIDs(findings)
	o.metrics.SecretFindings(len(findings), o.scanMode == secretscan.ModeBlock)
	trace.SpanFromContext(ctx).SetAttributes(attribute.StringSlice("deploy.secret_patterns", ids))

	if o.scanMode != secretscan.ModeBlock {
		logger.Warn("possible credentials in deployed code", "findings", len(findings), "patterns", ids)
		return nil
	}
	lines := make([]string, 0, len(findings))
	for _, f := range findings {
		lines = append(lines, f.String())
	}
	msg := fmt.Sprintf("possible credentials found: %s", strings.Join(lines, "; "))
	return datatypes.NewError(datatypes.KindValidation, "deploy", msg, nil)
}

func (o *Orchestrator) fail(logger *logging.Logger, fileName string, err error) {
	logger.Error("deployment failed", "error", err)
	o.progress("Error processing %s: %s", fileName, messageOf(err))
}

func (o *Orchestrator) progress(format string, args ...any) {
	if o.out == nil {
		return
	}
	o.out.Broadcast(datatypes.NewProgress(format, args...))
}

// scheduleRestart arranges StartAll after the settle delay.
func (o *Orchestrator) scheduleRestart() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}

	id := o.nextID
	o.nextID++
	o.pending.Add(1)
	o.timers[id] = o.after(o.settle, func() {
		defer o.pending.Done()
		o.mu.Lock()
		delete(o.timers, id)
		o.mu.Unlock()
		o.restart()
	})
	return true
}

func (o *Orchestrator) restart() {
	o.progress("Restarting servers...")
	status, err := o.lifecycle.StartAll(o.baseCtx)
	if err != nil {
		o.logger.Error("restart after deployment failed", "error", err)
	}
	if o.out != nil {
		o.out.Broadcast(datatypes.NewOutput(datatypes.VerbStartServers, status, err))
	}
}

// Shutdown cancels restarts that have not fired and waits for running ones
// until ctx ends.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	for id, stop := range o.timers {
		if stop() {
			o.pending.Done()
		}
		delete(o.timers, id)
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		return ctx.Err()
	}
}

func messageOf(err error) string {
	var e *datatypes.Error
	if errors.As(err, &e) {
		msg := e.Message
		if msg == "" && e.Err != nil {
			msg = e.Err.Error()
		}
		return msg
	}
	return err.Error()
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
