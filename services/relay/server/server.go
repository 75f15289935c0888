// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server assembles the deploy helper: the HTTP API, the websocket
// relay, and everything they drive.
//
// # Description
//
// New builds every component from a DeployHelperConfig:
//  1. Prometheus registry, relay metrics and OpenTelemetry providers
//  2. Credential provider and content store backend
//  3. Process supervisor and shell executor
//  4. Relay hub, secret scanner and deployment orchestrator
//  5. The API and relay gin engines
//
// Run serves both listeners until ctx ends or one of them fails, then shuts
// everything down in dependency order.
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv, err := server.New(ctx, cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/DeployHelper/cmd/deployhelper/config"
	"github.com/AleutianAI/DeployHelper/pkg/logging"
	"github.com/AleutianAI/DeployHelper/services/relay/contentstore"
	"github.com/AleutianAI/DeployHelper/services/relay/credentials"
	"github.com/AleutianAI/DeployHelper/services/relay/deploy"
	"github.com/AleutianAI/DeployHelper/services/relay/hub"
	"github.com/AleutianAI/DeployHelper/services/relay/middleware"
	"github.com/AleutianAI/DeployHelper/services/relay/observability"
	"github.com/AleutianAI/DeployHelper/services/relay/routes"
	"github.com/AleutianAI/DeployHelper/services/relay/secretscan"
	"github.com/AleutianAI/DeployHelper/services/relay/shell"
	"github.com/AleutianAI/DeployHelper/services/relay/supervisor"
	"github.com/AleutianAI/DeployHelper/services/relay/telemetry"
)

// ServiceName is reported by otelgin and the telemetry resource.
const ServiceName = "deployhelper"

const readHeaderTimeout = 10 * time.Second

// Option configures a Server.
type Option func(*options)

type options struct {
	spawner supervisor.Spawner
	backend contentstore.Backend
	creds   credentials.Provider
}

// WithSpawner replaces the exec-based process spawner.
func WithSpawner(s supervisor.Spawner) Option {
	return func(o *options) { o.spawner = s }
}

// WithBackend replaces the configured content store backend.
func WithBackend(b contentstore.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithCredentials replaces the configured credential source.
func WithCredentials(p credentials.Provider) Option {
	return func(o *options) { o.creds = p }
}

// Server owns every long-lived component of the deploy helper.
//
// # Thread Safety
//
// Run must be called at most once.
type Server struct {
	cfg    config.DeployHelperConfig
	logger *logging.Logger

	registry  *prometheus.Registry
	metrics   *observability.RelayMetrics
	telemetry *telemetry.Providers

	store      *contentstore.Client
	supervisor *supervisor.Supervisor
	executor   *shell.Executor
	hub        *hub.Hub
	deployer   *deploy.Orchestrator

	api   *gin.Engine
	relay *gin.Engine

	// closers release backend clients after shutdown.
	closers []io.Closer
}

// New builds a Server. Nothing listens until Run.
func New(ctx context.Context, cfg config.DeployHelperConfig, logger *logging.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = observability.NewRelayMetrics(s.registry)

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceName = ServiceName
	tcfg.TraceExporter = cfg.Telemetry.TraceExporter
	tcfg.MetricExporter = cfg.Telemetry.MetricExporter
	if cfg.Telemetry.OTLPEndpoint != "" {
		tcfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	tcfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	providers, err := telemetry.Init(ctx, tcfg, s.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.telemetry = providers

	if err := s.initStore(ctx, o); err != nil {
		s.cleanup()
		return nil, err
	}
	if err := s.initProcesses(o); err != nil {
		s.cleanup()
		return nil, err
	}

	s.hub = hub.New(hub.Config{
		DeployCommand:     cfg.Relay.DeployCommand,
		CommandsPerSecond: cfg.Relay.CommandsPerSecond,
		CommandBurst:      cfg.Relay.CommandBurst,
	}, s.supervisor, s.executor, logger.With("component", "hub"), s.metrics)

	deployOpts := []deploy.Option{deploy.WithMetrics(s.metrics)}
	if mode := secretscan.Mode(cfg.Deploy.SecretScan); mode != "" && mode != secretscan.ModeOff {
		scanner, err := secretscan.New()
		if err != nil {
			s.cleanup()
			return nil, err
		}
		deployOpts = append(deployOpts, deploy.WithSecretScan(scanner, mode))
	}
	s.deployer = deploy.New(deploy.Config{SettleDelay: cfg.Supervisor.SettleDelay},
		s.store, s.supervisor, s.hub, logger.With("component", "deploy"), deployOpts...)

	s.initRouters()

	logger.Info("deploy helper initialized",
		"store", s.store.Backend(),
		"processes", s.supervisor.Names(),
		"workdir", s.executor.Workdir(),
		"secret_scan", cfg.Deploy.SecretScan,
	)
	return s, nil
}

// initStore resolves the credential source and opens the content store.
func (s *Server) initStore(ctx context.Context, o options) error {
	creds := o.creds
	if creds == nil {
		var err error
		creds, err = NewCredentials(ctx, s.cfg.Credentials)
		if err != nil {
			return err
		}
	}

	backend := o.backend
	if backend == nil {
		var err error
		backend, err = NewBackend(ctx, s.cfg.Store, creds)
		if err != nil {
			return err
		}
		if c, ok := backend.(io.Closer); ok {
			s.closers = append(s.closers, c)
		}
	}

	s.store = contentstore.NewClient(backend, contentstore.WithObserver(s.metrics))
	return nil
}

func (s *Server) initProcesses(o options) error {
	specs := make([]supervisor.ProcessSpec, 0, len(s.cfg.Supervisor.Processes))
	for _, p := range s.cfg.Supervisor.Processes {
		specs = append(specs, supervisor.ProcessSpec{
			Name:    p.Name,
			Command: p.Command,
			Args:    p.Args,
			Dir:     p.Dir,
			Env:     p.Env,
		})
	}

	spawner := o.spawner
	if spawner == nil {
		spawner = supervisor.ExecSpawner{}
	}
	sup, err := supervisor.New(supervisor.Config{
		Processes:   specs,
		SettleDelay: s.cfg.Supervisor.SettleDelay,
		StopGrace:   s.cfg.Supervisor.StopGrace,
	}, spawner, s.logger.With("component", "supervisor"), supervisor.WithObserver(s.metrics))
	if err != nil {
		return fmt.Errorf("failed to create process supervisor: %w", err)
	}
	s.supervisor = sup

	exec, err := shell.New(shell.Config{
		Shell:     s.cfg.Relay.Shell,
		Timeout:   s.cfg.Relay.CommandTimeout,
		Workdir:   s.cfg.Relay.Workdir,
		MaxOutput: s.cfg.Relay.MaxOutputBytes,
	}, s.logger.With("component", "shell"))
	if err != nil {
		return fmt.Errorf("failed to create shell executor: %w", err)
	}
	s.executor = exec
	return nil
}

func (s *Server) initRouters() {
	var apiToken credentials.Provider
	if s.cfg.Server.APITokenEnv != "" {
		apiToken = credentials.EnvProvider{Var: s.cfg.Server.APITokenEnv}
	}

	s.api = gin.New()
	s.api.Use(
		gin.Recovery(),
		middleware.RequestLogger(s.logger.With("listener", "api")),
		middleware.CORS(s.cfg.Server.AllowedOrigins),
		otelgin.Middleware(ServiceName),
	)
	routes.SetupRoutes(s.api, routes.Deps{
		Deployer:  s.deployer,
		Processes: s.supervisor,
		Workdir:   s.executor,
		Metrics:   promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}),
		APIToken:  apiToken,
	})

	s.relay = gin.New()
	s.relay.Use(gin.Recovery(), middleware.RequestLogger(s.logger.With("listener", "relay")))
	routes.SetupRelayRoutes(s.relay, s.hub)
}

// APIHandler serves the HTTP API.
func (s *Server) APIHandler() http.Handler { return s.api }

// RelayHandler serves the websocket relay.
func (s *Server) RelayHandler() http.Handler { return s.relay }

// Run listens on the configured addresses and serves until ctx ends.
//
// A listener that cannot bind is fatal: nothing is served and the error is
// returned.
func (s *Server) Run(ctx context.Context) error {
	apiLn, err := net.Listen("tcp", s.cfg.Server.APIAddr)
	if err != nil {
		s.cleanup()
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.APIAddr, err)
	}
	relayLn, err := net.Listen("tcp", s.cfg.Server.RelayAddr)
	if err != nil {
		apiLn.Close()
		s.cleanup()
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.RelayAddr, err)
	}
	return s.Serve(ctx, apiLn, relayLn)
}

// Serve serves the API on apiLn and the relay on relayLn until ctx ends or
// either server fails, then shuts down. A clean shutdown returns nil.
func (s *Server) Serve(ctx context.Context, apiLn, relayLn net.Listener) error {
	apiSrv := &http.Server{Handler: s.api, ReadHeaderTimeout: readHeaderTimeout}
	relaySrv := &http.Server{Handler: s.relay, ReadHeaderTimeout: readHeaderTimeout}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("API server listening", "addr", apiLn.Addr().String())
		return serve(apiSrv, apiLn)
	})
	g.Go(func() error {
		s.logger.Info("relay server listening", "addr", relayLn.Addr().String())
		return serve(relaySrv, relayLn)
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown(apiSrv, relaySrv)
	})
	return g.Wait()
}

func serve(srv *http.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// shutdown stops intake first, then drains work, then releases resources.
func (s *Server) shutdown(servers ...*http.Server) error {
	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("shutting down", "timeout", timeout)
	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := s.hub.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("relay shutdown: %w", err))
	}
	if err := s.deployer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("deployment shutdown: %w", err))
	}
	s.executor.CancelAll()
	if err := s.supervisor.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("supervisor shutdown: %w", err))
	}
	if err := s.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	s.closeBackends()

	if len(errs) > 0 {
		s.logger.Warn("shutdown finished with errors", "error", errors.Join(errs...))
		return errors.Join(errs...)
	}
	s.logger.Info("shutdown complete")
	return nil
}

// cleanup releases what New acquired when the server never ran.
func (s *Server) cleanup() {
	if s.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown error", "error", err)
		}
	}
	s.closeBackends()
}

func (s *Server) closeBackends() {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			s.logger.Warn("backend close error", "error", err)
		}
	}
	s.closers = nil
}
