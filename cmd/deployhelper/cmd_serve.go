// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/DeployHelper/cmd/deployhelper/config"
	"github.com/AleutianAI/DeployHelper/pkg/logging"
	"github.com/AleutianAI/DeployHelper/services/relay/server"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var apiAddr, relayAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the websocket relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if apiAddr != "" {
				cfg.Server.APIAddr = apiAddr
			}
			if relayAddr != "" {
				cfg.Server.RelayAddr = relayAddr
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&apiAddr, "api-addr", "", "override server.api_addr")
	cmd.Flags().StringVar(&relayAddr, "relay-addr", "", "override server.relay_addr")
	return cmd
}

func runServe(parent context.Context, cfg config.DeployHelperConfig) error {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: server.ServiceName,
		JSON:    cfg.Logging.JSON,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	if level != logging.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Clients built here outlive ctx; cancellation only drives shutdown.
	srv, err := server.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return err
	}

	logger.Info("starting deploy helper",
		"version", Version,
		"api", cfg.Server.APIAddr,
		"relay", cfg.Server.RelayAddr,
		"store", cfg.Store.Backend,
	)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped with error", "error", err)
		return err
	}
	return nil
}
