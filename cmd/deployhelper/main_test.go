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
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/DeployHelper/cmd/deployhelper/config"
	"github.com/AleutianAI/DeployHelper/pkg/logging"
	"github.com/AleutianAI/DeployHelper/services/relay/server"
	"github.com/AleutianAI/DeployHelper/services/relay/supervisor"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stack is an in-process server on loopback listeners.
type stack struct {
	apiURL   string
	relayURL string
	root     string
	spawner  *supervisor.MockSpawner
}

func startStack(t *testing.T) *stack {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Store.Local.Root = t.TempDir()
	cfg.Credentials.Source = config.SourceNone
	cfg.Relay.Workdir = t.TempDir()
	cfg.Telemetry.TraceExporter = "none"
	cfg.Telemetry.MetricExporter = "none"
	cfg.Supervisor.SettleDelay = 10 * time.Millisecond
	cfg.Server.ShutdownTimeout = 5 * time.Second

	spawner := &supervisor.MockSpawner{}
	srv, err := server.New(context.Background(), cfg, logging.Nop(), server.WithSpawner(spawner))
	require.NoError(t, err)

	apiLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	relayLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, apiLn, relayLn) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})

	return &stack{
		apiURL:   "http://" + apiLn.Addr().String(),
		relayURL: "ws://" + relayLn.Addr().String() + "/ws",
		root:     cfg.Store.Local.Root,
		spawner:  spawner,
	}
}

// runCLI executes the root command in machine output mode.
func runCLI(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--output", "machine"}, args...))
	err = root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a polling test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
