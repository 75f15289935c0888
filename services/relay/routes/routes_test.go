// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/DeployHelper/services/relay/credentials"
	"github.com/AleutianAI/DeployHelper/services/relay/datatypes"
	"github.com/AleutianAI/DeployHelper/services/relay/deploy"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

type stubDeployer struct{}

func (stubDeployer) Deploy(_ context.Context, a datatypes.SubmittedArtifact) (*deploy.Result, error) {
	return &deploy.Result{FileName: a.FileName, Path: a.Path, ResourceVersion: "v1"}, nil
}

type stubProcesses struct{}

func (stubProcesses) StartAll(context.Context) (string, error) { return "started", nil }
func (stubProcesses) StopAll(context.Context) (string, error)  { return "stopped", nil }
func (stubProcesses) Restart(context.Context) (string, error)  { return "restarted", nil }
func (stubProcesses) Status() []datatypes.ProcessStatus         { return nil }

type stubWorkdir struct{}

func (stubWorkdir) Workdir() string                     { return "/srv" }
func (stubWorkdir) SetWorkdir(p string) (string, error) { return "/srv/" + p, nil }

func newDeps() Deps {
	return Deps{
		Deployer:  stubDeployer{},
		Processes: stubProcesses{},
		Workdir:   stubWorkdir{},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
	}
}

func hasRoute(routes gin.RoutesInfo, method, path string) bool {
	for _, r := range routes {
		if r.Method == method && r.Path == path {
			return true
		}
	}
	return false
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_Registered(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newDeps())

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"GET", "/cwd"},
		{"POST", "/cd"},
		{"POST", "/process-code"},
		{"POST", "/v1/deploy"},
		{"POST", "/v1/classify"},
		{"GET", "/v1/processes"},
		{"POST", "/v1/processes/start"},
		{"POST", "/v1/processes/stop"},
		{"POST", "/v1/processes/restart"},
	}

	routes := router.Routes()
	for _, e := range expected {
		if !hasRoute(routes, e.method, e.path) {
			t.Errorf("Expected route %s %s not found", e.method, e.path)
		}
	}
}

func TestSetupRoutes_NoMetricsHandler(t *testing.T) {
	router := gin.New()
	deps := newDeps()
	deps.Metrics = nil
	SetupRoutes(router, deps)

	assert.False(t, hasRoute(router.Routes(), "GET", "/metrics"))
}

func TestSetupRoutes_ProcessCodeAlias(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newDeps())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/process-code", strings.NewReader(`{"code":"<html>game</html>"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Successfully processed game.html")
}

func TestSetupRoutes_APIToken(t *testing.T) {
	router := gin.New()
	deps := newDeps()
	deps.APIToken = credentials.ProviderFunc(func(context.Context) (string, error) { return "tok", nil })
	SetupRoutes(router, deps)

	tests := []struct {
		method string
		path   string
		auth   string
		want   int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, "/v1/processes", "", http.StatusUnauthorized},
		{http.MethodGet, "/v1/processes", "Bearer tok", http.StatusOK},
		{http.MethodGet, "/cwd", "", http.StatusUnauthorized},
		{http.MethodGet, "/cwd", "Bearer tok", http.StatusOK},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(tt.method, tt.path, nil)
		if tt.auth != "" {
			req.Header.Set("Authorization", tt.auth)
		}
		router.ServeHTTP(w, req)
		assert.Equal(t, tt.want, w.Code, "%s %s auth=%q", tt.method, tt.path, tt.auth)
	}
}

func TestSetupRelayRoutes(t *testing.T) {
	router := gin.New()
	relay := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	SetupRelayRoutes(router, relay)

	for _, path := range []string{"/", "/ws"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusTeapot, w.Code, path)
	}
}
