// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/DeployHelper/cmd/deployhelper/config"
	"github.com/AleutianAI/DeployHelper/pkg/logging"
	"github.com/AleutianAI/DeployHelper/services/relay/contentstore"
	"github.com/AleutianAI/DeployHelper/services/relay/credentials"
	"github.com/AleutianAI/DeployHelper/services/relay/datatypes"
	"github.com/AleutianAI/DeployHelper/services/relay/supervisor"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig stores into a temp dir and exports no telemetry.
func testConfig(t *testing.T) config.DeployHelperConfig {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Store.Local.Root = t.TempDir()
	cfg.Credentials.Source = config.SourceNone
	cfg.Relay.Workdir = t.TempDir()
	cfg.Telemetry.TraceExporter = "none"
	cfg.Telemetry.MetricExporter = "none"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	return cfg
}

func newTestServer(t *testing.T, cfg config.DeployHelperConfig) (*Server, *supervisor.MockSpawner) {
	t.Helper()
	spawner := &supervisor.MockSpawner{}
	s, err := New(context.Background(), cfg, logging.Nop(), WithSpawner(spawner))
	require.NoError(t, err)
	return s, spawner
}

// serveInBackground runs Serve on loopback listeners and stops it on cleanup.
func serveInBackground(t *testing.T, s *Server) (apiURL, relayURL string) {
	t.Helper()
	apiLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	relayLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, apiLn, relayLn) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("Serve did not return after cancel")
		}
	})
	return "http://" + apiLn.Addr().String(), "ws://" + relayLn.Addr().String() + "/ws"
}

func dialRelay(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var hello datatypes.OutputMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, datatypes.MessageTypeConnected, hello.Type)
	return conn
}

func postJSON(t *testing.T, url string, body any, header http.Header) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(string(data)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// =============================================================================
// Assembly
// =============================================================================

func TestNew_RoutesAreWired(t *testing.T) {
	s, _ := newTestServer(t, testConfig(t))

	w := httptest.NewRecorder()
	s.APIHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	s.APIHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "deployhelper_")

	w = httptest.NewRecorder()
	s.APIHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/processes", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "frontend")
	assert.Contains(t, w.Body.String(), "backend")

	w = httptest.NewRecorder()
	s.RelayHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "s3"
	_, err := New(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestNew_BadWorkdir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Relay.Workdir = filepath.Join(t.TempDir(), "missing")
	_, err := New(context.Background(), cfg, nil, WithSpawner(&supervisor.MockSpawner{}))
	assert.Error(t, err)
}

func TestNew_InjectedBackendAndCredentials(t *testing.T) {
	backend, err := contentstore.NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.Store.Backend = config.BackendGitHub // ignored: the backend is injected
	creds := credentials.ProviderFunc(func(context.Context) (string, error) { return "t", nil })

	s, err := New(context.Background(), cfg, nil,
		WithSpawner(&supervisor.MockSpawner{}), WithBackend(backend), WithCredentials(creds))
	require.NoError(t, err)
	assert.Equal(t, "local", s.store.Backend())
}

// =============================================================================
// End to end
// =============================================================================

func TestServe_DeployIsWrittenAndNarrated(t *testing.T) {
	cfg := testConfig(t)
	s, _ := newTestServer(t, cfg)
	apiURL, relayURL := serveInBackground(t, s)
	conn := dialRelay(t, relayURL)

	noRestart := false
	resp := postJSON(t, apiURL+"/v1/deploy", datatypes.DeployRequest{
		Code:                  "<h1>hello</h1>",
		FileName:              "index.html",
		Path:                  "public/index.html",
		RequiresServerRestart: &noRestart,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body datatypes.DeployResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, "Successfully processed index.html", body.Message)
	assert.NotEmpty(t, body.ResourceVersion)

	written, err := os.ReadFile(filepath.Join(cfg.Store.Local.Root, "public", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<h1>hello</h1>", string(written))

	var lines []string
	for len(lines) < 2 {
		var msg datatypes.OutputMessage
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		require.NoError(t, conn.ReadJSON(&msg))
		lines = append(lines, msg.Output)
	}
	assert.Equal(t, []string{"Processing index.html...", "Successfully processed index.html"}, lines)
}

func TestNew_SecretScanBlocksCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.Deploy.SecretScan = "block"
	s, _ := newTestServer(t, cfg)

	body, err := json.Marshal(datatypes.DeployRequest{
		Code:     "<html><script>const key = 'AKIA1234567890123456'</script>game</html>",
		FileName: "game.html",
		Path:     "html/game.html",
	})
	require.NoError(t, err)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/deploy", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	s.APIHandler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "AWS_ACCESS_KEY_ID")
	_, statErr := os.Stat(filepath.Join(cfg.Store.Local.Root, "html", "game.html"))
	assert.True(t, os.IsNotExist(statErr), "nothing is written")
}

func TestServe_RelayRunsShellCommands(t *testing.T) {
	s, _ := newTestServer(t, testConfig(t))
	_, relayURL := serveInBackground(t, s)
	conn := dialRelay(t, relayURL)

	require.NoError(t, conn.WriteJSON(datatypes.CommandMessage{
		Type:    datatypes.MessageTypeCommand,
		Command: "echo relayed",
	}))

	var msg datatypes.OutputMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "echo relayed", msg.Command)
	assert.Contains(t, msg.Output, "relayed")
	assert.Nil(t, msg.Error)
}

func TestServe_RelayDrivesSupervisor(t *testing.T) {
	s, spawner := newTestServer(t, testConfig(t))
	_, relayURL := serveInBackground(t, s)
	conn := dialRelay(t, relayURL)

	require.NoError(t, conn.WriteJSON(datatypes.CommandMessage{
		Type:    datatypes.MessageTypeCommand,
		Command: datatypes.VerbStartServers,
	}))

	var msg datatypes.OutputMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, datatypes.VerbStartServers, msg.Command)
	assert.Len(t, spawner.GetCalls(), 2)
}

func TestServe_APIToken(t *testing.T) {
	t.Setenv("DEPLOYHELPER_TEST_API_TOKEN", "let-me-in")
	cfg := testConfig(t)
	cfg.Server.APITokenEnv = "DEPLOYHELPER_TEST_API_TOKEN"
	s, _ := newTestServer(t, cfg)
	apiURL, _ := serveInBackground(t, s)

	req := datatypes.ClassifyRequest{Code: "body { color: red; }"}
	resp := postJSON(t, apiURL+"/v1/classify", req, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postJSON(t, apiURL+"/v1/classify", req, http.Header{"Authorization": {"Bearer let-me-in"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "let-me-in")
}

func TestServe_CORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, testConfig(t))
	apiURL, _ := serveInBackground(t, s)

	req, err := http.NewRequest(http.MethodOptions, apiURL+"/v1/deploy", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServe_ShutdownClosesSessions(t *testing.T) {
	s, _ := newTestServer(t, testConfig(t))
	apiLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	relayLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, apiLn, relayLn) }()

	conn := dialRelay(t, "ws://"+relayLn.Addr().String()+"/ws")
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestRun_BindFailureIsFatal(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig(t)
	cfg.Server.APIAddr = "127.0.0.1:0"
	cfg.Server.RelayAddr = busy.Addr().String()
	s, _ := newTestServer(t, cfg)

	err = s.Run(context.Background())
	assert.ErrorContains(t, err, "failed to listen")
}

// =============================================================================
// Factories
// =============================================================================

func TestNewCredentials(t *testing.T) {
	ctx := context.Background()

	p, err := NewCredentials(ctx, config.CredentialsConfig{Source: config.SourceNone})
	require.NoError(t, err)
	assert.Nil(t, p)

	t.Setenv("DEPLOYHELPER_TEST_TOKEN", "from-env")
	p, err = NewCredentials(ctx, config.CredentialsConfig{Source: config.SourceEnv, EnvVar: "DEPLOYHELPER_TEST_TOKEN"})
	require.NoError(t, err)
	tok, err := p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-env", tok)

	file := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(file, []byte("from-file\n"), 0600))
	p, err = NewCredentials(ctx, config.CredentialsConfig{Source: config.SourceStatic, TokenFile: file})
	require.NoError(t, err)
	tok, err = p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-file", tok)

	empty := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0600))
	_, err = NewCredentials(ctx, config.CredentialsConfig{Source: config.SourceStatic, TokenFile: empty})
	assert.ErrorIs(t, err, credentials.ErrNoCredential)

	_, err = NewCredentials(ctx, config.CredentialsConfig{Source: config.SourceStatic, TokenFile: filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, err)

	_, err = NewCredentials(ctx, config.CredentialsConfig{Source: "vault"})
	assert.ErrorContains(t, err, "unknown credential source")
}

func TestNewBackend(t *testing.T) {
	ctx := context.Background()

	b, err := NewBackend(ctx, config.StoreConfig{Backend: config.BackendLocal, Local: config.LocalStore{Root: t.TempDir()}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "local", b.Name())

	b, err = NewBackend(ctx, config.StoreConfig{
		Backend: config.BackendGitHub,
		GitHub:  config.GitHubStore{Owner: "acme", Repo: "site", BaseURL: "http://127.0.0.1:1/api/v3"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "github", b.Name())

	_, err = NewBackend(ctx, config.StoreConfig{Backend: config.BackendGitHub}, nil)
	assert.Error(t, err)

	_, err = NewBackend(ctx, config.StoreConfig{Backend: config.BackendGCS}, nil)
	assert.Error(t, err)
}
