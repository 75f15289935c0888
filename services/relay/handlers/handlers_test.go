// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/DeployHelper/services/relay/datatypes"
	"github.com/AleutianAI/DeployHelper/services/relay/deploy"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Mocks
// =============================================================================

type mockDeployer struct {
	got datatypes.SubmittedArtifact
	err error
}

func (m *mockDeployer) Deploy(_ context.Context, a datatypes.SubmittedArtifact) (*deploy.Result, error) {
	m.got = a
	if m.err != nil {
		return nil, m.err
	}
	return &deploy.Result{FileName: a.FileName, Path: a.Path, ResourceVersion: "abc123"}, nil
}

type mockProcesses struct {
	calls []string
	err   error
}

func (m *mockProcesses) StartAll(context.Context) (string, error) {
	m.calls = append(m.calls, "start")
	return "Backend server started\nFrontend server started", m.err
}

func (m *mockProcesses) StopAll(context.Context) (string, error) {
	m.calls = append(m.calls, "stop")
	return "All servers stopped", m.err
}

func (m *mockProcesses) Restart(context.Context) (string, error) {
	m.calls = append(m.calls, "restart")
	return "Servers restarted", m.err
}

func (m *mockProcesses) Status() []datatypes.ProcessStatus {
	return []datatypes.ProcessStatus{
		{Name: "backend", Running: true, Pid: 41},
		{Name: "frontend", Running: false},
	}
}

type mockWorkdir struct {
	cwd string
	err error
}

func (m *mockWorkdir) Workdir() string { return m.cwd }

func (m *mockWorkdir) SetWorkdir(path string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.cwd = "/srv/" + path
	return m.cwd, nil
}

func perform(t *testing.T, h gin.HandlerFunc, method, body string) *httptest.ResponseRecorder {
	t.Helper()
	router := gin.New()
	router.Handle(method, "/", h)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

// =============================================================================
// Deploy
// =============================================================================

func TestHandleDeploy_ClassifierFillsMissingFields(t *testing.T) {
	d := &mockDeployer{}
	body := `{"code":"import React from 'react'\nconst Home = () => null\nexport default Home"}`

	w := perform(t, HandleDeploy(d), http.MethodPost, body)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[datatypes.DeployResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "Successfully processed Home.js", resp.Message)
	assert.Equal(t, "abc123", resp.ResourceVersion)

	assert.Equal(t, "Home.js", d.got.FileName)
	assert.Equal(t, "components/Home.js", d.got.Path)
	assert.True(t, d.got.RequiresServerRestart)
}

func TestHandleDeploy_ExplicitFieldsWin(t *testing.T) {
	d := &mockDeployer{}
	body := `{"code":"import React from 'react'\nconst Home = () => null","fileName":"Landing.js","path":"pages/Landing.js","requiresServerRestart":false}`

	w := perform(t, HandleDeploy(d), http.MethodPost, body)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Landing.js", d.got.FileName)
	assert.Equal(t, "pages/Landing.js", d.got.Path)
	assert.False(t, d.got.RequiresServerRestart)
}

func TestHandleDeploy_NameFromPath(t *testing.T) {
	d := &mockDeployer{}
	body := `{"code":"body { color: red }","path":"styles/site.css"}`

	w := perform(t, HandleDeploy(d), http.MethodPost, body)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "site.css", d.got.FileName)
	assert.Equal(t, "styles/site.css", d.got.Path)
	assert.Equal(t, "Successfully processed site.css", decode[datatypes.DeployResponse](t, w).Message)
}

func TestHandleDeploy_InvalidBody(t *testing.T) {
	for _, body := range []string{`not json`, `{}`} {
		w := perform(t, HandleDeploy(&mockDeployer{}), http.MethodPost, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		resp := decode[datatypes.DeployResponse](t, w)
		assert.False(t, resp.Success)
		assert.Equal(t, datatypes.KindValidation, resp.Kind)
	}
}

func TestHandleDeploy_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   datatypes.Kind
		wantField  int
	}{
		{
			name:       "validation",
			err:        datatypes.NewError(datatypes.KindValidation, "deploy", "missing path", nil),
			wantStatus: http.StatusBadRequest,
			wantKind:   datatypes.KindValidation,
		},
		{
			name:       "conflict",
			err:        datatypes.NewContentStoreError("upsert", http.StatusConflict, "changed", nil),
			wantStatus: http.StatusConflict,
			wantKind:   datatypes.KindContentStore,
			wantField:  http.StatusConflict,
		},
		{
			name:       "upstream unreachable",
			err:        datatypes.NewContentStoreError("upsert", 0, "dial tcp: refused", nil),
			wantStatus: http.StatusBadGateway,
			wantKind:   datatypes.KindContentStore,
			wantField:  http.StatusBadGateway,
		},
		{
			name:       "untyped",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &mockDeployer{err: tt.err}
			w := perform(t, HandleDeploy(d), http.MethodPost, `{"code":"<html>game</html>"}`)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decode[datatypes.DeployResponse](t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantKind, resp.Kind)
			assert.Equal(t, tt.wantField, resp.Status)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestHandleClassify(t *testing.T) {
	w := perform(t, HandleClassify(), http.MethodPost, `{"code":"<html><body>admin</body></html>"}`)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[datatypes.ClassifyResponse](t, w)
	assert.Equal(t, datatypes.ClassifyResponse{
		FileType: "HTML",
		FileName: "admin.html",
		Path:     "html/admin.html",
	}, resp)

	w = perform(t, HandleClassify(), http.MethodPost, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Processes
// =============================================================================

func TestHandleProcessAction(t *testing.T) {
	for _, action := range []string{ActionStart, ActionStop, ActionRestart} {
		t.Run(action, func(t *testing.T) {
			p := &mockProcesses{}
			w := perform(t, HandleProcessAction(p, action), http.MethodPost, "")

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, []string{action}, p.calls)
			resp := decode[datatypes.ProcessActionResponse](t, w)
			assert.NotEmpty(t, resp.Output)
			assert.Len(t, resp.Processes, 2)
			assert.Empty(t, resp.Error)
		})
	}
}

func TestHandleProcessAction_Error(t *testing.T) {
	p := &mockProcesses{err: datatypes.NewError(datatypes.KindProcess, "start", "exec: \"npm\": not found", nil)}

	w := perform(t, HandleProcessAction(p, ActionStart), http.MethodPost, "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decode[datatypes.ProcessActionResponse](t, w)
	assert.Contains(t, resp.Error, "not found")
}

func TestHandleProcessAction_UnknownActionPanics(t *testing.T) {
	assert.Panics(t, func() { HandleProcessAction(&mockProcesses{}, "pause") })
}

func TestHandleProcessStatus(t *testing.T) {
	w := perform(t, HandleProcessStatus(&mockProcesses{}), http.MethodGet, "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[struct {
		Processes []datatypes.ProcessStatus `json:"processes"`
	}](t, w)
	require.Len(t, resp.Processes, 2)
	assert.Equal(t, "backend", resp.Processes[0].Name)
	assert.Equal(t, 41, resp.Processes[0].Pid)
}

// =============================================================================
// Workdir
// =============================================================================

func TestHandleGetWorkdir(t *testing.T) {
	w := perform(t, HandleGetWorkdir(&mockWorkdir{cwd: "/srv"}), http.MethodGet, "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[datatypes.WorkdirResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "/srv", resp.Cwd)
}

func TestHandleChangeWorkdir(t *testing.T) {
	wd := &mockWorkdir{cwd: "/srv"}
	w := perform(t, HandleChangeWorkdir(wd), http.MethodPost, `{"path":"client"}`)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[datatypes.WorkdirResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "/srv/client", resp.Cwd)
	assert.Equal(t, "/srv/client", wd.cwd)
}

func TestHandleChangeWorkdir_Errors(t *testing.T) {
	wd := &mockWorkdir{cwd: "/srv", err: datatypes.NewError(datatypes.KindValidation, "cd", "not a directory", nil)}

	w := perform(t, HandleChangeWorkdir(wd), http.MethodPost, `{"path":"missing"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[datatypes.WorkdirResponse](t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, "/srv", resp.Cwd)
	assert.Contains(t, resp.Error, "not a directory")

	w = perform(t, HandleChangeWorkdir(wd), http.MethodPost, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthCheck(t *testing.T) {
	w := perform(t, HealthCheck, http.MethodGet, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
