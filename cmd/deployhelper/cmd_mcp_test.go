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
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/DeployHelper/services/relay/datatypes"
)

// connectMCP serves the tools over in-memory transports against st.
func connectMCP(t *testing.T, st *stack) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- newMCPServer(newAPIClient(st.apiURL, nil)).Run(ctx, serverTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "v0.0.1"}, nil)
	connectCtx, connectCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer connectCancel()
	session, err := client.Connect(connectCtx, clientTransport, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		session.Close()
		cancel()
		select {
		case <-serveErr:
		case <-time.After(5 * time.Second):
			t.Error("mcp server did not stop")
		}
	})
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if args == nil {
		args = map[string]any{}
	}
	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	if out != nil && !res.IsError {
		data, err := json.Marshal(res.StructuredContent)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, out))
	}
	return res
}

func TestMCP_ListsTools(t *testing.T) {
	session := connectMCP(t, startStack(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := session.ListTools(ctx, nil)
	require.NoError(t, err)

	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"classify_code", "deploy_code", "process_status",
		"restart_servers", "start_servers", "stop_servers",
	}, names)
}

func TestMCP_ClassifyAndDeploy(t *testing.T) {
	st := startStack(t)
	session := connectMCP(t, st)
	code := "<html><canvas id=\"game\"></canvas></html>"

	var cls datatypes.ClassifyResponse
	res := callTool(t, session, "classify_code", map[string]any{"code": code}, &cls)
	require.False(t, res.IsError)
	assert.Equal(t, "html/game.html", cls.Path)

	var dep datatypes.DeployResponse
	res = callTool(t, session, "deploy_code", map[string]any{"code": code}, &dep)
	require.False(t, res.IsError)
	assert.True(t, dep.Success)
	assert.Equal(t, "Successfully processed game.html", dep.Message)

	data, err := os.ReadFile(filepath.Join(st.root, "html", "game.html"))
	require.NoError(t, err)
	assert.Equal(t, code, string(data))
}

func TestMCP_DeployFailureIsToolError(t *testing.T) {
	session := connectMCP(t, startStack(t))

	res := callTool(t, session, "deploy_code", map[string]any{"code": "<html><p>hi</p></html>"}, nil)
	assert.True(t, res.IsError)
}

func TestMCP_ProcessTools(t *testing.T) {
	st := startStack(t)
	session := connectMCP(t, st)

	var list processList
	callTool(t, session, "process_status", nil, &list)
	require.Len(t, list.Processes, 2)
	for _, p := range list.Processes {
		assert.False(t, p.Running, p.Name)
	}

	var started datatypes.ProcessActionResponse
	res := callTool(t, session, "start_servers", nil, &started)
	require.False(t, res.IsError)
	for _, p := range started.Processes {
		assert.True(t, p.Running, p.Name)
	}
	assert.Len(t, st.spawner.GetCalls(), 2)

	var stopped datatypes.ProcessActionResponse
	callTool(t, session, "stop_servers", nil, &stopped)
	for _, p := range stopped.Processes {
		assert.False(t, p.Running, p.Name)
	}
}
