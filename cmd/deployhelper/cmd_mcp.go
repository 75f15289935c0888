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
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/DeployHelper/services/relay/datatypes"
	"github.com/AleutianAI/DeployHelper/services/relay/handlers"
)

const mcpServerName = "deployhelper"

type classifyInput struct {
	Code string `json:"code" jsonschema:"source code to classify"`
}

type deployInput struct {
	Code                  string `json:"code" jsonschema:"source code to write"`
	FileName              string `json:"fileName,omitempty" jsonschema:"file name, derived from the code when empty"`
	Path                  string `json:"path,omitempty" jsonschema:"destination directory, derived from the code when empty"`
	RequiresServerRestart *bool  `json:"requiresServerRestart,omitempty" jsonschema:"restart the dev servers after writing"`
}

type noInput struct{}

func newMCPCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve deploy and process tools to an MCP client over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			err = newMCPServer(client).Run(cmd.Context(), &mcp.StdioTransport{})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

// newMCPServer exposes the API as MCP tools. Every tool is a thin call
// through client, so the running server stays the only writer.
func newMCPServer(client *apiClient) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: mcpServerName, Version: Version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "classify_code",
		Description: "Detects the file type, name, destination path and restart need of a code block without writing it",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in classifyInput) (*mcp.CallToolResult, datatypes.ClassifyResponse, error) {
		resp, err := client.Classify(ctx, in.Code)
		if err != nil {
			return nil, datatypes.ClassifyResponse{}, fmt.Errorf("classify failed: %w", err)
		}
		return nil, resp, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "deploy_code",
		Description: "Writes a code block into the project and restarts the dev servers when needed",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in deployInput) (*mcp.CallToolResult, datatypes.DeployResponse, error) {
		resp, err := client.Deploy(ctx, datatypes.DeployRequest{
			Code:                  in.Code,
			FileName:              in.FileName,
			Path:                  in.Path,
			RequiresServerRestart: in.RequiresServerRestart,
		})
		if err != nil {
			return nil, datatypes.DeployResponse{}, fmt.Errorf("deploy failed: %w", err)
		}
		return nil, resp, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "process_status",
		Description: "Lists the managed dev server processes",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ noInput) (*mcp.CallToolResult, processList, error) {
		procs, err := client.Processes(ctx)
		if err != nil {
			return nil, processList{}, fmt.Errorf("process status failed: %w", err)
		}
		return nil, processList{Processes: procs}, nil
	})

	for _, action := range []string{handlers.ActionStart, handlers.ActionStop, handlers.ActionRestart} {
		mcp.AddTool(server, &mcp.Tool{
			Name:        action + "_servers",
			Description: fmt.Sprintf("Runs %s on every managed dev server process", action),
		}, processActionHandler(client, action))
	}
	return server
}

func processActionHandler(client *apiClient, action string) mcp.ToolHandlerFor[noInput, datatypes.ProcessActionResponse] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ noInput) (*mcp.CallToolResult, datatypes.ProcessActionResponse, error) {
		resp, err := client.ProcessAction(ctx, action)
		if err != nil {
			return nil, datatypes.ProcessActionResponse{}, fmt.Errorf("%s servers failed: %w", action, err)
		}
		return nil, resp, nil
	}
}
