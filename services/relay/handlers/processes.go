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
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/DeployHelper/services/relay/datatypes"
)

// Processes is the supervisor as seen by the HTTP API.
type Processes interface {
	StartAll(ctx context.Context) (string, error)
	StopAll(ctx context.Context) (string, error)
	Restart(ctx context.Context) (string, error)
	Status() []datatypes.ProcessStatus
}

// Process actions accepted by HandleProcessAction.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
)

// HandleProcessAction runs one lifecycle action and reports the resulting
// process table.
func HandleProcessAction(p Processes, action string) gin.HandlerFunc {
	var run func(context.Context) (string, error)
	switch action {
	case ActionStart:
		run = p.StartAll
	case ActionStop:
		run = p.StopAll
	case ActionRestart:
		run = p.Restart
	default:
		panic(fmt.Sprintf("handlers: unknown process action %q", action))
	}

	return func(c *gin.Context) {
		output, err := run(c.Request.Context())
		resp := datatypes.ProcessActionResponse{
			Output:    output,
			Processes: p.Status(),
		}
		if err != nil {
			slog.Error("process action failed", "action", action, "error", err)
			resp.Error = err.Error()
			c.JSON(datatypes.HTTPStatus(err), resp)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleProcessStatus lists the managed processes.
func HandleProcessStatus(p Processes) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"processes": p.Status()})
	}
}
