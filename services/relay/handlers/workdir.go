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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/DeployHelper/services/relay/datatypes"
)

// Workdir is the relay's default working directory. *shell.Executor
// satisfies it.
type Workdir interface {
	Workdir() string
	SetWorkdir(path string) (string, error)
}

// HandleGetWorkdir reports the directory commands without a cwd run in.
func HandleGetWorkdir(w Workdir) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, datatypes.WorkdirResponse{
			Success: true,
			Cwd:     w.Workdir(),
			Message: "Current working directory",
		})
	}
}

// HandleChangeWorkdir changes that directory. Relative paths resolve against
// the current one.
func HandleChangeWorkdir(w Workdir) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ChangeDirRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.WorkdirResponse{
				Success: false,
				Error:   "Invalid request body",
			})
			return
		}

		cwd, err := w.SetWorkdir(req.Path)
		if err != nil {
			c.JSON(datatypes.HTTPStatus(err), datatypes.WorkdirResponse{
				Success: false,
				Cwd:     w.Workdir(),
				Error:   err.Error(),
			})
			return
		}

		slog.Info("working directory changed", "cwd", cwd)
		c.JSON(http.StatusOK, datatypes.WorkdirResponse{
			Success: true,
			Cwd:     cwd,
			Message: "Changed directory to " + cwd,
		})
	}
}
