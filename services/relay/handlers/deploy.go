// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the relay's HTTP API.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/DeployHelper/services/relay/classifier"
	"github.com/AleutianAI/DeployHelper/services/relay/datatypes"
	"github.com/AleutianAI/DeployHelper/services/relay/deploy"
)

// Deployer runs one deployment. *deploy.Orchestrator satisfies it.
type Deployer interface {
	Deploy(ctx context.Context, artifact datatypes.SubmittedArtifact) (*deploy.Result, error)
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleDeploy accepts pasted code and deploys it.
//
// # Description
//
// The body is a datatypes.DeployRequest. Any of fileName, path and
// requiresServerRestart left out is taken from classifier.Classify(code). A
// fileName neither given nor classified is the last element of path.
// Failures answer with the status datatypes.HTTPStatus assigns to the error
// and a body naming its kind.
//
// # Examples
//
//	POST /v1/deploy
//	{"code": "import React from 'react'\nconst Home = () => null"}
//
//	200 {"success": true, "message": "Successfully processed Home.js", "resourceVersion": "3f2a..."}
//	409 {"success": false, "kind": "ContentStoreError", "message": "...", "status": 409}
func HandleDeploy(d Deployer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.DeployRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.DeployResponse{
				Success: false,
				Kind:    datatypes.KindValidation,
				Message: "invalid request body: " + err.Error(),
			})
			return
		}

		artifact := resolveArtifact(req)
		slog.Info("deployment submitted", "file_name", artifact.FileName, "path", artifact.Path,
			"restart", artifact.RequiresServerRestart)

		res, err := d.Deploy(c.Request.Context(), artifact)
		if err != nil {
			status := datatypes.HTTPStatus(err)
			resp := datatypes.DeployResponse{
				Success: false,
				Kind:    datatypes.KindOf(err),
				Message: err.Error(),
			}
			if resp.Kind == datatypes.KindContentStore {
				resp.Status = status
			}
			c.JSON(status, resp)
			return
		}

		c.JSON(http.StatusOK, datatypes.DeployResponse{
			Success:         true,
			Message:         fmt.Sprintf("Successfully processed %s", res.FileName),
			ResourceVersion: res.ResourceVersion,
		})
	}
}

// resolveArtifact fills what the request left out from the classifier.
func resolveArtifact(req datatypes.DeployRequest) datatypes.SubmittedArtifact {
	cls := classifier.Classify(req.Code)

	artifact := datatypes.SubmittedArtifact{
		Code:                  req.Code,
		FileName:              req.FileName,
		Path:                  req.Path,
		RequiresServerRestart: cls.RequiresServerRestart,
	}
	if artifact.FileName == "" {
		artifact.FileName = cls.FileName
	}
	if artifact.Path == "" {
		artifact.Path = cls.Path
	}
	if artifact.FileName == "" && artifact.Path != "" {
		artifact.FileName = path.Base(artifact.Path)
	}
	if req.RequiresServerRestart != nil {
		artifact.RequiresServerRestart = *req.RequiresServerRestart
	}
	return artifact
}

// HandleClassify returns the classification of the posted code.
func HandleClassify() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ClassifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		cls := classifier.Classify(req.Code)
		c.JSON(http.StatusOK, datatypes.ClassifyResponse{
			FileType:              string(cls.FileType),
			FileName:              cls.FileName,
			Path:                  cls.Path,
			RequiresServerRestart: cls.RequiresServerRestart,
		})
	}
}
