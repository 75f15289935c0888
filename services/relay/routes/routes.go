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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/DeployHelper/services/relay/credentials"
	"github.com/AleutianAI/DeployHelper/services/relay/handlers"
	"github.com/AleutianAI/DeployHelper/services/relay/middleware"
)

// Deps are the collaborators the API routes call into.
type Deps struct {
	Deployer  handlers.Deployer
	Processes handlers.Processes
	Workdir   handlers.Workdir

	// Metrics serves /metrics when set (promhttp.HandlerFor).
	Metrics http.Handler

	// APIToken guards /v1 and the legacy mutation routes when set.
	APIToken credentials.Provider
}

// SetupRoutes registers the HTTP API on router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	auth := middleware.TokenAuth(deps.APIToken)

	// Paths the original console client calls.
	router.GET("/cwd", auth, handlers.HandleGetWorkdir(deps.Workdir))
	router.POST("/cd", auth, handlers.HandleChangeWorkdir(deps.Workdir))
	router.POST("/process-code", auth, handlers.HandleDeploy(deps.Deployer))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(auth)
	{
		v1.POST("/deploy", handlers.HandleDeploy(deps.Deployer))
		v1.POST("/classify", handlers.HandleClassify())

		processes := v1.Group("/processes")
		{
			processes.GET("", handlers.HandleProcessStatus(deps.Processes))
			processes.POST("/start", handlers.HandleProcessAction(deps.Processes, handlers.ActionStart))
			processes.POST("/stop", handlers.HandleProcessAction(deps.Processes, handlers.ActionStop))
			processes.POST("/restart", handlers.HandleProcessAction(deps.Processes, handlers.ActionRestart))
		}
	}
}

// SetupRelayRoutes serves the websocket relay at "/" and "/ws".
func SetupRelayRoutes(router *gin.Engine, relay http.Handler) {
	router.GET("/", gin.WrapH(relay))
	router.GET("/ws", gin.WrapH(relay))
	router.GET("/health", handlers.HealthCheck)
}
