// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides gin middleware for the relay's HTTP API.
//
// # Authentication Flow
//
//	Request
//	   │
//	   ▼
//	TokenAuth
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► provider.Token(ctx) for the expected value
//	   │
//	   └─► Constant-time compare, 401 on mismatch
//	           │
//	           ▼
//	       Handler
//
// With a nil provider every request passes, which is the default for a
// relay bound to localhost.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/DeployHelper/services/relay/credentials"
)

// authenticatedKey marks a request that presented a valid token.
const authenticatedKey = "deployhelper_authenticated"

// TokenAuth creates a middleware that requires the bearer token p hands out.
//
// # Description
//
// The expected token is fetched from p on every request so rotation takes
// effect without a restart. Neither value is logged.
//
// # Inputs
//
//   - p: Source of the expected token. nil disables the check.
//
// # Outputs
//
//   - gin.HandlerFunc: 401 on a missing or wrong token, 503 when p fails.
//
// # Examples
//
//	v1 := router.Group("/v1")
//	v1.Use(middleware.TokenAuth(credentials.EnvProvider{Var: "DEPLOYHELPER_API_TOKEN"}))
func TokenAuth(p credentials.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p == nil {
			c.Next()
			return
		}

		expected, err := p.Token(c.Request.Context())
		if err != nil {
			slog.Error("API token unavailable", "error", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "authentication unavailable"})
			return
		}

		presented := extractBearerToken(c.GetHeader("Authorization"))
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}

		c.Set(authenticatedKey, true)
		c.Next()
	}
}

// Authenticated reports whether TokenAuth accepted this request.
func Authenticated(c *gin.Context) bool {
	return c.GetBool(authenticatedKey)
}

// extractBearerToken returns the token from "Bearer <token>", or "".
func extractBearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
