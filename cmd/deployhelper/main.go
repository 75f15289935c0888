// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command deployhelper runs the deploy helper server and talks to it.
//
// # Usage
//
//	# Run the API (:3001) and the websocket relay (:8081)
//	deployhelper serve
//
//	# Deploy a file, letting the classifier pick its destination
//	deployhelper deploy Home.js
//
//	# Interactive relay console
//	deployhelper console
//
//	# Expose deployment tools to an MCP client over stdio
//	deployhelper mcp
package main

import (
	"os"
)

// Version is stamped at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
