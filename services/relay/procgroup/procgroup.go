// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package procgroup starts commands in their own process group and signals
// the whole group, so build tools and dev servers forked by a child are
// stopped with it.
//
// On platforms without process groups only the direct child is signalled.
package procgroup

import "os/exec"

// Prepare configures cmd to start in a new process group. Call before Start.
func Prepare(cmd *exec.Cmd) {
	setProcessGroup(cmd)
}

// Terminate asks the group led by cmd's process to exit.
func Terminate(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return signalGroup(cmd.Process, false)
}

// Kill forcibly ends the group led by cmd's process.
func Kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return signalGroup(cmd.Process, true)
}
