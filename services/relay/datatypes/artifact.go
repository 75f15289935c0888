// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// SubmittedArtifact is the unit handed to the deployment orchestrator.
type SubmittedArtifact struct {
	Code                  string `json:"code" validate:"required"`
	FileName              string `json:"fileName" validate:"required"`
	Path                  string `json:"path" validate:"required"`
	RequiresServerRestart bool   `json:"requiresServerRestart"`
}

// DeployRequest is the body of POST /v1/deploy. FileName, Path and
// RequiresServerRestart are optional; the classifier fills whatever is absent.
type DeployRequest struct {
	Code                  string `json:"code" binding:"required"`
	FileName              string `json:"fileName,omitempty"`
	Path                  string `json:"path,omitempty"`
	RequiresServerRestart *bool  `json:"requiresServerRestart,omitempty"`
}

// DeployResponse is returned by the deployment submission endpoint.
type DeployResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	ResourceVersion string `json:"resourceVersion,omitempty"`
	Kind            Kind   `json:"kind,omitempty"`
	Status          int    `json:"status,omitempty"`
}

// ClassifyRequest is the body of POST /v1/classify.
type ClassifyRequest struct {
	Code string `json:"code" binding:"required"`
}

// ClassifyResponse mirrors a classification result on the wire.
type ClassifyResponse struct {
	FileType              string `json:"fileType"`
	FileName              string `json:"fileName"`
	Path                  string `json:"path"`
	RequiresServerRestart bool   `json:"requiresServerRestart"`
}

// ProcessStatus describes one managed process slot.
type ProcessStatus struct {
	Name      string `json:"name"`
	Running   bool   `json:"running"`
	Pid       int    `json:"pid,omitempty"`
	StartedAt int64  `json:"startedAt,omitempty"`
}

// ProcessActionResponse is returned by the process control endpoints.
type ProcessActionResponse struct {
	Output    string          `json:"output"`
	Processes []ProcessStatus `json:"processes"`
	Error     string          `json:"error,omitempty"`
}

// WorkdirResponse answers GET /cwd and POST /cd.
type WorkdirResponse struct {
	Success bool   `json:"success"`
	Cwd     string `json:"cwd,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ChangeDirRequest is the body of POST /cd.
type ChangeDirRequest struct {
	Path string `json:"path" binding:"required"`
}
