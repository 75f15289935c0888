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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/DeployHelper/services/relay/credentials"
	"github.com/AleutianAI/DeployHelper/services/relay/datatypes"
)

const defaultAPITimeout = 2 * time.Minute

// apiClient calls the deploy helper HTTP API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

// newAPIClient returns a client for baseURL. A non-nil token is sent as a
// bearer credential on every request.
func newAPIClient(baseURL string, token credentials.Provider) *apiClient {
	client := &http.Client{Timeout: defaultAPITimeout}
	if token != nil {
		client.Transport = &credentials.Transport{Provider: token}
	}
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
	}
}

// apiError is a non-2xx answer from the API.
type apiError struct {
	StatusCode int
	Kind       datatypes.Kind
	Message    string
}

func (e *apiError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Kind, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

// Deploy submits code. The response body is returned for failures too.
func (c *apiClient) Deploy(ctx context.Context, req datatypes.DeployRequest) (datatypes.DeployResponse, error) {
	var resp datatypes.DeployResponse
	status, err := c.do(ctx, http.MethodPost, "/v1/deploy", req, &resp)
	if err != nil {
		return resp, err
	}
	if status/100 != 2 {
		msg := resp.Message
		if msg == "" {
			msg = http.StatusText(status)
		}
		return resp, &apiError{StatusCode: status, Kind: resp.Kind, Message: msg}
	}
	return resp, nil
}

// Classify asks the server where code would be deployed.
func (c *apiClient) Classify(ctx context.Context, code string) (datatypes.ClassifyResponse, error) {
	var resp datatypes.ClassifyResponse
	status, err := c.do(ctx, http.MethodPost, "/v1/classify", datatypes.ClassifyRequest{Code: code}, &resp)
	if err != nil {
		return resp, err
	}
	if status != http.StatusOK {
		return resp, &apiError{StatusCode: status, Message: "classification rejected"}
	}
	return resp, nil
}

type processList struct {
	Processes []datatypes.ProcessStatus `json:"processes"`
}

// Processes lists the supervised processes.
func (c *apiClient) Processes(ctx context.Context) ([]datatypes.ProcessStatus, error) {
	var resp processList
	status, err := c.do(ctx, http.MethodGet, "/v1/processes", nil, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &apiError{StatusCode: status, Message: "process listing failed"}
	}
	return resp.Processes, nil
}

// ProcessAction runs start, stop or restart.
func (c *apiClient) ProcessAction(ctx context.Context, action string) (datatypes.ProcessActionResponse, error) {
	var resp datatypes.ProcessActionResponse
	status, err := c.do(ctx, http.MethodPost, "/v1/processes/"+action, nil, &resp)
	if err != nil {
		return resp, err
	}
	if status != http.StatusOK {
		msg := resp.Error
		if msg == "" {
			msg = http.StatusText(status)
		}
		return resp, &apiError{StatusCode: status, Message: msg}
	}
	return resp, nil
}

// Health checks that the API answers.
func (c *apiClient) Health(ctx context.Context) error {
	status, err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &apiError{StatusCode: status, Message: "unhealthy"}
	}
	return nil
}

// do sends body as JSON and decodes the answer into out whatever its status.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to reach the deploy helper at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return resp.StatusCode, &apiError{StatusCode: resp.StatusCode, Message: "unauthorized, check --token-env"}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response (HTTP %d): %w", resp.StatusCode, err)
		}
	}
	return resp.StatusCode, nil
}
