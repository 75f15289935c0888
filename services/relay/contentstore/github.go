// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package contentstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v66/github"

	"github.com/AleutianAI/DeployHelper/services/relay/credentials"
	"github.com/AleutianAI/DeployHelper/services/relay/datatypes"
)

// GitHubConfig fixes the repository and branch every path is resolved in.
type GitHubConfig struct {
	Owner  string
	Repo   string
	Branch string

	// BaseURL overrides the API root (GitHub Enterprise, tests).
	BaseURL string
}

// GitHubBackend stores files through the repository contents API.
type GitHubBackend struct {
	client *github.Client
	cfg    GitHubConfig
}

// NewGitHubBackend builds a backend that authenticates every request with a
// token taken from creds at request time.
func NewGitHubBackend(cfg GitHubConfig, creds credentials.Provider) (*GitHubBackend, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github backend: owner and repo are required")
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}

	var httpClient *http.Client
	if creds != nil {
		httpClient = credentials.NewHTTPClient(creds)
	}
	client := github.NewClient(httpClient)

	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("github backend: invalid base url %q: %w", cfg.BaseURL, err)
		}
		client.BaseURL = u
	}

	return &GitHubBackend{client: client, cfg: cfg}, nil
}

// Name implements Backend.
func (b *GitHubBackend) Name() string {
	return "github"
}

// Read fetches the file at path on the configured branch.
func (b *GitHubBackend) Read(ctx context.Context, path string) (RemoteFile, error) {
	file, _, resp, err := b.client.Repositories.GetContents(ctx, b.cfg.Owner, b.cfg.Repo, path,
		&github.RepositoryContentGetOptions{Ref: b.cfg.Branch})
	if err != nil {
		if statusOf(resp, err) == http.StatusNotFound {
			return RemoteFile{}, ErrNotFound
		}
		return RemoteFile{}, githubError("read", resp, err)
	}
	if file == nil {
		return RemoteFile{}, datatypes.NewContentStoreError("read", http.StatusConflict,
			fmt.Sprintf("%s is a directory", path), nil)
	}

	content, err := file.GetContent()
	if err != nil {
		return RemoteFile{}, datatypes.NewContentStoreError("read", 0, "decode content", err)
	}
	return RemoteFile{
		Path:    path,
		Version: file.GetSHA(),
		Content: []byte(content),
	}, nil
}

// Write creates the file when precondition is empty, otherwise updates the
// exact blob identified by precondition.
func (b *GitHubBackend) Write(ctx context.Context, path string, content []byte, message, precondition string) (string, error) {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: content,
		Branch:  github.String(b.cfg.Branch),
	}

	var (
		result *github.RepositoryContentResponse
		resp   *github.Response
		err    error
	)
	if precondition == "" {
		result, resp, err = b.client.Repositories.CreateFile(ctx, b.cfg.Owner, b.cfg.Repo, path, opts)
	} else {
		opts.SHA = github.String(precondition)
		result, resp, err = b.client.Repositories.UpdateFile(ctx, b.cfg.Owner, b.cfg.Repo, path, opts)
	}
	if err != nil {
		return "", githubError("write", resp, err)
	}
	if result == nil || result.Content == nil {
		return "", datatypes.NewContentStoreError("write", 0, "response carried no content", nil)
	}
	return result.Content.GetSHA(), nil
}

// Whoami returns the login the credential authenticates as.
func (b *GitHubBackend) Whoami(ctx context.Context) (string, error) {
	user, resp, err := b.client.Users.Get(ctx, "")
	if err != nil {
		return "", githubError("authenticate", resp, err)
	}
	return user.GetLogin(), nil
}

func statusOf(resp *github.Response, err error) int {
	if resp != nil && resp.Response != nil {
		return resp.StatusCode
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode
	}
	return 0
}

// githubError converts an API failure into a ContentStoreError with the
// upstream status and message. GitHub answers a stale SHA with 409 and a
// missing SHA for an existing file with 422.
func githubError(op string, resp *github.Response, err error) error {
	status := statusOf(resp, err)
	msg := err.Error()
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Message != "" {
		msg = ghErr.Message
	}
	return datatypes.NewContentStoreError(op, status, msg, err)
}
