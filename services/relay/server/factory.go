// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"fmt"
	"os"

	"github.com/AleutianAI/DeployHelper/cmd/deployhelper/config"
	"github.com/AleutianAI/DeployHelper/services/relay/contentstore"
	"github.com/AleutianAI/DeployHelper/services/relay/credentials"
)

// NewCredentials builds the provider named by cfg.Source. The "none" source
// returns a nil provider.
func NewCredentials(ctx context.Context, cfg config.CredentialsConfig) (credentials.Provider, error) {
	switch cfg.Source {
	case config.SourceNone, "":
		return nil, nil
	case config.SourceEnv:
		return credentials.EnvProvider{Var: cfg.EnvVar}, nil
	case config.SourceStatic:
		data, err := os.ReadFile(cfg.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read the token file: %w", err)
		}
		p, err := credentials.NewStaticProviderBytes(data)
		if err != nil {
			return nil, fmt.Errorf("token file %s: %w", cfg.TokenFile, err)
		}
		return p, nil
	case config.SourceSecretManager:
		return credentials.NewSecretManagerProvider(ctx, cfg.SecretName)
	default:
		return nil, fmt.Errorf("unknown credential source %q", cfg.Source)
	}
}

// NewBackend opens the store backend named by cfg.Backend. A GCS backend
// must be closed by the caller.
func NewBackend(ctx context.Context, cfg config.StoreConfig, creds credentials.Provider) (contentstore.Backend, error) {
	switch cfg.Backend {
	case config.BackendGitHub:
		return contentstore.NewGitHubBackend(contentstore.GitHubConfig{
			Owner:   cfg.GitHub.Owner,
			Repo:    cfg.GitHub.Repo,
			Branch:  cfg.GitHub.Branch,
			BaseURL: cfg.GitHub.BaseURL,
		}, creds)
	case config.BackendGCS:
		return contentstore.NewGCSBackend(ctx, contentstore.GCSConfig{
			Bucket:          cfg.GCS.Bucket,
			Prefix:          cfg.GCS.Prefix,
			CredentialsFile: cfg.GCS.CredentialsFile,
		})
	case config.BackendLocal, "":
		return contentstore.NewLocalBackend(cfg.Local.Root)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
