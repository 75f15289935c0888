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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/DeployHelper/cmd/deployhelper/config"
	"github.com/AleutianAI/DeployHelper/services/relay/contentstore"
	"github.com/AleutianAI/DeployHelper/services/relay/server"
)

func newAuthCmd(opts *globalOptions) *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Inspect the content store credential",
	}
	authCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Resolve the configured credential and verify it against the store",
		Long: `Resolve the credential the server would use. For the github store the
token is also checked against the API and the authenticated login is shown.
The token itself is never printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			p := opts.printer(cmd)

			creds, err := server.NewCredentials(ctx, cfg.Credentials)
			if err != nil {
				return err
			}
			if creds == nil {
				return errors.New("no credential source is configured")
			}

			if cfg.Store.Backend == config.BackendGitHub {
				backend, err := contentstore.NewGitHubBackend(contentstore.GitHubConfig{
					Owner:   cfg.Store.GitHub.Owner,
					Repo:    cfg.Store.GitHub.Repo,
					Branch:  cfg.Store.GitHub.Branch,
					BaseURL: cfg.Store.GitHub.BaseURL,
				}, creds)
				if err != nil {
					return err
				}
				var login string
				err = p.WithSpinner("Checking the GitHub token", func() error {
					login, err = backend.Whoami(ctx)
					return err
				})
				if err != nil {
					return err
				}
				p.Success(fmt.Sprintf("Authenticated as %s", login))
				return nil
			}

			if _, err := creds.Token(ctx); err != nil {
				return fmt.Errorf("credential source %s: %w", cfg.Credentials.Source, err)
			}
			p.Success(fmt.Sprintf("Credential from %s resolved", cfg.Credentials.Source))
			return nil
		},
	})
	return authCmd
}
