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
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/DeployHelper/cmd/deployhelper/config"
	"github.com/AleutianAI/DeployHelper/pkg/ux"
	"github.com/AleutianAI/DeployHelper/services/relay/credentials"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	apiURL     string
	relayURL   string
	tokenEnv   string
	output     string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "deployhelper",
		Short: "Deploy pasted code into a local project and drive its dev servers",
		Long: `deployhelper writes submitted code to a content store, restarts the
project's frontend and backend when needed, and relays shell commands from
connected consoles.`,
		Version:      Version,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default ~/.deployhelper/deployhelper.yaml)")
	flags.StringVar(&opts.apiURL, "api", "", "API base URL (default from config, e.g. http://localhost:3001)")
	flags.StringVar(&opts.relayURL, "relay", "", "relay websocket URL (default from config, e.g. ws://localhost:8081/ws)")
	flags.StringVar(&opts.tokenEnv, "token-env", "", "environment variable holding the API bearer token")
	flags.StringVarP(&opts.output, "output", "o", "", "output style: full, standard, minimal, machine")

	root.AddCommand(
		newServeCmd(opts),
		newDeployCmd(opts),
		newClassifyCmd(opts),
		newProcessesCmd(opts),
		newConsoleCmd(opts),
		newExecCmd(opts),
		newAuthCmd(opts),
		newMCPCmd(opts),
	)
	return root
}

// printer styles output for cmd's stdout.
func (o *globalOptions) printer(cmd *cobra.Command) *ux.Printer {
	level := ux.PersonalityMachine
	if o.output != "" {
		level = ux.ParsePersonalityLevel(o.output)
	} else if cmd.OutOrStdout() == os.Stdout {
		level = ux.DetectPersonality(os.Stdout)
	}
	return ux.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), level)
}

// endpoints resolves the API and relay URLs and the token variable. The
// config file is only read when a flag leaves something unset.
func (o *globalOptions) endpoints() (apiURL, relayURL, tokenEnv string, err error) {
	apiURL, relayURL, tokenEnv = o.apiURL, o.relayURL, o.tokenEnv
	if apiURL != "" && relayURL != "" && o.configPath == "" {
		return apiURL, relayURL, tokenEnv, nil
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return "", "", "", err
	}
	if apiURL == "" {
		apiURL = cfg.Server.APIURL()
	}
	if relayURL == "" {
		relayURL = cfg.Server.RelayURL()
	}
	if tokenEnv == "" {
		tokenEnv = cfg.Server.APITokenEnv
	}
	return apiURL, relayURL, tokenEnv, nil
}

// client builds an API client for the resolved endpoint.
func (o *globalOptions) client() (*apiClient, error) {
	apiURL, _, tokenEnv, err := o.endpoints()
	if err != nil {
		return nil, err
	}
	var token credentials.Provider
	if tokenEnv != "" {
		token = credentials.EnvProvider{Var: tokenEnv}
	}
	return newAPIClient(apiURL, token), nil
}
