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
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/DeployHelper/services/relay/classifier"
	"github.com/AleutianAI/DeployHelper/services/relay/datatypes"
)

func newDeployCmd(opts *globalOptions) *cobra.Command {
	var (
		fileName string
		path     string
		restart  bool
	)

	cmd := &cobra.Command{
		Use:   "deploy [file|-]",
		Short: "Submit code for deployment (reads stdin without a file)",
		Long: `Submit code for deployment. Destination and restart behavior come from
the classifier unless --file-name, --path or --restart are given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readSource(cmd, args)
			if err != nil {
				return err
			}
			req := datatypes.DeployRequest{Code: code, FileName: fileName, Path: path}
			if cmd.Flags().Changed("restart") {
				req.RequiresServerRestart = &restart
			}

			client, err := opts.client()
			if err != nil {
				return err
			}
			p := opts.printer(cmd)

			var resp datatypes.DeployResponse
			err = p.WithSpinner("Deploying", func() error {
				var derr error
				resp, derr = client.Deploy(cmd.Context(), req)
				return derr
			})
			if err != nil {
				return err
			}
			p.Info(resp.Message)
			if resp.ResourceVersion != "" {
				p.KeyValues(map[string]string{"version": resp.ResourceVersion})
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fileName, "file-name", "", "file name reported in progress lines")
	cmd.Flags().StringVar(&path, "path", "", "destination path in the content store")
	cmd.Flags().BoolVar(&restart, "restart", false, "cycle the servers around the write (default from classifier)")
	return cmd
}

func newClassifyCmd(opts *globalOptions) *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "classify [file|-]",
		Short: "Show where code would be deployed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readSource(cmd, args)
			if err != nil {
				return err
			}

			var resp datatypes.ClassifyResponse
			if remote {
				client, err := opts.client()
				if err != nil {
					return err
				}
				if resp, err = client.Classify(cmd.Context(), code); err != nil {
					return err
				}
			} else {
				cls := classifier.Classify(code)
				resp = datatypes.ClassifyResponse{
					FileType:              string(cls.FileType),
					FileName:              cls.FileName,
					Path:                  cls.Path,
					RequiresServerRestart: cls.RequiresServerRestart,
				}
			}

			p := opts.printer(cmd)
			if resp.Path == "" {
				p.Warning(fmt.Sprintf("No destination for %s code; pass --path to deploy it", resp.FileType))
			}
			p.KeyValues(map[string]string{
				"fileType": resp.FileType,
				"fileName": resp.FileName,
				"path":     resp.Path,
				"restart":  strconv.FormatBool(resp.RequiresServerRestart),
			})
			return nil
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "ask the running server instead of classifying locally")
	return cmd
}

// readSource reads the named file, or stdin for "-" or no argument.
func readSource(cmd *cobra.Command, args []string) (string, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", fmt.Errorf("failed to read code: %w", err)
	}
	if len(data) == 0 {
		return "", errors.New("no code to submit")
	}
	return string(data), nil
}
