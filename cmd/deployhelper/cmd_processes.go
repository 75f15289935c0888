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
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/DeployHelper/pkg/ux"
	"github.com/AleutianAI/DeployHelper/services/relay/datatypes"
	"github.com/AleutianAI/DeployHelper/services/relay/handlers"
)

func newProcessesCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "processes",
		Aliases: []string{"ps"},
		Short:   "List the supervised frontend and backend processes",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			procs, err := client.Processes(cmd.Context())
			if err != nil {
				return err
			}
			printProcesses(opts.printer(cmd), procs)
			return nil
		},
	}

	for _, action := range []string{handlers.ActionStart, handlers.ActionStop, handlers.ActionRestart} {
		cmd.AddCommand(newProcessActionCmd(opts, action))
	}
	return cmd
}

func newProcessActionCmd(opts *globalOptions, action string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: strings.ToUpper(action[:1]) + action[1:] + " all supervised processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			p := opts.printer(cmd)
			resp, err := client.ProcessAction(cmd.Context(), action)
			for _, line := range nonEmptyLines(resp.Output) {
				p.Info(line)
			}
			if len(resp.Processes) > 0 {
				printProcesses(p, resp.Processes)
			}
			return err
		},
	}
}

func printProcesses(p *ux.Printer, procs []datatypes.ProcessStatus) {
	for _, proc := range procs {
		if p.Level == ux.PersonalityMachine {
			fmt.Fprintf(p.Out, "%s\t%t\t%d\n", proc.Name, proc.Running, proc.Pid)
			continue
		}
		if !proc.Running {
			fmt.Fprintf(p.Out, "%s %s %s\n", p.Style(ux.Styles.Muted, string(ux.IconPending)), proc.Name, p.Style(ux.Styles.Muted, "stopped"))
			continue
		}
		since := ""
		if proc.StartedAt > 0 {
			since = ", up " + time.Since(time.Unix(proc.StartedAt, 0)).Round(time.Second).String()
		}
		detail := fmt.Sprintf("(pid %d%s)", proc.Pid, since)
		fmt.Fprintf(p.Out, "%s %s %s\n", p.Style(ux.Styles.Success, string(ux.IconRunning)), proc.Name, p.Style(ux.Styles.Muted, detail))
	}
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
