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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/DeployHelper/pkg/ux"
	"github.com/AleutianAI/DeployHelper/services/relay/datatypes"
)

func newConsoleCmd(opts *globalOptions) *cobra.Command {
	var cwd string

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Interactive relay console; every session sees every result",
		Long: `Open an interactive session on the relay. Each line is run on the
server and results from every session are shown as they arrive.

Special lines:
  cancel <command>   cancel this session's runs of <command>
  exit, quit         leave the console`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, relayURL, _, err := opts.endpoints()
			if err != nil {
				return err
			}
			rc, err := dialRelay(cmd.Context(), relayURL)
			if err != nil {
				return err
			}
			defer rc.Close()
			return runConsole(cmd.Context(), rc, cmd.InOrStdin(), opts.printer(cmd), cwd)
		},
	}
	cmd.Flags().StringVar(&cwd, "cwd", "", "directory commands run in (default: the server's)")
	return cmd
}

// runConsole pumps stdin lines to the relay and relay messages to p until
// stdin ends, the user exits, or the relay closes.
func runConsole(ctx context.Context, rc *relayClient, in io.Reader, p *ux.Printer, cwd string) error {
	p.Title("deployhelper console")
	fmt.Fprint(p.Out, renderMessage(p, datatypes.NewConnected(rc.SessionID())))

	readErr := make(chan error, 1)
	go func() {
		for {
			msg, err := rc.Next()
			if err != nil {
				readErr <- err
				return
			}
			fmt.Fprint(p.Out, renderMessage(p, msg))
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.Warning("relay closed the session")
				return nil
			}
			return fmt.Errorf("relay connection lost: %w", err)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
				continue
			case line == "exit" || line == "quit":
				return nil
			case strings.HasPrefix(line, "cancel "):
				if err := rc.Cancel(strings.TrimSpace(strings.TrimPrefix(line, "cancel "))); err != nil {
					return err
				}
			default:
				if err := rc.Send(line, cwd); err != nil {
					return err
				}
			}
		}
	}
}

func newExecCmd(opts *globalOptions) *cobra.Command {
	var (
		cwd     string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "exec <command...>",
		Short: "Run one command through the relay and print its result",
		Long: `Run one command through the relay and wait for its result. Lifecycle
verbs (start-servers, stop-servers, restart-servers, firebase-deploy) work
as they do in the console. Exits non-zero when the command fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, relayURL, _, err := opts.endpoints()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			rc, err := dialRelay(ctx, relayURL)
			if err != nil {
				return err
			}
			defer rc.Close()

			msg, err := execOne(ctx, rc, strings.Join(args, " "), cwd)
			if err != nil {
				return err
			}
			p := opts.printer(cmd)
			fmt.Fprint(p.Out, renderMessage(p, msg))
			if msg.Error != nil {
				return errors.New(*msg.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cwd, "cwd", "", "directory the command runs in (default: the server's)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up waiting after this long (0 waits forever)")
	return cmd
}

// execOne sends command and returns the first result reported for it. Other
// sessions' broadcasts and progress lines are skipped.
func execOne(ctx context.Context, rc *relayClient, command, cwd string) (datatypes.OutputMessage, error) {
	if err := rc.Send(command, cwd); err != nil {
		return datatypes.OutputMessage{}, err
	}

	type result struct {
		msg datatypes.OutputMessage
		err error
	}
	want := commandLabel(command)
	done := make(chan result, 1)
	go func() {
		for {
			msg, err := rc.Next()
			if err != nil {
				done <- result{err: err}
				return
			}
			switch {
			case msg.Type == datatypes.MessageTypeError:
				done <- result{err: errors.New(msg.Message)}
				return
			case msg.Type == datatypes.MessageTypeOutput && msg.Command == want:
				done <- result{msg: msg}
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		// Unblocks the reader goroutine.
		rc.conn.Close()
		return datatypes.OutputMessage{}, fmt.Errorf("waiting for %q: %w", command, ctx.Err())
	case r := <-done:
		return r.msg, r.err
	}
}
