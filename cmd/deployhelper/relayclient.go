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
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/DeployHelper/services/relay/datatypes"
)

const relayWriteTimeout = 10 * time.Second

// relayClient is one console session on the relay.
type relayClient struct {
	conn      *websocket.Conn
	sessionID string

	writeMu sync.Mutex
}

// dialRelay connects and consumes the greeting.
func dialRelay(ctx context.Context, url string) (*relayClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the relay at %s: %w", url, err)
	}

	var hello datatypes.OutputMessage
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("relay greeting: %w", err)
	}
	if hello.Type != datatypes.MessageTypeConnected {
		conn.Close()
		return nil, fmt.Errorf("unexpected relay greeting %q", hello.Type)
	}
	return &relayClient{conn: conn, sessionID: hello.SessionID}, nil
}

// SessionID is the server-assigned session identifier.
func (r *relayClient) SessionID() string { return r.sessionID }

// Send runs command on the server. cwd may be empty.
func (r *relayClient) Send(command, cwd string) error {
	return r.write(datatypes.CommandMessage{Type: datatypes.MessageTypeCommand, Command: command, Cwd: cwd})
}

// Cancel stops this session's runs of command.
func (r *relayClient) Cancel(command string) error {
	return r.write(datatypes.CommandMessage{Type: datatypes.MessageTypeCancel, Command: command})
}

func (r *relayClient) write(msg datatypes.CommandMessage) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.conn.SetWriteDeadline(time.Now().Add(relayWriteTimeout)); err != nil {
		return err
	}
	return r.conn.WriteJSON(msg)
}

// Next blocks for the next message.
func (r *relayClient) Next() (datatypes.OutputMessage, error) {
	var msg datatypes.OutputMessage
	err := r.conn.ReadJSON(&msg)
	return msg, err
}

// Close sends a normal close frame and closes the connection.
func (r *relayClient) Close() error {
	r.writeMu.Lock()
	_ = r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	r.writeMu.Unlock()
	return r.conn.Close()
}

// commandLabel is the Command field the relay reports for a submitted
// command.
func commandLabel(command string) string {
	if command == datatypes.VerbFirebaseDeploy {
		return datatypes.FirebaseDeployLabel
	}
	return command
}
