// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the wire envelopes and error kinds shared by the
// relay, the deployment pipeline and the HTTP surface.
package datatypes

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound message types (client to server).
const (
	MessageTypeCommand = "command"
	MessageTypeCancel  = "cancel"
)

// Outbound message types (server to client).
const (
	MessageTypeConnected = "connected"
	MessageTypeOutput    = "output"
	MessageTypeError     = "error"
)

// Lifecycle verbs are reserved command strings handled by the relay itself
// instead of being passed to a shell.
const (
	VerbStartServers   = "start-servers"
	VerbStopServers    = "stop-servers"
	VerbRestartServers = "restart-servers"
	VerbFirebaseDeploy = "firebase-deploy"
)

// FirebaseDeployLabel is the command label reported for VerbFirebaseDeploy.
const FirebaseDeployLabel = "firebase deploy"

// IsLifecycleVerb reports whether command is one of the reserved verbs.
func IsLifecycleVerb(command string) bool {
	switch command {
	case VerbStartServers, VerbStopServers, VerbRestartServers, VerbFirebaseDeploy:
		return true
	}
	return false
}

// CommandMessage is the envelope a console client sends over the relay.
type CommandMessage struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Cwd     string `json:"cwd,omitempty"`
}

// OutputMessage is broadcast from the relay to connected sessions.
// Error is set only when the command failed.
type OutputMessage struct {
	Type      string  `json:"type"`
	Output    string  `json:"output,omitempty"`
	Command   string  `json:"command,omitempty"`
	Error     *string `json:"error,omitempty"`
	SessionID string  `json:"sessionId,omitempty"`
	Message   string  `json:"message,omitempty"`
}

// NewOutput builds an output message; a non-nil err fills the error field.
func NewOutput(command, output string, err error) OutputMessage {
	msg := OutputMessage{
		Type:    MessageTypeOutput,
		Output:  output,
		Command: command,
	}
	if err != nil {
		s := err.Error()
		msg.Error = &s
	}
	return msg
}

// NewProgress builds an output message with no originating command, used for
// deployment progress lines.
func NewProgress(format string, args ...any) OutputMessage {
	return OutputMessage{
		Type:   MessageTypeOutput,
		Output: fmt.Sprintf(format, args...),
	}
}

// NewConnected builds the greeting sent when a session opens.
func NewConnected(sessionID string) OutputMessage {
	return OutputMessage{
		Type:      MessageTypeConnected,
		SessionID: sessionID,
		Message:   "Terminal connected successfully",
	}
}

// NewErrorMessage builds an error envelope addressed to a single session.
func NewErrorMessage(message string) OutputMessage {
	return OutputMessage{
		Type:    MessageTypeError,
		Message: message,
	}
}

// ParseCommandMessage decodes and validates an inbound payload.
//
// Anything that is not a JSON object with a known type and, for command and
// cancel messages, a non-blank command yields a ProtocolError.
func ParseCommandMessage(payload []byte) (CommandMessage, error) {
	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return CommandMessage{}, NewError(KindProtocol, "parse message", "malformed message", err)
	}
	switch msg.Type {
	case MessageTypeCommand, MessageTypeCancel:
	default:
		return CommandMessage{}, NewError(KindProtocol, "parse message",
			fmt.Sprintf("unknown message type %q", msg.Type), nil)
	}
	if strings.TrimSpace(msg.Command) == "" {
		return CommandMessage{}, NewError(KindProtocol, "parse message", "empty command", nil)
	}
	return msg, nil
}
