// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// wsWriter is the write side of a websocket connection.
// *websocket.Conn satisfies it.
type wsWriter interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Session is one connected console client.
//
// # Thread Safety
//
// send serializes writers; gorilla connections allow only one concurrent
// writer. WriteControl and Close may run concurrently with send.
type Session struct {
	id        string
	conn      wsWriter
	limiter   *rate.Limiter
	createdAt time.Time

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newSession(id string, conn wsWriter, limiter *rate.Limiter) *Session {
	return &Session{
		id:        id,
		conn:      conn,
		limiter:   limiter,
		createdAt: time.Now(),
	}
}

// ID returns the session identifier sent in the connected greeting.
func (s *Session) ID() string {
	return s.id
}

// send writes v as one JSON text frame.
func (s *Session) send(v any, timeout time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	return s.conn.WriteJSON(v)
}

func (s *Session) ping(timeout time.Duration) error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

// allow reports whether the session may run another command now.
func (s *Session) allow() bool {
	return s.limiter == nil || s.limiter.Allow()
}

// close sends a close frame with code and closes the connection once.
func (s *Session) close(code int, text string) {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, text)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}
