// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"strings"
	"sync"
)

// maxLineBytes caps a buffered partial line. Longer lines are emitted in
// pieces.
const maxLineBytes = 64 * 1024

// LineWriter is an io.Writer that logs each complete line it receives.
//
// # Description
//
// Child processes write arbitrary chunks to their stdout and stderr. The
// writer buffers until a newline, strips the trailing "\r\n" or "\n", skips
// blank lines, and logs the rest at the configured level with a "stream"
// attribute.
//
// # Examples
//
//	stdout := logging.NewLineWriter(logger.With("process", "frontend"), logging.LevelInfo, "stdout")
//	defer stdout.Flush()
//	cmd.Stdout = stdout
//
// # Thread Safety
//
// Write and Flush may be called from multiple goroutines.
type LineWriter struct {
	logger *Logger
	level  Level
	stream string

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewLineWriter returns a LineWriter logging to logger at level.
func NewLineWriter(logger *Logger, level Level, stream string) *LineWriter {
	return &LineWriter{logger: logger, level: level, stream: stream}
}

// Write implements io.Writer. It never fails.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		data := w.buf.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			if w.buf.Len() >= maxLineBytes {
				w.emit(string(w.buf.Next(maxLineBytes)))
				continue
			}
			break
		}
		line := string(data[:i])
		w.buf.Next(i + 1)
		w.emit(line)
	}
	return len(p), nil
}

// Flush logs any buffered partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *LineWriter) emit(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	switch w.level {
	case LevelDebug:
		w.logger.Debug(line, "stream", w.stream)
	case LevelWarn:
		w.logger.Warn(line, "stream", w.stream)
	case LevelError:
		w.logger.Error(line, "stream", w.stream)
	default:
		w.logger.Info(line, "stream", w.stream)
	}
}
