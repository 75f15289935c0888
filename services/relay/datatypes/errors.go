// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies failures so that callers (HTTP handlers, the relay) can map
// them to a response without string matching.
type Kind string

const (
	KindValidation   Kind = "ValidationError"
	KindProcess      Kind = "ProcessError"
	KindShell        Kind = "ShellExecutionError"
	KindContentStore Kind = "ContentStoreError"
	KindProtocol     Kind = "ProtocolError"
	KindConnection   Kind = "ConnectionError"
)

// Error is the typed error carried through the pipeline.
//
// Status is only meaningful for KindContentStore, where it holds the upstream
// HTTP status (0 when the upstream never answered).
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Err     error
}

// NewError builds a kinded error. err may be nil.
func NewError(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// NewContentStoreError builds a ContentStoreError carrying upstream status.
func NewContentStoreError(op string, status int, message string, err error) *Error {
	return &Error{Kind: KindContentStore, Op: op, Status: status, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error to the status the HTTP surface responds with.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation, KindProtocol:
		return http.StatusBadRequest
	case KindContentStore:
		if e.Status >= 400 && e.Status < 600 {
			return e.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
