// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package contentstore writes classified source into a remote versioned store
// without clobbering concurrent writers.
//
// # Protocol
//
// Upsert reads the current object, captures its resource-version token, then
// writes with that token as a precondition. An absent object is created with
// no precondition. The backend rejects the write if the object changed in
// between, and the error is surfaced as a ContentStoreError. There are no
// retries; callers decide whether to try again with a fresh read.
//
// # Observed versions
//
// The client remembers the token of its own last successful write per path.
// If the next read of that path reports anything else, a third party wrote in
// between and the upsert fails with status 409 instead of overwriting. The
// conflict clears the remembered token, so a retry works from a fresh read.
//
// # Backends
//
//   - GitHubBackend: repository contents API, token is the blob SHA.
//   - GCSBackend: Cloud Storage object generation.
//   - LocalBackend: files under a root directory, token is the git blob SHA.
package contentstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/DeployHelper/pkg/validation"
	"github.com/AleutianAI/DeployHelper/services/relay/datatypes"
)

// ErrNotFound is returned by Backend.Read when the object does not exist.
var ErrNotFound = errors.New("object does not exist")

// RemoteFile is the versioned object at a path.
type RemoteFile struct {
	Path    string
	Version string
	Content []byte
}

// Backend is one remote store.
//
// Write with an empty precondition must only succeed if the object does not
// exist. Write with a non-empty precondition must only succeed if the current
// version equals it. Both return the new version token.
type Backend interface {
	Name() string
	Read(ctx context.Context, path string) (RemoteFile, error)
	Write(ctx context.Context, path string, content []byte, message, precondition string) (string, error)
}

// Observer receives the outcome of each store operation. Used for metrics.
type Observer interface {
	ObserveStoreOp(backend, op, outcome string, elapsed time.Duration)
}

// Client runs the read-then-conditional-write protocol over a Backend.
//
// # Thread Safety
//
// Safe for concurrent use. Upserts of the same path from this process are
// serialized; different paths proceed in parallel.
type Client struct {
	backend  Backend
	observer Observer

	mu       sync.Mutex
	pathLock map[string]*sync.Mutex
	observed map[string]string
}

// Option configures a Client.
type Option func(*Client)

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// NewClient wraps backend.
func NewClient(backend Backend, opts ...Option) *Client {
	c := &Client{
		backend:  backend,
		pathLock: make(map[string]*sync.Mutex),
		observed: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Backend returns the wrapped backend's name.
func (c *Client) Backend() string {
	return c.backend.Name()
}

// Get reads the object at path. A missing object is a ContentStoreError with
// status 404.
func (c *Client) Get(ctx context.Context, path string) (RemoteFile, error) {
	path, err := cleanPath(path)
	if err != nil {
		return RemoteFile{}, err
	}
	start := time.Now()
	file, err := c.backend.Read(ctx, path)
	c.observe("read", err, start)
	if errors.Is(err, ErrNotFound) {
		return RemoteFile{}, datatypes.NewContentStoreError("read", http.StatusNotFound,
			fmt.Sprintf("%s does not exist", path), err)
	}
	if err != nil {
		return RemoteFile{}, asStoreError("read", err)
	}
	return file, nil
}

// Upsert creates or updates path with content.
//
// # Outputs
//
//   - string: the resource-version token of the written object.
//   - error: a ContentStoreError on conflict or upstream failure.
func (c *Client) Upsert(ctx context.Context, path string, content []byte, message string) (string, error) {
	path, err := cleanPath(path)
	if err != nil {
		return "", err
	}

	ctx, span := otel.Tracer("deployhelper/contentstore").Start(ctx, "contentstore.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("store.backend", c.backend.Name()),
		attribute.String("store.path", path),
	)

	lock := c.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	version, err := c.upsertLocked(ctx, path, content, message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("store.version", version))
	return version, nil
}

func (c *Client) upsertLocked(ctx context.Context, path string, content []byte, message string) (string, error) {
	start := time.Now()
	current, err := c.backend.Read(ctx, path)
	c.observe("read", err, start)

	var precondition string
	switch {
	case errors.Is(err, ErrNotFound):
		// absent: unconditioned create
	case err != nil:
		return "", asStoreError("read", err)
	default:
		precondition = current.Version
	}

	if last, ok := c.lastObserved(path); ok && last != precondition {
		// Reported once; the caller's retry reads afresh and proceeds.
		c.mu.Lock()
		delete(c.observed, path)
		c.mu.Unlock()
		msg := fmt.Sprintf("%s changed remotely since last write (expected version %s, found %s)",
			path, last, describeVersion(precondition))
		return "", datatypes.NewContentStoreError("read", http.StatusConflict, msg, nil)
	}

	start = time.Now()
	version, err := c.backend.Write(ctx, path, content, message, precondition)
	c.observe("write", err, start)
	if err != nil {
		return "", asStoreError("write", err)
	}

	c.mu.Lock()
	c.observed[path] = version
	c.mu.Unlock()
	return version, nil
}

// Forget drops the remembered version for path so the next Upsert trusts
// whatever the read returns, without first reporting a conflict.
func (c *Client) Forget(path string) {
	path, err := cleanPath(path)
	if err != nil {
		return
	}
	c.mu.Lock()
	delete(c.observed, path)
	c.mu.Unlock()
}

func (c *Client) lockFor(path string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.pathLock[path]
	if !ok {
		l = &sync.Mutex{}
		c.pathLock[path] = l
	}
	return l
}

func (c *Client) lastObserved(path string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.observed[path]
	return v, ok
}

func (c *Client) observe(op string, err error, start time.Time) {
	if c.observer == nil {
		return
	}
	outcome := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	}
	c.observer.ObserveStoreOp(c.backend.Name(), op, outcome, time.Since(start))
}

// cleanPath normalizes a repository-relative path.
func cleanPath(path string) (string, error) {
	p, err := validation.StorePath(path)
	if err != nil {
		return "", datatypes.NewError(datatypes.KindValidation, "contentstore", err.Error(), err)
	}
	return p, nil
}

func describeVersion(v string) string {
	if v == "" {
		return "no object"
	}
	return v
}

// asStoreError keeps ContentStoreErrors from backends and wraps anything else
// with status 0.
func asStoreError(op string, err error) error {
	var e *datatypes.Error
	if errors.As(err, &e) && e.Kind == datatypes.KindContentStore {
		return err
	}
	return datatypes.NewContentStoreError(op, 0, err.Error(), err)
}
