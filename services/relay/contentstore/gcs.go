// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package contentstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"strconv"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/AleutianAI/DeployHelper/services/relay/datatypes"
)

// commitMessageKey is the object metadata key holding the write's message.
const commitMessageKey = "commit-message"

// GCSConfig selects the bucket and an optional object prefix.
type GCSConfig struct {
	Bucket          string
	Prefix          string
	CredentialsFile string
}

// GCSBackend stores files as Cloud Storage objects. The object generation is
// the resource-version token.
type GCSBackend struct {
	storageClient *storage.Client
	bucket        string
	prefix        string
}

// NewGCSBackend opens a storage client. With an empty CredentialsFile the
// application default credentials are used.
func NewGCSBackend(ctx context.Context, cfg GCSConfig, opts ...option.ClientOption) (*GCSBackend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs backend: bucket is required")
	}
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", cfg.CredentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSBackend{
		storageClient: storageClient,
		bucket:        cfg.Bucket,
		prefix:        cfg.Prefix,
	}, nil
}

// Name implements Backend.
func (b *GCSBackend) Name() string {
	return "gcs"
}

// Close releases the storage client.
func (b *GCSBackend) Close() error {
	return b.storageClient.Close()
}

func (b *GCSBackend) object(p string) *storage.ObjectHandle {
	return b.storageClient.Bucket(b.bucket).Object(path.Join(b.prefix, p))
}

// Read returns the object at p and its generation.
func (b *GCSBackend) Read(ctx context.Context, p string) (RemoteFile, error) {
	obj := b.object(p)
	attrs, err := obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return RemoteFile{}, ErrNotFound
	}
	if err != nil {
		return RemoteFile{}, gcsError("read", err)
	}

	reader, err := obj.Generation(attrs.Generation).NewReader(ctx)
	if err != nil {
		return RemoteFile{}, gcsError("read", err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return RemoteFile{}, gcsError("read", err)
	}
	return RemoteFile{
		Path:    p,
		Version: strconv.FormatInt(attrs.Generation, 10),
		Content: data,
	}, nil
}

// Write uploads content conditioned on the observed generation.
func (b *GCSBackend) Write(ctx context.Context, p string, content []byte, message, precondition string) (string, error) {
	conds, err := gcsConditions(precondition)
	if err != nil {
		return "", err
	}

	writer := b.object(p).If(conds).NewWriter(ctx)
	writer.ContentType = contentTypeFor(p)
	writer.CacheControl = "no-cache, no-store, must-revalidate"
	writer.Metadata = map[string]string{commitMessageKey: message}

	if _, err := writer.Write(content); err != nil {
		_ = writer.Close()
		return "", gcsError("write", err)
	}
	if err := writer.Close(); err != nil {
		return "", gcsError("write", err)
	}
	return strconv.FormatInt(writer.Attrs().Generation, 10), nil
}

// gcsConditions turns a version token into storage preconditions.
func gcsConditions(precondition string) (storage.Conditions, error) {
	if precondition == "" {
		return storage.Conditions{DoesNotExist: true}, nil
	}
	gen, err := strconv.ParseInt(precondition, 10, 64)
	if err != nil || gen <= 0 {
		return storage.Conditions{}, datatypes.NewContentStoreError("write", http.StatusBadRequest,
			fmt.Sprintf("invalid generation %q", precondition), err)
	}
	return storage.Conditions{GenerationMatch: gen}, nil
}

// gcsError maps a googleapi error to a ContentStoreError. A failed
// precondition (412) is reported as a conflict.
func gcsError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		status := apiErr.Code
		if status == http.StatusPreconditionFailed {
			status = http.StatusConflict
		}
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		return datatypes.NewContentStoreError(op, status, msg, err)
	}
	return datatypes.NewContentStoreError(op, 0, err.Error(), err)
}

func contentTypeFor(p string) string {
	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
