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
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/AleutianAI/DeployHelper/services/relay/datatypes"
)

// LocalBackend writes into a working tree on disk. Versions are git blob
// SHA-1s, so a file written here has the same token GitHub would report for
// identical content.
type LocalBackend struct {
	root string
	mu   sync.Mutex
}

// NewLocalBackend roots the backend at dir, creating it if needed.
func NewLocalBackend(dir string) (*LocalBackend, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("local backend: resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("local backend: create %s: %w", abs, err)
	}
	return &LocalBackend{root: abs}, nil
}

// Name implements Backend.
func (b *LocalBackend) Name() string {
	return "local"
}

// Root returns the absolute root directory.
func (b *LocalBackend) Root() string {
	return b.root
}

// Read implements Backend.
func (b *LocalBackend) Read(_ context.Context, p string) (RemoteFile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readLocked(p)
}

func (b *LocalBackend) readLocked(p string) (RemoteFile, error) {
	data, err := os.ReadFile(b.full(p))
	if errors.Is(err, fs.ErrNotExist) {
		return RemoteFile{}, ErrNotFound
	}
	if err != nil {
		return RemoteFile{}, datatypes.NewContentStoreError("read", http.StatusInternalServerError, err.Error(), err)
	}
	return RemoteFile{Path: p, Version: BlobSHA(data), Content: data}, nil
}

// Write implements Backend. The check and the rename happen under one lock,
// so two writers holding the same precondition cannot both succeed.
func (b *LocalBackend) Write(_ context.Context, p string, content []byte, _ string, precondition string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, err := b.readLocked(p)
	switch {
	case errors.Is(err, ErrNotFound):
		if precondition != "" {
			return "", datatypes.NewContentStoreError("write", http.StatusConflict,
				fmt.Sprintf("%s no longer exists (expected version %s)", p, precondition), nil)
		}
	case err != nil:
		return "", err
	case precondition == "":
		return "", datatypes.NewContentStoreError("write", http.StatusConflict,
			fmt.Sprintf("%s already exists and no version was supplied", p), nil)
	case current.Version != precondition:
		return "", datatypes.NewContentStoreError("write", http.StatusConflict,
			fmt.Sprintf("%s is at version %s, not %s", p, current.Version, precondition), nil)
	}

	full := b.full(p)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", datatypes.NewContentStoreError("write", http.StatusInternalServerError, err.Error(), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), "."+filepath.Base(full)+".tmp-*")
	if err != nil {
		return "", datatypes.NewContentStoreError("write", http.StatusInternalServerError, err.Error(), err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", datatypes.NewContentStoreError("write", http.StatusInternalServerError, err.Error(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", datatypes.NewContentStoreError("write", http.StatusInternalServerError, err.Error(), err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return "", datatypes.NewContentStoreError("write", http.StatusInternalServerError, err.Error(), err)
	}
	return BlobSHA(content), nil
}

func (b *LocalBackend) full(p string) string {
	return filepath.Join(b.root, filepath.FromSlash(p))
}

// BlobSHA returns the git blob object id of content.
func BlobSHA(content []byte) string {
	h := sha1.New()
	h.Write([]byte("blob " + strconv.Itoa(len(content)) + "\x00"))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}
