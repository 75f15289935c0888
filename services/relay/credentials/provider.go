// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package credentials is the boundary between the content store and whatever
// retrieves the version-control credential.
//
// The core only ever asks a Provider for a bearer token at the moment it
// issues a request. It never caches, logs or refreshes the value; refresh
// policy belongs to the Provider implementation.
package credentials

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/awnumar/memguard"
	secretmanager "google.golang.org/api/secretmanager/v1"
	"google.golang.org/api/option"
)

// ErrNoCredential is returned when a provider has nothing to hand out.
var ErrNoCredential = errors.New("no credential available")

// Provider hands out an opaque bearer credential.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (string, error)

// Token calls f.
func (f ProviderFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// =============================================================================
// Static (memguard-held)
// =============================================================================

// StaticProvider keeps a token sealed in a memguard enclave and opens it only
// for the duration of a Token call.
type StaticProvider struct {
	enclave *memguard.Enclave
}

// NewStaticProvider seals token. The caller's copy is not wiped because Go
// strings are immutable; prefer NewStaticProviderBytes when holding a []byte.
func NewStaticProvider(token string) (*StaticProvider, error) {
	return NewStaticProviderBytes([]byte(token))
}

// NewStaticProviderBytes seals token without surrounding whitespace and wipes
// the slice.
func NewStaticProviderBytes(token []byte) (*StaticProvider, error) {
	defer memguard.WipeBytes(token)
	trimmed := bytes.TrimSpace(token)
	if len(trimmed) == 0 {
		return nil, ErrNoCredential
	}
	return &StaticProvider{enclave: memguard.NewEnclave(trimmed)}, nil
}

// Token opens the enclave and returns a copy of the sealed value.
func (p *StaticProvider) Token(_ context.Context) (string, error) {
	if p == nil || p.enclave == nil {
		return "", ErrNoCredential
	}
	buf, err := p.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open credential enclave: %w", err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

// =============================================================================
// Environment
// =============================================================================

// EnvProvider reads the token from an environment variable on every call, so
// an operator can rotate it without restarting the relay.
type EnvProvider struct {
	Var string
}

// Token returns the trimmed value of the variable.
func (p EnvProvider) Token(_ context.Context) (string, error) {
	v := strings.TrimSpace(os.Getenv(p.Var))
	if v == "" {
		return "", fmt.Errorf("%w: %s is not set", ErrNoCredential, p.Var)
	}
	return v, nil
}

// =============================================================================
// GCP Secret Manager
// =============================================================================

// SecretManagerProvider resolves the token from a Secret Manager version on
// every call, e.g. "projects/p/secrets/GITHUB_TOKEN/versions/latest".
type SecretManagerProvider struct {
	service *secretmanager.Service
	name    string
}

// NewSecretManagerProvider builds a provider for the given secret version name.
func NewSecretManagerProvider(ctx context.Context, name string, opts ...option.ClientOption) (*SecretManagerProvider, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("secret manager: empty secret name")
	}
	svc, err := secretmanager.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create secret manager client: %w", err)
	}
	return &SecretManagerProvider{service: svc, name: name}, nil
}

// Token accesses the secret version and decodes its payload.
func (p *SecretManagerProvider) Token(ctx context.Context) (string, error) {
	resp, err := p.service.Projects.Secrets.Versions.Access(p.name).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("access secret %s: %w", p.name, err)
	}
	if resp.Payload == nil || resp.Payload.Data == "" {
		return "", fmt.Errorf("%w: secret %s has no payload", ErrNoCredential, p.name)
	}
	data, err := base64.StdEncoding.DecodeString(resp.Payload.Data)
	if err != nil {
		return "", fmt.Errorf("decode secret %s: %w", p.name, err)
	}
	defer memguard.WipeBytes(data)
	return strings.TrimSpace(string(data)), nil
}

// =============================================================================
// HTTP transport
// =============================================================================

// Transport sets an Authorization header from Provider on each request.
type Transport struct {
	Provider Provider
	Base     http.RoundTripper
}

// RoundTrip clones req, attaches the bearer token and delegates to Base.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.Provider.Token(req.Context())
	if err != nil {
		return nil, fmt.Errorf("resolve credential: %w", err)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+token)

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}

// NewHTTPClient returns an http.Client that authenticates with p.
func NewHTTPClient(p Provider) *http.Client {
	return &http.Client{Transport: &Transport{Provider: p}}
}
