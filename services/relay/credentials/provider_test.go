// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package credentials

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticProvider(t *testing.T) {
	p, err := NewStaticProvider("ghp_example")
	require.NoError(t, err)

	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ghp_example", tok)

	// The enclave can be opened repeatedly.
	tok, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ghp_example", tok)
}

func TestStaticProvider_Empty(t *testing.T) {
	_, err := NewStaticProvider("  ")
	assert.ErrorIs(t, err, ErrNoCredential)

	var p *StaticProvider
	_, err = p.Token(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestStaticProviderBytes_WipesInput(t *testing.T) {
	raw := []byte("secret-token")
	p, err := NewStaticProviderBytes(raw)
	require.NoError(t, err)

	for _, b := range raw {
		assert.Zero(t, b)
	}
	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secret-token", tok)
}

func TestStaticProviderBytes_TrimsLineEnding(t *testing.T) {
	raw := []byte("  ghp_fromfile\r\n")
	p, err := NewStaticProviderBytes(raw)
	require.NoError(t, err)

	for _, b := range raw {
		assert.Zero(t, b)
	}
	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ghp_fromfile", tok)

	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	resp, err := NewHTTPClient(p).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Bearer ghp_fromfile", got)
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("DEPLOYHELPER_TEST_TOKEN", "  abc123  ")
	tok, err := EnvProvider{Var: "DEPLOYHELPER_TEST_TOKEN"}.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", tok)

	_, err = EnvProvider{Var: "DEPLOYHELPER_TEST_TOKEN_UNSET"}.Token(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestNewSecretManagerProvider_EmptyName(t *testing.T) {
	_, err := NewSecretManagerProvider(context.Background(), " ")
	assert.Error(t, err)
}

func TestTransport_SetsBearer(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewHTTPClient(ProviderFunc(func(context.Context) (string, error) {
		return "tok-1", nil
	}))
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer tok-1", got)
}

func TestTransport_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the server")
	}))
	defer srv.Close()

	boom := errors.New("vault sealed")
	client := NewHTTPClient(ProviderFunc(func(context.Context) (string, error) {
		return "", boom
	}))
	_, err := client.Get(srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
