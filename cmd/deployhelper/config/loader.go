// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/DeployHelper/pkg/validation"
)

// EnvPrefix prefixes every environment override, e.g.
// DEPLOYHELPER_SERVER_API_ADDR.
const EnvPrefix = "DEPLOYHELPER_"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// DefaultPath is ~/.deployhelper/deployhelper.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".deployhelper", "deployhelper.yaml"), nil
}

// Load reads the configuration.
//
// An empty path means DefaultPath, which is created with defaults on first
// run. An explicit path must exist. Environment overrides are applied after
// the file, then the result is validated.
func Load(path string) (DeployHelperConfig, error) {
	if path == "" {
		def, err := DefaultPath()
		if err != nil {
			return DeployHelperConfig{}, err
		}
		path = def
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, " First run detected, creating the config at %s\n", path)
			if err := createDefault(path); err != nil {
				return DeployHelperConfig{}, err
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return DeployHelperConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over DefaultConfig, applies environment overrides and
// validates.
func Parse(data []byte) (DeployHelperConfig, error) {
	// Keys missing from the file keep their defaults; a processes list in the
	// file replaces the default one.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DeployHelperConfig{}, fmt.Errorf("failed to parse the config: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return DeployHelperConfig{}, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	cfg.Server.AllowedOrigins = normalizeOrigins(cfg.Server.AllowedOrigins)

	if err := Validate(cfg); err != nil {
		return DeployHelperConfig{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and the per-backend requirements.
func Validate(cfg DeployHelperConfig) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	seen := make(map[string]bool)
	for _, p := range cfg.Supervisor.Processes {
		if err := validation.ProcessName(p.Name); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate process name %q", ErrInvalid, p.Name)
		}
		seen[p.Name] = true
	}

	switch cfg.Store.Backend {
	case BackendGitHub:
		if cfg.Store.GitHub.Owner == "" || cfg.Store.GitHub.Repo == "" {
			return fmt.Errorf("%w: store.github.owner and store.github.repo are required", ErrInvalid)
		}
		if cfg.Credentials.Source == SourceNone {
			return fmt.Errorf("%w: the github store needs a credential source", ErrInvalid)
		}
	case BackendGCS:
		if cfg.Store.GCS.Bucket == "" {
			return fmt.Errorf("%w: store.gcs.bucket is required", ErrInvalid)
		}
	case BackendLocal:
		if cfg.Store.Local.Root == "" {
			return fmt.Errorf("%w: store.local.root is required", ErrInvalid)
		}
	}

	switch cfg.Credentials.Source {
	case SourceEnv:
		if cfg.Credentials.EnvVar == "" {
			return fmt.Errorf("%w: credentials.env_var is required for the env source", ErrInvalid)
		}
	case SourceStatic:
		if cfg.Credentials.TokenFile == "" {
			return fmt.Errorf("%w: credentials.token_file is required for the static source", ErrInvalid)
		}
	case SourceSecretManager:
		if cfg.Credentials.SecretName == "" {
			return fmt.Errorf("%w: credentials.secret_name is required for the secretmanager source", ErrInvalid)
		}
	}
	return nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
