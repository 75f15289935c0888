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
	"net"
	"strings"
	"time"
)

// DeployHelperConfig is the on-disk configuration.
type DeployHelperConfig struct {
	// Server: listener addresses and API protection
	Server ServerConfig `yaml:"server" envPrefix:"SERVER_"`

	// Relay: command channel behavior
	Relay RelayConfig `yaml:"relay" envPrefix:"RELAY_"`

	// Supervisor: the managed frontend and backend processes
	Supervisor SupervisorConfig `yaml:"supervisor" envPrefix:"SUPERVISOR_"`

	// Store: where deployed files are written
	Store StoreConfig `yaml:"store" envPrefix:"STORE_"`

	// Credentials: where the store credential comes from
	Credentials CredentialsConfig `yaml:"credentials" envPrefix:"CREDENTIALS_"`

	// Deploy: checks applied to submitted code
	Deploy DeployConfig `yaml:"deploy" envPrefix:"DEPLOY_"`

	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LOGGING_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

type ServerConfig struct {
	APIAddr   string `yaml:"api_addr" env:"API_ADDR" validate:"required,hostname_port"`     // e.g. :3001
	RelayAddr string `yaml:"relay_addr" env:"RELAY_ADDR" validate:"required,hostname_port"` // e.g. :8081

	// AllowedOrigins lists browser origins permitted by CORS on the API.
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`

	// APITokenEnv names an environment variable holding a bearer token that
	// /v1 requests must present. Empty disables the check.
	APITokenEnv string `yaml:"api_token_env,omitempty" env:"API_TOKEN_ENV"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"gte=0"`
}

// APIURL is the base URL clients use to reach the API listener.
func (s ServerConfig) APIURL() string {
	return "http://" + dialAddr(s.APIAddr)
}

// RelayURL is the websocket URL of the relay listener.
func (s ServerConfig) RelayURL() string {
	return "ws://" + dialAddr(s.RelayAddr) + "/ws"
}

// dialAddr turns a listen address like ":3001" into "localhost:3001".
func dialAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

type RelayConfig struct {
	// CommandTimeout bounds each shell command. 0 means no limit.
	CommandTimeout time.Duration `yaml:"command_timeout" env:"COMMAND_TIMEOUT" validate:"gte=0"`

	// CommandsPerSecond limits commands per session. 0 disables limiting.
	CommandsPerSecond float64 `yaml:"commands_per_second" env:"COMMANDS_PER_SECOND" validate:"gte=0"`
	CommandBurst      int     `yaml:"command_burst" env:"COMMAND_BURST" validate:"gte=0"`

	DeployCommand  string `yaml:"deploy_command" env:"DEPLOY_COMMAND" validate:"required"`
	Shell          string `yaml:"shell" env:"SHELL" validate:"required"`
	Workdir        string `yaml:"workdir,omitempty" env:"WORKDIR"`
	MaxOutputBytes int    `yaml:"max_output_bytes" env:"MAX_OUTPUT_BYTES" validate:"gte=0"`
}

type SupervisorConfig struct {
	SettleDelay time.Duration   `yaml:"settle_delay" env:"SETTLE_DELAY" validate:"gte=0"`
	StopGrace   time.Duration   `yaml:"stop_grace" env:"STOP_GRACE" validate:"gte=0"`
	Processes   []ProcessConfig `yaml:"processes" validate:"dive"`
}

type ProcessConfig struct {
	Name    string   `yaml:"name" validate:"required"`    // e.g. frontend
	Command string   `yaml:"command" validate:"required"` // e.g. npm
	Args    []string `yaml:"args,omitempty"`
	Dir     string   `yaml:"dir,omitempty"`
	Env     []string `yaml:"env,omitempty"`
}

type DeployConfig struct {
	// SecretScan is off, warn (log and write) or block (reject the artifact).
	SecretScan string `yaml:"secret_scan" env:"SECRET_SCAN" validate:"oneof=off warn block"`
}

// Store backends.
const (
	BackendGitHub = "github"
	BackendGCS    = "gcs"
	BackendLocal  = "local"
)

type StoreConfig struct {
	Backend string      `yaml:"backend" env:"BACKEND" validate:"oneof=github gcs local"`
	GitHub  GitHubStore `yaml:"github" envPrefix:"GITHUB_"`
	GCS     GCSStore    `yaml:"gcs" envPrefix:"GCS_"`
	Local   LocalStore  `yaml:"local" envPrefix:"LOCAL_"`
}

type GitHubStore struct {
	Owner   string `yaml:"owner" env:"OWNER"`
	Repo    string `yaml:"repo" env:"REPO"`
	Branch  string `yaml:"branch,omitempty" env:"BRANCH"`
	BaseURL string `yaml:"base_url,omitempty" env:"BASE_URL" validate:"omitempty,url"`
}

type GCSStore struct {
	Bucket          string `yaml:"bucket" env:"BUCKET"`
	Prefix          string `yaml:"prefix,omitempty" env:"PREFIX"`
	CredentialsFile string `yaml:"credentials_file,omitempty" env:"CREDENTIALS_FILE"`
}

type LocalStore struct {
	Root string `yaml:"root" env:"ROOT"`
}

// Credential sources.
const (
	SourceNone          = "none"
	SourceEnv           = "env"
	SourceStatic        = "static"
	SourceSecretManager = "secretmanager"
)

type CredentialsConfig struct {
	Source string `yaml:"source" env:"SOURCE" validate:"oneof=none env static secretmanager"`

	// EnvVar is read by the env source.
	EnvVar string `yaml:"env_var,omitempty" env:"ENV_VAR"`

	// TokenFile is read once and sealed by the static source.
	TokenFile string `yaml:"token_file,omitempty" env:"TOKEN_FILE"`

	// SecretName is a Secret Manager version, e.g.
	// projects/p/secrets/GITHUB_TOKEN/versions/latest
	SecretName string `yaml:"secret_name,omitempty" env:"SECRET_NAME"`
}

type LoggingConfig struct {
	Level string `yaml:"level" env:"LEVEL" validate:"oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json" env:"JSON"`
	Dir   string `yaml:"dir,omitempty" env:"DIR"`
}

type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" env:"TRACE_EXPORTER" validate:"oneof=none otlp stdout"`
	MetricExporter string `yaml:"metric_exporter" env:"METRIC_EXPORTER" validate:"oneof=none prometheus stdout"`
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty" env:"OTLP_ENDPOINT"`
	OTLPInsecure   bool   `yaml:"otlp_insecure" env:"OTLP_INSECURE"`
}

// DefaultConfig mirrors the layout of a create-react-app client under
// ./client with an express backend at server/index.js.
func DefaultConfig() DeployHelperConfig {
	return DeployHelperConfig{
		Server: ServerConfig{
			APIAddr:   ":3001",
			RelayAddr: ":8081",
			AllowedOrigins: []string{
				"http://localhost:3000",
				"http://localhost:3001",
				"http://localhost:3002",
			},
			ShutdownTimeout: 10 * time.Second,
		},
		Relay: RelayConfig{
			DeployCommand:  "firebase deploy",
			Shell:          "/bin/sh",
			MaxOutputBytes: 1 << 20,
		},
		Supervisor: SupervisorConfig{
			SettleDelay: 2 * time.Second,
			StopGrace:   5 * time.Second,
			Processes: []ProcessConfig{
				{Name: "frontend", Command: "npm", Args: []string{"start"}, Dir: "./client"},
				{Name: "backend", Command: "node", Args: []string{"server/index.js"}, Dir: "."},
			},
		},
		Store: StoreConfig{
			Backend: BackendLocal,
			GitHub:  GitHubStore{Branch: "main"},
			Local:   LocalStore{Root: "."},
		},
		Credentials: CredentialsConfig{
			Source: SourceEnv,
			EnvVar: "GITHUB_TOKEN",
		},
		Deploy: DeployConfig{
			SecretScan: "warn",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
			OTLPInsecure:   true,
		},
	}
}

// normalizeOrigins trims entries and drops empties.
func normalizeOrigins(in []string) []string {
	out := in[:0]
	for _, o := range in {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			out = append(out, o)
		}
	}
	return out
}
