// Package config loads and holds scriptkeeper's runtime configuration.
// Parsing uses JSON5 (comments, trailing commas) the way goclaw's config
// package does, overlaid with environment variables for secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/titanous/json5"
)

// ServerConfig holds chat-server connection settings. The chat-protocol
// client itself is an external collaborator (spec §1); only the bits the
// core frontend needs to dial out are modeled here.
type ServerConfig struct {
	Hostname string   `json:"hostname,omitempty"`
	Port     int      `json:"port,omitempty"`
	TLS      bool     `json:"tls,omitempty"`
	Nickname string   `json:"nickname,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

// SecurityConfig holds admin hostmask patterns and the eval timeout.
type SecurityConfig struct {
	PrivilegedUsers []string `json:"privilegedUsers,omitempty"`
	EvalTimeoutMs   int      `json:"evalTimeoutMs,omitempty"`
}

// TclConfig holds the state-repository and pagination settings.
type TclConfig struct {
	StatePath      string `json:"statePath"`
	StateRepo      string `json:"stateRepo,omitempty"`
	MaxOutputLines int    `json:"maxOutputLines,omitempty"`
	SSHKey         string `json:"sshKey,omitempty"`
}

// HTTPHelpersConfig bounds the network escape vectors exposed to scripts.
type HTTPHelpersConfig struct {
	RequestsPerEval   int `json:"requestsPerEval,omitempty"`
	RequestsPerMinute int `json:"requestsPerMinute,omitempty"`
	TransferLimit     int `json:"transferLimit,omitempty"`
	TimeoutSec        int `json:"timeoutSec,omitempty"`
}

// GatewayConfig configures the HTTP/JSON frontend.
type GatewayConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// Config is the root configuration for scriptkeeper.
type Config struct {
	Server   ServerConfig      `json:"server,omitempty"`
	Security SecurityConfig    `json:"security"`
	Tcl      TclConfig         `json:"tcl"`
	HTTP     HTTPHelpersConfig `json:"http,omitempty"`
	Gateway  GatewayConfig     `json:"gateway,omitempty"`

	mu sync.RWMutex
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Security: SecurityConfig{
			EvalTimeoutMs: 5000,
		},
		Tcl: TclConfig{
			StatePath:      "./state",
			MaxOutputLines: 20,
		},
		HTTP: HTTPHelpersConfig{
			RequestsPerEval:   5,
			RequestsPerMinute: 25,
			TransferLimit:     150_000,
			TimeoutSec:        5,
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 8790,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error: defaults plus env overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("SCRIPTKEEPER_STATE_PATH"); v != "" {
		c.Tcl.StatePath = v
	}
	if v := os.Getenv("SCRIPTKEEPER_STATE_REPO"); v != "" {
		c.Tcl.StateRepo = v
	}
	if v := os.Getenv("SCRIPTKEEPER_SSH_KEY"); v != "" {
		c.Tcl.SSHKey = v
	}
	if v := os.Getenv("SCRIPTKEEPER_EVAL_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Security.EvalTimeoutMs = n
		}
	}
	if v := os.Getenv("SCRIPTKEEPER_MAX_OUTPUT_LINES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Tcl.MaxOutputLines = n
		}
	}
	if v := os.Getenv("SCRIPTKEEPER_GATEWAY_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Gateway.Port = n
		}
	}
}

// EvalTimeout returns the configured supervisor timeout.
func (c *Config) EvalTimeout() (ms int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Security.EvalTimeoutMs
}

// MaxOutputLines returns the configured pagination page size.
func (c *Config) MaxOutputLines() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Tcl.MaxOutputLines
}

// StateRoot returns the configured on-disk state directory.
func (c *Config) StateRoot() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Tcl.StatePath
}

// StateRepo returns the configured remote URL to clone state from, if any.
func (c *Config) StateRepo() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Tcl.StateRepo
}

// SSHKeyPath returns the configured SSH key path used for the state repo
// remote, if any.
func (c *Config) SSHKeyPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Tcl.SSHKey
}

// GatewayAddr returns the configured listen address for the HTTP/JSON
// frontend, as host:port.
func (c *Config) GatewayAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}

// PrivilegedUsers returns a copy of the configured admin hostmask patterns.
func (c *Config) PrivilegedUsers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.Security.PrivilegedUsers))
	copy(out, c.Security.PrivilegedUsers)
	return out
}
