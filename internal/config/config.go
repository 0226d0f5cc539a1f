// Package config provides configuration parsing and validation for browsersync.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete device configuration.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Transport TransportConfig `yaml:"transport"`
	Peers     PeersConfig     `yaml:"peers"`
	Store     StoreConfig     `yaml:"store"`
	Pairing   PairingConfig   `yaml:"pairing"`
	Log       LogConfig       `yaml:"log"`
	Control   ControlConfig   `yaml:"control"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// DeviceConfig identifies this device and where it keeps its state.
type DeviceConfig struct {
	// ID is the device identifier. "auto" generates and persists a new one
	// on first run.
	ID string `yaml:"id"`

	// DataDir is the directory holding the device key, event store, and
	// known-peer key material.
	DataDir string `yaml:"data_dir"`
}

// TransportConfig selects and configures the peer transport.
type TransportConfig struct {
	// Kind is "quic" or "ws".
	Kind string `yaml:"kind"`

	// ListenAddress is the address the sync listener binds to.
	ListenAddress string `yaml:"listen_address"`

	// TLS holds the listener's TLS material. browsersync relies on the
	// secure-frame layer above the transport for confidentiality and
	// authenticity between paired devices, so StrictVerify defaults to
	// false and self-signed certificates are generated automatically
	// when Cert/Key are empty.
	TLS TLSConfig `yaml:"tls"`

	// DialTimeout bounds how long a connection attempt to a peer may take.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ReconnectInitialDelay and ReconnectMaxDelay bound the exponential
	// backoff used when a peer connection drops.
	ReconnectInitialDelay time.Duration `yaml:"reconnect_initial_delay"`
	ReconnectMaxDelay     time.Duration `yaml:"reconnect_max_delay"`
}

// TLSConfig holds certificate material for the transport listener.
type TLSConfig struct {
	Cert    string `yaml:"cert"`     // certificate file path
	Key     string `yaml:"key"`      // private key file path
	CertPEM string `yaml:"cert_pem"` // certificate PEM content (takes precedence)
	KeyPEM  string `yaml:"key_pem"`  // private key PEM content (takes precedence)

	// StrictVerify enables certificate chain verification. Default false:
	// the secure frame layer is the actual trust boundary.
	StrictVerify bool `yaml:"strict_verify"`
}

// GetCertPEM returns the certificate PEM, reading from file if necessary.
func (t *TLSConfig) GetCertPEM() ([]byte, error) {
	if t.CertPEM != "" {
		return []byte(t.CertPEM), nil
	}
	if t.Cert != "" {
		return os.ReadFile(t.Cert)
	}
	return nil, nil
}

// GetKeyPEM returns the private key PEM, reading from file if necessary.
func (t *TLSConfig) GetKeyPEM() ([]byte, error) {
	if t.KeyPEM != "" {
		return []byte(t.KeyPEM), nil
	}
	if t.Key != "" {
		return os.ReadFile(t.Key)
	}
	return nil, nil
}

// HasCert returns true if a certificate is configured.
func (t *TLSConfig) HasCert() bool { return t.Cert != "" || t.CertPEM != "" }

// HasKey returns true if a private key is configured.
func (t *TLSConfig) HasKey() bool { return t.Key != "" || t.KeyPEM != "" }

// PeersConfig lists the known peer devices the sync engine dials.
type PeersConfig struct {
	Known []PeerConfig `yaml:"known"`
}

// PeerConfig is one known peer's dial address and expected identity.
type PeerConfig struct {
	// DeviceID is the paired peer's device identifier (hex).
	DeviceID string `yaml:"device_id"`

	// Address is the peer's transport address. Empty if the peer is only
	// ever reachable by dialing us (listen-only peers never appear here).
	Address string `yaml:"address"`
}

// StoreConfig configures the local event log.
type StoreConfig struct {
	// Path is the sqlite database file path. Relative to DataDir if not
	// absolute.
	Path string `yaml:"path"`
}

// PairingConfig configures the rendezvous-code pairing handshake.
type PairingConfig struct {
	// CodeTTL bounds how long an initiated pairing session accepts a join.
	CodeTTL time.Duration `yaml:"code_ttl"`

	// ListenAddress is where this device accepts incoming join submissions
	// from a joiner's daemon during an initiated pairing session. Distinct
	// from transport.listen_address: this is a plain HTTP listener, reachable
	// before any peer key material exists to set up an encrypted stream.
	ListenAddress string `yaml:"listen_address"`
}

// MetricsConfig configures the Prometheus metrics exporter.
type MetricsConfig struct {
	// Enabled turns on the /metrics HTTP listener.
	Enabled bool `yaml:"enabled"`

	// ListenAddress is where Prometheus metrics are exposed in text format.
	ListenAddress string `yaml:"listen_address"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ControlConfig configures the local control surface used by the CLI to
// talk to a running sync daemon.
type ControlConfig struct {
	// SocketPath is the Unix domain socket the daemon listens on for
	// control requests (status, peers, pair init/pending/accept/reject/cancel).
	// A pair join is not sent here; it goes to the initiator's pairing
	// listener.
	SocketPath string `yaml:"socket_path"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			ID:      "auto",
			DataDir: "./data",
		},
		Transport: TransportConfig{
			Kind:                  "quic",
			ListenAddress:         ":7420",
			DialTimeout:           10 * time.Second,
			ReconnectInitialDelay: 1 * time.Second,
			ReconnectMaxDelay:     60 * time.Second,
		},
		Peers: PeersConfig{
			Known: []PeerConfig{},
		},
		Store: StoreConfig{
			Path: "browsersync.db",
		},
		Pairing: PairingConfig{
			CodeTTL:       300 * time.Second,
			ListenAddress: ":7421",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Control: ControlConfig{
			SocketPath: "./data/control.sock",
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9090",
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, applying defaults for
// anything left unset.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Device.DataDir == "" {
		errs = append(errs, "device.data_dir is required")
	}

	if !isValidTransportKind(c.Transport.Kind) {
		errs = append(errs, fmt.Sprintf("invalid transport.kind: %s (must be quic or ws)", c.Transport.Kind))
	}
	if c.Transport.ListenAddress == "" {
		errs = append(errs, "transport.listen_address is required")
	}
	if c.Transport.TLS.HasCert() != c.Transport.TLS.HasKey() {
		errs = append(errs, "transport.tls.cert and transport.tls.key must both be specified or both be empty")
	}

	if c.Pairing.ListenAddress == "" {
		errs = append(errs, "pairing.listen_address is required")
	}

	for i, p := range c.Peers.Known {
		if err := validatePeer(p); err != nil {
			errs = append(errs, fmt.Sprintf("peers.known[%d]: %v", i, err))
		}
	}

	if c.Store.Path == "" {
		errs = append(errs, "store.path is required")
	}

	if c.Pairing.CodeTTL <= 0 {
		errs = append(errs, "pairing.code_ttl must be positive")
	}

	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}

	if c.Control.SocketPath == "" {
		errs = append(errs, "control.socket_path is required")
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		errs = append(errs, "metrics.listen_address is required when metrics.enabled is true")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func validatePeer(p PeerConfig) error {
	if p.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	return nil
}

func isValidTransportKind(kind string) bool {
	switch kind {
	case "quic", "ws":
		return true
	default:
		return false
	}
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

// redactedValue is the placeholder for sensitive values.
const redactedValue = "[REDACTED]"

// Redacted returns a copy of the config with private key material redacted.
// Safe to log or display to users.
func (c *Config) Redacted() *Config {
	data, err := yaml.Marshal(c)
	if err != nil {
		return c
	}

	redacted := &Config{}
	if err := yaml.Unmarshal(data, redacted); err != nil {
		return c
	}

	if redacted.Transport.TLS.Key != "" {
		redacted.Transport.TLS.Key = redactedValue
	}
	if redacted.Transport.TLS.KeyPEM != "" {
		redacted.Transport.TLS.KeyPEM = redactedValue
	}

	return redacted
}

// String returns a redacted YAML representation of the config.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c.Redacted())
	return string(data)
}
