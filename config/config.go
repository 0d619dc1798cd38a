// Package config loads and validates the server configuration.
//
// Configuration comes from a YAML file plus LANSHARE_* environment
// overrides; command-line flags are bound on top by the CLI.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/opd-ai/lanshare/discovery"
	"github.com/opd-ai/lanshare/sharing"
)

// DefaultPort is the default control-channel TCP port.
const DefaultPort = 12020

// SharingConfig declares one exposed directory.
type SharingConfig struct {
	Name     string `mapstructure:"name"`
	Path     string `mapstructure:"path"`
	ReadOnly bool   `mapstructure:"read_only"`
}

// Config is the full server configuration.
type Config struct {
	// Name identifies the server in discovery responses.
	Name string `mapstructure:"name"`
	// Address is the bind address for the control channel.
	Address string `mapstructure:"address"`
	// Port is the control-channel TCP port.
	Port int `mapstructure:"port"`
	// DiscoveryPort is the UDP port probes arrive on; 0 disables discovery.
	DiscoveryPort int `mapstructure:"discovery_port"`
	// Secret is the stored credential: empty, plaintext, or scrypt$salt$hash.
	Secret string `mapstructure:"secret"`
	// TLSCert and TLSKey enable TLS on control and side channels when both
	// are set.
	TLSCert string `mapstructure:"tls_cert"`
	TLSKey  string `mapstructure:"tls_key"`
	// RexecEnabled gates the remote-execution api.
	RexecEnabled bool `mapstructure:"rexec_enabled"`
	// MetricsAddress exposes Prometheus metrics when non-empty.
	MetricsAddress string `mapstructure:"metrics_address"`
	// LogLevel is a logrus level name.
	LogLevel string `mapstructure:"log_level"`

	Sharings []SharingConfig `mapstructure:"sharings"`
}

// ErrNoSharings indicates a configuration exposing nothing.
var ErrNoSharings = errors.New("no sharings configured")

// ErrPartialTLS indicates only one of cert/key was given.
var ErrPartialTLS = errors.New("tls_cert and tls_key must be set together")

// New returns a viper instance with the lanshare defaults and env binding
// applied.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("name", "lanshare")
	v.SetDefault("address", "")
	v.SetDefault("port", DefaultPort)
	v.SetDefault("discovery_port", discovery.DefaultPort)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("LANSHARE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration file (optional when path is empty), decodes
// and validates it.
func Load(v *viper.Viper, path string) (*Config, error) {
	cfg, err := LoadUnvalidated(v, path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUnvalidated decodes the configuration without cross-field validation.
// The CLI uses it to merge command-line sharings in before validating.
func LoadUnvalidated(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "LoadUnvalidated",
		"file":     v.ConfigFileUsed(),
		"sharings": len(cfg.Sharings),
	}).Debug("Configuration loaded")
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if len(c.Sharings) == 0 {
		return ErrNoSharings
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return ErrPartialTLS
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.DiscoveryPort < 0 || c.DiscoveryPort > 65535 {
		return fmt.Errorf("invalid discovery port %d", c.DiscoveryPort)
	}
	return nil
}

// TLSEnabled reports whether the channels are TLS-wrapped.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// BuildRegistry materializes the sharing registry from the configuration.
// Every declared sharing must validate; a broken one is a startup error,
// not a warning.
func (c *Config) BuildRegistry() (*sharing.Registry, error) {
	reg := sharing.NewRegistry()
	for _, sc := range c.Sharings {
		sh, err := sharing.New(sc.Name, sc.Path, sc.ReadOnly)
		if err != nil {
			return nil, fmt.Errorf("sharing %q: %w", sc.Name, err)
		}
		if err := reg.Add(sh); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// ApplyLogLevel configures the global logrus level.
func (c *Config) ApplyLogLevel() error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	logrus.SetLevel(level)
	return nil
}
