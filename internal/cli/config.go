package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tobert/pmda-agent/internal/transport"
)

// Config holds site settings for a PMDA. Command-line options describe one
// run; Config supplies the defaults they fall back to.
type Config struct {
	// Comment field for user documentation (ignored by the application)
	Comment string `json:"comment,omitempty" yaml:"comment,omitempty"`

	// Transport defaults
	SocketDir string `json:"socket_dir,omitempty" yaml:"socket_dir,omitempty"` // UNIX socket is <socket_dir>/<agent>.socket
	InetPort  int    `json:"inet_port,omitempty" yaml:"inet_port,omitempty"`   // used by a bare --inet
	IPv6Port  int    `json:"ipv6_port,omitempty" yaml:"ipv6_port,omitempty"`   // used by a bare --ipv6

	// Timeouts as Go duration strings (e.g., "30s")
	AcceptTimeout    string `json:"accept_timeout,omitempty" yaml:"accept_timeout,omitempty"`
	HandshakeTimeout string `json:"handshake_timeout,omitempty" yaml:"handshake_timeout,omitempty"`

	// Logging configuration
	LogDir        string `json:"log_dir,omitempty" yaml:"log_dir,omitempty"`
	LogMaxSizeMB  int    `json:"log_max_size_mb,omitempty" yaml:"log_max_size_mb,omitempty"`
	LogMaxBackups int    `json:"log_max_backups,omitempty" yaml:"log_max_backups,omitempty"`
	LogCompress   bool   `json:"log_compress,omitempty" yaml:"log_compress,omitempty"`

	// PMDAsDir holds per-agent help text at <pmdas_dir>/<agent>/help.
	PMDAsDir string `json:"pmdas_dir,omitempty" yaml:"pmdas_dir,omitempty"`

	// DefaultDomain overrides the agent's built-in domain number.
	DefaultDomain int `json:"default_domain,omitempty" yaml:"default_domain,omitempty"`
}

// DefaultConfig returns a Config with the standard PCP locations.
func DefaultConfig() *Config {
	return &Config{
		SocketDir:        "/run/pcp",
		InetPort:         44322,
		IPv6Port:         44323,
		AcceptTimeout:    "30s",
		HandshakeTimeout: "5s",
		LogDir:           "/var/log/pcp/pmcd",
		LogMaxSizeMB:     10,
		LogMaxBackups:    3,
		LogCompress:      false,
		PMDAsDir:         "/var/lib/pcp/pmdas",
	}
}

// LoadConfigFromFile loads configuration from path. Files ending in .yaml
// or .yml are YAML; anything else is JSON.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return &config, nil
}

// SystemConfigPath is the site-wide config file.
const SystemConfigPath = "/etc/pcp/pmda-agent/config.yaml"

// GlobalConfigPath returns the path to the per-user config file.
// This is ~/.config/pmda-agent/config.json
func GlobalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "pmda-agent", "config.json")
}

// MergeConfigs merges two configs with the overlay taking precedence.
// Fields in overlay override corresponding fields in base.
// Returns a new Config with the merged values.
func MergeConfigs(base, overlay *Config) *Config {
	if base == nil {
		base = &Config{}
	}
	if overlay == nil {
		return base
	}

	merged := *base

	if overlay.SocketDir != "" {
		merged.SocketDir = overlay.SocketDir
	}
	if overlay.InetPort > 0 {
		merged.InetPort = overlay.InetPort
	}
	if overlay.IPv6Port > 0 {
		merged.IPv6Port = overlay.IPv6Port
	}
	if overlay.AcceptTimeout != "" {
		merged.AcceptTimeout = overlay.AcceptTimeout
	}
	if overlay.HandshakeTimeout != "" {
		merged.HandshakeTimeout = overlay.HandshakeTimeout
	}

	if overlay.LogDir != "" {
		merged.LogDir = overlay.LogDir
	}
	if overlay.LogMaxSizeMB > 0 {
		merged.LogMaxSizeMB = overlay.LogMaxSizeMB
	}
	if overlay.LogMaxBackups > 0 {
		merged.LogMaxBackups = overlay.LogMaxBackups
	}
	if overlay.LogCompress {
		merged.LogCompress = overlay.LogCompress
	}

	if overlay.PMDAsDir != "" {
		merged.PMDAsDir = overlay.PMDAsDir
	}
	if overlay.DefaultDomain > 0 {
		merged.DefaultDomain = overlay.DefaultDomain
	}

	return &merged
}

// LoadEffectiveConfig loads the effective configuration by merging:
// 1. Built-in defaults
// 2. System config file (if exists)
// 3. Per-user config file (if exists)
// 4. Explicit config file (if specified via configPath)
// Later sources override earlier ones.
func LoadEffectiveConfig(configPath string) (*Config, error) {
	return loadEffectiveConfig(SystemConfigPath, GlobalConfigPath(), configPath)
}

func loadEffectiveConfig(systemPath, globalPath, configPath string) (*Config, error) {
	config := DefaultConfig()

	// The system and per-user files are optional, but a present file
	// that does not parse is still an error.
	for _, path := range []string{systemPath, globalPath} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := LoadConfigFromFile(path)
		if err != nil {
			return nil, err
		}
		config = MergeConfigs(config, cfg)
	}

	if configPath != "" {
		explicitCfg, err := LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = MergeConfigs(config, explicitCfg)
	}

	return config, nil
}

func (c *Config) validate() error {
	for name, v := range map[string]string{
		"accept_timeout":    c.AcceptTimeout,
		"handshake_timeout": c.HandshakeTimeout,
	} {
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, v)
		}
	}
	for name, port := range map[string]int{"inet_port": c.InetPort, "ipv6_port": c.IPv6Port} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%s %d out of range", name, port)
		}
	}
	if c.DefaultDomain < 0 || c.DefaultDomain > 510 {
		return fmt.Errorf("default_domain %d out of range 1-510", c.DefaultDomain)
	}
	return nil
}

// Timeouts returns the accept and handshake timeouts. Empty values give 0,
// which leaves the library defaults in place.
func (c *Config) Timeouts() (accept, handshake time.Duration, err error) {
	if err := c.validate(); err != nil {
		return 0, 0, err
	}
	if c.AcceptTimeout != "" {
		accept, _ = time.ParseDuration(c.AcceptTimeout)
	}
	if c.HandshakeTimeout != "" {
		handshake, _ = time.ParseDuration(c.HandshakeTimeout)
	}
	return accept, handshake, nil
}

// TransportDefaults resolves the addresses used when a transport flag
// carries no value.
func (c *Config) TransportDefaults(agent string) transport.Defaults {
	return transport.Defaults{
		UnixPath: filepath.Join(c.SocketDir, agent+".socket"),
		InetPort: c.InetPort,
		IPv6Port: c.IPv6Port,
	}
}

// LogPath is the default log file for agent.
func (c *Config) LogPath(agent string) string {
	return filepath.Join(c.LogDir, agent+".log")
}

// HelpPath is the default help text file for agent.
func (c *Config) HelpPath(agent string) string {
	return filepath.Join(c.PMDAsDir, agent, "help")
}
