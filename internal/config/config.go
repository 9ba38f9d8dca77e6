// Package config handles configuration loading, validation, and persistence
// for the gsemu services.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gsemu-project/gsemu/internal/cdkey"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"

	DefaultRouterPort     = 40000
	DefaultWaitModulePort = 40001
	DefaultCDKeyPort      = 44000
	DefaultGSConnectPort  = 80
	DefaultAPIPort        = 5080
	DefaultNATPort        = 7781
	DefaultIRCPort        = 6668
	DefaultProxyPort      = 4040
)

// DefaultGames are the product ids served out of the box.
var DefaultGames = []string{
	"SPLINTERCELL3PCADVERS",
	"SPLINTERCELL3PCCOOP",
	"SPLINTERCELL3PS2US",
	"SPLINTERCELL3PC",
	"HEROES_5",
}

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Server    ServerConfig    `json:"server"`
	Router    RouterConfig    `json:"router"`
	CDKey     CDKeyConfig     `json:"cdkey"`
	GSConnect GSConnectConfig `json:"gsconnect"`
	NAT       ListenerConfig  `json:"nat"`
	IRC       ListenerConfig  `json:"irc"`
	Proxy     ListenerConfig  `json:"proxy"`
	Games     []string        `json:"games"`
	API       APIConfig       `json:"api"`
	Timers    TimerConfig     `json:"timers"`
	Logging   LoggingConfig   `json:"logging"`
	MQTT      MQTTConfig      `json:"mqtt"`
	Database  DatabaseConfig  `json:"database"`
	Discovery DiscoveryConfig `json:"discovery"`
}

// ServerConfig holds the addresses the services bind to and advertise.
type ServerConfig struct {
	// BindAddress is the local address every listener binds to.
	BindAddress string `json:"bind_address"`
	// ExternalHost is the host clients are told to connect to.
	ExternalHost string `json:"external_host"`
}

// RouterConfig holds router and wait module settings.
type RouterConfig struct {
	Enabled        bool   `json:"enabled"`
	Port           int    `json:"port"`
	WaitModulePort int    `json:"wait_module_port"`
	WaitModuleHost string `json:"wait_module_host"`
	IdleTimeoutSec int    `json:"idle_timeout_sec"`
	KeyBits        int    `json:"key_bits"`
	KeyExponent    int    `json:"key_exponent"`
}

// CDKeyConfig holds CD-key service settings.
type CDKeyConfig struct {
	Enabled   bool   `json:"enabled"`
	Port      int    `json:"port"`
	StaticKey string `json:"static_key"`
}

// GSConnectConfig holds the GSConnect HTTP listener settings.
type GSConnectConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// ListenerConfig holds the settings of a service that only needs a port:
// the NAT service and the IRC and proxy line listeners. The manifest
// announces Port even when the service is disabled here, so it can be
// served by another host.
type ListenerConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// APIConfig holds admin API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
}

// TimerConfig holds periodic task intervals.
type TimerConfig struct {
	StaleSweepInterval int `json:"stale_sweep_interval_sec"`
	AuditPruneInterval int `json:"audit_prune_interval_sec"`
	HeartbeatInterval  int `json:"heartbeat_interval_sec"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// DatabaseConfig holds audit log settings.
type DatabaseConfig struct {
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
}

// DiscoveryConfig holds LAN advertisement settings.
type DiscoveryConfig struct {
	Enabled  bool   `json:"enabled"`
	Instance string `json:"instance"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	games := make([]string, len(DefaultGames))
	copy(games, DefaultGames)

	return &Config{
		Server: ServerConfig{
			BindAddress:  "0.0.0.0",
			ExternalHost: "127.0.0.1",
		},
		Router: RouterConfig{
			Enabled:        true,
			Port:           DefaultRouterPort,
			WaitModulePort: DefaultWaitModulePort,
			IdleTimeoutSec: 300,
			KeyBits:        512,
			KeyExponent:    3,
		},
		CDKey: CDKeyConfig{
			Enabled:   true,
			Port:      DefaultCDKeyPort,
			StaticKey: cdkey.DefaultStaticKey,
		},
		GSConnect: GSConnectConfig{
			Enabled: true,
			Port:    DefaultGSConnectPort,
		},
		NAT:   ListenerConfig{Enabled: true, Port: DefaultNATPort},
		IRC:   ListenerConfig{Enabled: true, Port: DefaultIRCPort},
		Proxy: ListenerConfig{Enabled: true, Port: DefaultProxyPort},
		Games: games,
		API: APIConfig{
			Enabled:      true,
			Port:         DefaultAPIPort,
			RateLimitRPS: 100,
		},
		Timers: TimerConfig{
			StaleSweepInterval: 60,
			AuditPruneInterval: 3600,
			HeartbeatInterval:  60,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
			Console:    true,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			BrokerURL:   "localhost",
			Port:        1883,
			TopicPrefix: "gsemu",
		},
		Database: DatabaseConfig{
			Path:          filepath.Join("data", "gsemu.db"),
			RetentionDays: 14,
		},
		Discovery: DiscoveryConfig{
			Enabled:  false,
			Instance: "gsemu",
		},
	}
}

// Load reads configuration from a JSON file, creating it with defaults when
// it does not exist.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so the file always lists every option, including ones added
	// since it was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// SetPath sets the file Save writes to.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// GetServer returns a copy of the server settings.
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// GetRouter returns a copy of the router settings.
func (c *Config) GetRouter() RouterConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Router
}

// GetCDKey returns a copy of the CD-key settings.
func (c *Config) GetCDKey() CDKeyConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.CDKey
}

// GetGSConnect returns a copy of the GSConnect settings.
func (c *Config) GetGSConnect() GSConnectConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.GSConnect
}

// GetNAT returns a copy of the NAT service settings.
func (c *Config) GetNAT() ListenerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.NAT
}

// GetIRC returns a copy of the IRC listener settings.
func (c *Config) GetIRC() ListenerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.IRC
}

// GetProxy returns a copy of the proxy listener settings.
func (c *Config) GetProxy() ListenerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Proxy
}

// GetGames returns a copy of the configured product ids.
func (c *Config) GetGames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	games := make([]string, len(c.Games))
	copy(games, c.Games)
	return games
}

// GetAPI returns a copy of the API settings.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API
}

// GetTimers returns a copy of the timer settings.
func (c *Config) GetTimers() TimerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Timers
}

// GetLogging returns a copy of the logging settings.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// GetMQTT returns a copy of the MQTT settings.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetDatabase returns a copy of the database settings.
func (c *Config) GetDatabase() DatabaseConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Database
}

// GetDiscovery returns a copy of the discovery settings.
func (c *Config) GetDiscovery() DiscoveryConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Discovery
}

// WaitModuleHost returns the host handed to clients joining the wait
// module, falling back to the external host.
func (c *Config) WaitModuleHost() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Router.WaitModuleHost != "" {
		return c.Router.WaitModuleHost
	}
	return c.Server.ExternalHost
}

// HasGame reports whether product is configured.
func (c *Config) HasGame(product string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, g := range c.Games {
		if g == product {
			return true
		}
	}
	return false
}

// ServiceEndpoint describes one listener for status output.
type ServiceEndpoint struct {
	Name     string `json:"name"`
	Protocol string `json:"protocol"`
	Port     int    `json:"port"`
	Enabled  bool   `json:"enabled"`
}

// Services lists the listeners in a fixed order.
func (c *Config) Services() []ServiceEndpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return []ServiceEndpoint{
		{"router", "tcp", c.Router.Port, c.Router.Enabled},
		{"wait_module", "tcp", c.Router.WaitModulePort, c.Router.Enabled},
		{"cdkey", "udp", c.CDKey.Port, c.CDKey.Enabled},
		{"gsnat", "udp", c.NAT.Port, c.NAT.Enabled},
		{"irc", "tcp", c.IRC.Port, c.IRC.Enabled},
		{"proxy", "tcp", c.Proxy.Port, c.Proxy.Enabled},
		{"gsconnect", "http", c.GSConnect.Port, c.GSConnect.Enabled},
		{"api", "http", c.API.Port, c.API.Enabled},
	}
}
