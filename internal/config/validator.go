package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/gsemu-project/gsemu/internal/gscrypt"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// HasError reports whether an error was recorded for field.
func (r *ValidationResult) HasError(field string) bool {
	for _, e := range r.Errors {
		if e.Field == field {
			return true
		}
	}
	return false
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	result := &ValidationResult{}

	validateServer(&cfg.Server, result)
	validateRouter(&cfg.Router, result)
	validateCDKey(&cfg.CDKey, result)
	validateGames(cfg.Games, result)
	validatePorts(cfg, result)
	validateApplication(cfg, result)

	return result
}

func validateServer(s *ServerConfig, result *ValidationResult) {
	if strings.TrimSpace(s.ExternalHost) == "" {
		result.AddError("server.external_host", "external host is required, clients connect to it")
	} else if ip := net.ParseIP(s.ExternalHost); ip != nil && ip.IsUnspecified() {
		result.AddError("server.external_host", "external host cannot be an unspecified address")
	} else if ip != nil && ip.IsLoopback() {
		result.AddWarning("server.external_host", "external host is a loopback address, only local clients can connect")
	}

	if s.BindAddress != "" && net.ParseIP(s.BindAddress) == nil {
		result.AddError("server.bind_address", fmt.Sprintf("not an IP address: %s", s.BindAddress))
	}
}

func validateRouter(r *RouterConfig, result *ValidationResult) {
	if r.IdleTimeoutSec < 0 {
		result.AddError("router.idle_timeout_sec", "idle timeout cannot be negative")
	} else if r.IdleTimeoutSec > 0 && r.IdleTimeoutSec < 30 {
		result.AddWarning("router.idle_timeout_sec", "idle timeout under 30s will drop clients between keep-alives")
	}

	if r.KeyBits < 128 || r.KeyBits%2 != 0 {
		result.AddError("router.key_bits", fmt.Sprintf("unsupported key size: %d", r.KeyBits))
	} else if r.KeyBits != gscrypt.DefaultKeyBits {
		result.AddWarning("router.key_bits", fmt.Sprintf("legacy clients expect %d-bit keys", gscrypt.DefaultKeyBits))
	}
	if r.KeyBits > 8*gscrypt.ModulusWidth {
		result.AddError("router.key_bits", fmt.Sprintf("key size exceeds the %d-bit wire limit", 8*gscrypt.ModulusWidth))
	}

	if r.KeyExponent < 3 || r.KeyExponent%2 == 0 {
		result.AddError("router.key_exponent", fmt.Sprintf("public exponent must be odd and at least 3: %d", r.KeyExponent))
	}
}

func validateCDKey(c *CDKeyConfig, result *ValidationResult) {
	switch n := len(c.StaticKey); {
	case n == 0:
		result.AddError("cdkey.static_key", "static key is required")
	case n > gscrypt.MaxKeySize:
		result.AddWarning("cdkey.static_key",
			fmt.Sprintf("static key is %d bytes, only the first %d are used", n, gscrypt.MaxKeySize))
	}
}

func validateGames(games []string, result *ValidationResult) {
	if len(games) == 0 {
		result.AddWarning("games", "no products configured, every GSConnect request will be rejected")
	}
	seen := make(map[string]bool, len(games))
	for _, g := range games {
		if strings.TrimSpace(g) == "" {
			result.AddError("games", "product id cannot be empty")
			continue
		}
		if seen[g] {
			result.AddWarning("games", fmt.Sprintf("duplicate product id: %s", g))
		}
		seen[g] = true
	}
}

// validatePorts checks every enabled listener and detects conflicts. TCP
// and UDP ports live in separate spaces.
func validatePorts(cfg *Config, result *ValidationResult) {
	tcp := make(map[int]string)
	udp := make(map[int]string)
	claimIn := func(used map[int]string, port int, field string) {
		validatePort(port, field, result)
		if other, ok := used[port]; ok {
			result.AddError(field, fmt.Sprintf("port conflict with %s: %d", other, port))
			return
		}
		used[port] = field
	}
	claim := func(port int, field string) { claimIn(tcp, port, field) }

	if cfg.Router.Enabled {
		claim(cfg.Router.Port, "router.port")
		claim(cfg.Router.WaitModulePort, "router.wait_module_port")
	}
	if cfg.GSConnect.Enabled {
		claim(cfg.GSConnect.Port, "gsconnect.port")
	}
	if cfg.API.Enabled && !(cfg.GSConnect.Enabled && cfg.API.Port == cfg.GSConnect.Port) {
		claim(cfg.API.Port, "api.port")
	}
	if cfg.CDKey.Enabled {
		claimIn(udp, cfg.CDKey.Port, "cdkey.port")
	}

	// Disabled services are still announced in the manifest.
	if cfg.NAT.Enabled {
		claimIn(udp, cfg.NAT.Port, "nat.port")
	} else {
		validateAnnouncedPort(cfg.NAT.Port, "nat.port", result)
	}
	if cfg.IRC.Enabled {
		claim(cfg.IRC.Port, "irc.port")
	} else {
		validateAnnouncedPort(cfg.IRC.Port, "irc.port", result)
	}
	if cfg.Proxy.Enabled {
		claim(cfg.Proxy.Port, "proxy.port")
	} else {
		validateAnnouncedPort(cfg.Proxy.Port, "proxy.port", result)
	}
}

func validateApplication(cfg *Config, result *ValidationResult) {
	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
	}

	if cfg.API.Enabled {
		if cfg.API.TLSEnabled {
			if strings.TrimSpace(cfg.API.TLSCertFile) == "" {
				result.AddError("api.tls_cert_file", "TLS certificate file is required when TLS is enabled")
			}
			if strings.TrimSpace(cfg.API.TLSKeyFile) == "" {
				result.AddError("api.tls_key_file", "TLS key file is required when TLS is enabled")
			}
		}
		if cfg.API.RateLimitRPS < 1 {
			result.AddWarning("api.rate_limit_rps",
				"rate limit is disabled (0 RPS), this may expose the API to abuse")
		}
	}

	if strings.TrimSpace(cfg.Database.Path) == "" {
		result.AddError("database.path", "database path is required")
	}
	if cfg.Database.RetentionDays < 1 {
		result.AddError("database.retention_days", "retention days must be at least 1")
	}

	if cfg.Timers.StaleSweepInterval < 1 {
		result.AddError("timers.stale_sweep_interval_sec", "interval must be at least 1 second")
	}
	if cfg.Timers.AuditPruneInterval < 60 {
		result.AddWarning("timers.audit_prune_interval_sec", "pruning more than once a minute wastes database work")
	}
	if cfg.MQTT.Enabled && cfg.Timers.HeartbeatInterval < 10 {
		result.AddWarning("timers.heartbeat_interval_sec",
			"heartbeat interval less than 10s may cause excessive traffic")
	}

	if cfg.Discovery.Enabled && strings.TrimSpace(cfg.Discovery.Instance) == "" {
		result.AddError("discovery.instance", "instance name is required when discovery is enabled")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

func validateAnnouncedPort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
	}
}

// IsPortAvailable reports whether port can be bound on all interfaces.
// network is "tcp" or "udp".
func IsPortAvailable(network string, port int) bool {
	addr := fmt.Sprintf(":%d", port)
	if network == "udp" {
		pc, err := net.ListenPacket("udp", addr)
		if err != nil {
			return false
		}
		pc.Close()
		return true
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
