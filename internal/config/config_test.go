package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	result := Validate(DefaultConfig())
	if !result.IsValid() {
		t.Fatalf("default config has errors: %v", result.Errors)
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Path() != filepath.Join(dir, DefaultConfigFile) {
		t.Fatalf("path = %s", cfg.Path())
	}
	if _, err := os.Stat(cfg.Path()); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if got := cfg.GetRouter().Port; got != DefaultRouterPort {
		t.Fatalf("router port = %d, want %d", got, DefaultRouterPort)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	partial := `{"router": {"port": 41000}, "games": ["HEROES_5"]}`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.GetRouter().Port; got != 41000 {
		t.Errorf("router port = %d, want 41000", got)
	}
	// Fields absent from the file keep their defaults.
	if got := cfg.GetRouter().KeyExponent; got != 3 {
		t.Errorf("key exponent = %d, want 3", got)
	}
	if got := cfg.GetCDKey().Port; got != DefaultCDKeyPort {
		t.Errorf("cdkey port = %d, want %d", got, DefaultCDKeyPort)
	}
	if !cfg.HasGame("HEROES_5") || cfg.HasGame("SPLINTERCELL3PC") {
		t.Errorf("games = %v", cfg.GetGames())
	}

	// The file is re-saved with every option listed.
	data, err := os.ReadFile(cfg.Path())
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("re-saved file: %v", err)
	}
	for _, key := range []string{"server", "cdkey", "gsconnect", "nat", "irc", "proxy", "api", "mqtt", "database", "discovery"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("re-saved file lacks %q", key)
		}
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestWaitModuleHost(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.ExternalHost = "203.0.113.7"
	if got := cfg.WaitModuleHost(); got != "203.0.113.7" {
		t.Fatalf("fallback host = %s", got)
	}
	cfg.Router.WaitModuleHost = "10.0.0.5"
	if got := cfg.WaitModuleHost(); got != "10.0.0.5" {
		t.Fatalf("explicit host = %s", got)
	}
}

func TestGetGamesReturnsCopy(t *testing.T) {
	cfg := DefaultConfig()
	games := cfg.GetGames()
	games[0] = "MUTATED"
	if cfg.HasGame("MUTATED") {
		t.Fatalf("GetGames exposed internal slice")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty external host", func(c *Config) { c.Server.ExternalHost = "" }, "server.external_host"},
		{"unspecified external host", func(c *Config) { c.Server.ExternalHost = "0.0.0.0" }, "server.external_host"},
		{"bad bind address", func(c *Config) { c.Server.BindAddress = "localhost" }, "server.bind_address"},
		{"router port out of range", func(c *Config) { c.Router.Port = 70000 }, "router.port"},
		{"router and wait module share a port", func(c *Config) { c.Router.WaitModulePort = c.Router.Port }, "router.wait_module_port"},
		{"api clashes with router", func(c *Config) { c.API.Port = c.Router.Port }, "api.port"},
		{"odd key size", func(c *Config) { c.Router.KeyBits = 511 }, "router.key_bits"},
		{"key size beyond wire limit", func(c *Config) { c.Router.KeyBits = 2048 }, "router.key_bits"},
		{"even exponent", func(c *Config) { c.Router.KeyExponent = 4 }, "router.key_exponent"},
		{"empty static key", func(c *Config) { c.CDKey.StaticKey = "" }, "cdkey.static_key"},
		{"empty product id", func(c *Config) { c.Games = []string{" "} }, "games"},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.BrokerURL = "" }, "mqtt.broker_url"},
		{"tls without cert", func(c *Config) { c.API.TLSEnabled = true }, "api.tls_cert_file"},
		{"nat shares the cdkey port", func(c *Config) { c.NAT.Port = c.CDKey.Port }, "nat.port"},
		{"irc clashes with router", func(c *Config) { c.IRC.Port = c.Router.Port }, "irc.port"},
		{"proxy clashes with irc", func(c *Config) { c.Proxy.Port = c.IRC.Port }, "proxy.port"},
		{"disabled irc still announced", func(c *Config) { c.IRC.Enabled = false; c.IRC.Port = 0 }, "irc.port"},
		{"zero retention", func(c *Config) { c.Database.RetentionDays = 0 }, "database.retention_days"},
		{"zero sweep interval", func(c *Config) { c.Timers.StaleSweepInterval = 0 }, "timers.stale_sweep_interval_sec"},
		{"discovery without instance", func(c *Config) { c.Discovery.Enabled = true; c.Discovery.Instance = "" }, "discovery.instance"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			result := Validate(cfg)
			if !result.HasError(tt.field) {
				t.Fatalf("no error for %s, got %v", tt.field, result.Errors)
			}
		})
	}
}

func TestValidateDisabledServicesSkipPorts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Router.Enabled = false
	cfg.Router.Port = 0
	cfg.CDKey.Enabled = false
	cfg.CDKey.Port = -1

	result := Validate(cfg)
	if result.HasError("router.port") || result.HasError("cdkey.port") {
		t.Fatalf("disabled services validated: %v", result.Errors)
	}
}

func TestValidateUDPAndTCPPortsIndependent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NAT.Port = cfg.Router.Port
	if result := Validate(cfg); result.HasError("nat.port") {
		t.Fatalf("UDP port flagged against TCP listener: %v", result.Errors)
	}
}

func TestServicesListsLobbyListeners(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Proxy.Enabled = false

	got := map[string]ServiceEndpoint{}
	for _, svc := range cfg.Services() {
		got[svc.Name] = svc
	}
	if nat := got["gsnat"]; nat.Protocol != "udp" || nat.Port != DefaultNATPort || !nat.Enabled {
		t.Errorf("gsnat = %+v", nat)
	}
	if irc := got["irc"]; irc.Protocol != "tcp" || irc.Port != DefaultIRCPort {
		t.Errorf("irc = %+v", irc)
	}
	if proxy := got["proxy"]; proxy.Enabled {
		t.Errorf("proxy = %+v", proxy)
	}
}

func TestValidateAPISharingGSConnectPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.Port = cfg.GSConnect.Port
	if result := Validate(cfg); result.HasError("api.port") {
		t.Fatalf("shared GSConnect listener flagged: %v", result.Errors)
	}
}

func TestValidateWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CDKey.StaticKey = strings.Repeat("k", 60)
	cfg.Games = nil

	result := Validate(cfg)
	if !result.IsValid() {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	fields := map[string]bool{}
	for _, w := range result.Warnings {
		fields[w.Field] = true
	}
	for _, f := range []string{"cdkey.static_key", "games", "server.external_host"} {
		if !fields[f] {
			t.Errorf("missing warning for %s", f)
		}
	}
}

func TestSetupWizard(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.SetPath(filepath.Join(dir, DefaultConfigFile))

	answers := strings.Join([]string{
		"10.0.0.9", // external host
		"",         // bind address
		"no",       // router
		"",         // cdkey enabled
		"44100",    // cdkey port
		"",         // gsconnect enabled
		"",         // gsconnect port
		"HEROES_5, SPLINTERCELL3PC",
	}, "\n") + "\n"

	var out bytes.Buffer
	if err := RunSetupWizard(cfg, strings.NewReader(answers), &out); err != nil {
		t.Fatalf("RunSetupWizard: %v\n%s", err, out.String())
	}

	if got := cfg.GetServer().ExternalHost; got != "10.0.0.9" {
		t.Errorf("external host = %s", got)
	}
	if cfg.GetRouter().Enabled {
		t.Errorf("router still enabled")
	}
	if got := cfg.GetCDKey().Port; got != 44100 {
		t.Errorf("cdkey port = %d", got)
	}
	if games := cfg.GetGames(); len(games) != 2 || games[1] != "SPLINTERCELL3PC" {
		t.Errorf("games = %v", games)
	}

	reloaded, err := Load(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := reloaded.GetCDKey().Port; got != 44100 {
		t.Errorf("saved cdkey port = %d", got)
	}
}

func TestSetupWizardGivesUp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SetPath(filepath.Join(t.TempDir(), DefaultConfigFile))
	// Not asked by the wizard, so every attempt fails validation.
	cfg.Router.KeyExponent = 2

	var out bytes.Buffer
	if err := RunSetupWizard(cfg, strings.NewReader(""), &out); err == nil {
		t.Fatalf("expected validation failure")
	}
	if _, err := os.Stat(cfg.Path()); !os.IsNotExist(err) {
		t.Fatalf("invalid config was saved")
	}
	if !strings.Contains(out.String(), "router.key_exponent") {
		t.Fatalf("errors not reported:\n%s", out.String())
	}
}
