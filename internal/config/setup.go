package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// maxSetupAttempts bounds how often the wizard restarts after a failed
// validation.
const maxSetupAttempts = 3

// RunSetupWizard guides the user through first-time configuration, reading
// answers from in and writing prompts to out. Empty answers keep the current
// value.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	w := &wizard{reader: bufio.NewReader(in), out: out}

	w.println("╔══════════════════════════════════════════════╗")
	w.println("║            gsemu - First Run Setup           ║")
	w.println("╚══════════════════════════════════════════════╝")
	w.println()

	for attempt := 1; ; attempt++ {
		w.ask(cfg)

		result := Validate(cfg)
		if result.IsValid() {
			for _, warn := range result.Warnings {
				log.Warn().Str("field", warn.Field).Msg(warn.Message)
			}
			break
		}

		w.println()
		w.println("Configuration has errors:")
		for _, e := range result.Errors {
			w.printf("  - [%s] %s\n", e.Field, e.Message)
		}
		if attempt >= maxSetupAttempts || !w.promptBool("Would you like to try again?", true) {
			return fmt.Errorf("configuration validation failed")
		}
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	w.println()
	w.printf("Configuration saved to %s\n", cfg.Path())
	return nil
}

type wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

func (w *wizard) ask(cfg *Config) {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	w.println("── Addresses ──")
	cfg.Server.ExternalHost = w.promptString("Host clients connect to", cfg.Server.ExternalHost)
	cfg.Server.BindAddress = w.promptString("Local bind address", cfg.Server.BindAddress)

	w.println()
	w.println("── Router ──")
	cfg.Router.Enabled = w.promptBool("Enable router", cfg.Router.Enabled)
	if cfg.Router.Enabled {
		cfg.Router.Port = w.promptInt("Router port", cfg.Router.Port)
		cfg.Router.WaitModulePort = w.promptInt("Wait module port", cfg.Router.WaitModulePort)
	}

	w.println()
	w.println("── CD-Key ──")
	cfg.CDKey.Enabled = w.promptBool("Enable CD-key service", cfg.CDKey.Enabled)
	if cfg.CDKey.Enabled {
		cfg.CDKey.Port = w.promptInt("CD-key UDP port", cfg.CDKey.Port)
	}

	w.println()
	w.println("── GSConnect ──")
	cfg.GSConnect.Enabled = w.promptBool("Serve the GSConnect manifest", cfg.GSConnect.Enabled)
	if cfg.GSConnect.Enabled {
		cfg.GSConnect.Port = w.promptInt("GSConnect HTTP port", cfg.GSConnect.Port)
	}
	games := w.promptString("Product ids (comma separated)", strings.Join(cfg.Games, ","))
	cfg.Games = splitList(games)

	w.println()
	w.println("── Admin API ──")
	cfg.API.Enabled = w.promptBool("Enable admin API", cfg.API.Enabled)
	if cfg.API.Enabled {
		cfg.API.Port = w.promptInt("Admin API port", cfg.API.Port)
	}

	w.println()
	w.println("── Lobby Services ──")
	cfg.NAT.Enabled = w.promptBool("Enable NAT negotiation service", cfg.NAT.Enabled)
	if cfg.NAT.Enabled {
		cfg.NAT.Port = w.promptInt("NAT UDP port", cfg.NAT.Port)
	}
	cfg.IRC.Enabled = w.promptBool("Enable IRC listener", cfg.IRC.Enabled)
	if cfg.IRC.Enabled {
		cfg.IRC.Port = w.promptInt("IRC port", cfg.IRC.Port)
	}
	cfg.Proxy.Enabled = w.promptBool("Enable proxy listener", cfg.Proxy.Enabled)
	if cfg.Proxy.Enabled {
		cfg.Proxy.Port = w.promptInt("Proxy port", cfg.Proxy.Port)
	}

	w.println()
	w.println("── Integrations ──")
	cfg.MQTT.Enabled = w.promptBool("Enable MQTT telemetry", cfg.MQTT.Enabled)
	if cfg.MQTT.Enabled {
		cfg.MQTT.BrokerURL = w.promptString("MQTT broker host", cfg.MQTT.BrokerURL)
		cfg.MQTT.Port = w.promptInt("MQTT broker port", cfg.MQTT.Port)
	}
	cfg.Discovery.Enabled = w.promptBool("Advertise on the LAN (mDNS)", cfg.Discovery.Enabled)
}

func (w *wizard) println(a ...any) {
	fmt.Fprintln(w.out, a...)
}

func (w *wizard) printf(format string, a ...any) {
	fmt.Fprintf(w.out, format, a...)
}

func (w *wizard) readLine() string {
	input, _ := w.reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func (w *wizard) promptString(prompt string, defaultVal string) string {
	if defaultVal != "" {
		w.printf("  %s [%s]: ", prompt, defaultVal)
	} else {
		w.printf("  %s: ", prompt)
	}

	input := w.readLine()
	if input == "" {
		return defaultVal
	}
	return input
}

func (w *wizard) promptInt(prompt string, defaultVal int) int {
	w.printf("  %s [%d]: ", prompt, defaultVal)

	input := w.readLine()
	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		w.printf("    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (w *wizard) promptBool(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	w.printf("  %s [%s]: ", prompt, defaultStr)

	input := strings.ToLower(w.readLine())
	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
