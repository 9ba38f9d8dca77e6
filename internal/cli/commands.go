// Package cli implements the gsemu subcommands: status and setup against the
// configuration, plus an offline decoder for captured router and CD-key
// traffic.
package cli

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/gsemu-project/gsemu/internal/cdkey"
	"github.com/gsemu-project/gsemu/internal/config"
	"github.com/gsemu-project/gsemu/internal/protocol"
)

// ErrUnknownCommand is returned by Execute for an unrecognised subcommand.
var ErrUnknownCommand = errors.New("unknown command")

// CLI runs one subcommand against a loaded configuration.
type CLI struct {
	cfg     *config.Config
	version string
	in      io.Reader
	out     io.Writer
}

// NewCLI creates a new CLI handler.
func NewCLI(cfg *config.Config, version string, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:     cfg,
		version: version,
		in:      in,
		out:     out,
	}
}

// IsCommand reports whether name is a subcommand Execute handles.
func IsCommand(name string) bool {
	switch strings.ToLower(name) {
	case "help", "status", "version", "decode", "setup":
		return true
	}
	return false
}

// Execute runs the subcommand in args[0].
func (c *CLI) Execute(args []string) error {
	if len(args) == 0 {
		c.printHelp()
		return nil
	}

	cmd := strings.ToLower(args[0])
	rest := args[1:]

	switch cmd {
	case "help", "-h", "--help":
		c.printHelp()
	case "status":
		c.printStatus()
	case "version":
		fmt.Fprintf(c.out, "gsemu %s\n", c.version)
	case "decode":
		return c.cmdDecode(rest)
	case "setup":
		return config.RunSetupWizard(c.cfg, c.in, c.out)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "Usage: gsemu [-config dir] [command]")
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "Commands:")
	fmt.Fprintln(c.out, "  (none)                 Run the servers")
	fmt.Fprintln(c.out, "  status                 Show configured services and products")
	fmt.Fprintln(c.out, "  version                Print the version")
	fmt.Fprintln(c.out, "  decode [-cdkey] <hex>  Decode a captured router message or CD-key datagram")
	fmt.Fprintln(c.out, "  setup                  Run the configuration wizard")
	fmt.Fprintln(c.out, "  help                   Show this help message")
}

// printStatus displays the configured services and products in tables.
func (c *CLI) printStatus() {
	bind := c.cfg.GetServer().BindAddress

	fmt.Fprintf(c.out, "\nExternal host: %s\n", c.cfg.GetServer().ExternalHost)
	fmt.Fprintf(c.out, "Config file:   %s\n\n", c.cfg.Path())

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Service", "Protocol", "Address", "Enabled", "Port"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, svc := range c.cfg.Services() {
		enabled, port := "no", "-"
		if svc.Enabled {
			enabled, port = "yes", portState(svc)
		}
		tw.Append([]string{
			svc.Name,
			svc.Protocol,
			net.JoinHostPort(bind, strconv.Itoa(svc.Port)),
			enabled,
			port,
		})
	}
	tw.Render()
	fmt.Fprintln(c.out)

	games := c.cfg.GetGames()
	pt := tablewriter.NewWriter(c.out)
	pt.SetHeader([]string{"#", "Product"})
	pt.SetBorder(true)
	for i, g := range games {
		pt.Append([]string{strconv.Itoa(i + 1), g})
	}
	pt.Render()
	fmt.Fprintf(c.out, "%d products served\n\n", len(games))
}

// portState reports whether the service's port is free to bind. A port in
// use usually means gsemu is already running.
func portState(svc config.ServiceEndpoint) string {
	network := "tcp"
	if svc.Protocol == "udp" {
		network = "udp"
	}
	if config.IsPortAvailable(network, svc.Port) {
		return "free"
	}
	return "in use"
}

// cmdDecode decodes hex-encoded captured traffic. Whitespace and colons in
// the input are ignored.
func (c *CLI) cmdDecode(args []string) error {
	cdkeyMode := false
	if len(args) > 0 && (args[0] == "-cdkey" || args[0] == "--cdkey") {
		cdkeyMode = true
		args = args[1:]
	}
	if len(args) == 0 {
		return fmt.Errorf("usage: decode [-cdkey] <hex>")
	}

	buf, err := parseHex(strings.Join(args, ""))
	if err != nil {
		return err
	}

	if cdkeyMode {
		return c.decodeCDKey(buf)
	}
	return c.decodeRouter(buf)
}

func parseHex(s string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':':
			return -1
		}
		return r
	}, s)
	cleaned = strings.TrimPrefix(strings.TrimPrefix(cleaned, "0x"), "0X")

	buf, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex input: %w", err)
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	return buf, nil
}

// decodeRouter prints every message in buf. Session-encrypted payloads
// cannot be decoded offline and are reported as such.
func (c *CLI) decodeRouter(buf []byte) error {
	first, err := protocol.ParseMessage(buf, nil)
	if err != nil {
		return fmt.Errorf("decode router message: %w", err)
	}

	msgs, rest, err := protocol.ParseBundle(first, buf[first.Header.Size:], nil)

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Type", "Size", "Conf", "Prio", "Route", "Payload"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, m := range msgs {
		payload := "none"
		if m.Payload != nil {
			payload = m.Payload.String()
		}
		tw.Append([]string{
			m.Header.Type.String(),
			strconv.Itoa(int(m.Header.Size)),
			m.Header.Confidentiality.String(),
			strconv.Itoa(int(m.Header.Priority)),
			fmt.Sprintf("%d->%d", m.Header.Sender, m.Header.Receiver),
			payload,
		})
	}
	tw.Render()

	if len(rest) > 0 {
		fmt.Fprintf(c.out, "%d trailing bytes not decoded\n", len(rest))
	}
	if err != nil {
		return fmt.Errorf("decode bundled message: %w", err)
	}
	return nil
}

func (c *CLI) decodeCDKey(buf []byte) error {
	h, err := cdkey.NewHandler(c.cfg.GetCDKey().StaticKey)
	if err != nil {
		return err
	}
	req, err := protocol.ParseCDKeyRequest(buf, h.Cipher())
	if err != nil {
		return fmt.Errorf("decode cdkey datagram: %w", err)
	}

	data := "none"
	if req.Data != nil {
		data = req.Data.String()
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Field", "Value"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	tw.AppendBulk([][]string{
		{"Category", strconv.Itoa(int(req.Category))},
		{"Message ID", req.MessageID},
		{"Request", req.RequestType.String()},
		{"Unknown", req.Unknown},
		{"Data", data},
	})
	tw.Render()
	return nil
}
