// Package discovery advertises the gsemu services on the local network over
// mDNS so LAN tools can find a running instance.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gsemu-project/gsemu/internal/config"
)

// Service types announced by the advertiser.
const (
	ServiceRouter = "_gsrouter._tcp"
	ServiceCDKey  = "_gscdkey._udp"
	ServiceNAT    = "_gsnat._udp"
	ServiceIRC    = "_gsirc._tcp"
	ServiceProxy  = "_gsproxy._tcp"
	DefaultDomain = "local."
)

var (
	ErrClosed         = errors.New("discovery: advertiser closed")
	ErrAlreadyStarted = errors.New("discovery: already advertising")
)

// MDNSServer is a running mDNS registration.
type MDNSServer interface {
	Shutdown()
}

// MDNSServerFactory creates mDNS registrations.
type MDNSServerFactory interface {
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

type zeroconfServerFactory struct{}

func (zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// Service is one endpoint to announce.
type Service struct {
	Type string
	Port int
	TXT  []string
}

// ServicesFromConfig lists the enabled services of cfg. The router entry
// carries the version in its TXT record.
func ServicesFromConfig(cfg *config.Config, version string) []Service {
	var services []Service
	if r := cfg.GetRouter(); r.Enabled {
		services = append(services, Service{Type: ServiceRouter, Port: r.Port, TXT: []string{"version=" + version}})
	}
	for _, svc := range []struct {
		typ string
		lc  config.ListenerConfig
	}{
		{ServiceCDKey, config.ListenerConfig{Enabled: cfg.GetCDKey().Enabled, Port: cfg.GetCDKey().Port}},
		{ServiceNAT, cfg.GetNAT()},
		{ServiceIRC, cfg.GetIRC()},
		{ServiceProxy, cfg.GetProxy()},
	} {
		if svc.lc.Enabled {
			services = append(services, Service{Type: svc.typ, Port: svc.lc.Port})
		}
	}
	return services
}

// AdvertiserConfig configures an Advertiser.
type AdvertiserConfig struct {
	// Instance is the DNS-SD instance name.
	Instance string
	Services []Service
	// Interfaces restricts the announcement. Nil means all interfaces.
	Interfaces []net.Interface
	// ServerFactory defaults to grandcat/zeroconf.
	ServerFactory MDNSServerFactory
}

// Advertiser publishes the configured services until stopped.
type Advertiser struct {
	cfg     AdvertiserConfig
	factory MDNSServerFactory
	logger  zerolog.Logger

	mu      sync.Mutex
	servers []MDNSServer
	started bool
	closed  bool
}

// NewAdvertiser creates an Advertiser.
func NewAdvertiser(cfg AdvertiserConfig) (*Advertiser, error) {
	if cfg.Instance == "" {
		return nil, fmt.Errorf("discovery: instance name required")
	}
	factory := cfg.ServerFactory
	if factory == nil {
		factory = zeroconfServerFactory{}
	}
	return &Advertiser{
		cfg:     cfg,
		factory: factory,
		logger:  log.With().Str("component", "discovery").Logger(),
	}, nil
}

// Advertise registers every service. A failed registration shuts down the
// ones already made.
func (a *Advertiser) Advertise() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.started {
		return ErrAlreadyStarted
	}

	for _, svc := range a.cfg.Services {
		server, err := a.factory.Register(a.cfg.Instance, svc.Type, DefaultDomain, svc.Port, svc.TXT, a.cfg.Interfaces)
		if err != nil {
			a.shutdownLocked()
			return fmt.Errorf("discovery: mDNS registration failed for %s: %w", svc.Type, err)
		}
		a.servers = append(a.servers, server)
		a.logger.Info().
			Str("instance", a.cfg.Instance).
			Str("service", svc.Type).
			Int("port", svc.Port).
			Msg("mDNS service registered")
	}
	a.started = true
	return nil
}

// Run advertises until ctx is cancelled, then withdraws every service.
func (a *Advertiser) Run(ctx context.Context) error {
	if err := a.Advertise(); err != nil {
		return err
	}
	<-ctx.Done()
	a.Close()
	return nil
}

// Close withdraws every registration. Further calls to Advertise fail.
func (a *Advertiser) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.shutdownLocked()
}

func (a *Advertiser) shutdownLocked() {
	for _, s := range a.servers {
		s.Shutdown()
	}
	if len(a.servers) > 0 {
		a.logger.Info().Int("count", len(a.servers)).Msg("mDNS services withdrawn")
	}
	a.servers = nil
}
