// gsemu - legacy game services emulator.
//
// gsemu stands in for the discontinued online services of older titles: the
// GSConnect bootstrap endpoint, the router and wait module that take clients
// through key exchange and login, the UDP CD-key and NAT negotiation services, and
// the IRC and proxy lobby sockets. It also serves
// a read-only admin API, records an audit log and publishes MQTT telemetry.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gsemu-project/gsemu/internal/api"
	"github.com/gsemu-project/gsemu/internal/cdkey"
	"github.com/gsemu-project/gsemu/internal/cli"
	"github.com/gsemu-project/gsemu/internal/config"
	"github.com/gsemu-project/gsemu/internal/db"
	"github.com/gsemu-project/gsemu/internal/discovery"
	"github.com/gsemu-project/gsemu/internal/events"
	"github.com/gsemu-project/gsemu/internal/gsnat"
	"github.com/gsemu-project/gsemu/internal/network"
	"github.com/gsemu-project/gsemu/internal/router"
	"github.com/gsemu-project/gsemu/internal/scheduler"
	"github.com/gsemu-project/gsemu/internal/telemetry"
	"github.com/gsemu-project/gsemu/internal/util"
)

const (
	AppVersion = "1.0.0"
	Banner     = `
   __ _ ___  ___ _ __ ___  _   _
  / _' / __|/ _ \ '_ ' _ \| | | |
 | (_| \__ \  __/ | | | | | |_| |
  \__, |___/\___|_| |_| |_|\__,_|
   __/ |
  |___/  v%s
 Legacy Game Services Emulator
`
	bindRetries = 5
)

func main() {
	configDir := flag.String("config", config.DefaultConfigDir, "configuration directory")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		os.Exit(runCommand(*configDir, args))
	}

	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	if err := util.InitLogger(util.LogConfig{Level: "info", Directory: "logs", MaxBackups: 5, Console: true}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting gsemu")

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging := cfg.GetLogging()
	if err := util.InitLogger(util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxSizeMB:  logging.MaxSizeMB,
		MaxBackups: logging.MaxBackups,
		Console:    logging.Console,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Str("config", cfg.Path()).Msg("configuration validation failed, fix the errors above or run 'gsemu setup'")
	}

	if ip := net.ParseIP(cfg.GetServer().ExternalHost); ip != nil && ip.IsLoopback() {
		if lan, err := util.GetLocalIP(); err == nil {
			log.Warn().
				Str("external_host", ip.String()).
				Str("lan_ip", lan).
				Msg("external host is loopback, remote clients cannot connect; set server.external_host")
		}
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	run(cfg)
}

// runCommand executes a subcommand and returns the exit code.
func runCommand(configDir string, args []string) int {
	if !cli.IsCommand(args[0]) {
		fmt.Fprintf(os.Stderr, "unknown command %q, see 'gsemu help'\n", args[0])
		return 2
	}

	var cfg *config.Config
	switch args[0] {
	case "version", "help":
	default:
		var err error
		if cfg, err = config.Load(configDir); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
			return 1
		}
	}

	if err := cli.NewCLI(cfg, AppVersion, os.Stdin, os.Stdout).Execute(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func run(cfg *config.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()
	// Listener events outlive ctx so disconnects during shutdown still
	// reach the audit log.
	emit := eventBus.Emitter(context.Background())

	var audit *db.AuditStore
	dbCfg := cfg.GetDatabase()
	if store, err := db.OpenAuditStore(dbCfg.Path); err != nil {
		log.Warn().Err(err).Msg("failed to open audit log, auditing disabled")
	} else {
		audit = store
		audit.Subscribe(eventBus)
	}

	bind := cfg.GetServer().BindAddress
	routerCfg := cfg.GetRouter()
	registry := network.NewConnectionRegistry()

	var listeners []*network.RouterListener
	if routerCfg.Enabled {
		handlers := router.NewHandlers(router.Options{
			WaitModuleHost: cfg.WaitModuleHost(),
			WaitModulePort: routerCfg.WaitModulePort,
			KeyBits:        routerCfg.KeyBits,
			KeyExponent:    routerCfg.KeyExponent,
		})
		idle := time.Duration(routerCfg.IdleTimeoutSec) * time.Second
		for _, l := range []struct {
			name string
			port int
		}{
			{events.ServiceRouter, routerCfg.Port},
			{events.ServiceWaitModule, routerCfg.WaitModulePort},
		} {
			listeners = append(listeners, network.NewRouterListener(network.RouterListenerOptions{
				Name:        l.name,
				Addr:        hostPort(bind, l.port),
				Handlers:    handlers,
				Registry:    registry,
				Emit:        emit,
				IdleTimeout: idle,
			}))
		}
	}

	var cdkeyListener *network.CDKeyListener
	if cdkCfg := cfg.GetCDKey(); cdkCfg.Enabled {
		handler, err := cdkey.NewHandler(cdkCfg.StaticKey)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create CD-key handler")
		}
		cdkeyListener = network.NewCDKeyListener(hostPort(bind, cdkCfg.Port), handler, emit)
	}

	var natListener *network.NATListener
	if natCfg := cfg.GetNAT(); natCfg.Enabled {
		natListener = network.NewNATListener(hostPort(bind, natCfg.Port), gsnat.NewHandler(), emit)
	}

	var lineListeners []*network.LineListener
	for _, l := range []struct {
		name string
		lc   config.ListenerConfig
	}{
		{events.ServiceIRC, cfg.GetIRC()},
		{events.ServiceProxy, cfg.GetProxy()},
	} {
		if !l.lc.Enabled {
			continue
		}
		lineListeners = append(lineListeners, network.NewLineListener(network.LineListenerOptions{
			Name:        l.name,
			Addr:        hostPort(bind, l.lc.Port),
			Emit:        emit,
			IdleTimeout: time.Duration(routerCfg.IdleTimeoutSec) * time.Second,
		}))
	}

	deps := api.Deps{Connections: registry, Version: AppVersion}
	if audit != nil {
		deps.Audit = audit
	}
	apiServer := api.NewServer(cfg, deps)

	var mqttHandler *telemetry.MQTTHandler
	if cfg.GetMQTT().Enabled {
		h, err := telemetry.NewMQTTHandler(cfg, eventBus, AppVersion)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			mqttHandler = h
		}
	}

	schedOpts := scheduler.OptionsFromConfig(cfg)
	schedOpts.Connections = registry
	if audit != nil {
		schedOpts.Audit = audit
	}
	if mqttHandler != nil {
		schedOpts.Heartbeat = mqttHandler
	}
	if natListener != nil {
		schedOpts.Stats = append(schedOpts.Stats, natListener)
	}
	for _, l := range lineListeners {
		schedOpts.Stats = append(schedOpts.Stats, l)
	}
	sched := scheduler.NewScheduler(schedOpts)

	var advertiser *discovery.Advertiser
	if disc := cfg.GetDiscovery(); disc.Enabled {
		a, err := discovery.NewAdvertiser(discovery.AdvertiserConfig{
			Instance: disc.Instance,
			Services: discovery.ServicesFromConfig(cfg, AppVersion),
		})
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize discovery")
		} else {
			advertiser = a
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	spawn := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msgf("starting %s", name)
			fn()
		}()
	}

	for _, l := range listeners {
		l := l
		spawn(l.Name()+" listener", func() {
			if err := startWithRetry(ctx, l.Name(), l.Start, bindRetries); err != nil {
				errCh <- fmt.Errorf("%s listener: %w", l.Name(), err)
			}
		})
	}

	if cdkeyListener != nil {
		spawn("CD-key listener", func() {
			if err := startWithRetry(ctx, "cdkey", cdkeyListener.Start, bindRetries); err != nil {
				errCh <- fmt.Errorf("cdkey listener: %w", err)
			}
		})
	}

	if natListener != nil {
		spawn("NAT listener", func() {
			if err := startWithRetry(ctx, "gsnat", natListener.Start, bindRetries); err != nil {
				log.Warn().Err(err).Msg("NAT listener failed after retries (non-fatal)")
			}
		})
	}

	for _, l := range lineListeners {
		l := l
		spawn(l.Name()+" listener", func() {
			if err := startWithRetry(ctx, l.Name(), l.Start, bindRetries); err != nil {
				log.Warn().Err(err).Msgf("%s listener failed after retries (non-fatal)", l.Name())
			}
		})
	}

	spawn("HTTP servers", func() {
		if err := startWithRetry(ctx, "api", apiServer.Start, bindRetries); err != nil {
			log.Warn().Err(err).Msg("HTTP servers failed after retries (non-fatal)")
		}
	})

	if mqttHandler != nil {
		spawn("MQTT telemetry", func() {
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		})
	}

	spawn("task scheduler", func() { sched.Start(ctx) })

	if advertiser != nil {
		spawn("mDNS advertiser", func() {
			if err := advertiser.Run(ctx); err != nil {
				log.Warn().Err(err).Msg("mDNS advertisement failed")
			}
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	reason := "signal"
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		reason = "error"
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	// Delivered before cancel so MQTT is still connected.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := eventBus.EmitSync(shutdownCtx, events.New(events.EventShutdown, events.ServiceSystem, events.ShutdownPayload{Reason: reason})); err != nil {
		log.Warn().Err(err).Msg("shutdown event handlers failed")
	}
	shutdownCancel()

	cancel()
	registry.CloseAll()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	eventBus.Stop()

	if audit != nil {
		if err := audit.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close audit log")
		}
	}

	log.Info().Msg("gsemu stopped")
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// startWithRetry retries startFn while it fails, which covers ports still
// held by a previous process. It returns nil on success or the last error.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return nil
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
