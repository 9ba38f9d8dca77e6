package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/gsemu-project/gsemu/internal/config"
	"github.com/gsemu-project/gsemu/internal/db"
	"github.com/gsemu-project/gsemu/internal/gsconnect"
	intnet "github.com/gsemu-project/gsemu/internal/network"
	"github.com/gsemu-project/gsemu/internal/util"
)

// ConnectionLister exposes the live router connections.
type ConnectionLister interface {
	Snapshot() []intnet.ConnectionInfo
	Count() int
}

// AuditReader exposes recent audit rows.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]db.AuditEntry, error)
}

// Deps are the runtime collaborators of the API. Nil collaborators make
// their routes answer 503.
type Deps struct {
	Connections ConnectionLister
	Audit       AuditReader
	Version     string
}

// Server serves the GSConnect endpoint and the admin API.
type Server struct {
	cfg     *config.Config
	deps    Deps
	catalog *gsconnect.Catalog
	started time.Time
	logger  zerolog.Logger

	mu      sync.Mutex
	servers []*http.Server
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if cfg.GetLogging().Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:     cfg,
		deps:    deps,
		catalog: NewCatalog(cfg),
		started: time.Now(),
		logger:  util.ComponentLogger("api"),
	}
}

// NewCatalog builds the GSConnect catalog from cfg. Every service is
// announced at the external host.
func NewCatalog(cfg *config.Config) *gsconnect.Catalog {
	return gsconnect.NewCatalog(gsconnect.Endpoints{
		Host:       cfg.GetServer().ExternalHost,
		RouterPort: cfg.GetRouter().Port,
		CDKeyPort:  cfg.GetCDKey().Port,
		NATPort:    cfg.GetNAT().Port,
		IRCPort:    cfg.GetIRC().Port,
		ProxyPort:  cfg.GetProxy().Port,
	}, cfg.GetGames())
}

// Start serves the admin API and the GSConnect endpoint on their
// configured ports until ctx is cancelled. When both share a port a single
// listener serves the full router.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetAPI()
	gsc := s.cfg.GetGSConnect()
	bind := s.cfg.GetServer().BindAddress

	type listener struct {
		name    string
		port    int
		handler http.Handler
		tls     bool
	}
	var listeners []listener

	if apiCfg.Enabled {
		listeners = append(listeners, listener{"admin API", apiCfg.Port, s.Handler(), apiCfg.TLSEnabled})
	}
	if gsc.Enabled && !(apiCfg.Enabled && gsc.Port == apiCfg.Port) {
		listeners = append(listeners, listener{"GSConnect", gsc.Port, s.GSConnectHandler(), false})
	}
	if len(listeners) == 0 {
		<-ctx.Done()
		return nil
	}

	errCh := make(chan error, len(listeners))
	for _, l := range listeners {
		addr := net.JoinHostPort(bind, strconv.Itoa(l.port))
		srv, ln, err := s.listen(ctx, addr, l.handler, l.tls)
		if err != nil {
			s.shutdown()
			return fmt.Errorf("%s: %w", l.name, err)
		}
		s.logger.Info().Str("addr", addr).Bool("tls", l.tls).Msgf("%s listening", l.name)

		l := l
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s server error: %w", l.name, err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		s.shutdown()
		return nil
	case err := <-errCh:
		s.shutdown()
		return err
	}
}

func (s *Server) listen(ctx context.Context, addr string, handler http.Handler, useTLS bool) (*http.Server, net.Listener, error) {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if useTLS {
		tlsConfig, err := s.tlsConfig()
		if err != nil {
			ln.Close()
			return nil, nil, err
		}
		srv.TLSConfig = tlsConfig
		ln = tls.NewListener(ln, tlsConfig)
	}

	s.mu.Lock()
	s.servers = append(s.servers, srv)
	s.mu.Unlock()
	return srv, ln, nil
}

// tlsConfig loads the configured certificate, generating a self-signed
// pair first when the files do not exist.
func (s *Server) tlsConfig() (*tls.Config, error) {
	apiCfg := s.cfg.GetAPI()
	if err := util.EnsureSelfSignedCert(apiCfg.TLSCertFile, apiCfg.TLSKeyFile, s.cfg.GetServer().ExternalHost); err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(apiCfg.TLSCertFile, apiCfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load API certificate: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil
}

func (s *Server) shutdown() {
	s.mu.Lock()
	servers := s.servers
	s.servers = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		srv.Shutdown(ctx)
	}
}

// Handler returns the full router: GSConnect and admin routes.
func (s *Server) Handler() http.Handler {
	router := s.newEngine()
	apiCfg := s.cfg.GetAPI()

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(NewRateLimiter(apiCfg.RateLimitRPS).Middleware())

	s.registerGSConnect(router)

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleInfo)
	}

	status := router.Group("/api/status")
	{
		status.GET("/connections", s.handleConnections)
		status.GET("/audit", s.handleAudit)
		status.GET("/games", s.handleGames)
		status.GET("/config", s.handleConfig)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// GSConnectHandler returns a router serving only the GSConnect routes, for
// the client-facing port.
func (s *Server) GSConnectHandler() http.Handler {
	router := s.newEngine()
	s.registerGSConnect(router)
	return router
}

func (s *Server) newEngine() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())
	return router
}

// Stop gracefully stops every listener.
func (s *Server) Stop() error {
	s.shutdown()
	return nil
}
