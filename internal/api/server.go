// Package api serves the device services over HTTP and streams events to
// WebSocket clients.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benmeehan/debloat-agent/internal/bridge"
	"github.com/benmeehan/debloat-agent/internal/catalog"
	"github.com/benmeehan/debloat-agent/internal/devices"
	"github.com/benmeehan/debloat-agent/internal/events"
	"github.com/benmeehan/debloat-agent/internal/middleware"
	"github.com/benmeehan/debloat-agent/internal/models"
	"github.com/benmeehan/debloat-agent/internal/services"
	"github.com/benmeehan/debloat-agent/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 5 * time.Second

// HistoryReader is the read side of the action history.
type HistoryReader interface {
	List(ctx context.Context, f storage.HistoryFilter) ([]models.ActionRecord, error)
}

// Deps are the services exposed by the API. Backups, History, Server and
// Hub may be nil; their routes then answer 503.
type Deps struct {
	Devices  *devices.Registry
	Packages *services.PackageService
	Health   *services.HealthService
	Backups  *services.BackupService
	Catalog  *catalog.Catalog
	History  HistoryReader
	Server   *bridge.ServerControl
	Hub      *events.Hub
}

// Options configures the listener and the per-client rate limit.
type Options struct {
	Listen    string
	RateLimit float64
	Burst     int
}

// Server is the HTTP API. It implements the registry Service interface.
type Server struct {
	deps    Deps
	opts    Options
	engine  *gin.Engine
	limiter *middleware.RateLimiter
	logger  zerolog.Logger

	mu   sync.Mutex
	http *http.Server
	addr net.Addr
	wg   sync.WaitGroup
}

// NewServer builds the router. Nothing listens until Start.
func NewServer(deps Deps, opts Options, logger zerolog.Logger) *Server {
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 40
	}
	s := &Server{
		deps:    deps,
		opts:    opts,
		limiter: middleware.NewRateLimiter(rate.Limit(opts.RateLimit), opts.Burst),
		logger:  logger,
	}
	s.engine = s.routes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(s.logger), middleware.RequestLogger(s.logger))

	if s.deps.Hub != nil {
		r.GET("/ws", s.deps.Hub.HandleWebSocket())
	}

	api := r.Group("/api")
	api.Use(s.limiter.Middleware())

	api.GET("/devices", s.listDevices)
	api.GET("/device", s.deviceInfo)
	api.GET("/device/properties", s.deviceProperties)

	api.POST("/packages/stream", s.streamPackages)
	api.GET("/packages", s.listPackages)
	api.GET("/packages/cached", s.cachedPackages)
	api.GET("/packages/cache", s.cacheStatus)
	api.DELETE("/packages/cache", s.clearPackageCache)
	api.POST("/packages/:name/uninstall", s.uninstall)
	api.POST("/packages/:name/reinstall", s.reinstall)

	api.GET("/catalog", s.catalogAll)
	api.GET("/catalog/:name", s.catalogEntry)

	api.GET("/health", s.collectHealth)
	api.POST("/health/monitor", s.startMonitor)
	api.DELETE("/health/monitor", s.stopMonitor)
	api.DELETE("/health/cache", s.clearHealthCache)

	api.GET("/backups", s.listBackups)
	api.POST("/backups", s.createBackup)
	api.POST("/backups/import", s.importBackup)
	api.GET("/backups/:file", s.loadBackup)
	api.POST("/backups/:file/restore", s.restoreBackup)
	api.DELETE("/backups/:file", s.deleteBackup)

	api.GET("/history", s.listHistory)

	api.GET("/bridge/version", s.bridgeVersion)
	api.POST("/bridge/start", s.startBridge)
	api.POST("/bridge/kill", s.killBridge)
	api.POST("/bridge/restart", s.restartBridge)
	api.POST("/bridge/connect", s.connectDevice)
	api.POST("/bridge/disconnect", s.disconnectDevice)

	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return errors.New("api server is already running")
	}

	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return err
	}
	s.http = &http.Server{Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	s.addr = ln.Addr()

	srv := s.http
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("API server stopped unexpectedly")
		}
	}()

	s.logger.Info().Str("addr", s.addr.String()).Msg("API server started")
	return nil
}

// Addr returns the bound address while running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop shuts the server down, waiting for in-flight requests.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.http
	s.http = nil
	s.addr = nil
	s.mu.Unlock()
	if srv == nil {
		return errors.New("api server is not running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(ctx)
	s.wg.Wait()
	s.limiter.Stop()

	s.logger.Info().Msg("API server stopped")
	return err
}
