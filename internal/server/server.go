package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lmbridge/lmbridge/internal/auth"
	"github.com/lmbridge/lmbridge/internal/cache"
	"github.com/lmbridge/lmbridge/internal/config"
	"github.com/lmbridge/lmbridge/internal/llmclient"
	"github.com/lmbridge/lmbridge/internal/obs"
	"github.com/lmbridge/lmbridge/internal/obs/otel"
	"github.com/lmbridge/lmbridge/internal/record"
	"github.com/lmbridge/lmbridge/internal/routing"
	"github.com/lmbridge/lmbridge/internal/util"
)

// Server is the translating proxy: the Anthropic Messages surface on the
// front, chat-completions backends behind it.
type Server struct {
	config     *config.Config
	engine     *gin.Engine
	httpServer *http.Server
	watcher    *config.ConfigWatcher

	router     *routing.Router
	cacheRules *routing.CacheRules
	clients    *llmclient.Pool
	cache      *cache.Cache
	probe      *backendProbe

	metrics     *obs.Metrics
	tracker     *otel.RequestTracker
	requestLog  *record.RequestLog
	traceWriter *record.TraceWriter
	stateLog    *obs.StateLog

	jwtMu      sync.RWMutex
	jwtManager *auth.JWTManager

	// options
	version    string
	logOptions obs.LogOptions
}

// ServerOption defines a functional option for Server configuration
type ServerOption func(*Server)

func WithVersion(version string) ServerOption {
	return func(s *Server) {
		s.version = version
	}
}

// WithTracker attaches the OTel request tracker. A nil tracker records
// nothing.
func WithTracker(tracker *otel.RequestTracker) ServerOption {
	return func(s *Server) {
		s.tracker = tracker
	}
}

// WithStateLog attaches the admin state log used to record server status
// and administrative actions.
func WithStateLog(stateLog *obs.StateLog) ServerOption {
	return func(s *Server) {
		s.stateLog = stateLog
	}
}

// WithLogOptions remembers the process logging options so configuration
// reloads can re-apply them with an updated level.
func WithLogOptions(opts obs.LogOptions) ServerOption {
	return func(s *Server) {
		s.logOptions = opts
	}
}

// NewServer creates a server instance wired from cfg.
func NewServer(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	server := &Server{
		config: cfg,
	}
	for _, opt := range opts {
		opt(server)
	}

	router, err := routing.NewRouter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build router: %w", err)
	}
	cacheRules, err := routing.NewCacheRules(cfg.GetCacheRules())
	if err != nil {
		return nil, fmt.Errorf("failed to compile cache rules: %w", err)
	}
	traceWriter, err := record.NewTraceWriter(cfg.GetTraceDir(), cfg.GetTraceFilter())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace writer: %w", err)
	}

	server.engine = gin.New()
	server.router = router
	server.cacheRules = cacheRules
	server.clients = llmclient.NewPool()
	server.cache = cache.New(cfg.GetCacheMaxBytes())
	server.probe = newBackendProbe(probeTTL)
	server.metrics = obs.NewMetrics()
	server.requestLog = record.NewRequestLog(cfg.GetRequestLog())
	server.traceWriter = traceWriter
	server.jwtManager = auth.NewJWTManager(cfg.GetJWTSecret())

	server.setupMiddleware()
	server.setupRoutes()
	server.setupConfigWatcher()

	return server, nil
}

// setupConfigWatcher initializes the configuration hot-reload watcher
func (s *Server) setupConfigWatcher() {
	watcher, err := config.NewConfigWatcher(s.config)
	if err != nil {
		logrus.Warnf("Failed to create config watcher: %v", err)
		return
	}
	s.watcher = watcher

	watcher.AddCallback(func(newConfig *config.Config) {
		logrus.Debugln("Configuration updated, reloading...")

		opts := s.logOptions
		opts.Level = newConfig.GetLogLevel()
		obs.SetupLogging(opts)

		s.setJWT(auth.NewJWTManager(newConfig.GetJWTSecret()))

		if err := s.router.Reload(); err != nil {
			logrus.Errorf("Failed to reload routes, keeping previous table: %v", err)
		}
		if err := s.cacheRules.SetRules(newConfig.GetCacheRules()); err != nil {
			logrus.Errorf("Failed to update cache rules, keeping previous rules: %v", err)
		}
		if err := s.traceWriter.SetFilter(newConfig.GetTraceFilter()); err != nil {
			logrus.Errorf("Failed to update trace filter, keeping previous filter: %v", err)
		}

		// Backend URLs or keys may have changed; drop pooled clients so
		// the next request dials fresh.
		s.clients.Clear()
	})
}

// setupMiddleware configures server middleware
func (s *Server) setupMiddleware() {
	s.engine.Use(gin.Recovery())
	s.engine.Use(requestLogMiddleware())
	s.engine.Use(corsMiddleware())
}

// setupRoutes configures server routes
func (s *Server) setupRoutes() {
	// Anthropic v1 API surface
	v1 := s.engine.Group("/v1")
	{
		v1.POST("/messages", s.AnthropicMessages)
		v1.POST("/messages/count_tokens", s.AnthropicCountTokens)
		v1.GET("/models", s.AnthropicListModels)
	}

	s.engine.GET("/health", s.Health)
	s.engine.GET("/metrics", s.adminAuthMiddleware(), s.Metrics)

	admin := s.engine.Group("/admin", s.adminAuthMiddleware())
	{
		admin.POST("/cache/clear", s.ClearCache)
	}
}

// Start runs the HTTP server on addr and blocks until it exits.
func (s *Server) Start(addr string) error {
	if s.watcher != nil {
		if err := s.watcher.Start(); err != nil {
			logrus.Warnf("Failed to start config watcher: %v", err)
		} else {
			logrus.Debugln("Configuration hot-reload enabled")
		}
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	resolvedHost := util.ResolveHost(host)
	fmt.Printf("Anthropic Messages endpoint: http://%s:%s/v1/messages\n", resolvedHost, port)
	fmt.Printf("Backend: %s\n", s.config.DefaultBackend().BaseURL)

	serverError := make(chan error, 1)
	go func() {
		serverError <- s.httpServer.ListenAndServe()
	}()

	// Poll the port instead of sleeping a fixed interval.
	if err := waitForPort(addr, 2*time.Second); err != nil {
		select {
		case e := <-serverError:
			return e
		default:
			return fmt.Errorf("timeout: server did not start on %s: %v", addr, err)
		}
	}

	if s.stateLog != nil {
		portNum, _ := strconv.Atoi(port)
		if err := s.stateLog.UpdateServerStatus(obs.ServerStatus{
			Timestamp:  time.Now(),
			Running:    true,
			Port:       portNum,
			BackendURL: s.config.DefaultBackend().BaseURL,
		}); err != nil {
			logrus.Debugf("Failed to record server status: %v", err)
		}
	}

	return <-serverError
}

// waitForPort polls addr until it accepts connections or the timeout
// passes.
func waitForPort(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("port %s not reachable", addr)
}

// GetRouter returns the Gin engine for testing purposes
func (s *Server) GetRouter() *gin.Engine {
	return s.engine
}

// CacheStats returns a snapshot of the cache counters, for metric
// observers.
func (s *Server) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// StreamStats returns a snapshot of the streaming-lifecycle counters,
// for metric observers.
func (s *Server) StreamStats() obs.StreamStats {
	return s.metrics.StreamStats()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			logrus.Debugf("Failed to stop config watcher: %v", err)
		}
	}

	s.requestLog.Close()

	if s.stateLog != nil {
		if err := s.stateLog.UpdateServerStatus(obs.ServerStatus{
			Timestamp: time.Now(),
			Running:   false,
			Uptime:    s.metrics.Uptime().String(),
		}); err != nil {
			logrus.Debugf("Failed to record server status: %v", err)
		}
	}

	if s.httpServer == nil {
		return nil
	}
	fmt.Println("Shutting down server...")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) jwt() *auth.JWTManager {
	s.jwtMu.RLock()
	defer s.jwtMu.RUnlock()
	return s.jwtManager
}

func (s *Server) setJWT(m *auth.JWTManager) {
	s.jwtMu.Lock()
	s.jwtManager = m
	s.jwtMu.Unlock()
}
