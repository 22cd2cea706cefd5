package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/kubejarvis/easee-status/internal/config"
	"github.com/kubejarvis/easee-status/internal/easee"
	"github.com/kubejarvis/easee-status/internal/resource"
)

const (
	statesKey       = "charger_states"
	shutdownTimeout = 5 * time.Second
)

// StateSource returns the current state of every charger
type StateSource interface {
	ChargerStates(ctx context.Context) ([]easee.ChargerState, error)
}

// ResourceReporter provides the process snapshot shown on /healthz
type ResourceReporter interface {
	Current() resource.Snapshot
}

// cachedStates is what the cache holds under statesKey
type cachedStates struct {
	states    []easee.ChargerState
	fetchedAt time.Time
}

// Server serves charger state over HTTP
type Server struct {
	source    StateSource
	resources ResourceReporter
	cache     *cache.Cache
	ttl       time.Duration
	addr      string
	engine    *gin.Engine
	logger    *zap.Logger
	startTime time.Time

	// serializes refreshes so a stale cache triggers one API round trip
	refreshMu sync.Mutex
}

// New creates the server and registers its routes. resources may be nil.
func New(cfg config.ServerConfig, source StateSource, resources ResourceReporter, logger *zap.Logger) *Server {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}

	s := &Server{
		source:    source,
		resources: resources,
		cache:     cache.New(ttl, 2*ttl),
		ttl:       ttl,
		addr:      net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port)),
		logger:    logger.With(zap.String("module", "server")),
		startTime: time.Now(),
	}
	s.engine = s.initRouter()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) initRouter() *gin.Engine {
	g := gin.New()
	g.Use(s.requestLogger())
	g.Use(gin.Recovery())
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	g.GET("/", s.handleIndex)
	g.GET("/healthz", s.handleHealth)
	g.GET("/:field", s.handleField)
	g.GET("/:field/:index", s.handleFieldIndex)

	return g
}

// requestLogger logs every request through zap
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Info("Handled request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

// Run listens until ctx is done and then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// refresh fetches fresh states and stores them in the cache
func (s *Server) refresh(ctx context.Context) ([]easee.ChargerState, error) {
	states, err := s.source.ChargerStates(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(statesKey, &cachedStates{states: states, fetchedAt: time.Now()}, cache.DefaultExpiration)
	return states, nil
}

// cachedOrFresh returns cached states while they are younger than the TTL
func (s *Server) cachedOrFresh(ctx context.Context) ([]easee.ChargerState, bool, error) {
	if states, ok := s.cached(); ok {
		return states, true, nil
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	// another request may have refreshed while we waited
	if states, ok := s.cached(); ok {
		return states, true, nil
	}

	states, err := s.refresh(ctx)
	return states, false, err
}

func (s *Server) cached() ([]easee.ChargerState, bool) {
	v, ok := s.cache.Get(statesKey)
	if !ok {
		return nil, false
	}
	return v.(*cachedStates).states, true
}

// cacheAge is how old the cached states are; zero when nothing is cached
func (s *Server) cacheAge() time.Duration {
	v, ok := s.cache.Get(statesKey)
	if !ok {
		return 0
	}
	return time.Since(v.(*cachedStates).fetchedAt)
}
