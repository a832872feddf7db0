package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/abdhe/tavily-mcp-gateway/pkg/metrics"
	"github.com/abdhe/tavily-mcp-gateway/pkg/resilience"
)

const sessionQueryParam = "sessionid"

// PoolStats reports the credential pool for the health endpoint.
type PoolStats interface {
	Stats() resilience.PoolStats
}

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	Port         int
	IdleTimeout  time.Duration // SSE sessions without traffic for this long are closed
	SweepEvery   time.Duration
	ShutdownWait time.Duration
}

// HTTPServer serves MCP over SSE (GET /sse, POST /message or /sse) and over
// streamable HTTP (/mcp), plus /health and /metrics.
type HTTPServer struct {
	cfg     HTTPConfig
	server  *mcp.Server
	pool    PoolStats
	router  *gin.Engine
	started time.Time
	now     func() time.Time

	clients  atomic.Int64
	mu       sync.Mutex
	sessions map[string]*trackedSession
}

// NewHTTPServer builds the router for server.
func NewHTTPServer(cfg HTTPConfig, server *mcp.Server, pool PoolStats) *HTTPServer {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = time.Minute
	}
	if cfg.ShutdownWait <= 0 {
		cfg.ShutdownWait = 10 * time.Second
	}

	s := &HTTPServer{
		cfg:      cfg,
		server:   server,
		pool:     pool,
		started:  time.Now(),
		now:      time.Now,
		sessions: make(map[string]*trackedSession),
	}

	getServer := func(*http.Request) *mcp.Server { return server }
	sse := gin.WrapH(mcp.NewSSEHandler(getServer, nil))
	streamable := gin.WrapH(mcp.NewStreamableHTTPHandler(getServer, &mcp.StreamableHTTPOptions{Stateless: true}))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(CORS())

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/sse", s.trackClient, sse)
	router.POST("/sse", s.touchSession, sse)
	router.POST("/message", s.touchSession, sse)
	router.Any("/mcp", streamable)

	s.router = router
	return s
}

// Handler exposes the router, mainly for tests.
func (s *HTTPServer) Handler() http.Handler { return s.router }

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.sweepLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.cfg.Port).Msg("serving MCP over SSE at /sse, messages at /message")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownWait)
	defer cancel()
	s.closeAllSessions()
	for ss := range s.server.Sessions() {
		_ = ss.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *HTTPServer) health(c *gin.Context) {
	st := s.pool.Stats()
	status := "ok"
	if st.Active == 0 {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  status,
		"clients": s.clients.Load(),
		"uptime":  int64(time.Since(s.started).Seconds()),
		"pool": gin.H{
			"total":  st.Total,
			"active": st.Active,
		},
	})
}

// trackClient counts open SSE streams for as long as the GET is being served
// and registers the stream under the session id the handler announces, so the
// idle sweep can end it by cancelling the request context.
func (s *HTTPServer) trackClient(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	c.Request = c.Request.WithContext(ctx)

	var id string
	c.Writer = &sessionWriter{ResponseWriter: c.Writer, onSession: func(sid string) {
		id = sid
		s.mu.Lock()
		s.sessions[sid] = &trackedSession{lastSeen: s.now(), cancel: cancel}
		s.mu.Unlock()
	}}

	s.clients.Add(1)
	metrics.SSESessions.Inc()
	defer func() {
		cancel()
		if id != "" {
			s.mu.Lock()
			delete(s.sessions, id)
			s.mu.Unlock()
		}
		s.clients.Add(-1)
		metrics.SSESessions.Dec()
	}()
	c.Next()
}

// touchSession records traffic for the addressed session. Requests without a
// session id are rejected here with 400.
func (s *HTTPServer) touchSession(c *gin.Context) {
	id := c.Query(sessionQueryParam)
	if id == "" {
		id = c.Query("sessionId")
		if id != "" {
			q := c.Request.URL.Query()
			q.Set(sessionQueryParam, id)
			c.Request.URL.RawQuery = q.Encode()
		}
	}
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing sessionId parameter"})
		return
	}
	s.mu.Lock()
	if ts, ok := s.sessions[id]; ok {
		ts.lastSeen = s.now()
	}
	s.mu.Unlock()
	c.Next()
}

func (s *HTTPServer) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.closeIdleSessions(); n > 0 {
				log.Info().Int("closed", n).Msg("closed idle SSE sessions")
			}
		}
	}
}

// closeIdleSessions ends streams with no traffic within the idle timeout.
func (s *HTTPServer) closeIdleSessions() int {
	now := s.now()

	s.mu.Lock()
	var idle []context.CancelFunc
	for id, ts := range s.sessions {
		if now.Sub(ts.lastSeen) > s.cfg.IdleTimeout {
			idle = append(idle, ts.cancel)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, cancel := range idle {
		cancel()
	}
	return len(idle)
}

// closeAllSessions ends every open stream.
func (s *HTTPServer) closeAllSessions() {
	s.mu.Lock()
	for id, ts := range s.sessions {
		ts.cancel()
		delete(s.sessions, id)
	}
	s.mu.Unlock()
}

type trackedSession struct {
	lastSeen time.Time
	cancel   context.CancelFunc
}

var sessionIDPattern = regexp.MustCompile(`sessionid=([A-Za-z0-9]+)`)

// sessionWriter watches the first SSE event, which carries the message
// endpoint, for the session id.
type sessionWriter struct {
	gin.ResponseWriter
	seen      bool
	onSession func(id string)
}

func (w *sessionWriter) Write(p []byte) (int, error) {
	if !w.seen {
		if m := sessionIDPattern.FindSubmatch(p); m != nil {
			w.seen = true
			w.onSession(string(m[1]))
		}
	}
	return w.ResponseWriter.Write(p)
}
