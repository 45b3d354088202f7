// Package mockserver is a fake game-day backend: a small REST surface with
// rotating bearer credentials and a WebSocket topic stream. It backs local
// runs of the CLI and end-to-end tests of the client stack.
package mockserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/nghyane/gameday-net/internal/logging"
)

type Options struct {
	// TokenLifetime is the exp horizon of issued access tokens.
	TokenLifetime time.Duration
	// OmitExpiresIn leaves expires_in out of refresh responses so clients
	// fall back to the token's exp claim.
	OmitExpiresIn bool
	Debug         bool
	Now           func() time.Time
}

// fault makes the next Remaining REST calls fail with Status.
type fault struct {
	Status     int
	Remaining  int
	RetryAfter string
}

type Server struct {
	engine   *gin.Engine
	server   *http.Server
	tokens   *tokenIssuer
	upgrader websocket.Upgrader
	opts     Options

	mu     sync.Mutex
	faults []fault
	topics map[string]map[*peer]struct{}
	inbox  map[string][][]byte

	checkins atomic.Int64
	requests atomic.Int64
}

func New(opts Options) *Server {
	if opts.TokenLifetime <= 0 {
		opts.TokenLifetime = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		tokens: newTokenIssuer(opts.TokenLifetime, opts.Now),
		opts:   opts,
		topics: make(map[string]map[*peer]struct{}),
		inbox:  make(map[string][][]byte),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	engine := gin.New()
	engine.Use(requestLogger(), gin.Recovery())
	s.engine = engine
	s.setupRoutes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Start listens on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()
	log.Infof("mock backend listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start mock server: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.closeAllPeers()
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown mock server: %w", err)
	}
	return nil
}

// IssueCredentials starts a new session and returns its token pair.
func (s *Server) IssueCredentials() (access, refresh string, err error) {
	return s.tokens.issue()
}

// ExpireAccessToken makes the live access token fail verification while
// keeping the refresh token usable.
func (s *Server) ExpireAccessToken() { s.tokens.revokeAccess() }

// Refreshes counts successful token rotations.
func (s *Server) Refreshes() int { return s.tokens.rotations() }

// Requests counts REST calls that reached a handler, faults included.
func (s *Server) Requests() int { return int(s.requests.Load()) }

// InjectFault makes the next count REST calls answer with status.
func (s *Server) InjectFault(status, count int, retryAfter string) {
	s.mu.Lock()
	s.faults = append(s.faults, fault{Status: status, Remaining: count, RetryAfter: retryAfter})
	s.mu.Unlock()
}

func (s *Server) takeFault() (fault, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.faults) > 0 {
		f := &s.faults[0]
		if f.Remaining <= 0 {
			s.faults = s.faults[1:]
			continue
		}
		f.Remaining--
		return *f, true
	}
	return fault{}, false
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path += "?" + log.MaskQuery(raw)
		}
		entry := log.WithFields(log.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"latency":    time.Since(start),
			"request_id": c.GetHeader("X-Request-ID"),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("mock request")
			return
		}
		entry.Debug("mock request")
	}
}

func bearer(c *gin.Context) string {
	h := strings.TrimSpace(c.GetHeader("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
