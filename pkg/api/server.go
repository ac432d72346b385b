// Package api exposes swap sessions over HTTP for a UI to drive.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"routeswap/pkg/session"
)

const apiVersion = "v1"

// Server is the HTTP front end
type Server struct {
	addr     string
	engine   *gin.Engine
	sessions *SessionHandler
	server   *http.Server
}

// Config secures the server. Session routes require Token as a bearer token
// and confirm only pays out to the signing wallet unless AllowForeignRecipient
// is set.
type Config struct {
	Addr                  string
	Token                 string
	AllowForeignRecipient bool
}

// NewServer wires routes for the given resolver. Requests are limited per
// client IP and session routes are authenticated.
func NewServer(conf Config, resolver session.Resolver, opts session.Options) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(Metrics())
	r.Use(NewRateLimiter(10, 20).Middleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	opts.RestrictRecipient = !conf.AllowForeignRecipient
	sessions := NewSessionHandler(resolver, opts)
	priv := r.Group("api").Group(apiVersion)
	priv.Use(BearerAuth(conf.Token))
	sessions.SetRoutes(priv.Group(sessions.Root()))

	return &Server{
		addr:     conf.Addr,
		engine:   r,
		sessions: sessions,
		server: &http.Server{
			Addr:              conf.Addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until Stop is called
func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("http server started")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests and stops session polling
func (s *Server) Stop(ctx context.Context) error {
	s.sessions.Close()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
		return err
	}
	log.Info().Msg("http server stopped gracefully")
	return nil
}
