// Package server exposes the chat relay and document summarizer over HTTP.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/csheth/docchat/internal/llm"
	"github.com/csheth/docchat/internal/relay"
	"github.com/csheth/docchat/internal/summarize"
)

const (
	defaultMaxUploadBytes = 10 << 20
	// multipartOverhead is the slack allowed on top of MaxUploadBytes for
	// boundaries and part headers before the request body is cut off.
	multipartOverhead = 1 << 20
	shutdownTimeout   = 30 * time.Second
)

// Options tune the HTTP layer.
type Options struct {
	Addr           string
	MaxUploadBytes int64
	// RateLimitRPS of zero disables rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int
}

// Server routes chat and upload requests to a single shared adapter. Every
// chat request gets its own model session.
type Server struct {
	adapter    llm.Adapter
	relay      *relay.Relay
	summarizer *summarize.Summarizer
	engine     *gin.Engine
	opts       Options
	logger     zerolog.Logger
}

// New builds the gin engine and its routes.
func New(adapter llm.Adapter, opts Options, logger zerolog.Logger) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	s := &Server{
		adapter:    adapter,
		relay:      relay.New(adapter, logger),
		summarizer: summarize.New(adapter),
		opts:       opts,
		logger:     logger.With().Str("component", "server").Logger(),
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(s.logger))
	r.GET("/health", s.health)

	api := r.Group("/api")
	if opts.RateLimitRPS > 0 {
		api.Use(rateLimit(opts.RateLimitRPS, opts.RateLimitBurst))
	}
	api.POST("/chat", s.chat)
	api.POST("/upload", s.upload)

	s.engine = r
	return s
}

// Handler returns the routed engine, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.opts.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and shuts down gracefully once ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		s.logger.Info().Str("addr", ln.Addr().String()).Str("model", s.adapter.Name()).Msg("starting docchat server")
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("server listen error")
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("server shutdown error")
			return err
		}
		s.logger.Info().Msg("server shutdown complete")
		return nil
	})
	return eg.Wait()
}
