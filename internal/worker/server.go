// Package worker is the request-serving half of pdfconvd. A worker binds the
// shared port, accepts POST /convert and runs each payload through a
// Converter. Workers hold no state between requests; the supervisor may
// replace one at any time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMaxBodySize     = 50 * 1024 * 1024
)

// Options configures a worker Server
type Options struct {
	Address         string
	MaxBodySize     int64
	ShutdownTimeout time.Duration
}

// Server serves the conversion endpoint
type Server struct {
	opts    Options
	logger  zerolog.Logger
	handler http.Handler
}

// New creates a worker server around a converter
func New(opts Options, converter Converter, logger zerolog.Logger) (*Server, error) {
	if converter == nil {
		return nil, fmt.Errorf("converter cannot be nil")
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}

	return &Server{
		opts:    opts,
		logger:  logger,
		handler: NewRouter(converter, opts.MaxBodySize, logger),
	}, nil
}

// Handler returns the HTTP handler, for embedding or tests
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run binds Options.Address with port sharing enabled and serves until ctx
// is cancelled
func (s *Server) Run(ctx context.Context) error {
	ln, err := Listen(ctx, s.opts.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then drains
// in-flight requests for at most ShutdownTimeout
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("Worker listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()

		s.logger.Info().Msg("Worker shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}
