// Package server wires the session store, transport registry, MCP engine and
// router into an HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hashicorp/go-multierror"
	"github.com/inngest/mcpedge/pkg/actions"
	"github.com/inngest/mcpedge/pkg/config"
	"github.com/inngest/mcpedge/pkg/consts"
	"github.com/inngest/mcpedge/pkg/headers"
	"github.com/inngest/mcpedge/pkg/logger"
	"github.com/inngest/mcpedge/pkg/metrics"
	"github.com/inngest/mcpedge/pkg/ratelimit"
	"github.com/inngest/mcpedge/pkg/router"
	"github.com/inngest/mcpedge/pkg/rpcerr"
	"github.com/inngest/mcpedge/pkg/service"
	"github.com/inngest/mcpedge/pkg/session"
	"github.com/inngest/mcpedge/pkg/telemetry"
	"github.com/inngest/mcpedge/pkg/transport"
	"github.com/inngest/mcpedge/pkg/version"
)

const (
	sweepInterval     = time.Minute
	readHeaderTimeout = 10 * time.Second
)

// New returns the mcpedge HTTP service for c.
func New(c config.Config) *Server {
	return &Server{config: c, ready: make(chan struct{})}
}

type Server struct {
	config config.Config
	log    logger.Logger

	store    session.Store
	registry *transport.Registry
	metrics  *metrics.MetricsAPI
	tracer   telemetry.TracerCloser
	limiter  *ratelimit.Limiter
	handler  http.Handler

	srv       *http.Server
	addr      net.Addr
	ready     chan struct{}
	readyOnce sync.Once
	draining  atomic.Bool
	stopOnce  sync.Once
}

var _ service.Service = (*Server)(nil)

func (s *Server) Name() string {
	return "mcpedge"
}

func (s *Server) StartTimeout() time.Duration {
	return consts.StartTimeout
}

func (s *Server) StopTimeout() time.Duration {
	return consts.StopTimeout
}

func (s *Server) Pre(ctx context.Context) error {
	s.log = logger.From(ctx)

	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	tt, _ := telemetry.ParseTracerType(s.config.Trace)
	tracer, err := telemetry.NewTracer(ctx, telemetry.TracerOpts{
		Type:          tt,
		ServiceName:   consts.ServerName,
		TraceEndpoint: s.config.TraceEndpoint,
	})
	if err != nil {
		return err
	}
	s.tracer = tracer

	s.store, err = session.New(ctx, session.Opts{
		Backend:     s.config.SessionBackend,
		RedisURI:    s.config.RedisURI,
		RedisPrefix: s.config.RedisPrefix,
		MaxSize:     s.config.RegistrySize,
	})
	if err != nil {
		return fmt.Errorf("error creating session store: %w", err)
	}

	s.registry = transport.NewRegistry(transport.RegistryOpts{
		MaxSize: s.config.RegistrySize,
		TTL:     s.config.SessionTTL,
	})

	s.metrics, err = metrics.NewMetricsAPI(metrics.Opts{Transports: s.registry})
	if err != nil {
		return fmt.Errorf("error creating metrics: %w", err)
	}

	s.limiter = ratelimit.New(s.config.RateLimitRPS, s.config.RateLimitBurst)

	mcpServer := actions.NewServer(actions.Opts{
		Version:   version.Print(),
		Resources: s.config.Resources,
		Logger:    s.log,
	})

	rt := router.New(router.Opts{
		Store:           s.store,
		Registry:        s.registry,
		Engine:          transport.NewMCPEngine(mcpServer),
		Logger:          s.log,
		Metrics:         s.metrics,
		SessionTTL:      s.config.SessionTTL,
		ResponseTimeout: s.config.ResponseTimeout,
		RefreshOnUse:    s.config.RefreshOnUse,
		MaxBodyBytes:    s.config.MaxBodyBytes,
	})

	s.handler = s.routes(rt)
	s.log.Info("server configured",
		"addr", s.config.Addr(),
		"endpoint", s.config.Endpoint,
		"session_backend", s.config.SessionBackend,
	)
	return nil
}

func (s *Server) routes(rt http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(headers.StaticHeadersMiddleware(version.Print()))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("draining"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Mount("/metrics", s.metrics.Router)

	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.config.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"*"},
			ExposedHeaders: []string{headers.HeaderKeySessionID},
		}))
		r.Use(s.limiter.Middleware(func(r *http.Request) {
			s.metrics.Request(r.Method, metrics.OutcomeRateLimited)
		}))
		r.Handle(s.config.Endpoint, rt)
	})
	return r
}

// recoverer turns handler panics into a logged 500.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if rvr == http.ErrAbortHandler {
				panic(rvr)
			}
			s.log.EmergencyContext(r.Context(), "handler panicked",
				logger.KeyRequestID, middleware.GetReqID(r.Context()),
				"recover", rvr,
				"stack", string(debug.Stack()),
			)
			_ = rpcerr.WriteHTTP(w, nil, rpcerr.Internal(fmt.Errorf("panic: %v", rvr), http.StatusInternalServerError))
		}()
		next.ServeHTTP(w, r)
	})
}

// Handler returns the root handler. It's nil until Pre succeeds.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the bound address once Run is listening, or nil if Run failed
// to listen.
func (s *Server) Addr() net.Addr {
	<-s.ready
	return s.addr
}

func (s *Server) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		s.markReady()
		return fmt.Errorf("error listening on %s: %w", s.config.Addr(), err)
	}
	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.addr = ln.Addr()
	s.markReady()

	wg := service.GetWaitgroup(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.sweep(ctx)
	}()
	go func() {
		<-ctx.Done()
		_ = s.shutdown()
	}()

	s.log.Notice("listening", "addr", s.addr.String(), "version", version.Print())
	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// sweep evicts expired transports until ctx is done.
func (s *Server) sweep(ctx context.Context) {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.registry.Sweep(); n > 0 {
				s.log.Debug("swept expired transports", "count", n)
			}
		}
	}
}

// shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) shutdown() error {
	var err error
	s.stopOnce.Do(func() {
		s.draining.Store(true)
		if s.srv == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), consts.StopTimeout)
		defer cancel()
		err = s.srv.Shutdown(ctx)
	})
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	var err error
	if serr := s.shutdown(); serr != nil {
		err = multierror.Append(err, serr)
	}
	if s.registry != nil {
		s.registry.Close()
	}
	if s.store != nil {
		if serr := session.Close(s.store); serr != nil {
			err = multierror.Append(err, serr)
		}
	}
	if s.tracer != nil {
		if terr := s.tracer.Shutdown(ctx); terr != nil {
			err = multierror.Append(err, terr)
		}
	}
	s.limiter.Stop()
	return err
}
