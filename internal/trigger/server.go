// Package trigger exposes the scheduler over HTTP: an authenticated tick
// endpoint for external cron callers plus read-only status surfaces.
package trigger

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"time"

	"github.com/go-chi/chi/v5"

	"digestfanout/internal/fanout"
	"digestfanout/internal/runlog"
	"digestfanout/pkg/logx"
)

// Runner is the scheduler surface the endpoints drive.
type Runner interface {
	Tick(ctx context.Context, opts fanout.Options) fanout.Result
	Status(ctx context.Context, tail int) fanout.Status
	Unmute(ctx context.Context, channel, key string) (bool, error)
	Month(ctx context.Context, yyyymm string) ([]runlog.Entry, error)
}

type Config struct {
	Addr         string
	Token        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// ShutdownTimeout bounds graceful shutdown. 0 means 5s.
	ShutdownTimeout time.Duration
	// Pprof mounts /debug/pprof behind the bearer token.
	Pprof bool
}

type Server struct {
	cfg     Config
	runner  Runner
	metrics http.Handler
	log     logx.Logger
	handler http.Handler
}

// New builds the router. metrics may be nil.
func New(cfg Config, runner Runner, metrics http.Handler, log logx.Logger) *Server {
	s := &Server{cfg: cfg, runner: runner, metrics: metrics, log: log.With(logx.String("comp", "trigger"))}
	s.handler = s.buildRouter()
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	// Scheduler endpoints are not mounted without a token.
	if s.cfg.Token != "" {
		r.Group(func(r chi.Router) {
			r.Use(bearerAuth(s.cfg.Token, s.log))
			r.Post("/run", s.handleRun)
			r.Get("/status", s.handleStatus)
			r.Get("/runs/{month}", s.handleRuns)
			r.Post("/breakers/unmute", s.handleUnmute)
			if s.cfg.Pprof {
				r.Route("/debug/pprof", mountPprof)
			}
		})
	} else {
		s.log.Warn("trigger token not configured; scheduler endpoints disabled")
	}
	return r
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.log.Info("trigger listening", logx.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	s.log.Info("trigger shutting down")
	return srv.Shutdown(shutdownCtx)
}

func mountPprof(r chi.Router) {
	r.Get("/", hpprof.Index)
	r.Get("/cmdline", hpprof.Cmdline)
	r.Get("/profile", hpprof.Profile)
	r.Get("/symbol", hpprof.Symbol)
	r.Post("/symbol", hpprof.Symbol)
	r.Get("/trace", hpprof.Trace)
	r.Get("/{name}", hpprof.Index)
}
