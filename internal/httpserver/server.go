package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/onexay/pushwatch/internal/config"
	"github.com/onexay/pushwatch/internal/notify"
	"github.com/onexay/pushwatch/internal/service"
	"github.com/onexay/pushwatch/internal/types"
)

const shutdownGrace = 5 * time.Second

// Server wraps the HTTP server configuration and dependencies.
type Server struct {
	addr    string
	handler http.Handler
	svc     *service.Service
	logger  *slog.Logger
}

// NewServer creates an HTTP server with routes and middleware.
func NewServer(ctx context.Context, logger *slog.Logger) (*Server, error) {
	cfg := config.Load()
	if logger == nil {
		logger = config.NewLogger(cfg.Log, os.Stderr)
	}

	svc, err := service.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return newServer(cfg.APIAddr, svc, logger), nil
}

func newServer(addr string, svc *service.Service, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/api/v1/", service.Handler(svc))

	return &Server{addr: addr, handler: logRequests(logger, mux), svc: svc, logger: logger}
}

// Run starts the HTTP server and the live push feeds, and blocks until ctx
// is done or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	defer s.svc.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var feeds sync.WaitGroup
	if bus := s.svc.Bus(); bus != nil {
		for _, tree := range s.svc.Trees() {
			feeds.Add(1)
			go func() {
				defer feeds.Done()
				s.followTree(ctx, bus, tree)
			}()
		}
	}

	srv := &http.Server{Addr: s.addr, Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownGrace)
		defer done()
		err = srv.Shutdown(shutdownCtx)
	}
	cancel()
	feeds.Wait()

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) followTree(ctx context.Context, bus *notify.RedisBus, tree types.Tree) {
	sub, err := bus.Subscribe(ctx, tree.Name)
	if err != nil {
		s.logger.Warn("live feed unavailable", "tree", tree.Name, "error", err)
		return
	}
	defer sub.Close()

	rc, err := s.svc.Reconstructor(tree.ID)
	if err != nil {
		s.logger.Warn("live feed unavailable", "tree", tree.Name, "error", err)
		return
	}
	err = sub.Run(ctx, rc, notify.ListenerFunc(func(treeName string, push *types.BuildPush) {
		attrs := []any{"tree", treeName, "push", push.Push.ID}
		if push.BuildSummary != nil {
			attrs = append(attrs, "worst", push.BuildSummary.Worst)
		}
		s.logger.Info("new push", attrs...)
	}))
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("live feed stopped", "tree", tree.Name, "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
