// Package server is the HTTP and WebSocket boundary: thin translators from
// the wire contracts into upload store, catalog, and job registry calls.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/danshapiro/routeforge/internal/crs"
	"github.com/danshapiro/routeforge/internal/jobs"
	"github.com/danshapiro/routeforge/internal/upload"
)

// Config holds the boundary's own knobs; everything behind it is injected.
type Config struct {
	Addr string

	// MaxUploadBytes bounds the upload request body before multipart parsing.
	// Zero means no boundary-level cap (the store still enforces its own).
	MaxUploadBytes int64
}

// Server serves the routing API. All state lives in the injected
// collaborators; the server itself only translates.
type Server struct {
	config   Config
	registry *jobs.Registry
	uploads  *upload.Store
	catalog  *crs.Catalog
	log      *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	httpSrv *http.Server
}

// New wires the routes.
func New(cfg Config, registry *jobs.Registry, uploads *upload.Store, catalog *crs.Catalog, log *zap.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   cfg,
		registry: registry,
		uploads:  uploads,
		catalog:  catalog,
		log:      log,
		baseCtx:  ctx,
		cancel:   cancel,
	}

	mux := http.NewServeMux()

	// Go 1.22+ method+pattern routing.
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("GET /api/upload/{fileId}/sample", s.handleSample)
	mux.HandleFunc("GET /api/projections", s.handleProjections)
	mux.HandleFunc("POST /api/routing/batch", s.handleSubmitBatch)
	mux.HandleFunc("GET /api/routing/status/{jobId}", s.handleStatus)
	mux.HandleFunc("GET /api/routing/results/{jobId}", s.handleResults)
	mux.HandleFunc("GET /api/routing/export/{jobId}", s.handleExport)
	mux.HandleFunc("GET /api/routing/metadata/{jobId}", s.handleMetadata)
	mux.HandleFunc("DELETE /api/routing/job/{jobId}", s.handleCancel)
	mux.HandleFunc("DELETE /api/routing/job/{jobId}/cleanup", s.handleCleanup)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	s.httpSrv = &http.Server{
		Handler:      s.recoverPanics(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // exports stream large files
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// ListenAndServe starts the server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		s.log.Info("shutting down", zap.String("signal", sig.String()))
		s.Shutdown()
	}()

	go s.registry.Housekeep(s.baseCtx)

	s.log.Info("listening", zap.String("addr", s.config.Addr))
	s.httpSrv.Addr = s.config.Addr
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown cancels every non-terminal job and drains HTTP connections.
func (s *Server) Shutdown() {
	s.registry.CancelAll(errors.New("server shutting down"))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)

	s.cancel()
}

// recoverPanics turns an escaped panic into a 500 with a logged stack
// instead of a dropped connection.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("handler panic",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
