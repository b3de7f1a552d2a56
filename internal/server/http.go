package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ironsheep/room-overlay-mcp/internal/compositor"
	"github.com/ironsheep/room-overlay-mcp/internal/session"
)

// maxRequestBytes bounds an HTTP JSON-RPC body; photos arrive base64 encoded.
const maxRequestBytes = 64 << 20

// Handler returns the HTTP transport:
//
//	POST /rpc      one JSON-RPC request, same methods as stdio
//	GET  /export   the rendered scene (?format=png|jpeg)
//	GET  /metrics  Prometheus metrics, when metrics are configured
//	GET  /healthz  liveness
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/rpc", s.serveRPC)
	r.Get("/export", s.serveExport)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	var req MCPRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("rpc: invalid request body", "error", err)
		return
	}

	resp := s.handleRequest(r.Context(), &req)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("rpc: response encode failed", "error", err)
	}
}

func (s *Server) serveExport(w http.ResponseWriter, r *http.Request) {
	format, err := compositor.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var buf bytes.Buffer
	s.callMu.Lock()
	err = s.session.Export(&buf, format)
	s.notes.Drain()
	s.callMu.Unlock()
	switch {
	case errors.Is(err, session.ErrNoPhoto):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, fmt.Sprintf("Export error: %v", err), http.StatusInternalServerError)
		s.logger.Error("export failed", "error", err)
		return
	}

	w.Header().Set("Content-Type", format.MimeType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportName(format)))
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Error("export write failed", "error", err)
	}
}

// ListenAndServe serves Handler on addr until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http transport listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
