/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"txt2img/internal/backend"
	applog "txt2img/internal/log"
	"txt2img/internal/settings"
	"txt2img/internal/storage"
	"txt2img/internal/version"
)

const (
	maxBodyBytes = 1 << 20

	msgConfigSaved  = "config saved"
	msgConfigFailed = "failed to save config: "
)

// Renderer produces images for /api/render. localbackend.Backend is the
// usual implementation.
type Renderer interface {
	RenderImage(ctx context.Context, req backend.RenderRequest) (backend.RenderResult, error)
}

// Server serves the HTTP API used by backend.Client.
type Server struct {
	render Renderer
	repo   Repository
	token  string
	log    *slog.Logger
}

// New returns a server. An empty token disables authentication.
func New(render Renderer, repo Repository, token string) *Server {
	return &Server{
		render: render,
		repo:   repo,
		token:  strings.TrimSpace(token),
		log:    applog.WithComponent("server"),
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.health)
	mux.HandleFunc("GET /api/version", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(version.String()))
	})
	mux.HandleFunc("POST /api/render", s.withAuth(s.renderImage))
	mux.HandleFunc("GET /api/config", s.withAuth(s.loadConfig))
	mux.HandleFunc("PUT /api/config", s.withAuth(s.saveConfig))
	return s.logRequests(mux)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("listening", slog.String("addr", addr))
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.repo.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, errors.New("db not ready"))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) renderImage(w http.ResponseWriter, r *http.Request) {
	var req backend.RenderRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.render.RenderImage(r.Context(), req)
	if err != nil {
		s.log.ErrorContext(r.Context(), "render failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) loadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, _, err := s.repo.Load(r.Context())
	if errors.Is(err, storage.ErrInvalidConfig) {
		s.log.WarnContext(r.Context(), "stored settings unreadable, serving defaults", slog.Any("err", err))
		cfg, err = settings.Config{}, nil
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, settings.WithDefaults(cfg))
}

// saveConfig answers 200 with Success=false when the document is rejected or
// cannot be stored, so the client shows the reason.
func (s *Server) saveConfig(w http.ResponseWriter, r *http.Request) {
	var cfg settings.Config
	if err := decodeBody(w, r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.repo.Save(r.Context(), cfg); err != nil {
		s.log.ErrorContext(r.Context(), "save config failed", slog.Any("err", err))
		writeJSON(w, http.StatusOK, backend.Status{Success: false, Message: msgConfigFailed + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, backend.Status{Success: true, Message: msgConfigSaved})
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "bearer "
		if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		tok := strings.TrimSpace(auth[len(prefix):])
		if subtle.ConstantTimeCompare([]byte(tok), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
			return
		}
		next(w, r)
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

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.DebugContext(r.Context(), "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("took", time.Since(start)))
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
