package agent

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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tugboat-agent/internal/agent/version"
)

const authHeader = "x-auth-key"

type adminBackend interface {
	Health() HealthSnapshot
	Version() *version.GetVersionResponse
	RestartWatcher()
}

func newAdminRouter(b adminBackend, secret string, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		snap := b.Health()
		status := http.StatusOK
		if !snap.DockerConnected {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, snap)
	})
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, b.Version())
	})
	r.With(requireKey(secret)).Post("/watcher/restart", func(w http.ResponseWriter, _ *http.Request) {
		b.RestartWatcher()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "restarting"})
	})

	return r
}

// requireKey rejects requests whose auth header does not match secret. An
// empty secret lets everything through.
func requireKey(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(authHeader)), []byte(secret)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debug("admin request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"latency", time.Since(start),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *Agent) runAdminServer(ctx context.Context) error {
	addr := strings.TrimSpace(a.cfg.AdminAddr)
	if addr == "" {
		a.logger.Info("admin endpoint disabled")
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen admin endpoint %s: %w", addr, err)
	}
	return serveAdmin(ctx, ln, newAdminRouter(a, a.cfg.SecretKey, a.logger.With("component", "admin")), a.cfg.ShutdownTimeout, a.logger)
}

func serveAdmin(ctx context.Context, ln net.Listener, h http.Handler, shutdownTimeout time.Duration, logger *slog.Logger) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("admin endpoint listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve admin endpoint: %w", err)
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("admin endpoint shutdown failed", "error", err)
	}
	<-errCh
	return nil
}
