package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type healthInfo struct {
	Status     string `json:"status"`
	Uptime     string `json:"uptime"`
	Goroutines int    `json:"goroutines"`
	Alloc      string `json:"alloc"`
	Sys        string `json:"sys"`
	Database   string `json:"database"`
	Time       string `json:"time"`
}

func (a *App) healthRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	return r
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	gor, alloc, _, sys := runtimeStats()
	info := healthInfo{
		Status:     "ok",
		Uptime:     formatDuration(time.Since(a.startedAt)),
		Goroutines: gor,
		Alloc:      formatBytes(alloc),
		Sys:        formatBytes(sys),
		Database:   "ok",
		Time:       time.Now().Format(time.RFC3339),
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := http.StatusOK
	if err := a.store.Ping(ctx); err != nil {
		info.Status = "degraded"
		info.Database = err.Error()
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(info)
}

// startHealthServer serves /health and /metrics until the app stops.
func (a *App) startHealthServer(addr string) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.healthRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(a.ctx, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	defer stop()

	a.log.Info("✅ Health endpoint", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.log.Warn("⚠️ Health server stopped", zap.Error(err))
	}
}
