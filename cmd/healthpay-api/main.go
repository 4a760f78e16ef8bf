package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitwit/healthpay"
	"github.com/vitwit/healthpay/catalog"
	"github.com/vitwit/healthpay/config"
	"github.com/vitwit/healthpay/logger"
	"github.com/vitwit/healthpay/metrics"
	"github.com/vitwit/healthpay/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewZapLogger("healthpay-api", "info").Error("failed to load config", logger.WithErr(nil, err))
		os.Exit(1)
	}
	logg := logger.NewZapLogger(cfg.ServiceName, cfg.LogLevel)
	if z, ok := logg.(*logger.ZapLogger); ok {
		defer func() { _ = z.Sync() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db pinger
	if cfg.StorageBackend == config.StorageRedis {
		r, err := storage.NewRedis(ctx, cfg.RedisOptions())
		if err != nil {
			logg.Error("failed to bootstrap redis", logger.WithErr(nil, err))
			os.Exit(1)
		}
		defer func() {
			if err := r.Close(); err != nil {
				logg.Error("error closing redis", logger.WithErr(nil, err))
			}
		}()
		db = r
	}

	reg := prometheus.NewRegistry()
	handler, err := newRouter(cfg, logg, reg, db)
	if err != nil {
		logg.Error("failed to build router", logger.WithErr(nil, err))
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error("server shutdown failed", logger.WithErr(nil, err))
		}
	}()

	logg.Info("starting catalog server", map[string]any{
		"addr":    cfg.ListenAddr,
		"chain":   cfg.ChainID,
		"storage": cfg.StorageBackend,
	})
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error("catalog server stopped unexpectedly", logger.WithErr(nil, err))
		os.Exit(1)
	}
	logg.Info("catalog server stopped", nil)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func newRouter(cfg *config.Config, logg logger.Logger, reg *prometheus.Registry, db pinger) (http.Handler, error) {
	var rec metrics.Recorder = metrics.NoopRecorder{}
	if cfg.MetricsEnabled {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		r, err := metrics.NewPrometheusRecorder(reg)
		if err != nil {
			return nil, err
		}
		rec = r
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Get("/healthz", healthz(cfg, db))
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	catalog.NewHandler(catalog.Default(), logg, rec).Routes(r)
	return r, nil
}

func healthz(cfg *config.Config, db pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  status,
			"chainId": cfg.ChainID,
			"storage": cfg.StorageBackend,
			"version": healthpay.Version,
		})
	}
}
