package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mneepay/checkout/config"
	"github.com/mneepay/checkout/logger"
	"github.com/mneepay/checkout/merchant"
	"github.com/mneepay/checkout/metrics"
	"github.com/mneepay/checkout/session"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logg, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logg.Sync() }()
	if envErr != nil {
		logg.Warn(".env file not found, relying on environment", nil)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.NewPrometheusRecorder(reg)
	if err != nil {
		logg.Error("failed to register metrics", map[string]any{"error": err})
		os.Exit(1)
	}

	backend, err := merchant.NewBackend(cfg.Merchant.BackendURL, cfg.Merchant.APIKey,
		session.WithTimeout(cfg.Checkout.Timeout),
		session.WithLogger(logg),
	)
	if err != nil {
		logg.Error("failed to create backend client", map[string]any{"error": err})
		os.Exit(1)
	}

	resolve := merchant.ProductResolver(backend.FetchProductConfig)
	if cfg.Redis.Enabled() {
		opts, err := cfg.Redis.Options()
		if err != nil {
			logg.Error("invalid redis config", map[string]any{"error": err})
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer func() {
			if err := rdb.Close(); err != nil {
				logg.Error("error closing redis", map[string]any{"error": err})
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logg.Warn("redis unreachable, product cache degraded", map[string]any{"error": err})
		}
		cancel()
		resolve = merchant.CachedResolver(rdb, 0, resolve, logg)
	}

	totals := merchant.NewTotalsCalculator(resolve, nil)
	srv := merchant.NewServer(
		merchant.WithSessionProxy(merchant.NewSessionProxy(backend, totals, logg)),
		merchant.WithTotals(totals),
		merchant.WithOrders(merchant.NewOrderProcessor(backend, logg)),
		merchant.WithWebhook(cfg.Merchant.WebhookSecret, func(_ context.Context, e *merchant.WebhookEvent) error {
			logg.Info("payment event", map[string]any{
				"event_type": e.Type,
				"session_id": e.Data.SessionID,
				"tx_hash":    e.Data.TxHash,
				"status":     e.Data.Status,
			})
			return nil
		}),
		merchant.WithServerLogger(logg),
		merchant.WithServerMetrics(recorder),
	)

	router := chi.NewRouter()
	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	router.Mount("/", srv.Router())

	addr := ":" + cfg.App.Port
	logg.Info("starting merchant server", map[string]any{
		"env":     cfg.App.Env,
		"addr":    addr,
		"backend": backend.BaseURL(),
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error("merchant server stopped unexpectedly", map[string]any{"error": err})
		os.Exit(1)
	}
}
