package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gamestack/leaderboard-engine/internal/config"
	"github.com/gamestack/leaderboard-engine/internal/engine"
	"github.com/gamestack/leaderboard-engine/internal/eventlog"
	"github.com/gamestack/leaderboard-engine/internal/notify"
	"github.com/gamestack/leaderboard-engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	var logger *zap.Logger
	if cfg.Env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	gateway := store.New(rdb, logger)
	if err := gateway.Ping(ctx); err != nil {
		log.Fatalw("Redis unreachable", "addr", cfg.RedisAddr, "error", err)
	}

	// Event log
	consumer := eventlog.NewConsumer(eventlog.ConsumerConfig{
		Brokers:      cfg.Brokers,
		ClientID:     cfg.ClientID,
		Group:        cfg.GroupID,
		Topic:        cfg.InputTopic,
		PollInterval: cfg.PollInterval,
	}, logger)
	defer consumer.Close()

	producer, err := eventlog.NewProducer(cfg.Brokers, cfg.ClientID, cfg.OutputTopic, logger)
	if err != nil {
		log.Fatalw("Failed to create producer", "error", err)
	}
	defer producer.Close()

	// Notifier
	purger := notify.NewCachePurger(notify.PurgeConfig{
		URL:      cfg.PurgeURL,
		Key:      cfg.PurgeKey,
		Provider: cfg.PurgeProvider,
	}, logger)
	notifier := notify.New(producer, purger, logger)

	eng := engine.New(engine.Config{
		EmptyBatchThreshold: cfg.EmptyBatchThreshold,
		IdleTimeout:         cfg.IdleTimeout,
	}, gateway, consumer, notifier, logger)

	// Ops listener: metrics plus liveness/readiness.
	opsServer := opsListener(cfg.MetricsPort, gateway, eng)
	go func() {
		log.Infow("Ops listener started", "port", cfg.MetricsPort)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("Ops listener failed", "error", err)
		}
	}()

	log.Infow("Leaderboard updater starting",
		"brokers", cfg.Brokers, "group", cfg.GroupID,
		"inputTopic", cfg.InputTopic, "outputTopic", cfg.OutputTopic)

	runErr := eng.Run(ctx)

	// The consume loop has drained; shut the edges down in dependency order.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	opsServer.Shutdown(shutdownCtx)
	consumer.Close()
	producer.Close()
	if err := gateway.Close(); err != nil {
		log.Warnw("Failed to close store cleanly", "error", err)
	}

	if runErr != nil {
		log.Errorw("Engine terminated", "error", runErr)
		logger.Sync()
		os.Exit(1)
	}
	log.Infow("Leaderboard updater stopped")
}

func opsListener(port int, gateway *store.Gateway, eng *engine.Engine) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if err := gateway.Ping(req.Context()); err != nil {
			http.Error(w, "store unreachable", http.StatusServiceUnavailable)
			return
		}
		if eng.Replaying() {
			http.Error(w, "replaying", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}
