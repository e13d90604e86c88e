package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/keranova/typeteller/internal/config"
	"github.com/keranova/typeteller/internal/gradio"
	"github.com/keranova/typeteller/internal/handlers"
	"github.com/keranova/typeteller/internal/inference"
	"github.com/keranova/typeteller/internal/logging"
	"github.com/keranova/typeteller/internal/session"
	"github.com/keranova/typeteller/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	store, closeStore := initSessionStore(cfg, logger)
	defer closeStore()

	gradioClient := gradio.NewClient(&http.Client{Transport: http.DefaultTransport}, cfg.HubURL, cfg.HFToken, logger)
	adapter := inference.NewAdapter(gradioClient, cfg.SpaceID, logger)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		adapter.Prefetch(ctx)
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := usecase.NewMetrics(registry)

	uc := usecase.NewAnalysisUseCase(store, adapter, metrics, logger, usecase.Settings{
		MaxUploadBytes: cfg.MaxUploadBytes(),
		PredictTimeout: cfg.Timeout,
	})

	r := gin.Default()
	r.MaxMultipartMemory = cfg.MaxUploadBytes()

	handlers.RegisterRoutes(r, uc, handlers.Options{
		FormID:     cfg.FormID,
		MaxMB:      cfg.MaxMB,
		SessionTTL: cfg.SessionTTL,
		Metrics:    promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Logger:     logger,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("TypeTeller listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("space_id", cfg.SpaceID),
		zap.Int("max_upload_mb", cfg.MaxMB),
	)
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// initSessionStore returns a Redis-backed store when REDIS_ADDR is set and an
// in-memory store otherwise.
func initSessionStore(cfg *config.Config, logger *zap.Logger) (session.Store, func()) {
	if cfg.RedisAddr == "" {
		logger.Info("using in-memory session store", zap.Duration("ttl", cfg.SessionTTL))
		return session.NewMemoryStore(cfg.SessionTTL), func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis connection failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	logger.Info("using redis session store", zap.String("addr", cfg.RedisAddr), zap.Duration("ttl", cfg.SessionTTL))
	return session.NewRedisStore(session.NewRedisCache(client), cfg.SessionTTL, logger), func() {
		if err := client.Close(); err != nil {
			logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
