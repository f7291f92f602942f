package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	appcfg "github.com/park285/cheese-rooms/internal/config"
	"github.com/park285/cheese-rooms/internal/kv"
	"github.com/park285/cheese-rooms/internal/obslog"
	"github.com/park285/cheese-rooms/internal/roomhost"
	"github.com/park285/cheese-rooms/internal/rules"
	"github.com/park285/cheese-rooms/internal/transport"
	"go.uber.org/zap"
)

// runServe hosts rooms over WebSocket until ctx ends. Rooms live in Redis
// when REDIS_URL is set, otherwise in process memory.
func runServe(ctx context.Context, cfg *appcfg.AppConfig) error {
	logger := obslog.L()

	var backend roomhost.Backend
	if cfg.RedisURL != "" {
		rdb, err := kv.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer func() { _ = rdb.Close() }()
		backend = roomhost.NewRedis(rdb, cfg.RoomTTL, logger)
		logger.Info("room_backend", zap.String("kind", "redis"), zap.Duration("ttl", cfg.RoomTTL))
	} else {
		backend = roomhost.NewMemory()
		logger.Info("room_backend", zap.String("kind", "memory"))
	}
	host := roomhost.New(backend, rules.New(), logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", transport.NewServer(host, logger, transport.WithOriginPatterns(cfg.AllowedOrigins...)))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("room_server_listening", zap.String("addr", cfg.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("room_server_shutdown")
	return srv.Shutdown(shutdownCtx)
}
