package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hypley/hypley/internal/bus"
	"github.com/hypley/hypley/internal/config"
	"github.com/hypley/hypley/internal/provider"
	"github.com/hypley/hypley/internal/sqlite"
	"github.com/hypley/hypley/internal/transport"
	"github.com/hypley/hypley/internal/workspace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	if err := ensureDBDir(cfg.DB.Path); err != nil {
		logger.Error("failed to prepare database path", "error", err)
		os.Exit(1)
	}

	db, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	retention := time.Duration(cfg.Chat.RetentionHours) * time.Hour
	repo := sqlite.NewSnapshotRepository(db, retention)

	syncBus := openBus(cfg.Redis.URL, logger)
	prov := provider.NewRemote(cfg.Provider.URL, nil)

	factory := func(ctx context.Context) (*workspace.Service, error) {
		return workspace.New(ctx, workspace.Config{
			Repo:               repo,
			Bus:                syncBus,
			Provider:           prov,
			Logger:             logger,
			ExtractProjectName: cfg.Chat.ExtractProjectName,
			VoiceSettle:        time.Duration(cfg.Chat.VoiceSettleMs) * time.Millisecond,
		})
	}

	wsHandler := transport.NewWSHandler(factory, cfg.Server.AllowedOrigins, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: transport.Routes(wsHandler),
	}

	go func() {
		logger.Info("server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	waitForShutdown(logger, httpServer)
}

// openBus connects the Redis broadcast backend, or falls back to the
// in-process bus when Redis is absent or unreachable. Without Redis each
// process is its own island: tabs served by it still synchronize, nothing
// else does.
func openBus(redisURL string, logger *slog.Logger) bus.Bus {
	if redisURL == "" {
		logger.Info("redis not configured, using in-process bus")
		return bus.NewMemoryBus()
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, using in-process bus", "error", err)
		return bus.NewMemoryBus()
	}

	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, using in-process bus", "error", err)
		rdb.Close()
		return bus.NewMemoryBus()
	}

	logger.Info("connected to redis broadcast backend")
	return bus.NewRedisBus(rdb, logger)
}

func ensureDBDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func waitForShutdown(logger *slog.Logger, server *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
