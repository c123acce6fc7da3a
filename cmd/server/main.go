package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hubwire/hubwire/internal/dispatch"
	"github.com/hubwire/hubwire/internal/endpoint"
	"github.com/hubwire/hubwire/internal/pipeline"
	"github.com/hubwire/hubwire/internal/server"
	"github.com/hubwire/hubwire/pkg/config"
	"github.com/hubwire/hubwire/pkg/logging"
	"github.com/hubwire/hubwire/pkg/middleware"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")
	version    = "dev"
	buildTime  = "unknown"
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting hubwire server",
		zap.String("version", version),
		zap.String("build_time", buildTime),
	)

	store, err := dispatch.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize connection store", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	// Verify the redis connection up front so misconfiguration fails fast.
	if redisStore, ok := store.(*dispatch.RedisStore); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisStore.Ping(ctx)
		cancel()
		if err != nil {
			logger.Fatal("Failed to ping redis", zap.Error(err))
		}
	}
	logger.Info("Connection store initialized", zap.String("type", cfg.ConnectionStore.Type))

	dispatcher := dispatch.New(cfg, store, logger)
	defer dispatcher.Close()

	mgr := server.NewManager(cfg, logger)
	composer := endpoint.NewComposer(mgr.Router(), dispatcher, middleware.Authorizer(cfg, logger), logger)

	if err := mapEndpoints(composer, logger); err != nil {
		logger.Fatal("Failed to compose endpoints", zap.Error(err))
	}

	mgr.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := mgr.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// mapEndpoints composes the service's connection endpoints.
func mapEndpoints(composer *endpoint.Composer, logger *zap.Logger) error {
	// Open echo endpoint, imperative pipeline configuration.
	_, err := composer.MapConnection("/echo", func(b *pipeline.Builder) {
		b.Use(connectionLogging(logger))
		b.Run(echo)
	})
	if err != nil {
		return err
	}

	// Authenticated chat endpoint, declarative handler composition. The
	// handler's declared attributes carry its authorization requirement.
	chat, err := composer.MapConnectionHandler("/chat", newChatHandler(logger))
	if err != nil {
		return err
	}
	chat.AddConvention(func(r *endpoint.Route) {
		r.AppendMetadata(endpoint.CORSPolicy{Name: "default"})
	})

	return nil
}
