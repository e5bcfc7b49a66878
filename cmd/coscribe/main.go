package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coscribe/coscribe/pkg/api"
	"github.com/coscribe/coscribe/pkg/auth"
	"github.com/coscribe/coscribe/pkg/bus"
	"github.com/coscribe/coscribe/pkg/cache"
	"github.com/coscribe/coscribe/pkg/config"
	"github.com/coscribe/coscribe/pkg/content"
	"github.com/coscribe/coscribe/pkg/docs"
	"github.com/coscribe/coscribe/pkg/events"
	"github.com/coscribe/coscribe/pkg/gateway"
	"github.com/coscribe/coscribe/pkg/log"
	"github.com/coscribe/coscribe/pkg/presence"
	"github.com/coscribe/coscribe/pkg/queue"
	"github.com/coscribe/coscribe/pkg/ratelimit"
	"github.com/coscribe/coscribe/pkg/worker"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "coscribe",
	Short: "Coscribe - realtime document collaboration hub",
	Long: `Coscribe is the realtime edge of a collaborative document editor:
a horizontally scalable websocket hub with shared presence, pub/sub
fan-out across instances and an asynchronous persistence pipeline.

All shared state lives in Redis; any number of hub instances can serve
the same documents behind a plain load balancer.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Coscribe version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the collaboration hub",
	Long: `Run one hub instance: the websocket gateway, the HTTP update intake
and the background persistence worker, all against the Redis address in
the configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
		logger := log.WithComponent("main")
		logger.Info().Str("version", Version).Msg("starting coscribe hub")

		store, err := cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")

		broker := events.NewBroker()
		broker.Start()
		go logEvents(broker)

		verifier := auth.NewVerifier(cfg.JWTSecret)
		registry := presence.New(store, cfg.SessionTTL())
		messageBus := bus.New(store)
		limiter := ratelimit.New(store, cfg.RateLimit)
		contentCache := content.New(store, cfg.CacheTTL())
		jobQueue := queue.New(store, cfg.QueueMaxAttempts, time.Duration(cfg.QueueBackoffMs)*time.Millisecond)
		dataGateway := docs.NewClient(cfg.DataGatewayURL)

		hub := gateway.New(verifier, registry, messageBus, limiter, broker, gateway.Config{
			StaleSweepInterval: time.Duration(cfg.StaleSweepMs) * time.Millisecond,
			LimiterGCInterval:  time.Duration(cfg.LimiterGCMs) * time.Millisecond,
		})
		hub.Start()

		persister := worker.New(jobQueue, dataGateway, contentCache, broker, worker.Config{
			Tick:       time.Duration(cfg.QueueTickMs) * time.Millisecond,
			JobTimeout: time.Duration(cfg.JobTimeoutMs) * time.Millisecond,
		})
		persister.Start()

		server := api.NewServer(verifier, dataGateway, contentCache, jobQueue, hub)
		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(cfg.ListenAddr); err != nil {
				errCh <- fmt.Errorf("http server error: %w", err)
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
		case err := <-errCh:
			logger.Error().Err(err).Msg("shutting down after server error")
		}

		// Shutdown order: stop accepting requests, close the sockets, let
		// the worker drain its in-flight job, then release shared state.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown incomplete")
		}
		hub.Shutdown(ctx)
		persister.Stop()
		broker.Stop()
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close redis client")
		}

		logger.Info().Msg("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML configuration file")
}

// logEvents drains the broker into the structured log so every hub event
// is visible without a metrics stack.
func logEvents(broker *events.Broker) {
	logger := log.WithComponent("events")
	sub := broker.Subscribe()
	for event := range sub {
		entry := logger.Debug().Str("event", string(event.Type))
		for k, v := range event.Metadata {
			entry = entry.Str(k, v)
		}
		entry.Msg(event.Message)
	}
}
