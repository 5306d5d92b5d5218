package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/seojun/maildrain/internal/auth"
	"github.com/seojun/maildrain/internal/config"
	"github.com/seojun/maildrain/internal/lease"
	"github.com/seojun/maildrain/internal/logger"
	"github.com/seojun/maildrain/internal/processor"
	"github.com/seojun/maildrain/internal/provider"
	"github.com/seojun/maildrain/internal/queuestore"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(logger.Config{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})
	log.Info().Msg("starting drain worker")

	ctx := context.Background()

	// Build the queue store.
	store, err := queuestore.New(ctx, queuestore.Config{
		Backend: cfg.QueueStore.Backend,
		BaseURL: cfg.QueueStore.BaseURL,
		APIKey:  cfg.QueueStore.APIKey,
		Timeout: cfg.QueueStore.Timeout,
		Tokens:  tokenSource(cfg),
		Postgres: queuestore.PostgresConfig{
			URL:            cfg.QueueStore.DatabaseURL,
			PoolMin:        cfg.QueueStore.PoolMin,
			PoolMax:        cfg.QueueStore.PoolMax,
			ConnectTimeout: cfg.QueueStore.ConnectTimeout,
		},
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create queue store")
	}
	if closer, ok := store.(*queuestore.PostgresStore); ok {
		defer closer.Close()
	}

	// Build the delivery provider.
	httpClient := provider.NewHTTPClient(cfg.Provider.Timeout)
	prov, err := provider.New(ctx, provider.Config{
		Type:         cfg.Provider.Type,
		APIKey:       cfg.Provider.APIKey,
		Endpoint:     cfg.Provider.Endpoint,
		FromAddress:  cfg.Provider.FromAddress,
		FromName:     cfg.Provider.FromName,
		Timeout:      cfg.Provider.Timeout,
		Region:       cfg.Provider.Region,
		AccessKey:    cfg.Provider.AccessKey,
		SecretKey:    cfg.Provider.SecretKey,
		SMTPHost:     cfg.Provider.SMTPHost,
		SMTPPort:     cfg.Provider.SMTPPort,
		SMTPUsername: cfg.Provider.SMTPUsername,
		SMTPPassword: cfg.Provider.SMTPPassword,
	}, httpClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create delivery provider")
	}
	log.Info().Str("provider", prov.Name()).Msg("delivery provider ready")

	// Optional per-message claims when Redis is configured.
	var claimer lease.Claimer = lease.NopClaimer{}
	if cfg.Lease.Addr != "" {
		redisClaimer, err := lease.New(ctx, lease.Config{
			Addr:     cfg.Lease.Addr,
			Password: cfg.Lease.Password,
			DB:       cfg.Lease.DB,
			TTL:      cfg.Lease.TTL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to lease redis")
		}
		defer redisClaimer.Close()
		claimer = redisClaimer
		log.Info().Str("addr", cfg.Lease.Addr).Msg("message leasing enabled")
	}

	proc := processor.New(store, prov, claimer, processor.Config{
		MaxBatchSize:       cfg.Processor.MaxBatchSize,
		SendDelay:          cfg.Processor.SendDelay,
		UseIdempotencyKeys: cfg.Processor.UseIdempotencyKeys,
	})

	runCtx, cancel := context.WithCancel(logger.WithLogger(ctx, log))
	defer cancel()

	go runLoop(runCtx, proc, cfg.Processor.Interval, log)

	// Wait for interrupt signal for graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down drain worker")
	cancel()

	// Give an in-flight pass a moment to finish its current message.
	time.Sleep(time.Second)
	log.Info().Msg("drain worker stopped")
}

// runLoop triggers a drain pass immediately and then on every tick until
// the context is cancelled.
func runLoop(ctx context.Context, proc *processor.Processor, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		passCtx := logger.WithCorrelationID(ctx, logger.NewCorrelationID())
		if _, err := proc.ProcessPendingBatch(passCtx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("drain pass failed")
		}
		proc.RefreshQueueDepth(ctx)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// tokenSource picks the bearer credential strategy for the REST backend:
// a static token when one is configured, otherwise a refreshing source
// driven by the auth endpoint.
func tokenSource(cfg *config.Config) auth.TokenSource {
	if cfg.QueueStore.Backend != "rest" {
		return nil
	}
	if cfg.QueueStore.Token != "" {
		return auth.NewStaticTokenSource(cfg.QueueStore.Token)
	}
	return auth.NewRefreshingTokenSource(
		cfg.QueueStore.AuthURL,
		cfg.QueueStore.APIKey,
		cfg.QueueStore.Email,
		cfg.QueueStore.Password,
		nil,
	)
}
