package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seojun/maildrain/internal/api"
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
	log.Info().Msg("starting API server")

	ctx := context.Background()

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
	}

	proc := processor.New(store, prov, claimer, processor.Config{
		MaxBatchSize:       cfg.Processor.MaxBatchSize,
		SendDelay:          cfg.Processor.SendDelay,
		UseIdempotencyKeys: cfg.Processor.UseIdempotencyKeys,
	})

	router := api.NewRouter(proc, store, log, cfg.API.APIKeyHash)

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal for graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("API server stopped")
}

// tokenSource picks the bearer credential strategy for the REST backend.
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
