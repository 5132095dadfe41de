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

	"github.com/seanblong/metasearch/internal/ai"
	"github.com/seanblong/metasearch/internal/api"
	"github.com/seanblong/metasearch/internal/artifact"
	"github.com/seanblong/metasearch/internal/auth"
	"github.com/seanblong/metasearch/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("metasearch-api", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	fs.Usage = cfg.Usage

	logger, err := cfg.Logger(os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Bool("auth_enabled", cfg.Auth.Enabled).Msg("starting metasearch api")

	if cfg.Auth.Enabled && cfg.Auth.JwtSecret == "" {
		logger.Fatal().Msg("METASEARCH_AUTH_JWT_SECRET is required when auth is enabled")
	}
	auth.InitializeAuth(cfg.Auth.JwtSecret, cfg.Auth.TokenTTL, cfg.Auth.Enabled)
	if auth.IsAuthEnabled() {
		logger.Info().Msg("Authentication is ENABLED")
	} else {
		logger.Info().Msg("Authentication is DISABLED - running in open mode")
	}

	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("provider")
	}
	c, err := ai.NewClient(clientConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create AI client")
	}
	logger.Info().Int("embedding_dim", c.Dim()).Str("embed_model", c.Model()).Msg("AI client initialized")

	srv := api.NewServer(artifact.New(cfg.DataDir), c, c, cfg.Database, cfg.TopK, cfg.History)
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Warn().Err(err).Msg("close indexes")
		}
	}()

	s := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Handler(logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("shutdown")
		}
	}()

	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("server failed")
	}
}
