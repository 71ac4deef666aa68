package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/org/keyproxy/internal/api"
	"github.com/org/keyproxy/internal/scheduler"
	"github.com/org/keyproxy/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type config struct {
	ListenAddr      string `yaml:"listen_addr"`
	TLSCertFile     string `yaml:"tls_cert"`
	TLSKeyFile      string `yaml:"tls_key"`
	DBUrl           string `yaml:"db_url"`
	MigrationsDir   string `yaml:"migrations_dir"`
	SessionTTL      string `yaml:"session_ttl"`
	SweepSchedule   string `yaml:"sweep_schedule"`
	WebhookTimeoutS int    `yaml:"webhook_timeout_s"`
	LogLevel        string `yaml:"log_level"`
}

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	cfgFile := "config.yaml"
	if v := os.Getenv("KEYPROXY_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := config{
		ListenAddr:    ":8300",
		MigrationsDir: "migrations",
		SessionTTL:    "1h",
		SweepSchedule: "*/5 * * * *",
		LogLevel:      "info",
	}

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("KEYPROXY_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBUrl = v
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	sessionTTL, err := time.ParseDuration(cfg.SessionTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid session_ttl")
	}

	ctx := context.Background()

	// Connect storage. An empty db_url selects the in-memory backend for
	// development; nothing survives a restart without Postgres.
	var store storage.StorageBackend
	if cfg.DBUrl == "" {
		log.Warn().Msg("db_url not configured, using in-memory storage (non-durable)")
		store = storage.NewMemoryBackend()
	} else {
		pg, err := storage.NewPostgresBackend(ctx, cfg.DBUrl)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		store = pg

		if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		log.Info().Msg("migrations applied")
	}
	defer store.Close()

	srv := api.NewServer(store, api.Config{
		ListenAddr:     cfg.ListenAddr,
		TLSCertFile:    cfg.TLSCertFile,
		TLSKeyFile:     cfg.TLSKeyFile,
		DBUrl:          cfg.DBUrl,
		MigrationsDir:  cfg.MigrationsDir,
		SessionTTL:     sessionTTL,
		WebhookTimeout: time.Duration(cfg.WebhookTimeoutS) * time.Second,
	})

	// In-process rotation sweep. Empty schedule disables it (external cron
	// can still POST /v1/rotation/sweep).
	var sched *scheduler.Scheduler
	if cfg.SweepSchedule != "" {
		sched = scheduler.New(cfg.SweepSchedule, srv.Engine(), srv.Sessions())
		if err := sched.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start rotation scheduler")
		}
	}

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	if sched != nil {
		sched.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}
