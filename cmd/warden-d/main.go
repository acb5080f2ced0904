package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ilg-ai/warden/pkg/api"
	"github.com/ilg-ai/warden/pkg/auth"
	"github.com/ilg-ai/warden/pkg/backoff"
	"github.com/ilg-ai/warden/pkg/config"
	"github.com/ilg-ai/warden/pkg/governor"
	"github.com/ilg-ai/warden/pkg/store"
	redisstore "github.com/ilg-ai/warden/pkg/store/redis"
)

func main() {
	// Credentials and overrides may live in a local .env; absence is
	// not an error.
	_ = godotenv.Load()

	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		errLog := zerolog.New(os.Stderr)
		errLog.Fatal().Err(err).Msg("invalid configuration")
	}

	log := newLogger(cfg.LogLevel)
	log.Info().Str("component", "warden-d").Msg("system started")

	ledger, cleanup, err := openLedger(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init ledger")
	}
	defer cleanup()

	table, err := loadProviderTable(cfg.ConfigPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load provider table")
	}

	selector := auth.NewSelector()
	scheduler := backoff.NewScheduler()

	var opts []governor.Option
	opts = append(opts, governor.WithLogger(log))
	if table.AuditRefusals {
		opts = append(opts, governor.WithAuditRefusals())
	}
	gov := governor.New(ledger, selector, scheduler, opts...)

	if err := table.Configure(gov, selector, scheduler); err != nil {
		log.Fatal().Err(err).Msg("failed to configure governor")
	}
	log.Info().Int("providers", len(table.Providers)).Msg("provider table configured")

	server := api.NewServer(gov, ledger, cfg.Addr, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("api server failed")
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.Info().Str("signal", sig.String()).Msg("shutdown initiated")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("failed to stop api server")
	}

	log.Info().Msg("shutdown complete")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

// openLedger picks the ledger backend. SQLite is the default; Redis
// serves deployments where several collectors share one quota budget.
func openLedger(cfg Config, log zerolog.Logger) (store.Ledger, func(), error) {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, nil, err
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("redis ledger initialized")
		return redisstore.NewRedisLedger(client), func() { client.Close() }, nil
	default:
		st, err := store.NewStore(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		tables, err := st.Tables()
		if err != nil {
			st.Close()
			return nil, nil, err
		}
		log.Info().Str("path", cfg.DBPath).Strs("tables", tables).Msg("sqlite ledger initialized")
		return st, func() { st.Close() }, nil
	}
}

// loadProviderTable reads the YAML provider table, falling back to the
// stock setup when the file does not exist.
func loadProviderTable(path string, log zerolog.Logger) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Warn().Str("path", path).Msg("no config file, using default provider table")
		return config.Default(), nil
	}
	table, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Msg("provider table loaded")
	return table, nil
}
