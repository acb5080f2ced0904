// warden-mcp runs the MCP adapter on stdio for agent runtimes. It links
// the governor in-process against the same ledger the daemon uses, so
// agents and collectors share one quota budget.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/ilg-ai/warden/pkg/auth"
	"github.com/ilg-ai/warden/pkg/backoff"
	"github.com/ilg-ai/warden/pkg/config"
	"github.com/ilg-ai/warden/pkg/governor"
	"github.com/ilg-ai/warden/pkg/mcp"
	"github.com/ilg-ai/warden/pkg/store"
)

func main() {
	_ = godotenv.Load()

	// Stdout belongs to the MCP protocol; all logging goes to stderr.
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cwd, err := os.Getwd()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to get cwd")
	}

	dbPath := envOrDefault("WARDEN_DB_PATH", filepath.Join(cwd, "warden.db"))
	configPath := envOrDefault("WARDEN_CONFIG_PATH", filepath.Join(cwd, "warden.yaml"))

	flagSet := flag.NewFlagSet("warden-mcp", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagDB := flagSet.String("db", dbPath, "path to SQLite database")
	flagConfig := flagSet.String("config", configPath, "path to provider table YAML")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
			os.Exit(0)
		}
		log.Fatal().Err(err).Msg("invalid flags")
	}

	st, err := store.NewStore(strings.TrimSpace(*flagDB))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init store")
	}
	defer st.Close()

	var table *config.Config
	if _, err := os.Stat(*flagConfig); os.IsNotExist(err) {
		table = config.Default()
	} else if table, err = config.Load(*flagConfig); err != nil {
		log.Fatal().Err(err).Msg("failed to load provider table")
	}

	selector := auth.NewSelector()
	scheduler := backoff.NewScheduler()

	var opts []governor.Option
	opts = append(opts, governor.WithLogger(log))
	if table.AuditRefusals {
		opts = append(opts, governor.WithAuditRefusals())
	}
	gov := governor.New(st, selector, scheduler, opts...)
	if err := table.Configure(gov, selector, scheduler); err != nil {
		log.Fatal().Err(err).Msg("failed to configure governor")
	}

	log.Info().Str("component", "warden-mcp").Msg("serving on stdio")
	if err := mcp.NewServer(gov, st).Serve(); err != nil {
		fmt.Fprintf(os.Stderr, "mcp server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
