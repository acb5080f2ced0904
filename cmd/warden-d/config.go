package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const defaultAddr = "127.0.0.1:8090"

// Config carries the daemon's process-level settings. The provider
// table itself lives in the YAML file at ConfigPath.
type Config struct {
	DBPath     string
	ConfigPath string
	Addr       string
	Backend    string
	RedisAddr  string
	LogLevel   string
}

// LoadConfig resolves settings from environment variables first, then
// lets flags override them.
func LoadConfig(args []string) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	dbPath := envOrDefault("WARDEN_DB_PATH", filepath.Join(cwd, "warden.db"))
	configPath := envOrDefault("WARDEN_CONFIG_PATH", filepath.Join(cwd, "warden.yaml"))
	addr := addrFromEnv(defaultAddr)
	backend := envOrDefault("WARDEN_BACKEND", "sqlite")
	redisAddr := envOrDefault("WARDEN_REDIS_ADDR", "127.0.0.1:6379")
	logLevel := envOrDefault("WARDEN_LOG_LEVEL", "info")

	flagSet := flag.NewFlagSet("warden-d", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagDB := flagSet.String("db", dbPath, "path to SQLite database")
	flagConfig := flagSet.String("config", configPath, "path to provider table YAML")
	flagAddr := flagSet.String("addr", addr, "HTTP listen address")
	flagBackend := flagSet.String("backend", backend, "ledger backend: sqlite|redis")
	flagRedis := flagSet.String("redis-addr", redisAddr, "redis address when backend=redis")
	flagLogLevel := flagSet.String("log-level", logLevel, "log level: debug|info|warn|error")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
			return Config{}, err
		}
		return Config{}, err
	}

	config := Config{
		DBPath:     resolvePath(*flagDB, cwd),
		ConfigPath: resolvePath(*flagConfig, cwd),
		Addr:       strings.TrimSpace(*flagAddr),
		Backend:    strings.ToLower(strings.TrimSpace(*flagBackend)),
		RedisAddr:  strings.TrimSpace(*flagRedis),
		LogLevel:   strings.ToLower(strings.TrimSpace(*flagLogLevel)),
	}

	if config.Addr == "" {
		return Config{}, errors.New("addr cannot be empty")
	}
	if config.Backend != "sqlite" && config.Backend != "redis" {
		return Config{}, fmt.Errorf("unsupported backend: %s", config.Backend)
	}
	if config.Backend == "redis" && config.RedisAddr == "" {
		return Config{}, errors.New("backend=redis requires redis-addr")
	}

	return config, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func addrFromEnv(fallback string) string {
	if value := os.Getenv("WARDEN_ADDR"); value != "" {
		return value
	}
	if port := os.Getenv("WARDEN_PORT"); port != "" {
		return fmt.Sprintf("127.0.0.1:%s", port)
	}
	return fallback
}

func resolvePath(path string, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}
