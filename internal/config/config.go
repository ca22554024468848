// Package config loads flintd configuration from FLINT_* environment
// variables and command-line flags. Flags take precedence over the
// environment; both fall back to compiled-in defaults.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/flintlabs/flint/internal/cors"
)

const (
	envVarListenAddr      = "FLINT_LISTEN_ADDR"
	envVarStatePath       = "FLINT_STATE_PATH"
	envVarAllowedOrigins  = "FLINT_ALLOWED_ORIGINS"
	envVarPeerTimeout     = "FLINT_PEER_TIMEOUT"
	envVarCommitRetries   = "FLINT_COMMIT_RETRIES"
	envVarMaxBodyBytes    = "FLINT_MAX_BODY_BYTES"
	envVarRateLimitRPS    = "FLINT_RATE_LIMIT_RPS"
	envVarRateLimitBurst  = "FLINT_RATE_LIMIT_BURST"
	envVarLogFormat       = "FLINT_LOG_FORMAT"
	envVarLogLevel        = "FLINT_LOG_LEVEL"
	envVarShutdownTimeout = "FLINT_SHUTDOWN_TIMEOUT"

	DefaultListenAddr    = ":3536"
	DefaultStatePath     = "flint_state.json"
	DefaultPeerTimeout   = 60 * time.Second
	DefaultCommitRetries = 5
	DefaultMaxBodyBytes  = 64 * 1024
	DefaultShutdown      = 15 * time.Second
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Config carries every tunable for a flintd process.
type Config struct {
	ListenAddr string
	StatePath  string

	// AllowedOrigins is the raw comma-separated origin list as configured;
	// Origins is its parsed form, consumed by the CORS middleware.
	AllowedOrigins string
	Origins        *cors.Allowlist

	// PeerTimeout is how long a peer may go without any request before the
	// broker drops it and tells its room.
	PeerTimeout time.Duration

	// CommitRetries bounds how many times a state commit is attempted when
	// concurrent writers race on the same generation.
	CommitRetries int

	// MaxBodyBytes caps the size of a POST /signal request body.
	MaxBodyBytes int64

	// RateLimitRPS caps signaling requests per client IP per second.
	// 0 disables rate limiting entirely.
	RateLimitRPS   int
	RateLimitBurst int

	LogFormat LogFormat
	LogLevel  slog.Level

	ShutdownTimeout time.Duration
}

// Load reads configuration from the process environment and args
// (typically os.Args[1:]).
func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	statePath := envOrDefault(lookup, envVarStatePath, DefaultStatePath)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "*")
	logFormatDefault := envOrDefault(lookup, envVarLogFormat, string(LogFormatText))
	logLevelDefault := envOrDefault(lookup, envVarLogLevel, "info")

	peerTimeout := DefaultPeerTimeout
	if raw, ok := lookup(envVarPeerTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarPeerTimeout, raw, err)
		}
		peerTimeout = d
	}

	shutdownTimeout := DefaultShutdown
	if raw, ok := lookup(envVarShutdownTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarShutdownTimeout, raw, err)
		}
		shutdownTimeout = d
	}

	commitRetries, err := envIntOrDefault(lookup, envVarCommitRetries, DefaultCommitRetries)
	if err != nil {
		return Config{}, err
	}
	maxBodyBytes, err := envIntOrDefault(lookup, envVarMaxBodyBytes, DefaultMaxBodyBytes)
	if err != nil {
		return Config{}, err
	}
	rateLimitRPS, err := envIntOrDefault(lookup, envVarRateLimitRPS, 0)
	if err != nil {
		return Config{}, err
	}

	rateLimitBurst := 0
	envBurstSet := false
	if raw, ok := lookup(envVarRateLimitBurst); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarRateLimitBurst, raw, err)
		}
		rateLimitBurst = n
		envBurstSet = true
	}

	fs := flag.NewFlagSet("flintd", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port; env "+envVarListenAddr+")")
	fs.StringVar(&statePath, "state-path", statePath, "Path of the durable state file (env "+envVarStatePath+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins, or * (env "+envVarAllowedOrigins+")")
	fs.DurationVar(&peerTimeout, "peer-timeout", peerTimeout, "Drop peers unseen for this long (env "+envVarPeerTimeout+")")
	fs.IntVar(&commitRetries, "commit-retries", commitRetries, "State commit attempts before giving up (env "+envVarCommitRetries+")")
	fs.IntVar(&maxBodyBytes, "max-body-bytes", maxBodyBytes, "Max POST /signal body size in bytes (env "+envVarMaxBodyBytes+")")
	fs.IntVar(&rateLimitRPS, "rate-limit-rps", rateLimitRPS, "Signaling requests per second per client IP (0 = unlimited; env "+envVarRateLimitRPS+")")
	fs.IntVar(&rateLimitBurst, "rate-limit-burst", rateLimitBurst, "Burst size for the per-client rate limit (default 2x rps; env "+envVarRateLimitBurst+")")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json (env "+envVarLogFormat+")")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error (env "+envVarLogLevel+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s; env "+envVarShutdownTimeout+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	// If the burst is not configured anywhere, size it from the (possibly
	// overridden) rate after flag parsing.
	if !envBurstSet && !setFlags["rate-limit-burst"] && rateLimitRPS > 0 {
		rateLimitBurst = 2 * rateLimitRPS
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}

	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	origins, err := cors.ParseAllowlist(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--allowed-origins: %w", envVarAllowedOrigins, err)
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if _, _, err := net.SplitHostPort(listenAddr); err != nil {
		return Config{}, fmt.Errorf("invalid %s/--listen-addr %q: %w", envVarListenAddr, listenAddr, err)
	}
	if strings.TrimSpace(statePath) == "" {
		return Config{}, fmt.Errorf("%s/--state-path must not be empty", envVarStatePath)
	}
	if peerTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--peer-timeout must be > 0", envVarPeerTimeout)
	}
	if commitRetries < 1 {
		return Config{}, fmt.Errorf("%s/--commit-retries must be >= 1", envVarCommitRetries)
	}
	if maxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-body-bytes must be > 0", envVarMaxBodyBytes)
	}
	if rateLimitRPS < 0 {
		return Config{}, fmt.Errorf("%s/--rate-limit-rps must be >= 0", envVarRateLimitRPS)
	}
	if rateLimitRPS > 0 && rateLimitBurst <= 0 {
		return Config{}, fmt.Errorf("%s/--rate-limit-burst must be > 0 when rate limiting is enabled", envVarRateLimitBurst)
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}

	return Config{
		ListenAddr:      listenAddr,
		StatePath:       statePath,
		AllowedOrigins:  allowedOriginsStr,
		Origins:         origins,
		PeerTimeout:     peerTimeout,
		CommitRetries:   commitRetries,
		MaxBodyBytes:    int64(maxBodyBytes),
		RateLimitRPS:    rateLimitRPS,
		RateLimitBurst:  rateLimitBurst,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}
