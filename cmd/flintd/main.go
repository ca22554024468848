package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/flintlabs/flint/internal/config"
	"github.com/flintlabs/flint/internal/httpserver"
	"github.com/flintlabs/flint/internal/metrics"
	"github.com/flintlabs/flint/internal/signaling"
	"github.com/flintlabs/flint/internal/store"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	m := metrics.New()

	st, err := store.NewFileStore(cfg.StatePath, cfg.CommitRetries, logger, m)
	if err != nil {
		logger.Error("failed to open state store", "err", err)
		os.Exit(2)
	}

	logger.Info("starting flintd",
		"listen_addr", cfg.ListenAddr,
		"state_path", cfg.StatePath,
		"peer_timeout", cfg.PeerTimeout,
		"commit_retries", cfg.CommitRetries,
		"allowed_origins", cfg.AllowedOrigins,
		"rate_limit_rps", cfg.RateLimitRPS,
	)

	logStartupSecurityWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, builtAt := resolveBuildInfo(buildCommit, buildTime)
	build := httpserver.BuildInfo{Commit: commit, BuildTime: builtAt}

	srv := httpserver.New(cfg, logger, build, m, st.Check)

	engine := signaling.NewEngine(st, signaling.RealClock{}, cfg.PeerTimeout, logger, m)
	sig := signaling.NewServer(engine, logger, m, cfg.MaxBodyBytes)
	sig.RegisterRoutes(srv.Mux())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
