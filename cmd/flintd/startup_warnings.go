package main

import (
	"log/slog"
	"time"

	"github.com/flintlabs/flint/internal/config"
)

// peerTimeoutWarnThreshold flags configurations where dead peers would
// linger in rooms long enough to confuse new joiners.
const peerTimeoutWarnThreshold = 10 * time.Minute

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Origins.Wildcard() {
		logger.Warn("startup security warning: FLINT_ALLOWED_ORIGINS is '*' (any website may use this broker)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
		)
	}

	if cfg.RateLimitRPS <= 0 {
		logger.Warn("startup security warning: FLINT_RATE_LIMIT_RPS is unset/0 (no per-client request limit)",
			"warning_code", "rate_limit_disabled",
			"rate_limit_rps", cfg.RateLimitRPS,
		)
	}

	if cfg.PeerTimeout > peerTimeoutWarnThreshold {
		logger.Warn("startup warning: FLINT_PEER_TIMEOUT is very large (dead peers linger in rooms and keep receiving signals)",
			"warning_code", "peer_timeout_large",
			"peer_timeout", cfg.PeerTimeout,
		)
	}
}
