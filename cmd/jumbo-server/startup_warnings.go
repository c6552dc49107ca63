package main

import (
	"log/slog"
	"net"
	"time"

	"github.com/wilsonzlin/aero/proxy/jumbo-server/internal/config"
)

const maxRecommendedTURNRESTTTL = 24 * time.Hour

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.TLSSkipVerify {
		logger.Warn("startup security warning: --tls-skip-verify disables signaling server certificate verification",
			"warning_code", "tls_skip_verify",
			"server_address", cfg.ServerAddress,
		)
	}

	if cfg.ServerScheme == "ws" {
		logger.Warn("startup security warning: signaling uses plaintext ws://; SDP and ICE candidates are sent unencrypted",
			"warning_code", "signaling_plaintext",
			"signaling_url", cfg.SignalingURL(),
		)
	}

	if cfg.WSMaxMessagesPerSecond <= 0 {
		logger.Warn("startup security warning: inbound signaling rate limit is disabled",
			"warning_code", "signaling_rate_limit_disabled",
			"max_messages_per_second", cfg.WSMaxMessagesPerSecond,
		)
	}

	if cfg.TURNREST.Enabled() && time.Duration(cfg.TURNREST.TTLSeconds)*time.Second > maxRecommendedTURNRESTTTL {
		logger.Warn("startup security warning: TURN REST credentials are valid for more than a day",
			"warning_code", "turn_rest_ttl_large",
			"turn_rest_ttl_seconds", cfg.TURNREST.TTLSeconds,
		)
	}

	if cfg.HTTPAddr != "" && !isLoopbackAddr(cfg.HTTPAddr) {
		logger.Warn("startup security warning: admin HTTP listener (/metrics, /version) is not bound to loopback",
			"warning_code", "http_addr_not_loopback",
			"http_addr", cfg.HTTPAddr,
		)
	}
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
