package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/wilsonzlin/aero/proxy/jumbo-server/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
	groups  []string
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	h := &recordingHandler{mu: mu, records: records}
	logger := slog.New(h)
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *recordingHandler) clone() *recordingHandler {
	cp := &recordingHandler{
		mu:      h.mu,
		records: h.records,
	}
	if len(h.attrs) > 0 {
		cp.attrs = append([]slog.Attr(nil), h.attrs...)
	}
	if len(h.groups) > 0 {
		cp.groups = append([]string(nil), h.groups...)
	}
	return cp
}

func (h *recordingHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	return strings.Join(h.groups, ".") + "." + k
}

func warningCodes(records []recordedLog) map[string]recordedLog {
	out := make(map[string]recordedLog)
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			out[code] = r
		}
	}
	return out
}

func safeConfig() config.Config {
	return config.Config{
		ServerAddress:          "signal.example.com",
		ServerPort:             443,
		ServerScheme:           "wss",
		ServerPath:             "/",
		WSMaxMessagesPerSecond: 50,
		HTTPAddr:               "127.0.0.1:9090",
	}
}

func TestStartupWarnings_SafeConfigIsQuiet(t *testing.T) {
	logger, records := newRecordingLogger()
	logStartupWarnings(logger, safeConfig())
	if got := warningCodes(records()); len(got) != 0 {
		t.Fatalf("unexpected warnings: %#v", got)
	}
}

func TestStartupWarnings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		code   string
	}{
		{
			name:   "tls skip verify",
			mutate: func(c *config.Config) { c.TLSSkipVerify = true },
			code:   "tls_skip_verify",
		},
		{
			name:   "plaintext scheme",
			mutate: func(c *config.Config) { c.ServerScheme = "ws" },
			code:   "signaling_plaintext",
		},
		{
			name:   "rate limit disabled",
			mutate: func(c *config.Config) { c.WSMaxMessagesPerSecond = 0 },
			code:   "signaling_rate_limit_disabled",
		},
		{
			name: "turn rest ttl",
			mutate: func(c *config.Config) {
				c.TURNREST = config.TurnRESTConfig{
					SharedSecret:   "s",
					TTLSeconds:     7 * 24 * 3600,
					UsernamePrefix: "jumbo",
					URLs:           []string{"turn:turn.example.com:3478"},
				}
			},
			code: "turn_rest_ttl_large",
		},
		{
			name:   "public admin listener",
			mutate: func(c *config.Config) { c.HTTPAddr = ":9090" },
			code:   "http_addr_not_loopback",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, records := newRecordingLogger()
			cfg := safeConfig()
			tt.mutate(&cfg)

			logStartupWarnings(logger, cfg)

			got := warningCodes(records())
			if _, ok := got[tt.code]; !ok {
				t.Fatalf("expected warning_code=%s, got %#v", tt.code, records())
			}
			if len(got) != 1 {
				t.Fatalf("warnings=%d, want 1: %#v", len(got), got)
			}
		})
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:9090": true,
		"[::1]:9090":     true,
		"localhost:9090": true,
		":9090":          false,
		"0.0.0.0:9090":   false,
		"10.0.0.5:9090":  false,
		"garbage":        false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q)=%v, want %v", addr, got, want)
		}
	}
}
