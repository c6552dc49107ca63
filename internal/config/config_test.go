package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func noEnv(string) (string, bool) { return "", false }

func TestDefaults(t *testing.T) {
	cfg, err := load(noEnv, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerAddress != DefaultServerAddress {
		t.Fatalf("ServerAddress=%q, want %q", cfg.ServerAddress, DefaultServerAddress)
	}
	if cfg.ServerPort != DefaultServerPort {
		t.Fatalf("ServerPort=%d, want %d", cfg.ServerPort, DefaultServerPort)
	}
	if cfg.ServerScheme != "wss" {
		t.Fatalf("ServerScheme=%q, want wss", cfg.ServerScheme)
	}
	if cfg.Verbose {
		t.Fatalf("Verbose=true, want false")
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel=%v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("LogFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.TLSSkipVerify {
		t.Fatalf("TLSSkipVerify=true, want false")
	}
	if cfg.CameraID == "" {
		t.Fatalf("expected non-empty default CameraID")
	}
	if cfg.HTTPAddr != "" {
		t.Fatalf("HTTPAddr=%q, want empty", cfg.HTTPAddr)
	}
	if cfg.WSPingInterval != DefaultWSPingInterval {
		t.Fatalf("WSPingInterval=%v, want %v", cfg.WSPingInterval, DefaultWSPingInterval)
	}
	if cfg.WSMaxMessageBytes != DefaultWSMaxMessageBytes {
		t.Fatalf("WSMaxMessageBytes=%d, want %d", cfg.WSMaxMessageBytes, DefaultWSMaxMessageBytes)
	}
	if cfg.WSMaxMessagesPerSecond != DefaultWSMaxMessagesPerSecond {
		t.Fatalf("WSMaxMessagesPerSecond=%d, want %d", cfg.WSMaxMessagesPerSecond, DefaultWSMaxMessagesPerSecond)
	}
	if cfg.WebRTCUDPPortRange != nil {
		t.Fatalf("expected WebRTCUDPPortRange unset, got %+v", *cfg.WebRTCUDPPortRange)
	}
	if len(cfg.ICEServers) != 1 || len(cfg.ICEServers[0].URLs) != 1 || cfg.ICEServers[0].URLs[0] != DefaultSTUNURL {
		t.Fatalf("ICEServers=%#v, want default STUN server", cfg.ICEServers)
	}
	if cfg.TURNREST.Enabled() {
		t.Fatalf("expected TURN REST disabled by default")
	}
	if got, want := cfg.SignalingURL(), "wss://ss0000.umbocv.com:3443/"; got != want {
		t.Fatalf("SignalingURL=%q, want %q", got, want)
	}
}

func TestShortAndLongFlags(t *testing.T) {
	for _, args := range [][]string{
		{"-a", "signal.example.com", "-p", "8443", "-v"},
		{"--address", "signal.example.com", "--port", "8443", "--verbose"},
		{"--address=signal.example.com", "--port=8443", "--verbose=true"},
	} {
		cfg, err := load(noEnv, args)
		if err != nil {
			t.Fatalf("load(%v): %v", args, err)
		}
		if cfg.ServerAddress != "signal.example.com" {
			t.Fatalf("load(%v): ServerAddress=%q", args, cfg.ServerAddress)
		}
		if cfg.ServerPort != 8443 {
			t.Fatalf("load(%v): ServerPort=%d", args, cfg.ServerPort)
		}
		if !cfg.Verbose || cfg.LogLevel != slog.LevelDebug {
			t.Fatalf("load(%v): Verbose=%v LogLevel=%v, want verbose debug", args, cfg.Verbose, cfg.LogLevel)
		}
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	env := lookupMap(map[string]string{
		envVarServerAddress: "env.example.com",
		envVarServerPort:    "1234",
		envVarCameraID:      "cam-env",
	})

	cfg, err := load(env, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerAddress != "env.example.com" || cfg.ServerPort != 1234 || cfg.CameraID != "cam-env" {
		t.Fatalf("env not applied: %+v", cfg)
	}

	cfg, err = load(env, []string{"-a", "flag.example.com", "--camera-id", "cam-flag"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerAddress != "flag.example.com" {
		t.Fatalf("ServerAddress=%q, want flag.example.com", cfg.ServerAddress)
	}
	if cfg.ServerPort != 1234 {
		t.Fatalf("ServerPort=%d, want 1234", cfg.ServerPort)
	}
	if cfg.CameraID != "cam-flag" {
		t.Fatalf("CameraID=%q, want cam-flag", cfg.CameraID)
	}
}

func TestInvalidInputs(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{name: "unknown flag", args: []string{"--bogus"}},
		{name: "non-numeric port", args: []string{"-p", "abc"}},
		{name: "port out of range", args: []string{"-p", "70000"}},
		{name: "zero port", args: []string{"-p", "0"}},
		{name: "empty address", args: []string{"-a", " "}},
		{name: "bad scheme", args: []string{"--scheme", "http"}},
		{name: "positional", args: []string{"extra"}},
		{name: "bad log format", args: []string{"--log-format", "xml"}},
		{name: "bad env port", env: map[string]string{envVarServerPort: "nope"}},
		{name: "bad env verbose", env: map[string]string{envVarVerbose: "maybe"}},
		{name: "negative ping interval", args: []string{"--ws-ping-interval", "-1s"}},
		{name: "zero max message bytes", args: []string{"--max-message-bytes", "0"}},
		{name: "port range half set", args: []string{"--" + flagWebRTCUDPPortMin, "50000"}},
		{name: "port range inverted", args: []string{"--" + flagWebRTCUDPPortMin, "50010", "--" + flagWebRTCUDPPortMax, "50000"}},
		{name: "bad nat ip", args: []string{"--" + flagWebRTCNAT1To1IPs, "not-an-ip"}},
		{name: "bad candidate type", args: []string{"--" + flagWebRTCNAT1To1IPCandidateType, "relay"}},
		{name: "turn rest without urls", args: []string{"--turn-rest-shared-secret", "s"}},
		{name: "turn rest stun url", args: []string{"--turn-rest-shared-secret", "s", "--turn-rest-urls", "stun:x:3478"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := load(lookupMap(tc.env), tc.args); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestHelpReturnsErrHelp(t *testing.T) {
	_, err := load(noEnv, []string{"--help"})
	if !errors.Is(err, pflag.ErrHelp) {
		t.Fatalf("err=%v, want pflag.ErrHelp", err)
	}
}

func TestWebRTCNetworkSettings(t *testing.T) {
	cfg, err := load(noEnv, []string{
		"--" + flagWebRTCUDPPortMin, "50000",
		"--" + flagWebRTCUDPPortMax, "50100",
		"--" + flagWebRTCNAT1To1IPs, "203.0.113.10, 203.0.113.11",
		"--" + flagWebRTCNAT1To1IPCandidateType, "srflx",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WebRTCUDPPortRange == nil || cfg.WebRTCUDPPortRange.Min != 50000 || cfg.WebRTCUDPPortRange.Max != 50100 {
		t.Fatalf("WebRTCUDPPortRange=%+v", cfg.WebRTCUDPPortRange)
	}
	if len(cfg.WebRTCNAT1To1IPs) != 2 || cfg.WebRTCNAT1To1IPs[1] != "203.0.113.11" {
		t.Fatalf("WebRTCNAT1To1IPs=%v", cfg.WebRTCNAT1To1IPs)
	}
	if cfg.WebRTCNAT1To1IPCandidateType != NAT1To1CandidateTypeSrflx {
		t.Fatalf("WebRTCNAT1To1IPCandidateType=%q", cfg.WebRTCNAT1To1IPCandidateType)
	}
}

func TestICEServersFromEnvAndFlags(t *testing.T) {
	env := lookupMap(map[string]string{envStunURLs: "env.example.com:3478"})

	cfg, err := load(env, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.ICEServers; len(got) != 1 || got[0].URLs[0] != "stun:env.example.com:3478" {
		t.Fatalf("ICEServers=%#v, want env STUN host with stun: scheme", got)
	}

	cfg, err = load(env, []string{"--ice-servers-json", `[{"urls":"stun:flag.example.com:3478"}]`})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.ICEServers; len(got) != 1 || got[0].URLs[0] != "stun:flag.example.com:3478" {
		t.Fatalf("ICEServers=%#v, want JSON list to win", got)
	}
}

func TestTURNRESTConfig(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarTURNRESTSharedSecret: "secret",
		envVarTURNRESTURLs:         "turn:turn.example.com:3478?transport=udp, turns:turn.example.com:5349",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.TURNREST.Enabled() {
		t.Fatalf("expected TURN REST enabled")
	}
	if cfg.TURNREST.TTLSeconds != DefaultTURNRESTTTLSeconds {
		t.Fatalf("TTLSeconds=%d, want %d", cfg.TURNREST.TTLSeconds, DefaultTURNRESTTTLSeconds)
	}
	if cfg.TURNREST.UsernamePrefix != DefaultTURNRESTUsernamePrefix {
		t.Fatalf("UsernamePrefix=%q, want %q", cfg.TURNREST.UsernamePrefix, DefaultTURNRESTUsernamePrefix)
	}
	if len(cfg.TURNREST.URLs) != 2 {
		t.Fatalf("URLs=%v, want 2 entries", cfg.TURNREST.URLs)
	}
}

func TestSignalingURL(t *testing.T) {
	cfg, err := load(noEnv, []string{"--scheme", "WS", "--path", "signal", "-a", "::1", "-p", "9000"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got, want := cfg.SignalingURL(), "ws://[::1]:9000/signal"; got != want {
		t.Fatalf("SignalingURL=%q, want %q", got, want)
	}
}

func TestLayeredLookupPrefersProcessEnv(t *testing.T) {
	lookup := layeredLookup(lookupMap(map[string]string{envVarServerAddress: "proc.example.com"}), map[string]string{
		envVarServerAddress: "file.example.com",
		envVarServerPort:    "4443",
	})
	cfg, err := load(lookup, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerAddress != "proc.example.com" {
		t.Fatalf("ServerAddress=%q, want proc.example.com", cfg.ServerAddress)
	}
	if cfg.ServerPort != 4443 {
		t.Fatalf("ServerPort=%d, want 4443", cfg.ServerPort)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jumbo.env")
	if err := os.WriteFile(path, []byte("JUMBO_CAMERA_ID=cam-from-file\nJUMBO_WS_PING_INTERVAL=5s\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load([]string{"--env-file", path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, set := os.LookupEnv(envVarCameraID); !set && cfg.CameraID != "cam-from-file" {
		t.Fatalf("CameraID=%q, want cam-from-file", cfg.CameraID)
	}
	if _, set := os.LookupEnv(envVarWSPingInterval); !set && cfg.WSPingInterval != 5*time.Second {
		t.Fatalf("WSPingInterval=%v, want 5s", cfg.WSPingInterval)
	}
}

func TestLoad_MissingEnvFile(t *testing.T) {
	_, err := Load([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")})
	if err == nil || !strings.Contains(err.Error(), "read env file") {
		t.Fatalf("err=%v, want read env file error", err)
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []LogFormat{LogFormatText, LogFormatJSON} {
		logger, err := NewLogger(Config{LogFormat: format, LogLevel: slog.LevelInfo})
		if err != nil || logger == nil {
			t.Fatalf("NewLogger(%q): logger=%v err=%v", format, logger, err)
		}
	}
	if _, err := NewLogger(Config{LogFormat: "xml"}); err == nil {
		t.Fatalf("expected error for unsupported log format")
	}

	path := filepath.Join(t.TempDir(), "jumbo.log")
	logger, err := NewLogger(Config{LogFormat: LogFormatJSON, LogLevel: slog.LevelInfo, LogFile: path})
	if err != nil {
		t.Fatalf("NewLogger(file): %v", err)
	}
	logger.Info("hello", "k", "v")
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), `"msg":"hello"`) {
		t.Fatalf("log file=%q, want hello record", b)
	}
}
