package config

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/natefinch/lumberjack"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"
)

const (
	envVarEnvFile       = "JUMBO_ENV_FILE"
	envVarServerAddress = "JUMBO_SERVER_ADDRESS"
	envVarServerPort    = "JUMBO_SERVER_PORT"
	envVarServerScheme  = "JUMBO_SERVER_SCHEME"
	envVarServerPath    = "JUMBO_SERVER_PATH"
	envVarCameraID      = "JUMBO_CAMERA_ID"
	envVarTLSSkipVerify = "JUMBO_TLS_SKIP_VERIFY"
	envVarVerbose       = "JUMBO_VERBOSE"

	envVarLogFormat       = "JUMBO_LOG_FORMAT"
	envVarLogFile         = "JUMBO_LOG_FILE"
	envVarHTTPAddr        = "JUMBO_HTTP_ADDR"
	envVarShutdownTimeout = "JUMBO_SHUTDOWN_TIMEOUT"

	// Local media sources.
	envVarCaptureDir = "JUMBO_CAPTURE_DIR"
	envVarAudioFile  = "JUMBO_AUDIO_FILE"

	// Signaling WebSocket hardening.
	envVarWSPingInterval         = "JUMBO_WS_PING_INTERVAL"
	envVarWSMaxMessageBytes      = "JUMBO_WS_MAX_MESSAGE_BYTES"
	envVarWSMaxMessagesPerSecond = "JUMBO_WS_MAX_MESSAGES_PER_SECOND"
	envVarWSHandshakeTimeout     = "JUMBO_WS_HANDSHAKE_TIMEOUT"

	// coturn TURN REST (ephemeral) credentials.
	envVarTURNRESTSharedSecret   = "JUMBO_TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "JUMBO_TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "JUMBO_TURN_REST_USERNAME_PREFIX"
	envVarTURNRESTURLs           = "JUMBO_TURN_REST_URLS"

	envVarWebRTCUDPPortMin             = "JUMBO_WEBRTC_UDP_PORT_MIN"
	envVarWebRTCUDPPortMax             = "JUMBO_WEBRTC_UDP_PORT_MAX"
	envVarWebRTCNAT1To1IPs             = "JUMBO_WEBRTC_NAT_1TO1_IPS"
	envVarWebRTCNAT1To1IPCandidateType = "JUMBO_WEBRTC_NAT_1TO1_IP_CANDIDATE_TYPE"
)

const (
	flagEnvFile = "env-file"

	flagWebRTCUDPPortMin             = "webrtc-udp-port-min"
	flagWebRTCUDPPortMax             = "webrtc-udp-port-max"
	flagWebRTCNAT1To1IPs             = "webrtc-nat-1to1-ips"
	flagWebRTCNAT1To1IPCandidateType = "webrtc-nat-1to1-ip-candidate-type"
)

const (
	DefaultServerAddress = "ss0000.umbocv.com"
	DefaultServerPort    = uint16(3443)
	DefaultServerScheme  = "wss"
	DefaultServerPath    = "/"

	DefaultShutdown   = 5 * time.Second
	DefaultCaptureDir = "media"

	DefaultWSPingInterval         = 20 * time.Second
	DefaultWSHandshakeTimeout     = 10 * time.Second
	DefaultWSMaxMessageBytes      = int64(1 << 20) // 1MiB
	DefaultWSMaxMessagesPerSecond = 50

	DefaultTURNRESTTTLSeconds     int64  = 3600
	DefaultTURNRESTUsernamePrefix string = "jumbo"

	// Log file rotation (lumberjack).
	DefaultLogFileMaxSizeMB  = 100
	DefaultLogFileMaxBackups = 5
	DefaultLogFileMaxAgeDays = 28
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type NAT1To1IPCandidateType string

const (
	NAT1To1CandidateTypeHost  NAT1To1IPCandidateType = "host"
	NAT1To1CandidateTypeSrflx NAT1To1IPCandidateType = "srflx"
)

type UDPPortRange struct {
	Min uint16
	Max uint16
}

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
	// URLs are the TURN URLs the generated credentials are valid for.
	URLs []string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	// Signaling server endpoint.
	ServerAddress string
	ServerPort    uint16
	ServerScheme  string
	ServerPath    string
	TLSSkipVerify bool

	// CameraID is announced in the initialize request.
	CameraID string

	Verbose         bool
	LogFormat       LogFormat
	LogLevel        slog.Level
	LogFile         string
	HTTPAddr        string
	ShutdownTimeout time.Duration

	CaptureDir string
	AudioFile  string

	WSPingInterval         time.Duration
	WSHandshakeTimeout     time.Duration
	WSMaxMessageBytes      int64
	WSMaxMessagesPerSecond int

	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig

	// WebRTCUDPPortRange restricts the UDP ports used for ICE. When nil, pion uses
	// its defaults (OS ephemeral port selection).
	WebRTCUDPPortRange *UDPPortRange

	// WebRTCNAT1To1IPs configures pion to advertise these public IPs for ICE when
	// the camera is behind NAT. Values must be literal IPs (no hostnames).
	WebRTCNAT1To1IPs             []string
	WebRTCNAT1To1IPCandidateType NAT1To1IPCandidateType
}

// SignalingURL is the WebSocket URL of the signaling server.
func (c Config) SignalingURL() string {
	path := c.ServerPath
	if path == "" {
		path = DefaultServerPath
	}
	u := url.URL{
		Scheme: c.ServerScheme,
		Host:   net.JoinHostPort(c.ServerAddress, strconv.Itoa(int(c.ServerPort))),
		Path:   path,
	}
	return u.String()
}

// Load reads configuration from (in increasing precedence) an optional .env
// file, the process environment and command line flags.
func Load(args []string) (Config, error) {
	lookup := os.LookupEnv

	envFile := envFileFromArgs(args)
	if envFile == "" {
		envFile = os.Getenv(envVarEnvFile)
	}
	if envFile != "" {
		fileEnv, err := godotenv.Read(envFile)
		if err != nil {
			return Config{}, fmt.Errorf("read env file %q: %w", envFile, err)
		}
		lookup = layeredLookup(os.LookupEnv, fileEnv)
	}

	return load(lookup, args)
}

// envFileFromArgs extracts --env-file before the full flag set is parsed, since
// the file contributes flag defaults.
func envFileFromArgs(args []string) string {
	fs := pflag.NewFlagSet("jumbo-server", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}

	var envFile string
	fs.StringVar(&envFile, flagEnvFile, "", "")
	// Errors are reported by the full parse in load.
	_ = fs.Parse(args)
	return envFile
}

// layeredLookup prefers the real environment over values read from a .env
// file, matching godotenv.Load semantics without mutating the process env.
func layeredLookup(primary func(string) (string, bool), fallback map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := primary(key); ok {
			return v, true
		}
		v, ok := fallback[key]
		return v, ok
	}
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	serverAddress := envOrDefault(lookup, envVarServerAddress, DefaultServerAddress)
	serverScheme := envOrDefault(lookup, envVarServerScheme, DefaultServerScheme)
	serverPath := envOrDefault(lookup, envVarServerPath, DefaultServerPath)
	cameraID := envOrDefault(lookup, envVarCameraID, "")
	logFormatStr := envOrDefault(lookup, envVarLogFormat, string(LogFormatText))
	logFile := envOrDefault(lookup, envVarLogFile, "")
	httpAddr := envOrDefault(lookup, envVarHTTPAddr, "")
	captureDir := envOrDefault(lookup, envVarCaptureDir, DefaultCaptureDir)
	audioFile := envOrDefault(lookup, envVarAudioFile, "")
	envFile := envOrDefault(lookup, envVarEnvFile, "")

	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	serverPort := DefaultServerPort
	if raw, ok := lookup(envVarServerPort); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarServerPort, raw, err)
		}
		serverPort = p
	}

	tlsSkipVerify, err := envBoolOrDefault(lookup, envVarTLSSkipVerify, false)
	if err != nil {
		return Config{}, err
	}
	verbose, err := envBoolOrDefault(lookup, envVarVerbose, false)
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := envDurationOrDefault(lookup, envVarWSPingInterval, DefaultWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	wsHandshakeTimeout, err := envDurationOrDefault(lookup, envVarWSHandshakeTimeout, DefaultWSHandshakeTimeout)
	if err != nil {
		return Config{}, err
	}

	wsMaxMessageBytes := DefaultWSMaxMessageBytes
	if raw, ok := lookup(envVarWSMaxMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWSMaxMessageBytes, raw, err)
		}
		wsMaxMessageBytes = n
	}
	wsMaxMessagesPerSecond, err := envIntOrDefault(lookup, envVarWSMaxMessagesPerSecond, DefaultWSMaxMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	turnRESTTTLSeconds := DefaultTURNRESTTTLSeconds
	if raw, ok := lookup(envVarTURNRESTTTLSeconds); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarTURNRESTTTLSeconds, raw, err)
		}
		turnRESTTTLSeconds = n
	}
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)
	turnRESTURLs := envOrDefault(lookup, envVarTURNRESTURLs, "")

	var webrtcUDPPortMin uint16
	if raw, ok := lookup(envVarWebRTCUDPPortMin); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWebRTCUDPPortMin, raw, err)
		}
		webrtcUDPPortMin = p
	}
	var webrtcUDPPortMax uint16
	if raw, ok := lookup(envVarWebRTCUDPPortMax); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWebRTCUDPPortMax, raw, err)
		}
		webrtcUDPPortMax = p
	}
	webrtcNAT1To1IPsStr := envOrDefault(lookup, envVarWebRTCNAT1To1IPs, "")
	webrtcNAT1To1CandidateTypeStr := envOrDefault(lookup, envVarWebRTCNAT1To1IPCandidateType, string(NAT1To1CandidateTypeHost))

	fs := pflag.NewFlagSet("jumbo-server", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.SortFlags = false

	fs.StringVarP(&serverAddress, "address", "a", serverAddress, "Signaling server host (env "+envVarServerAddress+")")
	fs.Uint16VarP(&serverPort, "port", "p", serverPort, "Signaling server port (env "+envVarServerPort+")")
	fs.BoolVarP(&verbose, "verbose", "v", verbose, "Verbose logging (env "+envVarVerbose+")")
	fs.StringVar(&serverScheme, "scheme", serverScheme, "Signaling URL scheme: ws or wss (env "+envVarServerScheme+")")
	fs.StringVar(&serverPath, "path", serverPath, "Signaling URL path (env "+envVarServerPath+")")
	fs.StringVar(&cameraID, "camera-id", cameraID, "Camera id announced on initialize (default: hostname; env "+envVarCameraID+")")
	fs.BoolVar(&tlsSkipVerify, "tls-skip-verify", tlsSkipVerify, "Skip TLS certificate verification for wss (env "+envVarTLSSkipVerify+")")
	fs.StringVar(&envFile, flagEnvFile, envFile, "Optional .env file with JUMBO_* defaults (env "+envVarEnvFile+")")

	fs.StringVar(&logFormatStr, "log-format", logFormatStr, "Log format: text or json (env "+envVarLogFormat+")")
	fs.StringVar(&logFile, "log-file", logFile, "Write logs to this file with rotation instead of stdout (env "+envVarLogFile+")")
	fs.StringVar(&httpAddr, "http-addr", httpAddr, "Admin HTTP listen address for health and metrics; empty disables (env "+envVarHTTPAddr+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envVarShutdownTimeout+")")

	fs.StringVar(&captureDir, "capture-dir", captureDir, "Directory of *.ivf video capture sources (env "+envVarCaptureDir+")")
	fs.StringVar(&audioFile, "audio-file", audioFile, "Ogg/Opus audio source; empty sends silence (env "+envVarAudioFile+")")

	fs.DurationVar(&wsPingInterval, "ws-ping-interval", wsPingInterval, "Ping interval on the signaling WebSocket; 0 disables (env "+envVarWSPingInterval+")")
	fs.DurationVar(&wsHandshakeTimeout, "ws-handshake-timeout", wsHandshakeTimeout, "Signaling WebSocket handshake timeout (env "+envVarWSHandshakeTimeout+")")
	fs.Int64Var(&wsMaxMessageBytes, "max-message-bytes", wsMaxMessageBytes, "Max inbound signaling message size in bytes (env "+envVarWSMaxMessageBytes+")")
	fs.IntVar(&wsMaxMessagesPerSecond, "max-messages-per-second", wsMaxMessagesPerSecond, "Max inbound signaling messages per second; 0 = unlimited (env "+envVarWSMaxMessagesPerSecond+")")

	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs or host:port (default "+DefaultSTUNHost+"; "+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret ("+envVarTURNRESTSharedSecret+")")
	fs.Int64Var(&turnRESTTTLSeconds, "turn-rest-ttl-seconds", turnRESTTTLSeconds, "TURN REST credential TTL seconds ("+envVarTURNRESTTTLSeconds+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix ("+envVarTURNRESTUsernamePrefix+")")
	fs.StringVar(&turnRESTURLs, "turn-rest-urls", turnRESTURLs, "comma-separated TURN URLs for TURN REST credentials ("+envVarTURNRESTURLs+")")

	fs.Uint16Var(&webrtcUDPPortMin, flagWebRTCUDPPortMin, webrtcUDPPortMin, "Min UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMin+")")
	fs.Uint16Var(&webrtcUDPPortMax, flagWebRTCUDPPortMax, webrtcUDPPortMax, "Max UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMax+")")
	fs.StringVar(&webrtcNAT1To1IPsStr, flagWebRTCNAT1To1IPs, webrtcNAT1To1IPsStr, "Comma-separated public IPs to advertise for WebRTC ICE (env "+envVarWebRTCNAT1To1IPs+")")
	fs.StringVar(&webrtcNAT1To1CandidateTypeStr, flagWebRTCNAT1To1IPCandidateType, webrtcNAT1To1CandidateTypeStr, "Candidate type for NAT 1:1 IPs: host or srflx (env "+envVarWebRTCNAT1To1IPCandidateType+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected positional arguments: %v", fs.Args())
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	serverAddress = strings.TrimSpace(serverAddress)
	if serverAddress == "" {
		return Config{}, fmt.Errorf("%s/--address must not be empty", envVarServerAddress)
	}
	if serverPort == 0 {
		return Config{}, fmt.Errorf("%s/--port must be in range 1-65535", envVarServerPort)
	}
	serverScheme, err = parseScheme(serverScheme)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--scheme: %w", envVarServerScheme, err)
	}
	if !strings.HasPrefix(serverPath, "/") {
		serverPath = "/" + serverPath
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--shutdown-timeout must be > 0", envVarShutdownTimeout)
	}
	if wsPingInterval < 0 {
		return Config{}, fmt.Errorf("%s/--ws-ping-interval must be >= 0", envVarWSPingInterval)
	}
	if wsHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--ws-handshake-timeout must be > 0", envVarWSHandshakeTimeout)
	}
	if wsMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-message-bytes must be > 0", envVarWSMaxMessageBytes)
	}
	if wsMaxMessagesPerSecond < 0 {
		return Config{}, fmt.Errorf("%s/--max-messages-per-second must be >= 0", envVarWSMaxMessagesPerSecond)
	}

	cameraID = strings.TrimSpace(cameraID)
	if cameraID == "" {
		cameraID = defaultCameraID()
	}

	iceServers, err := iceSettings{
		serversJSON:    iceServersJSON,
		stunURLs:       stunURLs,
		turnURLs:       turnURLs,
		turnUsername:   turnUsername,
		turnCredential: turnCredential,
	}.resolve()
	if err != nil {
		return Config{}, err
	}

	turnREST := TurnRESTConfig{
		SharedSecret:   turnRESTSharedSecret,
		TTLSeconds:     turnRESTTTLSeconds,
		UsernamePrefix: turnRESTUsernamePrefix,
		URLs:           splitCommaSeparated(turnRESTURLs),
	}
	if turnREST.Enabled() {
		if turnREST.TTLSeconds <= 0 {
			return Config{}, fmt.Errorf("%s/--turn-rest-ttl-seconds must be > 0", envVarTURNRESTTTLSeconds)
		}
		if turnREST.UsernamePrefix == "" || strings.Contains(turnREST.UsernamePrefix, ":") {
			return Config{}, fmt.Errorf("%s/--turn-rest-username-prefix must be non-empty and must not contain ':'", envVarTURNRESTUsernamePrefix)
		}
		if len(turnREST.URLs) == 0 {
			return Config{}, fmt.Errorf("%s/--turn-rest-urls must be set when %s is set", envVarTURNRESTURLs, envVarTURNRESTSharedSecret)
		}
		for _, u := range turnREST.URLs {
			if !IsTURNURL(u) {
				return Config{}, fmt.Errorf("%s: unsupported url scheme: %q", envVarTURNRESTURLs, u)
			}
		}
	}

	var portRange *UDPPortRange
	if webrtcUDPPortMin != 0 || webrtcUDPPortMax != 0 {
		if webrtcUDPPortMin == 0 || webrtcUDPPortMax == 0 {
			return Config{}, fmt.Errorf("--%s and --%s must be set together (or both unset)", flagWebRTCUDPPortMin, flagWebRTCUDPPortMax)
		}
		if webrtcUDPPortMin > webrtcUDPPortMax {
			return Config{}, fmt.Errorf("--%s (%d) must be <= --%s (%d)", flagWebRTCUDPPortMin, webrtcUDPPortMin, flagWebRTCUDPPortMax, webrtcUDPPortMax)
		}
		portRange = &UDPPortRange{Min: webrtcUDPPortMin, Max: webrtcUDPPortMax}
	}

	var nat1To1IPs []string
	if strings.TrimSpace(webrtcNAT1To1IPsStr) != "" {
		nat1To1IPs, err = parseIPList(webrtcNAT1To1IPsStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s/--%s: %w", envVarWebRTCNAT1To1IPs, flagWebRTCNAT1To1IPs, err)
		}
	}
	candidateType, err := parseCandidateType(webrtcNAT1To1CandidateTypeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--%s: %w", envVarWebRTCNAT1To1IPCandidateType, flagWebRTCNAT1To1IPCandidateType, err)
	}

	return Config{
		ServerAddress: serverAddress,
		ServerPort:    serverPort,
		ServerScheme:  serverScheme,
		ServerPath:    serverPath,
		TLSSkipVerify: tlsSkipVerify,
		CameraID:      cameraID,

		Verbose:         verbose,
		LogFormat:       logFormat,
		LogLevel:        level,
		LogFile:         strings.TrimSpace(logFile),
		HTTPAddr:        strings.TrimSpace(httpAddr),
		ShutdownTimeout: shutdownTimeout,

		CaptureDir: captureDir,
		AudioFile:  strings.TrimSpace(audioFile),

		WSPingInterval:         wsPingInterval,
		WSHandshakeTimeout:     wsHandshakeTimeout,
		WSMaxMessageBytes:      wsMaxMessageBytes,
		WSMaxMessagesPerSecond: wsMaxMessagesPerSecond,

		ICEServers: iceServers,
		TURNREST:   turnREST,

		WebRTCUDPPortRange:           portRange,
		WebRTCNAT1To1IPs:             nat1To1IPs,
		WebRTCNAT1To1IPCandidateType: candidateType,
	}, nil
}

// NewLogger builds the process logger. When cfg.LogFile is set, output goes to
// a size-rotated file.
func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    DefaultLogFileMaxSizeMB,
			MaxBackups: DefaultLogFileMaxBackups,
			MaxAge:     DefaultLogFileMaxAgeDays,
			LocalTime:  true,
		}
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(out, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(out, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func defaultCameraID() string {
	if host, err := os.Hostname(); err == nil {
		if host = strings.TrimSpace(host); host != "" {
			return host
		}
	}
	return uuid.NewString()
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

func envBoolOrDefault(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
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

func parseScheme(raw string) (string, error) {
	switch s := strings.ToLower(strings.TrimSpace(raw)); s {
	case "ws", "wss":
		return s, nil
	default:
		return "", fmt.Errorf("unsupported scheme %q (expected ws or wss)", raw)
	}
}

func parsePortString(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if v == 0 {
		return 0, fmt.Errorf("port %d out of range (1-65535)", v)
	}
	return uint16(v), nil
}

func parseCandidateType(s string) (NAT1To1IPCandidateType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(NAT1To1CandidateTypeHost):
		return NAT1To1CandidateTypeHost, nil
	case string(NAT1To1CandidateTypeSrflx):
		return NAT1To1CandidateTypeSrflx, nil
	default:
		return "", fmt.Errorf("unknown candidate type %q", s)
	}
}

func parseIPList(s string) ([]string, error) {
	var out []string
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		ip := net.ParseIP(raw)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP %q", raw)
		}
		out = append(out, ip.String())
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("must include at least one IP")
	}
	return out, nil
}
