package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/wilsonzlin/aero/proxy/jumbo-server/internal/capture"
	"github.com/wilsonzlin/aero/proxy/jumbo-server/internal/config"
	"github.com/wilsonzlin/aero/proxy/jumbo-server/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/jumbo-server/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/jumbo-server/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/jumbo-server/internal/turnrest"
	"github.com/wilsonzlin/aero/proxy/jumbo-server/internal/webrtcpeer"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

var errSignalingDisconnected = errors.New("signaling server not connected")

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code: 1 when the configuration is unusable,
// 0 otherwise. Losing or never reaching the signaling server is not an error.
func run(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	slog.SetDefault(logger)

	m := metrics.New()
	if err := metrics.RegisterRuntimeCollectors(m); err != nil {
		logger.Warn("failed to register runtime collectors", "err", err)
	}

	// Build the WebRTC API early so misconfigurations are caught on startup.
	api, err := webrtcpeer.NewAPI(cfg, webrtcpeer.APIOptions{})
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		return 1
	}
	iceServers, err := turnrest.NewICEServerSource(cfg)
	if err != nil {
		logger.Error("failed to configure ice servers", "err", err)
		return 1
	}

	logger.Info("starting jumbo-server",
		"signaling_url", cfg.SignalingURL(),
		"camera_id", cfg.CameraID,
		"capture_dir", cfg.CaptureDir,
		"audio_file", cfg.AudioFile,
		"ice_servers", len(cfg.ICEServers),
		"turn_rest", cfg.TURNREST.Enabled(),
		"http_addr", cfg.HTTPAddr,
	)
	logStartupWarnings(logger, cfg)

	stream := capture.NewLocalStream(capture.StreamConfigFromConfig(cfg, logger, m))
	gw := signaling.NewGateway(signaling.GatewayConfigFromConfig(cfg, logger, m))
	reg := webrtcpeer.NewRegistry(webrtcpeer.RegistryConfig{
		API:        api,
		ICEServers: iceServers,
		Sender:     gw,
		Media:      stream,
		Logger:     logger,
		Metrics:    m,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gw.Connect(ctx, reg); err != nil {
		logger.Error("failed to connect to signaling server", "err", err)
		_ = reg.Close()
		return 0
	}

	var (
		srv     *httpserver.Server
		httpErr chan error
	)
	if cfg.HTTPAddr != "" {
		ln, err := net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			logger.Error("failed to listen", "addr", cfg.HTTPAddr, "err", err)
			_ = gw.Close()
			_ = reg.Close()
			return 1
		}
		commit, built := resolveBuildInfo(buildCommit, buildTime)
		srv = httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, m, func() error {
			if !gw.Connected() {
				return errSignalingDisconnected
			}
			return nil
		})
		httpErr = make(chan error, 1)
		go func() {
			httpErr <- srv.Serve(ln)
		}()
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- gw.Run(ctx)
	}()

	exitCode := 0
wait:
	for {
		select {
		case err := <-runErr:
			runErr = nil
			if err != nil {
				logger.Error("signaling connection lost", "err", err)
			} else if ctx.Err() == nil {
				logger.Info("signaling server closed the connection")
			}
			if ctx.Err() != nil {
				break wait
			}
			logger.Info("waiting for shutdown signal")
		case err := <-httpErr:
			httpErr = nil
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server exited", "err", err)
				exitCode = 1
				break wait
			}
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			break wait
		}
	}
	stop()

	if runErr != nil {
		<-runErr
	}
	if err := reg.Close(); err != nil {
		logger.Warn("session teardown", "err", err)
	}
	_ = gw.Close()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", "err", err)
		}
	}

	return exitCode
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
