package signaling

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/jumbo-server/internal/config"
	"github.com/wilsonzlin/aero/proxy/jumbo-server/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/jumbo-server/internal/ratelimit"
)

var ErrNotConnected = errors.New("signaling gateway not connected")

// Handler receives the requests dispatched from the signaling server.
type Handler interface {
	ApplyOffer(sessionID string, desc SessionDescription)
	ApplyICECandidate(sessionID, sdpMid string, sdpMLineIndex uint16, candidate string)
	CloseSession(sessionID string)
}

type GatewayConfig struct {
	URL           string
	CameraID      string
	TLSSkipVerify bool

	HandshakeTimeout     time.Duration
	PingInterval         time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Clock drives the inbound rate limiter; nil means wall clock.
	Clock ratelimit.Clock
}

// GatewayConfigFromConfig maps process configuration onto GatewayConfig.
func GatewayConfigFromConfig(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) GatewayConfig {
	return GatewayConfig{
		URL:                  cfg.SignalingURL(),
		CameraID:             cfg.CameraID,
		TLSSkipVerify:        cfg.TLSSkipVerify,
		HandshakeTimeout:     cfg.WSHandshakeTimeout,
		PingInterval:         cfg.WSPingInterval,
		MaxMessageBytes:      cfg.WSMaxMessageBytes,
		MaxMessagesPerSecond: cfg.WSMaxMessagesPerSecond,
		Logger:               logger,
		Metrics:              m,
	}
}

// Gateway is the camera's single WebSocket connection to the signaling
// server. Outbound writes are serialized; inbound frames are dispatched to the
// Handler on the goroutine running Run.
type Gateway struct {
	cfg     GatewayConfig
	log     *slog.Logger
	metrics *metrics.Metrics
	limiter *ratelimit.TokenBucket

	handler Handler

	conn      *websocket.Conn
	connected atomic.Bool

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func NewGateway(cfg GatewayConfig) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = config.DefaultWSMaxMessageBytes
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = config.DefaultWSHandshakeTimeout
	}
	return &Gateway{
		cfg:     cfg,
		log:     logger.With("component", "signaling"),
		metrics: cfg.Metrics,
		limiter: ratelimit.NewPerSecond(cfg.Clock, cfg.MaxMessagesPerSecond),
	}
}

// Connect dials the signaling server and registers this camera with an
// initialize request. Requests received afterwards are dispatched to h.
func (g *Gateway) Connect(ctx context.Context, h Handler) error {
	if h == nil {
		return errors.New("signaling handler is required")
	}
	g.handler = h

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: g.cfg.HandshakeTimeout,
	}
	if g.cfg.TLSSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	conn, resp, err := dialer.DialContext(ctx, g.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", g.cfg.URL, err)
	}
	g.conn = conn
	g.connected.Store(true)
	g.metrics.Inc(metrics.SignalingConnected)
	g.log.Info("signaling connected", "url", g.cfg.URL)

	if err := g.writeEnvelope(NewInitializeRequest(g.cfg.CameraID)); err != nil {
		_ = g.Close()
		return fmt.Errorf("send initialize: %w", err)
	}
	g.log.Info("camera registered", "camera_id", g.cfg.CameraID)
	return nil
}

// Connected reports whether the WebSocket is currently open.
func (g *Gateway) Connected() bool {
	return g.connected.Load()
}

// Run reads frames until the server closes the connection or ctx is
// cancelled. Cancellation sends a normal close frame and returns nil.
func (g *Gateway) Run(ctx context.Context) error {
	if g.conn == nil {
		return ErrNotConnected
	}

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			g.closeWith(websocket.CloseNormalClosure, "shutdown")
			_ = g.Close()
		case <-stop:
		}
	}()

	if g.cfg.PingInterval > 0 {
		idle := 3 * g.cfg.PingInterval
		_ = g.conn.SetReadDeadline(time.Now().Add(idle))
		g.conn.SetPongHandler(func(string) error {
			return g.conn.SetReadDeadline(time.Now().Add(idle))
		})
		go g.pingLoop(stop)
	}

	for {
		msgType, r, err := g.conn.NextReader()
		if err != nil {
			g.connected.Store(false)
			g.metrics.Inc(metrics.SignalingDisconnected)
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.log.Info("signaling server closed connection", "err", err)
				return nil
			}
			return fmt.Errorf("signaling read: %w", err)
		}
		if g.cfg.PingInterval > 0 {
			_ = g.conn.SetReadDeadline(time.Now().Add(3 * g.cfg.PingInterval))
		}

		data, err := readLimited(r, g.cfg.MaxMessageBytes)
		if err != nil {
			g.metrics.Inc(metrics.SignalingMessageMalformed)
			g.log.Warn("dropping signaling message", "err", err)
			continue
		}

		// Rate limiting happens after the read so the frame is fully consumed.
		if !g.limiter.AllowOne() {
			g.metrics.Inc(metrics.DropReasonRateLimited)
			g.log.Warn("dropping signaling message", "reason", "rate_limited")
			continue
		}

		if msgType != websocket.TextMessage {
			g.metrics.Inc(metrics.SignalingBinaryIgnored)
			g.log.Debug("ignoring binary signaling frame", "bytes", len(data))
			continue
		}
		g.HandleMessage(data)
	}
}

// HandleMessage decodes one text frame and dispatches it. Malformed or
// unrecognized input is logged and dropped; nothing is sent back.
func (g *Gateway) HandleMessage(data []byte) {
	g.metrics.Inc(metrics.SignalingMessageReceived)

	env, err := ParseEnvelope(data)
	if err != nil {
		g.metrics.Inc(metrics.SignalingMessageMalformed)
		g.log.Warn("dropping malformed signaling message", "err", err)
		return
	}

	if env.MessageType == MessageTypeResponse {
		g.log.Debug("signaling response received", "response_type", env.ResponseType, "payload", string(env.Payload))
		return
	}

	if g.handler == nil {
		g.log.Warn("dropping signaling request: no handler", "request_type", env.RequestType)
		return
	}

	log := g.log.With("request_type", env.RequestType, "session_id", env.SessionID)
	switch env.RequestType {
	case KindSDP:
		desc, err := env.DecodeSessionDescription()
		if err != nil {
			g.metrics.Inc(metrics.SignalingMessageMalformed)
			log.Warn("dropping sdp request", "err", err)
			return
		}
		log.Debug("sdp request received", "sdp_type", desc.Type)
		g.handler.ApplyOffer(env.SessionID, desc)
	case KindCandidate:
		cand, err := env.DecodeICECandidate()
		if err != nil {
			g.metrics.Inc(metrics.SignalingMessageMalformed)
			log.Warn("dropping candidate request", "err", err)
			return
		}
		log.Debug("candidate request received", "sdp_mid", cand.SDPMid, "sdp_mline_index", cand.SDPMLineIndex)
		g.handler.ApplyICECandidate(env.SessionID, cand.SDPMid, cand.SDPMLineIndex, cand.Candidate)
	case KindHangup:
		log.Debug("hangup request received")
		g.handler.CloseSession(env.SessionID)
	default:
		log.Warn("dropping unsupported signaling request")
	}
}

// Send wraps payload in a response envelope and writes it as one text frame.
func (g *Gateway) Send(kind Kind, sessionID string, payload any) error {
	env, err := NewResponse(kind, sessionID, payload)
	if err != nil {
		g.metrics.Inc(metrics.SignalingSendFailed)
		return err
	}
	if err := g.writeEnvelope(env); err != nil {
		g.metrics.Inc(metrics.SignalingSendFailed)
		return err
	}
	g.metrics.Inc(metrics.SignalingMessageSent)
	return nil
}

func (g *Gateway) writeEnvelope(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	if g.conn == nil || !g.connected.Load() {
		return ErrNotConnected
	}
	_ = g.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return g.conn.WriteMessage(websocket.TextMessage, data)
}

func (g *Gateway) pingLoop(stop <-chan struct{}) {
	t := time.NewTicker(g.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			g.writeMu.Lock()
			err := g.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			g.writeMu.Unlock()
			if err != nil {
				g.log.Debug("signaling ping failed", "err", err)
				return
			}
		}
	}
}

func (g *Gateway) closeWith(code int, reason string) {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	if g.conn == nil {
		return
	}
	writeClose(g.conn, code, reason)
}

func (g *Gateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		g.connected.Store(false)
		if g.conn != nil {
			err = g.conn.Close()
		}
	})
	return err
}
