package webrtcpeer

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/jumbo-server/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/jumbo-server/internal/signaling"
)

var (
	ErrUnknownSession   = errors.New("unknown session")
	ErrInvalidOffer     = errors.New("invalid offer")
	ErrInvalidCandidate = errors.New("invalid ice candidate")
)

// Sender delivers responses back to the signaling server.
type Sender interface {
	Send(kind signaling.Kind, sessionID string, payload any) error
}

// MediaSource is the local stream shared by every session.
type MediaSource interface {
	Attach(pc *webrtc.PeerConnection) error
	Close() error
}

// ICEServerSource returns the ICE servers for a new session.
type ICEServerSource interface {
	ICEServers(sessionID string) ([]webrtc.ICEServer, error)
}

type RegistryConfig struct {
	API        *webrtc.API
	ICEServers ICEServerSource
	Sender     Sender
	// Media is optional; sessions are media-less without it.
	Media MediaSource

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Registry maps user session ids to live peer sessions. It implements
// signaling.Handler.
type Registry struct {
	cfg     RegistryConfig
	log     *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

var _ signaling.Handler = (*Registry)(nil)

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.API == nil {
		cfg.API = webrtc.NewAPI()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:      cfg,
		log:      logger.With("component", "webrtcpeer"),
		metrics:  cfg.Metrics,
		sessions: make(map[string]*Session),
	}
}

// ApplyOffer negotiates a new session for sessionID from the remote offer.
// Failures are logged; nothing is reported back to the remote peer.
func (r *Registry) ApplyOffer(sessionID string, desc signaling.SessionDescription) {
	if err := r.applyOffer(sessionID, desc); err != nil {
		r.metrics.Inc(metrics.OfferRejected)
		r.log.Warn("offer rejected", "session_id", sessionID, "err", err)
		return
	}
	r.metrics.Inc(metrics.OfferApplied)
}

func (r *Registry) applyOffer(sessionID string, desc signaling.SessionDescription) error {
	if desc.Type != webrtc.SDPTypeOffer.String() {
		return fmt.Errorf("%w: type %q", ErrInvalidOffer, desc.Type)
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: desc.SDP}
	if _, err := offer.Unmarshal(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return errors.New("registry closed")
	}

	if r.Has(sessionID) {
		r.metrics.Inc(metrics.SessionReplaced)
		r.log.Info("replacing existing session", "session_id", sessionID)
		r.CloseSession(sessionID)
	}

	var iceServers []webrtc.ICEServer
	if r.cfg.ICEServers != nil {
		servers, err := r.cfg.ICEServers.ICEServers(sessionID)
		if err != nil {
			return fmt.Errorf("ice servers: %w", err)
		}
		iceServers = servers
	}

	var s *Session
	s, err := newSession(sessionConfig{
		ID:         sessionID,
		API:        r.cfg.API,
		ICEServers: iceServers,
		Sender:     r.cfg.Sender,
		Logger:     r.log,
		Metrics:    r.metrics,
		OnClose:    func() { r.remove(sessionID, s) },
	})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	if r.cfg.Media != nil {
		if err := r.cfg.Media.Attach(s.pc); err != nil {
			s.log.Warn("session continues without media", "err", err)
		}
	}

	r.mu.Lock()
	r.sessions[sessionID] = s
	r.metrics.SetSessions(len(r.sessions))
	r.mu.Unlock()

	if err := s.negotiate(offer); err != nil {
		_ = s.Close()
		return err
	}
	return nil
}

// ApplyICECandidate adds a remote candidate to an existing session. An empty
// candidate signals end-of-candidates.
func (r *Registry) ApplyICECandidate(sessionID, sdpMid string, sdpMLineIndex uint16, candidate string) {
	if err := r.applyICECandidate(sessionID, sdpMid, sdpMLineIndex, candidate); err != nil {
		r.metrics.Inc(metrics.RemoteCandidateDropped)
		r.log.Warn("remote candidate dropped", "session_id", sessionID, "err", err)
		return
	}
	r.metrics.Inc(metrics.RemoteCandidateAdded)
}

func (r *Registry) applyICECandidate(sessionID, sdpMid string, sdpMLineIndex uint16, candidate string) error {
	s := r.session(sessionID)
	if s == nil {
		return ErrUnknownSession
	}
	if candidate != "" {
		if _, err := ice.UnmarshalCandidate(strings.TrimPrefix(candidate, "candidate:")); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCandidate, err)
		}
	}
	candInit := signaling.ICECandidate{SDPMid: sdpMid, SDPMLineIndex: sdpMLineIndex, Candidate: candidate}.ToPion()
	if err := s.pc.AddICECandidate(candInit); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// CloseSession tears down the session and forgets it. Unknown ids are ignored.
func (r *Registry) CloseSession(sessionID string) {
	s := r.session(sessionID)
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		r.log.Debug("peer connection close", "session_id", sessionID, "err", err)
	}
}

// remove drops the map entry for id if it still points at s.
func (r *Registry) remove(id string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[id]; ok && cur == s {
		delete(r.sessions, id)
		r.metrics.Inc(metrics.SessionClosed)
		r.metrics.SetSessions(len(r.sessions))
	}
}

func (r *Registry) session(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

func (r *Registry) Has(id string) bool {
	return r.session(id) != nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close tears down every session and the shared media source.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
	if r.cfg.Media != nil {
		return r.cfg.Media.Close()
	}
	return nil
}
