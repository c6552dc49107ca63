package webrtcpeer

import (
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/jumbo-server/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/jumbo-server/internal/signaling"
)

type sessionConfig struct {
	ID         string
	API        *webrtc.API
	ICEServers []webrtc.ICEServer
	Sender     Sender
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	OnClose    func()
}

// Session owns the PeerConnection negotiated for one user session.
//
// Local candidates discovered before the answer has been sent are buffered,
// so the remote side always sees the sdp response first.
type Session struct {
	id      string
	pc      *webrtc.PeerConnection
	sender  Sender
	log     *slog.Logger
	metrics *metrics.Metrics
	onClose func()

	answerMu   sync.Mutex
	answerSent bool
	pending    []signaling.ICECandidate

	close sync.Once
}

func newSession(cfg sessionConfig) (*Session, error) {
	pc, err := cfg.API.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, err
	}
	s := &Session{
		id:      cfg.ID,
		pc:      pc,
		sender:  cfg.Sender,
		log:     cfg.Logger.With("session_id", cfg.ID),
		metrics: cfg.Metrics,
		onClose: cfg.OnClose,
	}

	pc.OnICECandidate(s.onCandidateDiscovered)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.log.Debug("peer connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			_ = s.Close()
		}
	})

	return s, nil
}

func (s *Session) PeerConnection() *webrtc.PeerConnection {
	return s.pc
}

func (s *Session) negotiate(offer webrtc.SessionDescription) error {
	err := s.pc.SetRemoteDescription(offer)
	s.onDescriptionApplied("remote", err)
	if err != nil {
		return err
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		s.log.Warn("create answer failed", "err", err)
		return err
	}
	return s.onAnswerReady(answer)
}

// onAnswerReady applies the answer locally, sends it, then flushes any
// candidates gathered in the meantime.
func (s *Session) onAnswerReady(answer webrtc.SessionDescription) error {
	err := s.pc.SetLocalDescription(answer)
	s.onDescriptionApplied("local", err)
	if err != nil {
		return err
	}

	s.answerMu.Lock()
	defer s.answerMu.Unlock()

	if err := s.sender.Send(signaling.KindSDP, s.id, signaling.SessionDescriptionFromPion(answer)); err != nil {
		s.log.Warn("send answer failed", "err", err)
	} else {
		s.metrics.Inc(metrics.AnswerSent)
	}
	s.answerSent = true

	for _, c := range s.pending {
		s.sendCandidateLocked(c)
	}
	s.pending = nil
	return nil
}

func (s *Session) onDescriptionApplied(which string, err error) {
	if err != nil {
		s.log.Warn("set description failed", "description", which, "err", err)
		return
	}
	s.log.Debug("set description succeeded", "description", which)
}

func (s *Session) onCandidateDiscovered(c *webrtc.ICECandidate) {
	if c == nil {
		s.log.Debug("local candidate gathering complete")
		return
	}
	cand := signaling.ICECandidateFromPion(c.ToJSON())

	s.answerMu.Lock()
	defer s.answerMu.Unlock()
	if !s.answerSent {
		s.pending = append(s.pending, cand)
		return
	}
	s.sendCandidateLocked(cand)
}

func (s *Session) sendCandidateLocked(c signaling.ICECandidate) {
	if err := s.sender.Send(signaling.KindCandidate, s.id, c); err != nil {
		s.log.Warn("send candidate failed", "err", err)
		return
	}
	s.metrics.Inc(metrics.LocalCandidateSent)
}

// Close removes the session from its registry and closes the PeerConnection.
func (s *Session) Close() error {
	var err error
	s.close.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
		err = s.pc.Close()
	})
	return err
}
