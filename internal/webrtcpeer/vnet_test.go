package webrtcpeer

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/jumbo-server/internal/config"
	"github.com/wilsonzlin/aero/proxy/jumbo-server/internal/signaling"
)

const (
	vnetCIDR     = "10.0.0.0/24"
	offererIP    = "10.0.0.1"
	answererIP   = "10.0.0.2"
	eventTimeout = 10 * time.Second
)

type sentMessage struct {
	kind      signaling.Kind
	sessionID string
	payload   any
}

type recordingSender struct {
	ch chan sentMessage
}

func newRecordingSender() *recordingSender {
	return &recordingSender{ch: make(chan sentMessage, 256)}
}

func (s *recordingSender) Send(kind signaling.Kind, sessionID string, payload any) error {
	s.ch <- sentMessage{kind: kind, sessionID: sessionID, payload: payload}
	return nil
}

func (s *recordingSender) next(t *testing.T) sentMessage {
	t.Helper()
	select {
	case m := <-s.ch:
		return m
	case <-time.After(eventTimeout):
		t.Fatalf("timed out waiting for outbound message")
		return sentMessage{}
	}
}

func (s *recordingSender) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case m := <-s.ch:
		t.Fatalf("unexpected outbound message %s for %q", m.kind, m.sessionID)
	case <-time.After(d):
	}
}

type vnetPair struct {
	offererAPI  *webrtc.API
	answererAPI *webrtc.API
}

func newVNetPair(t *testing.T) vnetPair {
	t.Helper()
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          vnetCIDR,
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{offererIP}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{answererIP}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	offererAPI, err := NewAPI(config.Config{}, APIOptions{Net: netA})
	if err != nil {
		t.Fatalf("offerer api: %v", err)
	}
	answererAPI, err := NewAPI(config.Config{}, APIOptions{Net: netB})
	if err != nil {
		t.Fatalf("answerer api: %v", err)
	}
	return vnetPair{offererAPI: offererAPI, answererAPI: answererAPI}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newOfferer returns a PeerConnection with a data channel and, optionally,
// receive-only media, plus its complete offer.
func newOfferer(t *testing.T, api *webrtc.API, withMedia bool) (*webrtc.PeerConnection, signaling.SessionDescription) {
	t.Helper()
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("new offerer: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	if _, err := pc.CreateDataChannel("probe", nil); err != nil {
		t.Fatalf("create data channel: %v", err)
	}
	if withMedia {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
				t.Fatalf("add %s transceiver: %v", kind, err)
			}
		}
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("set offerer local description: %v", err)
	}
	select {
	case <-gathered:
	case <-time.After(eventTimeout):
		t.Fatalf("offerer gathering timed out")
	}
	return pc, signaling.SessionDescriptionFromPion(*pc.LocalDescription())
}

type fakeMedia struct {
	mu        sync.Mutex
	attachErr error
	attached  int
	closed    int
}

func (m *fakeMedia) Attach(*webrtc.PeerConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attached++
	return m.attachErr
}

func (m *fakeMedia) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *fakeMedia) counts() (attached, closed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attached, m.closed
}
