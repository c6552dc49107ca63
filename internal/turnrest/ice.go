package turnrest

import (
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/jumbo-server/internal/config"
)

// ICEServerSource builds the ICE server list for a new peer connection: the
// statically configured servers plus, when TURN REST is enabled, a TURN server
// carrying freshly minted credentials.
type ICEServerSource struct {
	static   []webrtc.ICEServer
	gen      *Generator
	turnURLs []string
}

func NewICEServerSource(cfg config.Config) (*ICEServerSource, error) {
	s := &ICEServerSource{static: withCompleteTURNCredentials(cfg.ICEServers)}
	if !cfg.TURNREST.Enabled() {
		return s, nil
	}
	gen, err := NewGenerator(GeneratorConfig{
		SharedSecret:   cfg.TURNREST.SharedSecret,
		TTLSeconds:     cfg.TURNREST.TTLSeconds,
		UsernamePrefix: cfg.TURNREST.UsernamePrefix,
	})
	if err != nil {
		return nil, err
	}
	s.gen = gen
	s.turnURLs = append([]string(nil), cfg.TURNREST.URLs...)
	return s, nil
}

// ICEServers returns the servers for sessionID. Session ids that cannot be
// embedded in a TURN REST username fall back to a random id.
func (s *ICEServerSource) ICEServers(sessionID string) ([]webrtc.ICEServer, error) {
	out := make([]webrtc.ICEServer, 0, len(s.static)+1)
	out = append(out, s.static...)
	if s.gen == nil {
		return out, nil
	}

	var (
		creds Credentials
		err   error
	)
	if sessionID != "" && !strings.Contains(sessionID, ":") {
		creds, err = s.gen.Generate(sessionID)
	} else {
		creds, err = s.gen.GenerateRandom()
	}
	if err != nil {
		return nil, err
	}
	out = append(out, webrtc.ICEServer{
		URLs:           s.turnURLs,
		Username:       creds.Username,
		Credential:     creds.Credential,
		CredentialType: webrtc.ICECredentialTypePassword,
	})
	return out, nil
}

// withCompleteTURNCredentials drops TURN servers lacking a username or
// credential; pion rejects them when building a PeerConnection.
func withCompleteTURNCredentials(servers []webrtc.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, server := range servers {
		if config.IsTURNServer(server) && !config.HasTURNCredentials(server) {
			continue
		}
		out = append(out, server)
	}
	return out
}
