package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "JUMBO_ICE_SERVERS_JSON"

	envStunURLs       = "JUMBO_STUN_URLS"
	envTurnURLs       = "JUMBO_TURN_URLS"
	envTurnUsername   = "JUMBO_TURN_USERNAME"
	envTurnCredential = "JUMBO_TURN_CREDENTIAL"

	// DefaultSTUNHost is the STUN server every peer connection gets when no
	// ICE servers are configured.
	DefaultSTUNHost = "stun.l.google.com:19302"
	DefaultSTUNURL  = "stun:" + DefaultSTUNHost
)

// iceSettings holds the raw ICE inputs collected from env and flags.
type iceSettings struct {
	serversJSON    string
	stunURLs       string
	turnURLs       string
	turnUsername   string
	turnCredential string
}

// resolve picks one source: the JSON list when set, otherwise the STUN/TURN
// lists. An empty result falls back to DefaultSTUNURL.
func (s iceSettings) resolve() ([]webrtc.ICEServer, error) {
	var (
		servers []webrtc.ICEServer
		err     error
	)
	if raw := strings.TrimSpace(s.serversJSON); raw != "" {
		servers, err = ParseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
	} else {
		servers, err = ParseICEServersFromConvenienceEnv(s.stunURLs, s.turnURLs, s.turnUsername, s.turnCredential)
		if err != nil {
			return nil, err
		}
	}
	if len(servers) == 0 {
		servers = []webrtc.ICEServer{{URLs: []string{DefaultSTUNURL}}}
	}
	return servers, nil
}

// urlList accepts either "url" or ["url", ...].
type urlList []string

func (l *urlList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*l = urlList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// ParseICEServersJSON parses a JSON array of RTCIceServer-shaped objects.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var entries []struct {
		URLs       urlList `json:"urls"`
		Username   string  `json:"username"`
		Credential string  `json:"credential"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(entries))
	for i, e := range entries {
		server := webrtc.ICEServer{
			URLs:     splitCommaSeparated(strings.Join(e.URLs, ",")),
			Username: strings.TrimSpace(e.Username),
		}
		if cred := strings.TrimSpace(e.Credential); cred != "" {
			server.Credential = cred
		}
		if err := checkICEServer(server); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, server)
	}
	return out, nil
}

// ParseICEServersFromConvenienceEnv builds at most one STUN and one TURN
// server from comma-separated URL lists. STUN entries may be bare host:port.
func ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer

	if hosts := splitCommaSeparated(stunURLs); len(hosts) > 0 {
		urls := make([]string, len(hosts))
		for i, h := range hosts {
			urls[i] = withSTUNScheme(h)
		}
		server := webrtc.ICEServer{URLs: urls}
		if err := checkICEServer(server); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		if IsTURNServer(server) {
			return nil, fmt.Errorf("%s: turn urls belong in %s", envStunURLs, envTurnURLs)
		}
		servers = append(servers, server)
	}

	if urls := splitCommaSeparated(turnURLs); len(urls) > 0 {
		server := webrtc.ICEServer{
			URLs:     urls,
			Username: strings.TrimSpace(turnUsername),
		}
		if cred := strings.TrimSpace(turnCredential); cred != "" {
			server.Credential = cred
		}
		if !HasTURNCredentials(server) {
			return nil, fmt.Errorf("%s/%s: both must be set when %s is set", envTurnUsername, envTurnCredential, envTurnURLs)
		}
		if err := checkICEServer(server); err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, server)
	}

	return servers, nil
}

// withSTUNScheme prefixes "stun:" onto a bare host:port.
func withSTUNScheme(raw string) string {
	scheme, _, ok := strings.Cut(raw, ":")
	if ok && stun.NewSchemeType(strings.ToLower(scheme)) != stun.SchemeTypeUnknown {
		return raw
	}
	return "stun:" + raw
}

func checkICEServer(server webrtc.ICEServer) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}
	for _, raw := range server.URLs {
		if _, err := stun.ParseURI(raw); err != nil {
			return fmt.Errorf("url %q: %w", raw, err)
		}
	}
	if IsTURNServer(server) && !HasTURNCredentials(server) {
		return errors.New("turn urls require username and credential")
	}
	return nil
}

// IsTURNURL reports whether raw parses as a turn: or turns: URI.
func IsTURNURL(raw string) bool {
	u, err := stun.ParseURI(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return u.Scheme == stun.SchemeTypeTURN || u.Scheme == stun.SchemeTypeTURNS
}

// IsTURNServer reports whether any of server's URLs is a TURN URL.
func IsTURNServer(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		if IsTURNURL(raw) {
			return true
		}
	}
	return false
}

// HasTURNCredentials reports whether server carries a non-empty username and
// password credential.
func HasTURNCredentials(server webrtc.ICEServer) bool {
	if strings.TrimSpace(server.Username) == "" {
		return false
	}
	cred, ok := server.Credential.(string)
	return ok && strings.TrimSpace(cred) != ""
}

func splitCommaSeparated(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
