package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
)

type MessageType string

const (
	MessageTypeRequest  MessageType = "request"
	MessageTypeResponse MessageType = "response"
)

// Kind is the secondary tag of an envelope (request_type / response_type).
type Kind string

const (
	KindInitialize Kind = "initialize"
	KindSDP        Kind = "sdp"
	KindHangup     Kind = "hangup"
	KindCandidate  Kind = "candidate"
)

// SourceTypeCamera identifies this node in the initialize request.
const SourceTypeCamera = "Camera"

var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is the JSON object carried by every signaling text frame.
type Envelope struct {
	MessageType  MessageType     `json:"message_type"`
	RequestType  Kind            `json:"request_type,omitempty"`
	ResponseType Kind            `json:"response_type,omitempty"`
	SourceType   string          `json:"source_type,omitempty"`
	CameraID     string          `json:"camera_id,omitempty"`
	SessionID    string          `json:"usersession_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// Kind returns the request or response tag depending on MessageType.
func (e Envelope) Kind() Kind {
	if e.MessageType == MessageTypeResponse {
		return e.ResponseType
	}
	return e.RequestType
}

// SessionDescription is the {type, sdp} payload of an sdp envelope.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SessionDescriptionFromPion(desc webrtc.SessionDescription) SessionDescription {
	return SessionDescription{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (s SessionDescription) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	case "pranswer":
		t = webrtc.SDPTypePranswer
	case "rollback":
		t = webrtc.SDPTypeRollback
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

// ICECandidate is the {sdpMid, sdpMLineIndex, candidate} payload of a
// candidate envelope.
type ICECandidate struct {
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
	Candidate     string `json:"candidate"`
}

func ICECandidateFromPion(ci webrtc.ICECandidateInit) ICECandidate {
	c := ICECandidate{Candidate: ci.Candidate}
	if ci.SDPMid != nil {
		c.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		c.SDPMLineIndex = *ci.SDPMLineIndex
	}
	return c
}

func (c ICECandidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        ptr(c.SDPMid),
		SDPMLineIndex: ptr(c.SDPMLineIndex),
	}
}

// NewInitializeRequest registers this camera with the signaling server.
func NewInitializeRequest(cameraID string) Envelope {
	return Envelope{
		MessageType: MessageTypeRequest,
		RequestType: KindInitialize,
		SourceType:  SourceTypeCamera,
		CameraID:    cameraID,
	}
}

// NewResponse wraps payload in a response envelope tagged with kind.
func NewResponse(kind Kind, sessionID string, payload any) (Envelope, error) {
	env := Envelope{
		MessageType:  MessageTypeResponse,
		ResponseType: kind,
		SessionID:    sessionID,
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		env.Payload = b
	}
	return env, nil
}

// DecodeSessionDescription decodes the payload of an sdp envelope.
func (e Envelope) DecodeSessionDescription() (SessionDescription, error) {
	var desc SessionDescription
	if err := decodePayload(e.Payload, &desc); err != nil {
		return SessionDescription{}, err
	}
	if desc.Type == "" || desc.SDP == "" {
		return SessionDescription{}, fmt.Errorf("%w: sdp payload missing type/sdp", ErrMalformedEnvelope)
	}
	return desc, nil
}

// DecodeICECandidate decodes the payload of a candidate envelope.
func (e Envelope) DecodeICECandidate() (ICECandidate, error) {
	var cand ICECandidate
	if err := decodePayload(e.Payload, &cand); err != nil {
		return ICECandidate{}, err
	}
	return cand, nil
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return fmt.Errorf("%w: missing payload", ErrMalformedEnvelope)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrMalformedEnvelope, err)
	}
	return nil
}

// ParseEnvelope decodes and structurally validates one signaling frame.
func ParseEnvelope(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, fmt.Errorf("%w: unexpected trailing data", ErrMalformedEnvelope)
	}
	if err := env.validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (e Envelope) validate() error {
	switch e.MessageType {
	case MessageTypeRequest:
		if e.RequestType == "" {
			return fmt.Errorf("%w: request missing request_type", ErrMalformedEnvelope)
		}
		switch e.RequestType {
		case KindSDP, KindHangup, KindCandidate:
			if e.SessionID == "" {
				return fmt.Errorf("%w: %s request missing usersession_id", ErrMalformedEnvelope, e.RequestType)
			}
		}
	case MessageTypeResponse:
		if e.ResponseType == "" {
			return fmt.Errorf("%w: response missing response_type", ErrMalformedEnvelope)
		}
	case "":
		return fmt.Errorf("%w: missing message_type", ErrMalformedEnvelope)
	default:
		return fmt.Errorf("%w: unsupported message_type %q", ErrMalformedEnvelope, e.MessageType)
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
