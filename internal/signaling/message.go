package signaling

import (
	"encoding/json"
	"errors"
)

// Frame types, client -> gateway.
const (
	TypePing         = "ping"
	TypeSessionState = "session:state"
	TypeChatMessage  = "chat:message"
	TypeReaction     = "reaction"
	TypeHandRaise    = "hand-raise"
	TypeSpotlight    = "spotlight"
	TypeShareState   = "share:state"

	TypeWebRTCOffer        = "webrtc-offer"
	TypeWebRTCAnswer       = "webrtc-answer"
	TypeWebRTCICECandidate = "webrtc-ice-candidate"
	TypeMediaState         = "media-state"
)

// Frame types, gateway -> client.
const (
	TypePong              = "pong"
	TypeSessionSnapshot   = "session:snapshot"
	TypeShareDenied       = "share:denied"
	TypeError             = "error"
	TypeTargetUnavailable = "target-unavailable"
	TypeKick              = "kick"
	TypeAdmitted          = "admitted"
	TypeDenied            = "denied"
	TypeRoomChanged       = "room-changed"
)

// Message is the wire envelope, one JSON object per frame, discriminated by
// Type. From is stamped by the gateway on relay; sender-supplied values are
// ignored for routing.
type Message struct {
	Type   string          `json:"type"`
	Target string          `json:"target,omitempty"`
	From   string          `json:"from,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

var errBadSignal = errors.New("signaling frames require target and data")

// isSignal reports whether t is a point-to-point signaling type that the
// gateway relays rather than interprets.
func isSignal(t string) bool {
	switch t {
	case TypeWebRTCOffer, TypeWebRTCAnswer, TypeWebRTCICECandidate, TypeMediaState:
		return true
	}
	return false
}

// validateSignal checks the shape of a relayed frame before routing.
func (m *Message) validateSignal() error {
	if m.Target == "" || len(m.Data) == 0 {
		return errBadSignal
	}
	return nil
}

// frame marshals an outbound message. data may be any JSON-encodable value.
func frame(msgType, target, from string, data interface{}) []byte {
	m := Message{Type: msgType, Target: target, From: from}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil && string(raw) != "null" {
			m.Data = raw
		}
	}
	out, _ := json.Marshal(m)
	return out
}

func errorFrame(msg string) []byte {
	return frame(TypeError, "", "", map[string]string{"message": msg})
}
