// Package signaling carries call negotiation over a websocket: invites,
// SDP answers, batched ICE candidates and hangups, all JSON envelopes.
package signaling

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// Envelope is the wire frame for every signaling message.
type Envelope struct {
	Type    string          `json:"type"`
	CallID  string          `json:"call_id"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InvitePayload carries the offer of a new call.
type InvitePayload struct {
	Video bool   `json:"video"`
	SDP   string `json:"sdp"`
}

// AnswerPayload carries the callee's SDP answer.
type AnswerPayload struct {
	SDP string `json:"sdp"`
}

// CandidatesPayload carries one batch of trickled ICE candidates.
type CandidatesPayload struct {
	Candidates []webrtc.ICECandidateInit `json:"candidates"`
}
