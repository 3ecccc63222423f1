package gateway

import (
	"encoding/json"

	"github.com/michaeljohneduave/hugin-gateway/tools/errs"
)

// Wire actions, discriminating inbound JSON frames.
const (
	ActionPing      = "ping"
	ActionMessage   = "message"
	ActionJoinRoom  = "joinRoom"
	ActionLeaveRoom = "leaveRoom"
)

// Message type values carried by message frames.
const (
	TypeUser  = "user"
	TypeLLM   = "llm"
	TypeEvent = "event"
)

// Frame is the inbound client payload. Fields beyond Action are
// action-specific; unknown fields are ignored.
type Frame struct {
	Action     string   `json:"action"`
	Token      string   `json:"token,omitempty"`
	RoomID     string   `json:"roomId,omitempty"`
	Type       string   `json:"type,omitempty"`
	Message    string   `json:"message,omitempty"`
	ImageFiles []string `json:"imageFiles,omitempty"`
	VideoFiles []string `json:"videoFiles,omitempty"`
	AudioFiles []string `json:"audioFiles,omitempty"`
	Mentions   []string `json:"mentions,omitempty"`
}

func ParseFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errs.WrapMsg(err, "unmarshal frame")
	}
	if f.Action == "" {
		return nil, errs.New("frame missing action")
	}
	return &f, nil
}

// PongPayload is the reserved liveness reply; clients consume it for their
// heartbeat baseline and do not forward it to handlers.
var PongPayload = []byte(`{"type":"pong"}`)
