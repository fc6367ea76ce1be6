// Package wire defines the agent conversation protocol. Text websocket
// frames carry the JSON messages below; audio travels as raw binary frames
// in the PCM formats negotiated by the hello.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"
)

const ProtocolVersion1 = "1"

// Agent conversation modes reported by the service.
const (
	ModeSpeaking  = "speaking"
	ModeListening = "listening"
)

// Message roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

// AudioFormat describes the negotiated audio shape for the conversation.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// ClientHello is the first frame sent after the socket opens.
type ClientHello struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	AgentID         string      `json:"agent_id"`
	UserID          string      `json:"user_id,omitempty"`
	AudioIn         AudioFormat `json:"audio_in"`
	AudioOut        AudioFormat `json:"audio_out"`
}

// ClientBye asks the service to end the conversation.
type ClientBye struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// ServerConnected acknowledges the hello and names the conversation.
type ServerConnected struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// ServerMode reports whether the agent is speaking or listening.
type ServerMode struct {
	Type string `json:"type"`
	Mode string `json:"mode"`
}

// ServerMessage carries a transcript line from either side.
type ServerMessage struct {
	Type string `json:"type"`
	Role string `json:"role"`
	Text string `json:"text"`
}

// ServerError reports a conversation-level failure. Close signals that the
// service will drop the socket.
type ServerError struct {
	Type    string         `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message,omitempty"`
	Close   bool           `json:"close,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// ServerBye is the service's close acknowledgement.
type ServerBye struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// DecodeServerFrame parses one inbound text frame into its typed form.
func DecodeServerFrame(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame("frame is not valid JSON", "")
	}

	switch strings.TrimSpace(envelope.Type) {
	case "connected":
		var f ServerConnected
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, badFrame("invalid connected frame", "")
		}
		if strings.TrimSpace(f.ConversationID) == "" {
			return nil, badFrame("conversation_id is required", "conversation_id")
		}
		return f, nil
	case "mode":
		var f ServerMode
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, badFrame("invalid mode frame", "")
		}
		switch f.Mode {
		case ModeSpeaking, ModeListening:
		default:
			return nil, badFrame("unknown mode", "mode")
		}
		return f, nil
	case "message":
		var f ServerMessage
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, badFrame("invalid message frame", "")
		}
		switch f.Role {
		case RoleUser, RoleAgent:
		default:
			return nil, badFrame("unknown role", "role")
		}
		return f, nil
	case "error":
		var f ServerError
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, badFrame("invalid error frame", "")
		}
		if strings.TrimSpace(f.Code) == "" {
			return nil, badFrame("error code is required", "code")
		}
		return f, nil
	case "bye":
		var f ServerBye
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, badFrame("invalid bye frame", "")
		}
		return f, nil
	case "":
		return nil, badFrame("frame type is required", "type")
	default:
		return nil, badFrame(fmt.Sprintf("unknown frame type %q", envelope.Type), "type")
	}
}
