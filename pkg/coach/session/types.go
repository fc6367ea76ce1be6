package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/motioncare/coachd/pkg/coach/transport"
)

// AgentKind identifies the conversational role a session is started for.
// The set is fixed; the value doubles as the remote agent identifier.
type AgentKind string

const (
	AgentOnboarding AgentKind = "onboarding-guide"
	AgentExercise   AgentKind = "exercise-coach"
)

func (k AgentKind) Valid() bool {
	switch k {
	case AgentOnboarding, AgentExercise:
		return true
	default:
		return false
	}
}

// ParseAgentKind maps a wire/CLI string onto a known agent kind.
func ParseAgentKind(raw string) (AgentKind, error) {
	k := AgentKind(strings.TrimSpace(strings.ToLower(raw)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown agent kind %q", raw)
	}
	return k, nil
}

// Status is the lifecycle state of the one session handle the coordinator
// may own. Exactly one handle is ever outside StatusIdle.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusStarting Status = "starting"
	StatusActive   Status = "active"
	StatusEnding   Status = "ending"
)

// Snapshot is a point-in-time copy of the coordinator state for readers.
type Snapshot struct {
	Status         Status         `json:"status"`
	Kind           AgentKind      `json:"agent,omitempty"`
	Seq            uint64         `json:"seq"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Mode           transport.Mode `json:"mode,omitempty"`
	StartedAt      time.Time      `json:"started_at,omitzero"`
}

// ErrClosed is returned for requests submitted after Close.
var ErrClosed = errors.New("session coordinator is closed")

// TransportError reports that the agent transport failed or disconnected
// before the session reached Active.
type TransportError struct {
	Code    string
	Message string
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Message) == "" {
		return fmt.Sprintf("agent transport error: %s", e.Code)
	}
	return fmt.Sprintf("agent transport error: %s: %s", e.Code, e.Message)
}

// AudioIO is the device-side audio plane the coordinator pumps while a
// session is active: captured microphone PCM flows out to the transport and
// agent PCM flows into playback.
type AudioIO interface {
	// Read blocks until captured PCM is available and returns the byte
	// count. It returns 0 once capture has stopped.
	Read(p []byte) int
	// Play queues agent PCM for the speaker.
	Play(pcm []byte)
	// FlushPlayback drops queued speaker audio when the agent yields the
	// turn mid-utterance.
	FlushPlayback()
}

// Recorder persists session lifecycle records (the local journal).
type Recorder interface {
	SessionStarted(ctx context.Context, kind, conversationID string, at time.Time) (int64, error)
	SessionEnded(ctx context.Context, id int64, at time.Time, reason string) error
}

// Reporter triggers end-of-session report generation against the cloud API.
// Calls are fire-and-forget; failures are logged, never surfaced to callers.
type Reporter interface {
	GenerateReport(ctx context.Context, conversationID string) error
}

// Metrics receives coordinator instrumentation. All methods may be called
// from the coordinator goroutine and must not block.
type Metrics interface {
	SessionStarted(kind string)
	SessionEnded(kind, reason string, duration time.Duration)
	ResourceAcquireFailure()
	TransportError(code string)
}
