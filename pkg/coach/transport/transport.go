package transport

import "context"

// Mode mirrors the agent's half of the conversation.
type Mode string

const (
	ModeSpeaking  Mode = "speaking"
	ModeListening Mode = "listening"
)

// Callbacks deliver conversation events. They are invoked from the
// transport's read goroutine; receivers must not block.
type Callbacks struct {
	Connected    func(conversationID string)
	ModeChanged  func(mode Mode)
	Message      func(text, role string)
	Audio        func(pcm []byte)
	Error        func(code string, details map[string]any)
	Disconnected func()
}

// Conn is one open conversation.
type Conn interface {
	// SendAudio ships one captured PCM chunk to the agent in the format
	// negotiated by the hello.
	SendAudio(pcm []byte) error
	// Close requests an orderly end of the conversation. Disconnected fires
	// once the service acknowledges (or the socket drops).
	Close(ctx context.Context) error
}

// Transport opens bidirectional conversations with the agent service.
type Transport interface {
	Open(ctx context.Context, agentID string, cb Callbacks) (Conn, error)
}
