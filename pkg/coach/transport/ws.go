package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/motioncare/coachd/pkg/coach/transport/wire"
)

// WebSocket opens agent conversations over a websocket endpoint speaking the
// coach wire protocol.
type WebSocket struct {
	URL    string
	UserID string
	Logger *slog.Logger

	AudioIn  wire.AudioFormat
	AudioOut wire.AudioFormat

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// Dialer overrides the default dialer, mainly for tests.
	Dialer *websocket.Dialer
}

func (t *WebSocket) Open(ctx context.Context, agentID string, cb Callbacks) (Conn, error) {
	if t == nil || strings.TrimSpace(t.URL) == "" {
		return nil, fmt.Errorf("transport url is required")
	}
	if strings.TrimSpace(agentID) == "" {
		return nil, fmt.Errorf("agent id is required")
	}

	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialer := t.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: t.HandshakeTimeout}
	}

	ws, resp, err := dialer.DialContext(ctx, t.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial agent service (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial agent service: %w", err)
	}

	hello := wire.ClientHello{
		Type:            "hello",
		ProtocolVersion: wire.ProtocolVersion1,
		AgentID:         agentID,
		UserID:          t.UserID,
		AudioIn:         t.AudioIn,
		AudioOut:        t.AudioOut,
	}
	if err := writeJSON(ws, hello, t.WriteTimeout); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}

	c := &wsConn{
		ws:           ws,
		logger:       logger,
		writeTimeout: t.WriteTimeout,
	}
	go c.readLoop(cb)
	return c, nil
}

type wsConn struct {
	ws           *websocket.Conn
	logger       *slog.Logger
	writeTimeout time.Duration

	writeMu      sync.Mutex
	disconnected sync.Once
}

// SendAudio writes one captured PCM chunk as a binary frame. Text frames
// carry the JSON control protocol; audio rides alongside as raw binary.
func (c *wsConn) SendAudio(pcm []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.ws.SetWriteDeadline(time.Time{})
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, pcm)
}

func (c *wsConn) Close(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteJSON(wire.ClientBye{Type: "bye", Reason: "client_request"}); err != nil {
		// Socket may already be gone; the read loop reports the disconnect.
		return c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), deadline)
	}
	return c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), deadline)
}

func (c *wsConn) readLoop(cb Callbacks) {
	defer c.fireDisconnected(cb)
	defer c.ws.Close()

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if messageType == websocket.BinaryMessage {
			// Binary frames are agent speech in the format asked for by the
			// hello's audio_out.
			if cb.Audio != nil {
				cb.Audio(data)
			}
			continue
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := wire.DecodeServerFrame(data)
		if err != nil {
			c.logger.Warn("dropping undecodable agent frame", "error", err)
			continue
		}

		switch f := frame.(type) {
		case wire.ServerConnected:
			if cb.Connected != nil {
				cb.Connected(f.ConversationID)
			}
		case wire.ServerMode:
			if cb.ModeChanged != nil {
				cb.ModeChanged(Mode(f.Mode))
			}
		case wire.ServerMessage:
			if cb.Message != nil {
				cb.Message(f.Text, f.Role)
			}
		case wire.ServerError:
			if cb.Error != nil {
				cb.Error(f.Code, f.Details)
			}
			if f.Close {
				return
			}
		case wire.ServerBye:
			return
		}
	}
}

func (c *wsConn) fireDisconnected(cb Callbacks) {
	c.disconnected.Do(func() {
		if cb.Disconnected != nil {
			cb.Disconnected()
		}
	})
}

func writeJSON(ws *websocket.Conn, v any, timeout time.Duration) error {
	if timeout > 0 {
		_ = ws.SetWriteDeadline(time.Now().Add(timeout))
		defer ws.SetWriteDeadline(time.Time{})
	}
	return ws.WriteJSON(v)
}
