package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/motioncare/coachd/pkg/coach/transport/wire"
)

// agentStub is a minimal in-test agent service: it validates the hello and
// then replays a scripted sequence of server frames.
func agentStub(t *testing.T, script func(t *testing.T, ws *websocket.Conn, hello wire.ClientHello)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer ws.Close()

		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Errorf("read hello: %v", err)
			return
		}
		var hello wire.ClientHello
		if err := json.Unmarshal(data, &hello); err != nil {
			t.Errorf("decode hello: %v", err)
			return
		}
		if hello.Type != "hello" || hello.ProtocolVersion != wire.ProtocolVersion1 {
			t.Errorf("unexpected hello: %+v", hello)
			return
		}
		script(t, ws, hello)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func collectEvents() (Callbacks, chan string) {
	events := make(chan string, 16)
	return Callbacks{
		Connected:    func(id string) { events <- "connected:" + id },
		ModeChanged:  func(m Mode) { events <- "mode:" + string(m) },
		Message:      func(text, role string) { events <- "message:" + role + ":" + text },
		Audio:        func(pcm []byte) { events <- "audio:" + string(pcm) },
		Error:        func(code string, _ map[string]any) { events <- "error:" + code },
		Disconnected: func() { events <- "disconnected" },
	}, events
}

func nextEvent(t *testing.T, events chan string) string {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for transport event")
		return ""
	}
}

func TestWebSocket_ConversationEvents(t *testing.T) {
	srv := agentStub(t, func(t *testing.T, ws *websocket.Conn, hello wire.ClientHello) {
		if hello.AgentID != "exercise-coach" {
			t.Errorf("agent_id=%q", hello.AgentID)
		}
		_ = ws.WriteJSON(wire.ServerConnected{Type: "connected", ConversationID: "c_42"})
		_ = ws.WriteJSON(wire.ServerMode{Type: "mode", Mode: wire.ModeSpeaking})
		_ = ws.WriteJSON(wire.ServerMessage{Type: "message", Role: wire.RoleAgent, Text: "hi"})
		_ = ws.WriteJSON(wire.ServerBye{Type: "bye"})
	})
	defer srv.Close()

	cb, events := collectEvents()
	tr := &WebSocket{URL: wsURL(srv), WriteTimeout: time.Second}
	_, err := tr.Open(context.Background(), "exercise-coach", cb)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	want := []string{"connected:c_42", "mode:speaking", "message:agent:hi", "disconnected"}
	for _, w := range want {
		if got := nextEvent(t, events); got != w {
			t.Fatalf("event=%q, want %q", got, w)
		}
	}
}

func TestWebSocket_ErrorWithCloseDisconnects(t *testing.T) {
	srv := agentStub(t, func(t *testing.T, ws *websocket.Conn, hello wire.ClientHello) {
		_ = ws.WriteJSON(wire.ServerError{Type: "error", Code: "overloaded", Close: true})
	})
	defer srv.Close()

	cb, events := collectEvents()
	tr := &WebSocket{URL: wsURL(srv), WriteTimeout: time.Second}
	if _, err := tr.Open(context.Background(), "onboarding-guide", cb); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if got := nextEvent(t, events); got != "error:overloaded" {
		t.Fatalf("event=%q, want error:overloaded", got)
	}
	if got := nextEvent(t, events); got != "disconnected" {
		t.Fatalf("event=%q, want disconnected", got)
	}
}

func TestWebSocket_CloseTriggersByeAndDisconnect(t *testing.T) {
	byeSeen := make(chan wire.ClientBye, 1)
	srv := agentStub(t, func(t *testing.T, ws *websocket.Conn, hello wire.ClientHello) {
		_ = ws.WriteJSON(wire.ServerConnected{Type: "connected", ConversationID: "c_1"})
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var bye wire.ClientBye
			if json.Unmarshal(data, &bye) == nil && bye.Type == "bye" {
				byeSeen <- bye
				_ = ws.WriteJSON(wire.ServerBye{Type: "bye", Reason: "client_request"})
				return
			}
		}
	})
	defer srv.Close()

	cb, events := collectEvents()
	tr := &WebSocket{URL: wsURL(srv), WriteTimeout: time.Second}
	conn, err := tr.Open(context.Background(), "exercise-coach", cb)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := nextEvent(t, events); got != "connected:c_1" {
		t.Fatalf("event=%q, want connected:c_1", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conn.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-byeSeen:
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received bye frame")
	}
	if got := nextEvent(t, events); got != "disconnected" {
		t.Fatalf("event=%q, want disconnected", got)
	}
}

func TestWebSocket_BinaryFramesDeliverAgentAudio(t *testing.T) {
	srv := agentStub(t, func(t *testing.T, ws *websocket.Conn, hello wire.ClientHello) {
		_ = ws.WriteJSON(wire.ServerConnected{Type: "connected", ConversationID: "c_7"})
		_ = ws.WriteMessage(websocket.BinaryMessage, []byte("chunk-1"))
		_ = ws.WriteMessage(websocket.BinaryMessage, []byte("chunk-2"))
		_ = ws.WriteJSON(wire.ServerBye{Type: "bye"})
	})
	defer srv.Close()

	cb, events := collectEvents()
	tr := &WebSocket{URL: wsURL(srv), WriteTimeout: time.Second}
	if _, err := tr.Open(context.Background(), "exercise-coach", cb); err != nil {
		t.Fatalf("Open: %v", err)
	}

	want := []string{"connected:c_7", "audio:chunk-1", "audio:chunk-2", "disconnected"}
	for _, w := range want {
		if got := nextEvent(t, events); got != w {
			t.Fatalf("event=%q, want %q", got, w)
		}
	}
}

func TestWebSocket_SendAudioWritesBinaryFrame(t *testing.T) {
	gotAudio := make(chan []byte, 1)
	srv := agentStub(t, func(t *testing.T, ws *websocket.Conn, hello wire.ClientHello) {
		_ = ws.WriteJSON(wire.ServerConnected{Type: "connected", ConversationID: "c_3"})
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			t.Errorf("read audio frame: %v", err)
			return
		}
		if messageType != websocket.BinaryMessage {
			t.Errorf("messageType=%d, want binary", messageType)
		}
		gotAudio <- data
		_ = ws.WriteJSON(wire.ServerBye{Type: "bye"})
	})
	defer srv.Close()

	cb, events := collectEvents()
	tr := &WebSocket{URL: wsURL(srv), WriteTimeout: time.Second}
	conn, err := tr.Open(context.Background(), "exercise-coach", cb)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := nextEvent(t, events); got != "connected:c_3" {
		t.Fatalf("event=%q, want connected:c_3", got)
	}

	if err := conn.SendAudio([]byte("mic-frame")); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	select {
	case data := <-gotAudio:
		if string(data) != "mic-frame" {
			t.Fatalf("audio payload=%q, want mic-frame", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received audio frame")
	}
}

func TestWebSocket_UndecodableFramesAreDropped(t *testing.T) {
	srv := agentStub(t, func(t *testing.T, ws *websocket.Conn, hello wire.ClientHello) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery"}`))
		_ = ws.WriteJSON(wire.ServerConnected{Type: "connected", ConversationID: "c_9"})
		_ = ws.WriteJSON(wire.ServerBye{Type: "bye"})
	})
	defer srv.Close()

	cb, events := collectEvents()
	tr := &WebSocket{URL: wsURL(srv), WriteTimeout: time.Second}
	if _, err := tr.Open(context.Background(), "exercise-coach", cb); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := nextEvent(t, events); got != "connected:c_9" {
		t.Fatalf("event=%q, want connected:c_9 (bad frame should be skipped)", got)
	}
}
