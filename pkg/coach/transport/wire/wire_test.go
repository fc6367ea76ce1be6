package wire

import (
	"errors"
	"reflect"
	"testing"
)

func TestDecodeServerFrame(t *testing.T) {
	tests := []struct {
		name string
		data string
		want any
	}{
		{
			name: "connected",
			data: `{"type":"connected","conversation_id":"c_1"}`,
			want: ServerConnected{Type: "connected", ConversationID: "c_1"},
		},
		{
			name: "mode speaking",
			data: `{"type":"mode","mode":"speaking"}`,
			want: ServerMode{Type: "mode", Mode: ModeSpeaking},
		},
		{
			name: "message",
			data: `{"type":"message","role":"agent","text":"hello"}`,
			want: ServerMessage{Type: "message", Role: RoleAgent, Text: "hello"},
		},
		{
			name: "error",
			data: `{"type":"error","code":"overloaded","close":true}`,
			want: ServerError{Type: "error", Code: "overloaded", Close: true},
		},
		{
			name: "bye",
			data: `{"type":"bye","reason":"client_request"}`,
			want: ServerBye{Type: "bye", Reason: "client_request"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeServerFrame([]byte(tc.data))
			if err != nil {
				t.Fatalf("DecodeServerFrame: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestDecodeServerFrame_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"missing type", `{"conversation_id":"c_1"}`},
		{"unknown type", `{"type":"nope"}`},
		{"connected without id", `{"type":"connected"}`},
		{"unknown mode", `{"type":"mode","mode":"thinking"}`},
		{"unknown role", `{"type":"message","role":"system","text":"x"}`},
		{"error without code", `{"type":"error"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeServerFrame([]byte(tc.data))
			if err == nil {
				t.Fatalf("expected decode error")
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("err=%T, want *DecodeError", err)
			}
		})
	}
}
