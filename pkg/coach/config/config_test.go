package config

import (
	"strings"
	"testing"
	"time"
)

var coachEnvKeys = []string{
	"COACHD_ADDR",
	"COACHD_AGENT_URL",
	"COACHD_API_BASE_URL",
	"COACHD_API_KEY",
	"COACHD_USER_ID",
	"COACHD_JOURNAL_PATH",
	"COACHD_CLOSE_GRACE",
	"COACHD_WS_HANDSHAKE_TIMEOUT",
	"COACHD_WS_WRITE_TIMEOUT",
	"COACHD_AUDIO_IN_SAMPLE_RATE",
	"COACHD_AUDIO_IN_CHANNELS",
	"COACHD_AUDIO_OUT_SAMPLE_RATE",
	"COACHD_AUDIO_OUT_CHANNELS",
	"COACHD_READ_HEADER_TIMEOUT",
	"COACHD_READ_TIMEOUT",
	"COACHD_SHUTDOWN_GRACE_PERIOD",
	"COACHD_METRICS_NAMESPACE",
}

func clearCoachEnv(t *testing.T) {
	t.Helper()
	for _, key := range coachEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearCoachEnv(t)
	t.Setenv("COACHD_AGENT_URL", "wss://agents.motioncare.app/v1/live")
	t.Setenv("COACHD_USER_ID", "u_1")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != "127.0.0.1:7717" {
		t.Fatalf("Addr = %q, want 127.0.0.1:7717", cfg.Addr)
	}
	if cfg.APIBaseURL != "https://api.motioncare.app" {
		t.Fatalf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.JournalPath != "coachd.db" {
		t.Fatalf("JournalPath = %q, want coachd.db", cfg.JournalPath)
	}
	if cfg.CloseGrace != 3*time.Second {
		t.Fatalf("CloseGrace = %v, want 3s", cfg.CloseGrace)
	}
	if cfg.InSampleRate != 16000 || cfg.InChannels != 1 {
		t.Fatalf("input format = %d/%d, want 16000/1", cfg.InSampleRate, cfg.InChannels)
	}
	if cfg.OutSampleRate != 24000 || cfg.OutChannels != 1 {
		t.Fatalf("output format = %d/%d, want 24000/1", cfg.OutSampleRate, cfg.OutChannels)
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 30s", cfg.ShutdownGracePeriod)
	}
	if cfg.MetricsNamespace != "coachd" {
		t.Fatalf("MetricsNamespace = %q, want coachd", cfg.MetricsNamespace)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearCoachEnv(t)
	t.Setenv("COACHD_AGENT_URL", "ws://localhost:9000/live")
	t.Setenv("COACHD_USER_ID", "u_override")
	t.Setenv("COACHD_ADDR", "127.0.0.1:9999")
	t.Setenv("COACHD_CLOSE_GRACE", "750ms")
	t.Setenv("COACHD_AUDIO_IN_SAMPLE_RATE", "48000")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != "127.0.0.1:9999" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.CloseGrace != 750*time.Millisecond {
		t.Fatalf("CloseGrace = %v, want 750ms", cfg.CloseGrace)
	}
	if cfg.InSampleRate != 48000 {
		t.Fatalf("InSampleRate = %d, want 48000", cfg.InSampleRate)
	}
}

func TestLoadFromEnv_RequiresAgentURL(t *testing.T) {
	clearCoachEnv(t)
	t.Setenv("COACHD_USER_ID", "u_1")

	if _, err := LoadFromEnv(); err == nil || !strings.Contains(err.Error(), "COACHD_AGENT_URL") {
		t.Fatalf("error = %v, want COACHD_AGENT_URL requirement", err)
	}
}

func TestLoadFromEnv_RejectsHTTPAgentURL(t *testing.T) {
	clearCoachEnv(t)
	t.Setenv("COACHD_AGENT_URL", "https://agents.motioncare.app/v1/live")
	t.Setenv("COACHD_USER_ID", "u_1")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("expected error for non-websocket agent url")
	}
}

func TestLoadFromEnv_RequiresUserID(t *testing.T) {
	clearCoachEnv(t)
	t.Setenv("COACHD_AGENT_URL", "wss://agents.motioncare.app/v1/live")

	if _, err := LoadFromEnv(); err == nil || !strings.Contains(err.Error(), "COACHD_USER_ID") {
		t.Fatalf("error = %v, want COACHD_USER_ID requirement", err)
	}
}
