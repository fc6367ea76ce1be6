package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Control API listen address. Loopback by default; coachd is a companion
	// daemon, not a public service.
	Addr string

	// Agent service websocket endpoint.
	AgentURL string

	// Cloud API for exercise plans, reports and device registration.
	APIBaseURL string
	APIKey     string
	UserID     string

	// Local journal database path. Empty keeps the journal in memory.
	JournalPath string

	// CloseGrace bounds the wait for the agent's close acknowledgement when a
	// session is stopped.
	CloseGrace time.Duration

	// Websocket client timeouts.
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// Capture/playback audio formats.
	InSampleRate  int
	InChannels    int
	OutSampleRate int
	OutChannels   int

	// Operational defaults for the control API server.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration

	MetricsNamespace string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("COACHD_ADDR", "127.0.0.1:7717"),
		AgentURL:            envOr("COACHD_AGENT_URL", ""),
		APIBaseURL:          envOr("COACHD_API_BASE_URL", "https://api.motioncare.app"),
		APIKey:              envOr("COACHD_API_KEY", ""),
		UserID:              envOr("COACHD_USER_ID", ""),
		JournalPath:         envOr("COACHD_JOURNAL_PATH", "coachd.db"),
		CloseGrace:          envDurationOr("COACHD_CLOSE_GRACE", 3*time.Second),
		HandshakeTimeout:    envDurationOr("COACHD_WS_HANDSHAKE_TIMEOUT", 5*time.Second),
		WriteTimeout:        envDurationOr("COACHD_WS_WRITE_TIMEOUT", 5*time.Second),
		InSampleRate:        envIntOr("COACHD_AUDIO_IN_SAMPLE_RATE", 16000),
		InChannels:          envIntOr("COACHD_AUDIO_IN_CHANNELS", 1),
		OutSampleRate:       envIntOr("COACHD_AUDIO_OUT_SAMPLE_RATE", 24000),
		OutChannels:         envIntOr("COACHD_AUDIO_OUT_CHANNELS", 1),
		ReadHeaderTimeout:   envDurationOr("COACHD_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("COACHD_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: envDurationOr("COACHD_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		MetricsNamespace:    envOr("COACHD_METRICS_NAMESPACE", "coachd"),
	}

	if strings.TrimSpace(cfg.AgentURL) == "" {
		return Config{}, fmt.Errorf("COACHD_AGENT_URL must be set")
	}
	if !strings.HasPrefix(cfg.AgentURL, "ws://") && !strings.HasPrefix(cfg.AgentURL, "wss://") {
		return Config{}, fmt.Errorf("COACHD_AGENT_URL must be a ws:// or wss:// URL")
	}
	if strings.TrimSpace(cfg.UserID) == "" {
		return Config{}, fmt.Errorf("COACHD_USER_ID must be set")
	}
	if cfg.CloseGrace <= 0 {
		return Config{}, fmt.Errorf("COACHD_CLOSE_GRACE must be > 0")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("COACHD_WS_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.WriteTimeout <= 0 {
		return Config{}, fmt.Errorf("COACHD_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.InSampleRate <= 0 {
		return Config{}, fmt.Errorf("COACHD_AUDIO_IN_SAMPLE_RATE must be > 0")
	}
	if cfg.InChannels <= 0 {
		return Config{}, fmt.Errorf("COACHD_AUDIO_IN_CHANNELS must be > 0")
	}
	if cfg.OutSampleRate <= 0 {
		return Config{}, fmt.Errorf("COACHD_AUDIO_OUT_SAMPLE_RATE must be > 0")
	}
	if cfg.OutChannels <= 0 {
		return Config{}, fmt.Errorf("COACHD_AUDIO_OUT_CHANNELS must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("COACHD_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("COACHD_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("COACHD_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
