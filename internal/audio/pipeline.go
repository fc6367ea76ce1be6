// Package audio owns the device-level capture and playback pipeline: malgo
// for the microphone, oto for the speaker. The resource gate is the only
// caller; it guarantees at most one live pipeline at a time.
package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"
)

// Config selects the capture and playback formats. Samples are 16-bit signed
// little-endian PCM on both sides.
type Config struct {
	InSampleRate  int
	InChannels    int
	OutSampleRate int
	OutChannels   int

	Logger *slog.Logger
}

// Pipeline implements the capture pipeline contract used by the resource
// gate: RequestPermission, Configure, Start, Stop.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	speaker  *speakerWriter
	capture  *captureBuffer
	running  bool
}

func New(cfg Config) *Pipeline {
	if cfg.InSampleRate <= 0 {
		cfg.InSampleRate = 16000
	}
	if cfg.InChannels <= 0 {
		cfg.InChannels = 1
	}
	if cfg.OutSampleRate <= 0 {
		cfg.OutSampleRate = 24000
	}
	if cfg.OutChannels <= 0 {
		cfg.OutChannels = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, logger: cfg.Logger}
}

// RequestPermission reports whether a capture device is usable. On desktop
// platforms this amounts to finding at least one capture device; mobile
// builds hook the OS permission dialog in here.
func (p *Pipeline) RequestPermission(ctx context.Context) (bool, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return false, fmt.Errorf("init audio context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	devices, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return false, fmt.Errorf("enumerate capture devices: %w", err)
	}
	return len(devices) > 0, ctx.Err()
}

// Configure prepares the capture device and the playback context without
// starting them.
func (p *Pipeline) Configure(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device != nil {
		return fmt.Errorf("pipeline is already configured")
	}

	contextConfig := malgo.ContextConfig{}
	contextConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	mctx, err := malgo.InitContext(nil, contextConfig, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}

	capture := newCaptureBuffer(p.cfg.InSampleRate * 2) // one second of S16 mono

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(p.cfg.InChannels)
	deviceConfig.SampleRate = uint32(p.cfg.InSampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			capture.push(pInputSamples)
		},
	}
	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("init capture device: %w", err)
	}

	otoCtx, err := playbackContext(p.cfg.OutSampleRate, p.cfg.OutChannels)
	if err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("init playback: %w", err)
	}

	p.malgoCtx = mctx
	p.device = device
	p.capture = capture
	p.speaker = newSpeakerWriter(otoCtx)
	return ctx.Err()
}

// Start begins capturing. Configure must have succeeded first.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device == nil {
		return fmt.Errorf("pipeline is not configured")
	}
	if p.running {
		return fmt.Errorf("pipeline is already running")
	}
	if err := p.device.Start(); err != nil {
		return fmt.Errorf("start capture device: %w", err)
	}
	p.running = true
	p.logger.Debug("capture pipeline started",
		"in_sample_rate", p.cfg.InSampleRate, "out_sample_rate", p.cfg.OutSampleRate)
	return nil
}

// Stop halts capture and playback and releases the devices. Safe to call on
// an unconfigured pipeline.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device != nil {
		if p.running {
			_ = p.device.Stop()
		}
		p.device.Uninit()
		p.device = nil
	}
	if p.speaker != nil {
		p.speaker.Close()
		p.speaker = nil
	}
	if p.capture != nil {
		p.capture.close()
		p.capture = nil
	}
	if p.malgoCtx != nil {
		_ = p.malgoCtx.Uninit()
		p.malgoCtx.Free()
		p.malgoCtx = nil
	}
	p.running = false
	p.logger.Debug("capture pipeline stopped")
	return nil
}

// Read returns captured PCM, blocking until samples are available or the
// pipeline stops. It returns 0 after Stop.
func (p *Pipeline) Read(buf []byte) int {
	p.mu.Lock()
	capture := p.capture
	p.mu.Unlock()
	if capture == nil {
		return 0
	}
	return capture.pop(buf)
}

// Play queues PCM for the speaker. Audio received after Stop is dropped.
func (p *Pipeline) Play(data []byte) {
	p.mu.Lock()
	speaker := p.speaker
	p.mu.Unlock()
	if speaker != nil {
		speaker.Write(data)
	}
}

// FlushPlayback discards queued speaker audio, used when the agent is
// interrupted mid-utterance.
func (p *Pipeline) FlushPlayback() {
	p.mu.Lock()
	speaker := p.speaker
	p.mu.Unlock()
	if speaker != nil {
		speaker.Flush()
	}
}

// oto allows a single context per process; cache it across pipeline
// generations.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

func playbackContext(sampleRate, channels int) (*oto.Context, error) {
	otoOnce.Do(func() {
		opts := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   100 * time.Millisecond, // low latency, small glitch risk
		}
		ctx, ready, err := oto.NewContext(opts)
		if err != nil {
			otoErr = err
			return
		}
		<-ready
		otoCtx = ctx
	})
	return otoCtx, otoErr
}
