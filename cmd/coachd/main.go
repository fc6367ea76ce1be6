package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/motioncare/coachd/internal/audio"
	"github.com/motioncare/coachd/pkg/coach/config"
	"github.com/motioncare/coachd/pkg/coach/journal"
	"github.com/motioncare/coachd/pkg/coach/lifecycle"
	"github.com/motioncare/coachd/pkg/coach/metrics"
	"github.com/motioncare/coachd/pkg/coach/remote"
	"github.com/motioncare/coachd/pkg/coach/resource"
	"github.com/motioncare/coachd/pkg/coach/server"
	"github.com/motioncare/coachd/pkg/coach/session"
	"github.com/motioncare/coachd/pkg/coach/transport"
	"github.com/motioncare/coachd/pkg/coach/transport/wire"
)

// capturePipeline is the device pipeline as both the gate's managed resource
// and the coordinator's audio plane; one instance serves both roles.
type capturePipeline interface {
	resource.Pipeline
	session.AudioIO
}

type daemonDeps struct {
	loadConfig   func() (config.Config, error)
	openJournal  func(path string) (*journal.Journal, error)
	newPipeline  func(cfg config.Config, logger *slog.Logger) capturePipeline
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultDaemonDeps() daemonDeps {
	return daemonDeps{
		loadConfig:  config.LoadFromEnv,
		openJournal: journal.Open,
		newPipeline: func(cfg config.Config, logger *slog.Logger) capturePipeline {
			return audio.New(audio.Config{
				InSampleRate:  cfg.InSampleRate,
				InChannels:    cfg.InChannels,
				OutSampleRate: cfg.OutSampleRate,
				OutChannels:   cfg.OutChannels,
				Logger:        logger,
			})
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runDaemon(ctx context.Context, logger *slog.Logger, deps daemonDeps) error {
	if deps.loadConfig == nil || deps.openJournal == nil || deps.newPipeline == nil {
		return errors.New("missing daemon dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	jnl, err := deps.openJournal(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer jnl.Close()

	m := metrics.New(cfg.MetricsNamespace)
	life := &lifecycle.Lifecycle{}

	api := remote.NewClient(cfg.APIKey, cfg.APIBaseURL, cfg.UserID, &http.Client{Timeout: 30 * time.Second})
	if !api.Configured() {
		logger.Warn("cloud api key not configured, reports and plan generation disabled")
	}

	pipeline := deps.newPipeline(cfg, logger)
	gate := resource.NewGate(pipeline, logger)

	ws := &transport.WebSocket{
		URL:              cfg.AgentURL,
		UserID:           cfg.UserID,
		Logger:           logger,
		AudioIn:          wire.AudioFormat{Encoding: "pcm_s16le", SampleRateHz: cfg.InSampleRate, Channels: cfg.InChannels},
		AudioOut:         wire.AudioFormat{Encoding: "pcm_s16le", SampleRateHz: cfg.OutSampleRate, Channels: cfg.OutChannels},
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
	}

	sessionDeps := session.Dependencies{
		Gate:       gate,
		Transport:  ws,
		Logger:     logger,
		Audio:      pipeline,
		Recorder:   jnl,
		Metrics:    m,
		CloseGrace: cfg.CloseGrace,
	}
	if api.Configured() {
		sessionDeps.Reporter = api
	}
	coordinator, err := session.New(sessionDeps)
	if err != nil {
		return fmt.Errorf("build session coordinator: %w", err)
	}

	srvOpts := server.Options{
		Logger:      logger,
		Coordinator: coordinator,
		Journal:     jnl,
		Metrics:     m,
		Lifecycle:   life,
	}
	if api.Configured() {
		srvOpts.API = api
	}
	ctrl := server.New(srvOpts)
	httpSrv := buildHTTPServer(cfg, ctrl.Handler())

	logger.Info("starting coachd", "addr", cfg.Addr, "agent_url", cfg.AgentURL)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	life.SetDraining(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := coordinator.Close(shutdownCtx); err != nil {
		logger.Warn("session coordinator did not close cleanly", "error", err)
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("coachd stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps daemonDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	_ = godotenv.Load()

	if err := runDaemon(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "coachd: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultDaemonDeps()))
}
