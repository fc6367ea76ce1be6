// Package server exposes coachd's local control API: session start/stop,
// session state, history, and passthroughs to the cloud API.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/motioncare/coachd/pkg/coach/journal"
	"github.com/motioncare/coachd/pkg/coach/lifecycle"
	"github.com/motioncare/coachd/pkg/coach/metrics"
	"github.com/motioncare/coachd/pkg/coach/remote"
	"github.com/motioncare/coachd/pkg/coach/session"
)

// Coordinator is the slice of the session coordinator the control API needs.
type Coordinator interface {
	Start(ctx context.Context, kind session.AgentKind) error
	Stop(ctx context.Context) error
	Snapshot() session.Snapshot
}

// History is the slice of the journal the control API needs.
type History interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

type Server struct {
	logger      *slog.Logger
	coordinator Coordinator
	journal     History
	api         *remote.Client
	metrics     *metrics.Metrics
	life        *lifecycle.Lifecycle
	mux         *http.ServeMux
}

type Options struct {
	Logger      *slog.Logger
	Coordinator Coordinator
	Journal     History
	API         *remote.Client
	Metrics     *metrics.Metrics
	Lifecycle   *lifecycle.Lifecycle
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Lifecycle == nil {
		opts.Lifecycle = &lifecycle.Lifecycle{}
	}

	s := &Server{
		logger:      opts.Logger,
		coordinator: opts.Coordinator,
		journal:     opts.Journal,
		api:         opts.API,
		metrics:     opts.Metrics,
		life:        opts.Lifecycle,
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/readyz", s.handleReadyz)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}

	s.mux.HandleFunc("/v1/session/start", s.handleSessionStart)
	s.mux.HandleFunc("/v1/session/stop", s.handleSessionStop)
	s.mux.HandleFunc("/v1/session", s.handleSessionGet)
	s.mux.HandleFunc("/v1/sessions", s.handleSessionHistory)

	s.mux.HandleFunc("/v1/exercises/generate", s.handleExercisesGenerate)
	s.mux.HandleFunc("/v1/device/push-token", s.handlePushToken)
	s.mux.HandleFunc("/v1/device/timezone", s.handleTimezone)
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = Recover(s.logger, h)
	h = AccessLog(s.logger, s.metrics, h)
	h = RequestID(h)
	return h
}
