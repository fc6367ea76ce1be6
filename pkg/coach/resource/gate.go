package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrUnavailable is returned by Acquire when the capture hardware cannot be
// claimed: permission was denied or another lease is still outstanding.
var ErrUnavailable = errors.New("capture resource unavailable")

// Pipeline is the shared audio/camera capture stack guarded by the gate.
// Implementations wrap the platform capture devices; the gate only cares
// about permission, configuration, and start/stop.
type Pipeline interface {
	RequestPermission(ctx context.Context) (bool, error)
	Configure(ctx context.Context) error
	Start() error
	Stop() error
}

// Lease is the single-owner token for the capture pipeline. It is created by
// Gate.Acquire and destroyed by Gate.Release; holders never touch the
// pipeline directly.
type Lease struct {
	gate *Gate
	gen  uint64
}

// Gate serializes ownership of the capture pipeline. Exactly one lease may
// be outstanding; Acquire does not queue.
type Gate struct {
	pipeline Pipeline
	logger   *slog.Logger

	mu   sync.Mutex
	held *Lease
	gen  uint64
}

func NewGate(pipeline Pipeline, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{pipeline: pipeline, logger: logger}
}

// Acquire claims the capture pipeline: checks permission, configures and
// starts capture, and returns the lease token. Fails with ErrUnavailable if
// permission is denied or a lease is already held.
func (g *Gate) Acquire(ctx context.Context) (*Lease, error) {
	if g == nil || g.pipeline == nil {
		return nil, fmt.Errorf("%w: gate is not configured", ErrUnavailable)
	}

	g.mu.Lock()
	if g.held != nil {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: lease already held", ErrUnavailable)
	}
	g.gen++
	lease := &Lease{gate: g, gen: g.gen}
	g.held = lease
	g.mu.Unlock()

	granted, err := g.pipeline.RequestPermission(ctx)
	if err != nil {
		g.drop(lease)
		return nil, fmt.Errorf("%w: permission check failed: %v", ErrUnavailable, err)
	}
	if !granted {
		g.drop(lease)
		return nil, fmt.Errorf("%w: capture permission denied", ErrUnavailable)
	}

	if err := g.pipeline.Configure(ctx); err != nil {
		g.drop(lease)
		return nil, fmt.Errorf("%w: configure capture: %v", ErrUnavailable, err)
	}
	if err := g.pipeline.Start(); err != nil {
		// Configure succeeded; unwind the configured devices.
		if stopErr := g.pipeline.Stop(); stopErr != nil {
			g.logger.Warn("capture pipeline unwind failed", "error", stopErr)
		}
		g.drop(lease)
		return nil, fmt.Errorf("%w: start capture: %v", ErrUnavailable, err)
	}
	return lease, nil
}

// Release returns the pipeline to the Free state. Releasing nil, an already
// released lease, or a token from another gate is a logged no-op.
func (g *Gate) Release(lease *Lease) {
	if g == nil || lease == nil {
		return
	}
	if lease.gate != g {
		g.logger.Warn("ignoring foreign capture lease", "gen", lease.gen)
		return
	}

	g.mu.Lock()
	if g.held != lease {
		g.mu.Unlock()
		g.logger.Warn("ignoring stale capture lease release", "gen", lease.gen)
		return
	}
	g.held = nil
	g.mu.Unlock()

	if err := g.pipeline.Stop(); err != nil {
		g.logger.Warn("capture pipeline stop failed", "error", err)
	}
}

// Held reports whether a lease is currently outstanding.
func (g *Gate) Held() bool {
	if g == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held != nil
}

// drop clears a lease that never became usable without running the release
// path again.
func (g *Gate) drop(lease *Lease) {
	g.mu.Lock()
	if g.held == lease {
		g.held = nil
	}
	g.mu.Unlock()
}
