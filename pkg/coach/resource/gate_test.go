package resource

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
)

type fakePipeline struct {
	permission bool
	permErr    error
	configErr  error
	startErr   error

	starts atomic.Int64
	stops  atomic.Int64
}

func (f *fakePipeline) RequestPermission(context.Context) (bool, error) {
	return f.permission, f.permErr
}

func (f *fakePipeline) Configure(context.Context) error { return f.configErr }

func (f *fakePipeline) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.starts.Add(1)
	return nil
}

func (f *fakePipeline) Stop() error {
	f.stops.Add(1)
	return nil
}

func TestGate_AcquireRelease(t *testing.T) {
	p := &fakePipeline{permission: true}
	g := NewGate(p, nil)

	lease, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !g.Held() {
		t.Fatalf("gate should be held after acquire")
	}
	if p.starts.Load() != 1 {
		t.Fatalf("starts=%d, want 1", p.starts.Load())
	}

	g.Release(lease)
	if g.Held() {
		t.Fatalf("gate should be free after release")
	}
	if p.stops.Load() != 1 {
		t.Fatalf("stops=%d, want 1", p.stops.Load())
	}
}

func TestGate_SecondAcquireFailsWhileHeld(t *testing.T) {
	g := NewGate(&fakePipeline{permission: true}, nil)

	lease, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := g.Acquire(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("second acquire err=%v, want ErrUnavailable", err)
	}
	g.Release(lease)

	if _, err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestGate_PermissionDenied(t *testing.T) {
	p := &fakePipeline{permission: false}
	g := NewGate(p, nil)

	if _, err := g.Acquire(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err=%v, want ErrUnavailable", err)
	}
	if g.Held() {
		t.Fatalf("gate must return to free after denied permission")
	}
	if p.stops.Load() != 0 {
		t.Fatalf("pipeline stopped %d times, want 0 (never started)", p.stops.Load())
	}

	// Next acquire proceeds once permission is granted.
	p.permission = true
	if _, err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire after grant: %v", err)
	}
}

func TestGate_StartFailureFreesGate(t *testing.T) {
	p := &fakePipeline{permission: true, startErr: fmt.Errorf("device busy")}
	g := NewGate(p, nil)

	if _, err := g.Acquire(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err=%v, want ErrUnavailable", err)
	}
	if g.Held() {
		t.Fatalf("gate must be free after start failure")
	}
	if p.stops.Load() != 1 {
		t.Fatalf("stops=%d, want 1 (configured devices must be unwound)", p.stops.Load())
	}
}

func TestGate_ReleaseIsIdempotent(t *testing.T) {
	p := &fakePipeline{permission: true}
	g := NewGate(p, nil)

	lease, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	g.Release(lease)
	g.Release(lease)
	g.Release(nil)
	if p.stops.Load() != 1 {
		t.Fatalf("stops=%d, want exactly 1", p.stops.Load())
	}
}

func TestGate_ForeignLeaseIgnored(t *testing.T) {
	p1 := &fakePipeline{permission: true}
	p2 := &fakePipeline{permission: true}
	g1 := NewGate(p1, nil)
	g2 := NewGate(p2, nil)

	l1, err := g1.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	g2.Release(l1)
	if !g1.Held() {
		t.Fatalf("foreign release must not free the owning gate")
	}
	if p2.stops.Load() != 0 {
		t.Fatalf("foreign release must not stop the other pipeline")
	}
}
