// Package lifecycle tracks whether coachd is draining. The readyz endpoint
// flips unready the moment shutdown begins, so companion apps stop issuing
// new session requests while in-flight work finishes.
package lifecycle

import "sync/atomic"

// Lifecycle is shared between the shutdown path and the HTTP handlers. The
// zero value reports not draining. Methods tolerate a nil receiver so wiring
// it up stays optional in tests.
type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
