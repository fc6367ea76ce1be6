package lifecycle

import "testing"

func TestLifecycle_Draining(t *testing.T) {
	var l Lifecycle
	if l.IsDraining() {
		t.Fatalf("zero value must not report draining")
	}
	l.SetDraining(true)
	if !l.IsDraining() {
		t.Fatalf("IsDraining=false after SetDraining(true)")
	}
	l.SetDraining(false)
	if l.IsDraining() {
		t.Fatalf("IsDraining=true after SetDraining(false)")
	}
}

func TestLifecycle_NilReceiver(t *testing.T) {
	var l *Lifecycle
	l.SetDraining(true)
	if l.IsDraining() {
		t.Fatalf("nil lifecycle must report not draining")
	}
}
