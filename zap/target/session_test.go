package target

import (
	"context"
	"testing"

	"github.com/juju/errors"
)

type stubTarget struct {
	detached int
}

func (s *stubTarget) Attach(ctx context.Context) error { return nil }
func (s *stubTarget) Detach(ctx context.Context) error { s.detached++; return nil }
func (s *stubTarget) RegsRead(ctx context.Context) ([]byte, error) {
	return nil, errors.NotImplementedf("RegsRead")
}
func (s *stubTarget) RegsWrite(ctx context.Context, data []byte) error {
	return errors.NotImplementedf("RegsWrite")
}
func (s *stubTarget) Reset(ctx context.Context) error       { return nil }
func (s *stubTarget) HaltRequest(ctx context.Context) error { return nil }
func (s *stubTarget) HaltPoll(ctx context.Context) (HaltReason, uint32, error) {
	return HaltRunning, 0, nil
}
func (s *stubTarget) HaltResume(ctx context.Context, step bool) error           { return nil }
func (s *stubTarget) BreakwatchSet(ctx context.Context, bw *Breakwatch) error   { return nil }
func (s *stubTarget) BreakwatchClear(ctx context.Context, bw *Breakwatch) error { return nil }
func (s *stubTarget) MemRead(ctx context.Context, buf []byte, addr uint32) error {
	return nil
}
func (s *stubTarget) MemWrite(ctx context.Context, addr uint32, data []byte) error {
	return nil
}
func (s *stubTarget) CheckError() bool { return false }
func (s *stubTarget) Driver() string   { return "stub" }
func (s *stubTarget) TDesc() string    { return "" }
func (s *stubTarget) RegsSize() int    { return 0 }

func TestSessionManagerAcquire(t *testing.T) {
	sm := NewSessionManager()
	opened := 0
	sm.Register("cpu1", func(ctx context.Context, onFatal func()) (Target, error) {
		opened++
		return &stubTarget{}, nil
	})
	ctx := context.Background()

	t1, err := sm.Acquire(ctx, "cpu1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t2, err := sm.Acquire(ctx, "cpu1")
	if err != nil {
		t.Fatalf("Acquire again: %v", err)
	}
	if t1 != t2 {
		t.Errorf("second acquire opened a new session")
	}
	if opened != 1 {
		t.Errorf("opener ran %d times, want 1", opened)
	}

	if _, err := sm.Acquire(ctx, "cpu9"); !errors.IsNotFound(err) {
		t.Errorf("unknown target: %v, want not found", err)
	}
}

func TestSessionManagerRelease(t *testing.T) {
	sm := NewSessionManager()
	stub := &stubTarget{}
	sm.Register("cpu1", func(ctx context.Context, onFatal func()) (Target, error) {
		return stub, nil
	})
	ctx := context.Background()

	if _, err := sm.Acquire(ctx, "cpu1"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := sm.Release(ctx, "cpu1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if stub.detached != 1 {
		t.Errorf("Detach ran %d times, want 1", stub.detached)
	}
	if _, ok := sm.Active("cpu1"); ok {
		t.Errorf("session still active after release")
	}
	// Releasing an inactive target is a no-op.
	if err := sm.Release(ctx, "cpu1"); err != nil {
		t.Errorf("second Release: %v", err)
	}
	if stub.detached != 1 {
		t.Errorf("Detach ran again on a released target")
	}
}

// A fatal transport error drops every live handle but must not touch the
// hardware: the wedged interconnect would hang any further access.
func TestSessionManagerTeardownAll(t *testing.T) {
	sm := NewSessionManager()
	stub := &stubTarget{}
	var onFatal func()
	sm.Register("cpu1", func(ctx context.Context, f func()) (Target, error) {
		onFatal = f
		return stub, nil
	})

	if _, err := sm.Acquire(context.Background(), "cpu1"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	onFatal()
	if _, ok := sm.Active("cpu1"); ok {
		t.Errorf("session survived the teardown")
	}
	if stub.detached != 0 {
		t.Errorf("teardown touched the hardware")
	}
}
