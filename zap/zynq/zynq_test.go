package zynq

import (
	"context"
	"testing"
	"time"

	"github.com/juju/errors"
)

// fakeSLCR is a DebugRegSpace over a plain register map.
type fakeSLCR struct {
	regs   map[uint16]uint32
	writes []uint16
}

func newFakeSLCR() *fakeSLCR {
	return &fakeSLCR{regs: make(map[uint16]uint32)}
}

func (f *fakeSLCR) ReadReg(ctx context.Context, reg uint16) (uint32, error) {
	return f.regs[reg], nil
}

func (f *fakeSLCR) WriteReg(ctx context.Context, reg uint16, value uint32) error {
	f.regs[reg] = value
	f.writes = append(f.writes, reg)
	return nil
}

func TestClockGuardUngated(t *testing.T) {
	slcr := newFakeSLCR()
	g := NewClockGuard(slcr)
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestClockGuardWaits(t *testing.T) {
	slcr := newFakeSLCR()
	slcr.regs[slcrA9CPURstCtrl] = a9RstCtrlCLKSTOP1

	// Ungate after a few polls.
	polls := 0
	g := NewClockGuard(pollCounter{slcr, &polls, 3})
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if polls < 3 {
		t.Errorf("clock guard polled %d times", polls)
	}
}

// pollCounter ungates the clock after n reads of the reset control register.
type pollCounter struct {
	*fakeSLCR
	polls *int
	n     int
}

func (p pollCounter) ReadReg(ctx context.Context, reg uint16) (uint32, error) {
	if reg == slcrA9CPURstCtrl {
		*p.polls++
		if *p.polls >= p.n {
			p.regs[reg] &^= a9RstCtrlCLKSTOP1
		}
	}
	return p.fakeSLCR.ReadReg(ctx, reg)
}

func TestClockGuardTimeout(t *testing.T) {
	slcr := newFakeSLCR()
	slcr.regs[slcrA9CPURstCtrl] = a9RstCtrlCLKSTOP1
	g := NewClockGuard(slcr)
	g.Timeout = 10 * time.Millisecond

	err := g.Wait(context.Background())
	if !errors.IsTimeout(err) {
		t.Errorf("Wait on a gated clock: %v, want timeout", err)
	}
}

func TestCPU1Reset(t *testing.T) {
	slcr := newFakeSLCR()
	r := NewCPU1Reset(slcr)

	if err := r.Set(true); err != nil {
		t.Fatalf("Set(true): %v", err)
	}
	if asserted, _ := r.Get(); !asserted {
		t.Errorf("reset not asserted")
	}
	// The SLCR must be unlocked before the control write.
	if len(slcr.writes) < 2 || slcr.writes[0] != slcrUnlock {
		t.Errorf("write sequence %v, want unlock first", slcr.writes)
	}
	if slcr.regs[slcrUnlock] != slcrUnlockKey {
		t.Errorf("unlock register 0x%x", slcr.regs[slcrUnlock])
	}

	// Clearing the reset must not disturb other bits.
	slcr.regs[slcrA9CPURstCtrl] |= a9RstCtrlCLKSTOP1
	if err := r.Set(false); err != nil {
		t.Fatalf("Set(false): %v", err)
	}
	if asserted, _ := r.Get(); asserted {
		t.Errorf("reset still asserted")
	}
	if slcr.regs[slcrA9CPURstCtrl]&a9RstCtrlCLKSTOP1 == 0 {
		t.Errorf("clock stop bit clobbered")
	}
}
