// Package zynq holds the Zynq-7000 AMP deployment specifics: the SLCR
// register window, the debug clock-gate guard, CPU1 reset control and the
// firmware-loader restart hooks, plus core dumping for the crash watchdog.
package zynq

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/zynq-tools/zap/zap/platform"
	"github.com/zynq-tools/zap/zap/target"
)

// Physical bases of the register windows used by the probe.
const (
	SLCRBase = 0xf8000000
	// Debug APB register file of the second A9 core, the one the AMP
	// firmware runs on.
	CPU1DebugBase = 0xf8892000

	WindowSize = 0x1000
)

// SLCR register word indices and bits.
const (
	slcrUnlock    uint16 = 2
	slcrUnlockKey uint32 = 0xdf0d

	slcrA9CPURstCtrl uint16 = 145

	a9RstCtrlRST1     uint32 = 1 << 1
	a9RstCtrlCLKSTOP1 uint32 = 1 << 5
)

// ClockGuard blocks until CPU1's clock is ungated. The host Linux system
// gates the clock when, for example, the remoteproc driver is unloaded;
// touching the CPU's debug registers while gated locks up the bus and is
// unrecoverable, so every debug sequence waits here first. The gate can
// still close after the check; there is no way to make this airtight from
// the host side.
type ClockGuard struct {
	slcr target.DebugRegSpace

	// Timeout bounds the wait; zero means a 5 second default.
	Timeout time.Duration
}

func NewClockGuard(slcr target.DebugRegSpace) *ClockGuard {
	return &ClockGuard{slcr: slcr}
}

func (g *ClockGuard) Wait(ctx context.Context) error {
	timeout := g.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	dl := platform.NewDeadline(timeout)
	for {
		ctrl, err := g.slcr.ReadReg(ctx, slcrA9CPURstCtrl)
		if err != nil {
			return errors.Annotatef(err, "failed to read A9_CPU_RST_CTRL")
		}
		if ctrl&a9RstCtrlCLKSTOP1 == 0 {
			return nil
		}
		if dl.Expired() {
			return errors.Timeoutf("CPU1 debug clock still gated")
		}
		glog.V(2).Infof("CPU1 clock gated, waiting")
		if err := platform.Sleep(ctx, time.Millisecond); err != nil {
			return err
		}
	}
}

// CPU1Reset drives CPU1's software reset line through the SLCR.
type CPU1Reset struct {
	slcr target.DebugRegSpace
}

func NewCPU1Reset(slcr target.DebugRegSpace) *CPU1Reset {
	return &CPU1Reset{slcr: slcr}
}

func (r *CPU1Reset) Set(asserted bool) error {
	ctx := context.Background()
	ctrl, err := r.slcr.ReadReg(ctx, slcrA9CPURstCtrl)
	if err != nil {
		return errors.Trace(err)
	}
	if asserted {
		ctrl |= a9RstCtrlRST1
	} else {
		ctrl &^= a9RstCtrlRST1
	}
	if err := r.slcr.WriteReg(ctx, slcrUnlock, slcrUnlockKey); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(r.slcr.WriteReg(ctx, slcrA9CPURstCtrl, ctrl))
}

func (r *CPU1Reset) Get() (bool, error) {
	ctrl, err := r.slcr.ReadReg(context.Background(), slcrA9CPURstCtrl)
	if err != nil {
		return false, errors.Trace(err)
	}
	return ctrl&a9RstCtrlRST1 != 0, nil
}
