// Package cortexa drives an ARMv7-A core through its memory-mapped Debug
// APB register file, implemented per the ARMv7-A Architecture Reference
// Manual (ARM DDI0406C). Tested on the Cortex-A9; should be generic to
// ARMv7-A. The reset sequence is specific to Zynq-7000 AMP deployments,
// where the second core runs bare-metal firmware under a Linux host.
package cortexa

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/zynq-tools/zap/zap/platform"
	"github.com/zynq-tools/zap/zap/target"
)

const driverName = "ARM Cortex-A"

// Debug APB register indices.
const (
	regDIDR  uint16 = 0
	regVCR   uint16 = 7
	regDTRRX uint16 = 32 // DCC: host to target
	regITR   uint16 = 33
	regDSCR  uint16 = 34
	regDTRTX uint16 = 35 // DCC: target to host
	regDRCR  uint16 = 36
	regLAR   uint16 = 1004
)

func regBVR(i int) uint16 { return 64 + uint16(i) }
func regBCR(i int) uint16 { return 80 + uint16(i) }
func regWVR(i int) uint16 { return 96 + uint16(i) }
func regWCR(i int) uint16 { return 112 + uint16(i) }

const larKey = 0xC5ACCE55

// DBGVCR vector catch bits.
const (
	vcrReset       = 1 << 0
	vcrUndefined   = 1 << 1
	vcrPrefetchAbt = 1 << 3
	vcrDataAbt     = 1 << 4
)

// DBGDRCR bits.
const (
	drcrHRQ = 1 << 0 // halt request
	drcrRRQ = 1 << 1 // restart request
	drcrCSE = 1 << 2 // clear sticky exceptions
)

// dscr is the DBGDSCR status/control register. Kept as a typed value with
// accessors so raw bit twiddling stays inside this file.
type dscr uint32

const (
	dscrTXFull      dscr = 1 << 29
	dscrInstrCompl  dscr = 1 << 24
	dscrDCCStall    dscr = 1 << 20
	dscrDCCFast     dscr = 2 << 20
	dscrDCCModeMask dscr = 3 << 20
	dscrHDBGEn      dscr = 1 << 14
	dscrITREn       dscr = 1 << 13
	dscrIntDis      dscr = 1 << 11
	dscrStickyAbort dscr = 1 << 6 // SDABORT_l
	dscrRestarted   dscr = 1 << 1
	dscrHalted      dscr = 1 << 0
)

// Method of Entry values, DBGDSCR[5:2].
const (
	moeMask       uint32 = 0xf << 2
	moeHaltReq    uint32 = 0x0 << 2
	moeWatchAsync uint32 = 0x2 << 2
	moeWatchSync  uint32 = 0xa << 2
)

func (d dscr) halted() bool        { return d&dscrHalted != 0 }
func (d dscr) restarted() bool     { return d&dscrRestarted != 0 }
func (d dscr) instrComplete() bool { return d&dscrInstrCompl != 0 }
func (d dscr) stickyAbort() bool   { return d&dscrStickyAbort != 0 }
func (d dscr) moe() uint32         { return uint32(d) & moeMask }

func (d dscr) with(f dscr) dscr    { return d | f }
func (d dscr) without(f dscr) dscr { return d &^ f }
func (d dscr) withDCCMode(m dscr) dscr {
	return d&^dscrDCCModeMask | m
}

// CPSR Thumb bit.
const cpsrThumb = 1 << 5

// ClockGuard blocks until the core's debug clock is ungated. On Zynq the
// host OS can gate the slave core's clock; touching the debug interface
// while gated locks up the interconnect irrecoverably.
type ClockGuard interface {
	Wait(ctx context.Context) error
}

// ResetHooks performs the deployment-specific external side effects that
// take the core through reset and reload its firmware.
type ResetHooks interface {
	RestartFirmware(ctx context.Context) error
}

type Opts struct {
	SRST       platform.SRSTLine // optional, defaults to no reset line
	ClockGuard ClockGuard        // optional
	ResetHooks ResetHooks        // optional, required for Reset
	// OnFatal is invoked on an unrecoverable transport error, before
	// HaltPoll reports HaltError. Typically SessionManager.TeardownAll.
	OnFatal func()
}

type cortexA struct {
	dbg   target.DebugRegSpace
	srst  platform.SRSTLine
	clock ClockGuard
	hooks ResetHooks
	fatal func()

	regs regCache

	hwBreakpointMax  int
	hwBreakpointMask uint16
	bvr0, bcr0       uint32
	hwWatchpointMax  int
	hwWatchpointMask uint16
	watchAddr        [16]uint32

	mmuFault bool
}

// New probes the core behind dbg and returns a driver for it. Hardware
// breakpoint and watchpoint capacity is read once here and fixed for the
// life of the session.
func New(ctx context.Context, dbg target.DebugRegSpace, opts Opts) (target.Target, error) {
	ca := &cortexA{
		dbg:   dbg,
		srst:  opts.SRST,
		clock: opts.ClockGuard,
		hooks: opts.ResetHooks,
		fatal: opts.OnFatal,
	}
	if ca.srst == nil {
		ca.srst = platform.NullSRST{}
	}
	if ca.fatal == nil {
		ca.fatal = func() {}
	}

	if err := ca.clockWait(ctx); err != nil {
		return nil, errors.Trace(err)
	}

	didr, err := ca.apbRead(ctx, regDIDR)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read DBGDIDR")
	}
	ca.hwBreakpointMax = int((didr>>24)&15) + 1
	ca.hwWatchpointMax = int((didr>>28)&15) + 1
	glog.V(1).Infof("DBGDIDR 0x%08x: %d breakpoints, %d watchpoints",
		didr, ca.hwBreakpointMax, ca.hwWatchpointMax)

	return ca, nil
}

func (ca *cortexA) Driver() string { return driverName }

func (ca *cortexA) clockWait(ctx context.Context) error {
	if ca.clock == nil {
		return nil
	}
	return errors.Trace(ca.clock.Wait(ctx))
}

func (ca *cortexA) apbRead(ctx context.Context, reg uint16) (uint32, error) {
	value, err := ca.dbg.ReadReg(ctx, reg)
	glog.V(4).Infof("apb[%d] == 0x%08x", reg, value)
	return value, err
}

func (ca *cortexA) apbWrite(ctx context.Context, reg uint16, value uint32) error {
	glog.V(4).Infof("apb[%d] = 0x%08x", reg, value)
	return ca.dbg.WriteReg(ctx, reg, value)
}

func (ca *cortexA) readDSCR(ctx context.Context) (dscr, error) {
	v, err := ca.apbRead(ctx, regDSCR)
	return dscr(v), err
}

func (ca *cortexA) writeDSCR(ctx context.Context, d dscr) error {
	return ca.apbWrite(ctx, regDSCR, uint32(d))
}

func (ca *cortexA) Attach(ctx context.Context) error {
	// Clear any pending fault condition.
	ca.CheckError()

	if err := ca.clockWait(ctx); err != nil {
		return errors.Trace(err)
	}

	// Unlock access to the MMIO interface.
	if err := ca.apbWrite(ctx, regLAR, larKey); err != nil {
		return errors.Annotatef(err, "failed to unlock debug registers")
	}

	// Enable halting debug mode.
	d, err := ca.readDSCR(ctx)
	if err != nil {
		return errors.Annotatef(err, "failed to read DBGDSCR")
	}
	d = d.with(dscrHDBGEn | dscrITREn).withDCCMode(dscrDCCStall)
	if err := ca.writeDSCR(ctx, d); err != nil {
		return errors.Annotatef(err, "failed to write DBGDSCR")
	}
	glog.V(1).Infof("DBGDSCR = 0x%08x", uint32(d))

	if err := ca.HaltRequest(ctx); err != nil {
		return errors.Trace(err)
	}
	stopped := false
	for tries := 10; tries > 0; tries-- {
		// A core held in reset cannot halt; carry on configuring it
		// and release the line below, the vector catch traps it then.
		asserted, err := ca.srst.Get()
		if err != nil {
			return errors.Annotatef(err, "failed to read reset line")
		}
		if asserted {
			stopped = true
			break
		}
		reason, _, err := ca.HaltPoll(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		if reason != target.HaltRunning {
			stopped = true
			break
		}
		if err := platform.Sleep(ctx, 200*time.Millisecond); err != nil {
			return errors.Trace(err)
		}
	}
	if !stopped {
		return errors.Timeoutf("target did not halt")
	}

	// Catch Undefined, Prefetch abort and Data abort.
	if err := ca.apbWrite(ctx, regVCR, vcrUndefined|vcrPrefetchAbt|vcrDataAbt); err != nil {
		return errors.Annotatef(err, "failed to set vector catch")
	}

	// Clear any stale breakpoints.
	for i := 0; i < ca.hwBreakpointMax; i++ {
		if err := ca.apbWrite(ctx, regBCR(i), 0); err != nil {
			return errors.Annotatef(err, "failed to clear breakpoint %d", i)
		}
	}
	ca.hwBreakpointMask = 0
	ca.bcr0 = 0
	ca.bvr0 = 0

	return errors.Trace(ca.srst.Set(false))
}

func (ca *cortexA) Detach(ctx context.Context) error {
	// Clear any stale breakpoints.
	for i := 0; i < ca.hwBreakpointMax; i++ {
		if err := ca.apbWrite(ctx, regBCR(i), 0); err != nil {
			return errors.Annotatef(err, "failed to clear breakpoint %d", i)
		}
	}

	// Disable vector catch.
	if err := ca.apbWrite(ctx, regVCR, 0); err != nil {
		return errors.Trace(err)
	}

	// Restore any clobbered registers.
	if err := ca.regsSyncToHW(ctx); err != nil {
		return errors.Trace(err)
	}
	// Invalidate the instruction cache.
	if err := ca.apbWrite(ctx, regITR, opMCR|cpICIALLU); err != nil {
		return errors.Trace(err)
	}

	d, err := ca.waitInstrComplete(ctx, platform.NewDeadline(200*time.Millisecond))
	if err != nil {
		return errors.Trace(err)
	}

	// Disable halting debug mode.
	d = d.without(dscrHDBGEn | dscrITREn)
	if err := ca.writeDSCR(ctx, d); err != nil {
		return errors.Trace(err)
	}
	// Clear sticky error and resume.
	return errors.Trace(ca.apbWrite(ctx, regDRCR, drcrCSE|drcrRRQ))
}

// waitInstrComplete polls DBGDSCR until the injected instruction has
// completed or the deadline passes, returning the last DSCR value.
func (ca *cortexA) waitInstrComplete(ctx context.Context, dl platform.Deadline) (dscr, error) {
	for {
		d, err := ca.readDSCR(ctx)
		if err != nil {
			return d, errors.Annotatef(err, "failed to read DBGDSCR")
		}
		if d.instrComplete() || dl.Expired() {
			return d, nil
		}
		if err := ctx.Err(); err != nil {
			return d, err
		}
	}
}
