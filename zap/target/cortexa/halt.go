package cortexa

import (
	"context"
	"math/bits"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/zynq-tools/zap/zap/platform"
	"github.com/zynq-tools/zap/zap/target"
)

// HaltRequest asks the core to halt. A transport timeout here is not an
// error: a core sitting in WFI can delay the acknowledgement, so the
// request is treated as accepted with the response pending.
func (ca *cortexA) HaltRequest(ctx context.Context) error {
	if err := ca.apbWrite(ctx, regDRCR, drcrHRQ); err != nil {
		if errors.IsTimeout(err) {
			glog.Infof("Timeout sending halt request, is target in WFI?")
			return nil
		}
		return errors.Annotatef(err, "failed to request halt")
	}
	return nil
}

// HaltPoll checks whether the core halted and classifies why. A transport
// timeout reads as still-running (the target may be power gated); any other
// transport failure is unrecoverable, tears down every live session and
// reports HaltError.
func (ca *cortexA) HaltPoll(ctx context.Context) (target.HaltReason, uint32, error) {
	d, err := ca.readDSCR(ctx)
	if err != nil {
		if errors.IsTimeout(err) {
			return target.HaltRunning, 0, nil
		}
		ca.fatal()
		return target.HaltError, 0, errors.Annotatef(err, "debug transport failed")
	}
	if !d.halted() {
		return target.HaltRunning, 0, nil
	}

	glog.V(3).Infof("HaltPoll: DBGDSCR = 0x%08x", uint32(d))
	// Reenable DBGITR, some halt causes clear it.
	d = d.with(dscrITREn)
	if err := ca.writeDSCR(ctx, d); err != nil {
		ca.fatal()
		return target.HaltError, 0, errors.Trace(err)
	}

	reason := target.HaltBreakpoint
	var watchAddr uint32
	switch d.moe() {
	case moeHaltReq:
		reason = target.HaltRequest
	case moeWatchAsync, moeWatchSync:
		// The hardware does not say which watchpoint fired. With
		// exactly one armed it must be that one; with more we cannot
		// tell and fall back to reporting a plain breakpoint.
		if bits.OnesCount16(ca.hwWatchpointMask) == 1 {
			reason = target.HaltWatchpoint
			watchAddr = ca.watchAddr[bits.TrailingZeros16(ca.hwWatchpointMask)]
		}
	}

	if err := ca.regsSyncFromHW(ctx); err != nil {
		ca.fatal()
		return target.HaltError, 0, errors.Annotatef(err, "failed to sync registers")
	}
	return reason, watchAddr, nil
}

// HaltResume restarts the core. For a single step, comparator slot 0 is
// borrowed for an instruction-mismatch breakpoint on the current PC, which
// fires on the first instruction that isn't the current one; otherwise the
// user's slot 0 configuration is put back.
func (ca *cortexA) HaltResume(ctx context.Context, step bool) error {
	if step {
		addr := ca.regs.r[15]
		size := 4
		if ca.regs.cpsr&cpsrThumb != 0 {
			size = 2
		}
		bas := bpBAS(addr, size)
		glog.V(3).Infof("step at 0x%08x, BAS 0x%x", addr, bas)
		if err := ca.apbWrite(ctx, regBVR(0), addr&^3); err != nil {
			return errors.Trace(err)
		}
		if err := ca.apbWrite(ctx, regBCR(0), bcrInstMismatch|bas|bcrEn); err != nil {
			return errors.Trace(err)
		}
	} else {
		if err := ca.apbWrite(ctx, regBVR(0), ca.bvr0); err != nil {
			return errors.Trace(err)
		}
		if err := ca.apbWrite(ctx, regBCR(0), ca.bcr0); err != nil {
			return errors.Trace(err)
		}
	}

	if err := ca.regsSyncToHW(ctx); err != nil {
		return errors.Trace(err)
	}

	// Invalidate the instruction cache.
	if err := ca.apbWrite(ctx, regITR, opMCR|cpICIALLU); err != nil {
		return errors.Trace(err)
	}

	dl := platform.NewDeadline(200 * time.Millisecond)
	d, err := ca.waitInstrComplete(ctx, dl)
	if err != nil {
		return errors.Trace(err)
	}

	if step {
		d = d.with(dscrIntDis)
	} else {
		d = d.without(dscrIntDis)
	}
	// Disable DBGITR. Not sure why, but RRQ is ignored otherwise.
	d = d.without(dscrITREn)
	if err := ca.writeDSCR(ctx, d); err != nil {
		return errors.Trace(err)
	}

	for {
		if err := ca.apbWrite(ctx, regDRCR, drcrCSE|drcrRRQ); err != nil {
			return errors.Trace(err)
		}
		d, err = ca.readDSCR(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		glog.V(3).Infof("HaltResume: DBGDSCR = 0x%08x", uint32(d))
		if d.restarted() || dl.Expired() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// stepInstruction single-steps one instruction and reports whether the
// core came back with the breakpoint halt the mismatch trap should cause.
func (ca *cortexA) stepInstruction(ctx context.Context) (bool, error) {
	if err := ca.HaltResume(ctx, true); err != nil {
		return false, errors.Trace(err)
	}
	for {
		reason, _, err := ca.HaltPoll(ctx)
		if err != nil {
			return false, errors.Trace(err)
		}
		if reason != target.HaltRunning {
			return reason == target.HaltBreakpoint, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
	}
}
