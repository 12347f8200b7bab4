package cortexa

import (
	"context"
	"encoding/binary"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

// Zynq-7000 system watchdog disable sequence: two magic values written to
// the SWDT restart register stop it from biting while the core is held in
// reset.
const (
	zynqSWDTRestart     = 0xf8f00634
	zynqSWDTRestartKey1 = 0x12345678
	zynqSWDTRestartKey2 = 0x87654321
)

func (ca *cortexA) memWrite32(ctx context.Context, addr, value uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	return ca.MemWrite(ctx, addr, buf[:])
}

// Reset takes the core through a firmware reload and leaves it halted on
// the first real firmware instruction. The reset itself is performed by
// the deployment's ResetHooks; a vector catch on the reset vector traps the
// core in the boot trampoline, which is then stepped over.
func (ca *cortexA) Reset(ctx context.Context) error {
	if ca.hooks == nil {
		return errors.NotSupportedf("reset without deployment hooks")
	}

	savedVCR, err := ca.apbRead(ctx, regVCR)
	if err != nil {
		return errors.Annotatef(err, "failed to read DBGVCR")
	}

	// Disable the watchdog.
	if err := ca.memWrite32(ctx, zynqSWDTRestart, zynqSWDTRestartKey1); err != nil {
		return errors.Trace(err)
	}
	if err := ca.memWrite32(ctx, zynqSWDTRestart, zynqSWDTRestartKey2); err != nil {
		return errors.Trace(err)
	}

	// Trap on reset only.
	if err := ca.apbWrite(ctx, regVCR, vcrReset); err != nil {
		return errors.Trace(err)
	}

	// Cycle the firmware loader. The core comes out of reset with new
	// firmware loaded and the vector catch traps it on the reset vector,
	// inside the boot trampoline.
	if err := ca.hooks.RestartFirmware(ctx); err != nil {
		return errors.Annotatef(err, "failed to restart firmware")
	}

	// Ensure we're not clock gated before we talk.
	if err := ca.clockWait(ctx); err != nil {
		return errors.Trace(err)
	}

	// Pick up the freshly reset register values.
	if err := ca.regsSyncFromHW(ctx); err != nil {
		return errors.Trace(err)
	}

	// Step over the boot trampoline with traps disabled. The trampoline
	// is the kernel's load-address-then-jump idiom:
	//   0x0: load the address at 0x8 into r0
	//   0x4: jump by mov
	//   0x8: jumping address
	// so exactly two steps land on the first firmware instruction.
	if err := ca.apbWrite(ctx, regVCR, 0); err != nil {
		return errors.Trace(err)
	}
	for i := 0; i < 2; i++ {
		ok, err := ca.stepInstruction(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		if !ok {
			// The trampoline length is architecturally fixed; a
			// step landing anywhere else means our picture of the
			// boot path no longer holds. Nothing to recover.
			ca.fatal()
			return errors.Errorf("trampoline step %d did not halt on breakpoint", i)
		}
	}
	glog.V(1).Infof("Reset complete, halted at 0x%08x", ca.regs.r[15])

	// Restore traps.
	return errors.Trace(ca.apbWrite(ctx, regVCR, savedVCR))
}
