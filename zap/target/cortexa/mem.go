package cortexa

import (
	"context"
	"encoding/binary"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

// Cache line length is from the Cortex-A9 TRM, may differ for others.
const cacheLineLength = 8 * 4

// vaToPA translates a virtual address through the core's MMU by injecting
// an ATS1CPR operation and reading back the PAR. Bit 0 of the PAR flags a
// translation fault; it is recorded in the sticky fault flag and masked out
// of the result.
func (ca *cortexA) vaToPA(ctx context.Context, va uint32) (uint32, error) {
	if err := ca.writeGPReg(ctx, 0, va); err != nil {
		return 0, errors.Trace(err)
	}
	if err := ca.apbWrite(ctx, regITR, opMCR|cpATS1CPR); err != nil {
		return 0, errors.Trace(err)
	}
	if err := ca.apbWrite(ctx, regITR, opMRC|cpPAR); err != nil {
		return 0, errors.Trace(err)
	}
	par, err := ca.readGPReg(ctx, 0)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if par&1 != 0 {
		ca.mmuFault = true
	}
	pa := par&^0xfff | va&0xfff
	glog.V(3).Infof("vaToPA: VA = 0x%08x, PAR = 0x%08x, PA = 0x%08x", va, par, pa)
	return pa, nil
}

// CacheClean cleans the data cache lines covering [addr, addr+length) so a
// direct physical-memory reader sees current data.
func (ca *cortexA) CacheClean(ctx context.Context, addr uint32, length int) error {
	for cl := addr &^ (cacheLineLength - 1); cl < addr+uint32(length); cl += cacheLineLength {
		if err := ca.writeGPReg(ctx, 0, cl); err != nil {
			return errors.Trace(err)
		}
		if err := ca.apbWrite(ctx, regITR, opMCR|cpDCCMVAC); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// checkAbort tests the sticky abort bit after a transfer and, if set,
// clears it and records the fault.
func (ca *cortexA) checkAbort(ctx context.Context) (bool, error) {
	d, err := ca.readDSCR(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	if !d.stickyAbort() {
		return false, nil
	}
	if err := ca.apbWrite(ctx, regDRCR, drcrCSE); err != nil {
		return true, errors.Trace(err)
	}
	ca.mmuFault = true
	return true, nil
}

// MemRead reads len(buf) bytes from target memory at addr using fast DCC
// mode: one load-with-post-increment is injected and every subsequent DCC
// read streams the next word. Unaligned requests are over-read by whole
// words and sliced.
func (ca *cortexA) MemRead(ctx context.Context, buf []byte, addr uint32) error {
	if len(buf) == 0 {
		return nil
	}
	offset := int(addr & 3)
	words := (len(buf) + offset + 3) / 4

	// Point r0 at the aligned start address.
	if err := ca.writeGPReg(ctx, 0, addr&^3); err != nil {
		return errors.Trace(err)
	}

	d, err := ca.readDSCR(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if err := ca.writeDSCR(ctx, d.withDCCMode(dscrDCCFast)); err != nil {
		return errors.Trace(err)
	}

	if err := ca.apbWrite(ctx, regITR, instDCCLoad); err != nil {
		return errors.Trace(err)
	}
	// Per the ARMv7-A ARM the first fast-mode DBGDTRTX read is supposed
	// to block until the load completes, but in practice it returns
	// junk. Read it here and throw it away.
	if _, err := ca.apbRead(ctx, regDTRTX); err != nil {
		return errors.Trace(err)
	}

	raw := make([]byte, words*4)
	for i := 0; i < words; i++ {
		w, err := ca.apbRead(ctx, regDTRTX)
		if err != nil {
			return errors.Trace(err)
		}
		binary.LittleEndian.PutUint32(raw[i*4:], w)
	}
	copy(buf, raw[offset:])

	// Back to stalling DCC mode.
	if err := ca.writeDSCR(ctx, d.withDCCMode(dscrDCCStall)); err != nil {
		return errors.Trace(err)
	}

	aborted, err := ca.checkAbort(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if !aborted {
		// Drain the overshoot word left in the DCC.
		if _, err := ca.apbRead(ctx, regDTRTX); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// memWriteBytes is the slow path for unaligned writes: r13 tracks the
// destination and one store-byte is injected per byte. Without the burst
// instruction there is no cheap per-block abort check, so the sticky bit
// is tested after every byte.
func (ca *cortexA) memWriteBytes(ctx context.Context, addr uint32, data []byte) error {
	if err := ca.writeGPReg(ctx, 13, addr); err != nil {
		return errors.Trace(err)
	}
	for _, b := range data {
		if err := ca.writeGPReg(ctx, 0, uint32(b)); err != nil {
			return errors.Trace(err)
		}
		if err := ca.apbWrite(ctx, regITR, instSTRBPostInc); err != nil {
			return errors.Trace(err)
		}
		aborted, err := ca.checkAbort(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		if aborted {
			return nil
		}
	}
	return nil
}

// MemWrite stores data to target memory at addr, using the fast DCC burst
// store for word-aligned transfers and the byte path otherwise.
func (ca *cortexA) MemWrite(ctx context.Context, addr uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if addr&3 != 0 || len(data)&3 != 0 {
		return errors.Trace(ca.memWriteBytes(ctx, addr, data))
	}

	if err := ca.writeGPReg(ctx, 0, addr); err != nil {
		return errors.Trace(err)
	}

	d, err := ca.readDSCR(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if err := ca.writeDSCR(ctx, d.withDCCMode(dscrDCCFast)); err != nil {
		return errors.Trace(err)
	}

	if err := ca.apbWrite(ctx, regITR, instDCCStore); err != nil {
		return errors.Trace(err)
	}
	for i := 0; i < len(data); i += 4 {
		if err := ca.apbWrite(ctx, regDTRRX, binary.LittleEndian.Uint32(data[i:])); err != nil {
			return errors.Trace(err)
		}
	}

	if err := ca.writeDSCR(ctx, d.withDCCMode(dscrDCCStall)); err != nil {
		return errors.Trace(err)
	}

	_, err = ca.checkAbort(ctx)
	return errors.Trace(err)
}

// CheckError reports and clears the sticky fault flag. Memory and
// translation operations never fail synchronously on a target-side fault;
// this is the only place it surfaces, and it surfaces exactly once.
func (ca *cortexA) CheckError() bool {
	fault := ca.mmuFault
	ca.mmuFault = false
	return fault
}
