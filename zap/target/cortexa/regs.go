package cortexa

import (
	"context"
	"encoding/binary"

	"github.com/juju/errors"
)

// regCache shadows the core's register file. Its contents are authoritative
// only between a successful halt and the next resume; while the core runs
// they are stale and must not be trusted. Only regsSyncFromHW/regsSyncToHW
// touch the hardware; RegsRead/RegsWrite work on the cache.
type regCache struct {
	r     [16]uint32
	cpsr  uint32
	fpscr uint32
	d     [16]uint64
}

// Register blob layout: r0-r15, cpsr, fpscr as 32-bit words, then d0-d15 as
// 64-bit words, all little-endian. Matches tdescCortexA.
const regsBlobSize = 16*4 + 4 + 4 + 16*8

func (ca *cortexA) RegsSize() int { return regsBlobSize }

func (ca *cortexA) RegsRead(ctx context.Context) ([]byte, error) {
	data := make([]byte, 0, regsBlobSize)
	for _, v := range ca.regs.r {
		data = binary.LittleEndian.AppendUint32(data, v)
	}
	data = binary.LittleEndian.AppendUint32(data, ca.regs.cpsr)
	data = binary.LittleEndian.AppendUint32(data, ca.regs.fpscr)
	for _, v := range ca.regs.d {
		data = binary.LittleEndian.AppendUint64(data, v)
	}
	return data, nil
}

func (ca *cortexA) RegsWrite(ctx context.Context, data []byte) error {
	if len(data) != regsBlobSize {
		return errors.NotValidf("register blob of %d bytes", len(data))
	}
	for i := range ca.regs.r {
		ca.regs.r[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	ca.regs.cpsr = binary.LittleEndian.Uint32(data[64:])
	ca.regs.fpscr = binary.LittleEndian.Uint32(data[68:])
	for i := range ca.regs.d {
		ca.regs.d[i] = binary.LittleEndian.Uint64(data[72+i*8:])
	}
	return nil
}

// regsSyncFromHW refills the register cache from the halted core. Any fault
// along the way is only visible through CheckError afterwards.
func (ca *cortexA) regsSyncFromHW(ctx context.Context) error {
	for i := 0; i < 15; i++ {
		v, err := ca.readGPReg(ctx, i)
		if err != nil {
			return errors.Trace(err)
		}
		ca.regs.r[i] = v
	}
	// Read the PC via r0; MCR is UNPREDICTABLE for Rt = r15.
	if err := ca.apbWrite(ctx, regITR, instMovR0PC); err != nil {
		return errors.Trace(err)
	}
	pc, err := ca.readGPReg(ctx, 0)
	if err != nil {
		return errors.Trace(err)
	}
	if err := ca.apbWrite(ctx, regITR, instMRSR0CPSR); err != nil {
		return errors.Trace(err)
	}
	if ca.regs.cpsr, err = ca.readGPReg(ctx, 0); err != nil {
		return errors.Trace(err)
	}
	if err := ca.apbWrite(ctx, regITR, instVMRSR0); err != nil {
		return errors.Trace(err)
	}
	if ca.regs.fpscr, err = ca.readGPReg(ctx, 0); err != nil {
		return errors.Trace(err)
	}
	for i := range ca.regs.d {
		// Move d[i] out through r0/r1.
		if err := ca.apbWrite(ctx, regITR, instVMOVOutBase|uint32(i)); err != nil {
			return errors.Trace(err)
		}
		hi, err := ca.readGPReg(ctx, 1)
		if err != nil {
			return errors.Trace(err)
		}
		lo, err := ca.readGPReg(ctx, 0)
		if err != nil {
			return errors.Trace(err)
		}
		ca.regs.d[i] = uint64(hi)<<32 | uint64(lo)
	}
	// The PC reads ahead of the halted instruction by a fixed
	// breakpoint-entry offset: 4 in Thumb state, 8 in ARM state.
	if ca.regs.cpsr&cpsrThumb != 0 {
		pc -= 4
	} else {
		pc -= 8
	}
	ca.regs.r[15] = pc
	return nil
}

// regsSyncToHW writes the cache back in reverse sensitivity order: VFP
// state first, then CPSR, then PC, and the plain registers last, because
// r0/r1 serve as scratch for every preceding step.
func (ca *cortexA) regsSyncToHW(ctx context.Context) error {
	for i := range ca.regs.d {
		if err := ca.writeGPReg(ctx, 1, uint32(ca.regs.d[i]>>32)); err != nil {
			return errors.Trace(err)
		}
		if err := ca.writeGPReg(ctx, 0, uint32(ca.regs.d[i])); err != nil {
			return errors.Trace(err)
		}
		if err := ca.apbWrite(ctx, regITR, instVMOVInBase|uint32(i)); err != nil {
			return errors.Trace(err)
		}
	}
	if err := ca.writeGPReg(ctx, 0, ca.regs.fpscr); err != nil {
		return errors.Trace(err)
	}
	if err := ca.apbWrite(ctx, regITR, instVMSRR0); err != nil {
		return errors.Trace(err)
	}
	if err := ca.writeGPReg(ctx, 0, ca.regs.cpsr); err != nil {
		return errors.Trace(err)
	}
	if err := ca.apbWrite(ctx, regITR, instMSRCPSRR0); err != nil {
		return errors.Trace(err)
	}
	// Write the PC via r0 and a plain mov; going through the MSR path
	// would corrupt the CPSR instead.
	if err := ca.writeGPReg(ctx, 0, ca.regs.r[15]); err != nil {
		return errors.Trace(err)
	}
	if err := ca.apbWrite(ctx, regITR, instMovPCR0); err != nil {
		return errors.Trace(err)
	}
	for i := 0; i < 15; i++ {
		if err := ca.writeGPReg(ctx, i, ca.regs.r[i]); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (ca *cortexA) TDesc() string { return tdescCortexA }

// GDB register map for the blob returned by RegsRead.
const tdescCortexA = `<?xml version="1.0"?>` +
	`<!DOCTYPE feature SYSTEM "gdb-target.dtd">` +
	`<target>` +
	`  <architecture>arm</architecture>` +
	`  <feature name="org.gnu.gdb.arm.core">` +
	`    <reg name="r0" bitsize="32"/>` +
	`    <reg name="r1" bitsize="32"/>` +
	`    <reg name="r2" bitsize="32"/>` +
	`    <reg name="r3" bitsize="32"/>` +
	`    <reg name="r4" bitsize="32"/>` +
	`    <reg name="r5" bitsize="32"/>` +
	`    <reg name="r6" bitsize="32"/>` +
	`    <reg name="r7" bitsize="32"/>` +
	`    <reg name="r8" bitsize="32"/>` +
	`    <reg name="r9" bitsize="32"/>` +
	`    <reg name="r10" bitsize="32"/>` +
	`    <reg name="r11" bitsize="32"/>` +
	`    <reg name="r12" bitsize="32"/>` +
	`    <reg name="sp" bitsize="32" type="data_ptr"/>` +
	`    <reg name="lr" bitsize="32" type="code_ptr"/>` +
	`    <reg name="pc" bitsize="32" type="code_ptr"/>` +
	`    <reg name="cpsr" bitsize="32"/>` +
	`  </feature>` +
	`  <feature name="org.gnu.gdb.arm.vfp">` +
	`    <reg name="fpscr" bitsize="32"/>` +
	`    <reg name="d0" bitsize="64" type="float"/>` +
	`    <reg name="d1" bitsize="64" type="float"/>` +
	`    <reg name="d2" bitsize="64" type="float"/>` +
	`    <reg name="d3" bitsize="64" type="float"/>` +
	`    <reg name="d4" bitsize="64" type="float"/>` +
	`    <reg name="d5" bitsize="64" type="float"/>` +
	`    <reg name="d6" bitsize="64" type="float"/>` +
	`    <reg name="d7" bitsize="64" type="float"/>` +
	`    <reg name="d8" bitsize="64" type="float"/>` +
	`    <reg name="d9" bitsize="64" type="float"/>` +
	`    <reg name="d10" bitsize="64" type="float"/>` +
	`    <reg name="d11" bitsize="64" type="float"/>` +
	`    <reg name="d12" bitsize="64" type="float"/>` +
	`    <reg name="d13" bitsize="64" type="float"/>` +
	`    <reg name="d14" bitsize="64" type="float"/>` +
	`    <reg name="d15" bitsize="64" type="float"/>` +
	`  </feature>` +
	`</target>`
