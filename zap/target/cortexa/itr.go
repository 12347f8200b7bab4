package cortexa

import (
	"context"

	"github.com/juju/errors"
)

// Base encodings for coprocessor moves, injected through DBGITR.
const (
	opMCR uint32 = 0xee000010 // core register -> coprocessor
	opMRC uint32 = 0xee100010 // coprocessor -> core register
)

// cpReg encodes the coprocessor and register selector fields shared by MCR
// and MRC.
func cpReg(coproc, opc1, rt, crn, crm, opc2 uint32) uint32 {
	return opc1<<21 | crn<<16 | rt<<12 | coproc<<8 | opc2<<5 | crm
}

var (
	// CP14 debug: DBGDTRRXint and DBGDTRTXint share an encoding, the
	// direction comes from MCR vs MRC.
	cpDTR = cpReg(14, 0, 0, 0, 5, 0)

	// CP15 address translation.
	cpPAR     = cpReg(15, 0, 0, 7, 4, 0)
	cpATS1CPR = cpReg(15, 0, 0, 7, 8, 0)

	// CP15 cache management.
	cpICIALLU = cpReg(15, 0, 0, 7, 5, 0)
	cpDCCMVAC = cpReg(15, 0, 0, 7, 10, 1)
)

// Fixed instruction encodings injected by the driver.
const (
	instMovR0PC     uint32 = 0xe1a0000f // mov r0, pc
	instMovPCR0     uint32 = 0xe1a0f000 // mov pc, r0
	instMRSR0CPSR   uint32 = 0xe10f0000 // mrs r0, CPSR
	instMSRCPSRR0   uint32 = 0xe12ff000 // msr CPSR_fsxc, r0
	instVMRSR0      uint32 = 0xeef10a10 // vmrs r0, fpscr
	instVMSRR0      uint32 = 0xeee10a10 // vmsr fpscr, r0
	instVMOVOutBase uint32 = 0xec510b10 // vmov r0, r1, d[i]
	instVMOVInBase  uint32 = 0xec410b10 // vmov d[i], r0, r1
	instDCCLoad     uint32 = 0xecb05e01 // ldc 14, cr5, [r0], #4
	instDCCStore    uint32 = 0xeca05e01 // stc 14, cr5, [r0], #4
	instSTRBPostInc uint32 = 0xe4cd0001 // strb r0, [sp], #1
)

// readGPReg makes the halted core move a general purpose register out
// through the DCC: inject an MCR that sends the register to DBGDTRTXint,
// then collect it from DBGDTRTX. The injection must precede the DCC read.
func (ca *cortexA) readGPReg(ctx context.Context, regno int) (uint32, error) {
	instr := opMCR | cpDTR | uint32(regno&0xf)<<12
	if err := ca.apbWrite(ctx, regITR, instr); err != nil {
		return 0, errors.Annotatef(err, "failed to inject read of r%d", regno)
	}
	value, err := ca.apbRead(ctx, regDTRTX)
	return value, errors.Annotatef(err, "failed to read DCC for r%d", regno)
}

// writeGPReg stages a value in DBGDTRRX, then injects an MRC that loads it
// into a general purpose register. The DCC write must precede the injection.
func (ca *cortexA) writeGPReg(ctx context.Context, regno int, value uint32) error {
	if err := ca.apbWrite(ctx, regDTRRX, value); err != nil {
		return errors.Annotatef(err, "failed to stage DCC value for r%d", regno)
	}
	instr := opMRC | cpDTR | uint32(regno&0xf)<<12
	return errors.Annotatef(ca.apbWrite(ctx, regITR, instr),
		"failed to inject write of r%d", regno)
}
