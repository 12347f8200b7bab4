package cortexa

import (
	"context"
	"fmt"
	"testing"
)

// simCore emulates enough of an ARMv7-A Debug APB interface for driver
// tests: instruction injection side effects, the DCC in stalling and fast
// mode, address translation, sticky aborts and the halt/restart machinery.
type simCore struct {
	t *testing.T

	// Core state.
	r     [16]uint32
	cpsr  uint32
	fpscr uint32
	d     [16]uint64

	mem              map[uint32]byte
	faultLo, faultHi uint32 // memory range that aborts accesses

	pageMap map[uint32]uint32 // VA page -> PA page; identity if absent
	noXlate map[uint32]bool   // VA pages with no translation
	par     uint32

	// Debug interface state.
	halted    bool
	restarted bool
	sticky    bool
	moe       uint32
	hostDSCR  uint32 // control bits owned by the host
	vcr       uint32
	didr      uint32
	dtrrx     uint32
	dtrtx     uint32
	bvr, bcr  [16]uint32
	wvr, wcr  [16]uint32

	burstLoad  bool
	burstFirst bool
	burstStore bool
	burstAddr  uint32

	// Error injection, per register index. Consumed on first use.
	readErr  map[uint16]error
	writeErr map[uint16]error
}

func newSimCore(t *testing.T) *simCore {
	return &simCore{
		t:        t,
		mem:      make(map[uint32]byte),
		pageMap:  make(map[uint32]uint32),
		noXlate:  make(map[uint32]bool),
		didr:     5<<24 | 3<<28, // 6 breakpoints, 4 watchpoints
		readErr:  make(map[uint16]error),
		writeErr: make(map[uint16]error),
	}
}

func (s *simCore) failf(format string, args ...interface{}) {
	s.t.Helper()
	s.t.Errorf(format, args...)
}

func (s *simCore) haltWith(moe uint32) {
	s.halted = true
	s.restarted = false
	s.moe = moe
}

func (s *simCore) pcView() uint32 {
	if s.cpsr&cpsrThumb != 0 {
		return s.r[15] + 4
	}
	return s.r[15] + 8
}

func (s *simCore) instrWidth() uint32 {
	if s.cpsr&cpsrThumb != 0 {
		return 2
	}
	return 4
}

func (s *simCore) faulting(addr uint32) bool {
	return addr >= s.faultLo && addr < s.faultHi
}

func (s *simCore) loadByte(addr uint32) byte {
	if s.faulting(addr) {
		s.sticky = true
		return 0
	}
	return s.mem[addr]
}

func (s *simCore) storeByte(addr uint32, b byte) {
	if s.faulting(addr) {
		s.sticky = true
		return
	}
	s.mem[addr] = b
}

func (s *simCore) load32(addr uint32) uint32 {
	var v uint32
	for i := uint32(0); i < 4; i++ {
		v |= uint32(s.loadByte(addr+i)) << (8 * i)
	}
	return v
}

func (s *simCore) store32(addr, v uint32) {
	for i := uint32(0); i < 4; i++ {
		s.storeByte(addr+i, byte(v>>(8*i)))
	}
}

func (s *simCore) composeDSCR() uint32 {
	d := s.hostDSCR | uint32(dscrInstrCompl) | s.moe
	if s.halted {
		d |= uint32(dscrHalted)
	}
	if s.restarted {
		d |= uint32(dscrRestarted)
	}
	if s.sticky {
		d |= uint32(dscrStickyAbort)
	}
	return d
}

func (s *simCore) translate(va uint32) {
	page := va &^ 0xfff
	if s.noXlate[page] {
		s.par = 1 // translation fault
		return
	}
	pa, ok := s.pageMap[page]
	if !ok {
		pa = page
	}
	// Low attribute bits other than the fault bit; the driver must mask
	// these out.
	s.par = pa | 0x7a
}

func (s *simCore) exec(instr uint32) {
	if s.hostDSCR&uint32(dscrITREn) == 0 {
		s.failf("instruction 0x%08x injected with DBGITR disabled", instr)
	}
	if !s.halted {
		s.failf("instruction 0x%08x injected while running", instr)
	}
	switch {
	case instr&^uint32(0xf<<12) == opMRC|cpDTR:
		s.r[(instr>>12)&0xf] = s.dtrrx
	case instr&^uint32(0xf<<12) == opMCR|cpDTR:
		s.dtrtx = s.r[(instr>>12)&0xf]
	case instr == instMovR0PC:
		s.r[0] = s.pcView()
	case instr == instMovPCR0:
		s.r[15] = s.r[0]
	case instr == instMRSR0CPSR:
		s.r[0] = s.cpsr
	case instr == instMSRCPSRR0:
		s.cpsr = s.r[0]
	case instr == instVMRSR0:
		s.r[0] = s.fpscr
	case instr == instVMSRR0:
		s.fpscr = s.r[0]
	case instr&^uint32(0xf) == instVMOVOutBase:
		i := instr & 0xf
		s.r[0] = uint32(s.d[i])
		s.r[1] = uint32(s.d[i] >> 32)
	case instr&^uint32(0xf) == instVMOVInBase:
		i := instr & 0xf
		s.d[i] = uint64(s.r[1])<<32 | uint64(s.r[0])
	case instr == opMCR|cpATS1CPR:
		s.translate(s.r[0])
	case instr == opMRC|cpPAR:
		s.r[0] = s.par
	case instr == opMCR|cpICIALLU, instr == opMCR|cpDCCMVAC:
		// Cache maintenance, nothing to model.
	case instr == instDCCLoad:
		s.burstLoad = true
		s.burstFirst = true
		s.burstAddr = s.r[0]
	case instr == instDCCStore:
		s.burstStore = true
		s.burstAddr = s.r[0]
	case instr == instSTRBPostInc:
		s.storeByte(s.r[13], byte(s.r[0]))
		s.r[13]++
	default:
		s.failf("unknown injected instruction 0x%08x", instr)
	}
}

func (s *simCore) ReadReg(ctx context.Context, reg uint16) (uint32, error) {
	if err, ok := s.readErr[reg]; ok {
		delete(s.readErr, reg)
		return 0, err
	}
	switch {
	case reg == regDIDR:
		return s.didr, nil
	case reg == regDSCR:
		return s.composeDSCR(), nil
	case reg == regVCR:
		return s.vcr, nil
	case reg == regDTRTX:
		if s.burstLoad {
			if s.burstFirst {
				s.burstFirst = false
				return 0xdeadbeef, nil // stale junk on the first fast-mode read
			}
			v := s.load32(s.burstAddr)
			s.burstAddr += 4
			return v, nil
		}
		return s.dtrtx, nil
	case reg >= regBVR(0) && reg < regBVR(16):
		return s.bvr[reg-regBVR(0)], nil
	case reg >= regBCR(0) && reg < regBCR(16):
		return s.bcr[reg-regBCR(0)], nil
	case reg >= regWVR(0) && reg < regWVR(16):
		return s.wvr[reg-regWVR(0)], nil
	case reg >= regWCR(0) && reg < regWCR(16):
		return s.wcr[reg-regWCR(0)], nil
	}
	s.failf("read of unmodeled register %d", reg)
	return 0, nil
}

func (s *simCore) WriteReg(ctx context.Context, reg uint16, value uint32) error {
	if err, ok := s.writeErr[reg]; ok {
		delete(s.writeErr, reg)
		return err
	}
	switch {
	case reg == regLAR:
		if value != larKey {
			s.failf("bad lock access key 0x%08x", value)
		}
	case reg == regVCR:
		s.vcr = value
	case reg == regDSCR:
		// Status and MOE bits are read-only.
		s.hostDSCR = value &^ (uint32(dscrHalted|dscrRestarted|dscrStickyAbort|dscrInstrCompl) | moeMask)
		if value&uint32(dscrDCCModeMask) == uint32(dscrDCCStall) {
			s.burstLoad = false
			s.burstStore = false
		}
	case reg == regDTRRX:
		if s.burstStore {
			s.store32(s.burstAddr, value)
			s.burstAddr += 4
			return nil
		}
		s.dtrrx = value
	case reg == regITR:
		s.exec(value)
	case reg == regDRCR:
		if value&drcrCSE != 0 {
			s.sticky = false
		}
		if value&drcrHRQ != 0 {
			s.haltWith(moeHaltReq)
		}
		if value&drcrRRQ != 0 && s.halted {
			s.halted = false
			s.restarted = true
			// An armed slot-0 mismatch comparator steps exactly one
			// instruction and traps again.
			if s.bcr[0]&bcrEn != 0 && s.bcr[0]&bcrInstMismatch != 0 {
				s.r[15] += s.instrWidth()
				s.halted = true
				s.moe = 0x1 << 2 // breakpoint
			}
		}
	case reg >= regBVR(0) && reg < regBVR(16):
		s.bvr[reg-regBVR(0)] = value
	case reg >= regBCR(0) && reg < regBCR(16):
		s.bcr[reg-regBCR(0)] = value
	case reg >= regWVR(0) && reg < regWVR(16):
		s.wvr[reg-regWVR(0)] = value
	case reg >= regWCR(0) && reg < regWCR(16):
		s.wcr[reg-regWCR(0)] = value
	default:
		s.failf("write of unmodeled register %d", reg)
	}
	return nil
}

// fillMem seeds target memory with a recognizable byte pattern.
func (s *simCore) fillMem(base uint32, n int) {
	for i := 0; i < n; i++ {
		s.mem[base+uint32(i)] = byte(i)
	}
}

func (s *simCore) String() string {
	return fmt.Sprintf("simCore{halted=%t pc=0x%08x moe=0x%x}", s.halted, s.r[15], s.moe)
}
