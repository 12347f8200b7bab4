package cortexa

import (
	"context"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/zynq-tools/zap/zap/target"
)

// DBGBCR bits.
const (
	bcrEn           uint32 = 1 << 0
	bcrInstMismatch uint32 = 4 << 20
	bcrBASAny       uint32 = 0xf << 5
	bcrBASLowHW     uint32 = 0x3 << 5
	bcrBASHighHW    uint32 = 0xc << 5
)

// DBGWCR bits.
const (
	wcrEn          uint32 = 1 << 0
	wcrPACAny      uint32 = 0b11 << 1
	wcrLSCLoad     uint32 = 0b01 << 3
	wcrLSCStore    uint32 = 0b10 << 3
	wcrLSCAny      uint32 = 0b11 << 3
	wcrBASByte     uint32 = 0b0001 << 5
	wcrBASHalfword uint32 = 0b0011 << 5
	wcrBASWord     uint32 = 0b1111 << 5
)

// bpBAS returns the byte address select mask for a breakpoint comparator:
// a 4-byte breakpoint matches any lane, a 2-byte one matches the half-word
// lane selected by bit 1 of the address.
func bpBAS(addr uint32, size int) uint32 {
	switch {
	case size == 4:
		return bcrBASAny
	case addr&2 != 0:
		return bcrBASHighHW
	default:
		return bcrBASLowHW
	}
}

// firstFreeSlot finds the lowest unoccupied comparator slot.
func firstFreeSlot(mask uint16, max int) (int, bool) {
	for i := 0; i < max; i++ {
		if mask&(1<<i) == 0 {
			return i, true
		}
	}
	return 0, false
}

func (ca *cortexA) BreakwatchSet(ctx context.Context, bw *target.Breakwatch) error {
	switch bw.Type {
	case target.BreakSoft:
		return errors.NotSupportedf("software breakpoints")

	case target.BreakHard:
		if bw.Size != 4 && bw.Size != 2 {
			return errors.NotValidf("breakpoint size %d", bw.Size)
		}
		i, ok := firstFreeSlot(ca.hwBreakpointMask, ca.hwBreakpointMax)
		if !ok {
			return errors.NotFoundf("free breakpoint slot")
		}

		// Breakpoint comparators here match against physical
		// addresses, unlike watchpoints.
		addr, err := ca.vaToPA(ctx, bw.Addr)
		if err != nil {
			return errors.Trace(err)
		}
		bcr := bpBAS(addr, bw.Size) | bcrEn
		if err := ca.apbWrite(ctx, regBVR(i), addr&^3); err != nil {
			return errors.Trace(err)
		}
		if err := ca.apbWrite(ctx, regBCR(i), bcr); err != nil {
			return errors.Trace(err)
		}
		bw.Slot = i
		ca.hwBreakpointMask |= 1 << i
		if i == 0 {
			// Slot 0 doubles as the single-step comparator; keep
			// the programmed pair so resume can put it back.
			ca.bcr0 = bcr
			ca.bvr0 = addr &^ 3
		}
		return nil

	case target.WatchWrite, target.WatchRead, target.WatchAccess:
		i, ok := firstFreeSlot(ca.hwWatchpointMask, ca.hwWatchpointMax)
		if !ok {
			return errors.NotFoundf("free watchpoint slot")
		}

		wcr := wcrPACAny | wcrEn
		var bas uint32
		switch bw.Size {
		case 1:
			bas = wcrBASByte
		case 2:
			bas = wcrBASHalfword
		case 4:
			bas = wcrBASWord
		default:
			return errors.NotValidf("watchpoint size %d", bw.Size)
		}
		wcr |= bas << (bw.Addr & 3)

		switch bw.Type {
		case target.WatchWrite:
			wcr |= wcrLSCStore
		case target.WatchRead:
			wcr |= wcrLSCLoad
		case target.WatchAccess:
			wcr |= wcrLSCAny
		}

		if err := ca.apbWrite(ctx, regWCR(i), wcr); err != nil {
			return errors.Trace(err)
		}
		if err := ca.apbWrite(ctx, regWVR(i), bw.Addr&^3); err != nil {
			return errors.Trace(err)
		}
		bw.Slot = i
		ca.hwWatchpointMask |= 1 << i
		ca.watchAddr[i] = bw.Addr
		glog.V(2).Infof("Watchpoint %d set: WCR = 0x%08x, WVR = 0x%08x", i, wcr, bw.Addr&^3)
		return nil

	default:
		return errors.NotValidf("breakwatch type %d", bw.Type)
	}
}

func (ca *cortexA) BreakwatchClear(ctx context.Context, bw *target.Breakwatch) error {
	i := bw.Slot
	switch bw.Type {
	case target.BreakSoft:
		return errors.NotSupportedf("software breakpoints")

	case target.BreakHard:
		ca.hwBreakpointMask &^= 1 << i
		if err := ca.apbWrite(ctx, regBCR(i), 0); err != nil {
			return errors.Trace(err)
		}
		if i == 0 {
			ca.bcr0 = 0
			ca.bvr0 = 0
		}
		return nil

	case target.WatchWrite, target.WatchRead, target.WatchAccess:
		ca.hwWatchpointMask &^= 1 << i
		ca.watchAddr[i] = 0
		return errors.Trace(ca.apbWrite(ctx, regWCR(i), 0))

	default:
		return errors.NotValidf("breakwatch type %d", bw.Type)
	}
}
