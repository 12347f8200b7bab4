package target

import (
	"context"
)

// HaltReason describes why a target stopped (or didn't).
type HaltReason int

const (
	HaltRunning HaltReason = iota // Target not halted.
	HaltError                     // Failed to read target status.
	HaltRequest
	HaltBreakpoint
	HaltWatchpoint
	HaltFault
)

func (r HaltReason) String() string {
	switch r {
	case HaltRunning:
		return "running"
	case HaltError:
		return "error"
	case HaltRequest:
		return "halt request"
	case HaltBreakpoint:
		return "breakpoint"
	case HaltWatchpoint:
		return "watchpoint"
	case HaltFault:
		return "fault"
	}
	return "unknown"
}

type BreakwatchType int

const (
	BreakHard BreakwatchType = iota
	BreakSoft
	WatchWrite
	WatchRead
	WatchAccess
)

// Breakwatch is a breakpoint or watchpoint request. Slot is assigned by the
// driver on a successful set and must be passed back unchanged to clear.
type Breakwatch struct {
	Type BreakwatchType
	Addr uint32
	Size int
	Slot int
}

// Target is the interface between the generic layer and a core-specific
// debug driver. All operations are synchronous: they run their register
// transaction sequence to completion before returning. Callers must
// serialize access; a Target carries no internal locking.
type Target interface {
	// Attach halts the core and puts it into debug state.
	Attach(ctx context.Context) error
	// Detach restores the core state and releases it from debug control.
	Detach(ctx context.Context) error

	// RegsRead returns a copy of the cached core registers as a blob of
	// RegsSize() bytes, laid out as described by TDesc(). Only meaningful
	// while the target is halted.
	RegsRead(ctx context.Context) ([]byte, error)
	// RegsWrite replaces the cached core registers. The new values take
	// effect on the next resume.
	RegsWrite(ctx context.Context, data []byte) error

	// Reset resets the core and leaves it halted at the first firmware
	// instruction.
	Reset(ctx context.Context) error

	// HaltRequest asks the core to halt. The request is asynchronous;
	// poll with HaltPoll.
	HaltRequest(ctx context.Context) error
	// HaltPoll checks whether the core has halted and classifies the
	// cause. The returned address is valid only for HaltWatchpoint.
	// A transport timeout reports HaltRunning with no error; any other
	// transport failure reports HaltError with the underlying error.
	HaltPoll(ctx context.Context) (HaltReason, uint32, error)
	// HaltResume resumes execution, single-stepping one instruction if
	// step is set.
	HaltResume(ctx context.Context, step bool) error

	BreakwatchSet(ctx context.Context, bw *Breakwatch) error
	BreakwatchClear(ctx context.Context, bw *Breakwatch) error

	// MemRead fills buf from target memory at addr.
	MemRead(ctx context.Context, buf []byte, addr uint32) error
	// MemWrite stores data to target memory at addr.
	MemWrite(ctx context.Context, addr uint32, data []byte) error
	// CheckError reports whether any memory or translation operation
	// since the last check faulted, and clears the fault.
	CheckError() bool

	// Driver returns a human-readable driver name.
	Driver() string
	// TDesc returns the GDB target description XML for the register blob.
	TDesc() string
	// RegsSize returns the size of the register blob in bytes.
	RegsSize() int
}
