package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/zynq-tools/zap/zap/platform"
	"github.com/zynq-tools/zap/zap/target"
	"github.com/zynq-tools/zap/zap/target/cortexa"
	"github.com/zynq-tools/zap/zap/watchdog"
	"github.com/zynq-tools/zap/zap/zynq"
)

// The AMP firmware core. There is exactly one per box, so every command
// refers to it by this name.
const targetName = "cpu1"

func windowBases() (dbg, slcr uint32) {
	dbg = *dbgBase
	if dbg == 0 {
		dbg = zynq.CPU1DebugBase
	}
	slcr = *slcrBase
	if slcr == 0 {
		slcr = zynq.SLCRBase
	}
	return dbg, slcr
}

// newDriver maps the register windows and constructs the core driver. It
// probes the debug unit but does not attach, so the core's run state is
// left alone.
func newDriver(ctx context.Context, cfg *zynq.Config, onFatal func()) (target.Target, error) {
	dbg, slcrB := windowBases()
	slcr, err := platform.MapWindow(slcrB, zynq.WindowSize)
	if err != nil {
		return nil, errors.Trace(err)
	}
	dbgw, err := platform.MapWindow(dbg, zynq.WindowSize)
	if err != nil {
		slcr.Close()
		return nil, errors.Trace(err)
	}
	t, err := cortexa.New(ctx, dbgw, cortexa.Opts{
		SRST:       zynq.NewCPU1Reset(slcr),
		ClockGuard: zynq.NewClockGuard(slcr),
		ResetHooks: zynq.NewResetHooks(cfg),
		OnFatal:    onFatal,
	})
	if err != nil {
		dbgw.Close()
		slcr.Close()
		return nil, errors.Trace(err)
	}
	return t, nil
}

// newSessionManager builds the session manager with the deployment's
// target registered. The opener maps the register windows and probes the
// core; Acquire then attaches, which halts it.
func newSessionManager() (*target.SessionManager, *zynq.Config, error) {
	cfg, err := zynq.LoadConfig(*confFile)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	sm := target.NewSessionManager()
	sm.Register(targetName, func(ctx context.Context, onFatal func()) (target.Target, error) {
		t, err := newDriver(ctx, cfg, onFatal)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if err := t.Attach(ctx); err != nil {
			return nil, errors.Annotatef(err, "failed to attach")
		}
		return t, nil
	})
	return sm, cfg, nil
}

func acquire(ctx context.Context) (target.Target, *zynq.Config, error) {
	sm, cfg, err := newSessionManager()
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	t, err := sm.Acquire(ctx, targetName)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return t, cfg, nil
}

func printRegs(blob []byte) {
	names := []string{
		"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7",
		"r8", "r9", "r10", "r11", "r12", "sp", "lr", "pc", "cpsr",
	}
	for i, n := range names {
		fmt.Printf("%-5s = 0x%08x\n", n, binary.LittleEndian.Uint32(blob[i*4:]))
	}
	fmt.Printf("%-5s = 0x%08x\n", "fpscr", binary.LittleEndian.Uint32(blob[68:]))
}

func pcOf(blob []byte) uint32 {
	return binary.LittleEndian.Uint32(blob[15*4:])
}

func cmdAttach(ctx context.Context) error {
	t, _, err := acquire(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	blob, err := t.RegsRead(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	fmt.Printf("Attached: %s, halted at 0x%08x\n", t.Driver(), pcOf(blob))
	return nil
}

func cmdResume(ctx context.Context) error {
	t, _, err := acquire(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if err := t.HaltResume(ctx, false); err != nil {
		return errors.Trace(err)
	}
	fmt.Println("Running")
	return nil
}

func cmdStep(ctx context.Context) error {
	t, _, err := acquire(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if err := t.HaltResume(ctx, true); err != nil {
		return errors.Trace(err)
	}
	for {
		reason, _, err := t.HaltPoll(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		if reason != target.HaltRunning {
			break
		}
	}
	blob, err := t.RegsRead(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	fmt.Printf("Stopped at 0x%08x\n", pcOf(blob))
	return nil
}

// cmdStatus reports the core's current state. It deliberately skips the
// attach sequence: attaching halts the core, which would both perturb it
// and make every status read back as a halt request.
func cmdStatus(ctx context.Context) error {
	cfg, err := zynq.LoadConfig(*confFile)
	if err != nil {
		return errors.Trace(err)
	}
	t, err := newDriver(ctx, cfg, func() {})
	if err != nil {
		return errors.Trace(err)
	}
	reason, watch, err := t.HaltPoll(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if reason == target.HaltWatchpoint {
		fmt.Printf("%s at 0x%08x\n", reason, watch)
	} else {
		fmt.Println(reason)
	}
	return nil
}

func cmdRegs(ctx context.Context) error {
	t, _, err := acquire(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	blob, err := t.RegsRead(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	printRegs(blob)
	return nil
}

func cmdReset(ctx context.Context) error {
	t, _, err := acquire(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if err := t.Reset(ctx); err != nil {
		return errors.Trace(err)
	}
	if err := t.HaltResume(ctx, false); err != nil {
		return errors.Trace(err)
	}
	fmt.Println("Reset, running")
	return nil
}

func cmdCoreDump(ctx context.Context) error {
	t, cfg, err := acquire(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	fn, err := zynq.CoreDump(ctx, t, cfg)
	if err != nil {
		return errors.Trace(err)
	}
	fmt.Printf("Core dumped: %s\n", fn)
	return errors.Trace(t.HaltResume(ctx, false))
}

func cmdWatchdog(_ context.Context) error {
	// The watchdog runs until interrupted; the global operation timeout
	// does not apply.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	sm, cfg, err := newSessionManager()
	if err != nil {
		return errors.Trace(err)
	}
	wd := watchdog.New(sm, targetName, func(ctx context.Context, t target.Target) error {
		_, err := zynq.CoreDump(ctx, t, cfg)
		return errors.Trace(err)
	})
	wd.Interval = *interval
	glog.Infof("Crash watchdog starting, poll interval %s", *interval)
	err = wd.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return errors.Trace(err)
}
