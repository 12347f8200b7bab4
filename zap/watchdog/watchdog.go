// Package watchdog implements the crash watchdog: a periodic poller that
// watches a firmware core for unexpected halts, dumps core and restarts it.
// It must be the only caller driving its target; overlapping an interactive
// debug session with the watchdog on the same core is not supported.
package watchdog

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/zynq-tools/zap/zap/target"
)

// Dumper captures a crash dump of a halted target.
type Dumper func(ctx context.Context, t target.Target) error

type Watchdog struct {
	sm   *target.SessionManager
	name string
	dump Dumper

	// Interval between polls; zero means one second.
	Interval time.Duration
}

func New(sm *target.SessionManager, name string, dump Dumper) *Watchdog {
	return &Watchdog{sm: sm, name: name, dump: dump}
}

// Poll performs one watchdog round: connect if not connected, then check
// the target state and handle a crash. A torn-down session (fatal transport
// error) is reconnected on the next round.
func (w *Watchdog) Poll(ctx context.Context) error {
	t, ok := w.sm.Active(w.name)
	if !ok {
		var err error
		t, err = w.sm.Acquire(ctx, w.name)
		if err != nil {
			return errors.Annotatef(err, "failed to connect to target")
		}
		// Acquire leaves the core halted; let it run.
		if err := t.HaltResume(ctx, false); err != nil {
			return errors.Trace(err)
		}
		glog.Infof("Crash watchdog connected")
	}

	reason, _, err := t.HaltPoll(ctx)
	switch reason {
	case target.HaltRunning:
		return nil
	case target.HaltError:
		// The driver already tore the session down; reconnect next
		// round.
		return errors.Trace(err)
	}

	glog.Errorf("Crash detected (%s), dumping core", reason)
	if w.dump != nil {
		if err := w.dump(ctx, t); err != nil {
			glog.Errorf("Core dump failed: %v", err)
		}
	}
	if err := t.Reset(ctx); err != nil {
		return errors.Annotatef(err, "failed to reset target")
	}
	return errors.Trace(t.HaltResume(ctx, false))
}

// Run polls until ctx is done. Poll errors are logged, not fatal: the next
// round retries from scratch.
func (w *Watchdog) Run(ctx context.Context) error {
	interval := w.Interval
	if interval == 0 {
		interval = time.Second
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if err := w.Poll(ctx); err != nil {
				glog.Errorf("Watchdog poll: %v", err)
			}
		}
	}
}
