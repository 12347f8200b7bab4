package target

import (
	"context"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

// Opener creates and attaches a driver for a physical target. onFatal is
// invoked by the driver when it detects an unrecoverable transport error;
// the session manager uses it to drop every live handle, since a wedged
// debug interconnect takes all targets with it.
type Opener func(ctx context.Context, onFatal func()) (Target, error)

// SessionManager owns at most one live debug session per physical target.
// It replaces module-level target state: callers hold the manager and
// acquire handles through it instead of sharing globals.
type SessionManager struct {
	openers map[string]Opener
	active  map[string]Target
}

func NewSessionManager() *SessionManager {
	return &SessionManager{
		openers: make(map[string]Opener),
		active:  make(map[string]Target),
	}
}

func (sm *SessionManager) Register(name string, open Opener) {
	sm.openers[name] = open
}

// Acquire returns the live session for name, attaching one if none exists.
// The handle stays valid until Release, or until a fatal transport error
// tears the session down.
func (sm *SessionManager) Acquire(ctx context.Context, name string) (Target, error) {
	if t, ok := sm.active[name]; ok {
		return t, nil
	}
	open, ok := sm.openers[name]
	if !ok {
		return nil, errors.NotFoundf("target %q", name)
	}
	t, err := open(ctx, sm.TeardownAll)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open target %q", name)
	}
	sm.active[name] = t
	return t, nil
}

// Active returns the live session for name, if any.
func (sm *SessionManager) Active(name string) (Target, bool) {
	t, ok := sm.active[name]
	return t, ok
}

// Release detaches the session for name and drops the handle.
func (sm *SessionManager) Release(ctx context.Context, name string) error {
	t, ok := sm.active[name]
	if !ok {
		return nil
	}
	delete(sm.active, name)
	return errors.Annotatef(t.Detach(ctx), "failed to detach %q", name)
}

// TeardownAll drops every live handle without touching the hardware.
// Used on fatal transport errors, when the hardware can no longer be
// trusted to respond.
func (sm *SessionManager) TeardownAll() {
	for name := range sm.active {
		glog.Errorf("Dropping session for %q", name)
		delete(sm.active, name)
	}
}
