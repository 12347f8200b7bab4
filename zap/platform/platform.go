// Package platform provides the primitives the debug drivers consume but do
// not own: bounded sleeps, poll deadlines, reset lines and register window
// mapping.
package platform

import (
	"context"
	"time"
)

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Deadline bounds a hardware poll loop.
type Deadline struct {
	end time.Time
}

func NewDeadline(d time.Duration) Deadline {
	return Deadline{end: time.Now().Add(d)}
}

func (d Deadline) Expired() bool {
	return time.Now().After(d.end)
}

// SRSTLine controls and senses a target's software reset line.
type SRSTLine interface {
	Set(asserted bool) error
	Get() (bool, error)
}

// NullSRST is for deployments with no reset line wired up.
type NullSRST struct{}

func (NullSRST) Set(asserted bool) error { return nil }
func (NullSRST) Get() (bool, error)      { return false, nil }
