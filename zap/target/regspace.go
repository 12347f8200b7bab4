package target

import (
	"context"
)

// DebugRegSpace is an indexed window of 32-bit debug registers, typically a
// memory-mapped Debug APB register file or a proxy for one. Implementations
// perform no validation or caching: every call is a single side-effecting
// register transaction. Index legality is the caller's responsibility.
//
// Proxied implementations that can time out must return errors satisfying
// juju/errors.IsTimeout so callers can tell a sleeping target from a broken
// transport.
type DebugRegSpace interface {
	ReadReg(ctx context.Context, reg uint16) (uint32, error)
	WriteReg(ctx context.Context, reg uint16, value uint32) error
}
