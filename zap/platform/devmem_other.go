//go:build !linux
// +build !linux

package platform

import (
	"context"

	"github.com/juju/errors"
)

type Window struct{}

func MapWindow(base uint32, size int) (*Window, error) {
	return nil, errors.NotImplementedf("/dev/mem register windows")
}

func (w *Window) Close() error { return nil }

func (w *Window) Bytes() []byte { return nil }

func (w *Window) ReadReg(ctx context.Context, reg uint16) (uint32, error) {
	return 0, errors.NotImplementedf("")
}

func (w *Window) WriteReg(ctx context.Context, reg uint16, value uint32) error {
	return errors.NotImplementedf("")
}
