//go:build linux
// +build linux

package platform

import (
	"context"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/golang/glog"
	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

// Window is a register window mapped from /dev/mem. Reads and writes go
// through sync/atomic so the compiler cannot elide or reorder accesses to
// the device.
type Window struct {
	mem   []byte
	words []uint32
}

// MapWindow maps size bytes of physical address space at base. base must be
// page-aligned.
func MapWindow(base uint32, size int) (*Window, error) {
	f, err := os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open /dev/mem")
	}
	defer f.Close()
	mem, err := unix.Mmap(int(f.Fd()), int64(base), size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to map 0x%08x (%d bytes)", base, size)
	}
	glog.V(1).Infof("Mapped 0x%08x (%d bytes)", base, size)
	return &Window{
		mem:   mem,
		words: unsafe.Slice((*uint32)(unsafe.Pointer(&mem[0])), size/4),
	}, nil
}

func (w *Window) Close() error {
	return unix.Munmap(w.mem)
}

// Bytes returns the raw mapped byte view of the window.
func (w *Window) Bytes() []byte {
	return w.mem
}

func (w *Window) ReadReg(ctx context.Context, reg uint16) (uint32, error) {
	return atomic.LoadUint32(&w.words[reg]), nil
}

func (w *Window) WriteReg(ctx context.Context, reg uint16, value uint32) error {
	atomic.StoreUint32(&w.words[reg], value)
	return nil
}
