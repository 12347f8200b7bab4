package zynq

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/zynq-tools/zap/zap/elfcore"
	"github.com/zynq-tools/zap/zap/platform"
	"github.com/zynq-tools/zap/zap/target"
)

// cacheCleaner is implemented by drivers that can clean the target's data
// cache, so that reading physical memory from the host side sees current
// data.
type cacheCleaner interface {
	CacheClean(ctx context.Context, addr uint32, length int) error
}

// CoreDump writes an ELF core file of the halted target into cfg.DumpDir,
// capturing the register cache and the configured physical memory sections
// (read directly through /dev/mem, after cleaning the target's caches).
// Returns the path of the written file.
func CoreDump(ctx context.Context, t target.Target, cfg *Config) (string, error) {
	blob, err := t.RegsRead(ctx)
	if err != nil {
		return "", errors.Annotatef(err, "failed to read registers")
	}
	if len(blob) < 72+16*8 {
		return "", errors.NotValidf("register blob of %d bytes", len(blob))
	}

	// r0-r15 and cpsr; orig_r0 stays zero.
	var regs [18]uint32
	for i := 0; i < 17; i++ {
		regs[i] = binary.LittleEndian.Uint32(blob[i*4:])
	}
	fpscr := binary.LittleEndian.Uint32(blob[68:])
	var d [16]uint64
	for i := range d {
		d[i] = binary.LittleEndian.Uint64(blob[72+i*8:])
	}

	cf := elfcore.New(elfcore.MachineARM)
	cf.AddPrStatus(11 /* SIGSEGV */, regs)
	cf.AddAuxv([]uint32{elfcore.AuxvHwcap, elfcore.HwcapVFP | elfcore.HwcapNeon})
	cf.AddVFP(fpscr, d[:])

	cleaner, canClean := t.(cacheCleaner)
	var windows []*platform.Window
	defer func() {
		for _, w := range windows {
			w.Close()
		}
	}()
	for _, s := range cfg.DumpSections {
		if canClean {
			if err := cleaner.CacheClean(ctx, s.Base, int(s.Size)); err != nil {
				return "", errors.Annotatef(err, "failed to clean cache for 0x%08x", s.Base)
			}
		}
		w, err := platform.MapWindow(s.Base, int(s.Size))
		if err != nil {
			return "", errors.Annotatef(err, "failed to map section 0x%08x", s.Base)
		}
		windows = append(windows, w)
		cf.AddSegment(s.Base, w.Bytes())
	}

	if err := os.MkdirAll(cfg.DumpDir, 0755); err != nil {
		return "", errors.Trace(err)
	}
	fn := filepath.Join(cfg.DumpDir,
		time.Now().UTC().Format("zynq_amp_core-20060102-150405"))
	f, err := os.Create(fn)
	if err != nil {
		return "", errors.Trace(err)
	}
	defer f.Close()
	if _, err := cf.WriteTo(f); err != nil {
		os.Remove(fn)
		return "", errors.Annotatef(err, "failed to write core file")
	}

	glog.Infof("Firmware core dumped: %s", fn)
	return fn, nil
}
