package zynq

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/zynq-tools/zap/zap/platform"
)

// ResetHooks cycles the slave core's firmware through the host OS: endpoint
// services are stopped, the drivers holding the core are unloaded, then
// everything is brought back up. Reinserting the firmware module loads new
// firmware and releases the core from reset; with a reset-vector catch
// armed, the core traps in the boot trampoline immediately after.
type ResetHooks struct {
	cfg *Config

	// run is swappable for tests.
	run func(ctx context.Context, args ...string) error
}

func NewResetHooks(cfg *Config) *ResetHooks {
	return &ResetHooks{cfg: cfg, run: runCmd}
}

func runCmd(ctx context.Context, args ...string) error {
	glog.Infof("Running %s", strings.Join(args, " "))
	out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
	if err != nil {
		return errors.Annotatef(err, "%s: %s", args[0], strings.TrimSpace(string(out)))
	}
	return nil
}

func (h *ResetHooks) RestartFirmware(ctx context.Context) error {
	cfg := h.cfg

	for _, svc := range cfg.Services {
		if err := h.run(ctx, svc, "stop"); err != nil {
			return errors.Trace(err)
		}
	}
	if err := platform.Sleep(ctx, 500*time.Millisecond); err != nil {
		return err
	}
	for i := len(cfg.Modules) - 1; i >= 0; i-- {
		if err := h.run(ctx, "modprobe", "-r", cfg.Modules[i]); err != nil {
			return errors.Trace(err)
		}
	}
	if err := h.run(ctx, "modprobe", "-r", cfg.FirmwareModule); err != nil {
		return errors.Trace(err)
	}
	if err := platform.Sleep(ctx, 500*time.Millisecond); err != nil {
		return err
	}

	for _, mod := range cfg.Modules {
		if err := h.run(ctx, "modprobe", mod); err != nil {
			return errors.Trace(err)
		}
	}
	for _, svc := range cfg.Services {
		if err := h.run(ctx, svc, "start"); err != nil {
			return errors.Trace(err)
		}
	}
	if err := h.run(ctx, "modprobe", cfg.FirmwareModule); err != nil {
		return errors.Trace(err)
	}
	// Give the loader time to bring the firmware up.
	return platform.Sleep(ctx, time.Second)
}
