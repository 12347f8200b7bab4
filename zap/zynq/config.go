package zynq

import (
	"io/ioutil"

	"github.com/juju/errors"
	yaml "gopkg.in/yaml.v2"
)

// MemSection is a physical memory range included in core dumps.
type MemSection struct {
	Base uint32 `yaml:"base"`
	Size uint32 `yaml:"size"`
}

// Config describes a Zynq AMP deployment: which OS-level components load
// the slave core's firmware, and which memory ranges a core dump should
// capture.
type Config struct {
	// Init scripts stopped before and started after the firmware reload.
	Services []string `yaml:"services"`
	// Kernel modules unloaded and reloaded to cycle the slave core.
	// Order matters: they are removed in reverse and inserted in order.
	Modules []string `yaml:"modules"`
	// The module whose insertion loads the firmware and releases the
	// core from reset.
	FirmwareModule string `yaml:"firmware_module"`

	DumpDir      string       `yaml:"dump_dir"`
	DumpSections []MemSection `yaml:"dump_sections"`
}

// DefaultConfig matches the Piksi deployment this tool grew up on.
func DefaultConfig() *Config {
	return &Config{
		Services: []string{
			"/etc/init.d/S83endpoint_adapter_rpmsg_piksi100",
			"/etc/init.d/S83endpoint_adapter_rpmsg_piksi101",
		},
		Modules:        []string{"rpmsg_piksi"},
		FirmwareModule: "zynq_remoteproc",
		DumpDir:        "/tmp/cores",
		// Firmware linker script layout: vectors, flash, vring, ram0.
		DumpSections: []MemSection{
			{Base: 0x00000000, Size: 0x00010000},
			{Base: 0x7b000000, Size: 0x02000000},
			{Base: 0x7d000000, Size: 0x00800000},
			{Base: 0x7d800000, Size: 0x02800000},
		},
	}
}

// LoadConfig reads a deployment config file; path == "" yields defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read config")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Annotatef(err, "failed to parse %s", path)
	}
	if cfg.FirmwareModule == "" {
		return nil, errors.NotValidf("config without firmware_module")
	}
	return cfg, nil
}
