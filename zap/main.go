package main

import (
	"context"
	goflag "flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/golang/glog"
	flag "github.com/spf13/pflag"

	"github.com/zynq-tools/zap/zap/pflagenv"
)

var (
	dbgBase   = flag.Uint32("dbg-base", 0, "Physical base of the core's Debug APB register file (0 = deployment default)")
	slcrBase  = flag.Uint32("slcr-base", 0, "Physical base of the SLCR register file (0 = deployment default)")
	confFile  = flag.String("config", "", "Deployment config file (YAML); empty for built-in defaults")
	timeout   = flag.Duration("timeout", 30*time.Second, "Overall operation timeout")
	interval  = flag.Duration("interval", time.Second, "Watchdog poll interval")
	versionFl = flag.Bool("version", false, "Print version and exit")
)

var commands = []command{
	{"attach", cmdAttach, `Attach to the core and halt it`},
	{"resume", cmdResume, `Resume a halted core`},
	{"step", cmdStep, `Single-step one instruction and report the new PC`},
	{"status", cmdStatus, `Report whether the core is running or why it halted`},
	{"regs", cmdRegs, `Print the core registers (halts the core if running)`},
	{"reset", cmdReset, `Reload firmware, reset the core and let it run`},
	{"coredump", cmdCoreDump, `Halt the core and write an ELF core dump`},
	{"watchdog", cmdWatchdog, `Run the crash watchdog until interrupted`},
}

type command struct {
	name    string
	handler func(ctx context.Context) error
	short   string
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <command>\n\nCommands:\n", os.Args[0])
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", c.name, c.short)
	}
	fmt.Fprintf(os.Stderr, "\nFlags:\n")
	names := []string{}
	flag.VisitAll(func(f *flag.Flag) { names = append(names, f.Name) })
	sort.Strings(names)
	for _, n := range names {
		f := flag.Lookup(n)
		fmt.Fprintf(os.Stderr, "  --%-12s %s\n", f.Name, f.Usage)
	}
	os.Exit(1)
}

func run(ctx context.Context) error {
	for _, c := range commands {
		if c.name == flag.Arg(0) {
			return c.handler(ctx)
		}
	}
	usage()
	return nil
}

func main() {
	// Pull in glog's flags (-v, -logtostderr, ...).
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	flag.Parse()
	pflagenv.Parse("ZAP_")

	if *versionFl {
		fmt.Printf("zap, the Zynq AMP debug probe\nVersion: %s\n", Version)
		return
	}
	if flag.NArg() < 1 {
		usage()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx); err != nil {
		glog.Infof("Error: %+v", err)
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
