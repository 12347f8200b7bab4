package pflagenv

import (
	"os"
	"testing"

	flag "github.com/spf13/pflag"
)

func TestParseFlagSet(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fromEnv := fs.String("from-env", "default", "")
	fromArgv := fs.String("from-argv", "default", "")
	untouched := fs.String("untouched", "default", "")

	os.Setenv("ZAP_FROM_ENV", "env value")
	os.Setenv("ZAP_FROM_ARGV", "env value")
	defer os.Unsetenv("ZAP_FROM_ENV")
	defer os.Unsetenv("ZAP_FROM_ARGV")

	if err := fs.Parse([]string{"--from-argv=argv value"}); err != nil {
		t.Fatal(err)
	}
	ParseFlagSet(fs, "ZAP_")

	if *fromEnv != "env value" {
		t.Errorf("from-env = %q, want the environment value", *fromEnv)
	}
	// The command line wins over the environment.
	if *fromArgv != "argv value" {
		t.Errorf("from-argv = %q, want the command-line value", *fromArgv)
	}
	if *untouched != "default" {
		t.Errorf("untouched = %q, want the default", *untouched)
	}
}

func TestEnvName(t *testing.T) {
	for in, want := range map[string]string{
		"config":    "ZAP_CONFIG",
		"dbg-base":  "ZAP_DBG_BASE",
		"slcr-base": "ZAP_SLCR_BASE",
	} {
		if got := envName(in, "ZAP_"); got != want {
			t.Errorf("envName(%q) = %q, want %q", in, got, want)
		}
	}
}
