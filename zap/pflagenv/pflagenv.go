// Package pflagenv fills in flags that were not given on the command line
// from the environment. This is how the watchdog init script configures the
// tool without a wrapper generating argv.
package pflagenv

import (
	"os"
	"strings"

	flag "github.com/spf13/pflag"
)

// ParseFlagSet sets every flag in fs that was not set on the command line
// from the environment variable prefix + NAME, where NAME is the flag name
// uppercased with dashes turned into underscores. Call after fs.Parse.
func ParseFlagSet(fs *flag.FlagSet, prefix string) {
	// The flag package cannot tell a flag left at its default from one
	// explicitly set to it, so collect all names and knock out the ones
	// Visit reports as set.
	unset := make(map[string]*flag.Flag)
	fs.VisitAll(func(f *flag.Flag) {
		unset[f.Name] = f
	})
	fs.Visit(func(f *flag.Flag) {
		delete(unset, f.Name)
	})

	for name, f := range unset {
		if v := os.Getenv(envName(name, prefix)); v != "" {
			f.Value.Set(v)
			f.Changed = true
		}
	}
}

// Parse is ParseFlagSet on the default command-line flag set.
func Parse(prefix string) {
	ParseFlagSet(flag.CommandLine, prefix)
}

func envName(flagName, prefix string) string {
	return prefix + strings.Replace(strings.ToUpper(flagName), "-", "_", -1)
}
