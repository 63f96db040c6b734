// Package flagx lets several components share os.Args: each one picks out
// only the flags it owns before handing them to its own flag.FlagSet.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// FilterArgs returns the subset of args made of allowed flags and their
// values. Both "-f value" and "-f=value" forms are recognised; a token that
// starts with "-" is never taken as a value.
func FilterArgs(args []string, allowedFlags []string) []string {
	return filter(args, toSet(allowedFlags), nil)
}

// FilterArgsWithBools is FilterArgs for flag sets that also contain boolean
// flags. Boolean flags never consume the following token, so "-x tenant"
// keeps "tenant" out of the result.
func FilterArgsWithBools(args []string, allowedFlags, boolFlags []string) []string {
	bools := toSet(boolFlags)
	allowed := toSet(allowedFlags)
	for name := range bools {
		allowed[name] = struct{}{}
	}
	return filter(args, allowed, bools)
}

func filter(args []string, allowed, bools map[string]struct{}) []string {
	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name, _, _ := strings.Cut(arg, "=")
			if _, ok := allowed[name]; ok {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, ok := allowed[arg]; !ok {
			continue
		}
		filtered = append(filtered, arg)

		if _, isBool := bools[arg]; isBool {
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			filtered = append(filtered, args[i+1])
			i++
		}
	}

	return filtered
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// JsonConfigFlags returns the config file path given with -c or -config,
// or "" when neither is present. Other arguments are ignored.
func JsonConfigFlags() string {
	var config string

	args := FilterArgs(os.Args[1:], []string{"-c", "-config"})

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&config, "config", "", "Path to config file")
	fs.StringVar(&config, "c", "", "Path to config file (short)")
	_ = fs.Parse(args)

	return config
}
