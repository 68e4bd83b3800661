// Package cli is the command-line front end shared by blast-gcp and web-blast.
package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/blastgcp/blastq/internal/config"
)

// Version is printed by -V.
const Version = "0.1"

// ErrUsage marks command-line mistakes not reported by the flag package.
var ErrUsage = errors.New("usage")

// Options holds the parsed command line.
type Options struct {
	QueryFile  string
	Database   string
	ConfigPath string
	LogFile    string
	LogLevel   string
	Parallel   int
	AMI        bool
	Version    bool
}

// NewFlagSet returns a clean FlagSet with ContinueOnError.
func NewFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// ParseArgs parses args for program. Flags may come before or after the
// query file. -ami is only registered when allowAMI is set.
func ParseArgs(fs *flag.FlagSet, program string, allowAMI bool, args []string) (Options, error) {
	opts := Options{}
	fs.StringVar(&opts.Database, "db", "nt", "database to search")
	fs.StringVar(&opts.ConfigPath, "cfg", config.DefaultPath, "configuration file")
	fs.StringVar(&opts.LogFile, "logfile", program+".log", `log file, or "stderr"`)
	fs.StringVar(&opts.LogLevel, "loglevel", "INFO", "DEBUG, INFO, WARNING, ERROR or CRITICAL")
	fs.IntVar(&opts.Parallel, "parallel", 1, "number of jobs waited on concurrently")
	fs.BoolVar(&opts.Version, "V", false, "print the version and exit")
	fs.BoolVar(&opts.Version, "version", false, "print the version and exit")
	if allowAMI {
		fs.BoolVar(&opts.AMI, "ami", false, "submit to the [blast-ami] service instead of NCBI")
	}

	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return opts, err
		}
		rest := fs.Args()
		if len(rest) == 0 {
			break
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}

	if opts.Version {
		return opts, nil
	}
	switch len(positional) {
	case 0:
		return opts, fmt.Errorf(`%w: missing query file (a FASTA path, or "-" for stdin)`, ErrUsage)
	case 1:
		opts.QueryFile = positional[0]
	default:
		return opts, fmt.Errorf("%w: expected exactly one query file", ErrUsage)
	}
	if opts.Parallel < 1 {
		return opts, fmt.Errorf("%w: -parallel must be at least 1", ErrUsage)
	}
	return opts, nil
}
