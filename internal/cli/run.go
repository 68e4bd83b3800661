package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/blastgcp/blastq/internal/batch"
	"github.com/blastgcp/blastq/internal/config"
	"github.com/blastgcp/blastq/internal/domain"
	"github.com/blastgcp/blastq/internal/fasta"
	"github.com/blastgcp/blastq/internal/logging"
	"github.com/blastgcp/blastq/internal/output"
	"github.com/blastgcp/blastq/internal/platform/gcp"
	"github.com/blastgcp/blastq/internal/platform/ncbiweb"
)

// ClientFactory builds the backend client from the loaded config. The
// returned address names the backend in user-facing messages.
type ClientFactory func(cfg *config.Config, opts Options, log *slog.Logger) (domain.JobClient, string, error)

// App describes one client program.
type App struct {
	Name      string
	AllowAMI  bool
	NewClient ClientFactory

	// Stdin replaces os.Stdin for the "-" query file when set.
	Stdin io.Reader
}

// BlastGCP submits to the BLAST-GCP gateway.
var BlastGCP = App{Name: "blast-gcp", NewClient: NewGCPClient}

// WebBlast submits to NCBI web BLAST, or to the AMI service with -ami.
var WebBlast = App{Name: "web-blast", AllowAMI: true, NewClient: NewWebClient}

// NewGCPClient builds a gateway client from [blast-gcp].
func NewGCPClient(cfg *config.Config, _ Options, log *slog.Logger) (domain.JobClient, string, error) {
	if err := cfg.RequireGCP(); err != nil {
		return nil, "", err
	}
	c, err := gcp.New(gcp.Options{
		Address: cfg.GCP.ServiceAddress,
		Program: cfg.GCP.Program,
		MaxWait: cfg.GCP.MaxWait,
		Logger:  log,
	})
	if err != nil {
		return nil, "", err
	}
	return c, c.String(), nil
}

// NewWebClient builds a QBLAST client from [web-blast], pointed at
// [blast-ami] when opts.AMI is set.
func NewWebClient(cfg *config.Config, opts Options, log *slog.Logger) (domain.JobClient, string, error) {
	base := cfg.Web.BaseURL
	if opts.AMI {
		if err := cfg.RequireAMI(); err != nil {
			return nil, "", err
		}
		base = cfg.Web.AMIAddress
	}
	c, err := ncbiweb.New(ncbiweb.Options{
		BaseURL:      base,
		Databases:    cfg.Web.Databases,
		PollInterval: cfg.Web.PollInterval,
		MaxWait:      cfg.Web.MaxWait,
		Tool:         cfg.Web.Tool,
		Email:        cfg.Web.Email,
		Logger:       log,
	})
	if err != nil {
		return nil, "", err
	}
	return c, c.String(), nil
}

// ExitInterrupted is the exit code of a run cut short by SIGINT or SIGTERM.
const ExitInterrupted = 130

// Main runs the program with the process arguments and standard streams
// under a context cancelled by SIGINT or SIGTERM, then exits.
func (a App) Main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := a.RunContext(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// RunContext runs the program and returns its exit code. Once ctx is
// cancelled the code is ExitInterrupted, whatever the run itself reported.
func (a App) RunContext(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	code := a.run(ctx, argv, stdout, stderr)
	if ctx.Err() != nil {
		return ExitInterrupted
	}
	return code
}

func (a App) run(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	fs := NewFlagSet(a.Name, stderr)
	opts, err := ParseArgs(fs, a.Name, a.AllowAMI, argv)
	if err != nil {
		switch {
		case errors.Is(err, flag.ErrHelp):
			return 0
		case errors.Is(err, ErrUsage):
			fmt.Fprintf(stderr, "%s: %v\n", a.Name, err)
		}
		// flag has already reported its own errors.
		return 1
	}
	if opts.Version {
		fmt.Fprintf(stdout, "%s %s\n", a.Name, Version)
		return 0
	}

	// 1. Logging
	log, closer, err := logging.New(opts.LogFile, opts.LogLevel, stderr)
	if err != nil {
		return a.fail(stderr, nil, err)
	}
	defer closer.Close()

	// 2. Config
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return a.fail(stderr, log, err)
	}

	// 3. Client
	client, addr, err := a.NewClient(cfg, opts, log)
	if err != nil {
		return a.fail(stderr, log, err)
	}

	// 4. Queries
	queries, err := a.readQueries(opts.QueryFile)
	if err != nil {
		return a.fail(stderr, log, err)
	}
	log.Info("Starting batch", "program", a.Name, "address", addr, "db", opts.Database, "queries", len(queries))

	// 5. Submit and wait
	b, runErr := batch.Run(ctx, client, opts.Database, queries, batch.Options{
		Parallel: opts.Parallel,
		Address:  addr,
		Logger:   log,
	})

	var unsupported *domain.UnsupportedTargetError
	if errors.As(runErr, &unsupported) {
		log.Error("Unsupported database", "db", opts.Database, "address", addr)
		fmt.Fprintln(stdout, unsupported.Error())
		return 1
	}

	// 6. Print what finished, even when a later wait failed.
	if err := output.WriteBatch(stdout, b); err != nil {
		return a.fail(stderr, log, fmt.Errorf("write results: %w", err))
	}
	if runErr != nil {
		return a.fail(stderr, log, runErr)
	}
	log.Info("Batch finished", "jobs", len(b))
	return 0
}

func (a App) readQueries(path string) ([]domain.Query, error) {
	if path == "-" && a.Stdin != nil {
		return fasta.Read(a.Stdin)
	}
	return fasta.ReadFile(path)
}

// fail reports err with its cause chain and returns exit code 1.
func (a App) fail(stderr io.Writer, log *slog.Logger, err error) int {
	if log != nil {
		log.Log(context.Background(), logging.LevelCritical, "Run failed", "error", err)
	}
	fmt.Fprintf(stderr, "%s: %v\n", a.Name, err)
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		fmt.Fprintf(stderr, "  caused by: %v\n", cause)
	}
	return 1
}
