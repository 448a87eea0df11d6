// Package main is the entry point for the scorer CLI: batch scoring,
// rankings, distance precomputation, exports and seeding.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/onnwee/nestscout/internal/app"
	"github.com/onnwee/nestscout/internal/config"
	"github.com/onnwee/nestscout/internal/middleware"
)

// errUsage marks errors that already printed usage.
var errUsage = errors.New("usage error")

type command struct {
	name    string
	args    string
	summary string
	run     func(c *cli, args []string) error
}

var commands = []command{
	{"compute", "<profile_id>", "score every listing against a profile", runCompute},
	{"ranked", "<profile_id> [--limit 20]", "show listings ranked by stored score", runRanked},
	{"recalc", "[--yes]", "recompute scores for all profiles", runRecalc},
	{"nearby", "--lat --lng [--radius 1000] [--category id]", "find POIs around a point", runNearby},
	{"distances", "[--radius 2000]", "precompute listing to POI distances", runDistances},
	{"export", "<profile_id>", "upload a ranking snapshot to R2", runExport},
	{"seed", "", "load the --seed file into the configured database", runSeed},
}

// cli carries global options and lazily opens the scoring stack.
type cli struct {
	ctx      context.Context
	cfg      *config.Config
	seedPath string
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
	app      *app.App
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("scorer", flag.ContinueOnError)
	fs.SetOutput(stderr)
	help := fs.Bool("help", false, "display help message")
	configPath := fs.String("config", "", "path to a YAML config file")
	seedPath := fs.String("seed", "", "run in memory from a YAML seed file")
	fs.Usage = func() { usage(fs, stderr) }

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *help {
		usage(fs, stdout)
		return 0
	}
	if fs.NArg() == 0 {
		usage(fs, stderr)
		return 2
	}

	name := fs.Arg(0)
	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		usage(fs, stderr)
		return 2
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(stderr, "config error: %v\n", err)
		}
		return 1
	}

	c := &cli{
		ctx:      ctx,
		cfg:      cfg,
		seedPath: *seedPath,
		stdin:    stdin,
		stdout:   stdout,
		stderr:   stderr,
	}
	defer c.close()

	if err := cmd.run(c, fs.Args()[1:]); err != nil {
		if errors.Is(err, errUsage) {
			return 2
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func usage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintln(w, "Nestscout Scorer")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: scorer [options] <command> [arguments]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s %-45s %s\n", c.name, c.args, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fs.SetOutput(w)
	fs.PrintDefaults()
}

// open builds the scoring stack on first use. Logs go to stderr so tables
// on stdout stay clean.
func (c *cli) open() (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	a, err := app.New(c.ctx, app.Options{
		Config:   c.cfg,
		SeedPath: c.seedPath,
		Logger:   middleware.NewLoggerTo(c.cfg.Env, c.stderr),
	})
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

func (c *cli) close() {
	if c.app != nil {
		_ = c.app.Close()
	}
}
