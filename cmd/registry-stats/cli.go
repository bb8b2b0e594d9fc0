package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sternrassler/registry-stats/pkg/config"
	"github.com/Sternrassler/registry-stats/pkg/logging"
	"github.com/Sternrassler/registry-stats/pkg/refresh"
	"github.com/Sternrassler/registry-stats/pkg/registry"
	"github.com/Sternrassler/registry-stats/pkg/server"
	"github.com/rs/zerolog"
)

const usage = `Usage: registry-stats <package> [options]
       registry-stats <command> [args]

Options:
  --registry, -r  Registry to query (npm, pypi, nuget, vscode, docker, ghcr)
                  Omit to query every configured registry
  --range         Date range for time series (e.g. 2025-01-01:2025-06-30)
                  Only npm and pypi support this
  --json          Output raw JSON
  --help, -h      Show this help

Commands:
  compare <package> [--registries a,b]   Compare a package across registries
  mine <owner> [-r npm]                   Discover and rank an owner's packages
  serve [--addr :3000]                    Start the HTTP API
  init [--dir .] [--force]                Write a starter config file

Examples:
  registry-stats express
  registry-stats express -r npm
  registry-stats requests -r pypi --range 2025-01-01:2025-06-30
  registry-stats esbenp.prettier-vscode -r vscode
  registry-stats library/node -r docker
  registry-stats Newtonsoft.Json -r nuget --json
  registry-stats mine sindresorhus
`

// exitUsage is returned for invalid arguments.
const exitUsage = 2

var errUsage = errors.New("invalid arguments")

type buildFunc func(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error)

type cli struct {
	stdout io.Writer
	stderr io.Writer
	getwd  func() (string, error)
	build  buildFunc
	logger zerolog.Logger
}

func newCLI(stdout, stderr io.Writer) *cli {
	return &cli{
		stdout: stdout,
		stderr: stderr,
		getwd:  os.Getwd,
		build:  newApp,
		logger: zerolog.Nop(),
	}
}

func (c *cli) run(ctx context.Context, args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(c.stdout, usage)
		return 0
	}

	var err error
	switch args[0] {
	case "init":
		err = c.runInit(args[1:])
	case "compare":
		err = c.withApp(ctx, func(a *app) error { return c.runCompare(ctx, a, args[1:]) })
	case "mine":
		err = c.withApp(ctx, func(a *app) error { return c.runMine(ctx, a, args[1:]) })
	case "serve":
		err = c.withApp(ctx, func(a *app) error { return c.runServe(ctx, a, args[1:]) })
	default:
		err = c.withApp(ctx, func(a *app) error { return c.runQuery(ctx, a, args) })
	}

	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintf(c.stderr, "Error: %v\n\n%s", err, usage)
		return exitUsage
	default:
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
}

// withApp loads the config, sets up logging and builds the app for fn.
func (c *cli) withApp(ctx context.Context, fn func(*app) error) error {
	wd, err := c.getwd()
	if err != nil {
		return err
	}
	cfg, path, err := config.Load(wd)
	if err != nil {
		return err
	}

	root := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: c.stderr,
	})
	c.logger = root.With().Str("component", logging.ComponentCLI).Logger()
	if path != "" {
		c.logger.Debug().Str("path", path).Msg("Loaded config")
	}

	a, err := c.build(ctx, cfg, root)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

func (c *cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

// parseArgs parses flags placed before, between or after positionals.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", errUsage, err)
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

func (c *cli) runQuery(ctx context.Context, a *app, args []string) error {
	fs := c.flags("registry-stats")
	var source, span string
	var asJSON bool
	fs.StringVar(&source, "registry", "", "registry to query")
	fs.StringVar(&source, "r", "", "registry to query (shorthand)")
	fs.StringVar(&span, "range", "", "date range start:end")
	fs.BoolVar(&asJSON, "json", false, "output raw JSON")

	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return fmt.Errorf("%w: expected one package, got %d", errUsage, len(positional))
	}
	pkg := positional[0]

	switch {
	case span != "":
		if source == "" {
			source = "npm"
		}
		start, end, ok := strings.Cut(span, ":")
		if !ok || start == "" || end == "" {
			return fmt.Errorf("%w: --range must be start:end (e.g. 2025-01-01:2025-06-30)", errUsage)
		}
		series, err := a.agg.Range(ctx, source, pkg, start, end, a.opts)
		if err != nil {
			return err
		}
		if asJSON {
			return c.writeJSON(series)
		}
		printRange(c.stdout, pkg, source, start, end, series)

	case source != "":
		record, err := a.agg.Stats(ctx, source, pkg, a.opts)
		if err != nil {
			return err
		}
		if record == nil {
			return fmt.Errorf("package %q not found on %s", pkg, source)
		}
		if asJSON {
			return c.writeJSON(record)
		}
		fmt.Fprintln(c.stdout)
		printRecord(c.stdout, record)

	default:
		opts := a.opts
		opts.OnError = c.reportSourceError
		records := a.agg.All(ctx, pkg, opts)
		if len(records) == 0 {
			return fmt.Errorf("package %q not found on any registry", pkg)
		}
		if asJSON {
			return c.writeJSON(records)
		}
		fmt.Fprintln(c.stdout)
		for _, record := range records {
			printRecord(c.stdout, record)
			fmt.Fprintln(c.stdout)
		}
	}
	return nil
}

func (c *cli) runCompare(ctx context.Context, a *app, args []string) error {
	fs := c.flags("compare")
	var sources string
	var asJSON bool
	fs.StringVar(&sources, "registries", "", "comma-separated registries to compare")
	fs.BoolVar(&asJSON, "json", false, "output raw JSON")

	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return fmt.Errorf("%w: compare expects one package", errUsage)
	}
	pkg := positional[0]

	var list []string
	for _, s := range strings.Split(sources, ",") {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}
	if len(list) == 0 {
		list = a.agg.Sources()
	}

	opts := a.opts
	opts.OnError = c.reportSourceError
	results := a.agg.Compare(ctx, pkg, list, opts)
	if asJSON {
		return c.writeJSON(results)
	}
	printCompare(c.stdout, pkg, list, results)
	return nil
}

func (c *cli) runMine(ctx context.Context, a *app, args []string) error {
	fs := c.flags("mine")
	var source string
	var asJSON bool
	fs.StringVar(&source, "registry", "npm", "registry to search")
	fs.StringVar(&source, "r", "npm", "registry to search (shorthand)")
	fs.BoolVar(&asJSON, "json", false, "output raw JSON")

	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return fmt.Errorf("%w: mine expects one owner", errUsage)
	}
	owner := positional[0]

	opts := a.opts
	opts.OnError = func(_, subject string, err error) {
		fmt.Fprintf(c.stderr, "  skipped %s: %v\n", subject, err)
	}
	if !asJSON {
		opts.Progress = func(done, total int, _ string) {
			fmt.Fprintf(c.stderr, "\r  fetched %d/%d", done, total)
			if done == total {
				fmt.Fprintln(c.stderr)
			}
		}
	}

	records, err := a.agg.Mine(ctx, source, owner, opts)
	if err != nil {
		return err
	}
	if asJSON {
		return c.writeJSON(records)
	}
	printMine(c.stdout, owner, source, records)
	return nil
}

func (c *cli) runServe(ctx context.Context, a *app, args []string) error {
	fs := c.flags("serve")
	addr := fs.String("addr", a.cfg.Server.Addr, "listen address")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	var snapshots server.SnapshotSource
	if a.cfg.Refresh.Schedule != "" {
		targets := make(map[string][]string)
		for _, source := range a.cfg.Registries {
			if subjects := a.cfg.Subjects(source); len(subjects) > 0 {
				targets[source] = subjects
			}
		}
		refresherLogger := c.logger.With().Str("component", logging.ComponentRefresh).Logger()
		refresher, err := refresh.New(refresh.Config{
			Aggregator: a.agg,
			Targets:    targets,
			Schedule:   a.cfg.Refresh.Schedule,
			Options:    a.opts,
			Logger:     &refresherLogger,
		})
		if err != nil {
			return err
		}
		if err := refresher.Start(ctx); err != nil {
			return err
		}
		defer refresher.Stop()
		go func() {
			if _, err := refresher.RunOnce(ctx); err != nil {
				refresherLogger.Warn().Err(err).Msg("Initial refresh failed")
			}
		}()
		snapshots = refresher
	}

	serverLogger := c.logger.With().Str("component", logging.ComponentServer).Logger()
	srv, err := server.New(server.Config{
		Addr:       *addr,
		Aggregator: a.agg,
		Options:    a.opts,
		Tracker:    a.tracker,
		Snapshots:  snapshots,
		CORSOrigin: a.cfg.Server.CORSOrigin,
		Logger:     &serverLogger,
	})
	if err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	serverLogger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (c *cli) runInit(args []string) error {
	fs := c.flags("init")
	dir := fs.String("dir", ".", "directory to write the config file to")
	force := fs.Bool("force", false, "overwrite an existing file")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	path := filepath.Join(*dir, config.FileNames[0])
	if _, err := os.Stat(path); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, []byte(config.Starter()), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Fprintf(c.stdout, "Created %s\n", path)
	return nil
}

func (c *cli) reportSourceError(source, _ string, err error) {
	if errors.Is(err, registry.ErrUnknownSource) {
		fmt.Fprintf(c.stderr, "  %s: unknown registry\n", source)
		return
	}
	c.logger.Debug().Err(err).Str("source", source).Msg("Source skipped")
}

func (c *cli) writeJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
