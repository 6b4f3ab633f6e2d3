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

	"github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/config"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "rr-filterd"
)

const usage = `usage: rr-filterd [-format yaml|json] <command> [args]

commands:
  compile <in> <out>   compile a filter list into a JSON ruleset
  validate <file>      validate a JSON ruleset
  dedupe <in> <out>    trim, dedupe and sort a filter list
  activate <file>      validate a JSON ruleset and install it as the bulk rules
  disable [site ...]   replace the list of sites the filter is off for
  allow <domain>       exempt a domain from automatic blocking
  revoke <domain>      lift an allow
  status               summarize rules and tracking state
  serve                observe JSON-lines requests from stdin`

var errUsage = errors.New("usage")

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Configure global logging
	if err := log.Configure(cfg.Env, cfg.Log.Level); err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "shutdown_signal_received")
		cancel()
	}()

	err = run(ctx, cfg, os.Args[1:], os.Stdin, os.Stdout)
	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	default:
		log.Error(map[string]any{"error": err}, "command_failed")
		os.Exit(1)
	}
}

// run dispatches one command. Summaries go to stdout.
func run(ctx context.Context, cfg *config.AppConfig, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	format := fs.String("format", formatYAML, "summary format: yaml or json")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if *format != formatYAML && *format != formatJSON {
		return fmt.Errorf("%w: unknown format %q", errUsage, *format)
	}
	if fs.NArg() == 0 {
		return errUsage
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	app, err := newApplication(cfg, log.GetLogger())
	if err != nil {
		return err
	}
	out := summaryWriter{w: stdout, format: *format}

	log.Debug(map[string]any{"version": version, "command": cmd}, "command_started")

	switch cmd {
	case "compile":
		if len(rest) != 2 {
			return errUsage
		}
		return app.compileFile(ctx, rest[0], rest[1], out)
	case "validate":
		if len(rest) != 1 {
			return errUsage
		}
		return app.validateFile(ctx, rest[0], out)
	case "dedupe":
		if len(rest) != 2 {
			return errUsage
		}
		return dedupeFile(rest[0], rest[1], out)
	}

	// The remaining commands work on the persistent stores.
	var stateful func() error
	switch cmd {
	case "activate":
		if len(rest) != 1 {
			return errUsage
		}
		stateful = func() error { return app.activateFile(ctx, rest[0], out) }
	case "disable":
		stateful = func() error { return app.disable(ctx, rest, out) }
	case "allow", "revoke":
		if len(rest) != 1 {
			return errUsage
		}
		stateful = func() error { return app.setAllowed(ctx, rest[0], cmd == "allow", out) }
	case "status":
		if len(rest) != 0 {
			return errUsage
		}
		stateful = func() error { return app.status(ctx, out) }
	case "serve":
		if len(rest) != 0 {
			return errUsage
		}
		stateful = func() error { return app.Serve(ctx, stdin) }
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}

	if err := app.open(); err != nil {
		return fmt.Errorf("failed to open stores: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			app.logger.Warn(map[string]any{"error": err}, "close_failed")
		}
	}()
	return stateful()
}
