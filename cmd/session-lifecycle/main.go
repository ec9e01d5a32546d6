// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package main is the session lifecycle CLI. Each subcommand runs one batch
// over the tutoring platform's sessions, meeting rooms, attendance and
// subscriptions, prints its summary as JSON and exits with the summary status.
// The ingest subcommand instead runs the attendance telemetry consumer.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/pkg/utils"
)

const (
	drainTimeout    = 10 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	os.Exit(int(run(os.Args[1:], os.Stdout, os.Stderr)))
}

// globalFlags are the flags accepted before the subcommand name.
type globalFlags struct {
	ConfigPath string
	Debug      bool
}

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, "usage: session-lifecycle [-config file] [-d] <command> [flags]\n\ncommands:\n")
	for _, cmd := range commands() {
		fmt.Fprintf(w, "  %-22s %s\n", cmd.name, cmd.help)
	}
	if fs == nil {
		return
	}
	fmt.Fprintf(w, "\nglobal flags:\n")
	fs.SetOutput(w)
	fs.PrintDefaults()
}

// parseGlobalFlags parses the flags preceding the subcommand.
func parseGlobalFlags(args []string, stderr io.Writer) (globalFlags, []string, error) {
	var g globalFlags
	fs := flag.NewFlagSet("session-lifecycle", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&g.ConfigPath, "config", os.Getenv("SESSION_LIFECYCLE_CONFIG"), "optional YAML configuration file")
	fs.BoolVar(&g.Debug, "d", false, "enable debug logging")

	if err := fs.Parse(args); err != nil || fs.NArg() == 0 {
		usage(stderr, fs)
		return g, nil, errUsage
	}
	return g, fs.Args(), nil
}

// parseCommand parses the subcommand flags and validates them.
func parseCommand(cmd command, args []string, stderr io.Writer) (models.BatchOptions, runner, error) {
	var opts models.BatchOptions
	fs := flag.NewFlagSet(cmd.name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	if cmd.batch {
		fs.BoolVar(&opts.DryRun, "dry-run", false, "compute and report effects without writing")
		fs.BoolVar(&opts.Force, "force", false, "re-run steps that already completed")
		fs.StringVar(&opts.TenantID, "tenant", "", "restrict the batch to one tenant")
		fs.BoolVar(&opts.Verbose, "verbose", false, "log every item")
	}
	validate, run := cmd.bind(fs)

	if err := fs.Parse(args); err != nil {
		return opts, nil, errUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		return opts, nil, errUsage
	}
	if err := validate(); err != nil {
		fmt.Fprintln(stderr, err)
		fs.Usage()
		return opts, nil, err
	}
	return opts, run, nil
}

func run(args []string, stdout, stderr io.Writer) models.ExitStatus {
	global, rest, err := parseGlobalFlags(args, stderr)
	if err != nil {
		return models.ExitFatal
	}

	// Based on the debug flag, set the log level environment variable used by [logging.InitStructureLogConfig]
	if global.Debug {
		if err := os.Setenv("LOG_LEVEL", "debug"); err != nil {
			fmt.Fprintf(stderr, "error setting log level: %v\n", err)
			return models.ExitFatal
		}
	}
	logging.InitStructureLogConfig()

	cmd, ok := lookupCommand(rest[0])
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", rest[0])
		usage(stderr, nil)
		return models.ExitFatal
	}
	opts, runCmd, err := parseCommand(cmd, rest[1:], stderr)
	if err != nil {
		return models.ExitFatal
	}
	logging.SetVerbose(opts.Verbose)

	cfg, err := loadConfig(global.ConfigPath)
	if err != nil {
		return printFatal(stdout, cmd.name, opts, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithOperation(ctx, cmd.name)

	otelShutdown, err := utils.SetupOTelSDK(ctx, cfg.LFX.Environment, cmd.name)
	if err != nil {
		slog.WarnContext(ctx, "OpenTelemetry disabled", logging.ErrKey, err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := otelShutdown(shutdownCtx); err != nil {
				slog.With(logging.ErrKey, err).Warn("error shutting down OpenTelemetry")
			}
		}()
	}

	a, err := newApp(ctx, cfg, cmd.req)
	if err != nil {
		slog.ErrorContext(ctx, "error setting up", logging.ErrKey, err)
		return printFatal(stdout, cmd.name, opts, err)
	}
	defer a.close()

	res, err := runCmd(ctx, a, opts)
	if err != nil {
		slog.ErrorContext(ctx, "command failed", logging.ErrKey, err)
		return printFatal(stdout, cmd.name, opts, err)
	}
	if res == nil {
		return models.ExitSuccess
	}

	if err := printResult(stdout, res); err != nil {
		slog.ErrorContext(ctx, "error writing summary", logging.ErrKey, err)
		return models.ExitFatal
	}
	pushMetrics(ctx, cfg.Metrics, a, cmd.name)
	return res.ExitStatus()
}

func printResult(w io.Writer, res result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// printFatal prints a summary for a run that failed before processing items.
func printFatal(w io.Writer, operation string, opts models.BatchOptions, err error) models.ExitStatus {
	now := time.Now()
	summary := models.NewBatchSummary(operation, opts, now)
	summary.Finish(now, err)
	if printErr := printResult(w, summary); printErr != nil {
		slog.With(logging.ErrKey, printErr).Error("error writing summary")
	}
	return summary.ExitStatus()
}

// pushMetrics pushes the batch metrics when a Pushgateway is configured.
// Failures never change the exit status.
func pushMetrics(ctx context.Context, cfg MetricsConfig, a *app, operation string) {
	if cfg.PushgatewayURL == "" || a.metrics == nil {
		return
	}
	err := push.New(cfg.PushgatewayURL, cfg.Job).
		Gatherer(a.metrics.Registry).
		Grouping("operation", operation).
		PushContext(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to push metrics", "url", cfg.PushgatewayURL, logging.ErrKey, err)
	}
}
