// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/infrastructure/postgres"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/service"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/pkg/utils"
)

// result is what a command prints before exiting with its status.
type result interface {
	ExitStatus() models.ExitStatus
}

// runner executes a command against the connected app.
type runner func(ctx context.Context, a *app, opts models.BatchOptions) (result, error)

// command is one subcommand of the CLI.
type command struct {
	name string
	help string
	req  requirements
	// batch registers the shared -dry-run, -force, -tenant and -verbose flags.
	batch bool
	// bind registers command specific flags. validate runs after parsing and
	// before any connection is opened.
	bind func(fs *flag.FlagSet) (validate func() error, run runner)
}

// migrationResult is printed by the migrate command.
type migrationResult struct {
	Operation string `json:"operation"`
	Version   int64  `json:"version"`
}

func (migrationResult) ExitStatus() models.ExitStatus { return models.ExitSuccess }

var errUsage = errors.New("usage error")

func noValidation() error { return nil }

// simple binds a command that takes no flags of its own.
func simple(run runner) func(fs *flag.FlagSet) (func() error, runner) {
	return func(*flag.FlagSet) (func() error, runner) {
		return noValidation, run
	}
}

// requiredSession registers -session and fails validation when it is unset.
func requiredSession(fs *flag.FlagSet) (*int64, func() error) {
	id := fs.Int64("session", 0, "session id (required)")
	return id, func() error {
		if *id <= 0 {
			return fmt.Errorf("%w: -session is required", errUsage)
		}
		return nil
	}
}

func commands() []command {
	return []command{
		{
			name: "migrate",
			help: "apply pending database migrations",
			req:  requirements{databaseOnly: true},
			bind: simple(func(ctx context.Context, a *app, _ models.BatchOptions) (result, error) {
				if err := postgres.Migrate(ctx, a.pool); err != nil {
					return nil, err
				}
				version, err := postgres.MigrationVersion(ctx, a.pool)
				if err != nil {
					return nil, err
				}
				return migrationResult{Operation: "migrate", Version: version}, nil
			}),
		},
		{
			name:  "sweep-statuses",
			help:  "advance sessions through the status state machine",
			batch: true,
			bind: simple(func(ctx context.Context, a *app, opts models.BatchOptions) (result, error) {
				return a.lifecycle.SweepStatuses(ctx, opts), nil
			}),
		},
		{
			name:  "sweep-meetings",
			help:  "create upcoming meeting rooms and end finished ones",
			req:   requirements{nats: true, rooms: true},
			batch: true,
			bind: simple(func(ctx context.Context, a *app, opts models.BatchOptions) (result, error) {
				return a.orchestrator.SweepMeetings(ctx, opts), nil
			}),
		},
		{
			name:  "reconcile-attendance",
			help:  "compute attendance records for finished sessions",
			batch: true,
			bind: func(fs *flag.FlagSet) (func() error, runner) {
				id := fs.Int64("session", 0, "reconcile only this session")
				return noValidation, func(ctx context.Context, a *app, opts models.BatchOptions) (result, error) {
					return a.attendance.ReconcileSweep(ctx, opts, *id), nil
				}
			},
		},
		{
			name:  "apply-ledger",
			help:  "count billable sessions against their subscriptions",
			batch: true,
			bind: simple(func(ctx context.Context, a *app, opts models.BatchOptions) (result, error) {
				return a.ledger.ApplySweep(ctx, opts), nil
			}),
		},
		{
			name:  "audit-ledger",
			help:  "check subscription counters against counted sessions",
			batch: true,
			bind: func(fs *flag.FlagSet) (func() error, runner) {
				fix := fs.Bool("fix", false, "recompute the counters of mismatched subscriptions")
				return noValidation, func(ctx context.Context, a *app, opts models.BatchOptions) (result, error) {
					return a.auditor.Audit(ctx, opts, *fix), nil
				}
			},
		},
		{
			name:  "grace-reminders",
			help:  "send grace period reminders",
			batch: true,
			bind: simple(func(ctx context.Context, a *app, opts models.BatchOptions) (result, error) {
				return a.grace.GraceReminderSweep(ctx, opts), nil
			}),
		},
		{
			name:  "expire-grace",
			help:  "expire subscriptions whose grace period has ended",
			batch: true,
			bind: simple(func(ctx context.Context, a *app, opts models.BatchOptions) (result, error) {
				return a.grace.ExpireGraceSweep(ctx, opts), nil
			}),
		},
		{
			name:  "extend-grace",
			help:  "move the grace boundary of one subscription",
			batch: true,
			bind:  bindExtendGrace,
		},
		{
			name:  "complete-session",
			help:  "complete an ongoing session by hand",
			batch: true,
			bind: func(fs *flag.FlagSet) (func() error, runner) {
				id, validate := requiredSession(fs)
				return validate, func(ctx context.Context, a *app, opts models.BatchOptions) (result, error) {
					return a.lifecycle.CompleteSession(ctx, *id, opts), nil
				}
			},
		},
		{
			name:  "cancel-session",
			help:  "cancel a session that has not finished",
			batch: true,
			bind: func(fs *flag.FlagSet) (func() error, runner) {
				id, validate := requiredSession(fs)
				reason := fs.String("reason", "", "cancellation reason")
				return validate, func(ctx context.Context, a *app, opts models.BatchOptions) (result, error) {
					return a.lifecycle.CancelSession(ctx, *id, *reason, opts), nil
				}
			},
		},
		{
			name:  "delete-session",
			help:  "soft delete one session",
			batch: true,
			bind: func(fs *flag.FlagSet) (func() error, runner) {
				id, validate := requiredSession(fs)
				return validate, func(ctx context.Context, a *app, opts models.BatchOptions) (result, error) {
					return a.retention.DeleteSession(ctx, *id, opts), nil
				}
			},
		},
		{
			name:  "purge-sessions",
			help:  "hard delete sessions soft deleted before the retention horizon",
			batch: true,
			bind: simple(func(ctx context.Context, a *app, opts models.BatchOptions) (result, error) {
				return a.retention.PurgeSweep(ctx, opts), nil
			}),
		},
		{
			name: "ingest",
			help: "consume attendance telemetry from NATS until stopped",
			req:  requirements{nats: true},
			bind: simple(func(ctx context.Context, a *app, _ models.BatchOptions) (result, error) {
				return nil, runIngest(ctx, a)
			}),
		},
	}
}

func bindExtendGrace(fs *flag.FlagSet) (func() error, runner) {
	subscriptionID := fs.Int64("subscription", 0, "subscription id (required)")
	until := fs.String("until", "", "new grace boundary, RFC3339 (required)")
	reason := fs.String("reason", "", "reason recorded in the extension log")
	actor := fs.String("actor", os.Getenv("USER"), "who requested the extension")

	var boundary time.Time
	validate := func() error {
		if *subscriptionID <= 0 {
			return fmt.Errorf("%w: -subscription is required", errUsage)
		}
		parsed, err := time.Parse(time.RFC3339, *until)
		if err != nil {
			return fmt.Errorf("%w: -until must be an RFC3339 timestamp: %v", errUsage, err)
		}
		boundary = parsed
		return nil
	}
	run := func(ctx context.Context, a *app, opts models.BatchOptions) (result, error) {
		return a.grace.ExtendGrace(ctx, service.ExtendRequest{
			SubscriptionID: *subscriptionID,
			Until:          boundary,
			Reason:         *reason,
			Actor:          utils.CoalesceString(*actor, "cli"),
		}, opts), nil
	}
	return validate, run
}

// lookupCommand returns the command registered under name.
func lookupCommand(name string) (command, bool) {
	for _, cmd := range commands() {
		if cmd.name == name {
			return cmd, true
		}
	}
	return command{}, false
}
