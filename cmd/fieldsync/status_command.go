package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fieldsync/internal/api"
	"fieldsync/internal/config"
	"fieldsync/internal/preflight"
	"fieldsync/internal/queue"
	"fieldsync/internal/trigger"
)

type statusReport struct {
	ConfigPath string               `json:"configPath"`
	Daemon     *api.DaemonStatus    `json:"daemon,omitempty"`
	DaemonErr  string               `json:"daemonError,omitempty"`
	Database   queue.DatabaseHealth `json:"database"`
	Checks     []preflight.Result   `json:"checks"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var formatFlag string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, database and collector health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(formatFlag)
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				report := gatherStatus(cmd.Context(), ctx, cfg, store)
				if format != formatTable {
					return writeStructured(cmd, format, report)
				}
				colorize := shouldColorize(cmd.OutOrStdout())
				for _, line := range renderStatus(report, colorize) {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				return nil
			})
		},
	}

	addFormatFlag(cmd, &formatFlag)
	return cmd
}

func gatherStatus(ctx context.Context, cmdCtx *commandContext, cfg *config.Config, store *queue.Store) statusReport {
	report := statusReport{ConfigPath: configSource(cmdCtx)}

	if client := api.NewClient(cfg); client != nil {
		statusCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		status, err := client.Status(statusCtx)
		cancel()
		switch {
		case err == nil:
			report.Daemon = &status
		case !errors.Is(err, api.ErrDaemonUnavailable):
			report.DaemonErr = err.Error()
		}
	}

	dbCheck, health := preflight.CheckDatabase(ctx, store)
	report.Database = health
	report.Checks = append([]preflight.Result{dbCheck}, preflight.RunAll(ctx, cfg)...)
	return report
}

func renderStatus(report statusReport, colorize bool) []string {
	var lines []string

	lines = append(lines, renderSectionHeader("Daemon", colorize)...)
	switch {
	case report.Daemon != nil && report.Daemon.Running:
		lines = append(lines, renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", report.Daemon.PID), colorize))
		lines = append(lines, daemonLines(*report.Daemon, colorize)...)
	case report.DaemonErr != "":
		lines = append(lines, renderStatusLine("Daemon", statusError, report.DaemonErr, colorize))
	default:
		lines = append(lines, renderStatusLine("Daemon", statusWarn, "Not running", colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Queue", colorize)...)
	db := report.Database
	pendingKind := statusInfo
	if db.PendingReports > 0 {
		pendingKind = statusWarn
	}
	lines = append(lines, renderStatusLine("Pending", pendingKind, fmt.Sprintf("%d report(s)", db.PendingReports), colorize))
	deadKind := statusInfo
	if db.DeadLetters > 0 {
		deadKind = statusWarn
	}
	lines = append(lines, renderStatusLine("Dead letters", deadKind, fmt.Sprintf("%d report(s)", db.DeadLetters), colorize))

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Checks", colorize)...)
	for _, check := range report.Checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
			if check.Name == "Collector" || check.Name == "ntfy" {
				kind = statusWarn
			}
		}
		lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
	return lines
}

func daemonLines(status api.DaemonStatus, colorize bool) []string {
	var lines []string
	conn := status.Connectivity
	if conn.Enabled {
		kind := statusInfo
		switch conn.State {
		case trigger.StateOnline:
			kind = statusOK
		case trigger.StateOffline:
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine("Connectivity", kind, displayLabel(conn.State), colorize))
	}
	if status.Schedule != "" {
		next := status.NextScheduled
		if next == "" {
			next = "not scheduled"
		}
		lines = append(lines, renderStatusLine("Schedule", statusInfo, fmt.Sprintf("%s (next %s)", status.Schedule, next), colorize))
	}
	if pass := status.LastPass; pass != nil {
		kind := statusOK
		message := fmt.Sprintf("%s: %d delivered, %d pending, %d dead-lettered",
			displayLabel(pass.Trigger), len(pass.Delivered), len(pass.Pending), len(pass.DeadLettered))
		switch {
		case pass.Error != "":
			kind = statusError
			message += " (aborted: " + pass.Error + ")"
		case len(pass.Pending) > 0 || len(pass.DeadLettered) > 0:
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine("Last pass", kind, message, colorize))
	}
	return lines
}
