package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"fieldsync/internal/api"
	"fieldsync/internal/collector"
	"fieldsync/internal/config"
	"fieldsync/internal/logging"
	"fieldsync/internal/notifications"
	"fieldsync/internal/queue"
	"fieldsync/internal/syncer"
	"fieldsync/internal/trigger"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var local bool
	var verbose bool
	var formatFlag string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one flush pass now and print what happened to each report",
		Long: "Sync asks the running daemon for a pass and waits for it to settle. Without a\n" +
			"daemon (or with --local) the pass runs in this process under the manual trigger.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(formatFlag)
			if err != nil {
				return err
			}

			if !local {
				client, err := ctx.apiClient()
				if err != nil {
					return err
				}
				summary, err := client.Sync(cmd.Context())
				if !errors.Is(err, api.ErrDaemonUnavailable) {
					if summary.PassID != "" {
						if printErr := printPassSummary(cmd, format, summary); printErr != nil {
							return printErr
						}
					}
					return err
				}
			}

			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				level := "warn"
				if verbose {
					level = "info"
				}
				logger, err := cliLogger(cfg, level)
				if err != nil {
					return err
				}
				result, passErr := runLocalPass(cmd, cfg, store, logger)
				if err := printPassSummary(cmd, format, api.FromResult(result, passErr)); err != nil {
					return err
				}
				return passErr
			})
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "Run the pass in this process even if a daemon is running")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log pass progress to stderr")
	addFormatFlag(cmd, &formatFlag)
	return cmd
}

func runLocalPass(cmd *cobra.Command, cfg *config.Config, store *queue.Store, logger *slog.Logger) (syncer.Result, error) {
	engine := syncer.NewEngine(store, collector.New(cfg), syncer.Options{
		DeadLetterRejected: cfg.Sync.DeadLetterRejected,
		Logger:             logger,
	})
	dispatcher := trigger.NewDispatcher(engine, trigger.WithLogger(logger))
	notifier := notifications.NewObserver(notifications.NewService(cfg), logger)
	dispatcher.Observe(notifier)
	defer notifier.Wait()

	return dispatcher.Fire(cmd.Context(), trigger.Manual)
}

func cliLogger(cfg *config.Config, level string) (*slog.Logger, error) {
	return logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
}

func printPassSummary(cmd *cobra.Command, format outputFormat, summary api.PassSummary) error {
	if format != formatTable {
		return writeStructured(cmd, format, summary)
	}
	out := cmd.OutOrStdout()

	trig := displayLabel(summary.Trigger)
	if trig == "" {
		trig = "-"
	}
	fmt.Fprintf(out, "Pass %s (%s) handled %d of %d report(s) in %dms\n",
		shortID(summary.PassID), trig, processedCount(summary), summary.Snapshot, summary.DurationMS)

	rows := [][]string{
		partitionRow("delivered", summary.Delivered),
		partitionRow("pending", summary.Pending),
		partitionRow("dead_lettered", summary.DeadLettered),
	}
	if len(summary.Skipped) > 0 {
		rows = append(rows, partitionRow("skipped", summary.Skipped))
	}
	fmt.Fprint(out, renderTable(
		[]string{"Outcome", "Count", "Reports"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft},
	))

	if len(summary.Failures) > 0 {
		failureRows := make([][]string, 0, len(summary.Failures))
		for _, f := range summary.Failures {
			status := "-"
			if f.StatusCode > 0 {
				status = strconv.Itoa(f.StatusCode)
			}
			failureRows = append(failureRows, []string{strconv.FormatInt(f.ReportID, 10), status, f.Error})
		}
		fmt.Fprint(out, renderTable(
			[]string{"Report", "Status", "Error"},
			failureRows,
			[]columnAlignment{alignRight, alignRight, alignLeft},
		))
	}
	if summary.Unreachable {
		fmt.Fprintln(out, "Collector unreachable; remaining reports stay queued.")
	}
	if summary.Error != "" {
		fmt.Fprintf(out, "Pass aborted: %s\n", summary.Error)
	}
	return nil
}

func partitionRow(name string, ids []int64) []string {
	return []string{displayLabel(name), strconv.Itoa(len(ids)), joinIDs(ids)}
}

func processedCount(summary api.PassSummary) int {
	return len(summary.Delivered) + len(summary.Pending) + len(summary.DeadLettered) + len(summary.Skipped)
}

func joinIDs(ids []int64) string {
	if len(ids) == 0 {
		return "-"
	}
	const limit = 12
	parts := make([]string, 0, min(len(ids), limit)+1)
	for i, id := range ids {
		if i == limit {
			parts = append(parts, fmt.Sprintf("+%d more", len(ids)-limit))
			break
		}
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ", ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
