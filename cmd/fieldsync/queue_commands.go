package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"fieldsync/internal/api"
	"fieldsync/internal/config"
	"fieldsync/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage pending reports",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var formatFlag string
	var withPayload bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending reports in delivery order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(formatFlag)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				reports, err := store.ListAll(cmd.Context())
				if err != nil {
					return err
				}
				if format != formatTable {
					return writeStructured(cmd, format, api.ReportListResponse{
						Reports: api.FromReports(reports, withPayload),
					})
				}
				if len(reports) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Key", "Created", "Size"},
					buildReportRows(reports),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}

	addFormatFlag(cmd, &formatFlag)
	cmd.Flags().BoolVar(&withPayload, "payload", false, "Include report payloads in json/yaml output")
	return cmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	var formatFlag string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth and dead-letter count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(formatFlag)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				dto := api.FromStats(stats)
				if format != formatTable {
					return writeStructured(cmd, format, dto)
				}
				oldest := dto.OldestPending
				if oldest == "" {
					oldest = "-"
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Metric", "Value"},
					[][]string{
						{"Pending", strconv.Itoa(dto.Pending)},
						{"Dead letters", strconv.Itoa(dto.DeadLetters)},
						{"Oldest pending", oldest},
					},
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}

	addFormatFlag(cmd, &formatFlag)
	return cmd
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id> [id...]",
		Short: "Delete pending reports without delivering them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				out := cmd.OutOrStdout()
				var missing []string
				for _, id := range ids {
					removed, err := store.Remove(cmd.Context(), id)
					if err != nil {
						return err
					}
					if !removed {
						fmt.Fprintf(out, "Report %d not found\n", id)
						missing = append(missing, strconv.FormatInt(id, 10))
						continue
					}
					fmt.Fprintf(out, "Report %d removed\n", id)
				}
				if len(missing) > 0 {
					return fmt.Errorf("reports not found: %s", strings.Join(missing, ", "))
				}
				return nil
			})
		},
	}
}

func buildReportRows(reports []queue.Report) [][]string {
	rows := make([][]string, 0, len(reports))
	for _, report := range reports {
		rows = append(rows, []string{
			strconv.FormatInt(report.ID, 10),
			report.Key,
			report.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			formatBytes(len(report.Payload)),
		})
	}
	return rows
}

func parsePositiveIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid report id %q", arg)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("at least one id is required")
	}
	return ids, nil
}

func formatBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
