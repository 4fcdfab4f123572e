package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"fieldsync/internal/api"
	"fieldsync/internal/config"
	"fieldsync/internal/queue"
)

func newDeadLetterCommand(ctx *commandContext) *cobra.Command {
	dlCmd := &cobra.Command{
		Use:     "deadletters",
		Aliases: []string{"dead-letters", "dl"},
		Short:   "Inspect reports the collector permanently rejected",
	}

	dlCmd.AddCommand(newDeadLetterListCommand(ctx))
	dlCmd.AddCommand(newDeadLetterRequeueCommand(ctx))
	dlCmd.AddCommand(newDeadLetterPurgeCommand(ctx))

	return dlCmd
}

func newDeadLetterListCommand(ctx *commandContext) *cobra.Command {
	var formatFlag string
	var withPayload bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(formatFlag)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				letters, err := store.ListDeadLetters(cmd.Context())
				if err != nil {
					return err
				}
				if format != formatTable {
					return writeStructured(cmd, format, api.DeadLetterListResponse{
						DeadLetters: api.FromDeadLetters(letters, withPayload),
					})
				}
				if len(letters) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No dead letters")
					return nil
				}
				rows := make([][]string, 0, len(letters))
				for _, letter := range letters {
					status := "-"
					if letter.StatusCode > 0 {
						status = strconv.Itoa(letter.StatusCode)
					}
					rows = append(rows, []string{
						strconv.FormatInt(letter.ID, 10),
						strconv.FormatInt(letter.ReportID, 10),
						status,
						letter.FailedAt.Local().Format("2006-01-02 15:04:05"),
						letter.Reason,
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Report", "Status", "Failed", "Reason"},
					rows,
					[]columnAlignment{alignRight, alignRight, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	addFormatFlag(cmd, &formatFlag)
	cmd.Flags().BoolVar(&withPayload, "payload", false, "Include report payloads in json/yaml output")
	return cmd
}

func newDeadLetterRequeueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <id> [id...]",
		Short: "Put dead letters back on the pending queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				out := cmd.OutOrStdout()
				var missing int
				for _, id := range ids {
					report, err := store.RequeueDeadLetter(cmd.Context(), id)
					if errors.Is(err, queue.ErrNotFound) {
						fmt.Fprintf(out, "Dead letter %d not found\n", id)
						missing++
						continue
					}
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Dead letter %d requeued as report %d\n", id, report.ID)
				}
				if missing > 0 {
					return fmt.Errorf("%d dead letter(s) not found", missing)
				}
				return nil
			})
		},
	}
}

func newDeadLetterPurgeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete every dead letter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				removed, err := store.PurgeDeadLetters(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d dead letter(s)\n", removed)
				return nil
			})
		},
	}
}
