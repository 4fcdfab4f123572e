package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"fieldsync/internal/api"
	"fieldsync/internal/collector"
	"fieldsync/internal/config"
	"fieldsync/internal/queue"
	"fieldsync/internal/submit"
)

// maxPayloadBytes matches the daemon API's request body limit.
const maxPayloadBytes = 1 << 20

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var local bool
	var formatFlag string

	cmd := &cobra.Command{
		Use:   "submit [file|-]",
		Short: "Send a report now, queueing it if the collector is unreachable",
		Long: "Submit hands the report to the running daemon when one answers on the API address,\n" +
			"otherwise it sends directly. Reports that cannot be delivered are queued for the next sync.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(formatFlag)
			if err != nil {
				return err
			}
			payload, err := readPayload(cmd, args)
			if err != nil {
				return err
			}

			if !local {
				client, err := ctx.apiClient()
				if err != nil {
					return err
				}
				resp, err := client.Submit(cmd.Context(), payload)
				switch {
				case err == nil:
					return printSubmitResponse(cmd, format, resp)
				case !errors.Is(err, api.ErrDaemonUnavailable):
					return err
				}
			}

			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				submitter := submit.New(store, collector.New(cfg), submit.Options{
					DeadLetterRejected: cfg.Sync.DeadLetterRejected,
				})
				receipt, err := submitter.Submit(cmd.Context(), payload)
				if err != nil {
					return err
				}
				return printSubmitResponse(cmd, format, api.FromReceipt(receipt))
			})
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "Skip the daemon and submit from this process")
	addFormatFlag(cmd, &formatFlag)
	return cmd
}

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var formatFlag string

	cmd := &cobra.Command{
		Use:   "enqueue [file|-]",
		Short: "Persist a report for the next sync without sending it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(formatFlag)
			if err != nil {
				return err
			}
			payload, err := readPayload(cmd, args)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				report, err := store.Enqueue(cmd.Context(), payload)
				if err != nil {
					return err
				}
				if format != formatTable {
					return writeStructured(cmd, format, api.FromReport(report, false))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued report %d (key %s)\n", report.ID, report.Key)
				return nil
			})
		},
	}

	addFormatFlag(cmd, &formatFlag)
	return cmd
}

// readPayload reads the report document from the named file, or stdin when
// the argument is absent or "-".
func readPayload(cmd *cobra.Command, args []string) (json.RawMessage, error) {
	var reader io.Reader = cmd.InOrStdin()
	source := "stdin"
	if len(args) == 1 && strings.TrimSpace(args[0]) != "-" {
		path, err := config.ExpandPath(strings.TrimSpace(args[0]))
		if err != nil {
			return nil, err
		}
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open report: %w", err)
		}
		defer file.Close()
		reader = file
		source = path
	}

	data, err := io.ReadAll(io.LimitReader(reader, maxPayloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read report from %s: %w", source, err)
	}
	if len(data) > maxPayloadBytes {
		return nil, fmt.Errorf("report from %s exceeds %d bytes", source, maxPayloadBytes)
	}
	if err := queue.ValidatePayload(data); err != nil {
		return nil, fmt.Errorf("report from %s: %w", source, err)
	}
	return json.RawMessage(data), nil
}

func printSubmitResponse(cmd *cobra.Command, format outputFormat, resp api.SubmitResponse) error {
	if format != formatTable {
		return writeStructured(cmd, format, resp)
	}
	out := cmd.OutOrStdout()
	switch submit.Outcome(resp.Outcome) {
	case submit.OutcomeDelivered:
		fmt.Fprintf(out, "Report delivered (key %s)\n", resp.Key)
	case submit.OutcomeQueued:
		fmt.Fprintf(out, "Report queued as %d (key %s)\n", resp.ReportID, resp.Key)
		if resp.Reason != "" {
			fmt.Fprintf(out, "Reason: %s\n", resp.Reason)
		}
	default:
		fmt.Fprintf(out, "Report %s (key %s)\n", resp.Outcome, resp.Key)
	}
	return nil
}
