package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"reelsmith/internal/ledger"
)

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and edit the rejected clip ledger",
	}
	ledgerCmd.AddCommand(newLedgerListCommand(ctx))
	ledgerCmd.AddCommand(newLedgerAddCommand(ctx))
	ledgerCmd.AddCommand(newLedgerRemoveCommand(ctx))
	return ledgerCmd
}

func (c *commandContext) withLedger(fn func(*ledger.Ledger) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	led, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer led.Close()
	return fn(led)
}

func newLedgerListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rejected clips, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(led *ledger.Ledger) error {
				entries, err := led.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, entries)
				}
				total, err := led.Count(cmd.Context())
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Ledger is empty")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{
						e.ExternalID,
						e.Reason,
						strconv.FormatFloat(e.Confidence, 'f', 2, 64),
						e.FirstSeen.Local().Format("2006-01-02 15:04"),
					})
				}
				title := fmt.Sprintf("%d of %d rejections", len(entries), total)
				fmt.Fprint(cmd.OutOrStdout(), renderTable(title, []string{"Clip", "Reason", "Confidence", "First seen"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of entries (0 for all)")
	return cmd
}

func newLedgerAddCommand(ctx *commandContext) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "add <clip-id>",
		Short: "Reject a clip so it is never selected again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(led *ledger.Ledger) error {
				inserted, err := led.Record(cmd.Context(), ledger.Entry{
					ExternalID: args[0],
					Reason:     strings.TrimSpace(reason),
					Confidence: 1,
					Metadata:   map[string]string{"source": "manual"},
				})
				if err != nil {
					return err
				}
				if inserted {
					fmt.Fprintf(cmd.OutOrStdout(), "Rejected %s\n", args[0])
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s was already rejected\n", args[0])
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual", "Reason recorded with the rejection")
	return cmd
}

func newLedgerRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <clip-id>",
		Short: "Allow a previously rejected clip again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(led *ledger.Ledger) error {
				removed, err := led.Delete(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("clip %s is not in the ledger", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from the ledger\n", args[0])
				return nil
			})
		},
	}
}
