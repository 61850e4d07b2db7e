package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"excisepos/backend/internal/app"
	"excisepos/backend/internal/domain"
)

var dateFlag string

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create ledger days of the current month for every stocked item",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			result, err := a.Service.EnsureCurrentMonthProvisioned(ctx, "")
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		})
	},
}

var rolloverCmd = &cobra.Command{
	Use:   "rollover",
	Short: "Archive ledger rows of past months",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			result, err := a.Service.RolloverIfNeeded(ctx, "")
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		})
	},
}

var stockCmd = &cobra.Command{
	Use:   "stock <item>",
	Short: "Show the stock of an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			stock, err := a.Service.CurrentStock(ctx, "", args[0], dateFlag)
			if err != nil {
				return err
			}
			return printJSON(cmd, stock)
		})
	},
}

var purchaseCmd = &cobra.Command{
	Use:   "purchase <item> <qty>",
	Short: "Post received stock to the ledger",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		qty, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || qty < 1 {
			return fmt.Errorf("quantity must be a positive integer, got %q", args[1])
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			row, err := a.Service.ApplyPurchase(ctx, domain.PurchaseRequest{ItemCode: args[0], Date: dateFlag, Quantity: qty})
			if err != nil {
				return err
			}
			return printJSON(cmd, row)
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{stockCmd, purchaseCmd} {
		cmd.Flags().StringVar(&dateFlag, "date", "", "Ledger day as YYYY-MM-DD (default today)")
	}
	rootCmd.AddCommand(provisionCmd, rolloverCmd, stockCmd, purchaseCmd)
}
