package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"newsrank/internal/services"

	"github.com/spf13/cobra"
)

// printJSON 维护命令的结果输出到 stdout
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Recompute the score of every live item once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			// 奖励积分走异步队列，Close 时排空
			if err := a.engine.Start(""); err != nil {
				return err
			}
			report, err := a.engine.Sweep(ctx)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			return printJSON(report)
		},
	}
}

func reindexCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the rank index from the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			n, err := a.engine.RebuildIndex(ctx)
			if err != nil {
				return fmt.Errorf("reindex: %w", err)
			}
			return printJSON(map[string]int{"items": n})
		},
	}
}

func reconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Repair cached vote counts from the vote ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.engine.Reconcile(ctx)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			return printJSON(report)
		},
	}
}

func karmaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "karma",
		Short: "Karma administration",
	}

	var reason string
	adjust := &cobra.Command{
		Use:   "adjust [--reason r] <user_id> <delta>",
		Short: "Add delta (may be negative) to a user's karma",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || userID == 0 {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			delta, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid delta %q", args[1])
			}

			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			karma, err := a.engine.AdjustKarma(ctx, uint(userID), delta, reason)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"user_id": userID, "karma": karma})
		},
	}
	adjust.Flags().StringVar(&reason, "reason", services.KarmaReasonModeration, "reason recorded in the karma log")
	// 参数之后不再解析 flag，负数 delta 才不会被当成 flag
	adjust.Flags().SetInterspersed(false)
	cmd.AddCommand(adjust)
	return cmd
}
