/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	model2 "github.com/pigwatch/pigwatch/api/model"
	"github.com/pigwatch/pigwatch/model"
)

const commandTimeout = 30 * time.Second

// approvalCommands lets an operator work the approval queue without the API.
func approvalCommands(b *pigwatchInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "list and decide notifications waiting for approval",
	}

	var notifType string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "list waiting notifications with their tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			recs, err := b.pigwatch.ListApprovals(ctx, model.NotifType(notifType), limit)
			if err != nil {
				return err
			}
			return printJSON(model2.ToApprovalViews(recs))
		},
	}
	list.Flags().StringVar(&notifType, "type", "", "only list this notification type")
	list.Flags().IntVar(&limit, "limit", model2.DefaultLimit, "maximum rows to list")

	cmd.AddCommand(list)
	cmd.AddCommand(decideCommand(b, "approve", model.ApprovalApproved))
	cmd.AddCommand(decideCommand(b, "reject", model.ApprovalRejected))
	return cmd
}

func decideCommand(b *pigwatchInstance, use string, decision model.ApprovalStatus) *cobra.Command {
	var decidedBy string
	cmd := &cobra.Command{
		Use:   use + " <id> <token>",
		Short: use + " a waiting notification",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			rec, err := b.pigwatch.DecideApproval(ctx, id, args[1], decision, decidedBy)
			if err != nil {
				return err
			}
			return printJSON(rec)
		},
	}
	cmd.Flags().StringVar(&decidedBy, "by", "cli", "operator recorded as the decider")
	return cmd
}

func pigCommands(b *pigwatchInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pigs",
		Short: "inspect or reset detector state",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "state <pig_id>",
		Short: "print the detector state of a pig",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			state, err := b.pigwatch.GetPigState(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(state)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset <pig_id>",
		Short: "discard the pig's run so its next telemetry opens a new one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			state, err := b.pigwatch.ResetPig(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(state)
		},
	})
	return cmd
}

// seedCommands writes a demo telemetry series for local runs.
func seedCommands(b *pigwatchInstance) *cobra.Command {
	var pigID, toolType string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "write demo telemetry for a pig",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			n, err := b.pigwatch.SeedDemo(ctx, pigID, toolType, time.Now().UTC())
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{"pig_id": pigID, "points": n})
		},
	}
	cmd.Flags().StringVar(&pigID, "pig", "PIG_001", "pig to seed")
	cmd.Flags().StringVar(&toolType, "tool-type", "", "tool type recorded on every point")
	return cmd
}
