package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xela07ax/spaceai-agentcore/internal/approval"
	"github.com/xela07ax/spaceai-agentcore/internal/console/service"
	"github.com/xela07ax/spaceai-agentcore/internal/domain"
)

func newApprovalsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Inspect and resolve human approval requests",
	}
	cmd.AddCommand(newApprovalsPendingCmd(a), newApprovalsResolveCmd(a), newApprovalsWatchCmd(a))
	return cmd
}

func (a *app) gate(ctx context.Context) (*approval.Gate, error) {
	if err := a.connect(ctx); err != nil {
		return nil, err
	}
	return approval.NewGate(a.rdb, a.logger), nil
}

func newApprovalsPendingCmd(a *app) *cobra.Command {
	var out output
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List pending approval requests, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := a.gate(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			list, err := g.GetPending(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(list))
			for _, r := range list {
				rows = append(rows, approvalRow(r))
			}
			return out.render(cmd.OutOrStdout(), list, approvalHeaders, rows)
		},
	}
	addOutputFlag(cmd, &out)
	return cmd
}

func newApprovalsResolveCmd(a *app) *cobra.Command {
	var (
		approve  bool
		deny     bool
		reviewer string
		comment  string
	)
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Approve or deny a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == deny {
				return fmt.Errorf("exactly one of --approve or --deny is required")
			}
			g, err := a.gate(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			resolved, err := service.NewApprovalService(g, a.logger).
				Decide(cmd.Context(), args[0], approve, reviewer, comment)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s by %s\n", resolved.ID, resolved.Status, resolved.ResolvedBy)
			return nil
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the request")
	cmd.Flags().BoolVar(&deny, "deny", false, "deny the request")
	cmd.Flags().StringVar(&reviewer, "reviewer", "cli", "who made the decision")
	cmd.Flags().StringVar(&comment, "comment", "", "optional note for the log")
	return cmd
}

func newApprovalsWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream new approval requests as JSON lines until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := a.gate(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			g.Subscribe(cmd.Context(), func(r *domain.ApprovalRequest) {
				_ = enc.Encode(r)
			})
			return nil
		},
	}
}

var approvalHeaders = []string{"ID", "ACTION", "ZONE", "RISK", "TARGET", "EXPIRES IN"}

func approvalRow(r *domain.ApprovalRequest) []string {
	return []string{
		r.ID,
		r.Action,
		string(r.Zone),
		string(r.RiskLevel),
		r.Target,
		time.Until(r.ExpiresAt).Round(time.Second).String(),
	}
}
