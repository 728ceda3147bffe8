package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xela07ax/spaceai-agentcore/internal/console/service"
	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"github.com/xela07ax/spaceai-agentcore/internal/infra"
	"github.com/xela07ax/spaceai-agentcore/internal/policy"
)

func newPolicyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Validate, evaluate and reload policy.yaml",
	}
	cmd.AddCommand(newPolicyCheckCmd(a), newPolicyReloadCmd(a))
	return cmd
}

func newPolicyCheckCmd(a *app) *cobra.Command {
	var (
		check service.EvaluateRequest
		out   output
	)
	cmd := &cobra.Command{
		Use:   "check [policy.yaml]",
		Short: "Load a policy file and optionally ask what it would decide",
		Example: `  agentcore policy check
  agentcore policy check configs/policy.yaml --kind shell --command "rm -rf /"
  agentcore policy check --kind file --path ./workspace/notes.md --action write`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			defer a.close()
			path := a.cfg.Agent.PolicyPath
			if len(args) == 1 {
				path = args[0]
			}

			// rate limits are not evaluated here, no counter needed
			engine, err := policy.NewEngine(path, nil, a.logger)
			if err != nil {
				return err
			}
			if check.Kind == "" {
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%s: ok (approval timeout %s)\n", path, engine.ApprovalTimeout())
				var rows [][]string
				for _, zone := range []domain.Zone{domain.ZoneSandbox, domain.ZoneIdentity, domain.ZoneSystem} {
					for _, root := range engine.Roots()[zone] {
						rows = append(rows, []string{string(zone), root})
					}
				}
				return writeTable(w, []string{"ZONE", "ROOT"}, rows)
			}

			res, err := service.NewPolicyService(engine, nil, "cli", a.logger).Evaluate(check)
			if err != nil {
				return err
			}
			return out.render(cmd.OutOrStdout(), res,
				[]string{"ZONE", "ACTION", "DECISION", "RISK", "REASON"},
				[][]string{{string(res.Zone), string(res.Action), string(res.Decision), string(res.RiskLevel), res.Reason}})
		},
	}
	f := cmd.Flags()
	f.StringVar(&check.Kind, "kind", "", "check kind: file, shell or http")
	f.StringVar(&check.Path, "path", "", "file path for --kind file")
	f.StringVar(&check.Action, "action", "read", "read or write for --kind file")
	f.StringVar(&check.Command, "command", "", "command line for --kind shell")
	f.StringVar(&check.URL, "url", "", "target for --kind http")
	f.StringVar(&check.Method, "method", "GET", "HTTP method for --kind http")
	addOutputFlag(cmd, &out)
	return cmd
}

func newPolicyReloadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Tell every running instance to re-read its policy file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.connect(cmd.Context()); err != nil {
				return err
			}
			defer a.close()

			receivers, err := a.rdb.Publish(cmd.Context(), infra.RedisChanPolicyUpdate, "cli").Result()
			if err != nil {
				return fmt.Errorf("policy reload signal: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reload signal delivered to %d instance(s)\n", receivers)
			return nil
		},
	}
}
