package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/xela07ax/spaceai-agentcore/internal/engine"
	"github.com/xela07ax/spaceai-agentcore/internal/policy"
	"github.com/xela07ax/spaceai-agentcore/internal/skills"
)

func newSkillsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "List skills and flip the cluster-wide kill-switch",
	}
	cmd.AddCommand(
		newSkillsListCmd(a),
		newSkillToggleCmd(a, "disable", "Stop a skill on every instance", false),
		newSkillToggleCmd(a, "enable", "Re-enable a disabled skill", true),
	)
	return cmd
}

func (a *app) killSwitch(ctx context.Context) (*engine.SignalSet, error) {
	if err := a.connect(ctx); err != nil {
		return nil, err
	}
	ks := engine.NewKillSwitch(a.rdb, a.logger)
	if err := ks.Init(ctx, nil); err != nil {
		return nil, err
	}
	return ks, nil
}

type skillRow struct {
	Name            string `json:"name"`
	RiskLevel       string `json:"risk_level"`
	MaxCallsPerTurn int    `json:"max_calls_per_turn"`
	Disabled        bool   `json:"disabled"`
}

func newSkillsListCmd(a *app) *cobra.Command {
	var out output
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show built-in skills with their kill-switch state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ks, err := a.killSwitch(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			pe, err := policy.NewEngine(a.cfg.Agent.PolicyPath, nil, a.logger)
			if err != nil {
				return err
			}

			var list []skillRow
			var rows [][]string
			for _, s := range skills.Builtins(pe, nil, searchConfig(a.cfg)) {
				m := s.Metadata()
				r := skillRow{Name: m.Name, RiskLevel: string(m.RiskLevel), MaxCallsPerTurn: m.CallsPerTurn(), Disabled: ks.Contains(m.Name)}
				list = append(list, r)
				rows = append(rows, []string{r.Name, r.RiskLevel, strconv.Itoa(r.MaxCallsPerTurn), strconv.FormatBool(r.Disabled)})
			}
			return out.render(cmd.OutOrStdout(), list, []string{"NAME", "RISK", "CALLS/TURN", "DISABLED"}, rows)
		},
	}
	addOutputFlag(cmd, &out)
	return cmd
}

func newSkillToggleCmd(a *app, use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <skill>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := a.killSwitch(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if err := ks.Set(cmd.Context(), args[0], !enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %sd\n", args[0], use)
			return nil
		},
	}
}
