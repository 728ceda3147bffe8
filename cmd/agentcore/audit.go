package main

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/xela07ax/spaceai-agentcore/internal/audit"
)

type recentReader interface {
	Recent(ctx context.Context, skill string, limit int) ([]audit.SkillCallEvent, error)
}

func newAuditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the skill call journal",
	}
	cmd.AddCommand(newAuditRecentCmd(a), newAuditStatsCmd(a))
	return cmd
}

func newAuditRecentCmd(a *app) *cobra.Command {
	var (
		skill string
		limit int
		out   output
	)
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show the latest skill calls (Postgres when configured, Redis otherwise)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.connect(cmd.Context()); err != nil {
				return err
			}
			defer a.close()

			var reader recentReader = audit.NewRedisStorage(a.rdb)
			if a.cfg.Database.URL != "" {
				repo, err := openAuditRepo(cmd.Context(), a)
				if err != nil {
					return err
				}
				defer repo.Close()
				reader = repo
			}

			events, err := reader.Recent(cmd.Context(), skill, limit)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(events))
			for _, e := range events {
				rows = append(rows, []string{
					e.Timestamp.Local().Format(time.DateTime), e.Skill, e.Outcome, e.UserID, e.TraceID,
					strconv.FormatInt(e.DurationMs, 10) + "ms",
				})
			}
			return out.render(cmd.OutOrStdout(), events, []string{"TIME", "SKILL", "OUTCOME", "USER", "TRACE", "DURATION"}, rows)
		},
	}
	cmd.Flags().StringVar(&skill, "skill", "", "only this skill")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum events")
	addOutputFlag(cmd, &out)
	return cmd
}

func newAuditStatsCmd(a *app) *cobra.Command {
	var out output
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Per-skill outcome counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.connect(cmd.Context()); err != nil {
				return err
			}
			defer a.close()

			stats, err := audit.NewRedisStorage(a.rdb).Stats(cmd.Context())
			if err != nil {
				return err
			}
			var rows [][]string
			for skill, outcomes := range stats {
				for outcome, n := range outcomes {
					rows = append(rows, []string{skill, outcome, strconv.FormatInt(n, 10)})
				}
			}
			sort.Slice(rows, func(i, j int) bool {
				if rows[i][0] != rows[j][0] {
					return rows[i][0] < rows[j][0]
				}
				return rows[i][1] < rows[j][1]
			})
			return out.render(cmd.OutOrStdout(), stats, []string{"SKILL", "OUTCOME", "COUNT"}, rows)
		},
	}
	addOutputFlag(cmd, &out)
	return cmd
}
