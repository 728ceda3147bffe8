package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-agentcore/internal/infra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is what every subcommand gets after config loading.
type app struct {
	configPath string
	cfg        *infra.Config
	logger     *zap.Logger
	rdb        redis.UniversalClient
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "agentcore",
		Short:         "LLM agent core: policy-gated skills, human approvals and the tool-calling loop",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to config.yaml (default ./config.yaml or ./configs/config.yaml)")

	root.AddCommand(
		newServeCmd(a),
		newApprovalsCmd(a),
		newPolicyCmd(a),
		newSkillsCmd(a),
		newAuditCmd(a),
		newAuthCmd(),
	)
	return root
}

// load reads the config and builds the logger. Commands that need Redis call
// connect afterwards.
func (a *app) load() error {
	cfg, err := infra.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) connect(ctx context.Context) error {
	if a.cfg == nil {
		if err := a.load(); err != nil {
			return err
		}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis %s unreachable: %w", a.cfg.Redis.Addr, err)
	}
	a.rdb = rdb
	return nil
}

func (a *app) close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
