package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-agentcore/internal/approval"
	"github.com/xela07ax/spaceai-agentcore/internal/audit"
	"github.com/xela07ax/spaceai-agentcore/internal/console/handler"
	"github.com/xela07ax/spaceai-agentcore/internal/console/server"
	"github.com/xela07ax/spaceai-agentcore/internal/console/service"
	"github.com/xela07ax/spaceai-agentcore/internal/engine"
	"github.com/xela07ax/spaceai-agentcore/internal/infra"
	"github.com/xela07ax/spaceai-agentcore/internal/infra/auth"
	"github.com/xela07ax/spaceai-agentcore/internal/llm"
	"github.com/xela07ax/spaceai-agentcore/internal/policy"
	"github.com/xela07ax/spaceai-agentcore/internal/repository/postgres"
	"github.com/xela07ax/spaceai-agentcore/internal/skills"
)

const (
	sweepInterval       = 30 * time.Second
	bufferGaugeEvery    = 5 * time.Second
	shutdownGracePeriod = 10 * time.Second
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.connect(cmd.Context()); err != nil {
				return err
			}
			defer a.close()
			return serve(cmd.Context(), a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg, logger, rdb := a.cfg, a.logger, a.rdb

	// Контекст фоновых горутин: отменяется по SIGTERM или при выходе из serve
	appCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 1. Policy engine (ошибка конфигурации = отказ старта)
	policyEngine, err := policy.NewEngine(cfg.Agent.PolicyPath, policy.NewRedisCounter(rdb), logger)
	if err != nil {
		return err
	}
	engine.Detach(appCtx, logger, "policy-reload", func(ctx context.Context) {
		policyEngine.ListenForReload(ctx, rdb)
	})

	// 2. Control plane: kill-switch и карантин
	killSwitch := engine.NewKillSwitch(rdb, logger)
	if err := killSwitch.Init(appCtx, cfg.Agent.DisabledSkills); err != nil {
		return err
	}
	engine.Detach(appCtx, logger, "kill-switch", killSwitch.StartListener)

	quarantine := engine.NewQuarantine(rdb, logger)
	if err := quarantine.Init(appCtx, nil); err != nil {
		return err
	}
	engine.Detach(appCtx, logger, "quarantine", quarantine.StartListener)

	// 3. Approval gate: переживает рестарт, висящие запросы снова анонсируются
	gate := approval.NewGate(rdb, logger,
		approval.WithDefaultTimeout(policyEngine.ApprovalTimeout()),
		approval.WithPollInterval(cfg.Agent.ApprovalPoll),
	)
	pending, err := gate.Recover(appCtx)
	if err != nil {
		logger.Warn("approval recovery failed", zap.Error(err))
	} else if len(pending) > 0 {
		logger.Info("pending approvals recovered", zap.Int("count", len(pending)))
	}
	engine.Detach(appCtx, logger, "approval-sweeper", func(ctx context.Context) {
		gate.RunSweeper(ctx, sweepInterval)
	})

	// 4. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)
	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "agentcore_policy_reload_failures_total",
		Help: "Policy reloads rejected because the file did not validate.",
	}, func() float64 { return float64(policyEngine.ReloadFailures()) }))

	// 5. Audit: Redis всегда, Postgres если задан URL
	redisAudit := audit.NewRedisStorage(rdb)
	storage := audit.MultiStorage{redisAudit}
	if cfg.Database.URL != "" {
		repo, err := openAuditRepo(appCtx, a)
		if err != nil {
			return err
		}
		defer repo.Close()
		storage = append(storage, repo)
	}
	journal := audit.NewJournal(storage, cfg.Engine.AuditBufferSize, logger,
		audit.WithFlushInterval(cfg.Engine.AuditFlushInterval))
	journal.Start()
	defer journal.Stop()
	engine.Detach(appCtx, logger, "audit-buffer-gauge", func(ctx context.Context) {
		sampleBuffer(ctx, journal, metrics)
	})

	// 6. Skills
	registry := skills.NewRegistry()
	for _, s := range skills.Builtins(policyEngine, skills.NewRedisMemoryStore(rdb), searchConfig(cfg)) {
		if err := registry.Register(s); err != nil {
			return err
		}
	}
	logger.Info("skills registered", zap.Strings("skills", registry.Names()))

	// 7. LLM + надёжность (rate limit, circuit breaker, retries)
	ollama := llm.NewOllamaClient(cfg.LLM.BaseURL, cfg.LLM.Timeout, cfg.LLM.NumCtx, logger)
	client := engine.NewReliabilityWrapper(ollama, engine.ReliabilityConfig{
		RatePerSecond: cfg.LLM.RatePerSecond,
		Burst:         cfg.LLM.Burst,
		CBMaxRequests: uint32(cfg.Engine.CBMaxRequests),
		CBInterval:    cfg.Engine.CBInterval,
		CBTimeout:     cfg.Engine.CBTimeout,
		CallTimeout:   cfg.LLM.Timeout,
	}, metrics, logger)

	heartbeat := engine.NewHeartbeat(rdb, ollama, cfg.Agent.HeartbeatInterval, logger)
	engine.Detach(appCtx, logger, "heartbeat", heartbeat.Run)

	// 8. Core: pipeline + tool loop
	pipeline := engine.NewPipeline(policyEngine, gate, logger,
		engine.WithAuditor(journal),
		engine.WithKillSwitch(killSwitch),
		engine.WithQuarantine(quarantine),
		engine.WithMetrics(metrics),
	)
	loop := engine.NewToolLoop(client, registry, pipeline, cfg.Agent.MaxIterations, metrics, logger)

	// 9. Console: services -> handlers -> router
	chat := service.NewChatService(loop, service.NewRedisHistory(rdb, cfg.Agent.HistoryTTL), service.ChatConfig{
		SystemPrompt:       cfg.Agent.SystemPrompt,
		DefaultModel:       cfg.LLM.DefaultModel,
		ReasoningModel:     cfg.LLM.ReasoningModel,
		ReasoningKeywords:  cfg.LLM.ReasoningKeywords,
		HistoryTokenBudget: cfg.Agent.HistoryTokenBudget,
	}, logger)

	opts := server.Options{
		APIKeyHash: cfg.Auth.APIKeyHash,
		Gatherer:   reg,
		Health:     func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}
	if len(cfg.Auth.PublicKey) > 0 {
		pub, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			return err
		}
		opts.Validator = auth.NewValidator(pub)
	}

	api := server.New(server.Handlers{
		Chat:      handler.NewChatHandler(chat),
		Approvals: handler.NewApprovalHandler(service.NewApprovalService(gate, logger)),
		Policy:    handler.NewPolicyHandler(service.NewPolicyService(policyEngine, rdb, instanceID(), logger)),
		Control:   handler.NewControlHandler(service.NewControlService(registry, killSwitch, quarantine)),
		Audit:     handler.NewAuditHandler(service.NewAuditService(redisAudit, gate, killSwitch, quarantine)),
	}, opts, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 10. Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("agentcore started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
	case <-appCtx.Done():
	}

	logger.Info("agentcore stopping...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	cancel()
	logger.Info("agentcore exited properly")
	return nil
}

func openAuditRepo(ctx context.Context, a *app) (*postgres.AuditRepo, error) {
	repo, err := postgres.NewAuditRepo(a.cfg.Database)
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := repo.Ping(pctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	if err := repo.EnsureSchema(pctx); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return repo, nil
}

// sampleBuffer reports how full the audit buffer is.
func searchConfig(cfg *infra.Config) skills.SearchConfig {
	return skills.SearchConfig{
		Endpoint:   cfg.Search.URL,
		MaxResults: cfg.Search.MaxResults,
		APIKey:     cfg.Search.Key,
	}
}

func sampleBuffer(ctx context.Context, j *audit.Journal, m *engine.Metrics) {
	t := time.NewTicker(bufferGaugeEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.AuditBufferFill.Set(float64(j.Len()))
		}
	}
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "agentcore"
	}
	return host + "-" + uuid.NewString()[:8]
}
