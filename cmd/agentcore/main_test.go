package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/spaceai-agentcore/internal/approval"
	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"github.com/xela07ax/spaceai-agentcore/internal/infra"
	"github.com/xela07ax/spaceai-agentcore/internal/infra/auth"
)

const testPolicy = `
zones:
  sandbox: [%q]
shell:
  allowed_commands: ["ls", "cat"]
approval:
  timeout_seconds: 60
`

type env struct {
	mr     *miniredis.Miniredis
	config string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	dir := t.TempDir()
	sandbox := filepath.Join(dir, "sandbox")
	require.NoError(t, os.MkdirAll(sandbox, 0o755))

	policyPath := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(policyPath, []byte(fmt.Sprintf(testPolicy, sandbox)), 0o644))

	cfg := fmt.Sprintf("redis:\n  addr: %q\nagent:\n  policy_path: %q\nlogger:\n  level: error\n", mr.Addr(), policyPath)
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o644))
	return &env{mr: mr, config: configPath}
}

func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--config", e.config))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHashKey(t *testing.T) {
	out, err := newEnv(t).run(t, "auth", "hash-key", "s3cret")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("s3cret")))
}

func TestTokenIsAcceptedByValidator(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "operator.pem")
	pemData := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(keyPath, pemData, 0o600))

	e := newEnv(t)
	out, err := e.run(t, "auth", "token", "--private-key", keyPath, "--user", "alice", "--scope", "approvals")
	require.NoError(t, err)

	claims, err := auth.NewValidator(&key.PublicKey).VerifyToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.True(t, claims.HasScope(domain.ScopeApprovals))
	assert.False(t, claims.HasScope(domain.ScopeAdmin))

	_, err = e.run(t, "auth", "token", "--private-key", keyPath, "--user", "alice", "--scope", "root")
	assert.ErrorContains(t, err, "unknown scope")
}

func TestPolicyCheck(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "policy", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "ok")

	out, err = e.run(t, "policy", "check", "--kind", "shell", "--command", "rm -rf /", "-o", "json")
	require.NoError(t, err)
	var res domain.PolicyResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, domain.DecisionDeny, res.Decision)

	_, err = e.run(t, "policy", "check", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestSkillsKillSwitch(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "skills", "disable", "shell_exec")
	require.NoError(t, err)
	ok, err := e.mr.SIsMember(infra.RedisKeyDisabledSkills, "shell_exec")
	require.NoError(t, err)
	assert.True(t, ok)

	out, err := e.run(t, "skills", "list", "-o", "json")
	require.NoError(t, err)
	var rows []skillRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	disabled := map[string]bool{}
	for _, r := range rows {
		disabled[r.Name] = r.Disabled
	}
	assert.True(t, disabled["shell_exec"])
	assert.False(t, disabled["file_read"])

	_, err = e.run(t, "skills", "enable", "shell_exec")
	require.NoError(t, err)
	ok, err = e.mr.SIsMember(infra.RedisKeyDisabledSkills, "shell_exec")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApprovalsPendingAndResolve(t *testing.T) {
	e := newEnv(t)
	rdb := redis.NewClient(&redis.Options{Addr: e.mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	req, err := approval.NewGate(rdb, zaptest.NewLogger(t)).Create(context.Background(), approval.NewRequest{
		Action: "file_write", Zone: domain.ZoneIdentity, RiskLevel: domain.RiskHigh, Target: "identity/persona.md",
	})
	require.NoError(t, err)

	out, err := e.run(t, "approvals", "pending")
	require.NoError(t, err)
	assert.Contains(t, out, req.ID)
	assert.Contains(t, out, "identity/persona.md")

	_, err = e.run(t, "approvals", "resolve", req.ID)
	assert.Error(t, err, "a decision flag is required")

	out, err = e.run(t, "approvals", "resolve", req.ID, "--approve", "--reviewer", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, "approved by bob")

	_, err = e.run(t, "approvals", "resolve", req.ID, "--deny")
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)

	out, err = e.run(t, "approvals", "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "No results found")
}
