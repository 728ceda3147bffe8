package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xela07ax/spaceai-agentcore/internal/policy"
)

type nopCounter struct{}

func (nopCounter) Incr(context.Context, string, time.Duration) (int64, error) { return 1, nil }

type testZones struct {
	sandbox, identity, system string
	engine                    *policy.Engine
}

func newTestPolicy(t *testing.T, allowed ...string) testZones {
	t.Helper()
	return newTestPolicyConfig(t, func(cfg *policy.FileConfig) {
		cfg.Shell.AllowedCommands = allowed
	})
}

// newTestPolicyConfig lays out the three zones under a temp dir and lets the
// caller adjust the rest of the policy.
func newTestPolicyConfig(t *testing.T, adjust func(cfg *policy.FileConfig)) testZones {
	t.Helper()
	base := t.TempDir()
	z := testZones{
		sandbox:  filepath.Join(base, "sandbox"),
		identity: filepath.Join(base, "identity"),
		system:   filepath.Join(base, "app"),
	}
	for _, p := range []string{z.sandbox, z.identity, z.system} {
		require.NoError(t, os.MkdirAll(p, 0o755))
	}
	cfg := &policy.FileConfig{
		Zones: policy.ZonesConfig{
			Sandbox:  []string{z.sandbox},
			Identity: []string{z.identity},
			System:   []string{z.system},
		},
		DenyPaths: []string{"**/*.pem"},
	}
	adjust(cfg)
	e, err := policy.NewEngineFromConfig(cfg, nopCounter{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	z.engine = e

	// temp dirs may sit behind a symlink; compare against canonical roots
	z.sandbox, _ = e.Canonicalize(z.sandbox)
	z.identity, _ = e.Canonicalize(z.identity)
	z.system, _ = e.Canonicalize(z.system)
	return z
}
