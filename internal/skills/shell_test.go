package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/spaceai-agentcore/internal/domain"
)

func TestShellExec(t *testing.T) {
	z := newTestPolicy(t, "echo", "pwd", "ls", "sh")
	s := NewShellExec(z.engine)
	ctx := context.Background()

	t.Run("runs in the sandbox", func(t *testing.T) {
		p := map[string]any{"command": "pwd"}
		require.NoError(t, s.Validate(p))
		assert.True(t, s.Authorize(ctx, p).Allowed())

		res, err := s.Execute(ctx, p)
		require.NoError(t, err)
		r := res.(shellResult)
		assert.Equal(t, 0, r.ExitCode)
		assert.Contains(t, r.Output, z.sandbox)
	})

	t.Run("non-zero exit is a result", func(t *testing.T) {
		res, err := s.Execute(ctx, map[string]any{"command": "echo boom >&2; exit 3"})
		require.NoError(t, err)
		out := s.SanitizeOutput(res)
		assert.Contains(t, out, "exit 3")
		assert.Contains(t, out, "boom")
	})

	t.Run("timeout", func(t *testing.T) {
		res, err := s.Execute(ctx, map[string]any{"command": "sleep 5", "timeout_seconds": float64(1)})
		require.NoError(t, err)
		assert.True(t, res.(shellResult).TimedOut)
		assert.Contains(t, s.SanitizeOutput(res), "timed out")
	})

	t.Run("hard deny wins at execution", func(t *testing.T) {
		p := map[string]any{"command": "rm -rf /"}
		assert.True(t, s.Authorize(ctx, p).Denied())
		_, err := s.Execute(ctx, p)
		assert.ErrorIs(t, err, domain.ErrPolicyDenied)
	})

	t.Run("unlisted command needs approval", func(t *testing.T) {
		p := map[string]any{"command": "python3 -c 'print(1)'"}
		assert.True(t, s.Authorize(ctx, p).NeedsApproval())
		target, proposed := s.DescribeApproval(p)
		assert.Equal(t, z.sandbox, target)
		assert.Equal(t, "python3 -c 'print(1)'", proposed)
	})

	t.Run("validation", func(t *testing.T) {
		assert.ErrorIs(t, s.Validate(map[string]any{}), domain.ErrValidation)
		assert.ErrorIs(t, s.Validate(map[string]any{"command": "ls", "timeout_seconds": float64(500)}), domain.ErrValidation)
		assert.ErrorIs(t, s.Validate(map[string]any{"command": "ls\x00"}), domain.ErrValidation)
		assert.ErrorIs(t, s.Validate(map[string]any{"command": "ls", "timeout_seconds": 1e30}), domain.ErrValidation)
	})
}

func TestShellExecHonoursZones(t *testing.T) {
	z := newTestPolicy(t, "echo", "find", "ls")
	s := NewShellExec(z.engine)
	ctx := context.Background()

	soul := filepath.Join(z.identity, "SOUL.md")
	require.NoError(t, os.WriteFile(soul, []byte("original\n"), 0o644))

	t.Run("redirect into identity needs approval like file_write", func(t *testing.T) {
		viaSkill := NewFileWrite(z.engine).Authorize(ctx, map[string]any{"path": soul, "content": "x"})
		viaShell := s.Authorize(ctx, map[string]any{"command": "echo pwned > " + soul})
		assert.True(t, viaSkill.NeedsApproval())
		assert.True(t, viaShell.NeedsApproval(), viaShell.Reason)
		assert.Equal(t, domain.ZoneIdentity, viaShell.Zone)
	})

	t.Run("quoted program inside find -exec is denied", func(t *testing.T) {
		victim := filepath.Join(z.sandbox, "victim")
		require.NoError(t, os.MkdirAll(victim, 0o755))

		p := map[string]any{"command": "find " + victim + ` -maxdepth 0 -exec "rm" -rf {} +`}
		assert.True(t, s.Authorize(ctx, p).Denied())
		_, err := s.Execute(ctx, p)
		assert.ErrorIs(t, err, domain.ErrPolicyDenied)
		assert.DirExists(t, victim)
	})

	t.Run("find -exec needs approval", func(t *testing.T) {
		p := map[string]any{"command": `find . -exec ls {} \;`}
		assert.True(t, s.Authorize(ctx, p).NeedsApproval())
	})
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{max: 4}
	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, _ = b.Write([]byte("defg"))
	assert.Equal(t, 4, n)
	assert.Equal(t, "abcd", b.String())
}
