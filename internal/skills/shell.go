package skills

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"github.com/xela07ax/spaceai-agentcore/internal/policy"
)

const (
	defaultShellTimeout = 30 * time.Second
	maxShellTimeout     = 120 * time.Second
	maxShellOutput      = 64 << 10
	maxShellOutputChars = 5_000
)

// ShellExec runs a command with /bin/sh inside the sandbox root.
type ShellExec struct {
	policy policy.Enforcer
}

func NewShellExec(p policy.Enforcer) *ShellExec { return &ShellExec{policy: p} }

func (s *ShellExec) Metadata() Metadata {
	return Metadata{
		Name: "shell_exec",
		Description: "Run a shell command in the sandbox workspace and return its output. " +
			"Destructive and privileged commands are refused; commands outside the allow-list " +
			"need human approval.",
		RiskLevel:       domain.RiskMedium,
		MaxCallsPerTurn: 3,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command":         map[string]any{"type": "string", "description": "The command line to run."},
				"timeout_seconds": map[string]any{"type": "integer", "description": "Optional timeout, at most 120."},
			},
			"required": []string{"command"},
		},
	}
}

func (s *ShellExec) Validate(params map[string]any) error {
	cmd, err := stringParam(params, "command", true)
	if err != nil {
		return err
	}
	if len(cmd) > 2000 {
		return invalid("parameter 'command' must be under 2000 characters")
	}
	if strings.ContainsRune(cmd, 0) {
		return invalid("parameter 'command' contains a NUL byte")
	}
	secs, err := intParam(params, "timeout_seconds", 0)
	if err != nil {
		return err
	}
	if secs < 0 || time.Duration(secs)*time.Second > maxShellTimeout {
		return invalid("parameter 'timeout_seconds' must be between 1 and %d", int(maxShellTimeout.Seconds()))
	}
	return nil
}

func (s *ShellExec) Authorize(_ context.Context, params map[string]any) domain.PolicyResult {
	cmd, _ := stringParam(params, "command", true)
	return s.policy.CheckShellCommand(cmd)
}

func (s *ShellExec) DescribeApproval(params map[string]any) (string, string) {
	cmd, _ := stringParam(params, "command", true)
	return s.policy.SandboxRoot(), cmd
}

type shellResult struct {
	Command  string
	ExitCode int
	Output   string
	TimedOut bool
}

func (s *ShellExec) Execute(ctx context.Context, params map[string]any) (any, error) {
	cmdline, _ := stringParam(params, "command", true)
	if res := s.policy.CheckShellCommand(cmdline); res.Denied() {
		return nil, fmt.Errorf("%w: %s", domain.ErrPolicyDenied, res.Reason)
	}

	timeout := defaultShellTimeout
	if secs, _ := intParam(params, "timeout_seconds", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	root := s.policy.SandboxRoot()
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", cmdline)
	cmd.Dir = root
	cmd.Env = []string{"PATH=/usr/local/bin:/usr/bin:/bin", "HOME=" + root, "LANG=C.UTF-8"}
	out := &cappedBuffer{max: maxShellOutput}
	cmd.Stdout = out
	cmd.Stderr = out
	// background children may keep the output pipe open after a kill
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	res := shellResult{Command: cmdline, Output: out.String()}
	var exitErr *exec.ExitError
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		res.TimedOut = true
		res.ExitCode = -1
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case err != nil:
		return nil, err
	}
	return res, nil
}

func (s *ShellExec) SanitizeOutput(result any) string {
	r, ok := result.(shellResult)
	if !ok {
		return fmt.Sprintf("[shell_exec] unexpected result %T", result)
	}
	status := fmt.Sprintf("exit %d", r.ExitCode)
	if r.TimedOut {
		status = "timed out"
	}
	out := Truncate(StripControl(strings.TrimSpace(r.Output)), maxShellOutputChars)
	if out == "" {
		out = "(no output)"
	}
	return fmt.Sprintf("[$ %s] %s\n\n%s", r.Command, status, out)
}

// cappedBuffer keeps the first max bytes and silently drops the rest, so a
// chatty command cannot exhaust memory.
type cappedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }
