package skills

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"github.com/xela07ax/spaceai-agentcore/internal/policy"
)

const (
	maxReadChars    = 20_000
	maxContentChars = 100_000
)

// FileRead reads a text file from any zone the policy lets it read.
type FileRead struct {
	policy policy.Enforcer
}

func NewFileRead(p policy.Enforcer) *FileRead { return &FileRead{policy: p} }

func (s *FileRead) Metadata() Metadata {
	return Metadata{
		Name: "file_read",
		Description: "Read the text content of a file. Relative paths are resolved inside the " +
			"agent's sandbox workspace. Large files are truncated.",
		RiskLevel:       domain.RiskLow,
		MaxCallsPerTurn: 10,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "Path of the file to read."},
			},
			"required": []string{"path"},
		},
	}
}

func (s *FileRead) Validate(params map[string]any) error {
	_, err := stringParam(params, "path", true)
	return err
}

func (s *FileRead) Authorize(_ context.Context, params map[string]any) domain.PolicyResult {
	path, _ := stringParam(params, "path", true)
	return s.policy.CheckFileAccess(path, domain.ActionRead)
}

type fileContent struct {
	Path      string
	Content   string
	Truncated bool
}

func (s *FileRead) Execute(_ context.Context, params map[string]any) (any, error) {
	path, _ := stringParam(params, "path", true)
	canon, err := s.policy.Canonicalize(path)
	if err != nil {
		return nil, err
	}
	// the path may have been swapped for a symlink since authorization
	if res := s.policy.CheckFileAccess(canon, domain.ActionRead); res.Denied() {
		return nil, fmt.Errorf("%w: %s", domain.ErrPolicyDenied, res.Reason)
	}

	f, err := os.Open(canon)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", canon)
	}

	// utf-8 runes are at most 4 bytes
	data, err := io.ReadAll(io.LimitReader(f, int64(maxReadChars*utf8.UTFMax+1)))
	if err != nil {
		return nil, err
	}
	content := string(data)
	truncated := false
	if utf8.RuneCountInString(content) > maxReadChars {
		content = string([]rune(content)[:maxReadChars])
		truncated = true
	}
	return fileContent{Path: canon, Content: content, Truncated: truncated}, nil
}

func (s *FileRead) SanitizeOutput(result any) string {
	r, ok := result.(fileContent)
	if !ok {
		return fmt.Sprintf("[file_read] unexpected result %T", result)
	}
	out := fmt.Sprintf("[%s]\n\n%s", r.Path, StripControl(r.Content))
	if r.Truncated {
		out += fmt.Sprintf("\n[truncated at %d chars]", maxReadChars)
	}
	return out
}

// FileWrite writes or appends a text file. Sandbox writes go straight through,
// identity writes need a human's approval of the proposed content, everything
// else is denied by policy.
type FileWrite struct {
	policy policy.Enforcer
}

func NewFileWrite(p policy.Enforcer) *FileWrite { return &FileWrite{policy: p} }

func (s *FileWrite) Metadata() Metadata {
	return Metadata{
		Name: "file_write",
		Description: "Write or append text to a file. Creates missing parent directories. " +
			"Use mode='write' to create or overwrite and mode='append' to add to the end. " +
			"Relative paths are resolved inside the sandbox workspace.",
		RiskLevel:       domain.RiskMedium,
		MaxCallsPerTurn: 10,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string", "description": "Path of the file to write."},
				"content": map[string]any{"type": "string", "description": "Text content to write."},
				"mode": map[string]any{
					"type": "string", "enum": []string{"write", "append"},
					"description": "'write' (default) or 'append'.",
				},
			},
			"required": []string{"path", "content"},
		},
	}
}

func (s *FileWrite) Validate(params map[string]any) error {
	if _, err := stringParam(params, "path", true); err != nil {
		return err
	}
	if _, ok := params["content"]; !ok {
		return invalid("parameter 'content' is required")
	}
	content, err := stringParam(params, "content", false)
	if err != nil {
		return err
	}
	if utf8.RuneCountInString(content) > maxContentChars {
		return invalid("parameter 'content' must be under %d characters", maxContentChars)
	}
	_, err = enumParam(params, "mode", "write", "write", "append")
	return err
}

func (s *FileWrite) Authorize(_ context.Context, params map[string]any) domain.PolicyResult {
	path, _ := stringParam(params, "path", true)
	return s.policy.CheckFileAccess(path, domain.ActionWrite)
}

func (s *FileWrite) DescribeApproval(params map[string]any) (string, string) {
	path, _ := stringParam(params, "path", true)
	content, _ := stringParam(params, "content", false)
	if canon, err := s.policy.Canonicalize(path); err == nil {
		path = canon
	}
	return path, content
}

type writeResult struct {
	Path  string
	Bytes int
	Mode  string
}

func (s *FileWrite) Execute(_ context.Context, params map[string]any) (any, error) {
	path, _ := stringParam(params, "path", true)
	content, _ := stringParam(params, "content", false)
	mode, _ := enumParam(params, "mode", "write", "write", "append")

	canon, err := s.policy.Canonicalize(path)
	if err != nil {
		return nil, err
	}
	if res := s.policy.CheckFileAccess(canon, domain.ActionWrite); res.Denied() {
		return nil, fmt.Errorf("%w: %s", domain.ErrPolicyDenied, res.Reason)
	}

	if err := os.MkdirAll(filepath.Dir(canon), 0o755); err != nil {
		return nil, err
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if mode == "append" {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(canon, flags, 0o644)
	if err != nil {
		return nil, err
	}
	n, err := f.WriteString(content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	return writeResult{Path: canon, Bytes: n, Mode: mode}, nil
}

func (s *FileWrite) SanitizeOutput(result any) string {
	r, ok := result.(writeResult)
	if !ok {
		return fmt.Sprintf("[file_write] unexpected result %T", result)
	}
	verb := "Written"
	if r.Mode == "append" {
		verb = "Appended"
	}
	return fmt.Sprintf("%s %d bytes to %s.", verb, r.Bytes, r.Path)
}
