package skills

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"github.com/xela07ax/spaceai-agentcore/internal/policy"
)

const (
	maxPDFChars = 20_000
	maxPDFBytes = 50 << 20
)

// PDFParse extracts the text of a PDF stored in the sandbox. Other zones are
// out of reach even where file_read may look.
type PDFParse struct {
	policy policy.Enforcer
}

func NewPDFParse(p policy.Enforcer) *PDFParse { return &PDFParse{policy: p} }

func (s *PDFParse) Metadata() Metadata {
	return Metadata{
		Name: "pdf_parse",
		Description: "Extract and return the text content of a PDF file in the sandbox workspace. " +
			"Use it to read documents, papers or reports saved there.",
		RiskLevel:       domain.RiskLow,
		MaxCallsPerTurn: 5,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "Path of the PDF file in the sandbox."},
			},
			"required": []string{"path"},
		},
	}
}

func (s *PDFParse) Validate(params map[string]any) error {
	path, err := stringParam(params, "path", true)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(strings.ToLower(path), ".pdf") {
		return invalid("parameter 'path' must point to a .pdf file")
	}
	return nil
}

func (s *PDFParse) Authorize(_ context.Context, params map[string]any) domain.PolicyResult {
	path, _ := stringParam(params, "path", true)
	res := s.policy.CheckFileAccess(path, domain.ActionRead)
	if res.Denied() || res.Zone == domain.ZoneSandbox {
		return res
	}
	return domain.PolicyResult{
		Zone: res.Zone, Action: domain.ActionRead, Decision: domain.DecisionDeny,
		RiskLevel: domain.RiskMedium, Reason: fmt.Sprintf("pdf_parse is limited to the sandbox, %s is in the %s zone", path, res.Zone),
	}
}

type pdfText struct {
	Path      string
	Pages     int
	Text      string
	Truncated bool
}

func (s *PDFParse) Execute(_ context.Context, params map[string]any) (result any, err error) {
	path, _ := stringParam(params, "path", true)
	canon, err := s.policy.Canonicalize(path)
	if err != nil {
		return nil, err
	}
	if s.policy.ResolveZone(canon) != domain.ZoneSandbox {
		return nil, fmt.Errorf("%w: %s is outside the sandbox", domain.ErrPolicyDenied, canon)
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
	if fi.Size() > maxPDFBytes {
		return nil, fmt.Errorf("PDF is larger than %d MB", maxPDFBytes>>20)
	}

	// the parser panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("malformed PDF %s: %v", canon, r)
		}
	}()

	r, err := pdf.NewReader(f, fi.Size())
	if err != nil {
		return nil, fmt.Errorf("malformed PDF %s: %w", canon, err)
	}

	out := pdfText{Path: canon, Pages: r.NumPage()}
	fonts := make(map[string]*pdf.Font)
	var b strings.Builder
	for i := 1; i <= out.Pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				font := page.Font(name)
				fonts[name] = &font
			}
		}
		text, err := page.GetPlainText(fonts)
		if err != nil {
			return nil, fmt.Errorf("page %d of %s: %w", i, canon, err)
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
		if b.Len() > maxPDFChars*4 {
			break
		}
	}

	out.Text = strings.TrimSpace(b.String())
	if len([]rune(out.Text)) > maxPDFChars {
		out.Text = string([]rune(out.Text)[:maxPDFChars])
		out.Truncated = true
	}
	return out, nil
}

func (s *PDFParse) SanitizeOutput(result any) string {
	r, ok := result.(pdfText)
	if !ok {
		return fmt.Sprintf("[pdf_parse] unexpected result %T", result)
	}
	text := SanitizeExternal(r.Text)
	if text == "" {
		text = "(no extractable text)"
	}
	out := fmt.Sprintf("[%s] %d pages\n\n%s", r.Path, r.Pages, text)
	if r.Truncated {
		out += fmt.Sprintf("\n[truncated at %d chars]", maxPDFChars)
	}
	return out
}
