package policy

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"mvdan.cc/sh/v3/syntax"

	"github.com/xela07ax/spaceai-agentcore/internal/domain"
)

// execPrograms start other programs from their arguments. An allow-list entry
// never covers them.
var execPrograms = map[string]bool{
	"sh": true, "bash": true, "dash": true, "zsh": true, "ksh": true, "fish": true, "busybox": true,
	"env": true, "xargs": true, "parallel": true, "eval": true, "exec": true, "source": true, ".": true,
	"command": true, "builtin": true, "trap": true, "nohup": true, "nice": true, "ionice": true,
	"timeout": true, "watch": true, "stdbuf": true, "setsid": true, "chroot": true, "flock": true,
	"strace": true, "ltrace": true, "script": true, "unbuffer": true, "taskset": true, "chrt": true,
}

// execFlags are arguments that turn an otherwise harmless program into one that
// runs commands, deletes or writes arbitrary files.
var execFlags = map[string][]string{
	"find":  {"-exec", "-execdir", "-ok", "-okdir", "-delete", "-fprint", "-fprint0", "-fprintf", "-fls"},
	"git":   {"-c", "--config-env", "--exec-path", "--upload-pack", "--receive-pack", "--exec", "-x", "config", "filter-branch"},
	"tar":   {"--to-command", "--checkpoint-action", "--use-compress-program", "-I", "--info-script", "--new-volume-script", "-F"},
	"rsync": {"-e", "--rsh", "--rsync-path"},
	"sort":  {"--compress-program"},
	"zip":   {"-TT", "--unzip-command"},
	"sed":   {"-i", "--in-place"},
	"awk":   {"system", "|"},
	"gawk":  {"system", "|"},
	"mawk":  {"system", "|"},
}

// devStreams are redirect targets that never reach a file.
var devStreams = map[string]bool{
	"/dev/null": true, "/dev/stdin": true, "/dev/stdout": true, "/dev/stderr": true,
}

func severity(d domain.Decision) int {
	switch d {
	case domain.DecisionAllow:
		return 0
	case domain.DecisionRequiresApproval:
		return 1
	}
	return 2
}

// shellCheck walks a parsed command line and keeps the strictest verdict of
// every command, redirection and path argument in it.
type shellCheck struct {
	snap     *snapshot
	decision domain.Decision
	zone     domain.Zone
	reason   string
}

func (s *snapshot) checkShell(cmd string) domain.PolicyResult {
	c := &shellCheck{
		snap:     s,
		decision: domain.DecisionAllow,
		zone:     domain.ZoneSandbox,
		reason:   "all programs are on the shell allow-list",
	}

	f, err := syntax.NewParser().Parse(strings.NewReader(cmd), "")
	if err != nil {
		c.raise(domain.DecisionRequiresApproval, domain.ZoneSandbox, fmt.Sprintf("command cannot be parsed: %v", err))
	} else {
		syntax.Walk(f, c.visit)
	}

	return domain.PolicyResult{
		Zone: c.zone, Action: domain.ActionShell, Decision: c.decision,
		RiskLevel: riskFor(c.decision), Reason: c.reason,
	}
}

func (c *shellCheck) raise(d domain.Decision, zone domain.Zone, reason string) {
	if severity(d) > severity(c.decision) {
		c.decision, c.zone, c.reason = d, zone, reason
	}
}

func (c *shellCheck) approval(format string, args ...any) {
	c.raise(domain.DecisionRequiresApproval, domain.ZoneSandbox, fmt.Sprintf(format, args...))
}

func (c *shellCheck) visit(node syntax.Node) bool {
	switch n := node.(type) {
	case *syntax.CmdSubst:
		c.approval("command substitution cannot be checked before it runs")
	case *syntax.ProcSubst:
		c.approval("process substitution cannot be checked before it runs")
	case *syntax.FuncDecl:
		c.approval("function definitions are not allowed")
	case *syntax.CoprocClause:
		c.approval("coprocesses are not allowed")
	case *syntax.Stmt:
		for _, r := range n.Redirs {
			c.redirect(r)
		}
	case *syntax.CallExpr:
		c.call(n)
	}
	return true
}

func (c *shellCheck) redirect(r *syntax.Redirect) {
	switch r.Op {
	case syntax.Hdoc, syntax.DashHdoc, syntax.WordHdoc:
		return
	}
	target, ok := wordText(r.Word)
	if !ok {
		c.approval("redirection target is computed at run time")
		return
	}
	// 2>&1, >&-
	if (r.Op == syntax.DplOut || r.Op == syntax.DplIn) && isDescriptor(target) {
		return
	}
	action := domain.ActionWrite
	if r.Op == syntax.RdrIn || r.Op == syntax.DplIn {
		action = domain.ActionRead
	}
	c.path(target, action)
}

func (c *shellCheck) call(x *syntax.CallExpr) {
	if len(x.Args) == 0 {
		return
	}
	name, ok := wordText(x.Args[0])
	if !ok {
		c.approval("program name is computed at run time")
		return
	}
	prog := filepath.Base(name)
	if !c.snap.programAllowed(prog) {
		c.approval("program %q is not on the shell allow-list", prog)
		return
	}
	if execPrograms[prog] {
		c.approval("program %q runs other commands", prog)
		return
	}

	args := make([]string, 0, len(x.Args)-1)
	for _, w := range x.Args[1:] {
		a, ok := wordText(w)
		if !ok {
			c.approval("argument of %q is expanded at run time", prog)
			return
		}
		args = append(args, a)
	}
	if flag, hit := execFlag(prog, args); hit {
		c.approval("%s %s can run commands or modify files", prog, flag)
		return
	}

	for _, a := range args {
		switch {
		case prog == "tee" && !strings.HasPrefix(a, "-"):
			c.path(a, domain.ActionWrite)
		case looksLikePath(a):
			c.path(a, domain.ActionRead)
		}
	}
}

// path applies the zone table to a file the command touches. Reading outside
// every zone asks a human instead of failing outright.
func (c *shellCheck) path(p string, action domain.ActionType) {
	if devStreams[p] {
		return
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		p = filepath.Join(c.snap.sandbox, strings.TrimPrefix(p, "~"))
	}
	canon, err := c.snap.canonical(p)
	if err != nil {
		c.raise(domain.DecisionRequiresApproval, domain.ZoneUnknown, fmt.Sprintf("cannot resolve %s: %v", p, err))
		return
	}
	zone := c.snap.zoneOf(canon)
	if g, hit := c.snap.deniedPath(canon); hit {
		c.raise(domain.DecisionDeny, zone, fmt.Sprintf("path %s matches denied pattern %q", canon, g))
		return
	}

	decision, ok := fileRules[zone][action]
	if !ok {
		decision = domain.DecisionDeny
		if action == domain.ActionRead {
			decision = domain.DecisionRequiresApproval
		}
	}
	if decision != domain.DecisionAllow {
		c.raise(decision, zone, fmt.Sprintf("%s of %s in %s zone: %s", action, canon, zone, decision))
	}
}

func (s *snapshot) programAllowed(prog string) bool {
	for _, g := range s.allowedCommands {
		if ok, _ := doublestar.Match(g, prog); ok {
			return true
		}
	}
	return false
}

// execFlag matches whole arguments, "--flag=value" and glued short options
// such as "-Ixz". For awk the program text itself is searched.
func execFlag(prog string, args []string) (string, bool) {
	flags := execFlags[prog]
	awk := prog == "awk" || prog == "gawk" || prog == "mawk"
	for _, a := range args {
		for _, f := range flags {
			switch {
			case awk && strings.Contains(a, f):
			case a == f:
			case strings.HasPrefix(f, "--") && strings.HasPrefix(a, f+"="):
			case len(f) == 2 && f[0] == '-' && f[1] != '-' && strings.HasPrefix(a, f):
			default:
				continue
			}
			return f, true
		}
	}
	return "", false
}

func looksLikePath(a string) bool {
	if strings.HasPrefix(a, "-") {
		return false
	}
	return strings.Contains(a, "/") || strings.HasPrefix(a, ".") || strings.HasPrefix(a, "~")
}

func isDescriptor(s string) bool {
	if s == "-" {
		return true
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// wordText returns the value of a word with quoting removed. Any expansion
// makes the word dynamic and the second result false.
func wordText(w *syntax.Word) (string, bool) {
	if w == nil {
		return "", false
	}
	var b strings.Builder
	for _, part := range w.Parts {
		if !appendPart(&b, part) {
			return "", false
		}
	}
	return b.String(), true
}

func appendPart(b *strings.Builder, part syntax.WordPart) bool {
	switch p := part.(type) {
	case *syntax.Lit:
		b.WriteString(unescape(p.Value))
	case *syntax.SglQuoted:
		if p.Dollar {
			return false
		}
		b.WriteString(p.Value)
	case *syntax.DblQuoted:
		if p.Dollar {
			return false
		}
		for _, q := range p.Parts {
			if !appendPart(b, q) {
				return false
			}
		}
	default:
		return false
	}
	return true
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			if r != '\n' {
				b.WriteRune(r)
			}
			escaped = false
		case r == '\\':
			escaped = true
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// unquote drops every quote and backslash so the hard-deny patterns see
// "rm" and r\m the way the shell will run them.
func unquote(cmd string) string {
	return strings.NewReplacer(`"`, "", `'`, "", `\`, "").Replace(cmd)
}
