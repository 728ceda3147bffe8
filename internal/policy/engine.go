package policy

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"github.com/xela07ax/spaceai-agentcore/internal/infra"
	"go.uber.org/zap"
)

// fileRules is the fixed action table per zone. Unknown (and anything missing
// here) is deny.
var fileRules = map[domain.Zone]map[domain.ActionType]domain.Decision{
	domain.ZoneSandbox: {
		domain.ActionRead:    domain.DecisionAllow,
		domain.ActionWrite:   domain.DecisionAllow,
		domain.ActionExecute: domain.DecisionAllow,
	},
	domain.ZoneIdentity: {
		domain.ActionRead:    domain.DecisionAllow,
		domain.ActionWrite:   domain.DecisionRequiresApproval,
		domain.ActionExecute: domain.DecisionDeny,
	},
	domain.ZoneSystem: {
		domain.ActionRead:    domain.DecisionAllow,
		domain.ActionWrite:   domain.DecisionDeny,
		domain.ActionExecute: domain.DecisionDeny,
	},
}

var methodActions = map[string]domain.ActionType{
	"GET":    domain.ActionHTTPGet,
	"HEAD":   domain.ActionHTTPGet,
	"POST":   domain.ActionHTTPPost,
	"PUT":    domain.ActionHTTPPut,
	"PATCH":  domain.ActionHTTPPatch,
	"DELETE": domain.ActionHTTPDelete,
}

func riskFor(d domain.Decision) domain.RiskLevel {
	switch d {
	case domain.DecisionAllow:
		return domain.RiskLow
	case domain.DecisionRequiresApproval:
		return domain.RiskMedium
	}
	return domain.RiskHigh
}

// Engine evaluates every proposed action against the current policy snapshot.
// Construct once at startup and share; all methods are safe for concurrent use.
type Engine struct {
	path    string
	counter Counter
	logger  *zap.Logger

	mu   sync.RWMutex
	snap *snapshot

	reloadFailures atomic.Int64
}

// NewEngine loads the policy file at path. A file that cannot be read, parsed or
// compiled is a startup error wrapping domain.ErrConfig.
func NewEngine(path string, counter Counter, logger *zap.Logger) (*Engine, error) {
	snap, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	e := &Engine{path: path, counter: counter, logger: logger.Named("policy"), snap: snap}
	e.logSnapshot("policy loaded")
	return e, nil
}

// NewEngineFromConfig builds an engine from an in-memory config. Reload is not
// available on such an engine.
func NewEngineFromConfig(cfg *FileConfig, counter Counter, logger *zap.Logger) (*Engine, error) {
	snap, err := compile(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{counter: counter, logger: logger.Named("policy"), snap: snap}, nil
}

func (e *Engine) current() *snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

// Reload re-reads the policy file. On any error the previous snapshot stays
// active and the error is returned.
func (e *Engine) Reload() error {
	if e.path == "" {
		return fmt.Errorf("%w: engine has no policy file to reload", domain.ErrConfig)
	}
	snap, err := loadFile(e.path)
	if err != nil {
		e.reloadFailures.Add(1)
		e.logger.Warn("policy reload rejected, keeping previous config", zap.Error(err))
		return err
	}

	e.mu.Lock()
	e.snap = snap
	e.mu.Unlock()

	e.logSnapshot("policy reloaded")
	return nil
}

// ListenForReload reloads on every signal published to the policy update channel,
// so a reload requested on one instance reaches all of them. Blocks until ctx ends.
func (e *Engine) ListenForReload(ctx context.Context, rdb redis.UniversalClient) {
	infra.ListenStateResilient(ctx, rdb, e.logger, infra.RedisChanPolicyUpdate, nil,
		func(payload string) {
			e.logger.Info("policy update signal received", zap.String("from", payload))
			if err := e.Reload(); err != nil {
				e.logger.Error("cluster policy update rejected on this instance",
					zap.String("from", payload), zap.Int64("failures", e.ReloadFailures()), zap.Error(err))
			}
		},
	)
}

// ReloadFailures counts reloads rejected since start.
func (e *Engine) ReloadFailures() int64 {
	return e.reloadFailures.Load()
}

func (e *Engine) logSnapshot(msg string) {
	s := e.current()
	e.logger.Info(msg,
		zap.String("path", e.path),
		zap.Int("zone_roots", len(s.roots)),
		zap.Int("deny_paths", len(s.denyPaths)),
		zap.Int("url_patterns", len(s.deniedURLs)),
		zap.Int("rate_limits", len(s.rateLimits)),
		zap.Duration("approval_timeout", s.approvalTimeout),
	)
}

// ApprovalTimeout is how long a gated action waits for a human.
func (e *Engine) ApprovalTimeout() time.Duration {
	return e.current().approvalTimeout
}

// SandboxRoot is the canonical primary sandbox directory.
func (e *Engine) SandboxRoot() string {
	return e.current().sandbox
}

// Roots returns the canonical roots of every configured zone.
func (e *Engine) Roots() map[domain.Zone][]string {
	out := make(map[domain.Zone][]string)
	for _, r := range e.current().roots {
		out[r.zone] = append(out[r.zone], r.path)
	}
	return out
}

// Canonicalize resolves path to its symlink-free absolute form. Relative paths
// are taken relative to the sandbox root.
func (e *Engine) Canonicalize(path string) (string, error) {
	return e.current().canonical(path)
}

func (s *snapshot) canonical(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.sandbox, path)
	}
	return canonicalize(path)
}

// ResolveZone classifies the fully resolved form of path. Anything that cannot
// be resolved or lies outside every root is unknown.
func (e *Engine) ResolveZone(path string) domain.Zone {
	s := e.current()
	canon, err := s.canonical(path)
	if err != nil {
		return domain.ZoneUnknown
	}
	return s.zoneOf(canon)
}

func (s *snapshot) zoneOf(canon string) domain.Zone {
	for _, r := range s.roots {
		if within(canon, r.path) {
			return r.zone
		}
	}
	return domain.ZoneUnknown
}

// CheckFileAccess decides a filesystem action on path.
func (e *Engine) CheckFileAccess(path string, action domain.ActionType) domain.PolicyResult {
	s := e.current()

	canon, err := s.canonical(path)
	if err != nil {
		return domain.PolicyResult{
			Zone: domain.ZoneUnknown, Action: action, Decision: domain.DecisionDeny,
			RiskLevel: domain.RiskHigh, Reason: fmt.Sprintf("cannot resolve path: %v", err),
		}
	}
	zone := s.zoneOf(canon)

	if g, ok := s.deniedPath(canon); ok {
		return domain.PolicyResult{
			Zone: zone, Action: action, Decision: domain.DecisionDeny,
			RiskLevel: domain.RiskHigh, Reason: fmt.Sprintf("path %s matches denied pattern %q", canon, g),
		}
	}

	decision, ok := fileRules[zone][action]
	if !ok {
		decision = domain.DecisionDeny
	}

	reason := fmt.Sprintf("%s in %s zone: %s", action, zone, decision)
	if zone == domain.ZoneUnknown {
		reason = fmt.Sprintf("path %s is outside all known zones", canon)
	}
	return domain.PolicyResult{
		Zone: zone, Action: action, Decision: decision,
		RiskLevel: riskFor(decision), Reason: reason,
	}
}

func (s *snapshot) deniedPath(canon string) (string, bool) {
	rel := strings.TrimPrefix(filepath.ToSlash(canon), "/")
	for _, g := range s.denyPaths {
		if ok, _ := doublestar.Match(strings.TrimPrefix(g, "/"), rel); ok {
			return g, true
		}
	}
	return "", false
}

// CheckShellCommand runs the hard-deny list first, on the raw text and again
// with quoting removed. Whatever passes is parsed: every program must be on the
// allow-list and must not be able to start other programs, and every file the
// command redirects to or names is held to the zone table.
func (e *Engine) CheckShellCommand(cmd string) domain.PolicyResult {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return domain.PolicyResult{
			Zone: domain.ZoneSandbox, Action: domain.ActionShell, Decision: domain.DecisionDeny,
			RiskLevel: domain.RiskLow, Reason: "empty command",
		}
	}

	for _, text := range []string{cmd, unquote(cmd)} {
		if name, hit := matchHardDeny(text); hit {
			return domain.PolicyResult{
				Zone: domain.ZoneSystem, Action: domain.ActionShell, Decision: domain.DecisionDeny,
				RiskLevel: domain.RiskCritical, Reason: fmt.Sprintf("command matches deny pattern: %s", name),
			}
		}
	}

	return e.current().checkShell(cmd)
}

// CheckHTTPAccess decides an outbound request. Denied URL patterns win over any
// method rule.
func (e *Engine) CheckHTTPAccess(rawURL, method string) domain.PolicyResult {
	method = strings.ToUpper(strings.TrimSpace(method))
	action, known := methodActions[method]
	if !known {
		action = domain.ActionHTTPPost
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return domain.PolicyResult{
			Zone: domain.ZoneExternal, Action: action, Decision: domain.DecisionDeny,
			RiskLevel: domain.RiskHigh, Reason: fmt.Sprintf("invalid or unsupported URL %q", rawURL),
		}
	}

	s := e.current()
	for _, re := range s.deniedURLs {
		if re.MatchString(rawURL) {
			return domain.PolicyResult{
				Zone: domain.ZoneExternal, Action: action, Decision: domain.DecisionDeny,
				RiskLevel: domain.RiskCritical, Reason: fmt.Sprintf("URL matches denied pattern: %s", re.String()),
			}
		}
	}

	if action == domain.ActionHTTPGet {
		return domain.PolicyResult{
			Zone: domain.ZoneExternal, Action: action, Decision: domain.DecisionAllow,
			RiskLevel: domain.RiskLow, Reason: "read-only request",
		}
	}

	risk := domain.RiskMedium
	if action == domain.ActionHTTPDelete {
		risk = domain.RiskHigh
	}
	return domain.PolicyResult{
		Zone: domain.ZoneExternal, Action: action, Decision: domain.DecisionRequiresApproval,
		RiskLevel: risk, Reason: fmt.Sprintf("%s requests mutate external state", method),
	}
}

// CheckRateLimit counts one call against key. A counter failure denies: an
// unmetered skill is worse than an unavailable one.
func (e *Engine) CheckRateLimit(ctx context.Context, key string) domain.PolicyResult {
	rl := e.current().limitFor(key)

	n, err := e.counter.Incr(ctx, key, rl.Window())
	if err != nil {
		e.logger.Error("rate limit counter unavailable", zap.String("key", key), zap.Error(err))
		return domain.PolicyResult{
			Zone: domain.ZoneSystem, Action: domain.ActionRateLimit, Decision: domain.DecisionDeny,
			RiskLevel: domain.RiskHigh, Reason: "rate limiter unavailable",
		}
	}

	if n > int64(rl.MaxCalls) {
		return domain.PolicyResult{
			Zone: domain.ZoneSystem, Action: domain.ActionRateLimit, Decision: domain.DecisionDeny,
			RiskLevel: domain.RiskMedium,
			Reason:    fmt.Sprintf("rate limit exceeded for %s: %d/%d per %ds", key, n, rl.MaxCalls, rl.WindowSeconds),
		}
	}

	return domain.PolicyResult{
		Zone: domain.ZoneSystem, Action: domain.ActionRateLimit, Decision: domain.DecisionAllow,
		RiskLevel: domain.RiskLow, Reason: fmt.Sprintf("%d/%d calls in window", n, rl.MaxCalls),
	}
}
