package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxCalls        = 30
	DefaultWindowSeconds   = 60
	DefaultApprovalTimeout = 300 * time.Second
	defaultRateLimitKey    = "default"
)

// FileConfig is the on-disk shape of policy.yaml.
type FileConfig struct {
	Zones          ZonesConfig          `yaml:"zones"`
	DenyPaths      []string             `yaml:"deny_paths"`
	Shell          ShellConfig          `yaml:"shell"`
	ExternalAccess ExternalAccessConfig `yaml:"external_access"`
	RateLimits     map[string]RateLimit `yaml:"rate_limits"`
	Approval       ApprovalConfig       `yaml:"approval"`
}

// ZonesConfig lists the filesystem roots of each zone. A path under none of
// them is in the unknown zone.
type ZonesConfig struct {
	Sandbox  []string `yaml:"sandbox"`
	Identity []string `yaml:"identity"`
	System   []string `yaml:"system"`
}

type ShellConfig struct {
	// AllowedCommands are glob patterns over program names ("ls", "git*").
	AllowedCommands []string `yaml:"allowed_commands"`
}

type ExternalAccessConfig struct {
	DeniedURLPatterns []string `yaml:"denied_url_patterns"`
}

type RateLimit struct {
	MaxCalls      int `yaml:"max_calls"`
	WindowSeconds int `yaml:"window_seconds"`
}

func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

type ApprovalConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type zoneRoot struct {
	zone domain.Zone
	path string
}

// snapshot is the compiled, immutable form of a FileConfig. Reload swaps whole
// snapshots so readers never see a half-applied file.
type snapshot struct {
	roots           []zoneRoot // longest first
	sandbox         string     // first configured sandbox root
	denyPaths       []string
	allowedCommands []string
	deniedURLs      []*regexp.Regexp
	rateLimits      map[string]RateLimit
	approvalTimeout time.Duration
}

// ParseFile decodes policy YAML strictly: unknown keys are errors.
func ParseFile(r io.Reader) (*FileConfig, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg FileConfig
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: decode policy: %v", domain.ErrConfig, err)
	}
	return &cfg, nil
}

func loadFile(path string) (*snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read policy %s: %v", domain.ErrConfig, path, err)
	}
	cfg, err := ParseFile(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return compile(cfg)
}

func compile(cfg *FileConfig) (*snapshot, error) {
	s := &snapshot{
		rateLimits: map[string]RateLimit{
			defaultRateLimitKey: {MaxCalls: DefaultMaxCalls, WindowSeconds: DefaultWindowSeconds},
		},
		approvalTimeout: DefaultApprovalTimeout,
	}

	addRoots := func(zone domain.Zone, paths []string) error {
		for _, p := range paths {
			if p == "" {
				return fmt.Errorf("%w: empty %s root", domain.ErrConfig, zone)
			}
			abs, err := filepath.Abs(p)
			if err != nil {
				return fmt.Errorf("%w: %s root %q: %v", domain.ErrConfig, zone, p, err)
			}
			canon, err := canonicalize(abs)
			if err != nil {
				return fmt.Errorf("%w: %s root %q: %v", domain.ErrConfig, zone, p, err)
			}
			if zone == domain.ZoneSandbox && s.sandbox == "" {
				s.sandbox = canon
			}
			s.roots = append(s.roots, zoneRoot{zone: zone, path: canon})
		}
		return nil
	}
	if len(cfg.Zones.Sandbox) == 0 {
		return nil, fmt.Errorf("%w: at least one sandbox root is required", domain.ErrConfig)
	}
	if err := addRoots(domain.ZoneSandbox, cfg.Zones.Sandbox); err != nil {
		return nil, err
	}
	if err := addRoots(domain.ZoneIdentity, cfg.Zones.Identity); err != nil {
		return nil, err
	}
	if err := addRoots(domain.ZoneSystem, cfg.Zones.System); err != nil {
		return nil, err
	}
	sort.SliceStable(s.roots, func(i, j int) bool {
		return len(s.roots[i].path) > len(s.roots[j].path)
	})

	for _, g := range cfg.DenyPaths {
		if !doublestar.ValidatePattern(g) {
			return nil, fmt.Errorf("%w: bad deny_paths pattern %q", domain.ErrConfig, g)
		}
		s.denyPaths = append(s.denyPaths, g)
	}

	for _, g := range cfg.Shell.AllowedCommands {
		if !doublestar.ValidatePattern(g) {
			return nil, fmt.Errorf("%w: bad shell.allowed_commands pattern %q", domain.ErrConfig, g)
		}
		s.allowedCommands = append(s.allowedCommands, g)
	}

	for _, p := range cfg.ExternalAccess.DeniedURLPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("%w: bad denied_url_patterns entry %q: %v", domain.ErrConfig, p, err)
		}
		s.deniedURLs = append(s.deniedURLs, re)
	}

	for key, rl := range cfg.RateLimits {
		if rl.MaxCalls <= 0 || rl.WindowSeconds <= 0 {
			return nil, fmt.Errorf("%w: rate_limits.%s needs positive max_calls and window_seconds", domain.ErrConfig, key)
		}
		s.rateLimits[key] = rl
	}

	if t := cfg.Approval.TimeoutSeconds; t < 0 {
		return nil, fmt.Errorf("%w: approval.timeout_seconds must not be negative", domain.ErrConfig)
	} else if t > 0 {
		s.approvalTimeout = time.Duration(t) * time.Second
	}

	return s, nil
}

func (s *snapshot) limitFor(key string) RateLimit {
	if rl, ok := s.rateLimits[key]; ok {
		return rl
	}
	return s.rateLimits[defaultRateLimitKey]
}
