package skills

import (
	"fmt"
	"sync"

	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"github.com/xela07ax/spaceai-agentcore/internal/llm"
)

// Registry maps skill names to skills. It is filled at startup and read-only
// afterwards; the tool catalog sent to the model is derived from it.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Skill
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Skill)}
}

// Register adds s. Duplicate or empty names are configuration errors.
func (r *Registry) Register(s Skill) error {
	name := s.Metadata().Name
	if name == "" {
		return fmt.Errorf("%w: skill with empty name", domain.ErrConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("%w: skill %q registered twice", domain.ErrConfig, name)
	}
	r.byName[name] = s
	r.order = append(r.order, name)
	return nil
}

// MustRegister panics on error; for startup wiring only.
func (r *Registry) MustRegister(skills ...Skill) {
	for _, s := range skills {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Get(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// All returns skills in registration order.
func (r *Registry) All() []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Skill, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Tools is the function-calling catalog, in registration order.
func (r *Registry) Tools() []llm.Tool {
	all := r.All()
	out := make([]llm.Tool, 0, len(all))
	for _, s := range all {
		out = append(out, s.Metadata().Tool())
	}
	return out
}
