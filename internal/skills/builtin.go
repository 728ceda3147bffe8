package skills

import "github.com/xela07ax/spaceai-agentcore/internal/policy"

// Builtins returns the standard skill set in catalog order.
func Builtins(p policy.Enforcer, memory MemoryStore, search SearchConfig) []Skill {
	return []Skill{
		NewWebSearch(p, search),
		NewFileRead(p),
		NewFileWrite(p),
		NewPDFParse(p),
		NewShellExec(p),
		NewURLFetch(p),
		NewHTTPRequest(p),
		NewRemember(memory),
		NewRecall(memory),
	}
}
