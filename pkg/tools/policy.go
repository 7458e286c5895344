package tools

import (
	"context"
	"fmt"

	"github.com/Kylo111/make-it-heavy/pkg/llm"
)

// Policy restricts which tools are offered to agents. Deny wins over
// allow. An empty Allow list allows everything not denied.
type Policy struct {
	Allow []string `json:"allow" mapstructure:"allow"`
	Deny  []string `json:"deny" mapstructure:"deny"`
}

// Allows reports whether name passes the policy. The completion tool is
// always allowed so a restricted agent can still finish.
func (p *Policy) Allows(name string) bool {
	if name == CompletionToolName {
		return true
	}
	if p == nil {
		return true
	}
	for _, d := range p.Deny {
		if d == name || d == "*" {
			return false
		}
	}
	if len(p.Allow) == 0 {
		return true
	}
	for _, a := range p.Allow {
		if a == name || a == "*" {
			return true
		}
	}
	return false
}

// Set is the capability an agent needs from a tool collection.
type Set interface {
	ListTools() []llm.ToolDescriptor
	Invoke(ctx context.Context, name string, args map[string]any) Result
}

// Restrict returns a view of set that hides and refuses tools the policy
// does not allow. A nil policy returns set unchanged.
func Restrict(set Set, policy *Policy) Set {
	if policy == nil {
		return set
	}
	return &restricted{next: set, policy: policy}
}

type restricted struct {
	next   Set
	policy *Policy
}

func (r *restricted) ListTools() []llm.ToolDescriptor {
	all := r.next.ListTools()
	out := make([]llm.ToolDescriptor, 0, len(all))
	for _, t := range all {
		if r.policy.Allows(t.Name) {
			out = append(out, t)
		}
	}
	return out
}

func (r *restricted) Invoke(ctx context.Context, name string, args map[string]any) Result {
	if !r.policy.Allows(name) {
		return Result{Error: fmt.Sprintf("tool '%s' is not allowed by policy", name)}
	}
	return r.next.Invoke(ctx, name, args)
}
