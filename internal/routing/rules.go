package routing

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/sirupsen/logrus"
)

// RequestTraits describes one inbound request for cache-rule matching.
type RequestTraits struct {
	Model        string `expr:"Model"`
	ToolCount    int    `expr:"ToolCount"`
	MessageCount int    `expr:"MessageCount"`
	Streaming    bool   `expr:"Streaming"`
}

// CacheRules holds the compiled opt-in eligibility predicates. A
// request matching any rule becomes cache-eligible without carrying a
// cache_control marker. A nil *CacheRules matches nothing.
type CacheRules struct {
	mu       sync.RWMutex
	programs []*vm.Program
}

// NewCacheRules compiles the configured rule expressions.
func NewCacheRules(exprs []string) (*CacheRules, error) {
	r := &CacheRules{}
	if err := r.SetRules(exprs); err != nil {
		return nil, err
	}
	return r, nil
}

// SetRules replaces the rule set, for config hot reload.
func (r *CacheRules) SetRules(exprs []string) error {
	programs := make([]*vm.Program, 0, len(exprs))
	for i, s := range exprs {
		program, err := expr.Compile(s, expr.Env(RequestTraits{}))
		if err != nil {
			return fmt.Errorf("cache_rules[%d]: invalid expression %q: %w", i, s, err)
		}
		programs = append(programs, program)
	}

	r.mu.Lock()
	r.programs = programs
	r.mu.Unlock()
	return nil
}

// Match reports whether any rule selects the request. A rule that
// fails to evaluate or yields a non-bool is skipped.
func (r *CacheRules) Match(traits RequestTraits) bool {
	if r == nil {
		return false
	}

	r.mu.RLock()
	programs := r.programs
	r.mu.RUnlock()

	for _, program := range programs {
		out, err := expr.Run(program, traits)
		if err != nil {
			logrus.Debugf("cache rule evaluation failed: %v", err)
			continue
		}
		if matched, ok := out.(bool); ok && matched {
			return true
		}
	}
	return false
}
