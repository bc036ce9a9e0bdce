// Package routing resolves inbound model names to configured backends
// and evaluates the opt-in cache eligibility rules.
package routing

import (
	"fmt"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gobwas/glob"

	"github.com/lmbridge/lmbridge/internal/config"
)

// Router maps model names onto backends. Routes are evaluated in
// declaration order and the first glob match wins; no match falls
// through to the implicit default backend.
type Router struct {
	cfg    *config.Config
	mu     sync.RWMutex
	routes []compiledRoute
}

type compiledRoute struct {
	pattern glob.Glob
	backend string
}

// NewRouter compiles the route table from the current config.
func NewRouter(cfg *config.Config) (*Router, error) {
	r := &Router{cfg: cfg}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload recompiles the route table after a config change.
func (r *Router) Reload() error {
	routes := r.cfg.GetRoutes()
	compiled := make([]compiledRoute, 0, len(routes))
	for i, route := range routes {
		g, err := glob.Compile(route.ModelGlob)
		if err != nil {
			return fmt.Errorf("routes[%d]: invalid model_glob %q: %w", i, route.ModelGlob, err)
		}
		compiled = append(compiled, compiledRoute{pattern: g, backend: route.Backend})
	}

	r.mu.Lock()
	r.routes = compiled
	r.mu.Unlock()
	return nil
}

// Resolve returns the backend serving the given model. Backends are
// looked up at call time, so a route whose backend disappeared in a
// reload falls through to the next match.
func (r *Router) Resolve(model string) config.Backend {
	r.mu.RLock()
	routes := r.routes
	r.mu.RUnlock()

	for _, route := range routes {
		if !route.pattern.Match(model) {
			continue
		}
		if b, ok := r.cfg.GetBackend(route.backend); ok {
			return b
		}
	}
	return r.cfg.DefaultBackend()
}

// SupportsImages reports whether the model on this backend accepts
// image blocks, per the backend's image_models patterns.
func SupportsImages(b config.Backend, model string) bool {
	for _, pattern := range b.ImageModels {
		if ok, err := doublestar.Match(pattern, model); err == nil && ok {
			return true
		}
	}
	return false
}
