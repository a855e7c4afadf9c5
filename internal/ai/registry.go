package ai

import (
	"strings"
	"sync"
)

// Registry routes a provider kind ("openai", "openrouter", "gemini", "mock")
// to its Gateway. Unknown kinds resolve to UnsupportedGateway, which fails the
// turn through the uniform error path.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

func (r *Registry) Register(kind string, g Gateway) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[kind] = g
}

// GatewayFor never returns nil.
func (r *Registry) GatewayFor(kind string) Gateway {
	kind = strings.ToLower(strings.TrimSpace(kind))
	r.mu.RLock()
	g, ok := r.gateways[kind]
	r.mu.RUnlock()
	if !ok {
		return &UnsupportedGateway{Kind: kind}
	}
	return g
}
