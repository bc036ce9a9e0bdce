package llmclient

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/lmbridge/lmbridge/internal/config"
)

// Pool caches one Client per backend identity so reloads that leave a
// backend untouched keep its connection pool warm.
type Pool struct {
	clients map[string]*Client
	mutex   sync.RWMutex
}

// NewPool creates an empty client pool
func NewPool() *Pool {
	return &Pool{
		clients: make(map[string]*Client),
	}
}

// Get returns the client for a backend, creating it on first use
func (p *Pool) Get(backend config.Backend) *Client {
	key := backendKey(backend)

	p.mutex.RLock()
	if client, exists := p.clients[key]; exists {
		p.mutex.RUnlock()
		return client
	}
	p.mutex.RUnlock()

	p.mutex.Lock()
	defer p.mutex.Unlock()

	// Double-check after acquiring write lock to avoid race conditions
	if client, exists := p.clients[key]; exists {
		return client
	}

	logrus.Debugf("creating client for backend %s (%s)", backend.Name, backend.BaseURL)
	client := New(backend)
	p.clients[key] = client
	return client
}

// Clear removes all clients from the pool
func (p *Pool) Clear() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.clients = make(map[string]*Client)
}

// Size returns the number of cached clients
func (p *Pool) Size() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return len(p.clients)
}

// backendKey identifies a backend by name, URL and hashed key, so a
// credential rotation produces a fresh client.
func backendKey(backend config.Backend) string {
	return fmt.Sprintf("%s:%s:%s", backend.Name, backend.BaseURL, hashToken(backend.APIKey))
}

// hashToken creates a short hash of the token for key generation
func hashToken(token string) string {
	if token == "" {
		return ""
	}
	h := sha256.New()
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
