package llmclient

import (
	"testing"

	"github.com/lmbridge/lmbridge/internal/config"
)

func TestPool_GetReturnsSameClient(t *testing.T) {
	pool := NewPool()

	backend := config.Backend{
		Name:    "mlx",
		BaseURL: "http://mlx.local:8080/v1",
		APIKey:  "sk-local-12345678",
	}

	client1 := pool.Get(backend)
	if client1 == nil {
		t.Fatal("Expected non-nil client")
	}

	client2 := pool.Get(backend)
	if client1 != client2 {
		t.Error("Expected same client instance for same backend")
	}

	if pool.Size() != 1 {
		t.Errorf("Expected pool size 1, got %d", pool.Size())
	}
}

func TestPool_DifferentBackends(t *testing.T) {
	pool := NewPool()

	backend1 := config.Backend{Name: "a", BaseURL: "http://a.local/v1"}
	backend2 := config.Backend{Name: "b", BaseURL: "http://b.local/v1"}

	client1 := pool.Get(backend1)
	client2 := pool.Get(backend2)
	if client1 == client2 {
		t.Error("Expected distinct clients for distinct backends")
	}

	if pool.Size() != 2 {
		t.Errorf("Expected pool size 2, got %d", pool.Size())
	}
}

func TestPool_KeyRotationCreatesNewClient(t *testing.T) {
	pool := NewPool()

	backend := config.Backend{Name: "mlx", BaseURL: "http://mlx.local/v1", APIKey: "old"}
	client1 := pool.Get(backend)

	backend.APIKey = "new"
	client2 := pool.Get(backend)

	if client1 == client2 {
		t.Error("Expected a fresh client after key rotation")
	}
	if pool.Size() != 2 {
		t.Errorf("Expected pool size 2, got %d", pool.Size())
	}
}

func TestPool_Clear(t *testing.T) {
	pool := NewPool()
	pool.Get(config.Backend{Name: "a", BaseURL: "http://a.local/v1"})
	pool.Clear()

	if pool.Size() != 0 {
		t.Errorf("Expected empty pool after Clear, got %d", pool.Size())
	}
}

func TestClient_BackendAccessor(t *testing.T) {
	backend := config.Backend{Name: "mlx", BaseURL: "http://mlx.local/v1"}
	client := New(backend)

	if client.Backend().Name != "mlx" {
		t.Errorf("Expected backend name mlx, got %q", client.Backend().Name)
	}
}
