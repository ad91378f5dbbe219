package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryProvider is a process-local Provider used in tests and single-node
// deployments that run without a cache server.
type MemoryProvider struct {
	mu   sync.RWMutex
	data map[string]memoryItem
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryProvider creates an empty in-memory cache.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{data: make(map[string]memoryItem)}
}

// Get retrieves a value if present and not expired.
func (p *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	p.mu.RLock()
	it, ok := p.data[key]
	p.mu.RUnlock()
	if !ok {
		return nil, ErrCacheMiss
	}
	if !it.expiresAt.IsZero() && time.Now().After(it.expiresAt) {
		p.mu.Lock()
		delete(p.data, key)
		p.mu.Unlock()
		return nil, ErrCacheMiss
	}
	return it.value, nil
}

// Set stores a value; a non-positive TTL means no expiry.
func (p *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	p.mu.Lock()
	p.data[key] = memoryItem{value: value, expiresAt: expires}
	p.mu.Unlock()
	return nil
}

// SetNX stores the value only when the key is absent or expired.
func (p *MemoryProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if _, err := p.Get(ctx, key); err == nil {
		return false, nil
	}
	return true, p.Set(ctx, key, value, ttl)
}

// Del removes an entry.
func (p *MemoryProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.data, key)
	p.mu.Unlock()
	return nil
}

// Close is a no-op for the in-memory cache.
func (p *MemoryProvider) Close() error { return nil }
