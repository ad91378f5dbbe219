package incident

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/sleuthstack/sleuth-engine/internal/models"
)

// ErrNotFound signals a lookup for an unknown or closed incident. Closed
// contexts are removed from the index, not tombstoned.
var ErrNotFound = fmt.Errorf("incident not found")

// Registry owns the active-incident index. Correlation (lookup then create
// or attach) is atomic per scope: two concurrent triggers for the same scope
// and overlapping window resolve to one context, while unrelated scopes
// never serialize on each other.
type Registry struct {
	mu         sync.RWMutex
	byID       map[string]*Context
	scopeLocks map[string]*sync.Mutex
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:       make(map[string]*Context),
		scopeLocks: make(map[string]*sync.Mutex),
	}
}

// Resolve finds an open context whose scope matches exactly and whose
// incident window (fixed at creation, end-inclusive for correlation)
// contains the event anchor of the supplied windows; otherwise it creates a
// new context with those windows. The boolean reports whether a context was
// created.
func (r *Registry) Resolve(scope models.Scope, windows models.Windows) (*Context, bool) {
	lock := r.scopeLock(scope.Key())
	lock.Lock()
	defer lock.Unlock()

	if existing := r.findOpen(scope, windows); existing != nil {
		return existing, false
	}

	ctx := newContext("inc-"+uuid.NewString(), scope, windows)
	r.mu.Lock()
	r.byID[ctx.ID()] = ctx
	r.mu.Unlock()
	return ctx, true
}

// findOpen picks the attach target among matching contexts. Map iteration is
// unordered, so when two open windows for the same scope both contain the
// anchor the earliest-created context wins, with the id as the final
// tie-break.
func (r *Registry) findOpen(scope models.Scope, windows models.Windows) *Context {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var match *Context
	for _, ctx := range r.byID {
		if ctx.Scope() != scope {
			continue
		}
		if !ctx.Windows().ContainsIncident(windows.Anchor) {
			continue
		}
		if match == nil ||
			ctx.CreatedAt().Before(match.CreatedAt()) ||
			(ctx.CreatedAt().Equal(match.CreatedAt()) && ctx.ID() < match.ID()) {
			match = ctx
		}
	}
	return match
}

// Get returns the open context with the given id.
func (r *Registry) Get(id string) (*Context, error) {
	r.mu.RLock()
	ctx, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return ctx, nil
}

// Close transitions the context to closed and removes it from the index.
// After Close, Get returns ErrNotFound and correlation can no longer attach
// to the id.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	ctx, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	ctx.markClosed()
	return nil
}

// ActiveCount returns the number of open contexts.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry) scopeLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.scopeLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.scopeLocks[key] = lock
	}
	return lock
}
