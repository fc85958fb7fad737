package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc is a type-erased job handler that accepts the raw JSON
// payload and returns the raw JSON result. The typed Definition is
// converted to a HandlerFunc at registration time.
type HandlerFunc func(ctx context.Context, payload []byte) (json.RawMessage, error)

// Registry maps job types to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Type]HandlerFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[Type]HandlerFunc),
	}
}

// RegisterDefinition registers a typed definition. The payload is decoded
// and validated before the typed handler runs, so a malformed payload
// fails with ErrInvalidPayload instead of reaching the handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[P Payload, R any](r *Registry, def *Definition[P, R]) {
	handler := func(ctx context.Context, payload []byte) (json.RawMessage, error) {
		var p P
		if err := decodeStrict(payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, def.Type, err)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		res, err := def.Handler(ctx, p)
		if err != nil {
			return nil, err
		}
		out, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("marshal result for job type %q: %w", def.Type, err)
		}
		return out, nil
	}
	r.Register(def.Type, handler)
}

// Register installs a raw handler for t, replacing any previous one.
func (r *Registry) Register(t Type, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// Get returns the handler for t.
func (r *Registry) Get(t Type) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Types returns the registered job types, sorted.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, k int) bool { return types[i] < types[k] })
	return types
}
