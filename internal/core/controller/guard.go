package controller

import "sync"

// ActionKey identifies a pending action: kind:resourceID.
func ActionKey(kind, resourceID string) string {
	return kind + ":" + resourceID
}

// Guard tracks in-flight actions so the same action cannot be sent twice
// while the first is still pending.
type Guard struct {
	mu      sync.Mutex
	pending map[string]struct{}
}

func NewGuard() *Guard {
	return &Guard{pending: make(map[string]struct{})}
}

// Acquire marks key as pending. It returns false when key is already
// pending; otherwise the returned release func must be called once the
// action resolves.
func (g *Guard) Acquire(key string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.pending[key]; busy {
		return nil, false
	}
	g.pending[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.pending, key)
			g.mu.Unlock()
		})
	}, true
}

// Pending reports whether key is in flight.
func (g *Guard) Pending(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.pending[key]
	return busy
}
