package cdp

import (
	"context"
	"sync"

	"github.com/grafana/browserguard/log"
)

// Registry holds at most one open connection per tab websocket URL.
type Registry struct {
	logger *log.Logger

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewRegistry returns an empty Registry.
func NewRegistry(logger *log.Logger) *Registry {
	return &Registry{
		logger: logger,
		conns:  make(map[string]*Conn),
	}
}

// Connect dials addr and stores the new connection, closing any connection
// previously held for addr.
func (r *Registry) Connect(ctx context.Context, addr string) (*Conn, error) {
	c, err := dial(ctx, addr, r.logger)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	old := r.conns[addr]
	r.conns[addr] = c
	r.mu.Unlock()

	if old != nil {
		r.logger.Debugf("cdp:registry", "replacing connection to %q", addr)
		old.Close()
	}

	return c, nil
}

// Get returns the open connection for addr, if any.
func (r *Registry) Get(addr string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[addr]
	return c, ok
}

// Acquire returns the open connection for addr, dialing a new one when
// there is none or the stored one is broken.
func (r *Registry) Acquire(ctx context.Context, addr string) (*Conn, error) {
	if c, ok := r.Get(addr); ok && !c.Broken() {
		return c, nil
	}
	return r.Connect(ctx, addr)
}

// Evict closes and forgets the connection for addr.
func (r *Registry) Evict(addr string) {
	r.mu.Lock()
	c, ok := r.conns[addr]
	delete(r.conns, addr)
	r.mu.Unlock()

	if ok {
		r.logger.Debugf("cdp:registry", "evicting connection to %q", addr)
		c.Close()
	}
}

// CloseAll closes and forgets every connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*Conn)
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	if len(conns) > 0 {
		r.logger.Debugf("cdp:registry", "closed %d connections", len(conns))
	}
}

// Len returns the number of stored connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.conns)
}
