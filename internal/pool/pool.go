// Package pool implements a bounded per-provider connection pool: an idle
// list of ready connections, an "all" list for lifecycle accounting, and a
// FIFO queue of callers waiting for a slot once the idle list is empty and
// the provider is already at MaxConnection.
package pool

import (
	"container/list"
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/datallboy/gonzb/internal/domain"
	"github.com/datallboy/gonzb/internal/nntp"
)

// registryCapacity bounds how many distinct provider pools the registry will
// hold onto at once. A process juggling many configured providers across
// many jobs shouldn't accumulate pools for providers nothing currently uses.
const registryCapacity = 64

type waiter struct {
	ready chan *nntp.Connection
}

// Pool manages every physical connection for a single provider.
type Pool struct {
	cfg domain.ProviderConfig

	mu      sync.Mutex
	idle    *list.List // *nntp.Connection
	all     int
	waiters *list.List // *waiter
}

func New(cfg domain.ProviderConfig) *Pool {
	p := &Pool{
		cfg:     cfg,
		idle:    list.New(),
		waiters: list.New(),
	}
	p.warmUp()
	return p
}

// warmUp eagerly opens min(2, MaxConnection) connections in the background
// so the first Acquire calls usually find an idle connection instead of
// paying dial latency. A connection that fails to warm up just never
// accounts against `all`; Acquire falls back to dialing on demand.
func (p *Pool) warmUp() {
	n := p.cfg.MaxConnection
	if n > 2 {
		n = 2
	}

	p.mu.Lock()
	for i := 0; i < n && p.all < p.cfg.MaxConnection; i++ {
		p.all++
	}
	opened := p.all
	p.mu.Unlock()

	for i := 0; i < opened; i++ {
		go func() {
			conn := nntp.NewConnection(p.cfg)
			if err := conn.Connect(context.Background()); err != nil {
				p.mu.Lock()
				p.all--
				p.mu.Unlock()
				return
			}
			p.Release(conn)
		}()
	}
}

// Capacity is the provider's configured MaxConnection.
func (p *Pool) Capacity() int {
	return p.cfg.MaxConnection
}

func (p *Pool) ProviderID() string { return p.cfg.ID }
func (p *Pool) Priority() int      { return p.cfg.Priority }

// FallbackProviderIDs is this provider's configured, ordered fallback list.
// Empty means the caller should fall back to a priority-sorted default.
func (p *Pool) FallbackProviderIDs() []string { return p.cfg.FallbackProviderIDs }

// RetryAttempts is how many times a segment download may retry against this
// provider before the fallback manager moves on to the next one.
func (p *Pool) RetryAttempts() int {
	if p.cfg.RetryAttempts <= 0 {
		return 3
	}
	return p.cfg.RetryAttempts
}

// RetryBackoffMs is the base delay between retries against this provider;
// segment.Downloader applies exponential backoff on top of it.
func (p *Pool) RetryBackoffMs() int {
	if p.cfg.RetryBackoffMs <= 0 {
		return 2000
	}
	return p.cfg.RetryBackoffMs
}

// Acquire returns a ready connection: reusing an idle one, opening a new one
// if under capacity, or queuing (FIFO) until one is released or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*nntp.Connection, error) {
	p.mu.Lock()

	if e := p.idle.Front(); e != nil {
		conn := p.idle.Remove(e).(*nntp.Connection)
		p.mu.Unlock()
		return conn, nil
	}

	if p.all < p.cfg.MaxConnection {
		p.all++
		p.mu.Unlock()

		conn := nntp.NewConnection(p.cfg)
		if err := conn.Connect(ctx); err != nil {
			p.mu.Lock()
			p.all--
			p.mu.Unlock()
			return nil, err
		}
		return conn, nil
	}

	w := &waiter{ready: make(chan *nntp.Connection, 1)}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()

	select {
	case conn := <-w.ready:
		return conn, nil
	case <-ctx.Done():
		p.mu.Lock()
		p.waiters.Remove(elem)
		p.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Release returns a connection to the idle list, or hands it directly to the
// longest-waiting caller if one is queued.
func (p *Pool) Release(conn *nntp.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn.State() == domain.StateError {
		p.all--
		_ = conn.Close()
		p.wakeOneWithNewConnection()
		return
	}

	if e := p.waiters.Front(); e != nil {
		w := p.waiters.Remove(e).(*waiter)
		w.ready <- conn
		return
	}

	p.idle.PushBack(conn)
}

// wakeOneWithNewConnection is called with the mutex held after a dead
// connection freed up a capacity slot; it opens a replacement for the
// longest-waiting caller, if any.
func (p *Pool) wakeOneWithNewConnection() {
	e := p.waiters.Front()
	if e == nil {
		return
	}
	w := p.waiters.Remove(e).(*waiter)
	p.all++

	go func() {
		conn := nntp.NewConnection(p.cfg)
		if err := conn.Connect(context.Background()); err != nil {
			p.mu.Lock()
			p.all--
			p.mu.Unlock()
			close(w.ready)
			return
		}
		w.ready <- conn
	}()
}

// Discard removes a broken connection from accounting without running the
// wake-a-waiter path (used when the caller itself will retry elsewhere).
func (p *Pool) Discard(conn *nntp.Connection) {
	p.mu.Lock()
	p.all--
	p.mu.Unlock()
	_ = conn.Close()
}

// CloseAll tears down every idle connection and drains waiters with an
// error. In-flight (acquired) connections are closed as they're released.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for e := p.idle.Front(); e != nil; e = e.Next() {
		conn := e.Value.(*nntp.Connection)
		_ = conn.Close()
	}
	p.idle.Init()

	for e := p.waiters.Front(); e != nil; e = e.Next() {
		close(e.Value.(*waiter).ready)
	}
	p.waiters.Init()
}

// Registry caps the number of provider pools tracked per process via an LRU,
// so a long-lived engine juggling many configured providers across many jobs
// doesn't accumulate unbounded pools for providers no job currently uses.
// Eviction closes the evicted pool's connections rather than leaking them.
type Registry struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *Pool]
}

func NewRegistry() *Registry {
	cache, err := lru.NewWithEvict(registryCapacity, func(_ string, p *Pool) {
		p.CloseAll()
	})
	if err != nil {
		// Only returns an error for a non-positive size, which registryCapacity
		// never is.
		panic(err)
	}
	return &Registry{cache: cache}
}

// GetOrCreate returns the pool for a provider config, creating it on first
// use and reusing it across jobs for the lifetime of the process.
func (r *Registry) GetOrCreate(cfg domain.ProviderConfig) *Pool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.cache.Get(cfg.ID); ok {
		return p
	}
	p := New(cfg)
	r.cache.Add(cfg.ID, p)
	return p
}

func (r *Registry) Get(providerID string) (*Pool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Get(providerID)
}

// TotalCapacity sums every registered provider's MaxConnection — the same
// value the orchestrator's worker-pool bound derives from.
func (r *Registry) TotalCapacity() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, providerID := range r.cache.Keys() {
		if p, ok := r.cache.Peek(providerID); ok {
			total += p.Capacity()
		}
	}
	return total
}

func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, providerID := range r.cache.Keys() {
		if p, ok := r.cache.Peek(providerID); ok {
			p.CloseAll()
		}
	}
	return nil
}
