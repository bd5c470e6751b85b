// Package fallback exposes the ordered list of provider pools a single
// segment download may walk through, and the per-job usage stats that
// ordering produces. The walking itself — how many attempts a provider gets
// before moving on — belongs to internal/segment, which owns each segment's
// domain.FallbackRecord; this package only hands out one pool at a time and
// records what happened to it.
package fallback

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/datallboy/gonzb/internal/domain"
	"github.com/datallboy/gonzb/internal/nntp"
	"github.com/datallboy/gonzb/internal/pool"
)

// Manager holds the provider order for a job: a primary pool plus its
// fallback chain, built either from the primary's own configured
// FallbackProviderIDs or, if that's empty, from a priority sort of every
// other configured pool.
type Manager struct {
	order []*pool.Pool
	byID  map[string]*pool.Pool

	mu    sync.Mutex
	stats map[string]*domain.ProviderStats
}

func NewManager(pools []*pool.Pool) *Manager {
	byID := make(map[string]*pool.Pool, len(pools))
	for _, p := range pools {
		byID[p.ProviderID()] = p
	}

	sorted := make([]*pool.Pool, len(pools))
	copy(sorted, pools)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority() < sorted[j].Priority() })

	var order []*pool.Pool
	if len(sorted) > 0 {
		primary := sorted[0]
		order = append(order, primary)

		if ids := primary.FallbackProviderIDs(); len(ids) > 0 {
			for _, id := range ids {
				if p, ok := byID[id]; ok && p != primary {
					order = append(order, p)
				}
			}
		} else {
			order = append(order, sorted[1:]...)
		}
	}

	return &Manager{
		order: order,
		byID:  byID,
		stats: make(map[string]*domain.ProviderStats),
	}
}

// Providers returns the fallback order: index 0 is primary.
func (m *Manager) Providers() []*pool.Pool { return m.order }

// PoolByID looks up a provider pool by id, regardless of its position in the
// fallback order.
func (m *Manager) PoolByID(providerID string) (*pool.Pool, bool) {
	p, ok := m.byID[providerID]
	return p, ok
}

// NextProvider returns the pool immediately after current in the fallback
// order, recording that a fallback was triggered onto it. Returns false if
// current is last (or not found).
func (m *Manager) NextProvider(current string) (*pool.Pool, bool) {
	for i, p := range m.order {
		if p.ProviderID() != current {
			continue
		}
		if i+1 >= len(m.order) {
			return nil, false
		}
		next := m.order[i+1]
		m.recordFallback(next.ProviderID())
		return next, true
	}
	return nil, false
}

// FetchFrom fetches a segment's article body from exactly one pool. The
// returned reader releases its connection back to the pool on Close.
func (m *Manager) FetchFrom(ctx context.Context, p *pool.Pool, seg *domain.Segment, groups []string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	reader, err := conn.Fetch(ctx, seg.MessageID, groups)
	if err != nil {
		p.Release(conn)
		return nil, err
	}

	return &releasingReader{ReadCloser: reader, pool: p, conn: conn}, nil
}

// RecordSuccess marks a segment as fetched from providerID.
func (m *Manager) RecordSuccess(providerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.statsFor(providerID)
	s.SegmentsFetched++
	s.LastUsed = time.Now()
}

func (m *Manager) recordFallback(providerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.statsFor(providerID)
	s.FallbacksTriggered++
}

func (m *Manager) statsFor(providerID string) *domain.ProviderStats {
	s, ok := m.stats[providerID]
	if !ok {
		s = &domain.ProviderStats{ProviderID: providerID}
		m.stats[providerID] = s
	}
	return s
}

// Stats returns a snapshot of per-provider counters accumulated so far.
func (m *Manager) Stats() []domain.ProviderStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.ProviderStats, 0, len(m.stats))
	for _, s := range m.stats {
		out = append(out, *s)
	}
	return out
}

// releasingReader drains and returns its connection to the pool exactly
// once, whether the caller reads to EOF or calls Close early.
type releasingReader struct {
	io.ReadCloser
	pool     *pool.Pool
	conn     *nntp.Connection
	released bool
}

func (r *releasingReader) Close() error {
	err := r.ReadCloser.Close()
	if !r.released {
		r.released = true
		r.pool.Release(r.conn)
	}
	return err
}
