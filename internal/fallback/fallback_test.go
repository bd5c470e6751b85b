package fallback

import (
	"testing"

	"github.com/datallboy/gonzb/internal/domain"
	"github.com/datallboy/gonzb/internal/pool"
)

func testPool(id string, priority int, fallbackIDs ...string) *pool.Pool {
	return pool.New(domain.ProviderConfig{
		ID:                  id,
		Priority:            priority,
		MaxConnection:       0, // no warm-up dialing in tests
		FallbackProviderIDs: fallbackIDs,
	})
}

func TestNewManagerUsesPrimaryFallbackProviderIDsWhenConfigured(t *testing.T) {
	primary := testPool("primary", 1, "tertiary", "secondary")
	secondary := testPool("secondary", 2)
	tertiary := testPool("tertiary", 3)

	m := NewManager([]*pool.Pool{secondary, tertiary, primary})

	order := m.Providers()
	if len(order) != 3 {
		t.Fatalf("len(order) = %d, want 3", len(order))
	}
	if order[0].ProviderID() != "primary" || order[1].ProviderID() != "tertiary" || order[2].ProviderID() != "secondary" {
		t.Fatalf("order = %v, want [primary tertiary secondary]", ids(order))
	}
}

func TestNewManagerFallsBackToPrioritySortWhenUnconfigured(t *testing.T) {
	a := testPool("a", 2)
	b := testPool("b", 1)
	c := testPool("c", 3)

	m := NewManager([]*pool.Pool{a, b, c})

	order := m.Providers()
	if ids(order)[0] != "b" || ids(order)[1] != "a" || ids(order)[2] != "c" {
		t.Fatalf("order = %v, want [b a c] (priority ascending)", ids(order))
	}
}

func TestNextProviderRecordsFallbackOnTheProviderAdvancedTo(t *testing.T) {
	primary := testPool("primary", 1)
	secondary := testPool("secondary", 2)
	m := NewManager([]*pool.Pool{primary, secondary})

	next, ok := m.NextProvider("primary")
	if !ok {
		t.Fatal("expected a next provider after primary")
	}
	if next.ProviderID() != "secondary" {
		t.Fatalf("next.ProviderID() = %q, want secondary", next.ProviderID())
	}

	stats := statsByID(m.Stats())
	if stats["secondary"].FallbacksTriggered != 1 {
		t.Fatalf("secondary.FallbacksTriggered = %d, want 1", stats["secondary"].FallbacksTriggered)
	}
	if _, ok := stats["primary"]; ok {
		t.Fatal("primary should not have a fallback recorded against it — it's the provider that failed, not the one being fallen back to")
	}
}

func TestNextProviderReturnsFalseAfterLastProvider(t *testing.T) {
	primary := testPool("primary", 1)
	m := NewManager([]*pool.Pool{primary})

	if _, ok := m.NextProvider("primary"); ok {
		t.Fatal("expected no next provider when primary is the only one configured")
	}
}

func TestRecordSuccessIncrementsSegmentsFetched(t *testing.T) {
	primary := testPool("primary", 1)
	m := NewManager([]*pool.Pool{primary})

	m.RecordSuccess("primary")
	m.RecordSuccess("primary")

	stats := statsByID(m.Stats())
	if stats["primary"].SegmentsFetched != 2 {
		t.Fatalf("SegmentsFetched = %d, want 2", stats["primary"].SegmentsFetched)
	}
}

func ids(pools []*pool.Pool) []string {
	out := make([]string, len(pools))
	for i, p := range pools {
		out[i] = p.ProviderID()
	}
	return out
}

func statsByID(stats []domain.ProviderStats) map[string]*domain.ProviderStats {
	out := make(map[string]*domain.ProviderStats, len(stats))
	for i := range stats {
		out[stats[i].ProviderID] = &stats[i]
	}
	return out
}
