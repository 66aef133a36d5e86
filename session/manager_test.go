package session_test

import (
	"testing"

	"github.com/momentics/netengine/fake"
	"github.com/momentics/netengine/session"
)

func newRegisteredSession(t *testing.T, m *session.Manager, p *session.Pool) (*session.Session, session.ConnectionID) {
	t.Helper()
	s, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	id := m.MintID()
	h := fake.NewHandler()
	s.Initialize(id, &nopCloser{}, 7, h)
	m.Register(s)
	return s, id
}

func TestMintIDIsUniqueAndMonotonic(t *testing.T) {
	m := session.NewManager(session.NewPool(4, nil), nil)
	a := m.MintID()
	b := m.MintID()
	c := m.MintID()
	if a == b || b == c || a == c {
		t.Fatalf("expected distinct ids, got %d %d %d", a, b, c)
	}
	if !(a < b && b < c) {
		t.Fatalf("expected monotonically increasing ids, got %d %d %d", a, b, c)
	}
}

func TestRegisterThenGetFindsSession(t *testing.T) {
	p := session.NewPool(4, nil)
	m := session.NewManager(p, nil)
	s, id := newRegisteredSession(t, m, p)

	got, ok := m.Get(id)
	if !ok {
		t.Fatal("expected session to be found")
	}
	if got != s {
		t.Fatal("expected Get to return the registered session")
	}
}

func TestGetMissingIDReturnsFalse(t *testing.T) {
	m := session.NewManager(session.NewPool(1, nil), nil)
	if _, ok := m.Get(999); ok {
		t.Fatal("expected not found for unregistered id")
	}
}

func TestRemoveClosesSessionAndReleasesSlot(t *testing.T) {
	p := session.NewPool(1, nil)
	m := session.NewManager(p, nil)
	_, id := newRegisteredSession(t, m, p)

	if p.InUseCount() != 1 {
		t.Fatalf("expected 1 slot in use, got %d", p.InUseCount())
	}

	m.Remove(id)

	if _, ok := m.Get(id); ok {
		t.Fatal("expected session removed from manager")
	}
	if p.InUseCount() != 0 {
		t.Fatalf("expected slot released, got InUseCount %d", p.InUseCount())
	}
}

func TestRemoveTwiceIsIdempotent(t *testing.T) {
	p := session.NewPool(1, nil)
	m := session.NewManager(p, nil)
	_, id := newRegisteredSession(t, m, p)

	m.Remove(id)
	m.Remove(id) // must not panic or double-release the pool slot

	if p.InUseCount() != 0 {
		t.Fatalf("expected InUseCount 0 after double-remove, got %d", p.InUseCount())
	}
}

func TestSnapshotReturnsAllTrackedSessions(t *testing.T) {
	p := session.NewPool(4, nil)
	m := session.NewManager(p, nil)
	_, id1 := newRegisteredSession(t, m, p)
	_, id2 := newRegisteredSession(t, m, p)

	snap := m.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 sessions in snapshot, got %d", len(snap))
	}
	seen := map[session.ConnectionID]bool{}
	for _, s := range snap {
		seen[s.ID()] = true
	}
	if !seen[id1] || !seen[id2] {
		t.Fatal("expected both registered ids present in snapshot")
	}
}

func TestCloseAllRemovesEverySession(t *testing.T) {
	p := session.NewPool(4, nil)
	m := session.NewManager(p, nil)
	newRegisteredSession(t, m, p)
	newRegisteredSession(t, m, p)
	newRegisteredSession(t, m, p)

	if m.Count() != 3 {
		t.Fatalf("expected 3 tracked sessions, got %d", m.Count())
	}

	m.CloseAll()

	if m.Count() != 0 {
		t.Fatalf("expected 0 tracked sessions after CloseAll, got %d", m.Count())
	}
	if p.InUseCount() != 0 {
		t.Fatalf("expected all pool slots released, got %d in use", p.InUseCount())
	}
}
