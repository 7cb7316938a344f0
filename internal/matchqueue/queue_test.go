package matchqueue

import (
	"testing"
	"time"
)

func newTestQueue(start time.Time) (*Queue, *time.Time) {
	t := start
	q := New()
	q.now = func() time.Time { return t }
	return q, &t
}

func TestAddSeekerRejectsDuplicate(t *testing.T) {
	q, _ := newTestQueue(time.Unix(0, 0))
	if _, err := q.AddSeeker("a1", "A", 1200, "blitz"); err != nil {
		t.Fatal(err)
	}
	if _, err := q.AddSeeker("a1", "A", 1200, "blitz"); err == nil {
		t.Fatal("expected duplicate seek to be rejected")
	}
}

func TestWideningSchedule(t *testing.T) {
	q, now := newTestQueue(time.Unix(0, 0))
	s, _ := q.AddSeeker("a1", "A", 1000, "blitz")

	*now = now.Add(29900 * time.Millisecond)
	q.Tick()
	if lo, hi := s.EloRange(); lo != 800 || hi != 1200 {
		t.Fatalf("range at t=29.9s = [%d,%d], want [800,1200]", lo, hi)
	}

	*now = now.Add(100 * time.Millisecond) // t=30.0s
	q.Tick()
	if lo, hi := s.EloRange(); lo != 600 || hi != 1400 {
		t.Fatalf("range at t=30.0s = [%d,%d], want [600,1400]", lo, hi)
	}

	*now = now.Add(30 * time.Second) // t=60.0s
	q.Tick()
	if lo, hi := s.EloRange(); hi < 10000 {
		t.Fatalf("range at t=60.0s should be unbounded, got [%d,%d]", lo, hi)
	}
}

func TestWideningMatchScenario(t *testing.T) {
	// S5: X(900) seeks at t=0, Y(1500) seeks at t=29s. Widening is per
	// seeker, so X is unbounded from t=60s but Y only from t=89s; the
	// pair becomes mutually acceptable once both are unbounded.
	q, now := newTestQueue(time.Unix(0, 0))
	q.AddSeeker("x", "X", 900, "blitz")

	*now = now.Add(29 * time.Second)
	q.AddSeeker("y", "Y", 1500, "blitz")

	*now = now.Add(1 * time.Second) // t=30s
	_, matches := q.Tick()
	if len(matches) != 0 {
		t.Fatalf("expected no match at t=30s, got %v", matches)
	}

	*now = now.Add(59 * time.Second) // t=89s, Y has waited 60s
	_, matches = q.Tick()
	if len(matches) != 1 {
		t.Fatalf("expected a match at t=89s, got %d", len(matches))
	}
}

func TestMutualAcceptanceRequiresBothRanges(t *testing.T) {
	q, _ := newTestQueue(time.Unix(0, 0))
	q.AddSeeker("a1", "A", 900, "blitz")
	q.AddSeeker("a2", "B", 1300, "blitz")
	_, matches := q.Tick()
	if len(matches) != 0 {
		t.Fatalf("900 and 1300 should not mutually match within +-200, got %v", matches)
	}
}

func TestRemoveAllSeeksClearsEveryCategory(t *testing.T) {
	q, _ := newTestQueue(time.Unix(0, 0))
	q.AddSeeker("a1", "A", 1200, "blitz")
	q.AddSeeker("a1", "A", 1200, "rapid")
	removed := q.RemoveAllSeeks("a1")
	if q.CategoryCount("a1") != 0 {
		t.Fatalf("expected 0 remaining seeks, got %d", q.CategoryCount("a1"))
	}
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed categories reported, got %v", removed)
	}
}

func TestRemoveAllSeeksReportsNoCategoriesForANonSeeker(t *testing.T) {
	q, _ := newTestQueue(time.Unix(0, 0))
	q.AddSeeker("a1", "A", 1200, "blitz")
	removed := q.RemoveAllSeeks("a2")
	if len(removed) != 0 {
		t.Fatalf("expected no categories removed for a non-seeking agent, got %v", removed)
	}
}

func TestRemoveSeekerReportsWhetherItRemovedAnything(t *testing.T) {
	q, _ := newTestQueue(time.Unix(0, 0))
	q.AddSeeker("a1", "A", 1200, "blitz")

	if !q.RemoveSeeker("a1", "blitz") {
		t.Fatal("expected removal of an existing seek to report true")
	}
	if q.RemoveSeeker("a1", "blitz") {
		t.Fatal("expected removing an already-absent seek to report false")
	}
	if q.RemoveSeeker("a1", "rapid") {
		t.Fatal("expected removing a seek the agent never had to report false")
	}
}
