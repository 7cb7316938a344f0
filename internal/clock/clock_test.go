package clock

import (
	"testing"
	"time"
)

func fakeClock(start time.Time) (*Clock, *time.Time) {
	t := start
	c := New(2*time.Minute, time.Second)
	c.now = func() time.Time { return t }
	return c, &t
}

func TestSwitchCreditsIncrement(t *testing.T) {
	c, now := fakeClock(time.Unix(0, 0))
	c.Start()
	*now = now.Add(59500 * time.Millisecond)
	remaining := c.Switch()
	want := 2*time.Minute - 59500*time.Millisecond + time.Second
	if remaining != want {
		t.Fatalf("remaining = %v, want %v", remaining, want)
	}
	if c.ActiveColor() != Black {
		t.Fatalf("active color = %v, want Black", c.ActiveColor())
	}
}

func TestTimeoutFiresAtZero(t *testing.T) {
	c, now := fakeClock(time.Unix(0, 0))
	c.Start()
	*now = now.Add(2*time.Minute + time.Millisecond)
	if got := c.Timeout(); got != White {
		t.Fatalf("Timeout() = %v, want White", got)
	}
}

func TestCurrentTimesClampsAtZero(t *testing.T) {
	c, now := fakeClock(time.Unix(0, 0))
	c.Start()
	*now = now.Add(10 * time.Minute)
	white, black := c.CurrentTimes()
	if white != 0 {
		t.Fatalf("white = %v, want 0", white)
	}
	if black != 2*time.Minute {
		t.Fatalf("black = %v, want unchanged", black)
	}
}

func TestNoTimeoutBeforeZero(t *testing.T) {
	c, now := fakeClock(time.Unix(0, 0))
	c.Start()
	*now = now.Add(119 * time.Second)
	if got := c.Timeout(); got != NoColor {
		t.Fatalf("Timeout() = %v, want NoColor", got)
	}
}
