package ratelimit

import (
	"testing"
	"time"
)

func TestCooldownBlocksSeek(t *testing.T) {
	l := New()
	fixed := time.Unix(1000, 0)
	l.now = func() time.Time { return fixed }

	l.OnGameResult("a1", Bullet, false, false)
	ok, reason, retry := l.CanSeek("a1", Bullet)
	if ok {
		t.Fatal("expected seek to be blocked immediately after a loss")
	}
	if reason != ReasonCooldown {
		t.Fatalf("reason = %v, want cooldown", reason)
	}
	if retry != 30 {
		t.Fatalf("retry = %d, want 30", retry)
	}
}

func TestLossStreakAddsExtraCooldown(t *testing.T) {
	l := New()
	fixed := time.Unix(1000, 0)
	l.now = func() time.Time { return fixed }

	l.OnGameResult("a1", Bullet, false, false)
	l.OnGameResult("a1", Bullet, false, false)
	total := l.OnGameResult("a1", Bullet, false, false)
	if total != 30+120 {
		t.Fatalf("total cooldown = %d, want 150", total)
	}
	if l.LossStreak("a1", Bullet) != 3 {
		t.Fatalf("loss streak = %d, want 3", l.LossStreak("a1", Bullet))
	}
}

func TestWinResetsLossStreakIdempotently(t *testing.T) {
	l := New()
	l.OnGameResult("a1", Bullet, false, false)
	l.OnGameResult("a1", Bullet, true, false)
	l.OnGameResult("a1", Bullet, true, false)
	if l.LossStreak("a1", Bullet) != 0 {
		t.Fatalf("loss streak = %d, want 0", l.LossStreak("a1", Bullet))
	}
}

func TestDrawDoesNotTouchLossStreak(t *testing.T) {
	l := New()
	l.OnGameResult("a1", Bullet, false, false)
	l.OnGameResult("a1", Bullet, false, true)
	if l.LossStreak("a1", Bullet) != 1 {
		t.Fatalf("loss streak = %d, want unchanged at 1", l.LossStreak("a1", Bullet))
	}
}

func TestCooldownPerCategoryIndependent(t *testing.T) {
	l := New()
	l.OnGameResult("a1", Bullet, false, false)
	ok, _, _ := l.CanSeek("a1", Rapid)
	if !ok {
		t.Fatal("rapid seek should not be blocked by a bullet cooldown")
	}
}
