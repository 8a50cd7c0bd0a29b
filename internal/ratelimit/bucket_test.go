package ratelimit

import (
	"context"
	"testing"
	"time"
)

// fakeClock is a manually-advanced clock for deterministic refill tests.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestNewBucketRejectsNonPositive(t *testing.T) {
	if _, err := NewBucket(0, 50, nil); err == nil {
		t.Error("zero capacity must error")
	}
	if _, err := NewBucket(50, 0, nil); err == nil {
		t.Error("zero rate must error")
	}
	if _, err := NewBucket(-1, -1, nil); err == nil {
		t.Error("negative values must error")
	}
}

func TestBucketDepletionAndRefill(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	b, err := NewBucket(3, 1, clk.now)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if !b.TryTake() {
			t.Fatalf("take %d should succeed, bucket starts full", i)
		}
	}
	if b.TryTake() {
		t.Fatal("empty bucket must refuse")
	}

	clk.advance(2 * time.Second)
	if !b.TryTake() {
		t.Fatal("refill after 2s at 1/s should allow a take")
	}
	if !b.TryTake() {
		t.Fatal("second refilled token expected")
	}
	if b.TryTake() {
		t.Fatal("only two tokens refilled")
	}
}

func TestBucketRefillCapsAtCapacity(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	b, err := NewBucket(2, 100, clk.now)
	if err != nil {
		t.Fatal(err)
	}
	clk.advance(time.Hour)
	if got := b.Tokens(); got != 2 {
		t.Errorf("tokens = %v, want capped at 2", got)
	}
}

func TestBucketWaitReturnsOnCancel(t *testing.T) {
	b, err := NewBucket(1, 0.001, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !b.TryTake() {
		t.Fatal("first take should succeed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.Wait(ctx); err == nil {
		t.Fatal("Wait on a drained slow bucket must honor cancellation")
	}
}

func TestBucketWaitImmediateWhenTokensAvailable(t *testing.T) {
	b, err := NewBucket(5, 50, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.Wait(ctx); err != nil {
		t.Fatalf("Wait with available tokens: %v", err)
	}
}

func TestPerIPWindow(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	p := NewPerIP(2, time.Minute, clk.now)

	if !p.Allow("1.2.3.4") || !p.Allow("1.2.3.4") {
		t.Fatal("first two requests should pass")
	}
	if p.Allow("1.2.3.4") {
		t.Fatal("third request in window must be refused")
	}
	if !p.Allow("5.6.7.8") {
		t.Fatal("other keys have their own budget")
	}

	clk.advance(61 * time.Second)
	if !p.Allow("1.2.3.4") {
		t.Fatal("new window should admit again")
	}
}

func TestPerIPEmptyKeyAlwaysAllowed(t *testing.T) {
	p := NewPerIP(1, time.Minute, nil)
	for i := 0; i < 5; i++ {
		if !p.Allow("") {
			t.Fatal("empty key must never be limited")
		}
	}
}

func TestPerIPReapsExpiredEntries(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	p := NewPerIP(10, time.Minute, clk.now)

	p.Allow("a")
	p.Allow("b")
	if p.Len() != 2 {
		t.Fatalf("Len = %d, want 2", p.Len())
	}
	clk.advance(2 * time.Minute)
	p.Allow("c")
	if p.Len() != 1 {
		t.Errorf("Len = %d after reap, want 1 (only the fresh key)", p.Len())
	}
}
