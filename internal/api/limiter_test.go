package api

import (
	"testing"
	"time"
)

func TestTraderLimiterNilAllows(t *testing.T) {
	l := newTraderLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if !l.Allow("p1") {
			t.Fatal("disabled limiter should allow everything")
		}
	}
}

func TestTraderLimiterRefillsAndSweeps(t *testing.T) {
	l := newTraderLimiter(1, 2)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	if !l.Allow("p1") || !l.Allow("p1") {
		t.Fatal("burst of 2 should be allowed")
	}
	if l.Allow("p1") {
		t.Fatal("third request should be limited")
	}
	now = now.Add(time.Second)
	if !l.Allow("p1") {
		t.Fatal("token should refill after a second")
	}

	now = now.Add(2 * idleBucket)
	l.Allow("p2")
	if _, ok := l.buckets["p1"]; ok {
		t.Fatal("idle bucket should be swept")
	}
}
