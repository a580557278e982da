package web

import (
	"fmt"
	"testing"
	"time"
)

func TestLimiterFencesAtLimit(t *testing.T) {
	l := newAuthLimiter(3, time.Minute, 10)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !l.allow("10.0.0.1", now) {
			t.Fatalf("attempt %d blocked before limit", i+1)
		}
	}
	if l.allow("10.0.0.1", now) {
		t.Fatal("attempt past limit allowed")
	}
	if !l.allow("10.0.0.2", now) {
		t.Fatal("unrelated host blocked")
	}
}

func TestLimiterWindowRolls(t *testing.T) {
	l := newAuthLimiter(1, time.Minute, 10)
	now := time.Now()

	if !l.allow("10.0.0.1", now) {
		t.Fatal("first attempt blocked")
	}
	if l.allow("10.0.0.1", now.Add(time.Second)) {
		t.Fatal("second attempt in window allowed")
	}
	if !l.allow("10.0.0.1", now.Add(time.Minute)) {
		t.Fatal("attempt after window rolled blocked")
	}
}

func TestLimiterPrunesIdleHosts(t *testing.T) {
	l := newAuthLimiter(5, time.Minute, 10)
	now := time.Now()

	l.allow("10.0.0.1", now)
	l.allow("10.0.0.1", now.Add(3*time.Minute))
	if _, ok := l.buckets["10.0.0.1"]; !ok {
		t.Fatal("active host pruned")
	}

	l.allow("10.0.0.2", now.Add(3*time.Minute))
	l.allow("10.0.0.2", now.Add(10*time.Minute))
	if len(l.buckets) != 1 {
		t.Fatalf("idle host kept, buckets = %d", len(l.buckets))
	}
}

func TestLimiterEvictsOverCapacity(t *testing.T) {
	l := newAuthLimiter(5, time.Minute, 2)
	now := time.Now()

	for i := 0; i < 4; i++ {
		l.allow(fmt.Sprintf("10.0.0.%d", i), now)
	}
	l.allow("10.0.1.1", now.Add(time.Minute))
	if len(l.buckets) > 3 {
		t.Fatalf("eviction left %d buckets", len(l.buckets))
	}
}

func TestNilLimiterAllows(t *testing.T) {
	var l *authLimiter
	if !l.allow("10.0.0.1", time.Now()) {
		t.Fatal("nil limiter blocked request")
	}
}
