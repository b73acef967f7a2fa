package mw

import (
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestLimiter_BurstThenDeny(t *testing.T) {
	l := NewLimiter(rate.Every(time.Hour), 2, time.Minute)
	defer l.Stop()

	lim := l.get("1.2.3.4|/api/v1/rooms")
	if !lim.Allow() || !lim.Allow() {
		t.Fatal("burst requests should pass")
	}
	if lim.Allow() {
		t.Fatal("request beyond burst should be denied")
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := NewLimiter(rate.Every(time.Hour), 1, time.Minute)
	defer l.Stop()

	if !l.get("a").Allow() {
		t.Fatal("first key should pass")
	}
	if l.get("a").Allow() {
		t.Fatal("first key should be exhausted")
	}
	if !l.get("b").Allow() {
		t.Fatal("second key should have its own bucket")
	}
}

func TestLimiter_StopIsIdempotent(t *testing.T) {
	l := NewLimiter(rate.Every(time.Second), 1, time.Minute)
	l.Stop()
	l.Stop()
}
