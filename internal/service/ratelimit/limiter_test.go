package ratelimit

import (
	"testing"
	"time"
)

func TestAllowExhaustsBucket(t *testing.T) {
	l := New()
	for i := 0; i < 3; i++ {
		if !l.Allow("1.2.3.4", 3, 0.0001) {
			t.Fatalf("request %d should pass", i)
		}
	}
	if l.Allow("1.2.3.4", 3, 0.0001) {
		t.Fatal("request over capacity should be rejected")
	}
}

func TestAllowKeysAreIndependent(t *testing.T) {
	l := New()
	if !l.Allow("a", 1, 0.0001) {
		t.Fatal("first key should pass")
	}
	if l.Allow("a", 1, 0.0001) {
		t.Fatal("first key should be exhausted")
	}
	if !l.Allow("b", 1, 0.0001) {
		t.Fatal("second key has its own bucket")
	}
}

func TestAllowRefills(t *testing.T) {
	l := New()
	if !l.Allow("k", 1, 100) {
		t.Fatal("first request should pass")
	}
	if l.Allow("k", 1, 100) {
		t.Fatal("bucket should be empty")
	}
	time.Sleep(30 * time.Millisecond)
	if !l.Allow("k", 1, 100) {
		t.Fatal("bucket should have refilled")
	}
}
