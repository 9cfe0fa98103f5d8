package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_BurstThenBlock(t *testing.T) {
	l := NewWithBurst(0.001, 2)

	if !l.Allow() || !l.Allow() {
		t.Fatal("burst of 2 should be allowed")
	}
	if l.Allow() {
		t.Fatal("third call should be limited")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("Wait should fail when the deadline is shorter than the refill")
	}
}

func TestNew_BurstIsTenPercent(t *testing.T) {
	l := New(300)
	allowed := 0
	for l.Allow() {
		allowed++
		if allowed > 100 {
			break
		}
	}
	if allowed != 30 {
		t.Fatalf("allowed %d immediate requests, want 30", allowed)
	}
}

func TestNew_Unlimited(t *testing.T) {
	l := New(0)
	for i := 0; i < 1000; i++ {
		if !l.Allow() {
			t.Fatalf("request %d limited", i)
		}
	}
}
