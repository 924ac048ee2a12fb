package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiterSpacesSameHost(t *testing.T) {
	// 100ms between requests, burst 1.
	l := New(100 * time.Millisecond)
	ctx := context.Background()

	if err := l.Wait(ctx, "news.example.com"); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	start := time.Now()
	if err := l.Wait(ctx, "news.example.com"); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected ~100ms wait, got %v", dur)
	}
}

func TestLimiterIndependentHosts(t *testing.T) {
	l := New(time.Second)
	ctx := context.Background()

	if err := l.Wait(ctx, "a.example.com"); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := l.Wait(ctx, "b.example.com"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("host b blocked by host a's limiter")
	}
}

func TestLimiterContextCanceled(t *testing.T) {
	l := New(time.Hour)
	if err := l.Wait(context.Background(), "slow.example.com"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx, "slow.example.com"); err == nil {
		t.Fatal("expected error from canceled context")
	}
}

func TestLimiterDisabled(t *testing.T) {
	l := New(0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Wait(ctx, "fast.example.com"); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("disabled limiter should not block")
	}
}
