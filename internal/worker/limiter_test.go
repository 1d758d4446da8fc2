package worker

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestLimiter_New(t *testing.T) {
	limiter := NewLimiter(10, 5)
	if limiter.defaultBurst != 5 {
		t.Errorf("expected burst 5, got %d", limiter.defaultBurst)
	}

	l2 := NewLimiter(10, -1)
	if l2.defaultBurst != 5 {
		t.Errorf("expected default burst 5 for negative input, got %d", l2.defaultBurst)
	}

	l3 := NewLimiter(0, 1)
	if l3.defaultRate != rate.Inf {
		t.Errorf("expected unlimited rate for 0 rps, got %v", l3.defaultRate)
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(100, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "http://example.com/foo"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
	if err := limiter.Wait(ctx, "http://reports.blm.gov"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
}

func TestLimiter_RateLimit(t *testing.T) {
	limiter := NewLimiter(1, 1)
	ctx := context.Background()
	url := "http://example.com"

	if err := limiter.Wait(ctx, url); err != nil {
		t.Fatalf("first wait failed: %v", err)
	}

	ctx2, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx2, url); err == nil {
		t.Error("expected second wait to be limited")
	}
}

func TestLimiter_ApplyCrawlDelay(t *testing.T) {
	limiter := NewLimiter(10, 4)

	limiter.ApplyCrawlDelay("slow.example.com", 2*time.Second)
	if got := limiter.HostRate("slow.example.com"); got != rate.Every(2*time.Second) {
		t.Errorf("expected one request per 2s, got %v", got)
	}

	// A shorter delay never speeds the host back up.
	limiter.ApplyCrawlDelay("slow.example.com", 100*time.Millisecond)
	if got := limiter.HostRate("slow.example.com"); got != rate.Every(2*time.Second) {
		t.Errorf("crawl delay loosened limit to %v", got)
	}

	limiter.ApplyCrawlDelay("other.example.com", 0)
	if got := limiter.HostRate("other.example.com"); got != rate.Limit(10) {
		t.Errorf("zero delay changed rate to %v", got)
	}
}
