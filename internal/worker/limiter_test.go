package worker

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_New(t *testing.T) {
	if l := NewLimiter(10, 5); l.defaultBurst != 5 {
		t.Errorf("Expected burst 5, got %d", l.defaultBurst)
	}
	if l := NewLimiter(10, -1); l.defaultBurst != 5 {
		t.Errorf("Expected default burst 5 for negative input, got %d", l.defaultBurst)
	}
}

func TestLimiter_Disabled(t *testing.T) {
	l := NewLimiter(0, 1)
	for i := 0; i < 100; i++ {
		if !l.Allow("https://example.com/") {
			t.Fatalf("Expected unlimited limiter to allow request %d", i)
		}
	}
}

func TestLimiter_PerHost(t *testing.T) {
	l := NewLimiter(1, 1)

	if err := l.Wait(context.Background(), "https://example.com/a"); err != nil {
		t.Fatalf("First wait failed: %v", err)
	}
	if l.Allow("https://www.example.com/b") {
		t.Error("Expected www. variant to share the exhausted bucket")
	}
	if !l.Allow("https://other.com/") {
		t.Error("Expected another host to be allowed")
	}
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	l := NewLimiter(0.01, 1)
	l.Allow("https://slow.example/")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "https://slow.example/"); err == nil {
		t.Error("Expected Wait to fail when the context ends first")
	}
}

func TestLimiter_SetHostRate(t *testing.T) {
	l := NewLimiter(100, 10)
	l.SetHostRate("WWW.Slow.com", 0.1, 1)

	if !l.Allow("http://slow.com") {
		t.Error("First request should pass")
	}
	if l.Allow("http://slow.com/x") {
		t.Error("Second request should fail")
	}
	if !l.Allow("http://fast.com") {
		t.Error("Other host should pass")
	}
}

func TestLimiter_ApplyCrawlDelay(t *testing.T) {
	l := NewLimiter(100, 10)
	l.ApplyCrawlDelay("https://polite.example/page", 10*time.Second)

	if !l.Allow("https://polite.example/") {
		t.Error("First request should pass")
	}
	if l.Allow("https://polite.example/") {
		t.Error("Expected crawl delay to throttle the host")
	}

	// A faster delay never loosens the host's rate
	l.ApplyCrawlDelay("https://polite.example/page", time.Millisecond)
	if l.Allow("https://polite.example/") {
		t.Error("Expected the slower crawl delay to be kept")
	}
}

func TestHostKey(t *testing.T) {
	host, err := hostKey("http://WWW.Example.com/foo")
	if err != nil {
		t.Fatalf("hostKey failed: %v", err)
	}
	if host != "example.com" {
		t.Errorf("Expected example.com, got %s", host)
	}

	if _, err := hostKey("::invalid"); err == nil {
		t.Error("Expected error for invalid URL")
	}
	if _, err := hostKey("/relative"); err == nil {
		t.Error("Expected error for URL without host")
	}
}
