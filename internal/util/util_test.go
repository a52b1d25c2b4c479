package util

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

func TestFallbackURL(t *testing.T) {
	got := FallbackURL("check.example.org", "https://news.example.com/a?b=1&c=2")
	want := "https://check.example.org/get_content/?url=https%3A%2F%2Fnews.example.com%2Fa%3Fb%3D1%26c%3D2"
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestNewProxyFunc(t *testing.T) {
	proxy := NewProxyFunc("http://proxy.local:3128", "http://secure-proxy.local:3128", "internal.example.com")

	tests := []struct {
		target string
		want   string
	}{
		{"http://example.com/", "http://proxy.local:3128"},
		{"https://example.com/", "http://secure-proxy.local:3128"},
		{"wss://backend.example.com/talk", "http://secure-proxy.local:3128"},
		{"ws://backend.example.com/talk", "http://proxy.local:3128"},
		{"https://internal.example.com/", ""},
	}

	for _, tt := range tests {
		u, _ := url.Parse(tt.target)
		got, err := proxy(&http.Request{URL: u})
		if err != nil {
			t.Fatalf("%s: expected no error, got %v", tt.target, err)
		}
		gotStr := ""
		if got != nil {
			gotStr = got.String()
		}
		if gotStr != tt.want {
			t.Errorf("%s: expected proxy %q, got %q", tt.target, tt.want, gotStr)
		}
	}
}

func TestRobotsChecker(t *testing.T) {
	var fetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fetches.Add(1)
			_, _ = fmt.Fprint(w, "User-agent: Doppelcheck\nDisallow: /private\nCrawl-delay: 2\n\nUser-agent: *\nDisallow: /\n")
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewRobotsChecker("Doppelcheck/0.4.0 (+https://github.com/ppiankov/doppelcheck)", 5*time.Second)
	ctx := context.Background()

	allowed, delay, err := checker.CanFetch(ctx, server.URL+"/article")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !allowed {
		t.Error("Expected /article to be allowed for Doppelcheck")
	}
	if delay != 2*time.Second {
		t.Errorf("Expected crawl delay 2s, got %v", delay)
	}

	if checker.IsAllowed(ctx, server.URL+"/private/page") {
		t.Error("Expected /private/page to be disallowed")
	}

	if fetches.Load() != 1 {
		t.Errorf("Expected robots.txt to be fetched once, got %d", fetches.Load())
	}

	checker.Clear()
	checker.IsAllowed(ctx, server.URL+"/article")
	if fetches.Load() != 2 {
		t.Errorf("Expected refetch after Clear, got %d fetches", fetches.Load())
	}
}

func TestRobotsChecker_MissingRobotsAllows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	checker := NewRobotsChecker("Doppelcheck/0.4.0", 5*time.Second)
	if !checker.IsAllowed(context.Background(), server.URL+"/anything") {
		t.Error("Expected missing robots.txt to allow everything")
	}
}

func TestRobotsChecker_RejectsNonHTTP(t *testing.T) {
	checker := NewRobotsChecker("Doppelcheck/0.4.0", time.Second)
	if _, _, err := checker.CanFetch(context.Background(), "ftp://example.com/file"); err == nil {
		t.Error("Expected error for ftp URL")
	}
}

func TestNormalizeUserAgent(t *testing.T) {
	tests := map[string]string{
		"Doppelcheck/0.4.0 (+https://github.com/ppiankov/doppelcheck)": "Doppelcheck",
		"curl/8.0": "curl",
		"plain":    "plain",
		"":         "",
	}
	for in, want := range tests {
		if got := NormalizeUserAgent(in); got != want {
			t.Errorf("NormalizeUserAgent(%q): expected %q, got %q", in, want, got)
		}
	}
}
