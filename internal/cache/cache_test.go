package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/doppelcheck/internal/model"
)

func TestKey(t *testing.T) {
	a := Key("page", "https://example.com/a")
	b := Key("page", "https://example.com/a", "reader")
	c := Key("config", "https://example.com/a")

	if a == b || a == c {
		t.Error("Expected keys to differ by parts and namespace")
	}
	if !strings.HasPrefix(a, "doppelcheck-v1-page-") {
		t.Errorf("Unexpected key prefix: %s", a)
	}
	if a != Key("page", "https://example.com/a") {
		t.Error("Expected keys to be deterministic")
	}
	if strings.ContainsAny(a, `/\:`) {
		t.Errorf("Expected file-system safe key, got %s", a)
	}
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)

	value := []byte("hello")
	if err := c.Set("k", value, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value[0] = 'J'

	got, ok := c.Get("k")
	if !ok || string(got) != "hello" {
		t.Errorf("Expected stored copy hello, got %q (found=%v)", got, ok)
	}

	c.Set("short", []byte("x"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("short"); ok {
		t.Error("Expected entry to expire")
	}

	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("Expected entry deleted")
	}
	c.Set("a", []byte("1"), 0)
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Expected empty cache, got %d", c.Len())
	}
}

func TestDiskCache(t *testing.T) {
	dir := t.TempDir()
	c := NewDiskCache(dir, time.Hour)
	key := Key("page", "https://example.com")

	if err := c.Set(key, []byte("<html></html>"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, ok := c.Get(key)
	if !ok || string(got) != "<html></html>" {
		t.Errorf("Expected cached page, got %q (found=%v)", got, ok)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "*", "*.json"))
	if len(matches) != 1 {
		t.Errorf("Expected one sharded cache file, got %v", matches)
	}

	// Expiry
	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, ok := c.Get(key); ok {
		t.Error("Expected entry to be expired")
	}
	if _, err := os.Stat(c.path(key)); !os.IsNotExist(err) {
		t.Error("Expected expired file removed")
	}

	if err := c.Delete("missing"); err != nil {
		t.Errorf("Expected deleting a missing key to succeed, got %v", err)
	}
}

func TestDiskCache_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	c := NewDiskCache(dir, time.Hour)
	key := Key("page", "x")

	path := c.path(key)
	os.MkdirAll(filepath.Dir(path), 0o755)
	os.WriteFile(path, []byte("{not json"), 0o644)

	if _, ok := c.Get(key); ok {
		t.Error("Expected corrupt entry to miss")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected corrupt file removed")
	}
}

func TestLayeredCache_PromotesDiskHits(t *testing.T) {
	dir := t.TempDir()
	first := NewLayeredCache(time.Minute, dir, time.Hour)
	if err := first.Set("k", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// A fresh process only has the disk layer
	second := NewLayeredCache(time.Minute, dir, time.Hour)
	got, ok := second.Get("k")
	if !ok || string(got) != "v" {
		t.Fatalf("Expected disk hit, got %q (found=%v)", got, ok)
	}
	if _, ok := second.memory.Get("k"); !ok {
		t.Error("Expected disk hit promoted to memory")
	}

	if err := second.Delete("k"); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
	if _, ok := second.Get("k"); ok {
		t.Error("Expected entry gone from both layers")
	}
}

func TestNew(t *testing.T) {
	if _, ok := New(model.CacheConfig{Enabled: false}).(Noop); !ok {
		t.Error("Expected Noop cache when disabled")
	}
	if _, ok := New(model.CacheConfig{Enabled: true, MemoryTTL: time.Minute}).(*MemoryCache); !ok {
		t.Error("Expected memory cache without a directory")
	}
	if _, ok := New(model.CacheConfig{Enabled: true, Dir: t.TempDir(), MemoryTTL: time.Minute, DiskTTL: time.Hour}).(*LayeredCache); !ok {
		t.Error("Expected layered cache with a directory")
	}
}

func TestJSONHelpers(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	type item struct {
		Name string `json:"name"`
	}

	if err := SetJSON(c, "k", item{Name: "x"}, 0); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}
	var got item
	if !GetJSON(c, "k", &got) || got.Name != "x" {
		t.Errorf("Expected item x, got %+v", got)
	}

	c.Set("bad", []byte("nope"), 0)
	if GetJSON(c, "bad", &got) {
		t.Error("Expected undecodable entry to miss")
	}
}
