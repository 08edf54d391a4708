package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestKey(t *testing.T) {
	a := Key("item", "Q42")
	if a != Key("item", "Q42") {
		t.Error("Expected keys to be stable")
	}
	if a == Key("claims", "Q42") {
		t.Error("Expected different kinds to produce different keys")
	}
	if a == Key("item", "Q43") {
		t.Error("Expected different ids to produce different keys")
	}
	if !strings.HasPrefix(a, "hopwalk-v1-item-") {
		t.Errorf("Unexpected key prefix: %s", a)
	}
	if strings.ContainsAny(Key("item", "../etc/passwd"), "/\\.") {
		t.Error("Expected keys to be safe file names")
	}
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Error("Expected miss for unknown key")
	}
	if err := c.Set("k", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, ok := c.Get("k")
	if !ok || string(got) != "v" {
		t.Errorf("Expected hit with v, got %q %v", got, ok)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Items != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	if err := c.Delete("k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := c.Get("k"); ok {
		t.Error("Expected miss after delete")
	}

	_ = c.Set("a", []byte("1"), 0)
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if stats := c.Stats(); stats != (Stats{}) {
		t.Errorf("Expected empty stats after clear, got %+v", stats)
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	_ = c.Set("k", []byte("v"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("Expected entry to expire")
	}
}

func TestDiskCache(t *testing.T) {
	dir := t.TempDir()
	c := NewDiskCache(dir, time.Hour)
	key := Key("claims", "Q76")

	if _, ok := c.Get(key); ok {
		t.Error("Expected miss on empty cache")
	}
	if err := c.Set(key, []byte(`[{"id":1}]`), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// A second instance over the same directory sees the entry
	got, ok := NewDiskCache(dir, time.Hour).Get(key)
	if !ok || string(got) != `[{"id":1}]` {
		t.Errorf("Expected persisted entry, got %q %v", got, ok)
	}

	if err := c.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := c.Delete(key); err != nil {
		t.Errorf("Expected deleting a missing entry to succeed, got %v", err)
	}
	if _, ok := c.Get(key); ok {
		t.Error("Expected miss after delete")
	}
}

func TestDiskCache_ExpiredAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	c := NewDiskCache(dir, time.Hour)

	_ = c.Set("expired-k1", []byte("v"), -time.Second)
	if _, ok := c.Get("expired-k1"); ok {
		t.Error("Expected expired entry to miss")
	}
	if _, err := os.Stat(c.path("expired-k1")); !os.IsNotExist(err) {
		t.Error("Expected expired entry file to be removed")
	}

	path := c.path("corrupt-k2")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get("corrupt-k2"); ok {
		t.Error("Expected corrupt entry to miss")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected corrupt entry file to be removed")
	}
}

func TestDiskCache_Clear(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c := NewDiskCache(dir, time.Hour)
	_ = c.Set("k1", []byte("a"), 0)
	_ = c.Set("k2", []byte("b"), 0)

	if err := c.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("Expected cache directory to be removed")
	}
}

func TestLayeredCache(t *testing.T) {
	dir := t.TempDir()
	c := NewLayeredCache(time.Minute, dir, time.Hour)
	key := Key("item", "Q1")

	if err := c.Set(key, []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got, ok := c.Get(key); !ok || string(got) != "v" {
		t.Errorf("Expected hit, got %q %v", got, ok)
	}

	// Fresh layered cache: memory is cold, disk hit is promoted
	warm := NewLayeredCache(time.Minute, dir, time.Hour)
	if got, ok := warm.Get(key); !ok || string(got) != "v" {
		t.Fatalf("Expected disk hit, got %q %v", got, ok)
	}
	if _, ok := warm.memory.Get(key); !ok {
		t.Error("Expected disk hit to be promoted into memory")
	}

	if err := warm.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := warm.Get(key); ok {
		t.Error("Expected miss in both layers after delete")
	}

	_ = c.Set("k", []byte("x"), 0)
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, ok := c.Get("k"); ok {
		t.Error("Expected miss after clear")
	}
}
