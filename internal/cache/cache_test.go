package cache

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store := Open(zap.NewNop(), t.TempDir(), time.Hour, 128)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_PutGet(t *testing.T) {
	store := testStore(t)

	store.Put("spotify:tracks:p1", []byte("payload"), 0)

	value, ok := store.Get("spotify:tracks:p1")
	if !ok {
		t.Fatal("expected a hit immediately after put")
	}
	if string(value) != "payload" {
		t.Errorf("value = %q, want %q", value, "payload")
	}
}

func TestStore_MissingKey(t *testing.T) {
	store := testStore(t)

	if _, ok := store.Get("nope"); ok {
		t.Error("expected a miss for an unknown key")
	}
}

func TestStore_TTLExpiry(t *testing.T) {
	store := testStore(t)

	current := time.Now()
	store.now = func() time.Time { return current }

	store.Put("key", []byte("v"), time.Minute)

	if _, ok := store.Get("key"); !ok {
		t.Fatal("expected a hit within TTL")
	}

	current = current.Add(2 * time.Minute)
	if _, ok := store.Get("key"); ok {
		t.Error("expected a miss after TTL elapsed")
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	first := Open(zap.NewNop(), dir, time.Hour, 128)
	first.Put("plex:search:abc", []byte("candidates"), 0)
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := Open(zap.NewNop(), dir, time.Hour, 128)
	defer second.Close()

	value, ok := second.Get("plex:search:abc")
	if !ok {
		t.Fatal("expected the entry to survive a reopen")
	}
	if string(value) != "candidates" {
		t.Errorf("value = %q, want %q", value, "candidates")
	}
}

func TestStore_ClearAll(t *testing.T) {
	store := testStore(t)

	store.Put("spotify:tracks:p1", []byte("a"), 0)
	store.Put("plex:search:x", []byte("b"), 0)

	if err := store.Clear(""); err != nil {
		t.Fatalf("clear: %v", err)
	}

	if _, ok := store.Get("spotify:tracks:p1"); ok {
		t.Error("expected spotify entry gone after full clear")
	}
	if _, ok := store.Get("plex:search:x"); ok {
		t.Error("expected plex entry gone after full clear")
	}
}

func TestStore_ClearPrefix(t *testing.T) {
	store := testStore(t)

	store.Put("spotify:tracks:p1", []byte("a"), 0)
	store.Put("plex:search:x", []byte("b"), 0)

	if err := store.Clear("spotify:"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	if _, ok := store.Get("spotify:tracks:p1"); ok {
		t.Error("expected spotify entry gone after prefix clear")
	}
	if _, ok := store.Get("plex:search:x"); !ok {
		t.Error("expected plex entry to survive prefix clear")
	}
}

func TestStore_MemoryOnlyFallback(t *testing.T) {
	// A file where the directory should be forces memory-only mode.
	store := Open(zap.NewNop(), "/dev/null/not-a-dir", time.Hour, 128)
	defer store.Close()

	if store.Persistent() {
		t.Fatal("store should not report persistence without a database")
	}

	store.Put("key", []byte("v"), 0)
	if value, ok := store.Get("key"); !ok || string(value) != "v" {
		t.Error("memory-only store must still serve reads")
	}
	if err := store.Clear(""); err != nil {
		t.Errorf("clear on memory-only store: %v", err)
	}
}

func TestStore_Stats(t *testing.T) {
	store := testStore(t)

	store.Put("key", []byte("v"), 0)
	store.Get("key")
	store.Get("absent")

	stats := store.Stats()
	if stats.Writes != 1 {
		t.Errorf("writes = %d, want 1", stats.Writes)
	}
	if stats.Hits != 1 {
		t.Errorf("hits = %d, want 1", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("misses = %d, want 1", stats.Misses)
	}
}

func TestNop(t *testing.T) {
	var nop Nop

	nop.Put("key", []byte("v"), time.Minute)
	if _, ok := nop.Get("key"); ok {
		t.Error("Nop cache must always miss")
	}
	if err := nop.Clear(""); err != nil {
		t.Errorf("Nop clear: %v", err)
	}
}
