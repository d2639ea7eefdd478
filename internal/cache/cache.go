// Package cache implements the persistent lookup cache: a SQLite store on
// disk fronted by an in-process LRU. Entries are best-effort; any storage
// failure degrades to a miss rather than an error.
package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache (
	key       TEXT PRIMARY KEY,
	value     BLOB NOT NULL,
	stored_at INTEGER NOT NULL,
	ttl_ms    INTEGER NOT NULL
);
`

type entry struct {
	value    []byte
	storedAt time.Time
	ttl      time.Duration
}

// Stats counts cache traffic since process start.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Writes  uint64
	Evicted uint64
}

// Store is a concurrency-safe key-value cache with per-entry TTL. Reads
// hit the LRU first and fall through to SQLite, so scheduled re-runs in a
// fresh process still benefit from earlier lookups.
type Store struct {
	logger *zap.Logger
	db     *sql.DB
	memory *lru.Cache[string, entry]
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	stats Stats
}

// Open creates or opens the cache database under dir. A store that cannot
// be opened is returned in memory-only mode; opening never fails a sync.
func Open(logger *zap.Logger, dir string, defaultTTL time.Duration, maxEntries int) *Store {
	store := &Store{
		logger: logger.Named("cache"),
		ttl:    defaultTTL,
		now:    time.Now,
	}
	store.memory, _ = lru.New[string, entry](maxEntries)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		store.logger.Warn("Cache directory unavailable, falling back to memory only",
			zap.String("dir", dir), zap.Error(err))
		return store
	}

	path := filepath.Join(dir, "plexsync.db")
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		store.logger.Warn("Failed to open cache database, falling back to memory only",
			zap.String("path", path), zap.Error(err))
		return store
	}
	if _, err := db.Exec(schema); err != nil {
		store.logger.Warn("Failed to initialize cache schema, falling back to memory only",
			zap.String("path", path), zap.Error(err))
		db.Close()
		return store
	}

	store.db = db
	return store
}

// Get returns the cached value for key if present and unexpired.
func (s *Store) Get(key string) ([]byte, bool) {
	if e, ok := s.memory.Get(key); ok {
		if s.expired(e) {
			s.memory.Remove(key)
			s.deleteRow(key)
			s.count(func(st *Stats) { st.Misses++; st.Evicted++ })
			return nil, false
		}
		s.count(func(st *Stats) { st.Hits++ })
		return e.value, true
	}

	if s.db == nil {
		s.count(func(st *Stats) { st.Misses++ })
		return nil, false
	}

	var value []byte
	var storedAt, ttlMs int64
	row := s.db.QueryRow(`SELECT value, stored_at, ttl_ms FROM cache WHERE key = ?`, key)
	if err := row.Scan(&value, &storedAt, &ttlMs); err != nil {
		if err != sql.ErrNoRows {
			s.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		}
		s.count(func(st *Stats) { st.Misses++ })
		return nil, false
	}

	e := entry{
		value:    value,
		storedAt: time.UnixMilli(storedAt),
		ttl:      time.Duration(ttlMs) * time.Millisecond,
	}
	if s.expired(e) {
		s.deleteRow(key)
		s.count(func(st *Stats) { st.Misses++; st.Evicted++ })
		return nil, false
	}

	s.memory.Add(key, e)
	s.count(func(st *Stats) { st.Hits++ })
	return value, true
}

// Put stores value under key. A non-positive ttl selects the store default.
func (s *Store) Put(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	e := entry{value: value, storedAt: s.now(), ttl: ttl}
	s.memory.Add(key, e)
	s.count(func(st *Stats) { st.Writes++ })

	if s.db == nil {
		return
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO cache (key, value, stored_at, ttl_ms) VALUES (?, ?, ?, ?)`,
		key, value, e.storedAt.UnixMilli(), ttl.Milliseconds())
	if err != nil {
		s.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Clear removes entries whose key starts with prefix; an empty prefix
// removes everything.
func (s *Store) Clear(prefix string) error {
	for _, key := range s.memory.Keys() {
		if hasPrefix(key, prefix) {
			s.memory.Remove(key)
		}
	}

	if s.db == nil {
		return nil
	}

	var err error
	if prefix == "" {
		_, err = s.db.Exec(`DELETE FROM cache`)
	} else {
		_, err = s.db.Exec(`DELETE FROM cache WHERE key LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%")
	}
	if err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	return nil
}

// Stats returns a snapshot of the traffic counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Persistent reports whether the on-disk store is available.
func (s *Store) Persistent() bool {
	return s.db != nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) expired(e entry) bool {
	return s.now().After(e.storedAt.Add(e.ttl))
}

func (s *Store) deleteRow(key string) {
	if s.db == nil {
		return
	}
	if _, err := s.db.Exec(`DELETE FROM cache WHERE key = ?`, key); err != nil {
		s.logger.Warn("Cache eviction failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Store) count(update func(*Stats)) {
	s.mu.Lock()
	update(&s.stats)
	s.mu.Unlock()
}

func hasPrefix(key, prefix string) bool {
	return len(key) >= len(prefix) && key[:len(prefix)] == prefix
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// Nop is a disabled cache: every read misses, writes are dropped.
type Nop struct{}

func (Nop) Get(string) ([]byte, bool)         { return nil, false }
func (Nop) Put(string, []byte, time.Duration) {}
func (Nop) Clear(string) error                { return nil }
