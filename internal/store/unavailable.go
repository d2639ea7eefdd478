// Package store tracks source playlist IDs that resolved to not-found,
// using a Bloom filter for cheap negative checks and an LRU cap on memory.
package store

import (
	"sort"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// UnavailableStore is a thread-safe set of permanently-unavailable
// playlist IDs. The Bloom filter answers the common "never seen" case
// without touching the map; the LRU bounds the set under adversarial
// configuration (huge import lists of dead playlists).
type UnavailableStore struct {
	ids               map[string]struct{}
	bloom             *bloom.BloomFilter
	lru               *lru.Cache[string, struct{}]
	mutex             sync.RWMutex
	maxIDs            int
	falsePositiveRate float64
}

// NewUnavailableStore creates a store holding at most maxIDs entries.
func NewUnavailableStore(maxIDs int, falsePositiveRate float64) *UnavailableStore {
	lruCache, _ := lru.New[string, struct{}](maxIDs)

	if maxIDs < 0 {
		panic("maxIDs must be non-negative")
	}

	return &UnavailableStore{
		ids:               make(map[string]struct{}),
		bloom:             bloom.NewWithEstimates(uint(maxIDs), falsePositiveRate),
		lru:               lruCache,
		maxIDs:            maxIDs,
		falsePositiveRate: falsePositiveRate,
	}
}

// Mark records a playlist ID as unavailable.
func (s *UnavailableStore) Mark(playlistID string) {
	if playlistID == "" {
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.ids[playlistID]; exists {
		return
	}

	s.ids[playlistID] = struct{}{}
	s.bloom.AddString(playlistID)
	s.lru.Add(playlistID, struct{}{})

	if len(s.ids) > s.maxIDs {
		s.evictOldest()
	}
}

// Has checks whether a playlist ID was marked unavailable.
func (s *UnavailableStore) Has(playlistID string) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.bloom.TestString(playlistID) {
		return false
	}

	_, exists := s.ids[playlistID]
	return exists
}

// List returns all marked IDs in sorted order.
func (s *UnavailableStore) List() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Size returns the number of IDs currently stored.
func (s *UnavailableStore) Size() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.ids)
}

// Clear removes all IDs from the store.
func (s *UnavailableStore) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.ids = make(map[string]struct{})
	s.bloom = bloom.NewWithEstimates(uint(s.maxIDs), s.falsePositiveRate)
	s.lru.Purge()
}

func (s *UnavailableStore) evictOldest() {
	if s.lru.Len() == 0 {
		return
	}

	oldestKey, _, ok := s.lru.GetOldest()
	if !ok {
		return
	}

	delete(s.ids, oldestKey)
	s.lru.Remove(oldestKey)
}
