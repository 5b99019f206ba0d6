package offline

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/seckatie/librarian/internal/core/db"
)

// Storage is the named-cache store the manager writes through. *db.DB is the
// persistent implementation; MemoryStorage keeps everything in process.
type Storage interface {
	OpenCache(name string) error
	CacheNames() ([]string, error)
	DeleteCache(name string) (bool, error)
	PutEntry(e db.CacheEntry) error
	MatchEntry(cacheName, key string) (db.CacheEntry, bool, error)
	EntryKeys(cacheName string) ([]string, error)
}

var _ Storage = (*db.DB)(nil)

type memoryCache struct {
	items *gocache.Cache
	keys  []string
}

// MemoryStorage is a Storage that lives and dies with the process.
type MemoryStorage struct {
	mu     sync.Mutex
	order  []string
	caches map[string]*memoryCache
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{caches: make(map[string]*memoryCache)}
}

func (s *MemoryStorage) OpenCache(name string) error {
	if name == "" {
		return db.ErrEmptyCacheName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open(name)
	return nil
}

// open must be called with s.mu held.
func (s *MemoryStorage) open(name string) *memoryCache {
	if c, ok := s.caches[name]; ok {
		return c
	}
	c := &memoryCache{items: gocache.New(gocache.NoExpiration, 0)}
	s.caches[name] = c
	s.order = append(s.order, name)
	return c
}

func (s *MemoryStorage) CacheNames() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...), nil
}

func (s *MemoryStorage) DeleteCache(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[name]
	if !ok {
		return false, nil
	}
	c.items.Flush()
	delete(s.caches, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (s *MemoryStorage) PutEntry(e db.CacheEntry) error {
	if e.CacheName == "" {
		return db.ErrEmptyCacheName
	}
	if e.StoredAt == "" {
		e.StoredAt = time.Now().Format(time.RFC3339)
	}
	e.Body = bytes.Clone(e.Body)
	e.Header = e.Header.Clone()
	if e.Header == nil {
		e.Header = http.Header{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.open(e.CacheName)
	if _, found := c.items.Get(e.Key); !found {
		c.keys = append(c.keys, e.Key)
	}
	c.items.Set(e.Key, e, gocache.NoExpiration)
	return nil
}

func (s *MemoryStorage) MatchEntry(cacheName, key string) (db.CacheEntry, bool, error) {
	s.mu.Lock()
	c, ok := s.caches[cacheName]
	s.mu.Unlock()
	if !ok {
		return db.CacheEntry{}, false, nil
	}
	v, found := c.items.Get(key)
	if !found {
		return db.CacheEntry{}, false, nil
	}
	e := v.(db.CacheEntry)
	e.Body = bytes.Clone(e.Body)
	e.Header = e.Header.Clone()
	return e, true, nil
}

func (s *MemoryStorage) EntryKeys(cacheName string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[cacheName]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), c.keys...), nil
}
