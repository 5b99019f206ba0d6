package db

import "net/http"

// CacheEntry is one stored response inside a named cache.
type CacheEntry struct {
	CacheName string
	// Key is the absolute request URL the response was stored under.
	Key    string
	Status int
	Header http.Header
	Body   []byte
	// StoredAt is stored in the DB as RFC3339 text.
	StoredAt string
}
