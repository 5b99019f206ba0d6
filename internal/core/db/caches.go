package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"
)

// ErrEmptyCacheName is returned when a cache operation is given no cache name.
var ErrEmptyCacheName = errors.New("empty cache name")

// ------------------------------
// Cache methods
// ------------------------------

// OpenCache creates the named cache if it does not exist yet.
func (db *DB) OpenCache(name string) error {
	if name == "" {
		return ErrEmptyCacheName
	}
	_, err := db.db.Exec(
		"INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)",
		name,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to open cache %q: %w", name, err)
	}
	return nil
}

// CacheNames lists every cache in creation order.
func (db *DB) CacheNames() ([]string, error) {
	rows, err := db.db.Query("SELECT name FROM caches ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to list caches: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan cache name: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// DeleteCache removes a cache and all of its entries. It reports whether the
// cache existed.
func (db *DB) DeleteCache(name string) (bool, error) {
	tx, err := db.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM cache_entries WHERE cache_name = ?", name); err != nil {
		tx.Rollback()
		return false, fmt.Errorf("failed to delete entries of cache %q: %w", name, err)
	}
	res, err := tx.Exec("DELETE FROM caches WHERE name = ?", name)
	if err != nil {
		tx.Rollback()
		return false, fmt.Errorf("failed to delete cache %q: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return false, fmt.Errorf("failed to determine rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return affected > 0, nil
}

// ------------------------------
// Entry methods
// ------------------------------

// PutEntry stores e in its cache, replacing any entry under the same key.
// The cache is created when missing.
func (db *DB) PutEntry(e CacheEntry) error {
	if e.CacheName == "" {
		return ErrEmptyCacheName
	}
	if e.Header == nil {
		e.Header = http.Header{}
	}
	headers, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}
	if e.StoredAt == "" {
		e.StoredAt = time.Now().Format(time.RFC3339)
	}

	tx, err := db.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.Exec(
		"INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)",
		e.CacheName,
		e.StoredAt,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to open cache %q: %w", e.CacheName, err)
	}
	if _, err := tx.Exec(`
		INSERT INTO cache_entries (cache_name, request_key, status, headers, body, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (cache_name, request_key) DO UPDATE SET
			status = excluded.status,
			headers = excluded.headers,
			body = excluded.body,
			stored_at = excluded.stored_at
	`,
		e.CacheName,
		e.Key,
		e.Status,
		string(headers),
		e.Body,
		e.StoredAt,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to put cache entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// MatchEntry looks up key in the named cache. The boolean is false when there
// is no such entry.
func (db *DB) MatchEntry(cacheName, key string) (CacheEntry, bool, error) {
	e := CacheEntry{CacheName: cacheName, Key: key}
	var headers string
	err := db.db.QueryRow(`
		SELECT status, headers, body, stored_at
		FROM cache_entries
		WHERE cache_name = ? AND request_key = ?
	`, cacheName, key).Scan(&e.Status, &headers, &e.Body, &e.StoredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CacheEntry{}, false, nil
		}
		return CacheEntry{}, false, fmt.Errorf("failed to match cache entry: %w", err)
	}
	if err := json.Unmarshal([]byte(headers), &e.Header); err != nil {
		return CacheEntry{}, false, fmt.Errorf("failed to decode headers for %s: %w", key, err)
	}
	return e, true, nil
}

// EntryKeys lists the request keys stored in the named cache, oldest first.
func (db *DB) EntryKeys(cacheName string) ([]string, error) {
	rows, err := db.db.Query(`
		SELECT request_key
		FROM cache_entries
		WHERE cache_name = ?
		ORDER BY rowid
	`, cacheName)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan cache entry key: %w", err)
		}
		out = append(out, key)
	}
	return out, rows.Err()
}
