package core

import "time"

// Snapshot defaults used when rendering the offline page.
const (
	DefaultSnapshotTimeout  = 35 * time.Second
	DefaultResourceTimeout  = 10 * time.Second
	DefaultNetworkIdleDelay = 500 * time.Millisecond
)

// Resource limits
const (
	MaxResourceSize = 5 * 1024 * 1024 // 5MB
)

// Precache worker queue size per worker.
const PrecacheQueuePerWorker = 10

// HTTP client configuration
const (
	UserAgent = "Mozilla/5.0 (compatible; librarian/1.0)"
)
