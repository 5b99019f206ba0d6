package offline

import "log"

// ------------------------------
// Event System
// ------------------------------
//
// The manager emits typed events as it moves through its lifecycle and as
// responses are written to the cache. Register listeners to react to them.
//
// Example usage:
//
//	manager.RegisterEventListener(offline.OnEntryStoredEvent, func(event offline.Event) error {
//	    ev := event.(offline.EntryStoredEvent)
//	    log.Printf("Cached %s (%s)", ev.Key, ev.ContentType)
//	    return nil
//	})
//
// Event is the common interface for all manager events.
type Event interface {
	Kind() EventKind
}

// EventKind represents all the kinds of events that can be emitted by the Manager.
type EventKind int

const (
	// OnInstalledEvent is emitted after the shell manifest has been processed.
	OnInstalledEvent EventKind = iota
	// OnActivatedEvent is emitted after stale caches are gone and the manager intercepts fetches.
	OnActivatedEvent
	// OnCacheDeletedEvent is emitted for every stale cache removed during activation.
	OnCacheDeletedEvent
	// OnEntryStoredEvent is emitted after a response copy has been written to the cache.
	OnEntryStoredEvent
)

func (k EventKind) String() string {
	switch k {
	case OnInstalledEvent:
		return "installed"
	case OnActivatedEvent:
		return "activated"
	case OnCacheDeletedEvent:
		return "cache_deleted"
	case OnEntryStoredEvent:
		return "entry_stored"
	default:
		return "unknown"
	}
}

// InstalledEvent carries the manifest population report.
type InstalledEvent struct {
	CacheName string
	Report    InstallReport
}

func (e InstalledEvent) Kind() EventKind { return OnInstalledEvent }

// ActivatedEvent lists the caches removed during activation.
type ActivatedEvent struct {
	CacheName string
	Deleted   []string
}

func (e ActivatedEvent) Kind() EventKind { return OnActivatedEvent }

// CacheDeletedEvent is emitted once per stale cache.
type CacheDeletedEvent struct {
	Name string
}

func (e CacheDeletedEvent) Kind() EventKind { return OnCacheDeletedEvent }

// EntryStoredEvent is emitted after a write to the active cache.
type EntryStoredEvent struct {
	CacheName   string
	Key         string
	ContentType string
	Body        []byte
}

func (e EntryStoredEvent) Kind() EventKind { return OnEntryStoredEvent }

// EventListener is a callback that handles events of a specific kind.
type EventListener func(event Event) error

// RegisterEventListener adds a listener for a specific event kind.
// Listeners are called synchronously in registration order.
func (m *Manager) RegisterEventListener(eventKind EventKind, listener EventListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	if m.eventListeners == nil {
		m.eventListeners = make(map[EventKind][]EventListener)
	}
	m.eventListeners[eventKind] = append(m.eventListeners[eventKind], listener)
}

// emit dispatches an event to all registered listeners for that event kind.
func (m *Manager) emit(event Event) {
	m.listenersMu.RLock()
	listeners := append([]EventListener(nil), m.eventListeners[event.Kind()]...)
	m.listenersMu.RUnlock()
	for _, listener := range listeners {
		if err := listener(event); err != nil {
			log.Printf("Event listener error for %s: %v", event.Kind(), err)
		}
	}
}
