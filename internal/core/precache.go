package core

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/seckatie/librarian/internal/core/offline"
)

// Precacher warms the offline cache with the assets referenced by every HTML
// page the manager stores. It listens for entry-stored events and fetches
// through the manager, so each asset lands in the active cache.
type Precacher struct {
	m       *offline.Manager
	client  *http.Client
	base    *url.URL
	workers int
	queue   chan string

	mu      sync.Mutex
	seen    map[string]bool
	started bool
	wg      sync.WaitGroup
}

// NewPrecacher registers the precacher on m. Nothing is fetched until Start.
func NewPrecacher(m *offline.Manager, workers int) (*Precacher, error) {
	if workers < 1 {
		workers = 1
	}
	base, err := m.Resolve("/")
	if err != nil {
		return nil, err
	}
	p := &Precacher{
		m:       m,
		client:  &http.Client{Transport: m, Timeout: DefaultResourceTimeout},
		base:    base,
		workers: workers,
		queue:   make(chan string, workers*PrecacheQueuePerWorker),
		seen:    make(map[string]bool),
	}
	m.RegisterEventListener(offline.OnEntryStoredEvent, p.onEntryStored)
	return p, nil
}

func (p *Precacher) onEntryStored(event offline.Event) error {
	ev, ok := event.(offline.EntryStoredEvent)
	if !ok || !strings.HasPrefix(ev.ContentType, "text/html") {
		return nil
	}
	pageURL, err := url.Parse(ev.Key)
	if err != nil {
		return err
	}
	assets, err := DiscoverAssets(string(ev.Body), pageURL)
	if err != nil {
		return err
	}
	for _, asset := range assets {
		p.enqueue(asset)
	}
	return nil
}

func (p *Precacher) enqueue(asset string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen[asset] {
		return
	}
	select {
	case p.queue <- asset:
		p.seen[asset] = true
	default:
		log.Printf("Warning: work queue full, skipping precache of %s", asset)
	}
}

// Start launches the workers. They exit when ctx is cancelled; Wait blocks
// until they have.
func (p *Precacher) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		workerID := i
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			log.Printf("Precache worker %d started", workerID)
			for {
				select {
				case <-ctx.Done():
					log.Printf("Precache worker %d stopped", workerID)
					return
				case asset := <-p.queue:
					if err := p.fetch(ctx, asset); err != nil {
						log.Printf("Worker %d: precache failed for %s: %v", workerID, asset, err)
						continue
					}
					log.Printf("Worker %d: cached %s", workerID, asset)
				}
			}
		}()
	}
}

// Wait blocks until every worker has stopped.
func (p *Precacher) Wait() {
	p.wg.Wait()
}

// Pending is the number of queued assets not yet picked up by a worker.
func (p *Precacher) Pending() int {
	return len(p.queue)
}

func (p *Precacher) fetch(ctx context.Context, asset string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", UserAgent)
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}
