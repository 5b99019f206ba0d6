package offline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/seckatie/librarian/internal/core/db"
	"golang.org/x/sync/errgroup"
)

// ErrNoCachedResponse is returned when the network failed and the cache had
// nothing to fall back on.
var ErrNoCachedResponse = errors.New("no cached response")

// State is the manager's lifecycle phase.
type State int

const (
	StateNew State = iota
	StateInstalled
	StateActivated
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInstalled:
		return "installed"
	case StateActivated:
		return "activated"
	default:
		return "unknown"
	}
}

// manifestConcurrency bounds parallel fetches during install.
const manifestConcurrency = 4

// Options configures a Manager.
type Options struct {
	// CacheName is the single active cache version. Any other cache is
	// deleted on activation.
	CacheName string
	// Manifest lists the shell URLs (absolute or relative to Origin) cached on install.
	Manifest []string
	// APIMarker selects network-first handling for URLs that contain it.
	APIMarker string
	// OfflinePage is served from the cache when a cache-first fetch fails.
	OfflinePage string
	// Origin is the application origin. Relative URLs resolve against it and
	// only responses from it are stored by the cache-first strategy.
	Origin *url.URL
	// Transport performs network fetches. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
	// Metrics is optional.
	Metrics *Metrics
}

// InstallReport lists which manifest entries made it into the cache.
type InstallReport struct {
	Cached []string
	Failed []string
}

// Status is a point-in-time view of the manager and its store.
type Status struct {
	CacheName string   `json:"cache_name"`
	State     string   `json:"state"`
	Caches    []string `json:"caches"`
	Entries   int      `json:"entries"`
}

// Manager is an offline cache with an install/activate/fetch lifecycle. It
// implements http.RoundTripper so an http.Client can use it transparently.
type Manager struct {
	store   Storage
	opts    Options
	network http.RoundTripper
	metrics *Metrics

	mu    sync.RWMutex
	state State

	listenersMu    sync.RWMutex
	eventListeners map[EventKind][]EventListener
}

var _ http.RoundTripper = (*Manager)(nil)

func NewManager(store Storage, opts Options) (*Manager, error) {
	if store == nil {
		return nil, errors.New("offline: nil storage")
	}
	if opts.CacheName == "" {
		return nil, db.ErrEmptyCacheName
	}
	if opts.Origin == nil || opts.Origin.Scheme == "" || opts.Origin.Host == "" {
		return nil, fmt.Errorf("offline: origin must be an absolute URL, got %v", opts.Origin)
	}
	if opts.APIMarker == "" {
		opts.APIMarker = "/api/"
	}
	if opts.OfflinePage == "" {
		opts.OfflinePage = "/"
	}
	network := opts.Transport
	if network == nil {
		network = http.DefaultTransport
	}
	return &Manager{
		store:          store,
		opts:           opts,
		network:        network,
		metrics:        opts.Metrics,
		eventListeners: make(map[EventKind][]EventListener),
	}, nil
}

func (m *Manager) CacheName() string { return m.opts.CacheName }

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Start installs and then immediately activates, so the manager intercepts
// fetches without waiting for anything else to let go of an older version.
func (m *Manager) Start(ctx context.Context) (InstallReport, error) {
	report, err := m.Install(ctx)
	if err != nil {
		// Install failures are not fatal; the cache just starts out emptier.
		log.Printf("[offline] Install failed: %v", err)
	}
	if _, err := m.Activate(ctx); err != nil {
		return report, err
	}
	return report, nil
}

// Install opens the active cache and populates it with the shell manifest.
// Entries that cannot be fetched are logged and reported, never fatal.
func (m *Manager) Install(ctx context.Context) (InstallReport, error) {
	var report InstallReport
	if err := m.store.OpenCache(m.opts.CacheName); err != nil {
		return report, fmt.Errorf("failed to open cache %s: %w", m.opts.CacheName, err)
	}

	log.Printf("[offline] Caching app shell (%d entries) into %s", len(m.opts.Manifest), m.opts.CacheName)
	results := make([]error, len(m.opts.Manifest))
	var g errgroup.Group
	g.SetLimit(manifestConcurrency)
	for i, raw := range m.opts.Manifest {
		g.Go(func() error {
			results[i] = m.precache(ctx, raw)
			return nil
		})
	}
	_ = g.Wait()

	for i, raw := range m.opts.Manifest {
		if err := results[i]; err != nil {
			log.Printf("[offline] Cache failed for %s: %v", raw, err)
			report.Failed = append(report.Failed, raw)
			m.metrics.observeManifest("failed")
			continue
		}
		report.Cached = append(report.Cached, raw)
		m.metrics.observeManifest("cached")
	}

	m.mu.Lock()
	if m.state < StateInstalled {
		m.state = StateInstalled
	}
	m.mu.Unlock()
	m.emit(InstalledEvent{CacheName: m.opts.CacheName, Report: report})
	return report, nil
}

func (m *Manager) precache(ctx context.Context, raw string) error {
	u, err := m.resolve(raw)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := m.network.RoundTrip(req)
	if err != nil {
		return err
	}
	if !isOK(resp.StatusCode) {
		resp.Body.Close()
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	resp, err = m.storeCopy(requestKey(u), resp)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// Activate deletes every cache whose name differs from the active one and
// starts intercepting fetches. It returns the names it deleted.
func (m *Manager) Activate(ctx context.Context) ([]string, error) {
	names, err := m.store.CacheNames()
	if err != nil {
		return nil, fmt.Errorf("failed to list caches: %w", err)
	}

	var deleted []string
	for _, name := range names {
		if name == m.opts.CacheName {
			continue
		}
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		log.Printf("[offline] Deleting old cache: %s", name)
		ok, err := m.store.DeleteCache(name)
		if err != nil {
			return deleted, fmt.Errorf("failed to delete cache %s: %w", name, err)
		}
		if ok {
			deleted = append(deleted, name)
			m.emit(CacheDeletedEvent{Name: name})
		}
	}

	m.setState(StateActivated)
	m.emit(ActivatedEvent{CacheName: m.opts.CacheName, Deleted: deleted})
	return deleted, nil
}

// RoundTrip implements http.RoundTripper.
func (m *Manager) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.Fetch(req)
}

// Fetch answers req according to the caching rules: non-GET requests and
// requests seen before activation go straight to the network, API requests
// are network-first and everything else is cache-first.
func (m *Manager) Fetch(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet || m.State() != StateActivated {
		resp, err := m.network.RoundTrip(req)
		if err != nil {
			m.metrics.observeFetch(StrategyPassthrough, OutcomeError)
			return nil, err
		}
		m.metrics.observeFetch(StrategyPassthrough, OutcomeNetwork)
		return resp, nil
	}
	if strings.Contains(req.URL.String(), m.opts.APIMarker) {
		return m.networkFirst(req)
	}
	return m.cacheFirst(req)
}

// NetworkFirst returns a transport that answers GETs from the network and
// falls back to the cached copy only when the network fails. Other requests
// are handled as Fetch handles them.
func (m *Manager) NetworkFirst() http.RoundTripper {
	return networkFirstTransport{m: m}
}

type networkFirstTransport struct {
	m *Manager
}

func (t networkFirstTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet || t.m.State() != StateActivated {
		return t.m.Fetch(req)
	}
	return t.m.networkFirst(req)
}

func (m *Manager) networkFirst(req *http.Request) (*http.Response, error) {
	key := requestKey(req.URL)

	resp, netErr := m.network.RoundTrip(req)
	if netErr == nil {
		if !isOK(resp.StatusCode) {
			m.metrics.observeFetch(StrategyNetworkFirst, OutcomeNetwork)
			return resp, nil
		}
		resp, netErr = m.storeCopy(key, resp)
		if netErr == nil {
			m.metrics.observeFetch(StrategyNetworkFirst, OutcomeNetwork)
			return resp, nil
		}
	}

	entry, ok, err := m.store.MatchEntry(m.opts.CacheName, key)
	if err != nil {
		log.Printf("[offline] Cache lookup failed for %s: %v", key, err)
	}
	if ok {
		m.metrics.observeFetch(StrategyNetworkFirst, OutcomeCacheFallback)
		return responseFromEntry(req, entry), nil
	}
	m.metrics.observeFetch(StrategyNetworkFirst, OutcomeError)
	return nil, fmt.Errorf("%w for %s: %w", ErrNoCachedResponse, key, netErr)
}

func (m *Manager) cacheFirst(req *http.Request) (*http.Response, error) {
	key := requestKey(req.URL)

	entry, ok, err := m.store.MatchEntry(m.opts.CacheName, key)
	if err != nil {
		log.Printf("[offline] Cache lookup failed for %s: %v", key, err)
	}
	if ok {
		m.metrics.observeFetch(StrategyCacheFirst, OutcomeCacheHit)
		return responseFromEntry(req, entry), nil
	}

	resp, netErr := m.network.RoundTrip(req)
	if netErr == nil {
		if resp.StatusCode != http.StatusOK || !m.sameOrigin(req.URL) {
			m.metrics.observeFetch(StrategyCacheFirst, OutcomeNetwork)
			return resp, nil
		}
		resp, netErr = m.storeCopy(key, resp)
		if netErr == nil {
			m.metrics.observeFetch(StrategyCacheFirst, OutcomeNetwork)
			return resp, nil
		}
	}

	return m.offlinePage(req, netErr)
}

func (m *Manager) offlinePage(req *http.Request, netErr error) (*http.Response, error) {
	u, err := m.resolve(m.opts.OfflinePage)
	if err != nil {
		m.metrics.observeFetch(StrategyCacheFirst, OutcomeError)
		return nil, err
	}
	entry, ok, err := m.store.MatchEntry(m.opts.CacheName, requestKey(u))
	if err != nil {
		log.Printf("[offline] Offline page lookup failed: %v", err)
	}
	if !ok {
		m.metrics.observeFetch(StrategyCacheFirst, OutcomeError)
		return nil, fmt.Errorf("%w for %s: %w", ErrNoCachedResponse, requestKey(req.URL), netErr)
	}
	m.metrics.observeFetch(StrategyCacheFirst, OutcomeOfflinePage)
	return responseFromEntry(req, entry), nil
}

// storeCopy buffers the response body, writes a copy to the active cache and
// hands back a response whose body is still unread. A failed cache write is
// logged; the caller still gets the response.
func (m *Manager) storeCopy(key string, resp *http.Response) (*http.Response, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read response body for %s: %w", key, err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))

	entry := db.CacheEntry{
		CacheName: m.opts.CacheName,
		Key:       key,
		Status:    resp.StatusCode,
		Header:    resp.Header.Clone(),
		Body:      bytes.Clone(body),
	}
	if err := m.store.PutEntry(entry); err != nil {
		log.Printf("[offline] Failed to cache %s: %v", key, err)
		return resp, nil
	}
	m.emit(EntryStoredEvent{
		CacheName:   m.opts.CacheName,
		Key:         key,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        entry.Body,
	})
	return resp, nil
}

// StorePage writes body into the active cache under rawURL as a 200 response.
func (m *Manager) StorePage(rawURL string, header http.Header, body []byte) error {
	u, err := m.resolve(rawURL)
	if err != nil {
		return err
	}
	if header == nil {
		header = http.Header{}
	}
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     header.Clone(),
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
	_, err = m.storeCopy(requestKey(u), resp)
	return err
}

// Match returns the cached response for rawURL in the active cache, if any.
func (m *Manager) Match(rawURL string) (*http.Response, bool, error) {
	u, err := m.resolve(rawURL)
	if err != nil {
		return nil, false, err
	}
	entry, ok, err := m.store.MatchEntry(m.opts.CacheName, requestKey(u))
	if err != nil || !ok {
		return nil, false, err
	}
	req := &http.Request{Method: http.MethodGet, URL: u}
	return responseFromEntry(req, entry), true, nil
}

// Status reports the lifecycle state and what the store holds.
func (m *Manager) Status() (Status, error) {
	names, err := m.store.CacheNames()
	if err != nil {
		return Status{}, fmt.Errorf("failed to list caches: %w", err)
	}
	keys, err := m.store.EntryKeys(m.opts.CacheName)
	if err != nil {
		return Status{}, fmt.Errorf("failed to list entries: %w", err)
	}
	return Status{
		CacheName: m.opts.CacheName,
		State:     m.State().String(),
		Caches:    names,
		Entries:   len(keys),
	}, nil
}

// Resolve turns a manifest-style URL into an absolute URL on the origin.
func (m *Manager) Resolve(raw string) (*url.URL, error) {
	return m.resolve(raw)
}

func (m *Manager) resolve(raw string) (*url.URL, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	return m.opts.Origin.ResolveReference(ref), nil
}

func (m *Manager) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, m.opts.Origin.Scheme) && strings.EqualFold(u.Host, m.opts.Origin.Host)
}

// requestKey is the cache key for a GET request: the absolute URL without fragment.
func requestKey(u *url.URL) string {
	k := *u
	k.Fragment = ""
	k.RawFragment = ""
	return k.String()
}

func isOK(status int) bool {
	return status >= 200 && status < 300
}

func responseFromEntry(req *http.Request, e db.CacheEntry) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}
