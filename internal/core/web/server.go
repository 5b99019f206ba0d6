package web

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/seckatie/librarian/internal/core/offline"
)

// shutdownTimeout bounds how long in-flight requests get once ctx is done.
const shutdownTimeout = 5 * time.Second

// Server is a caching reverse proxy in front of the library application.
// GET requests are answered by the offline manager; everything else goes to
// the upstream untouched.
type Server struct {
	manager  *offline.Manager
	upstream *url.URL
	proxy    *httputil.ReverseProxy
	gatherer prometheus.Gatherer
}

// StartServer serves the proxy on addr until ctx is cancelled.
func StartServer(ctx context.Context, addr string, ws *Server) error {
	mux := http.NewServeMux()
	ws.registerRoutes(mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting web server at %s (upstream %s)", addr, ws.upstream)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// NewServer builds a proxy for upstream. A nil gatherer serves the default
// Prometheus registry.
func NewServer(manager *offline.Manager, upstream *url.URL, gatherer prometheus.Gatherer) (*Server, error) {
	if manager == nil {
		return nil, errors.New("web: nil manager")
	}
	if upstream == nil || upstream.Scheme == "" || upstream.Host == "" {
		return nil, errors.New("web: upstream must be an absolute URL")
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Printf("Upstream %s %s failed: %v", r.Method, r.URL.Path, err)
		http.Error(w, "Offline", http.StatusServiceUnavailable)
	}

	return &Server{
		manager:  manager,
		upstream: upstream,
		proxy:    proxy,
		gatherer: gatherer,
	}, nil
}

// Handler returns the routed handler, for embedding and tests.
func (ws *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	ws.registerRoutes(mux)
	return mux
}

func (ws *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/_offline/status", ws.handleStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(ws.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", ws.handleProxy)
}
