package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/seckatie/librarian/internal/core/offline"
)

// RenderOptions controls how a page is loaded in the browser.
//
// A real Chrome/Chromium browser (via the DevTools protocol) runs the page's
// scripts before the final HTML is captured.
type RenderOptions struct {
	// ChromePath optionally overrides the Chrome/Chromium executable path.
	// If empty, chromedp will try to find a browser on PATH / default locations.
	ChromePath string
	// Headless controls whether Chrome runs without a visible window.
	Headless bool
	// Timeout is the deadline for navigation + rendering + capture.
	// If <= 0, DefaultSnapshotTimeout is used.
	Timeout time.Duration
	// WaitSelector optionally waits for a CSS selector to become visible before
	// capturing the page.
	WaitSelector string
}

// RenderResult is the captured output of rendering a single page.
type RenderResult struct {
	// FinalURL is the browser's final URL after redirects.
	FinalURL string
	Title    string
	// HTML is the final rendered document HTML (outerHTML of <html>).
	HTML string
}

// Renderer loads a URL and returns its rendered HTML. RenderPage is the
// browser-backed implementation.
type Renderer func(ctx context.Context, url string, opts RenderOptions) (RenderResult, error)

// RenderPage loads a URL in Chrome, waits for network idle and <body> (and
// optionally opts.WaitSelector), and captures the final URL, title and HTML.
func RenderPage(ctx context.Context, url string, opts RenderOptions) (RenderResult, error) {
	log.Printf("Rendering %s", url)
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultSnapshotTimeout
	}

	allocatorOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocatorOpts = append(allocatorOpts,
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoFirstRun,
	)
	if opts.ChromePath != "" {
		allocatorOpts = append(allocatorOpts, chromedp.ExecPath(opts.ChromePath))
	}
	if opts.Headless {
		allocatorOpts = append(allocatorOpts, chromedp.Headless)
	} else {
		allocatorOpts = append(allocatorOpts, chromedp.Flag("headless", false))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocatorOpts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, opts.Timeout)
	defer cancelRun()

	var html, title, finalURL string

	navigateUntilIdle := func(ctx context.Context) error {
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return err
		}

		idle := make(chan struct{}, 1)
		chromedp.ListenTarget(ctx, func(ev interface{}) {
			if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == "networkIdle" {
				select {
				case idle <- struct{}{}:
				default:
				}
			}
		})

		if err := chromedp.Navigate(url).Do(ctx); err != nil {
			return err
		}

		select {
		case <-idle:
			log.Printf("Network idle reached for %s", url)
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	actions := []chromedp.Action{
		chromedp.ActionFunc(navigateUntilIdle),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if strings.TrimSpace(opts.WaitSelector) != "" {
		actions = append(actions, chromedp.WaitVisible(opts.WaitSelector, chromedp.ByQuery))
	}
	actions = append(actions,
		chromedp.Sleep(DefaultNetworkIdleDelay),
		chromedp.Location(&finalURL),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return RenderResult{}, err
	}

	// Some pages leave document.title blank; fall back to parsing HTML if needed.
	if strings.TrimSpace(title) == "" && strings.TrimSpace(html) != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
			title = strings.TrimSpace(doc.Find("title").First().Text())
		}
	}

	return RenderResult{FinalURL: finalURL, Title: title, HTML: html}, nil
}

// SnapshotOptions describes an offline page snapshot.
type SnapshotOptions struct {
	// Page is the URL stored as the offline fallback, usually "/".
	Page   string
	Render RenderOptions
	// Renderer defaults to RenderPage.
	Renderer Renderer
}

// SnapshotResult reports what was stored.
type SnapshotResult struct {
	Key   string
	Title string
	Bytes int
	// Inlined is false when inlining failed and the rendered HTML was stored as is.
	Inlined bool
}

// SnapshotOfflinePage renders the offline page, inlines its resources through
// the manager and stores the self-contained HTML in the active cache, so the
// cache-first fallback serves a page that needs nothing else.
func SnapshotOfflinePage(ctx context.Context, m *offline.Manager, opts SnapshotOptions) (SnapshotResult, error) {
	if m == nil {
		return SnapshotResult{}, errors.New("snapshot: nil manager")
	}
	if opts.Page == "" {
		opts.Page = "/"
	}
	render := opts.Renderer
	if render == nil {
		render = RenderPage
	}

	target, err := m.Resolve(opts.Page)
	if err != nil {
		return SnapshotResult{}, err
	}

	res, err := render(ctx, target.String(), opts.Render)
	if err != nil {
		return SnapshotResult{}, fmt.Errorf("failed to render %s: %w", target, err)
	}
	baseURL := res.FinalURL
	if baseURL == "" {
		baseURL = target.String()
	}

	log.Printf("Inlining resources for %s", target)
	inlineOpts := DefaultInlineOptions(baseURL)
	inlineOpts.Client = &http.Client{Transport: m, Timeout: DefaultResourceTimeout}

	result := SnapshotResult{Title: res.Title, Inlined: true}
	html, err := InlineResources(ctx, res.HTML, inlineOpts)
	if err != nil {
		log.Printf("Warning: failed to inline resources for %s: %v (using rendered HTML)", target, err)
		html = res.HTML
		result.Inlined = false
	}

	header := http.Header{"Content-Type": []string{"text/html; charset=utf-8"}}
	if err := m.StorePage(opts.Page, header, []byte(html)); err != nil {
		return SnapshotResult{}, fmt.Errorf("failed to store snapshot: %w", err)
	}
	result.Key = target.String()
	result.Bytes = len(html)
	log.Printf("Stored offline snapshot of %s (%d bytes) in %s", target, len(html), m.CacheName())
	return result, nil
}
