package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// InlineOptions controls how resources are inlined into the offline page.
type InlineOptions struct {
	// BaseURL is used to resolve relative URLs in the HTML.
	BaseURL string
	// Client fetches resources. Passing a client whose transport is the
	// offline manager serves already cached assets without a network trip.
	Client *http.Client
	// MaxResourceSize is the maximum size of a single resource to inline (bytes).
	// Resources larger than this are skipped. 0 means no limit.
	MaxResourceSize int64
	InlineImages    bool
	InlineCSS       bool
	InlineJS        bool
}

// DefaultInlineOptions inlines everything through a plain client.
func DefaultInlineOptions(baseURL string) InlineOptions {
	return InlineOptions{
		BaseURL:         baseURL,
		Client:          &http.Client{Timeout: DefaultResourceTimeout},
		MaxResourceSize: MaxResourceSize,
		InlineImages:    true,
		InlineCSS:       true,
		InlineJS:        true,
	}
}

// InlineResources rewrites html so stylesheets, scripts and images are
// embedded, leaving a page that renders without further requests.
func InlineResources(ctx context.Context, src string, opts InlineOptions) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	baseURL, err := url.Parse(opts.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	in := inliner{ctx: ctx, opts: opts}
	if in.opts.Client == nil {
		in.opts.Client = &http.Client{Timeout: DefaultResourceTimeout}
	}

	if opts.InlineCSS {
		doc.Find("link[rel='stylesheet']").Each(func(_ int, s *goquery.Selection) {
			cssURL := resolveURL(baseURL, s.AttrOr("href", ""))
			if cssURL == "" {
				return
			}
			css, _, err := in.fetch(cssURL)
			if err != nil {
				in.logFailure("CSS", cssURL, err)
				return
			}
			s.ReplaceWithHtml(fmt.Sprintf("<style>%s</style>", in.inlineCSSURLs(string(css), cssURL)))
		})
	}

	if opts.InlineJS {
		doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
			jsURL := resolveURL(baseURL, s.AttrOr("src", ""))
			if jsURL == "" {
				return
			}
			js, _, err := in.fetch(jsURL)
			if err != nil {
				in.logFailure("JS", jsURL, err)
				return
			}
			s.RemoveAttr("src")
			// SetText escapes its input; script bodies must stay raw.
			s.Empty().AppendNodes(&html.Node{Type: html.TextNode, Data: string(js)})
		})
	}

	if opts.InlineImages {
		doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
			imgURL := resolveURL(baseURL, s.AttrOr("src", ""))
			if imgURL == "" {
				return
			}
			dataURI, err := in.dataURI(imgURL)
			if err != nil {
				in.logFailure("image", imgURL, err)
				return
			}
			s.SetAttr("src", dataURI)
		})
		// srcset candidates are not inlined; drop them so src is used.
		doc.Find("img[srcset], source[srcset]").RemoveAttr("srcset")
	}

	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		style := s.AttrOr("style", "")
		if strings.Contains(style, "url(") {
			s.SetAttr("style", in.inlineCSSURLs(style, baseURL.String()))
		}
	})

	// Anything left relative still resolves against the application.
	if head := doc.Find("head"); head.Length() > 0 && doc.Find("base").Length() == 0 {
		head.PrependHtml(fmt.Sprintf(`<base href="%s">`, baseURL.String()))
	}

	result, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("failed to serialize HTML: %w", err)
	}
	return result, nil
}

// DiscoverAssets lists the same-origin stylesheets, scripts, icons and images
// an HTML page references, resolved against base, without duplicates.
func DiscoverAssets(src string, base *url.URL) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	seen := make(map[string]bool)
	var assets []string
	add := func(ref string) {
		resolved := resolveURL(base, ref)
		if resolved == "" {
			return
		}
		u, err := url.Parse(resolved)
		if err != nil || !strings.EqualFold(u.Host, base.Host) || !strings.EqualFold(u.Scheme, base.Scheme) {
			return
		}
		u.Fragment = ""
		key := u.String()
		if seen[key] {
			return
		}
		seen[key] = true
		assets = append(assets, key)
	}

	doc.Find("link[href]").Each(func(_ int, s *goquery.Selection) {
		switch strings.ToLower(s.AttrOr("rel", "")) {
		case "stylesheet", "icon", "shortcut icon", "apple-touch-icon", "manifest":
			add(s.AttrOr("href", ""))
		}
	})
	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		add(s.AttrOr("src", ""))
	})
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		add(s.AttrOr("src", ""))
	})
	return assets, nil
}

// resolveURL resolves a potentially relative URL against a base URL. Empty,
// data: and javascript: references resolve to "".
func resolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "javascript:") {
		return ""
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(refURL).String()
}

type inliner struct {
	ctx  context.Context
	opts InlineOptions
}

func (in inliner) logFailure(kind, resource string, err error) {
	// 404s are common for moved resources and not worth a line each.
	if !strings.Contains(err.Error(), "HTTP 404") {
		log.Printf("Failed to fetch %s %s: %v", kind, resource, err)
	}
}

// fetch returns the body and content type of urlStr.
func (in inliner) fetch(urlStr string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(in.ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := in.opts.Client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var reader io.Reader = resp.Body
	if in.opts.MaxResourceSize > 0 {
		reader = io.LimitReader(resp.Body, in.opts.MaxResourceSize)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (in inliner) dataURI(urlStr string) (string, error) {
	data, contentType, err := in.fetch(urlStr)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if idx := strings.Index(contentType, ";"); idx > 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	return fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data)), nil
}

// inlineCSSURLs replaces url() references in css with data URIs. References
// that cannot be fetched are kept as they are.
func (in inliner) inlineCSSURLs(css, baseURLStr string) string {
	baseURL, err := url.Parse(baseURLStr)
	if err != nil {
		return css
	}

	var result strings.Builder
	remaining := css
	for {
		start := strings.Index(remaining, "url(")
		if start == -1 {
			result.WriteString(remaining)
			break
		}
		result.WriteString(remaining[:start])

		after := remaining[start+4:]
		end := strings.Index(after, ")")
		if end == -1 {
			result.WriteString(remaining[start:])
			break
		}
		original := remaining[start : start+4+end+1]
		remaining = remaining[start+4+end+1:]

		ref := strings.Trim(strings.TrimSpace(after[:end]), `"'`)
		resolved := resolveURL(baseURL, ref)
		if resolved == "" {
			result.WriteString(original)
			continue
		}
		dataURI, err := in.dataURI(resolved)
		if err != nil {
			in.logFailure("CSS resource", resolved, err)
			result.WriteString(original)
			continue
		}
		result.WriteString("url(" + dataURI + ")")
	}
	return result.String()
}
