// Package page holds a loaded HTML page and the element bindings and
// mutations the interaction controller works with.
package page

import (
	"errors"
	"fmt"
	"html"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// ErrBindingNotFound is returned when no element matches an action binding.
var ErrBindingNotFound = errors.New("binding not found")

// Element ids and selectors the backend's templates use.
const (
	BorrowFormID           = "borrowForm"
	BorrowResultID         = "borrowResult"
	NotificationResultID   = "notificationResult"
	SendNotificationsID    = "sendNotificationsBtn"
	borrowedBadgeSelector  = ".badge.bg-info"
	fineTotalSelector      = ".alert h5 strong"
	transientAlertSelector = ".alert[data-transient]"
	searchInputSelector    = `input[name="search"]`
	alertContainer         = ".container"
)

// Page is a parsed HTML document together with the URL it was loaded from.
// All methods are safe for concurrent use.
type Page struct {
	mu  sync.Mutex
	doc *goquery.Document
	url *url.URL
}

// Parse reads an HTML document. u is the page's own URL; relative form
// actions resolve against it.
func Parse(r io.Reader, u *url.URL) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	if u == nil {
		u = &url.URL{Path: "/"}
	}
	return &Page{doc: doc, url: u}, nil
}

// ParseString is Parse for an in-memory document.
func ParseString(s string, u *url.URL) (*Page, error) {
	return Parse(strings.NewReader(s), u)
}

func (p *Page) URL() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()
	u := *p.url
	return &u
}

// Path is the URL path of the page, "/" when empty.
func (p *Page) Path() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.url.Path == "" {
		return "/"
	}
	return p.url.Path
}

func (p *Page) Title() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.TrimSpace(p.doc.Find("title").First().Text())
}

// Render serializes the current document.
func (p *Page) Render() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return goquery.OuterHtml(p.doc.Selection)
}

// Replace swaps in the document and URL of next, as a reload would.
func (p *Page) Replace(next *Page) {
	if next == p {
		return
	}
	next.mu.Lock()
	doc, u := next.doc, next.url
	next.mu.Unlock()

	p.mu.Lock()
	p.doc, p.url = doc, u
	p.mu.Unlock()
}

// Has reports whether selector matches anything.
func (p *Page) Has(selector string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Find(selector).Length() > 0
}

// Text returns the trimmed text of the first match of selector.
func (p *Page) Text(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.TrimSpace(p.doc.Find(selector).First().Text())
}

// TableRows returns the cell texts of every body row in the tables matched by
// selector.
func (p *Page) TableRows(selector string) [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var rows [][]string
	p.doc.Find(selector).Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.ChildrenFiltered("td")
		if cells.Length() == 0 {
			return
		}
		row := make([]string, 0, cells.Length())
		cells.Each(func(_ int, td *goquery.Selection) {
			row = append(row, strings.Join(strings.Fields(td.Text()), " "))
		})
		rows = append(rows, row)
	})
	return rows
}

// BorrowedCount reads the borrowed-books badge.
func (p *Page) BorrowedCount() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return badgeCount(p.doc.Find(borrowedBadgeSelector).First())
}

// DecrementBorrowedCount lowers the borrowed-books badge by one and returns
// the new value. It reports false when there is no numeric badge.
func (p *Page) DecrementBorrowedCount() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	badge := p.doc.Find(borrowedBadgeSelector).First()
	n, ok := badgeCount(badge)
	if !ok {
		return 0, false
	}
	badge.SetText(strconv.Itoa(n - 1))
	return n - 1, true
}

func badgeCount(badge *goquery.Selection) (int, bool) {
	if badge.Length() == 0 {
		return 0, false
	}
	return leadingInt(badge.Text())
}

// leadingInt parses the optionally signed run of digits at the start of s,
// ignoring surrounding whitespace and anything after the digits.
func leadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// HasFineTotal reports whether the page shows an outstanding fine total.
func (p *Page) HasFineTotal() bool {
	return p.Has(fineTotalSelector)
}

// SetPanelAlert replaces the content of the element with the given id by a
// single alert. The message is escaped.
func (p *Page) SetPanelAlert(id, kind, message string) bool {
	return p.SetPanelHTML(id, alertHTML(kind, message))
}

// SetPanelHTML replaces the content of the element with the given id. The
// caller is responsible for escaping.
func (p *Page) SetPanelHTML(id, markup string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	panel := p.doc.Find("#" + id)
	if panel.Length() == 0 {
		return false
	}
	panel.SetHtml(markup)
	return true
}

// PanelText returns the text content of the element with the given id.
func (p *Page) PanelText(id string) string {
	return strings.Join(strings.Fields(p.Text("#"+id)), " ")
}

// PrependAlert inserts a dismissible alert at the top of the main container.
// Alerts are transient: an earlier alert inserted this way is dropped first,
// so the page only ever shows the latest one.
func (p *Page) PrependAlert(kind, message string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	container := p.doc.Find(alertContainer).First()
	if container.Length() == 0 {
		return false
	}
	p.doc.Find(transientAlertSelector).Remove()
	container.PrependHtml(fmt.Sprintf(
		`<div class="alert alert-%s alert-dismissible fade show" data-transient>%s<button type="button" class="btn-close" data-bs-dismiss="alert"></button></div>`,
		html.EscapeString(kind), html.EscapeString(message)))
	return true
}

// SetButtonDisabled toggles the disabled attribute of the element with the
// given id.
func (p *Page) SetButtonDisabled(id string, disabled bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	btn := p.doc.Find("#" + id)
	if btn.Length() == 0 {
		return false
	}
	if disabled {
		btn.SetAttr("disabled", "disabled")
	} else {
		btn.RemoveAttr("disabled")
	}
	return true
}

// ButtonDisabled reports whether the element with the given id is disabled.
func (p *Page) ButtonDisabled(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, disabled := p.doc.Find("#" + id).Attr("disabled")
	return disabled
}

func alertHTML(kind, message string) string {
	return fmt.Sprintf(`<div class="alert alert-%s">%s</div>`, html.EscapeString(kind), html.EscapeString(message))
}
