package page

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// BindingKind names a class of action button.
type BindingKind string

const (
	DeleteBookBinding BindingKind = "delete-book"
	ReturnBookBinding BindingKind = "return-book"
	PayFineBinding    BindingKind = "pay-fine"
)

// Binding is an action button found in the page, with the ids it carries and
// the title of the row it sits in.
type Binding struct {
	Kind   BindingKind
	BookID string
	UserID string
	Title  string
}

// titleCell is the cell holding the row's book title for each kind.
var titleCell = map[BindingKind]string{
	DeleteBookBinding: "td:nth-child(2)",
	ReturnBookBinding: "td:first-child",
	PayFineBinding:    "td:first-child",
}

// Bindings lists every button of the given kind in document order.
func (p *Page) Bindings(kind BindingKind) []Binding {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Binding
	p.doc.Find("." + string(kind)).Each(func(_ int, s *goquery.Selection) {
		out = append(out, bindingFrom(kind, s))
	})
	return out
}

// FindBinding returns the button of the given kind carrying bookID and, when
// userID is not empty, userID.
func (p *Page) FindBinding(kind BindingKind, userID, bookID string) (Binding, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.match(kind, userID, bookID)
	if s.Length() == 0 {
		return Binding{}, fmt.Errorf("%w: %s user=%q book=%q", ErrBindingNotFound, kind, userID, bookID)
	}
	return bindingFrom(kind, s), nil
}

// RemoveRow removes the table row containing the button for b. It reports
// false when the button or its row is gone already.
func (p *Page) RemoveRow(b Binding) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	row := p.match(b.Kind, b.UserID, b.BookID).Closest("tr")
	if row.Length() == 0 {
		return false
	}
	row.Remove()
	return true
}

// match must be called with p.mu held.
func (p *Page) match(kind BindingKind, userID, bookID string) *goquery.Selection {
	return p.doc.Find("." + string(kind)).FilterFunction(func(_ int, s *goquery.Selection) bool {
		if s.AttrOr("data-book-id", "") != bookID {
			return false
		}
		return userID == "" || s.AttrOr("data-user-id", "") == userID
	}).First()
}

func bindingFrom(kind BindingKind, s *goquery.Selection) Binding {
	b := Binding{
		Kind:   kind,
		BookID: s.AttrOr("data-book-id", ""),
		UserID: s.AttrOr("data-user-id", ""),
	}
	if sel, ok := titleCell[kind]; ok {
		b.Title = strings.TrimSpace(s.Closest("tr").Find(sel).First().Text())
	}
	return b
}
