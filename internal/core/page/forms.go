package page

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Form describes an HTML form: where it submits, how, the confirmation
// message it carries in data-confirm and the values of its named fields.
type Form struct {
	ID      string
	Action  *url.URL
	Method  string
	Confirm string
	Fields  url.Values
}

// Form returns the first form matched by selector.
func (p *Page) Form(selector string) (Form, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.doc.Find(selector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return goquery.NodeName(s) == "form"
	}).First()
	if s.Length() == 0 {
		return Form{}, fmt.Errorf("%w: form %s", ErrBindingNotFound, selector)
	}
	return p.formFrom(s)
}

// SearchForm returns the form enclosing the search input.
func (p *Page) SearchForm() (Form, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.doc.Find(searchInputSelector).First().Closest("form")
	if s.Length() == 0 {
		return Form{}, fmt.Errorf("%w: search form", ErrBindingNotFound)
	}
	return p.formFrom(s)
}

// ConfirmForms lists the forms that ask for confirmation before submitting.
func (p *Page) ConfirmForms() []Form {
	p.mu.Lock()
	defer p.mu.Unlock()

	var forms []Form
	p.doc.Find("form[data-confirm]").Each(func(_ int, s *goquery.Selection) {
		if f, err := p.formFrom(s); err == nil {
			forms = append(forms, f)
		}
	})
	return forms
}

// ResetForm clears every user-editable field of the form with the given id,
// as form.reset() would for a form rendered without defaults.
func (p *Page) ResetForm(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	form := p.doc.Find("form#" + id)
	if form.Length() == 0 {
		return false
	}
	form.Find("input").Each(func(_ int, s *goquery.Selection) {
		switch strings.ToLower(s.AttrOr("type", "text")) {
		case "hidden", "submit", "button", "reset", "image":
		case "checkbox", "radio":
			s.RemoveAttr("checked")
		default:
			s.RemoveAttr("value")
		}
	})
	form.Find("textarea").SetText("")
	form.Find("select option").RemoveAttr("selected")
	return true
}

// formFrom must be called with p.mu held.
func (p *Page) formFrom(s *goquery.Selection) (Form, error) {
	action := p.url
	if raw, ok := s.Attr("action"); ok && strings.TrimSpace(raw) != "" {
		ref, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return Form{}, fmt.Errorf("invalid form action %q: %w", raw, err)
		}
		action = p.url.ResolveReference(ref)
	}
	u := *action

	method := strings.ToUpper(strings.TrimSpace(s.AttrOr("method", "")))
	if method != http.MethodPost {
		method = http.MethodGet
	}

	return Form{
		ID:      s.AttrOr("id", ""),
		Action:  &u,
		Method:  method,
		Confirm: s.AttrOr("data-confirm", ""),
		Fields:  formFields(s),
	}, nil
}

func formFields(form *goquery.Selection) url.Values {
	fields := url.Values{}
	form.Find("input[name], textarea[name], select[name]").Each(func(_ int, s *goquery.Selection) {
		if _, disabled := s.Attr("disabled"); disabled {
			return
		}
		name := s.AttrOr("name", "")
		switch goquery.NodeName(s) {
		case "textarea":
			fields.Add(name, s.Text())
		case "select":
			opt := s.Find("option[selected]").First()
			if opt.Length() == 0 {
				opt = s.Find("option").First()
			}
			if opt.Length() > 0 {
				fields.Add(name, opt.AttrOr("value", strings.TrimSpace(opt.Text())))
			}
		default:
			switch strings.ToLower(s.AttrOr("type", "text")) {
			case "submit", "button", "reset", "image", "file":
				return
			case "checkbox", "radio":
				if _, checked := s.Attr("checked"); !checked {
					return
				}
				fields.Add(name, s.AttrOr("value", "on"))
			default:
				fields.Add(name, s.AttrOr("value", ""))
			}
		}
	})
	return fields
}
