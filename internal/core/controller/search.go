package controller

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/seckatie/librarian/internal/core/page"
)

// ErrClosed is returned by a SearchBox after Close.
var ErrClosed = errors.New("closed")

// Debouncer calls fn with the last value it was triggered with once delay
// has passed without another trigger.
type Debouncer struct {
	delay time.Duration
	fn    func(value string)

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
	wg     sync.WaitGroup
}

func NewDebouncer(delay time.Duration, fn func(value string)) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger restarts the timer with value.
func (d *Debouncer) Trigger(value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if d.timer != nil && d.timer.Stop() {
		d.wg.Done()
	}
	d.wg.Add(1)
	d.timer = time.AfterFunc(d.delay, func() {
		defer d.wg.Done()
		d.fn(value)
	})
}

// Stop cancels a pending call and waits for a running one to return.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.closed = true
	if d.timer != nil && d.timer.Stop() {
		d.wg.Done()
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// ShouldSearch reports whether a query is submitted: empty queries clear the
// search, others need at least minLength characters.
func ShouldSearch(query string, minLength int) bool {
	n := utf8.RuneCountInString(query)
	return n == 0 || n >= minLength
}

// SearchBox debounces keystrokes in the page's search input and submits the
// search form with the settled value.
type SearchBox struct {
	ctrl      *Controller
	ctx       context.Context
	minLength int
	onResult  func(query string, results *page.Page, err error)
	debouncer *Debouncer
}

// NewSearchBox builds a search box. onResult is called from the debounce
// goroutine after each submission.
func (c *Controller) NewSearchBox(ctx context.Context, delay time.Duration, minLength int, onResult func(query string, results *page.Page, err error)) *SearchBox {
	s := &SearchBox{
		ctrl:      c,
		ctx:       ctx,
		minLength: minLength,
		onResult:  onResult,
	}
	s.debouncer = NewDebouncer(delay, s.submit)
	return s
}

// Input records the current value of the search input.
func (s *SearchBox) Input(value string) {
	s.debouncer.Trigger(value)
}

// Close drops any pending submission and waits for a running one.
func (s *SearchBox) Close() {
	s.debouncer.Stop()
}

func (s *SearchBox) submit(query string) {
	if !ShouldSearch(query, s.minLength) {
		return
	}
	if err := s.ctx.Err(); err != nil {
		s.report(query, nil, ErrClosed)
		return
	}
	results, err := s.ctrl.Search(s.ctx, query)
	s.report(query, results, err)
}

func (s *SearchBox) report(query string, results *page.Page, err error) {
	if s.onResult != nil {
		s.onResult(query, results, err)
	}
}
