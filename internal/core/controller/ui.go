package controller

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// AutoConfirm answers every question with its own value, for --yes and tests.
type AutoConfirm bool

func (a AutoConfirm) Confirm(string) (bool, error) { return bool(a), nil }

// PromptConfirmer asks on the terminal.
type PromptConfirmer struct {
	Stdin  io.ReadCloser
	Stdout io.WriteCloser
}

func (p PromptConfirmer) Confirm(question string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     strings.TrimSuffix(question, "?"),
		IsConfirm: true,
		Stdin:     p.Stdin,
		Stdout:    p.Stdout,
	}
	if _, err := prompt.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// NewConfirmer returns AutoConfirm(true) when assumeYes is set and a terminal
// prompt otherwise. Without a terminal nothing can be confirmed.
func NewConfirmer(assumeYes bool) Confirmer {
	if assumeYes {
		return AutoConfirm(true)
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return AutoConfirm(false)
	}
	return PromptConfirmer{}
}

// NewIndicator returns a spinner when w is a terminal and a log line otherwise.
func NewIndicator(w *os.File) Indicator {
	if term.IsTerminal(int(w.Fd())) {
		return &SpinnerIndicator{Writer: w}
	}
	return LogIndicator{}
}

// SpinnerIndicator animates a spinner while a request is in flight.
type SpinnerIndicator struct {
	Writer io.Writer

	mu   sync.Mutex
	bar  *progressbar.ProgressBar
	stop chan struct{}
	done chan struct{}
}

func (s *SpinnerIndicator) Show(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar != nil {
		s.bar.Describe(message)
		return
	}
	s.bar = progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(s.Writer),
		progressbar.OptionSetDescription(message),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.spin(s.bar, s.stop, s.done)
}

func (s *SpinnerIndicator) spin(bar *progressbar.ProgressBar, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = bar.Add(1)
		}
	}
}

func (s *SpinnerIndicator) Hide() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar == nil {
		return
	}
	close(s.stop)
	<-s.done
	_ = s.bar.Finish()
	s.bar = nil
}

// LogIndicator logs the loading message.
type LogIndicator struct{}

func (LogIndicator) Show(message string) { log.Print(message) }
func (LogIndicator) Hide()               {}

type nopIndicator struct{}

func (nopIndicator) Show(string) {}
func (nopIndicator) Hide()       {}

// LogNotifier logs notifications.
type LogNotifier struct{}

func (LogNotifier) Notify(level Level, message string) {
	log.Printf("[%s] %s", level, message)
}

type nopReloader struct{}

func (nopReloader) ScheduleReload(time.Duration) {}

// PageReloader reloads the controller's page after a delay. Close cancels
// pending reloads and waits for running ones.
type PageReloader struct {
	ctx  context.Context
	ctrl *Controller

	mu     sync.Mutex
	timers []*time.Timer
	closed bool
	wg     sync.WaitGroup
}

func NewPageReloader(ctx context.Context) *PageReloader {
	return &PageReloader{ctx: ctx}
}

// Attach sets the controller whose page is reloaded.
func (r *PageReloader) Attach(c *Controller) {
	r.mu.Lock()
	r.ctrl = c
	r.mu.Unlock()
}

func (r *PageReloader) ScheduleReload(delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.ctrl == nil {
		return
	}
	ctrl := r.ctrl
	r.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		defer r.wg.Done()
		r.mu.Lock()
		r.forget(t)
		r.mu.Unlock()
		if err := ctrl.Reload(r.ctx); err != nil {
			log.Printf("Reload of %s failed: %v", ctrl.Page().Path(), err)
			return
		}
		log.Printf("Reloaded %s", ctrl.Page().Path())
	})
	r.timers = append(r.timers, t)
}

// forget must be called with r.mu held.
func (r *PageReloader) forget(t *time.Timer) {
	for i, x := range r.timers {
		if x == t {
			r.timers = append(r.timers[:i], r.timers[i+1:]...)
			return
		}
	}
}

// Close cancels pending reloads and waits for running ones.
func (r *PageReloader) Close() {
	r.mu.Lock()
	r.closed = true
	for _, t := range r.timers {
		if t.Stop() {
			r.wg.Done()
		}
	}
	r.timers = nil
	r.mu.Unlock()
	r.wg.Wait()
}

// Wait blocks until every scheduled reload has run or been cancelled.
func (r *PageReloader) Wait() {
	r.wg.Wait()
}
