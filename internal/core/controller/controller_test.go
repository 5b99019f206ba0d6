package controller

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/seckatie/librarian/internal/core/client"
	"github.com/seckatie/librarian/internal/core/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const origin = "http://library.test"

const booksHTML = `<html><head><title>Books</title></head><body><div class="container">
<form action="/books" method="get"><input type="text" name="search"></form>
<table id="books">
<tr><td>9</td><td>Dune</td><td><button class="delete-book" data-book-id="9">Delete</button></td></tr>
<tr><td>10</td><td>Emma</td><td><button class="delete-book" data-book-id="10">Delete</button></td></tr>
</table>
<form id="purge" action="/admin/purge" method="post" data-confirm="Purge all returned loans?">
<input type="hidden" name="token" value="abc">
</form>
</div></body></html>`

const userHTML = `<html><head><title>User</title></head><body><div class="container">
<h3>Borrowed <span class="badge bg-info">2</span></h3>
<div class="alert alert-warning"><h5>Total fine: <strong>$3.50</strong></h5></div>
<table id="loans">
<tr><td>Dune</td><td><button class="return-book" data-user-id="5" data-book-id="9">Return</button></td></tr>
<tr><td>Emma</td><td><button class="return-book" data-user-id="5" data-book-id="11">Return</button></td></tr>
</table>
<table id="fines">
<tr><td>Dune</td><td>$3.50</td><td><button class="pay-fine" data-user-id="5" data-book-id="9">Pay</button></td></tr>
</table>
</div></body></html>`

const borrowHTML = `<html><body><div class="container">
<form id="borrowForm" method="post" action="/borrow">
<input type="text" name="user_id" value="5">
<input type="text" name="book_id" value="9">
</form>
<div id="borrowResult"></div>
</div></body></html>`

const adminHTML = `<html><body><div class="container">
<button id="sendNotificationsBtn">Send</button>
<div id="notificationResult"></div>
</div></body></html>`

func parsePage(t *testing.T, doc, path string) *page.Page {
	t.Helper()
	u, err := url.Parse(origin + path)
	require.NoError(t, err)
	p, err := page.ParseString(doc, u)
	require.NoError(t, err)
	return p
}

type fakeAPI struct {
	mu     sync.Mutex
	calls  []string
	result client.Result
	notify client.NotificationResult
	err    error
	next   *page.Page

	// When set, calls block until release is closed.
	started chan struct{}
	release chan struct{}
}

func (f *fakeAPI) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
}

func (f *fakeAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) DeleteBook(_ context.Context, bookID string) (client.Result, error) {
	f.record("delete:" + bookID)
	return f.result, f.err
}

func (f *fakeAPI) Borrow(_ context.Context, fields url.Values) (client.Result, error) {
	f.record("borrow:" + fields.Encode())
	return f.result, f.err
}

func (f *fakeAPI) ReturnBook(_ context.Context, userID, bookID string) (client.Result, error) {
	f.record("return:" + userID + ":" + bookID)
	return f.result, f.err
}

func (f *fakeAPI) PayFine(_ context.Context, userID, bookID string) (client.Result, error) {
	f.record("pay-fine:" + userID + ":" + bookID)
	return f.result, f.err
}

func (f *fakeAPI) SendNotifications(context.Context) (client.NotificationResult, error) {
	f.record("notify")
	return f.notify, f.err
}

func (f *fakeAPI) Search(_ context.Context, action *url.URL, query string) (*page.Page, error) {
	f.record("search:" + action.Path + "?" + query)
	return f.next, f.err
}

func (f *fakeAPI) SubmitForm(_ context.Context, method string, action *url.URL, fields url.Values) (*page.Page, error) {
	f.record("form:" + method + " " + action.Path + "?" + fields.Encode())
	return f.next, f.err
}

func (f *fakeAPI) LoadPage(_ context.Context, path string) (*page.Page, error) {
	f.record("load:" + path)
	return f.next, f.err
}

func (f *fakeAPI) Ping(_ context.Context, path string) (int, error) {
	f.record("ping:" + path)
	return http.StatusOK, f.err
}

type recordingIndicator struct {
	mu      sync.Mutex
	shown   []string
	visible bool
	hides   int
}

func (r *recordingIndicator) Show(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, message)
	r.visible = true
}

func (r *recordingIndicator) Hide() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.visible = false
	r.hides++
}

func (r *recordingIndicator) Visible() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visible
}

type notification struct {
	Level   Level
	Message string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (r *recordingNotifier) Notify(level Level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notification{level, message})
}

func (r *recordingNotifier) Last() notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return notification{}
	}
	return r.sent[len(r.sent)-1]
}

type recordingReloader struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingReloader) ScheduleReload(delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, delay)
}

func (r *recordingReloader) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delays)
}

type questionRecorder struct {
	answer    bool
	questions []string
}

func (q *questionRecorder) Confirm(question string) (bool, error) {
	q.questions = append(q.questions, question)
	return q.answer, nil
}

type harness struct {
	ctrl      *Controller
	api       *fakeAPI
	page      *page.Page
	indicator *recordingIndicator
	notifier  *recordingNotifier
	reloader  *recordingReloader
	confirmer *questionRecorder
}

func newHarness(t *testing.T, doc, path string, confirm bool) *harness {
	t.Helper()
	h := &harness{
		api:       &fakeAPI{},
		page:      parsePage(t, doc, path),
		indicator: &recordingIndicator{},
		notifier:  &recordingNotifier{},
		reloader:  &recordingReloader{},
		confirmer: &questionRecorder{answer: confirm},
	}
	ctrl, err := New(Options{
		API:         h.api,
		Page:        h.page,
		Confirmer:   h.confirmer,
		Indicator:   h.indicator,
		Notifier:    h.notifier,
		Reloader:    h.reloader,
		ReloadDelay: 2 * time.Second,
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	return h
}

func TestNewValidation(t *testing.T) {
	p := parsePage(t, booksHTML, "/books")
	_, err := New(Options{Page: p, Confirmer: AutoConfirm(true)})
	assert.Error(t, err)
	_, err = New(Options{API: &fakeAPI{}, Confirmer: AutoConfirm(true)})
	assert.Error(t, err)
	_, err = New(Options{API: &fakeAPI{}, Page: p})
	assert.Error(t, err)
}

func TestDeclinedConfirmationMakesNoRequest(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		path string
		run  func(c *Controller) (Outcome, error)
	}{
		{"delete", booksHTML, "/books", func(c *Controller) (Outcome, error) {
			return c.DeleteBook(context.Background(), "9")
		}},
		{"return", userHTML, "/users/5", func(c *Controller) (Outcome, error) {
			return c.ReturnBook(context.Background(), "5", "9")
		}},
		{"pay fine", userHTML, "/users/5", func(c *Controller) (Outcome, error) {
			return c.PayFine(context.Background(), "5", "9")
		}},
		{"send notifications", adminHTML, "/admin", func(c *Controller) (Outcome, error) {
			return c.SendNotifications(context.Background())
		}},
		{"confirm form", booksHTML, "/books", func(c *Controller) (Outcome, error) {
			return c.SubmitForm(context.Background(), "#purge", nil)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.doc, tt.path, false)
			before, err := h.page.Render()
			require.NoError(t, err)

			outcome, err := tt.run(h.ctrl)
			require.NoError(t, err)
			assert.Equal(t, OutcomeDeclined, outcome)
			assert.Empty(t, h.api.Calls())
			assert.Empty(t, h.indicator.shown)

			after, err := h.page.Render()
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestConfirmationQuestions(t *testing.T) {
	h := newHarness(t, booksHTML, "/books", false)
	h.ctrl.DeleteBook(context.Background(), "9")

	u := newHarness(t, userHTML, "/users/5", false)
	u.ctrl.ReturnBook(context.Background(), "5", "11")
	u.ctrl.PayFine(context.Background(), "5", "9")

	a := newHarness(t, adminHTML, "/admin", false)
	a.ctrl.SendNotifications(context.Background())

	assert.Equal(t, []string{`Are you sure you want to delete "Dune"?`}, h.confirmer.questions)
	assert.Equal(t, []string{`Return "Emma"?`, "Mark this fine as paid?"}, u.confirmer.questions)
	assert.Equal(t, []string{"Send email notifications to users with overdue books?"}, a.confirmer.questions)
}

func TestConfirmationQuestions_TitlesQuotedVerbatim(t *testing.T) {
	h := newHarness(t, `<html><body><table>
<tr><td>12</td><td>The "Best" of C:\Books</td><td><button class="delete-book" data-book-id="12">Delete</button></td></tr>
</table></body></html>`, "/books", false)
	h.ctrl.DeleteBook(context.Background(), "12")

	u := newHarness(t, `<html><body><table>
<tr><td>Say "Hi"</td><td><button class="return-book" data-user-id="5" data-book-id="13">Return</button></td></tr>
</table></body></html>`, "/users/5", false)
	u.ctrl.ReturnBook(context.Background(), "5", "13")

	assert.Equal(t, []string{`Are you sure you want to delete "The "Best" of C:\Books"?`}, h.confirmer.questions)
	assert.Equal(t, []string{`Return "Say "Hi""?`}, u.confirmer.questions)
}

func TestMissingBindingMakesNoRequest(t *testing.T) {
	h := newHarness(t, booksHTML, "/books", true)
	outcome, err := h.ctrl.DeleteBook(context.Background(), "404")
	assert.ErrorIs(t, err, page.ErrBindingNotFound)
	assert.Equal(t, OutcomeFailed, outcome)

	_, err = h.ctrl.SendNotifications(context.Background())
	assert.ErrorIs(t, err, page.ErrBindingNotFound)
	_, err = h.ctrl.Borrow(context.Background(), nil)
	assert.ErrorIs(t, err, page.ErrBindingNotFound)
	assert.Empty(t, h.api.Calls())
}

func TestDeleteBook(t *testing.T) {
	t.Run("success removes the row and reloads", func(t *testing.T) {
		h := newHarness(t, booksHTML, "/books", true)
		h.api.result = client.Result{Success: true}

		outcome, err := h.ctrl.DeleteBook(context.Background(), "9")
		require.NoError(t, err)
		assert.Equal(t, OutcomeSucceeded, outcome)
		assert.Equal(t, []string{"delete:9"}, h.api.Calls())
		assert.Equal(t, [][]string{{"10", "Emma", "Delete"}}, h.page.TableRows("#books"))
		assert.Equal(t, notification{LevelSuccess, "Book deleted successfully!"}, h.notifier.Last())
		assert.True(t, h.page.Has(".container > .alert-success"))
		assert.Equal(t, []time.Duration{2 * time.Second}, h.reloader.delays)
		assert.Equal(t, []string{"Deleting book..."}, h.indicator.shown)
	})

	t.Run("failure ignores the server message", func(t *testing.T) {
		h := newHarness(t, booksHTML, "/books", true)
		h.api.result = client.Result{Success: false, Message: "Book has active loans"}

		outcome, err := h.ctrl.DeleteBook(context.Background(), "9")
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, outcome)
		assert.Len(t, h.page.TableRows("#books"), 2)
		assert.Equal(t, notification{LevelDanger, "Failed to delete book!"}, h.notifier.Last())
		assert.Zero(t, h.reloader.Count())
	})

	t.Run("transport error", func(t *testing.T) {
		h := newHarness(t, booksHTML, "/books", true)
		h.api.err = client.ErrTransport

		outcome, err := h.ctrl.DeleteBook(context.Background(), "9")
		assert.ErrorIs(t, err, client.ErrTransport)
		assert.Equal(t, OutcomeTransportError, outcome)
		assert.Len(t, h.page.TableRows("#books"), 2)
		assert.Equal(t, notification{LevelDanger, "Error deleting book!"}, h.notifier.Last())
	})
}

func TestIndicatorHiddenOnEveryOutcome(t *testing.T) {
	cases := map[string]func(*fakeAPI){
		"success":   func(f *fakeAPI) { f.result = client.Result{Success: true, Message: "ok"} },
		"failure":   func(f *fakeAPI) { f.result = client.Result{Success: false, Message: "no"} },
		"transport": func(f *fakeAPI) { f.err = errors.New("connection refused") },
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, userHTML, "/users/5", true)
			setup(h.api)
			h.ctrl.ReturnBook(context.Background(), "5", "9")
			h.ctrl.PayFine(context.Background(), "5", "9")

			assert.False(t, h.indicator.Visible())
			assert.Equal(t, 2, h.indicator.hides)
		})
	}
}

func TestReturnBook(t *testing.T) {
	t.Run("failure shows the server message", func(t *testing.T) {
		h := newHarness(t, userHTML, "/users/5", true)
		h.api.result = client.Result{Success: false, Message: "No active loan found"}

		outcome, err := h.ctrl.ReturnBook(context.Background(), "5", "9")
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, outcome)
		assert.Equal(t, notification{LevelDanger, "No active loan found"}, h.notifier.Last())
		n, _ := h.page.BorrowedCount()
		assert.Equal(t, 2, n)
	})

	t.Run("transport error", func(t *testing.T) {
		h := newHarness(t, userHTML, "/users/5", true)
		h.api.err = client.ErrTransport

		outcome, _ := h.ctrl.ReturnBook(context.Background(), "5", "9")
		assert.Equal(t, OutcomeTransportError, outcome)
		assert.Equal(t, notification{LevelDanger, "Error returning book!"}, h.notifier.Last())
		assert.Len(t, h.page.TableRows("#loans"), 2)
	})
}

// TestReturnBookThroughClient drives the real client against a mocked
// backend: POST /return with user_id=5 and book_id=9.
func TestReturnBookThroughClient(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, origin+"/return", func(req *http.Request) (*http.Response, error) {
		if err := req.ParseMultipartForm(1 << 20); err != nil {
			return nil, err
		}
		if req.FormValue("user_id") != "5" || req.FormValue("book_id") != "9" {
			return httpmock.NewStringResponse(400, `{"success": false, "message": "bad form"}`), nil
		}
		return httpmock.NewStringResponse(200, `{"success": true, "message": "Returned"}`), nil
	})

	base, _ := url.Parse(origin)
	api, err := client.New(client.Options{BaseURL: base, Transport: transport})
	require.NoError(t, err)

	p := parsePage(t, userHTML, "/users/5")
	notifier := &recordingNotifier{}
	ctrl, err := New(Options{API: api, Page: p, Confirmer: AutoConfirm(true), Notifier: notifier})
	require.NoError(t, err)

	before, ok := p.BorrowedCount()
	require.True(t, ok)

	outcome, err := ctrl.ReturnBook(context.Background(), "5", "9")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, outcome)
	assert.Equal(t, 1, transport.GetTotalCallCount())

	after, ok := p.BorrowedCount()
	require.True(t, ok)
	assert.Equal(t, before-1, after)
	assert.Equal(t, [][]string{{"Emma", "Return"}}, p.TableRows("#loans"))
	assert.Equal(t, notification{LevelSuccess, "Returned"}, notifier.Last())
}

func TestPayFine(t *testing.T) {
	t.Run("reloads when a fine total is shown", func(t *testing.T) {
		h := newHarness(t, userHTML, "/users/5", true)
		h.api.result = client.Result{Success: true}

		outcome, err := h.ctrl.PayFine(context.Background(), "5", "9")
		require.NoError(t, err)
		assert.Equal(t, OutcomeSucceeded, outcome)
		assert.Empty(t, h.page.TableRows("#fines"))
		assert.Equal(t, notification{LevelSuccess, "Fine paid successfully!"}, h.notifier.Last())
		assert.Equal(t, 1, h.reloader.Count())
	})

	t.Run("no reload without a fine total", func(t *testing.T) {
		doc := `<html><body><div class="container"><table id="fines">
<tr><td>Dune</td><td><button class="pay-fine" data-user-id="5" data-book-id="9">Pay</button></td></tr>
</table></div></body></html>`
		h := newHarness(t, doc, "/users/5/fines", true)
		h.api.result = client.Result{Success: true}

		outcome, err := h.ctrl.PayFine(context.Background(), "5", "9")
		require.NoError(t, err)
		assert.Equal(t, OutcomeSucceeded, outcome)
		assert.Zero(t, h.reloader.Count())
	})

	t.Run("failure falls back to a generic message", func(t *testing.T) {
		h := newHarness(t, userHTML, "/users/5", true)
		h.api.result = client.Result{Success: false}

		outcome, _ := h.ctrl.PayFine(context.Background(), "5", "9")
		assert.Equal(t, OutcomeFailed, outcome)
		assert.Equal(t, notification{LevelDanger, "Failed to process payment!"}, h.notifier.Last())
	})
}

func TestBorrow(t *testing.T) {
	t.Run("success fills the panel, resets the form and reloads", func(t *testing.T) {
		h := newHarness(t, borrowHTML, "/borrow", false)
		h.api.result = client.Result{Success: true, Message: "Book borrowed successfully! Due date: 2026-11-01"}

		outcome, err := h.ctrl.Borrow(context.Background(), url.Values{"book_id": {"11"}})
		require.NoError(t, err)
		assert.Equal(t, OutcomeSucceeded, outcome)
		assert.Equal(t, []string{"borrow:book_id=11&user_id=5"}, h.api.Calls())
		assert.Equal(t, "Book borrowed successfully! Due date: 2026-11-01", h.page.PanelText(page.BorrowResultID))
		assert.True(t, h.page.Has("#borrowResult .alert-success"))

		form, err := h.page.Form("#borrowForm")
		require.NoError(t, err)
		assert.Equal(t, "", form.Fields.Get("user_id"))
		assert.Equal(t, 1, h.reloader.Count())
		assert.Empty(t, h.confirmer.questions, "borrow does not ask for confirmation")
	})

	t.Run("failure shows the server message", func(t *testing.T) {
		h := newHarness(t, borrowHTML, "/borrow", false)
		h.api.result = client.Result{Success: false, Message: "Book is not available"}

		outcome, _ := h.ctrl.Borrow(context.Background(), nil)
		assert.Equal(t, OutcomeFailed, outcome)
		assert.Equal(t, "Book is not available", h.page.PanelText(page.BorrowResultID))
		assert.True(t, h.page.Has("#borrowResult .alert-danger"))
		assert.Zero(t, h.reloader.Count())
	})

	t.Run("transport error", func(t *testing.T) {
		h := newHarness(t, borrowHTML, "/borrow", false)
		h.api.err = client.ErrTransport

		outcome, _ := h.ctrl.Borrow(context.Background(), nil)
		assert.Equal(t, OutcomeTransportError, outcome)
		assert.Equal(t, "Error borrowing book!", h.page.PanelText(page.BorrowResultID))
	})
}

func TestSendNotifications(t *testing.T) {
	t.Run("success renders the summary", func(t *testing.T) {
		h := newHarness(t, adminHTML, "/admin", true)
		h.api.notify = client.NotificationResult{
			Result:  client.Result{Success: true, Message: "Notifications sent"},
			Results: client.NotificationCounts{Overdue: 3, Reminders: 2},
		}

		outcome, err := h.ctrl.SendNotifications(context.Background())
		require.NoError(t, err)
		assert.Equal(t, OutcomeSucceeded, outcome)
		assert.Equal(t, "3", h.page.Text("#notificationResult .overdue-count"))
		assert.Equal(t, "2", h.page.Text("#notificationResult .reminder-count"))
		assert.Equal(t, "Total Emails Sent: 5", h.page.Text("#notificationResult .total-count"))
		assert.False(t, h.page.ButtonDisabled(page.SendNotificationsID))
		assert.Equal(t, []string{"Sending Notifications..."}, h.indicator.shown)
	})

	t.Run("failure without message uses the fallback", func(t *testing.T) {
		h := newHarness(t, adminHTML, "/admin", true)
		h.api.notify = client.NotificationResult{Result: client.Result{Success: false}}

		outcome, _ := h.ctrl.SendNotifications(context.Background())
		assert.Equal(t, OutcomeFailed, outcome)
		assert.Contains(t, h.page.PanelText(page.NotificationResultID), "An error occurred while sending notifications.")
		assert.False(t, h.page.ButtonDisabled(page.SendNotificationsID))
	})

	t.Run("transport error", func(t *testing.T) {
		h := newHarness(t, adminHTML, "/admin", true)
		h.api.err = client.ErrTransport

		outcome, _ := h.ctrl.SendNotifications(context.Background())
		assert.Equal(t, OutcomeTransportError, outcome)
		assert.Contains(t, h.page.PanelText(page.NotificationResultID), "Unable to connect to the server.")
		assert.False(t, h.page.ButtonDisabled(page.SendNotificationsID))
	})
}

func TestGuardRejectsDuplicateWhilePending(t *testing.T) {
	h := newHarness(t, userHTML, "/users/5", true)
	h.api.result = client.Result{Success: true, Message: "Returned"}
	h.api.started = make(chan struct{})
	h.api.release = make(chan struct{})

	done := make(chan Outcome)
	go func() {
		outcome, _ := h.ctrl.ReturnBook(context.Background(), "5", "9")
		done <- outcome
	}()
	<-h.api.started

	outcome, err := h.ctrl.ReturnBook(context.Background(), "5", "9")
	require.NoError(t, err)
	assert.Equal(t, OutcomeBusy, outcome)
	assert.Len(t, h.api.Calls(), 1)

	close(h.api.release)
	assert.Equal(t, OutcomeSucceeded, <-done)
}

func TestSubmitForm(t *testing.T) {
	h := newHarness(t, booksHTML, "/books", true)
	h.api.next = parsePage(t, `<html><head><title>Purged</title></head></html>`, "/admin/purge")

	outcome, err := h.ctrl.SubmitForm(context.Background(), "#purge", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, outcome)
	assert.Equal(t, []string{"Purge all returned loans?"}, h.confirmer.questions)
	assert.Equal(t, []string{"form:POST /admin/purge?token=abc"}, h.api.Calls())
	assert.Equal(t, "Purged", h.page.Title())
}

func TestHeartbeat(t *testing.T) {
	t.Run("pings while on the dashboard", func(t *testing.T) {
		h := newHarness(t, booksHTML, "/", true)
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		h.ctrl.RunHeartbeat(ctx, 10*time.Millisecond, "/")
		calls := h.api.Calls()
		require.NotEmpty(t, calls)
		assert.Equal(t, "ping:/", calls[0])
	})

	t.Run("idle on other pages", func(t *testing.T) {
		h := newHarness(t, booksHTML, "/books", true)
		h.ctrl.RunHeartbeat(context.Background(), 10*time.Millisecond, "/")
		assert.Empty(t, h.api.Calls())
	})

	t.Run("disabled by a zero interval", func(t *testing.T) {
		h := newHarness(t, booksHTML, "/", true)
		h.ctrl.RunHeartbeat(context.Background(), 0, "/")
		assert.Empty(t, h.api.Calls())
	})
}

func TestPageReloader(t *testing.T) {
	h := newHarness(t, booksHTML, "/books", true)
	h.api.next = parsePage(t, `<html><head><title>Fresh</title></head></html>`, "/books")

	r := NewPageReloader(context.Background())
	r.Attach(h.ctrl)
	r.ScheduleReload(0)
	r.Wait()
	assert.Equal(t, "Fresh", h.page.Title())
	assert.Equal(t, []string{"load:/books"}, h.api.Calls())

	r.ScheduleReload(time.Hour)
	r.Close()
	assert.Len(t, h.api.Calls(), 1, "closing cancels pending reloads")

	r.ScheduleReload(0)
	r.Wait()
	assert.Len(t, h.api.Calls(), 1, "no reloads after close")
}

func TestGuard(t *testing.T) {
	g := NewGuard()
	key := ActionKey("return", "5:9")
	assert.Equal(t, "return:5:9", key)

	release, ok := g.Acquire(key)
	require.True(t, ok)
	assert.True(t, g.Pending(key))

	_, ok = g.Acquire(key)
	assert.False(t, ok)
	_, ok = g.Acquire(ActionKey("return", "5:11"))
	assert.True(t, ok, "different resources do not block each other")

	release()
	release()
	assert.False(t, g.Pending(key))
	_, ok = g.Acquire(key)
	assert.True(t, ok)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "declined", OutcomeDeclined.String())
	assert.Equal(t, "busy", OutcomeBusy.String())
	assert.Equal(t, "succeeded", OutcomeSucceeded.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
	assert.Equal(t, "transport_error", OutcomeTransportError.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
