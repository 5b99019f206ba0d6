// Package controller turns user triggers on a loaded page into backend
// calls and applies the answers back to the page.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/seckatie/librarian/internal/core/client"
	"github.com/seckatie/librarian/internal/core/page"
)

// Outcome is how an action ended.
type Outcome int

const (
	OutcomeDeclined Outcome = iota
	OutcomeBusy
	OutcomeSucceeded
	OutcomeFailed
	OutcomeTransportError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDeclined:
		return "declined"
	case OutcomeBusy:
		return "busy"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Level is the severity of a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelDanger  Level = "danger"
	LevelInfo    Level = "info"
)

// API is the backend the controller calls. *client.Client implements it.
type API interface {
	DeleteBook(ctx context.Context, bookID string) (client.Result, error)
	Borrow(ctx context.Context, fields url.Values) (client.Result, error)
	ReturnBook(ctx context.Context, userID, bookID string) (client.Result, error)
	PayFine(ctx context.Context, userID, bookID string) (client.Result, error)
	SendNotifications(ctx context.Context) (client.NotificationResult, error)
	Search(ctx context.Context, action *url.URL, query string) (*page.Page, error)
	SubmitForm(ctx context.Context, method string, action *url.URL, fields url.Values) (*page.Page, error)
	LoadPage(ctx context.Context, path string) (*page.Page, error)
	Ping(ctx context.Context, path string) (int, error)
}

var _ API = (*client.Client)(nil)

// Confirmer asks the user a yes/no question.
type Confirmer interface {
	Confirm(question string) (bool, error)
}

// Indicator shows a loading state while a request is in flight.
type Indicator interface {
	Show(message string)
	Hide()
}

// Notifier surfaces the result of an action to the user.
type Notifier interface {
	Notify(level Level, message string)
}

// Reloader reloads the current page after a delay.
type Reloader interface {
	ScheduleReload(delay time.Duration)
}

// Options configures a Controller. API, Page and Confirmer are required.
type Options struct {
	API         API
	Page        *page.Page
	Confirmer   Confirmer
	Indicator   Indicator
	Notifier    Notifier
	Reloader    Reloader
	ReloadDelay time.Duration
}

type Controller struct {
	api         API
	page        *page.Page
	confirmer   Confirmer
	indicator   Indicator
	notifier    Notifier
	reloader    Reloader
	reloadDelay time.Duration
	guard       *Guard
}

func New(opts Options) (*Controller, error) {
	if opts.API == nil {
		return nil, errors.New("controller: nil API")
	}
	if opts.Page == nil {
		return nil, errors.New("controller: nil page")
	}
	if opts.Confirmer == nil {
		return nil, errors.New("controller: nil confirmer")
	}
	c := &Controller{
		api:         opts.API,
		page:        opts.Page,
		confirmer:   opts.Confirmer,
		indicator:   opts.Indicator,
		notifier:    opts.Notifier,
		reloader:    opts.Reloader,
		reloadDelay: opts.ReloadDelay,
		guard:       NewGuard(),
	}
	if c.indicator == nil {
		c.indicator = nopIndicator{}
	}
	if c.notifier == nil {
		c.notifier = LogNotifier{}
	}
	if c.reloader == nil {
		c.reloader = nopReloader{}
	}
	return c, nil
}

// Page is the page the controller acts on.
func (c *Controller) Page() *page.Page { return c.page }

// DeleteBook deletes the book bound to a .delete-book button on the page.
func (c *Controller) DeleteBook(ctx context.Context, bookID string) (Outcome, error) {
	b, err := c.page.FindBinding(page.DeleteBookBinding, "", bookID)
	if err != nil {
		return OutcomeFailed, err
	}
	if ok, err := c.confirm(fmt.Sprintf("Are you sure you want to delete \"%s\"?", b.Title)); !ok {
		return OutcomeDeclined, err
	}
	release, ok := c.guard.Acquire(ActionKey("delete", bookID))
	if !ok {
		return OutcomeBusy, nil
	}
	defer release()

	c.indicator.Show("Deleting book...")
	defer c.indicator.Hide()

	res, err := c.api.DeleteBook(ctx, bookID)
	if err != nil {
		log.Printf("Delete book %s failed: %v", bookID, err)
		c.alert(LevelDanger, "Error deleting book!")
		return OutcomeTransportError, err
	}
	if !res.Success {
		c.alert(LevelDanger, "Failed to delete book!")
		return OutcomeFailed, nil
	}
	c.page.RemoveRow(b)
	c.alert(LevelSuccess, "Book deleted successfully!")
	c.reloader.ScheduleReload(c.reloadDelay)
	return OutcomeSucceeded, nil
}

// Borrow submits the borrow form. Values in overrides replace the form's own.
func (c *Controller) Borrow(ctx context.Context, overrides url.Values) (Outcome, error) {
	form, err := c.page.Form("#" + page.BorrowFormID)
	if err != nil {
		return OutcomeFailed, err
	}
	fields := form.Fields
	for k, vs := range overrides {
		fields[k] = vs
	}

	release, ok := c.guard.Acquire(ActionKey("borrow", fields.Get("user_id")+":"+fields.Get("book_id")))
	if !ok {
		return OutcomeBusy, nil
	}
	defer release()

	c.indicator.Show("Processing borrow request...")
	defer c.indicator.Hide()

	res, err := c.api.Borrow(ctx, fields)
	if err != nil {
		log.Printf("Borrow failed: %v", err)
		c.panel(page.BorrowResultID, LevelDanger, "Error borrowing book!")
		return OutcomeTransportError, err
	}
	if !res.Success {
		c.panel(page.BorrowResultID, LevelDanger, orDefault(res.Message, "Failed to borrow book!"))
		return OutcomeFailed, nil
	}
	c.panel(page.BorrowResultID, LevelSuccess, res.Message)
	c.page.ResetForm(page.BorrowFormID)
	c.reloader.ScheduleReload(c.reloadDelay)
	return OutcomeSucceeded, nil
}

// ReturnBook returns the book bound to a .return-book button.
func (c *Controller) ReturnBook(ctx context.Context, userID, bookID string) (Outcome, error) {
	b, err := c.page.FindBinding(page.ReturnBookBinding, userID, bookID)
	if err != nil {
		return OutcomeFailed, err
	}
	if ok, err := c.confirm(fmt.Sprintf("Return \"%s\"?", b.Title)); !ok {
		return OutcomeDeclined, err
	}
	release, ok := c.guard.Acquire(ActionKey("return", userID+":"+bookID))
	if !ok {
		return OutcomeBusy, nil
	}
	defer release()

	c.indicator.Show("Returning book...")
	defer c.indicator.Hide()

	res, err := c.api.ReturnBook(ctx, userID, bookID)
	if err != nil {
		log.Printf("Return of book %s for user %s failed: %v", bookID, userID, err)
		c.alert(LevelDanger, "Error returning book!")
		return OutcomeTransportError, err
	}
	if !res.Success {
		c.alert(LevelDanger, orDefault(res.Message, "Failed to return book!"))
		return OutcomeFailed, nil
	}
	c.alert(LevelSuccess, res.Message)
	c.page.RemoveRow(b)
	c.page.DecrementBorrowedCount()
	return OutcomeSucceeded, nil
}

// PayFine marks the fine bound to a .pay-fine button as paid.
func (c *Controller) PayFine(ctx context.Context, userID, bookID string) (Outcome, error) {
	b, err := c.page.FindBinding(page.PayFineBinding, userID, bookID)
	if err != nil {
		return OutcomeFailed, err
	}
	if ok, err := c.confirm("Mark this fine as paid?"); !ok {
		return OutcomeDeclined, err
	}
	release, ok := c.guard.Acquire(ActionKey("pay-fine", userID+":"+bookID))
	if !ok {
		return OutcomeBusy, nil
	}
	defer release()

	c.indicator.Show("Processing payment...")
	defer c.indicator.Hide()

	res, err := c.api.PayFine(ctx, userID, bookID)
	if err != nil {
		log.Printf("Fine payment for book %s user %s failed: %v", bookID, userID, err)
		c.alert(LevelDanger, "Error processing payment!")
		return OutcomeTransportError, err
	}
	if !res.Success {
		c.alert(LevelDanger, orDefault(res.Message, "Failed to process payment!"))
		return OutcomeFailed, nil
	}
	c.alert(LevelSuccess, "Fine paid successfully!")
	c.page.RemoveRow(b)
	if c.page.HasFineTotal() {
		c.reloader.ScheduleReload(c.reloadDelay)
	}
	return OutcomeSucceeded, nil
}

// SendNotifications triggers the overdue and reminder emails and renders the
// summary into the notification panel.
func (c *Controller) SendNotifications(ctx context.Context) (Outcome, error) {
	if !c.page.Has("#" + page.SendNotificationsID) {
		return OutcomeFailed, fmt.Errorf("%w: #%s", page.ErrBindingNotFound, page.SendNotificationsID)
	}
	if ok, err := c.confirm("Send email notifications to users with overdue books?"); !ok {
		return OutcomeDeclined, err
	}
	release, ok := c.guard.Acquire(ActionKey("notify", "all"))
	if !ok {
		return OutcomeBusy, nil
	}
	defer release()

	c.page.SetPanelHTML(page.NotificationResultID, sendingPanel)
	c.page.SetButtonDisabled(page.SendNotificationsID, true)
	c.indicator.Show("Sending Notifications...")
	defer func() {
		c.indicator.Hide()
		c.page.SetButtonDisabled(page.SendNotificationsID, false)
	}()

	res, err := c.api.SendNotifications(ctx)
	if err != nil {
		log.Printf("Send notifications failed: %v", err)
		msg := "Unable to connect to the server. Please check your internet connection and try again."
		c.page.SetPanelHTML(page.NotificationResultID, errorPanel("Network Error", msg))
		c.notifier.Notify(LevelDanger, msg)
		return OutcomeTransportError, err
	}
	if !res.Success {
		msg := orDefault(res.Message, "An error occurred while sending notifications.")
		c.page.SetPanelHTML(page.NotificationResultID, errorPanel("Failed to Send Notifications", msg))
		c.notifier.Notify(LevelDanger, msg)
		return OutcomeFailed, nil
	}
	c.page.SetPanelHTML(page.NotificationResultID, summaryPanel(res))
	c.notifier.Notify(LevelSuccess, fmt.Sprintf("Notifications sent: %d overdue, %d reminders, %d total",
		res.Results.Overdue, res.Results.Reminders, res.Results.Total()))
	return OutcomeSucceeded, nil
}

// SubmitForm submits the form matched by selector, asking first when the
// form carries a data-confirm message. The resulting page replaces the
// current one.
func (c *Controller) SubmitForm(ctx context.Context, selector string, overrides url.Values) (Outcome, error) {
	form, err := c.page.Form(selector)
	if err != nil {
		return OutcomeFailed, err
	}
	if form.Confirm != "" {
		if ok, err := c.confirm(form.Confirm); !ok {
			return OutcomeDeclined, err
		}
	}
	fields := form.Fields
	for k, vs := range overrides {
		fields[k] = vs
	}

	release, ok := c.guard.Acquire(ActionKey("form", form.Method+" "+form.Action.String()))
	if !ok {
		return OutcomeBusy, nil
	}
	defer release()

	c.indicator.Show("Submitting...")
	defer c.indicator.Hide()

	next, err := c.api.SubmitForm(ctx, form.Method, form.Action, fields)
	if err != nil {
		log.Printf("Form %s submission failed: %v", selector, err)
		c.notifier.Notify(LevelDanger, "Error submitting form!")
		return OutcomeTransportError, err
	}
	c.page.Replace(next)
	return OutcomeSucceeded, nil
}

// Search submits the page's search form with query and replaces the page
// with the results.
func (c *Controller) Search(ctx context.Context, query string) (*page.Page, error) {
	form, err := c.page.SearchForm()
	if err != nil {
		return nil, err
	}
	results, err := c.api.Search(ctx, form.Action, query)
	if err != nil {
		return nil, err
	}
	c.page.Replace(results)
	return results, nil
}

// Reload fetches the current page again and swaps it in.
func (c *Controller) Reload(ctx context.Context) error {
	next, err := c.api.LoadPage(ctx, c.page.URL().RequestURI())
	if err != nil {
		return err
	}
	c.page.Replace(next)
	return nil
}

func (c *Controller) confirm(question string) (bool, error) {
	ok, err := c.confirmer.Confirm(question)
	if err != nil {
		return false, fmt.Errorf("confirmation failed: %w", err)
	}
	return ok, nil
}

// alert notifies the user and mirrors the message into the page.
func (c *Controller) alert(level Level, message string) {
	c.page.PrependAlert(string(level), message)
	c.notifier.Notify(level, message)
}

func (c *Controller) panel(id string, level Level, message string) {
	c.page.SetPanelAlert(id, string(level), message)
	c.notifier.Notify(level, message)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
