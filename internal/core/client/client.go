// Package client talks to the library backend: JSON envelope actions and
// HTML page loads.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/seckatie/librarian/internal/core/page"
	"golang.org/x/time/rate"
)

// ErrTransport marks failures to get a usable answer from the backend: the
// request failed or the body was not a JSON envelope.
var ErrTransport = errors.New("transport failure")

const requestIDHeader = "X-Request-ID"

// Result is the envelope every JSON action answers with.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// NotificationCounts is the results object of a send-notifications answer.
type NotificationCounts struct {
	Overdue   int `json:"overdue_notifications"`
	Reminders int `json:"reminder_notifications"`
}

func (c NotificationCounts) Total() int { return c.Overdue + c.Reminders }

// NotificationResult is the send-notifications envelope.
type NotificationResult struct {
	Result
	Results NotificationCounts `json:"results"`
}

// Options configures a Client.
type Options struct {
	BaseURL *url.URL
	// Transport is used for every request, typically the offline manager.
	// Defaults to http.DefaultTransport.
	Transport         http.RoundTripper
	Timeout           time.Duration
	RequestsPerSecond float64
	UserAgent         string
}

type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	userAgent  string
	limiter    *rate.Limiter
}

func New(opts Options) (*Client, error) {
	if opts.BaseURL == nil || opts.BaseURL.Scheme == "" || opts.BaseURL.Host == "" {
		return nil, fmt.Errorf("client: base URL must be absolute, got %v", opts.BaseURL)
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		baseURL:   opts.BaseURL,
		userAgent: opts.UserAgent,
		limiter:   rate.NewLimiter(limit, 1),
	}, nil
}

// DeleteBook asks the backend to delete a book.
func (c *Client) DeleteBook(ctx context.Context, bookID string) (Result, error) {
	var res Result
	path := "/books/" + url.PathEscape(bookID) + "/delete"
	err := c.postJSON(ctx, path, &res)
	return res, err
}

// Borrow submits the borrow form fields.
func (c *Client) Borrow(ctx context.Context, fields url.Values) (Result, error) {
	var res Result
	err := c.postMultipart(ctx, "/borrow", fields, &res)
	return res, err
}

// ReturnBook returns a borrowed book.
func (c *Client) ReturnBook(ctx context.Context, userID, bookID string) (Result, error) {
	var res Result
	err := c.postMultipart(ctx, "/return", url.Values{
		"user_id": {userID},
		"book_id": {bookID},
	}, &res)
	return res, err
}

// PayFine marks the fine for a user's book as paid.
func (c *Client) PayFine(ctx context.Context, userID, bookID string) (Result, error) {
	var res Result
	path := "/users/" + url.PathEscape(userID) + "/pay-fine/" + url.PathEscape(bookID)
	err := c.postJSON(ctx, path, &res)
	return res, err
}

// SendNotifications triggers the overdue and reminder emails.
func (c *Client) SendNotifications(ctx context.Context) (NotificationResult, error) {
	var res NotificationResult
	resp, err := c.do(ctx, http.MethodGet, "/admin/send-notifications", nil, "")
	if err != nil {
		return res, err
	}
	err = decodeEnvelope(resp, &res)
	return res, err
}

// LoadPage fetches and parses an HTML page.
func (c *Client) LoadPage(ctx context.Context, path string) (*page.Page, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	return parsePage(resp)
}

// Search submits a search form: GET action?search=query.
func (c *Client) Search(ctx context.Context, action *url.URL, query string) (*page.Page, error) {
	u := *action
	q := u.Query()
	q.Set("search", query)
	u.RawQuery = q.Encode()
	return c.LoadPage(ctx, u.String())
}

// SubmitForm submits fields the way a browser submits a plain HTML form and
// parses the page it lands on.
func (c *Client) SubmitForm(ctx context.Context, method string, action *url.URL, fields url.Values) (*page.Page, error) {
	u := *action
	if method != http.MethodPost {
		q := u.Query()
		for k, vs := range fields {
			q[k] = vs
		}
		u.RawQuery = q.Encode()
		return c.LoadPage(ctx, u.String())
	}
	resp, err := c.do(ctx, http.MethodPost, u.String(), strings.NewReader(fields.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return nil, err
	}
	return parsePage(resp)
}

// Ping fetches path and discards the body.
func (c *Client) Ping(ctx context.Context, path string) (int, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: reading %s: %w", ErrTransport, path, err)
	}
	return resp.StatusCode, nil
}

func (c *Client) postJSON(ctx context.Context, path string, target any) error {
	resp, err := c.do(ctx, http.MethodPost, path, nil, "application/json")
	if err != nil {
		return err
	}
	return decodeEnvelope(resp, target)
}

func (c *Client) postMultipart(ctx context.Context, path string, fields url.Values, target any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range fields[k] {
			if err := w.WriteField(k, v); err != nil {
				return fmt.Errorf("failed to encode field %s: %w", k, err)
			}
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to encode form: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, path, &buf, w.FormDataContentType())
	if err != nil {
		return err
	}
	return decodeEnvelope(resp, target)
}

func (c *Client) do(ctx context.Context, method, ref string, body io.Reader, contentType string) (*http.Response, error) {
	u, err := c.resolve(ref)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, method, u.Path, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set(requestIDHeader, uuid.New().String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, method, u.Path, err)
	}
	if resp.Request == nil {
		resp.Request = req
	}
	return resp, nil
}

func (c *Client) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", ref, err)
	}
	return c.baseURL.ResolveReference(u), nil
}

// decodeEnvelope reads the JSON envelope regardless of status code; the
// backend reports refusals as {success:false} with 4xx statuses.
func decodeEnvelope(resp *http.Response, target any) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %w", ErrTransport, err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("%w: invalid response envelope (HTTP %d): %w", ErrTransport, resp.StatusCode, err)
	}
	return nil
}

func parsePage(resp *http.Response) (*page.Page, error) {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: HTTP %d for %s", ErrTransport, resp.StatusCode, resp.Request.URL)
	}
	return page.Parse(resp.Body, resp.Request.URL)
}
