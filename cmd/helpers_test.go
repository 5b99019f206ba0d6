/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/
package cmd

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
)

const dashboardHTML = `<html><head><title>Dashboard</title>
<link rel="stylesheet" href="/static/css/style.css"></head>
<body><div class="container"><h1>Library</h1></div></body></html>`

const booksPageHTML = `<html><head><title>Books</title></head><body><div class="container">
<form action="/books" method="get"><input type="text" name="search" value=""></form>
<table id="books">
<tr><td>9</td><td>Dune</td><td><button class="delete-book" data-book-id="9">Delete</button></td></tr>
<tr><td>10</td><td>Emma</td><td><button class="delete-book" data-book-id="10">Delete</button></td></tr>
</table>
<form id="purge" action="/admin/purge" method="post" data-confirm="Purge all returned loans?">
<input type="hidden" name="token" value="abc">
</form>
</div></body></html>`

const searchResultsHTML = `<html><head><title>Books</title></head><body><div class="container">
<form action="/books" method="get"><input type="text" name="search" value="dune"></form>
<table id="books">
<tr><td>9</td><td>Dune</td><td><button class="delete-book" data-book-id="9">Delete</button></td></tr>
</table>
</div></body></html>`

const userPageHTML = `<html><head><title>User</title></head><body><div class="container">
<h3>Borrowed <span class="badge bg-info">2</span></h3>
<table id="loans">
<tr><td>Dune</td><td><button class="return-book" data-user-id="5" data-book-id="9">Return</button></td></tr>
<tr><td>Emma</td><td><button class="return-book" data-user-id="5" data-book-id="11">Return</button></td></tr>
</table>
</div></body></html>`

const finesPageHTML = `<html><head><title>Fines</title></head><body><div class="container">
<table id="fines">
<tr><td>Dune</td><td>$3.50</td><td><button class="pay-fine" data-user-id="5" data-book-id="9">Pay</button></td></tr>
</table>
</div></body></html>`

const borrowPageHTML = `<html><head><title>Borrow</title></head><body><div class="container">
<form id="borrowForm" method="post" action="/borrow">
<input type="text" name="user_id" value="">
<input type="text" name="book_id" value="9">
</form>
<div id="borrowResult"></div>
</div></body></html>`

const adminPageHTML = `<html><head><title>Admin</title></head><body><div class="container">
<button id="sendNotificationsBtn">Send</button>
<div id="notificationResult"></div>
</div></body></html>`

// libraryApp is a stand-in for the library web application.
type libraryApp struct {
	*httptest.Server

	mu       sync.Mutex
	hits     map[string]int
	borrower string
}

func newLibraryApp(t *testing.T) *libraryApp {
	t.Helper()
	app := &libraryApp{hits: make(map[string]int)}
	mux := http.NewServeMux()

	html := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, body)
		}
	}
	success := func(message string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"success": true, "message": %q}`, message)
		}
	}

	mux.HandleFunc("GET /{$}", html(dashboardHTML))
	mux.HandleFunc("GET /static/css/style.css", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		fmt.Fprint(w, "body { margin: 0; }")
	})
	mux.HandleFunc("GET /books", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("search") != "" {
			html(searchResultsHTML)(w, r)
			return
		}
		html(booksPageHTML)(w, r)
	})
	mux.HandleFunc("POST /books/{id}/delete", success("Book deleted"))
	mux.HandleFunc("GET /users/5", html(userPageHTML))
	mux.HandleFunc("GET /users/5/fines", html(finesPageHTML))
	mux.HandleFunc("POST /users/5/pay-fine/9", success("Fine paid"))
	mux.HandleFunc("POST /return", success("Book returned"))
	mux.HandleFunc("GET /borrow", html(borrowPageHTML))
	mux.HandleFunc("POST /borrow", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		app.mu.Lock()
		app.borrower = r.FormValue("user_id")
		app.mu.Unlock()
		success("Book borrowed")(w, r)
	})
	mux.HandleFunc("GET /admin", html(adminPageHTML))
	mux.HandleFunc("GET /admin/send-notifications", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success": true, "results": {"overdue_notifications": 2, "reminder_notifications": 3}}`)
	})
	mux.HandleFunc("POST /admin/purge", html(`<html><head><title>Purged</title></head><body></body></html>`))

	app.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app.mu.Lock()
		app.hits[r.Method+" "+r.URL.Path]++
		app.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(app.Close)
	return app
}

func (a *libraryApp) Hits(key string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hits[key]
}

// writeConfig writes a librarian.yaml pointing at baseURL with fast timings.
func writeConfig(t *testing.T, baseURL string, extra ...string) string {
	t.Helper()
	lines := []string{
		"base_url: " + baseURL,
		"reload_delay: 300ms",
		"requests_per_second: 0",
		"heartbeat:",
		"  interval: 0s",
	}
	lines = append(lines, extra...)
	path := filepath.Join(t.TempDir(), "librarian.yaml")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// parseFlags parses args into c, including the persistent flags it inherits.
// Flag values are package state, so every test sets what it relies on.
func parseFlags(t *testing.T, c *cobra.Command, args ...string) {
	t.Helper()
	if err := c.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags(%v) error = %v", args, err)
	}
}

func captureOutput(t *testing.T, c *cobra.Command) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	c.SetOut(&buf)
	t.Cleanup(func() { c.SetOut(nil) })
	return &buf
}
