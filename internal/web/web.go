// Package web serves the operator status page.
//
// The page is a single embedded html/template. It renders once and then
// polls /api/stats and /api/status from the browser, so it holds no state of
// its own and works against any running server.
//
// Routes
//
//	GET  /    status page
//
// The page lists counts by state, the progress bar, occupied slots and the
// session log, and offers start, stop and retry-failed buttons that POST to
// the control API.
package web

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"time"
)

//go:embed templates/*.html
var templates embed.FS

var pageTmpl = template.Must(template.ParseFS(templates, "templates/status.html"))

// Page is the status page handler.
type Page struct {
	title    string
	interval time.Duration
}

// NewPage creates a status page that polls every interval.
func NewPage(title string, interval time.Duration) *Page {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Page{title: title, interval: interval}
}

// Routes returns the HTTP routes this handler serves.
func (p *Page) Routes() []string {
	return []string{"/"}
}

type pageData struct {
	Title      string
	IntervalMS int64
}

// ServeHTTP renders the page for GET / and answers 404 for any other path.
func (p *Page) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, pageData{Title: p.title, IntervalMS: p.interval.Milliseconds()}); err != nil {
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}
