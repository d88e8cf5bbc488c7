// Package boards turns job-board responses into postings. Each Scraper knows
// how to address a board's result pages and parse what comes back; the
// Registry picks one for a stored board.
package boards

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

// ErrUnsupported is returned when no scraper can handle a board.
var ErrUnsupported = errors.New("unsupported job board")

// Scraper addresses and parses one board.
type Scraper interface {
	// Name is the board's display name, stored as the posting source.
	Name() string
	// PageURL returns the URL of result page (1-based), or false when the
	// board has no such page.
	PageURL(query, location string, page int) (string, bool)
	// Parse extracts postings from a fetched page.
	Parse(body []byte, page Page) ([]scraper.Posting, error)
}

// Page identifies a fetched result page.
type Page struct {
	URL      string
	Query    string
	Location string
	Number   int
}

// Renderable is implemented by scrapers whose listings appear once a CSS
// selector is present in the rendered DOM.
type Renderable interface {
	WaitSelector() string
}

// Factory builds a Scraper for a stored board.
type Factory func(board scraper.JobBoard) (Scraper, error)

// Registry maps normalized board names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in boards registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("indeed", func(b scraper.JobBoard) (Scraper, error) { return NewIndeed(b), nil })
	r.Register("remoteok", func(b scraper.JobBoard) (Scraper, error) { return NewRemoteOK(b), nil })
	r.Register("remote_ok", func(b scraper.JobBoard) (Scraper, error) { return NewRemoteOK(b), nil })
	r.Register("weworkremotely", func(b scraper.JobBoard) (Scraper, error) { return NewWeWorkRemotely(b), nil })
	r.Register("we_work_remotely", func(b scraper.JobBoard) (Scraper, error) { return NewWeWorkRemotely(b), nil })
	return r
}

// Register adds or replaces a factory under name (normalized).
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[scraper.NormalizeBoardName(name)] = f
}

// Names lists registered names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	return names
}

// Resolve returns the scraper for board: a registered one by name, otherwise
// a generic scraper chosen by the board's kind.
func (r *Registry) Resolve(board scraper.JobBoard) (Scraper, error) {
	r.mu.RLock()
	f, ok := r.factories[scraper.NormalizeBoardName(board.Name)]
	r.mu.RUnlock()
	if ok {
		return f(board)
	}
	switch board.Kind {
	case scraper.BoardKindHTML, "":
		return NewHTML(board)
	case scraper.BoardKindRSS:
		return NewFeed(board)
	default:
		return nil, fmt.Errorf("%s (%s): %w", board.Name, board.Kind, ErrUnsupported)
	}
}

// expandTemplate fills {query}, {location}, {page} and {start} (zero-based
// offset in steps of perPage) in a search URL template.
func expandTemplate(tmpl, query, location string, page, perPage int) string {
	return strings.NewReplacer(
		"{query}", url.QueryEscape(query),
		"{location}", url.QueryEscape(location),
		"{page}", strconv.Itoa(page),
		"{start}", strconv.Itoa((page-1)*perPage),
	).Replace(tmpl)
}

// matchesQuery reports whether any searchable field contains query. An empty
// query, or "remote" on a remote-only board, matches everything.
func matchesQuery(query string, fields ...string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" || q == "remote" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

func resolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	u, err := b.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}
