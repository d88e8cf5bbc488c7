package boards

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

const defaultPerPage = 10

// HTML scrapes server-rendered result pages with CSS selectors.
type HTML struct {
	name      string
	searchURL string
	perPage   int
	sel       scraper.Selectors
}

// NewHTML builds an HTML scraper from a board's search template and selectors.
func NewHTML(board scraper.JobBoard) (*HTML, error) {
	if board.SearchURL == "" {
		return nil, fmt.Errorf("%s: search url is required: %w", board.Name, ErrUnsupported)
	}
	if board.Selectors.Card == "" || board.Selectors.Title == "" {
		return nil, fmt.Errorf("%s: card and title selectors are required: %w", board.Name, ErrUnsupported)
	}
	return &HTML{name: board.Name, searchURL: board.SearchURL, perPage: defaultPerPage, sel: board.Selectors}, nil
}

// Name implements Scraper.
func (h *HTML) Name() string { return h.name }

// WaitSelector implements Renderable.
func (h *HTML) WaitSelector() string { return h.sel.Card }

// PageURL implements Scraper. Templates without {page} or {start} have a
// single page.
func (h *HTML) PageURL(query, location string, page int) (string, bool) {
	if page < 1 {
		return "", false
	}
	paged := strings.Contains(h.searchURL, "{page}") || strings.Contains(h.searchURL, "{start}")
	if page > 1 && !paged {
		return "", false
	}
	return expandTemplate(h.searchURL, query, location, page, h.perPage), true
}

// Parse implements Scraper. Cards without a title are skipped.
func (h *HTML) Parse(body []byte, page Page) ([]scraper.Posting, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s html: %w", h.name, err)
	}
	var postings []scraper.Posting
	doc.Find(h.sel.Card).Each(func(_ int, card *goquery.Selection) {
		title := text(card, h.sel.Title)
		if title == "" {
			return
		}
		postings = append(postings, scraper.Posting{
			Source:      h.name,
			ExternalID:  firstAttr(card, "data-jk", "data-id", "id"),
			Title:       title,
			Company:     text(card, h.sel.Company),
			Location:    text(card, h.sel.Location),
			Salary:      text(card, h.sel.Salary),
			Description: text(card, h.sel.Summary),
			PostedText:  text(card, h.sel.Posted),
			URL:         resolveURL(page.URL, h.link(card)),
		})
	})
	return postings, nil
}

// link prefers the link selector, then an anchor inside the title, then the
// card itself when it is an anchor.
func (h *HTML) link(card *goquery.Selection) string {
	candidates := []*goquery.Selection{}
	if h.sel.Link != "" {
		candidates = append(candidates, card.Find(h.sel.Link))
	}
	candidates = append(candidates, card.Find(h.sel.Title).Find("a"), card.Find(h.sel.Title).Filter("a"), card.Filter("a"))
	for _, c := range candidates {
		if href, ok := c.First().Attr("href"); ok && strings.TrimSpace(href) != "" {
			return href
		}
	}
	return ""
}

func text(card *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.Join(strings.Fields(card.Find(selector).First().Text()), " ")
}

func firstAttr(s *goquery.Selection, names ...string) string {
	for _, n := range names {
		if v, ok := s.Attr(n); ok && v != "" {
			return v
		}
	}
	return ""
}

var errNoBody = errors.New("empty response body")
