// Package detector decides when a plain HTTP probe of a job board returned a
// JavaScript shell that needs a headless render.
package detector

import (
	"bytes"
	"mime"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

const defaultMinText = 200

// mountPoints are the containers single-page apps render into.
var mountPoints = []string{"#__next", "#root", "#app", "[data-reactroot]", "[ng-app]", "#__nuxt"}

// Heuristic flags pages with almost no visible text that look client-rendered.
type Heuristic struct {
	// MinText is the visible-text length below which a page counts as a shell.
	MinText int
}

// NewHeuristic creates a detector; minText <= 0 selects the default.
func NewHeuristic(minText int) *Heuristic {
	if minText <= 0 {
		minText = defaultMinText
	}
	return &Heuristic{MinText: minText}
}

// ShouldPromote implements scraper.HeadlessDetector.
func (h *Heuristic) ShouldPromote(resp scraper.FetchResponse) bool {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !isHTML(resp) {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return false
	}
	if strings.Contains(strings.ToLower(doc.Find("noscript").Text()), "enable javascript") {
		return true
	}

	scripts := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scripts += len(s.Text())
	})
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	visible := len(strings.Join(strings.Fields(body.Text()), " "))
	if visible >= h.MinText {
		return false
	}
	for _, sel := range mountPoints {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return scripts*4 >= len(resp.Body)
}

func isHTML(resp scraper.FetchResponse) bool {
	ct := resp.ContentType()
	if ct == "" {
		ct = http.DetectContentType(resp.Body)
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
