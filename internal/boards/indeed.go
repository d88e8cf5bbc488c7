package boards

import "github.com/JakeFAU/remotehive-autoscraper/internal/scraper"

const (
	indeedBaseURL   = "https://www.indeed.com"
	indeedSearchURL = indeedBaseURL + "/jobs?q={query}&l={location}&start={start}&sort=date"
)

// IndeedSelectors match Indeed's result cards.
var IndeedSelectors = scraper.Selectors{
	Card:     "div[data-jk]",
	Title:    "h2.jobTitle",
	Company:  "span.companyName",
	Location: "div.companyLocation",
	Salary:   "span.salaryText",
	Summary:  "div.job-snippet",
	Posted:   "span.date",
}

// NewIndeed returns an HTML scraper preset for Indeed. A stored search URL or
// card selector on the board overrides the preset.
func NewIndeed(board scraper.JobBoard) *HTML {
	h := &HTML{name: board.Name, searchURL: indeedSearchURL, perPage: defaultPerPage, sel: IndeedSelectors}
	if h.name == "" {
		h.name = "Indeed"
	}
	if board.SearchURL != "" {
		h.searchURL = board.SearchURL
	}
	if board.Selectors.Card != "" {
		h.sel = board.Selectors
	}
	return h
}
