package boards

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

const remoteOKAPI = "https://remoteok.io/api"

// RemoteOK reads the public JSON API, a single page of recent jobs.
type RemoteOK struct {
	name   string
	apiURL string
}

// NewRemoteOK builds the scraper; the board's search URL overrides the API URL.
func NewRemoteOK(board scraper.JobBoard) *RemoteOK {
	r := &RemoteOK{name: board.Name, apiURL: remoteOKAPI}
	if r.name == "" {
		r.name = "RemoteOK"
	}
	if board.SearchURL != "" {
		r.apiURL = board.SearchURL
	}
	return r
}

type remoteOKJob struct {
	ID          json.RawMessage `json:"id"`
	Legal       string          `json:"legal"`
	Position    string          `json:"position"`
	Company     string          `json:"company"`
	Location    string          `json:"location"`
	Description string          `json:"description"`
	Date        string          `json:"date"`
	Epoch       int64           `json:"epoch"`
	SalaryMin   int64           `json:"salary_min"`
	SalaryMax   int64           `json:"salary_max"`
	Tags        []string        `json:"tags"`
	URL         string          `json:"url"`
}

// Name implements Scraper.
func (r *RemoteOK) Name() string { return r.name }

// PageURL implements Scraper. The query is applied in Parse.
func (r *RemoteOK) PageURL(_, _ string, page int) (string, bool) {
	if page != 1 {
		return "", false
	}
	return r.apiURL, true
}

// Parse implements Scraper. Entries without an id (the legal notice) are skipped.
func (r *RemoteOK) Parse(body []byte, page Page) ([]scraper.Posting, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errNoBody
	}
	var entries []remoteOKJob
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode remoteok api: %w", err)
	}
	var postings []scraper.Posting
	for _, e := range entries {
		id := rawID(e.ID)
		if id == "" || e.Legal != "" || e.Position == "" {
			continue
		}
		if !matchesQuery(page.Query, e.Position, e.Company, e.Description, strings.Join(e.Tags, " ")) {
			continue
		}
		location := e.Location
		if location == "" {
			location = "Remote"
		}
		link := e.URL
		if link == "" {
			link = "https://remoteok.io/remote-jobs/" + id
		}
		postings = append(postings, scraper.Posting{
			Source:      r.name,
			ExternalID:  id,
			Title:       e.Position,
			Company:     e.Company,
			Location:    location,
			Description: e.Description,
			URL:         link,
			Salary:      formatSalary(e.SalaryMin, e.SalaryMax),
			PostedAt:    remoteOKDate(e.Date, e.Epoch),
			Tags:        e.Tags,
		})
	}
	return postings, nil
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func formatSalary(lo, hi int64) string {
	switch {
	case lo > 0 && hi > 0:
		return "$" + thousands(lo) + " - $" + thousands(hi)
	case lo > 0:
		return "$" + thousands(lo) + "+"
	default:
		return ""
	}
}

func thousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}

func remoteOKDate(date string, epoch int64) *time.Time {
	if t, err := time.Parse(time.RFC3339, date); err == nil {
		t = t.UTC()
		return &t
	}
	if epoch > 0 {
		t := time.Unix(epoch, 0).UTC()
		return &t
	}
	return nil
}
