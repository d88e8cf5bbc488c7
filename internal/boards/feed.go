package boards

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

const weWorkRemotelyFeed = "https://weworkremotely.com/remote-jobs.rss"

// Feed reads an RSS or Atom feed as a single page of postings.
type Feed struct {
	name    string
	feedURL string
	// splitTitle parses "Company: Position" titles.
	splitTitle bool
}

// NewFeed builds a generic feed scraper from the board's search URL.
func NewFeed(board scraper.JobBoard) (*Feed, error) {
	if board.SearchURL == "" {
		return nil, fmt.Errorf("%s: feed url is required: %w", board.Name, ErrUnsupported)
	}
	return &Feed{name: board.Name, feedURL: board.SearchURL}, nil
}

// NewWeWorkRemotely returns the We Work Remotely feed scraper.
func NewWeWorkRemotely(board scraper.JobBoard) *Feed {
	f := &Feed{name: board.Name, feedURL: weWorkRemotelyFeed, splitTitle: true}
	if f.name == "" {
		f.name = "We Work Remotely"
	}
	if board.SearchURL != "" {
		f.feedURL = board.SearchURL
	}
	return f
}

// Name implements Scraper.
func (f *Feed) Name() string { return f.name }

// PageURL implements Scraper.
func (f *Feed) PageURL(_, _ string, page int) (string, bool) {
	if page != 1 {
		return "", false
	}
	return f.feedURL, true
}

// Parse implements Scraper.
func (f *Feed) Parse(body []byte, page Page) ([]scraper.Posting, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errNoBody
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s feed: %w", f.name, err)
	}
	var postings []scraper.Posting
	for _, item := range feed.Items {
		title, company := strings.TrimSpace(item.Title), ""
		if f.splitTitle {
			if c, p, ok := strings.Cut(title, ":"); ok {
				company, title = strings.TrimSpace(c), strings.TrimSpace(p)
			}
		} else if item.Author != nil {
			company = item.Author.Name
		}
		if title == "" {
			continue
		}
		if !matchesQuery(page.Query, title, company, item.Description, strings.Join(item.Categories, " ")) {
			continue
		}
		location := "Remote"
		if region, ok := item.Custom["region"]; ok && region != "" {
			location = region
		}
		p := scraper.Posting{
			Source:      f.name,
			ExternalID:  item.GUID,
			Title:       title,
			Company:     company,
			Location:    location,
			Description: strings.TrimSpace(item.Description),
			URL:         item.Link,
			PostedText:  item.Published,
			Tags:        item.Categories,
		}
		if item.PublishedParsed != nil {
			t := item.PublishedParsed.UTC()
			p.PostedAt = &t
		}
		postings = append(postings, p)
	}
	return postings, nil
}
