package boards

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/remotehive-autoscraper/internal/id/uuid"
	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
	"github.com/JakeFAU/remotehive-autoscraper/internal/storage/memory"
)

const indeedFixture = `<html><body>
<div data-jk="abc123">
  <h2 class="jobTitle"><a href="/rc/clk?jk=abc123">Senior Go Engineer</a></h2>
  <span class="companyName">Acme</span>
  <div class="companyLocation">Remote</div>
  <span class="salaryText">$120,000 a year</span>
  <div class="job-snippet">Build
     things</div>
  <span class="date">2 days ago</span>
</div>
<div data-jk="empty"><h2 class="jobTitle"></h2></div>
</body></html>`

const remoteOKFixture = `[
 {"last_updated": 1, "legal": "API terms of service"},
 {"id": "123", "position": "Go Developer", "company": "Hive", "location": "",
  "description": "Work on Go services", "date": "2024-03-01T10:00:00+00:00",
  "salary_min": 90000, "salary_max": 120000, "tags": ["golang", "backend"]},
 {"id": 456, "position": "Designer", "company": "Pixel", "location": "Europe",
  "epoch": 1700000000, "salary_min": 50000, "tags": ["design"]}
]`

const wwrFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>We Work Remotely</title>
<item>
  <title>Hive Inc: Senior Go Engineer</title>
  <link>https://weworkremotely.com/remote-jobs/hive-go</link>
  <description>Write Go</description>
  <pubDate>Mon, 04 Mar 2024 10:00:00 +0000</pubDate>
  <guid>hive-go</guid>
</item>
<item>
  <title>Pixel: Product Designer</title>
  <link>https://weworkremotely.com/remote-jobs/pixel</link>
  <description>Design things</description>
  <guid>pixel</guid>
</item>
</channel></rss>`

func TestIndeedPageURL(t *testing.T) {
	t.Parallel()
	s := NewIndeed(scraper.JobBoard{Name: "Indeed"})
	got, ok := s.PageURL("golang dev", "New York", 2)
	require.True(t, ok)
	require.Equal(t, "https://www.indeed.com/jobs?q=golang+dev&l=New+York&start=10&sort=date", got)

	_, ok = s.PageURL("go", "", 0)
	require.False(t, ok)
}

func TestIndeedParse(t *testing.T) {
	t.Parallel()
	s := NewIndeed(scraper.JobBoard{Name: "Indeed"})
	postings, err := s.Parse([]byte(indeedFixture), Page{URL: "https://www.indeed.com/jobs?q=go", Number: 1})
	require.NoError(t, err)
	require.Len(t, postings, 1)

	p := postings[0]
	require.Equal(t, "Indeed", p.Source)
	require.Equal(t, "abc123", p.ExternalID)
	require.Equal(t, "Senior Go Engineer", p.Title)
	require.Equal(t, "Acme", p.Company)
	require.Equal(t, "Remote", p.Location)
	require.Equal(t, "$120,000 a year", p.Salary)
	require.Equal(t, "Build things", p.Description)
	require.Equal(t, "2 days ago", p.PostedText)
	require.Equal(t, "https://www.indeed.com/rc/clk?jk=abc123", p.URL)
	require.Equal(t, "div[data-jk]", s.WaitSelector())
}

func TestHTMLSinglePageTemplate(t *testing.T) {
	t.Parallel()
	s, err := NewHTML(scraper.JobBoard{
		Name:      "Careers",
		SearchURL: "https://jobs.example.com/search?q={query}",
		Selectors: scraper.Selectors{Card: "li.job", Title: "a.title"},
	})
	require.NoError(t, err)

	first, ok := s.PageURL("go", "", 1)
	require.True(t, ok)
	require.Equal(t, "https://jobs.example.com/search?q=go", first)
	_, ok = s.PageURL("go", "", 2)
	require.False(t, ok)

	postings, err := s.Parse([]byte(`<ul><li class="job"><a class="title" href="/j/1">Backend Engineer</a></li></ul>`),
		Page{URL: first})
	require.NoError(t, err)
	require.Len(t, postings, 1)
	require.Equal(t, "https://jobs.example.com/j/1", postings[0].URL)
}

func TestRemoteOKParse(t *testing.T) {
	t.Parallel()
	s := NewRemoteOK(scraper.JobBoard{Name: "RemoteOK"})
	url, ok := s.PageURL("golang", "Remote", 1)
	require.True(t, ok)
	require.Equal(t, "https://remoteok.io/api", url)
	_, ok = s.PageURL("golang", "Remote", 2)
	require.False(t, ok)

	all, err := s.Parse([]byte(remoteOKFixture), Page{URL: url})
	require.NoError(t, err)
	require.Len(t, all, 2)

	first := all[0]
	require.Equal(t, "123", first.ExternalID)
	require.Equal(t, "Remote", first.Location)
	require.Equal(t, "$90,000 - $120,000", first.Salary)
	require.Equal(t, "https://remoteok.io/remote-jobs/123", first.URL)
	require.NotNil(t, first.PostedAt)
	require.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), *first.PostedAt)

	second := all[1]
	require.Equal(t, "456", second.ExternalID)
	require.Equal(t, "Europe", second.Location)
	require.Equal(t, "$50,000+", second.Salary)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), *second.PostedAt)

	filtered, err := s.Parse([]byte(remoteOKFixture), Page{URL: url, Query: "golang"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, "Go Developer", filtered[0].Title)

	_, err = s.Parse([]byte("  "), Page{URL: url})
	require.Error(t, err)
	_, err = s.Parse([]byte("{"), Page{URL: url})
	require.Error(t, err)
}

func TestWeWorkRemotelyParse(t *testing.T) {
	t.Parallel()
	s := NewWeWorkRemotely(scraper.JobBoard{})
	require.Equal(t, "We Work Remotely", s.Name())

	postings, err := s.Parse([]byte(wwrFixture), Page{Query: "remote"})
	require.NoError(t, err)
	require.Len(t, postings, 2)

	p := postings[0]
	require.Equal(t, "Hive Inc", p.Company)
	require.Equal(t, "Senior Go Engineer", p.Title)
	require.Equal(t, "Remote", p.Location)
	require.Equal(t, "https://weworkremotely.com/remote-jobs/hive-go", p.URL)
	require.NotNil(t, p.PostedAt)
	require.Equal(t, time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC), *p.PostedAt)

	filtered, err := s.Parse([]byte(wwrFixture), Page{Query: "engineer"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	s, err := r.Resolve(scraper.JobBoard{Name: "Indeed", Kind: scraper.BoardKindHTML})
	require.NoError(t, err)
	require.IsType(t, &HTML{}, s)

	s, err = r.Resolve(scraper.JobBoard{Name: "Remote OK", Kind: scraper.BoardKindJSON})
	require.NoError(t, err)
	require.IsType(t, &RemoteOK{}, s)

	s, err = r.Resolve(scraper.JobBoard{Name: "Other Feed", Kind: scraper.BoardKindRSS, SearchURL: "https://example.com/jobs.rss"})
	require.NoError(t, err)
	require.IsType(t, &Feed{}, s)

	_, err = r.Resolve(scraper.JobBoard{Name: "Bare", Kind: scraper.BoardKindHTML})
	require.ErrorIs(t, err, ErrUnsupported)
	_, err = r.Resolve(scraper.JobBoard{Name: "Some API", Kind: scraper.BoardKindJSON})
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestParseCatalogue(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	boards, err := LoadCatalogue("", now)
	require.NoError(t, err)
	require.Len(t, boards, 3)
	for _, b := range boards {
		require.Equal(t, uuid.BoardID(b.Name), b.ID)
		require.True(t, b.Active)
		require.Equal(t, now, b.CreatedAt)
	}

	_, err = ParseCatalogue([]byte("boards:\n  - name: A\n  - name: a\n"), now)
	require.Error(t, err)
	_, err = ParseCatalogue([]byte("boards:\n  - name: A\n    kind: soap\n"), now)
	require.Error(t, err)

	off, err := ParseCatalogue([]byte("boards:\n  - name: A\n    is_active: false\n"), now)
	require.NoError(t, err)
	require.False(t, off[0].Active)
	require.Equal(t, scraper.BoardKindHTML, off[0].Kind)
}

func TestSeedIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewStore()
	boards, err := LoadCatalogue("", time.Now())
	require.NoError(t, err)

	n, err := Seed(ctx, store, boards, nil)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = Seed(ctx, store, boards, nil)
	require.NoError(t, err)
	require.Zero(t, n)
}
