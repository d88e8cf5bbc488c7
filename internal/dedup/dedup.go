// Package dedup removes duplicate postings within and across scrape runs
// using exact fingerprints and a weighted fuzzy similarity.
package dedup

import (
	"sync"

	"github.com/agnivade/levenshtein"

	"github.com/JakeFAU/remotehive-autoscraper/internal/hash/sha256"
	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

// DefaultThreshold is the similarity at or above which two postings match.
const DefaultThreshold = 0.85

const (
	titleWeight    = 0.3
	companyWeight  = 0.2
	locationWeight = 0.1
	tokenWeight    = 0.4

	// maxFingerprints bounds memory for long-lived deduplicators.
	maxFingerprints = 10000
	keepOnTrim      = 5000
)

// Fingerprint is the normalized identity of a posting.
type Fingerprint struct {
	ContentHash     string
	DescriptionHash string
	Title           string
	Company         string
	Location        string
	URL             string
	Tokens          map[string]struct{}
}

// NewFingerprint normalizes p and derives its hashes.
func NewFingerprint(p scraper.Posting) Fingerprint {
	title := NormalizeText(p.Title)
	company := NormalizeText(p.Company)
	location := NormalizeLocation(p.Location)
	fp := Fingerprint{
		ContentHash: ContentHash(p),
		Title:       title,
		Company:     company,
		Location:    location,
		URL:         NormalizeURL(p.URL),
		Tokens:      tokens(title, company, location, p.Description),
	}
	if desc := NormalizeText(p.Description); desc != "" {
		fp.DescriptionHash = sha256.Fields(desc)
	}
	return fp
}

// ContentHash is the stable identity stored with a posting: a truncated
// SHA-256 of the non-empty normalized title, company and location.
func ContentHash(p scraper.Posting) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{NormalizeText(p.Title), NormalizeText(p.Company), NormalizeLocation(p.Location)} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return sha256.Fields(parts...)
}

// Similarity returns the weighted similarity of two fingerprints in [0, 1].
func Similarity(a, b Fingerprint) float64 {
	return ratio(a.Title, b.Title)*titleWeight +
		ratio(a.Company, b.Company)*companyWeight +
		ratio(a.Location, b.Location)*locationWeight +
		jaccard(a.Tokens, b.Tokens)*tokenWeight
}

// ratio is 1 - distance/maxLen; two empty strings are identical.
func ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Stats summarizes a deduplicator's work.
type Stats struct {
	Processed  int     `json:"total_processed"`
	Duplicates int     `json:"duplicates_found"`
	Unique     int     `json:"unique_jobs"`
	Stored     int     `json:"fingerprints_stored"`
	Rate       float64 `json:"deduplication_rate"`
}

// Deduplicator remembers the fingerprints it has accepted. It is safe for
// concurrent use.
type Deduplicator struct {
	threshold float64

	mu     sync.Mutex
	order  []string
	prints map[string]Fingerprint
	urls   map[string]string
	stats  Stats
}

// New creates a Deduplicator; threshold <= 0 selects DefaultThreshold.
func New(threshold float64) *Deduplicator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Deduplicator{
		threshold: threshold,
		prints:    make(map[string]Fingerprint),
		urls:      make(map[string]string),
	}
}

// Filter returns the postings that are not duplicates, in input order, with
// ContentHash set. Duplicates are checked by exact hash, then URL, then
// similarity against every retained fingerprint.
func (d *Deduplicator) Filter(postings []scraper.Posting) (unique []scraper.Posting, duplicates int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range postings {
		fp := NewFingerprint(p)
		d.stats.Processed++
		if d.duplicateLocked(fp) {
			d.stats.Duplicates++
			duplicates++
			continue
		}
		d.addLocked(fp)
		d.stats.Unique++
		p.ContentHash = fp.ContentHash
		unique = append(unique, p)
	}
	d.trimLocked()
	return unique, duplicates
}

// Stats returns a snapshot of the counters.
func (d *Deduplicator) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.Stored = len(d.prints)
	if s.Processed > 0 {
		s.Rate = float64(s.Duplicates) / float64(s.Processed)
	}
	return s
}

func (d *Deduplicator) duplicateLocked(fp Fingerprint) bool {
	if _, ok := d.prints[fp.ContentHash]; ok {
		return true
	}
	if fp.URL != "" {
		if _, ok := d.urls[fp.URL]; ok {
			return true
		}
	}
	for _, existing := range d.prints {
		if Similarity(fp, existing) >= d.threshold {
			return true
		}
	}
	return false
}

func (d *Deduplicator) addLocked(fp Fingerprint) {
	d.prints[fp.ContentHash] = fp
	d.order = append(d.order, fp.ContentHash)
	if fp.URL != "" {
		d.urls[fp.URL] = fp.ContentHash
	}
}

// trimLocked keeps the most recent fingerprints once the cap is exceeded.
func (d *Deduplicator) trimLocked() {
	if len(d.order) <= maxFingerprints {
		return
	}
	drop := d.order[:len(d.order)-keepOnTrim]
	for _, h := range drop {
		if fp, ok := d.prints[h]; ok {
			delete(d.urls, fp.URL)
			delete(d.prints, h)
		}
	}
	d.order = append([]string(nil), d.order[len(d.order)-keepOnTrim:]...)
}
