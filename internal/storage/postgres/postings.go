package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

// SavePostings inserts postings one row at a time. Rows whose content hash is
// already stored are skipped; the return value counts rows written.
func (s *Store) SavePostings(ctx context.Context, postings []scraper.Posting) (int, error) {
	const query = `
		INSERT INTO postings (
			id, scrape_job_id, job_board_id, source, external_id, title, company, location,
			description, url, salary, posted_text, posted_at, tags, content_hash, quality_score,
			scraped_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (content_hash) DO NOTHING`
	saved := 0
	for _, p := range postings {
		tags := p.Tags
		if tags == nil {
			tags = []string{}
		}
		tag, err := s.db.Exec(ctx, query,
			p.ID, nullable(p.JobID), nullable(p.BoardID), p.Source, p.ExternalID, p.Title, p.Company,
			p.Location, p.Description, p.URL, p.Salary, p.PostedText, p.PostedAt, tags,
			p.ContentHash, p.QualityScore, p.ScrapedAt,
		)
		if err != nil {
			return saved, fmt.Errorf("insert posting %q: %w", p.Title, err)
		}
		saved += int(tag.RowsAffected())
	}
	return saved, nil
}

// ExistingHashes reports which of hashes are already stored.
func (s *Store) ExistingHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	found := make(map[string]bool, len(hashes))
	if len(hashes) == 0 {
		return found, nil
	}
	rows, err := s.db.Query(ctx, `SELECT content_hash FROM postings WHERE content_hash = ANY($1)`, hashes)
	if err != nil {
		return nil, fmt.Errorf("query hashes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan hash: %w", err)
		}
		found[h] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hashes: %w", err)
	}
	return found, nil
}

// ListPostings returns postings newest first.
func (s *Store) ListPostings(ctx context.Context, filter scraper.PostingFilter) ([]scraper.Posting, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id::text, COALESCE(scrape_job_id::text, ''), COALESCE(job_board_id::text, ''), source,
			external_id, title, company, location, description, url, salary, posted_text, posted_at,
			tags, content_hash, quality_score, scraped_at
		FROM postings
		WHERE ($1 = '' OR scrape_job_id::text = $1) AND ($2 = '' OR job_board_id::text = $2)
		ORDER BY scraped_at DESC
		LIMIT $3 OFFSET $4`,
		filter.JobID, filter.BoardID, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list postings: %w", err)
	}
	defer rows.Close()

	postings := make([]scraper.Posting, 0)
	for rows.Next() {
		var p scraper.Posting
		if err := rows.Scan(
			&p.ID, &p.JobID, &p.BoardID, &p.Source, &p.ExternalID, &p.Title, &p.Company,
			&p.Location, &p.Description, &p.URL, &p.Salary, &p.PostedText, &p.PostedAt,
			&p.Tags, &p.ContentHash, &p.QualityScore, &p.ScrapedAt,
		); err != nil {
			return nil, fmt.Errorf("scan posting row: %w", err)
		}
		postings = append(postings, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate postings: %w", err)
	}
	return postings, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
