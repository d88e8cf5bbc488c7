package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

const boardColumns = `id::text, name, base_url, kind, search_url, selectors, rate_limit_rps,
	requires_js, is_active, schedule, region, created_at, updated_at`

// ListBoards returns boards ordered by name. A nil active returns every board.
func (s *Store) ListBoards(ctx context.Context, active *bool) ([]scraper.JobBoard, error) {
	rows, err := s.db.Query(ctx, `SELECT `+boardColumns+` FROM job_boards
		WHERE ($1::boolean IS NULL OR is_active = $1)
		ORDER BY name`, active)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	boards := make([]scraper.JobBoard, 0)
	for rows.Next() {
		board, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan board row: %w", err)
		}
		boards = append(boards, board)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	return boards, nil
}

// GetBoard loads one board.
func (s *Store) GetBoard(ctx context.Context, boardID string) (scraper.JobBoard, error) {
	row := s.db.QueryRow(ctx, `SELECT `+boardColumns+` FROM job_boards WHERE id = $1`, boardID)
	board, err := scanBoard(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scraper.JobBoard{}, fmt.Errorf("board %s: %w", boardID, scraper.ErrNotFound)
		}
		return scraper.JobBoard{}, fmt.Errorf("get board: %w", err)
	}
	return board, nil
}

// CreateBoard inserts a board; a duplicate id or name yields ErrConflict.
func (s *Store) CreateBoard(ctx context.Context, board scraper.JobBoard) error {
	selectors, err := json.Marshal(board.Selectors)
	if err != nil {
		return fmt.Errorf("marshal selectors: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO job_boards (
			id, name, base_url, kind, search_url, selectors, rate_limit_rps, requires_js,
			is_active, schedule, region, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		board.ID, board.Name, board.BaseURL, string(board.Kind), board.SearchURL, selectors,
		board.RateLimitRPS, board.RequiresJS, board.Active, board.Schedule, board.Region,
		board.CreatedAt, board.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("board %q: %w", board.Name, scraper.ErrConflict)
		}
		return fmt.Errorf("insert board: %w", err)
	}
	return nil
}

// UpdateBoard overwrites a board's mutable fields.
func (s *Store) UpdateBoard(ctx context.Context, board scraper.JobBoard) error {
	selectors, err := json.Marshal(board.Selectors)
	if err != nil {
		return fmt.Errorf("marshal selectors: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE job_boards
		SET name = $2, base_url = $3, kind = $4, search_url = $5, selectors = $6,
			rate_limit_rps = $7, requires_js = $8, is_active = $9, schedule = $10,
			region = $11, updated_at = $12
		WHERE id = $1`,
		board.ID, board.Name, board.BaseURL, string(board.Kind), board.SearchURL, selectors,
		board.RateLimitRPS, board.RequiresJS, board.Active, board.Schedule, board.Region,
		board.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("board %q: %w", board.Name, scraper.ErrConflict)
		}
		return fmt.Errorf("update board: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("board %s: %w", board.ID, scraper.ErrNotFound)
	}
	return nil
}

func scanBoard(row pgx.Row) (scraper.JobBoard, error) {
	var (
		board     scraper.JobBoard
		kind      string
		selectors []byte
	)
	err := row.Scan(
		&board.ID, &board.Name, &board.BaseURL, &kind, &board.SearchURL, &selectors,
		&board.RateLimitRPS, &board.RequiresJS, &board.Active, &board.Schedule, &board.Region,
		&board.CreatedAt, &board.UpdatedAt,
	)
	if err != nil {
		return scraper.JobBoard{}, err
	}
	board.Kind = scraper.BoardKind(kind)
	if len(selectors) > 0 {
		if err := json.Unmarshal(selectors, &board.Selectors); err != nil {
			return scraper.JobBoard{}, fmt.Errorf("decode selectors: %w", err)
		}
	}
	return board, nil
}
