package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

const userColumns = `id::text, email, full_name, password_hash, role, is_active, created_at, last_login`

// GetUserByEmail looks a user up by case-insensitive email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (scraper.User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)))
	return s.scanUserRow(row, email)
}

// GetUserByID loads a user by id.
func (s *Store) GetUserByID(ctx context.Context, id string) (scraper.User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return s.scanUserRow(row, id)
}

func (s *Store) scanUserRow(row pgx.Row, key string) (scraper.User, error) {
	var (
		user scraper.User
		role string
	)
	err := row.Scan(&user.ID, &user.Email, &user.FullName, &user.PasswordHash, &role,
		&user.Active, &user.CreatedAt, &user.LastLoginAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scraper.User{}, fmt.Errorf("user %s: %w", key, scraper.ErrNotFound)
		}
		return scraper.User{}, fmt.Errorf("get user: %w", err)
	}
	user.Role = scraper.Role(role)
	return user, nil
}

// CreateUser inserts an account; the email is stored lower-cased.
func (s *Store) CreateUser(ctx context.Context, user scraper.User) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (id, email, full_name, password_hash, role, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		user.ID, strings.ToLower(strings.TrimSpace(user.Email)), user.FullName, user.PasswordHash,
		string(user.Role), user.Active, user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", user.Email, scraper.ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// RecordLogin stamps the last successful login.
func (s *Store) RecordLogin(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("record login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, scraper.ErrNotFound)
	}
	return nil
}
