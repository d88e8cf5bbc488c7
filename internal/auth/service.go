// Package auth issues and verifies JWT access tokens for API users.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/remotehive-autoscraper/internal/clock/system"
	"github.com/JakeFAU/remotehive-autoscraper/internal/id/uuid"
	"github.com/JakeFAU/remotehive-autoscraper/internal/metrics"
	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

// Authentication errors.
var (
	ErrInvalidCredentials = errors.New("incorrect email or password")
	ErrInactiveUser       = errors.New("user account is inactive")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenRevoked       = errors.New("token revoked")
)

const (
	defaultTTL         = 8 * time.Hour
	defaultRememberTTL = 7 * 24 * time.Hour
)

// Config shapes issued tokens.
type Config struct {
	Secret      string
	TTL         time.Duration
	RememberTTL time.Duration
	// BcryptCost of 0 uses the bcrypt default.
	BcryptCost int
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int64        `json:"expires_in"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        scraper.User `json:"user"`
}

// Service authenticates users.
type Service struct {
	users     scraper.UserStore
	tokens    *Tokens
	blacklist Blacklist
	ids       scraper.IDGenerator
	clock     scraper.Clock
	cfg       Config
	logger    *zap.Logger
}

// NewService wires a Service. A nil blacklist keeps revocations in memory;
// nil ids and clock use UUIDv7 and the system clock.
func NewService(
	users scraper.UserStore,
	blacklist Blacklist,
	ids scraper.IDGenerator,
	clock scraper.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = system.New()
	}
	if ids == nil {
		ids = uuid.New()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.RememberTTL <= 0 {
		cfg.RememberTTL = defaultRememberTTL
	}
	tokens, err := NewTokens(cfg.Secret, clock.Now)
	if err != nil {
		return nil, err
	}
	if blacklist == nil {
		blacklist = NewMemoryBlacklist(clock.Now)
	}
	return &Service{
		users:     users,
		tokens:    tokens,
		blacklist: blacklist,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("auth"),
	}, nil
}

// Login checks credentials and issues an access token.
func (s *Service) Login(ctx context.Context, email, password string, rememberMe bool) (LoginResult, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			metrics.ObserveLogin("invalid")
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("load user: %w", err)
	}
	ok, err := CheckPassword(user.PasswordHash, password)
	if err != nil {
		s.logger.Warn("stored password hash unusable", zap.String("user_id", user.ID), zap.Error(err))
	}
	if !ok {
		metrics.ObserveLogin("invalid")
		return LoginResult{}, ErrInvalidCredentials
	}
	if !user.Active {
		metrics.ObserveLogin("inactive")
		return LoginResult{}, ErrInactiveUser
	}

	ttl := s.cfg.TTL
	if rememberMe {
		ttl = s.cfg.RememberTTL
	}
	jti, err := s.ids.NewID()
	if err != nil {
		return LoginResult{}, fmt.Errorf("token id: %w", err)
	}
	token, expires, err := s.tokens.Sign(user, jti, ttl)
	if err != nil {
		return LoginResult{}, err
	}
	now := s.clock.Now().UTC()
	if err := s.users.RecordLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("record login failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	user.LastLoginAt = &now
	metrics.ObserveLogin("success")
	return LoginResult{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(ttl / time.Second),
		ExpiresAt:   expires,
		User:        user,
	}, nil
}

// Verify parses raw, rejects revoked tokens and returns the claims.
func (s *Service) Verify(ctx context.Context, raw string) (*Claims, error) {
	claims, err := s.tokens.Parse(raw)
	if err != nil {
		return nil, err
	}
	if claims.ID != "" {
		revoked, err := s.blacklist.Revoked(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}
	return claims, nil
}

// Logout revokes raw for the rest of its lifetime.
func (s *Service) Logout(ctx context.Context, raw string) error {
	claims, err := s.Verify(ctx, raw)
	if err != nil {
		return err
	}
	if claims.ID == "" {
		return nil
	}
	ttl := claims.ExpiresAt.Sub(s.clock.Now())
	return s.blacklist.Revoke(ctx, claims.ID, ttl)
}

// CurrentUser loads the account behind claims.
func (s *Service) CurrentUser(ctx context.Context, claims *Claims) (scraper.User, error) {
	user, err := s.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return scraper.User{}, fmt.Errorf("load user: %w", err)
	}
	if !user.Active {
		return scraper.User{}, ErrInactiveUser
	}
	return user, nil
}

// EnsureAdmin creates a super admin with email/password unless one exists.
// It reports whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return false, nil
	}
	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, scraper.ErrNotFound) {
		return false, fmt.Errorf("look up admin: %w", err)
	}
	hash, err := HashPassword(password, s.cfg.BcryptCost)
	if err != nil {
		return false, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return false, fmt.Errorf("admin id: %w", err)
	}
	err = s.users.CreateUser(ctx, scraper.User{
		ID:           id,
		Email:        email,
		FullName:     "Administrator",
		PasswordHash: hash,
		Role:         scraper.RoleSuperAdmin,
		Active:       true,
		CreatedAt:    s.clock.Now().UTC(),
	})
	if errors.Is(err, scraper.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create admin: %w", err)
	}
	s.logger.Info("seeded admin user", zap.String("email", email))
	return true, nil
}
