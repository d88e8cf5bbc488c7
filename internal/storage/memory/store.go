// Package memory provides in-process implementations of the autoscraper
// stores for local development, single-process deployments and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
	"github.com/JakeFAU/remotehive-autoscraper/internal/store"
)

// Store implements the job, board, posting, user and progress repositories
// behind a single mutex.
type Store struct {
	mu       sync.RWMutex
	jobs     map[string]scraper.Job
	boards   map[string]scraper.JobBoard
	postings map[string]scraper.Posting // keyed by content hash
	users    map[string]scraper.User
	runs     map[uuid.UUID]store.JobRun
	pages    map[uuid.UUID]map[string]store.PageStats
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		jobs:     make(map[string]scraper.Job),
		boards:   make(map[string]scraper.JobBoard),
		postings: make(map[string]scraper.Posting),
		users:    make(map[string]scraper.User),
		runs:     make(map[uuid.UUID]store.JobRun),
		pages:    make(map[uuid.UUID]map[string]store.PageStats),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// CreateJob stores a new job.
func (s *Store) CreateJob(_ context.Context, job scraper.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s: %w", job.ID, scraper.ErrConflict)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// UpdateJob applies a status transition.
func (s *Store) UpdateJob(_ context.Context, jobID string, u scraper.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, scraper.ErrNotFound)
	}
	job.Status = u.Status
	job.Error = u.Error
	job.Counters = u.Counters
	job.Attempt = u.Attempt
	job.ExecutionSeconds = u.ExecutionSeconds
	if u.StartedAt != nil {
		job.StartedAt = timePtr(*u.StartedAt)
	}
	if u.CompletedAt != nil {
		job.CompletedAt = timePtr(*u.CompletedAt)
	}
	if u.ScheduledAt != nil {
		job.ScheduledAt = timePtr(*u.ScheduledAt)
	}
	job.UpdatedAt = u.At
	s.jobs[jobID] = job
	return nil
}

// ClaimJob marks a pending or retrying job running.
func (s *Store) ClaimJob(_ context.Context, jobID string, attempt int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, fmt.Errorf("job %s: %w", jobID, scraper.ErrNotFound)
	}
	if job.Status != scraper.JobStatusPending && job.Status != scraper.JobStatusRetrying {
		return false, nil
	}
	job.Status = scraper.JobStatusRunning
	job.Attempt = attempt
	job.StartedAt = timePtr(at)
	job.UpdatedAt = at
	s.jobs[jobID] = job
	return true, nil
}

// GetJob loads one job.
func (s *Store) GetJob(_ context.Context, jobID string) (scraper.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scraper.Job{}, fmt.Errorf("job %s: %w", jobID, scraper.ErrNotFound)
	}
	return cloneJob(job), nil
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(_ context.Context, f scraper.JobFilter) ([]scraper.Job, error) {
	s.mu.RLock()
	jobs := make([]scraper.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if f.Status != "" && job.Status != f.Status {
			continue
		}
		if f.BoardID != "" && job.BoardID != f.BoardID {
			continue
		}
		jobs = append(jobs, cloneJob(job))
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID > jobs[j].ID
	})
	return page(jobs, f.Limit, f.Offset), nil
}

// CountByStatus groups jobs by status.
func (s *Store) CountByStatus(context.Context) (map[scraper.JobStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[scraper.JobStatus]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

// CountFinishedSince counts completed and failed jobs finished at or after since.
func (s *Store) CountFinishedSince(_ context.Context, since time.Time) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var completed, failed int
	for _, job := range s.jobs {
		if job.CompletedAt == nil || job.CompletedAt.Before(since) {
			continue
		}
		switch job.Status {
		case scraper.JobStatusCompleted:
			completed++
		case scraper.JobStatusFailed:
			failed++
		}
	}
	return completed, failed, nil
}

// DeleteFinishedBefore removes terminal jobs last updated before cutoff.
func (s *Store) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, job := range s.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

// ListBoards returns boards ordered by name.
func (s *Store) ListBoards(_ context.Context, active *bool) ([]scraper.JobBoard, error) {
	s.mu.RLock()
	boards := make([]scraper.JobBoard, 0, len(s.boards))
	for _, b := range s.boards {
		if active != nil && b.Active != *active {
			continue
		}
		boards = append(boards, b)
	}
	s.mu.RUnlock()
	sort.Slice(boards, func(i, j int) bool { return boards[i].Name < boards[j].Name })
	return boards, nil
}

// GetBoard loads one board.
func (s *Store) GetBoard(_ context.Context, boardID string) (scraper.JobBoard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.boards[boardID]
	if !ok {
		return scraper.JobBoard{}, fmt.Errorf("board %s: %w", boardID, scraper.ErrNotFound)
	}
	return b, nil
}

// CreateBoard inserts a board; duplicate ids or names conflict.
func (s *Store) CreateBoard(_ context.Context, board scraper.JobBoard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.boards[board.ID]; exists {
		return fmt.Errorf("board %s: %w", board.ID, scraper.ErrConflict)
	}
	if s.nameTakenLocked(board.Name, "") {
		return fmt.Errorf("board %q: %w", board.Name, scraper.ErrConflict)
	}
	s.boards[board.ID] = board
	return nil
}

// UpdateBoard overwrites an existing board.
func (s *Store) UpdateBoard(_ context.Context, board scraper.JobBoard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.boards[board.ID]
	if !ok {
		return fmt.Errorf("board %s: %w", board.ID, scraper.ErrNotFound)
	}
	if s.nameTakenLocked(board.Name, board.ID) {
		return fmt.Errorf("board %q: %w", board.Name, scraper.ErrConflict)
	}
	board.CreatedAt = existing.CreatedAt
	s.boards[board.ID] = board
	return nil
}

func (s *Store) nameTakenLocked(name, exceptID string) bool {
	for id, b := range s.boards {
		if id != exceptID && strings.EqualFold(b.Name, name) {
			return true
		}
	}
	return false
}

// SavePostings stores postings whose content hash is new.
func (s *Store) SavePostings(_ context.Context, postings []scraper.Posting) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := 0
	for _, p := range postings {
		if _, exists := s.postings[p.ContentHash]; exists {
			continue
		}
		p.Tags = append([]string(nil), p.Tags...)
		s.postings[p.ContentHash] = p
		saved++
	}
	return saved, nil
}

// ExistingHashes reports which hashes are stored.
func (s *Store) ExistingHashes(_ context.Context, hashes []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found := make(map[string]bool)
	for _, h := range hashes {
		if _, ok := s.postings[h]; ok {
			found[h] = true
		}
	}
	return found, nil
}

// ListPostings returns postings newest first.
func (s *Store) ListPostings(_ context.Context, f scraper.PostingFilter) ([]scraper.Posting, error) {
	s.mu.RLock()
	out := make([]scraper.Posting, 0)
	for _, p := range s.postings {
		if f.JobID != "" && p.JobID != f.JobID {
			continue
		}
		if f.BoardID != "" && p.BoardID != f.BoardID {
			continue
		}
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScrapedAt.Equal(out[j].ScrapedAt) {
			return out[i].ScrapedAt.After(out[j].ScrapedAt)
		}
		return out[i].ContentHash < out[j].ContentHash
	})
	return page(out, f.Limit, f.Offset), nil
}

// GetUserByEmail looks a user up by case-insensitive email.
func (s *Store) GetUserByEmail(_ context.Context, email string) (scraper.User, error) {
	key := strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == key {
			return u, nil
		}
	}
	return scraper.User{}, fmt.Errorf("user %s: %w", email, scraper.ErrNotFound)
}

// GetUserByID loads a user by id.
func (s *Store) GetUserByID(_ context.Context, id string) (scraper.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return scraper.User{}, fmt.Errorf("user %s: %w", id, scraper.ErrNotFound)
	}
	return u, nil
}

// CreateUser inserts an account with a lower-cased email.
func (s *Store) CreateUser(_ context.Context, user scraper.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.ID]; exists {
		return fmt.Errorf("user %s: %w", user.ID, scraper.ErrConflict)
	}
	for _, u := range s.users {
		if u.Email == user.Email {
			return fmt.Errorf("user %s: %w", user.Email, scraper.ErrConflict)
		}
	}
	s.users[user.ID] = user
	return nil
}

// RecordLogin stamps the last successful login.
func (s *Store) RecordLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, scraper.ErrNotFound)
	}
	u.LastLoginAt = timePtr(at)
	s.users[id] = u
	return nil
}

// UpsertJobStart records a run start; a rerun resets the finish fields.
func (s *Store) UpsertJobStart(_ context.Context, jobID uuid.UUID, board string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.runs[jobID]
	run.JobID = jobID
	run.Board = board
	run.StartedAt = startedAt
	run.Status = store.RunRunning
	run.FinishedAt = nil
	run.ErrorMessage = nil
	s.runs[jobID] = run
	return nil
}

// CompleteJob marks a run finished.
func (s *Store) CompleteJob(
	_ context.Context,
	jobID uuid.UUID,
	finishedAt time.Time,
	status store.JobRunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[jobID]
	if !ok {
		return nil
	}
	run.FinishedAt = timePtr(finishedAt)
	run.Status = status
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	s.runs[jobID] = run
	return nil
}

// UpsertPageStats adds a page delta to the run's aggregates.
func (s *Store) UpsertPageStats(_ context.Context, d store.PageDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byClass, ok := s.pages[d.JobID]
	if !ok {
		byClass = make(map[string]store.PageStats)
		s.pages[d.JobID] = byClass
	}
	st := byClass[d.StatusClass]
	st.JobID = d.JobID
	st.Board = d.Board
	st.StatusClass = d.StatusClass
	st.Pages += d.Pages
	st.Postings += d.Postings
	st.BytesTotal += d.Bytes
	if d.At.After(st.LastUpdate) {
		st.LastUpdate = d.At
	}
	byClass[d.StatusClass] = st
	if run, ok := s.runs[d.JobID]; ok {
		run.Postings += d.Postings
		s.runs[d.JobID] = run
	}
	return nil
}

// GetRun loads one run.
func (s *Store) GetRun(_ context.Context, jobID uuid.UUID) (store.JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[jobID]
	if !ok {
		return store.JobRun{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns lists runs newest first.
func (s *Store) ListRuns(_ context.Context, status *store.JobRunStatus, limit, offset int) ([]store.JobRun, error) {
	s.mu.RLock()
	runs := make([]store.JobRun, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	s.mu.RUnlock()
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	return page(runs, limit, offset), nil
}

// ListRunPages returns page aggregates ordered by status class.
func (s *Store) ListRunPages(_ context.Context, jobID uuid.UUID, limit, offset int) ([]store.PageStats, error) {
	s.mu.RLock()
	stats := make([]store.PageStats, 0, len(s.pages[jobID]))
	for _, st := range s.pages[jobID] {
		stats = append(stats, st)
	}
	s.mu.RUnlock()
	sort.Slice(stats, func(i, j int) bool { return stats[i].StatusClass < stats[j].StatusClass })
	return page(stats, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneJob(job scraper.Job) scraper.Job {
	if job.Metadata != nil {
		md := make(map[string]string, len(job.Metadata))
		for k, v := range job.Metadata {
			md[k] = v
		}
		job.Metadata = md
	}
	return job
}

func timePtr(t time.Time) *time.Time {
	return &t
}
