package scraper

import (
	"context"
	"time"
)

// JobStore persists scrape jobs and their lifecycle.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJob(ctx context.Context, jobID string, update JobUpdate) error
	// ClaimJob marks a pending or retrying job running. It reports false,
	// without changing anything, when the job is in any other state.
	ClaimJob(ctx context.Context, jobID string, attempt int, at time.Time) (bool, error)
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)
	CountByStatus(ctx context.Context) (map[JobStatus]int, error)
	// CountFinishedSince counts jobs completed or failed at or after since.
	CountFinishedSince(ctx context.Context, since time.Time) (completed int, failed int, err error)
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ControlReader reads the shared engine run state.
type ControlReader interface {
	LoadControl(ctx context.Context) (EngineControl, error)
}

// ControlStore persists the shared engine run state. A store that has never
// been written reports an idle engine.
type ControlStore interface {
	ControlReader
	SaveControl(ctx context.Context, c EngineControl) error
	TouchActivity(ctx context.Context, at time.Time) error
}

// BoardStore persists the job-board catalogue.
type BoardStore interface {
	// ListBoards returns boards filtered by active flag; nil returns all.
	ListBoards(ctx context.Context, active *bool) ([]JobBoard, error)
	GetBoard(ctx context.Context, boardID string) (JobBoard, error)
	CreateBoard(ctx context.Context, board JobBoard) error
	UpdateBoard(ctx context.Context, board JobBoard) error
}

// PostingStore persists scraped postings.
type PostingStore interface {
	// SavePostings inserts postings, skipping content hashes already stored, and
	// returns how many rows were written.
	SavePostings(ctx context.Context, postings []Posting) (int, error)
	ExistingHashes(ctx context.Context, hashes []string) (map[string]bool, error)
	ListPostings(ctx context.Context, filter PostingFilter) ([]Posting, error)
}

// UserStore persists API accounts.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	CreateUser(ctx context.Context, user User) error
	RecordLogin(ctx context.Context, id string, at time.Time) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes new-posting events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Queue provides enqueue/dequeue semantics for scrape tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
}

// QueueInspector reports queue depth.
type QueueInspector interface {
	Len(ctx context.Context) (int, error)
}

// Policy encapsulates admission control for board URLs.
type Policy interface {
	AllowFetch(jobID string, url string) bool
	AllowHeadless(jobID string, url string) bool
}

// Throttle blocks until a request against url may proceed.
type Throttle interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes digests for blob naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
