package scraper

import (
	"net/http"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusRetrying  JobStatus = "retrying"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// ParseJobStatus validates a user-supplied status filter.
func ParseJobStatus(raw string) (JobStatus, bool) {
	status := JobStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted,
		JobStatusFailed, JobStatusCancelled, JobStatusRetrying:
		return status, true
	default:
		return "", false
	}
}

// Priority orders tasks in the queue; larger runs first.
type Priority int

// Task priorities.
const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
	PriorityUrgent Priority = 4
)

// PriorityFromLevel maps the 0..3 API level onto a Priority. Unknown levels
// fall back to PriorityNormal.
func PriorityFromLevel(level int) Priority {
	switch level {
	case 0:
		return PriorityLow
	case 1:
		return PriorityNormal
	case 2:
		return PriorityHigh
	case 3:
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}

// String returns the lower-case label used for stream names and metrics.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "normal"
	}
}

// Priorities lists every priority from most to least urgent.
func Priorities() []Priority {
	return []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}
}

// EngineStatus is the coarse state of the scraping engine.
type EngineStatus string

// Engine states.
const (
	EngineIdle    EngineStatus = "idle"
	EngineRunning EngineStatus = "running"
	EnginePaused  EngineStatus = "paused"
	EngineError   EngineStatus = "error"
)

// EngineControl is the engine run state every role reads: the autoscraper
// writes it, workers stop dequeuing and beat stops firing while it is paused.
type EngineControl struct {
	Status       EngineStatus
	StartedAt    *time.Time
	LastActivity *time.Time
}

// AcceptsWork reports whether workers may take new tasks.
func (c EngineControl) AcceptsWork() bool {
	return c.Status != EnginePaused
}

// StartMode records why a job was created.
type StartMode string

// Start modes.
const (
	ModeManual    StartMode = "manual"
	ModeScheduled StartMode = "scheduled"
	ModeBatch     StartMode = "batch"
)

// ParseStartMode validates a mode, defaulting to manual when empty.
func ParseStartMode(raw string) (StartMode, bool) {
	switch mode := StartMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "":
		return ModeManual, true
	case ModeManual, ModeScheduled, ModeBatch:
		return mode, true
	default:
		return "", false
	}
}

// BoardKind selects how a board's pages are parsed.
type BoardKind string

// Supported board kinds.
const (
	BoardKindHTML BoardKind = "html"
	BoardKindJSON BoardKind = "json_api"
	BoardKindRSS  BoardKind = "rss"
)

// ParseBoardKind validates a kind, defaulting to html when empty.
func ParseBoardKind(raw string) (BoardKind, bool) {
	switch kind := BoardKind(strings.ToLower(strings.TrimSpace(raw))); kind {
	case "":
		return BoardKindHTML, true
	case BoardKindHTML, BoardKindJSON, BoardKindRSS:
		return kind, true
	default:
		return "", false
	}
}

// Selectors are CSS selectors used by HTML boards.
type Selectors struct {
	Card     string `json:"card,omitempty" yaml:"card"`
	Title    string `json:"title,omitempty" yaml:"title"`
	Company  string `json:"company,omitempty" yaml:"company"`
	Location string `json:"location,omitempty" yaml:"location"`
	Salary   string `json:"salary,omitempty" yaml:"salary"`
	Summary  string `json:"summary,omitempty" yaml:"summary"`
	Posted   string `json:"posted,omitempty" yaml:"posted"`
	Link     string `json:"link,omitempty" yaml:"link"`
}

// JobBoard is a scrape target.
type JobBoard struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	BaseURL   string    `json:"base_url"`
	Kind      BoardKind `json:"kind"`
	SearchURL string    `json:"search_url,omitempty"`
	Selectors Selectors `json:"selectors"`
	// RateLimitRPS caps requests per second against the board host; zero uses the default.
	RateLimitRPS float64   `json:"rate_limit_rps"`
	RequiresJS   bool      `json:"requires_js"`
	Active       bool      `json:"is_active"`
	Schedule     string    `json:"schedule,omitempty"`
	Region       string    `json:"region,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NormalizeBoardName lower-cases the name and replaces spaces with underscores.
func NormalizeBoardName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// JobCounters tracks per-job scrape statistics.
type JobCounters struct {
	PagesScraped int `json:"pages_scraped"`
	PagesFailed  int `json:"pages_failed"`
	Found        int `json:"total_jobs_found"`
	Processed    int `json:"total_jobs_processed"`
	Saved        int `json:"total_jobs_saved"`
	Duplicates   int `json:"duplicates"`
	Invalid      int `json:"invalid"`
}

// Job is a unit of scraping work: one board, one query.
type Job struct {
	ID               string            `json:"id"`
	BoardID          string            `json:"job_board_id"`
	BoardName        string            `json:"job_board_name"`
	Query            string            `json:"query"`
	Location         string            `json:"location"`
	MaxPages         int               `json:"max_pages"`
	Priority         Priority          `json:"priority"`
	Mode             StartMode         `json:"mode"`
	Status           JobStatus         `json:"status"`
	Attempt          int               `json:"retry_count"`
	MaxRetries       int               `json:"max_retries"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	ScheduledAt      *time.Time        `json:"scheduled_at,omitempty"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	Error            string            `json:"error_message,omitempty"`
	Counters         JobCounters       `json:"counters"`
	ExecutionSeconds float64           `json:"execution_time_seconds"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Task returns the queue envelope for the job.
func (j Job) Task() Task {
	task := Task{
		JobID:      j.ID,
		BoardID:    j.BoardID,
		BoardName:  j.BoardName,
		Query:      j.Query,
		Location:   j.Location,
		MaxPages:   j.MaxPages,
		Priority:   j.Priority,
		Attempt:    j.Attempt,
		MaxRetries: j.MaxRetries,
		Mode:       j.Mode,
		EnqueuedAt: j.CreatedAt,
	}
	if j.ScheduledAt != nil {
		task.NotBefore = *j.ScheduledAt
	}
	return task
}

// JobUpdate carries a status transition. Nil timestamps leave the stored value untouched.
type JobUpdate struct {
	Status           JobStatus
	Error            string
	Counters         JobCounters
	Attempt          int
	ExecutionSeconds float64
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ScheduledAt      *time.Time
	At               time.Time
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Status  JobStatus
	BoardID string
	Limit   int
	Offset  int
}

// Task is the queue envelope for a job.
type Task struct {
	JobID      string    `json:"job_id"`
	BoardID    string    `json:"job_board_id"`
	BoardName  string    `json:"job_board"`
	Query      string    `json:"query"`
	Location   string    `json:"location"`
	MaxPages   int       `json:"max_pages"`
	Priority   Priority  `json:"priority"`
	Attempt    int       `json:"attempt"`
	MaxRetries int       `json:"max_retries"`
	NotBefore  time.Time `json:"not_before,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Mode       StartMode `json:"mode"`
}

// Posting is a single scraped job listing.
type Posting struct {
	ID           string     `json:"id"`
	JobID        string     `json:"scrape_job_id"`
	BoardID      string     `json:"job_board_id"`
	Source       string     `json:"source"`
	ExternalID   string     `json:"external_id,omitempty"`
	Title        string     `json:"title"`
	Company      string     `json:"company"`
	Location     string     `json:"location"`
	Description  string     `json:"description"`
	URL          string     `json:"url"`
	Salary       string     `json:"salary,omitempty"`
	PostedText   string     `json:"posted_text,omitempty"`
	PostedAt     *time.Time `json:"posted_at,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	ContentHash  string     `json:"content_hash"`
	QualityScore float64    `json:"quality_score"`
	ScrapedAt    time.Time  `json:"scraped_at"`
}

// PostingFilter narrows ListPostings.
type PostingFilter struct {
	JobID   string
	BoardID string
	Limit   int
	Offset  int
}

// Result summarizes one executed job.
type Result struct {
	Status        JobStatus     `json:"status"`
	Postings      []Posting     `json:"jobs"`
	TotalFound    int           `json:"total_found"`
	PagesScraped  int           `json:"pages_scraped"`
	Counters      JobCounters   `json:"counters"`
	Errors        []string      `json:"errors"`
	ExecutionTime time.Duration `json:"execution_time"`
	BoardName     string        `json:"job_board_name"`
	Timestamp     time.Time     `json:"timestamp"`
}

// EngineState is the snapshot returned by the state endpoint.
type EngineState struct {
	Status         EngineStatus `json:"status"`
	ActiveJobs     int          `json:"active_jobs"`
	QueuedJobs     int          `json:"queued_jobs"`
	TotalJobsToday int          `json:"total_jobs_today"`
	SuccessRate    float64      `json:"success_rate"`
	LastActivity   *time.Time   `json:"last_activity"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID       string
	URL         string
	UseHeadless bool
	Headers     http.Header
	// WaitFor is a CSS selector a headless render waits on before capturing the DOM.
	WaitFor string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// ContentType returns the response Content-Type, or an empty string.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// Role grants access to admin operations.
type Role string

// Known roles.
const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// IsAdmin reports whether the role may mutate engine and board state.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// User is an account able to authenticate against the API.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	FullName     string     `json:"full_name,omitempty"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	Active       bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login,omitempty"`
}

// PostingEvent is published once for every newly saved posting.
type PostingEvent struct {
	EventType string    `json:"event_type"`
	JobID     string    `json:"scrape_job_id"`
	Board     string    `json:"job_board"`
	Posting   Posting   `json:"posting"`
	At        time.Time `json:"at"`
}

// PostingEventType is the event_type of PostingEvent.
const PostingEventType = "posting.created"

// Attributes returns message attributes for broker-side filtering.
func (e PostingEvent) Attributes() map[string]string {
	return map[string]string{
		"event_type":    e.EventType,
		"job_board":     e.Board,
		"scrape_job_id": e.JobID,
	}
}
