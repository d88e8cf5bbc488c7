package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names a milestone in a scrape job's life.
type Stage string

// Supported progress stages.
const (
	StageJobStart  Stage = "JOB_START"
	StageJobHB     Stage = "JOB_HEARTBEAT"
	StageJobDone   Stage = "JOB_DONE"
	StageJobError  Stage = "JOB_ERROR"
	StagePageStart Stage = "PAGE_START"
	StagePageDone  Stage = "PAGE_DONE"
)

// Terminal reports whether the stage ends a job.
func (s Stage) Terminal() bool {
	return s == StageJobDone || s == StageJobError
}

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Status classes recorded on page completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event is a single progress report emitted by a worker.
type Event struct {
	// JobID is the 16-byte form of the scrape job's UUID.
	JobID [16]byte `json:"-"`
	TS    time.Time `json:"ts"`
	Stage Stage     `json:"stage"`
	// Board is the normalized job-board name the job scrapes.
	Board string `json:"board,omitempty"`
	// URL of the page for PAGE_* stages. Must not carry credentials.
	URL         string        `json:"url,omitempty"`
	Page        int           `json:"page,omitempty"`
	Bytes       int64         `json:"bytes,omitempty"`
	Postings    int64         `json:"postings,omitempty"`
	StatusClass StatusClass   `json:"status_class,omitempty"`
	Dur         time.Duration `json:"duration_ns,omitempty"`
	// Note carries low-volume context such as error text.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == [16]byte{} {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobHB, StageJobDone, StageJobError:
	case StagePageStart, StagePageDone:
		if e.Board == "" {
			return fmt.Errorf("%s requires board", e.Stage)
		}
		if e.Stage == StagePageDone && e.StatusClass == "" {
			return errors.New("page done requires status class")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Postings < 0 || e.Bytes < 0 {
		return errors.New("counters must be >= 0")
	}
	return nil
}

// JobUUID converts the binary job ID to uuid.UUID for repositories.
func (e Event) JobUUID() uuid.UUID {
	return uuid.UUID(e.JobID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	return [16]byte(id)
}

// JobIDBytes parses a textual job id. Unparseable ids map to the zero value,
// which Validate rejects.
func JobIDBytes(id string) [16]byte {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return [16]byte{}
	}
	return [16]byte(parsed)
}

// ClassifyStatus groups HTTP status codes for page events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
