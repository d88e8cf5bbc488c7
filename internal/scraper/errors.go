package scraper

import "errors"

// Store errors shared by every backend.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)
