// Package store declares the run-history port shared by the progress store
// sink and the /runs endpoints. Postgres and in-memory adapters live under
// internal/storage.
package store
