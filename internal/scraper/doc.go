// Package scraper defines the domain types and ports shared by the autoscraper
// engine, its workers, the board scrapers and the storage backends.
package scraper
