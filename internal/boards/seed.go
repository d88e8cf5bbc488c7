package boards

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/remotehive-autoscraper/internal/id/uuid"
	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

//go:embed default_boards.yaml
var defaultCatalogue []byte

type seedFile struct {
	Boards []seedBoard `yaml:"boards"`
}

type seedBoard struct {
	Name         string            `yaml:"name"`
	BaseURL      string            `yaml:"base_url"`
	Kind         scraper.BoardKind `yaml:"kind"`
	SearchURL    string            `yaml:"search_url"`
	Selectors    scraper.Selectors `yaml:"selectors"`
	RateLimitRPS float64           `yaml:"rate_limit_rps"`
	RequiresJS   bool              `yaml:"requires_js"`
	Active       *bool             `yaml:"is_active"`
	Schedule     string            `yaml:"schedule"`
	Region       string            `yaml:"region"`
}

// LoadCatalogue reads a board catalogue from path, or the built-in catalogue
// when path is empty.
func LoadCatalogue(path string, now time.Time) ([]scraper.JobBoard, error) {
	data := defaultCatalogue
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read board catalogue: %w", err)
		}
		data = raw
	}
	return ParseCatalogue(data, now)
}

// ParseCatalogue decodes YAML board definitions. Board ids derive from names,
// so the same catalogue always yields the same ids.
func ParseCatalogue(data []byte, now time.Time) ([]scraper.JobBoard, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode board catalogue: %w", err)
	}
	boards := make([]scraper.JobBoard, 0, len(file.Boards))
	seen := make(map[string]bool, len(file.Boards))
	for i, b := range file.Boards {
		name := strings.TrimSpace(b.Name)
		if name == "" {
			return nil, fmt.Errorf("board %d: name is required", i)
		}
		key := scraper.NormalizeBoardName(name)
		if seen[key] {
			return nil, fmt.Errorf("board %q listed twice", name)
		}
		seen[key] = true
		kind, ok := scraper.ParseBoardKind(string(b.Kind))
		if !ok {
			return nil, fmt.Errorf("board %q: unknown kind %q", name, b.Kind)
		}
		active := true
		if b.Active != nil {
			active = *b.Active
		}
		boards = append(boards, scraper.JobBoard{
			ID:           uuid.BoardID(name),
			Name:         name,
			BaseURL:      b.BaseURL,
			Kind:         kind,
			SearchURL:    b.SearchURL,
			Selectors:    b.Selectors,
			RateLimitRPS: b.RateLimitRPS,
			RequiresJS:   b.RequiresJS,
			Active:       active,
			Schedule:     b.Schedule,
			Region:       b.Region,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	return boards, nil
}

// Seed inserts boards into an empty store and reports how many were written.
// A store that already holds boards is left alone.
func Seed(ctx context.Context, store scraper.BoardStore, boards []scraper.JobBoard, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	existing, err := store.ListBoards(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("list boards: %w", err)
	}
	if len(existing) > 0 {
		logger.Debug("board catalogue already present", zap.Int("boards", len(existing)))
		return 0, nil
	}
	written := 0
	for _, b := range boards {
		if err := store.CreateBoard(ctx, b); err != nil {
			if errors.Is(err, scraper.ErrConflict) {
				continue
			}
			return written, fmt.Errorf("seed board %q: %w", b.Name, err)
		}
		written++
	}
	logger.Info("seeded board catalogue", zap.Int("boards", written))
	return written, nil
}
