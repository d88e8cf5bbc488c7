package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/remotehive-autoscraper/internal/id/uuid"
	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

type boardRequest struct {
	Name         *string            `json:"name"`
	BaseURL      *string            `json:"base_url"`
	Kind         *string            `json:"kind"`
	SearchURL    *string            `json:"search_url"`
	Selectors    *scraper.Selectors `json:"selectors"`
	RateLimitRPS *float64           `json:"rate_limit_rps"`
	RequiresJS   *bool              `json:"requires_js"`
	Active       *bool              `json:"is_active"`
	Schedule     *string            `json:"schedule"`
	Region       *string            `json:"region"`
}

// apply copies the provided fields onto board and validates the result.
func (req boardRequest) apply(board *scraper.JobBoard) error {
	if req.Name != nil {
		board.Name = strings.TrimSpace(*req.Name)
	}
	if req.BaseURL != nil {
		board.BaseURL = strings.TrimSpace(*req.BaseURL)
	}
	if req.Kind != nil {
		kind, ok := scraper.ParseBoardKind(*req.Kind)
		if !ok {
			return errors.New("kind must be html, json_api or rss")
		}
		board.Kind = kind
	}
	if req.SearchURL != nil {
		board.SearchURL = strings.TrimSpace(*req.SearchURL)
	}
	if req.Selectors != nil {
		board.Selectors = *req.Selectors
	}
	if req.RateLimitRPS != nil {
		board.RateLimitRPS = *req.RateLimitRPS
	}
	if req.RequiresJS != nil {
		board.RequiresJS = *req.RequiresJS
	}
	if req.Active != nil {
		board.Active = *req.Active
	}
	if req.Schedule != nil {
		board.Schedule = strings.TrimSpace(*req.Schedule)
	}
	if req.Region != nil {
		board.Region = strings.TrimSpace(*req.Region)
	}

	if board.Name == "" {
		return errors.New("name is required")
	}
	if !validHTTPURL(board.BaseURL) {
		return errors.New("base_url must be an absolute http(s) URL")
	}
	if board.RateLimitRPS < 0 {
		return errors.New("rate_limit_rps must be >= 0")
	}
	if board.Kind == "" {
		board.Kind = scraper.BoardKindHTML
	}
	return nil
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (s *AutoscraperServer) listBoards(w http.ResponseWriter, r *http.Request) {
	active, err := parseOptionalBool(r.URL.Query().Get("active"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	boards, err := s.deps.Boards.ListBoards(r.Context(), active)
	if err != nil {
		s.logger.Error("list boards failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list job boards")
		return
	}
	if boards == nil {
		boards = []scraper.JobBoard{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_boards": boards})
}

func (s *AutoscraperServer) createBoard(w http.ResponseWriter, r *http.Request) {
	var req boardRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	board := scraper.JobBoard{Active: true}
	if err := req.apply(&board); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	now := s.opts.Now().UTC()
	board.ID = uuid.BoardID(board.Name)
	board.CreatedAt = now
	board.UpdatedAt = now

	if err := s.deps.Boards.CreateBoard(r.Context(), board); err != nil {
		if errors.Is(err, scraper.ErrConflict) {
			writeError(w, http.StatusConflict, "job board with this name already exists")
			return
		}
		s.logger.Error("create board failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job board")
		return
	}
	writeJSON(w, http.StatusCreated, board)
}

func (s *AutoscraperServer) updateBoard(w http.ResponseWriter, r *http.Request) {
	var req boardRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	board, err := s.deps.Boards.GetBoard(r.Context(), chi.URLParam(r, "board_id"))
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job board not found")
			return
		}
		s.logger.Error("get board failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job board")
		return
	}
	if err := req.apply(&board); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	board.UpdatedAt = s.opts.Now().UTC()

	if err := s.deps.Boards.UpdateBoard(r.Context(), board); err != nil {
		switch {
		case errors.Is(err, scraper.ErrConflict):
			writeError(w, http.StatusConflict, "job board with this name already exists")
		case errors.Is(err, scraper.ErrNotFound):
			writeError(w, http.StatusNotFound, "job board not found")
		default:
			s.logger.Error("update board failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to update job board")
		}
		return
	}
	writeJSON(w, http.StatusOK, board)
}
