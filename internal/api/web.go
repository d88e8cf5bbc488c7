package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/remotehive-autoscraper/internal/auth"
	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

// AuthService is the account API the web service needs.
type AuthService interface {
	auth.Verifier
	Login(ctx context.Context, email, password string, rememberMe bool) (auth.LoginResult, error)
	Logout(ctx context.Context, raw string) error
	CurrentUser(ctx context.Context, claims *auth.Claims) (scraper.User, error)
}

// WebServer is the public API service: probes and authentication.
type WebServer struct {
	router chi.Router
	auth   AuthService
	logger *zap.Logger
}

// NewWebServer builds the web service router. limiter may be nil to disable
// login throttling.
func NewWebServer(svc AuthService, limiter auth.Admission, opts Options, logger *zap.Logger) *WebServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	if opts.Service == "" {
		opts.Service = "remotehive-api"
	}
	s := &WebServer{auth: svc, logger: logger.Named("web")}

	r := newRouter(opts, s.logger)
	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
		r.Route("/api/v1/auth", func(r chi.Router) {
			login := http.Handler(http.HandlerFunc(s.login))
			if limiter != nil {
				login = auth.LimitLogin(limiter)(login)
			}
			r.Method(http.MethodPost, "/login", login)
			r.With(auth.RequireAuth(svc)).Post("/logout", s.logout)
			r.With(auth.RequireAuth(svc)).Get("/me", s.me)
		})
	})
	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *WebServer) Handler() http.Handler {
	return s.router
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

func (s *WebServer) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	res, err := s.auth.Login(r.Context(), req.Email, req.Password, req.RememberMe)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, auth.ErrInvalidCredentials):
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, "Incorrect email or password")
	case errors.Is(err, auth.ErrInactiveUser):
		writeError(w, http.StatusForbidden, "Inactive user")
	default:
		s.logger.Error("login failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "login failed")
	}
}

func (s *WebServer) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), auth.BearerToken(r)); err != nil {
		s.logger.Error("logout failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

func (s *WebServer) me(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	user, err := s.auth.CurrentUser(r.Context(), claims)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, user)
	case errors.Is(err, scraper.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, auth.ErrInactiveUser):
		writeError(w, http.StatusForbidden, "Inactive user")
	default:
		s.logger.Error("load current user failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load user")
	}
}
