package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/remotehive-autoscraper/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Auth.JWTSecret = "server-test-secret"
	cfg.Auth.AdminEmail = "admin@remotehive.test"
	cfg.Auth.AdminPassword = "change-me-now"
	cfg.Database.DSN = ""
	cfg.Redis.URL = ""
	cfg.Queue.Backend = "memory"
	cfg.Storage.Backend = "memory"
	cfg.PubSub = config.PubSubConfig{}
	cfg.SMTP = config.SMTPConfig{}
	cfg.Application.ProjectID = ""
	return cfg
}

func buildRole(t *testing.T, cfg config.Config, role Role) *App {
	t.Helper()
	app, err := build(context.Background(), cfg, role, zap.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(context.Background()) })
	return app
}

func serve(t *testing.T, h http.Handler, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestWebRoleSeedsAdminAndIssuesTokens(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	web := buildRole(t, cfg, RoleWeb)
	require.NotNil(t, web.Handler())

	code, body := serve(t, web.Handler(), http.MethodPost, "/api/v1/auth/login", "",
		`{"email":"admin@remotehive.test","password":"change-me-now"}`)
	require.Equal(t, http.StatusOK, code)
	token, _ := body["access_token"].(string)
	require.NotEmpty(t, token)

	// Both services share the signing secret, so the token is honored by
	// the autoscraper service too.
	scraperApp := buildRole(t, cfg, RoleAutoscraper)
	code, state := serve(t, scraperApp.Handler(), http.MethodGet, "/api/v1/autoscraper/engine/state", token, "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "idle", state["status"])

	code, _ = serve(t, scraperApp.Handler(), http.MethodPost, "/api/v1/autoscraper/engine/stop", token, "")
	require.Equal(t, http.StatusNotFound, code)
}

func TestAutoscraperRoleSeedsBoardCatalogue(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	web := buildRole(t, cfg, RoleWeb)
	_, body := serve(t, web.Handler(), http.MethodPost, "/api/v1/auth/login", "",
		`{"email":"admin@remotehive.test","password":"change-me-now"}`)
	token := body["access_token"].(string)

	app := buildRole(t, cfg, RoleAutoscraper)
	require.Len(t, app.runners, 1)
	code, boards := serve(t, app.Handler(), http.MethodGet, "/api/v1/autoscraper/job-boards", token, "")
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, boards["job_boards"])

	code, ready := serve(t, app.Handler(), http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, map[string]any{"database": "ok"}, ready["checks"])
}

func TestBackgroundRolesRequireRedis(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	for _, role := range []Role{RoleWorker, RoleBeat} {
		_, err := build(context.Background(), cfg, role, zap.NewNop(), prometheus.NewRegistry())
		require.ErrorContains(t, err, "requires queue.backend=redis")
	}
}

func TestUnknownRole(t *testing.T) {
	t.Parallel()

	_, err := build(context.Background(), testConfig(t), Role("janitor"), zap.NewNop(), prometheus.NewRegistry())
	require.ErrorContains(t, err, `unknown role "janitor"`)
}

func TestMissingSecretFailsAuthRoles(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Auth.JWTSecret = ""
	_, err := build(context.Background(), cfg, RoleWeb, zap.NewNop(), prometheus.NewRegistry())
	require.ErrorContains(t, err, "auth init failed")
}
