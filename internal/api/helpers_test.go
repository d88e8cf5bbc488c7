package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/JakeFAU/remotehive-autoscraper/internal/auth"
	"github.com/JakeFAU/remotehive-autoscraper/internal/engine"
	"github.com/JakeFAU/remotehive-autoscraper/internal/id/uuid"
	"github.com/JakeFAU/remotehive-autoscraper/internal/progress/sinks"
	queuemem "github.com/JakeFAU/remotehive-autoscraper/internal/queue/memory"
	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
	"github.com/JakeFAU/remotehive-autoscraper/internal/storage/memory"
	"github.com/JakeFAU/remotehive-autoscraper/internal/sysinfo"
)

var epoch = time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type fakeSampler struct {
	snap sysinfo.Snapshot
	err  error
}

func (f fakeSampler) Snapshot(context.Context) (sysinfo.Snapshot, error) {
	return f.snap, f.err
}

type harness struct {
	store       *memory.Store
	queue       *queuemem.Queue
	engine      *engine.Engine
	auth        *auth.Service
	broadcaster *sinks.Broadcaster
	handler     http.Handler
	clock       *stepClock
	admin       string
	reader      string
}

func newHarness(t *testing.T, withBoards bool) *harness {
	t.Helper()
	ctx := context.Background()
	clock := &stepClock{now: epoch}
	h := &harness{
		store:       memory.NewStore(),
		queue:       queuemem.NewQueueWithClock(100, clock.Now),
		broadcaster: sinks.NewBroadcaster(8, nil),
		clock:       clock,
	}

	svc, err := auth.NewService(h.store, nil, uuid.New(), clock, auth.Config{
		Secret:     "api-test-secret",
		BcryptCost: bcrypt.MinCost,
	}, nil)
	require.NoError(t, err)
	h.auth = svc
	createUser(t, h.store, "u-admin", "admin@remotehive.test", "adminpass", scraper.RoleAdmin, true)
	createUser(t, h.store, "u-reader", "reader@remotehive.test", "readerpass", scraper.RoleUser, true)
	createUser(t, h.store, "u-off", "off@remotehive.test", "offpass1", scraper.RoleUser, false)
	h.admin = login(t, svc, "admin@remotehive.test", "adminpass")
	h.reader = login(t, svc, "reader@remotehive.test", "readerpass")

	if withBoards {
		for _, b := range []scraper.JobBoard{
			{ID: uuid.BoardID("Indeed"), Name: "Indeed", BaseURL: "https://www.indeed.com", Kind: scraper.BoardKindHTML, Active: true},
			{ID: uuid.BoardID("RemoteOK"), Name: "RemoteOK", BaseURL: "https://remoteok.io", Kind: scraper.BoardKindJSON, Active: true},
		} {
			require.NoError(t, h.store.CreateBoard(ctx, b))
		}
	}

	h.engine = engine.New(engine.Deps{
		Jobs:   h.store,
		Boards: h.store,
		Queue:  h.queue,
		Clock:  clock,
	}, engine.Config{MaxRetries: 3, MaxConcurrent: 5}, zap.NewNop())

	h.handler = NewAutoscraperServer(AutoscraperDeps{
		Engine:   h.engine,
		Jobs:     h.store,
		Boards:   h.store,
		Auth:     svc,
		System:   fakeSampler{snap: sysinfo.Snapshot{CPUPercent: 12.5, MemoryPercent: 40, Timestamp: epoch}},
		Progress: h.store,
		Events:   h.broadcaster,
		Version:  "test",
	}, Options{Now: clock.Now}, zap.NewNop()).Handler()
	return h
}

func createUser(t *testing.T, store *memory.Store, id, email, password string, role scraper.Role, active bool) {
	t.Helper()
	hash, err := auth.HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(context.Background(), scraper.User{
		ID: id, Email: email, PasswordHash: hash, Role: role, Active: active,
	}))
}

func login(t *testing.T, svc *auth.Service, email, password string) string {
	t.Helper()
	res, err := svc.Login(context.Background(), email, password, false)
	require.NoError(t, err)
	return res.AccessToken
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
