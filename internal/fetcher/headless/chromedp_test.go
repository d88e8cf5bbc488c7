package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestNewChromedpValidatesParallelism(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	f, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	t.Cleanup(f.Close)
	require.Equal(t, 2, cap(f.slots))
	require.Equal(t, defaultNavTimeout, f.cfg.NavigationTimeout)
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	f := &Fetcher{slots: make(chan struct{}, 1)}
	require.NoError(t, f.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.acquire(ctx), context.DeadlineExceeded)

	f.release()
	require.NoError(t, f.acquire(context.Background()))
}

func TestDocumentResponseKeepsDocumentOnly(t *testing.T) {
	t.Parallel()

	doc := &documentResponse{}
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://cdn.example.com/app.js"},
	})
	doc.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  203,
			URL:     "https://www.indeed.com/jobs?q=go",
			Headers: network.Headers{"Content-Type": "text/html"},
		},
	})
	status, headers, url := doc.result("https://req", "https://final")
	require.Equal(t, 203, status)
	require.Equal(t, "text/html", headers.Get("Content-Type"))
	require.Equal(t, "https://www.indeed.com/jobs?q=go", url)

	status, headers, url = (&documentResponse{}).result("https://req", "")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, headers)
	require.Equal(t, "https://req", url)
}

func TestNetworkHeaders(t *testing.T) {
	t.Parallel()

	out := networkHeaders(http.Header{"X-One": {"a"}, "X-Many": {"a", "b"}, "X-None": {}})
	require.Equal(t, "a", out["X-One"])
	require.Equal(t, []string{"a", "b"}, out["X-Many"])
	require.NotContains(t, out, "X-None")
}
