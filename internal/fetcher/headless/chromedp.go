// Package headless renders JavaScript-heavy job boards with headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

const (
	defaultNavTimeout  = 45 * time.Second
	defaultWaitTimeout = 10 * time.Second
	settleDelay        = 500 * time.Millisecond
)

// Config controls the browser pool.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Fetcher implements scraper.Fetcher on top of chromedp. One Chrome process is
// shared; each fetch gets its own tab.
type Fetcher struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp prepares the allocator. Chrome is started lazily on first use.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Fetcher{cfg: cfg, slots: slots, allocator: allocCtx, allocCancel: cancel}, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders request.URL and returns the serialized DOM. When WaitFor is set
// the render waits (bounded) for that selector so listing cards are present.
func (f *Fetcher) Fetch(ctx context.Context, request scraper.FetchRequest) (scraper.FetchResponse, error) {
	if err := f.acquire(ctx); err != nil {
		return scraper.FetchResponse{}, err
	}
	defer f.release()

	tabCtx, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentResponse{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	start := time.Now()
	var html, finalURL string
	if err := chromedp.Run(tabCtx, f.actions(request, &html, &finalURL)...); err != nil {
		if ctx.Err() != nil {
			return scraper.FetchResponse{}, fmt.Errorf("headless fetch canceled: %w", ctx.Err())
		}
		return scraper.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, err)
	}

	status, headers, url := doc.result(request.URL, finalURL)
	return scraper.FetchResponse{
		URL:          url,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

func (f *Fetcher) actions(request scraper.FetchRequest, html, finalURL *string) []chromedp.Action {
	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := network.Enable().Do(ctx); err != nil {
				return fmt.Errorf("enable network: %w", err)
			}
			if f.cfg.UserAgent != "" {
				if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
					return fmt.Errorf("set user agent: %w", err)
				}
			}
			if len(request.Headers) > 0 {
				if err := network.SetExtraHTTPHeaders(networkHeaders(request.Headers)).Do(ctx); err != nil {
					return fmt.Errorf("set headers: %w", err)
				}
			}
			return nil
		}),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if request.WaitFor != "" {
		actions = append(actions, waitOptional(request.WaitFor, defaultWaitTimeout))
	}
	return append(actions,
		chromedp.Sleep(settleDelay),
		chromedp.Location(finalURL),
		chromedp.OuterHTML("html", html, chromedp.ByQuery),
	)
}

// waitOptional waits for selector but treats a timeout as "no cards", leaving
// the parser to report an empty page.
func waitOptional(selector string, limit time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		waitCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		err := chromedp.WaitVisible(selector, chromedp.ByQuery).Do(waitCtx)
		if err != nil && ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return nil
		}
		return err
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	select {
	case f.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.slots != nil {
		<-f.slots
	}
}

// documentResponse records the main document's response metadata.
type documentResponse struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (d *documentResponse) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range resp.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = int(resp.Response.Status)
	d.headers = headers
	d.url = resp.Response.URL
}

// result falls back to the navigated URL and 200 when no document response
// was observed.
func (d *documentResponse) result(requestURL, finalURL string) (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, url := d.status, d.url
	if url == "" {
		url = finalURL
	}
	if url == "" {
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	headers := d.headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}

func networkHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}
