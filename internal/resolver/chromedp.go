package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ChromedpConfig controls the browser launched inside a worker.
type ChromedpConfig struct {
	ExecPath  string
	NoSandbox bool
}

// ChromedpRenderer loads a page in headless Chrome and reports the location
// after navigation plus a settle delay, which lets script redirects finish.
type ChromedpRenderer struct {
	cfg ChromedpConfig
}

// NewChromedpRenderer returns a renderer that launches one browser per call.
func NewChromedpRenderer(cfg ChromedpConfig) *ChromedpRenderer {
	return &ChromedpRenderer{cfg: cfg}
}

// FinalURL navigates to req.URL and returns the settled location.
func (r *ChromedpRenderer) FinalURL(ctx context.Context, req Request) (string, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, r.allocatorOptions(req.UserAgent)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	meta := &documentMeta{}
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	var location, html string
	actions := []chromedp.Action{
		r.networkSetupAction(req.UserAgent),
		navigateAction(req.URL, navTimeout(req)),
		chromedp.Sleep(settleDelay(req)),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return pickFinal(location, meta.lastURL(), canonicalURL(html), req.URL), nil
}

func (r *ChromedpRenderer) allocatorOptions(userAgent string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if r.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.cfg.ExecPath))
	}
	if r.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	return opts
}

func (r *ChromedpRenderer) networkSetupAction(userAgent string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// navigateAction bounds only the navigation itself; the settle delay runs
// after it under the caller's context.
func navigateAction(url string, timeout time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		navCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := chromedp.Navigate(url).Do(navCtx); err != nil {
			return fmt.Errorf("navigate: %w", err)
		}
		return nil
	})
}

func navTimeout(req Request) time.Duration {
	if req.NavigationTimeout > 0 {
		return req.NavigationTimeout
	}
	return DefaultNavigationTimeout
}

func settleDelay(req Request) time.Duration {
	if req.SettleDelay > 0 {
		return req.SettleDelay
	}
	return 0
}

// pickFinal prefers the settled location, then the last document response.
// When neither left the request's host, a canonical link declared by the page
// on another host wins. The request itself is the last resort.
func pickFinal(location, documentURL, canonical, requestURL string) string {
	origin := hostOf(requestURL)
	var stayed string
	for _, candidate := range []string{location, documentURL} {
		if candidate == "" || strings.HasPrefix(candidate, "about:") {
			continue
		}
		if hostOf(candidate) != origin {
			return candidate
		}
		if stayed == "" {
			stayed = candidate
		}
	}
	if canonical != "" && hostOf(canonical) != origin {
		return canonical
	}
	if stayed != "" {
		return stayed
	}
	return requestURL
}

// canonicalURL extracts the destination a page declares for itself.
func canonicalURL(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	for _, sel := range []struct{ query, attr string }{
		{`link[rel="canonical"]`, "href"},
		{`meta[property="og:url"]`, "content"},
	} {
		if v, ok := doc.Find(sel.query).First().Attr(sel.attr); ok && usableURL(strings.TrimSpace(v)) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

type documentMeta struct {
	mu  sync.RWMutex
	url string
}

func (m *documentMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *documentMeta) lastURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.url
}
