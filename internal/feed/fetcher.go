// Package feed retrieves keyword search feeds and turns recent entries into news items.
package feed

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/mmcdole/gofeed"

	"github.com/JakeFAU/news-digest/internal/news"
	"github.com/JakeFAU/news-digest/internal/recency"
)

// Google News search defaults for Traditional Chinese, Taiwan edition.
const (
	DefaultBaseURL  = "https://news.google.com/rss/search"
	DefaultLanguage = "zh-TW"
	DefaultRegion   = "TW"
	DefaultEdition  = "TW:zh-Hant"
)

// Config controls feed retrieval.
type Config struct {
	BaseURL   string
	Language  string
	Region    string
	Edition   string
	UserAgent string
	Timeout   time.Duration
	Window    time.Duration
}

// Fetcher implements news.Fetcher using a Colly collector and gofeed.
type Fetcher struct {
	cfg           Config
	clock         news.Clock
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Zero config values fall back to the package defaults.
func New(cfg Config, clock news.Clock) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.Edition == "" {
		cfg.Edition = DefaultEdition
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = recency.DefaultWindow
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		clock:         clock,
		baseCollector: c,
	}
}

// QueryURL builds the provider search URL for query.
func (f *Fetcher) QueryURL(query string) string {
	return fmt.Sprintf("%s?q=%s&hl=%s&gl=%s&ceid=%s",
		f.cfg.BaseURL,
		url.QueryEscape(query),
		url.QueryEscape(f.cfg.Language),
		url.QueryEscape(f.cfg.Region),
		url.QueryEscape(f.cfg.Edition),
	)
}

// Fetch retrieves the feed for query and returns entries published inside the
// recency window. Entries without an acceptable timestamp are dropped.
func (f *Fetcher) Fetch(ctx context.Context, query string) ([]news.Item, error) {
	body, err := f.retrieve(ctx, f.QueryURL(query))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed for %q: %w", query, err)
	}

	now := f.clock.Now()
	items := make([]news.Item, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		if entry == nil || entry.Published == "" {
			continue
		}
		if !recency.IsRecent(entry.Published, now, f.cfg.Window) {
			continue
		}
		items = append(items, news.Item{
			Label:     query,
			Title:     strings.TrimSpace(entry.Title),
			URL:       entryURL(entry),
			Published: entry.Published,
		})
	}
	return items, nil
}

func entryURL(entry *gofeed.Item) string {
	if len(entry.Links) > 0 && strings.TrimSpace(entry.Links[0]) != "" {
		return strings.TrimSpace(entry.Links[0])
	}
	return strings.TrimSpace(entry.Link)
}

type visitResult struct {
	body []byte
	err  error
}

func (f *Fetcher) retrieve(ctx context.Context, target string) ([]byte, error) {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	done := make(chan visitResult, 1)
	go func() {
		var res visitResult
		configureHooks(collector, &res)
		if err := collector.Visit(target); err != nil && res.err == nil {
			res.err = err
		}
		done <- res
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("feed fetch canceled: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("feed fetch %s: %w", target, res.err)
		}
		return res.body, nil
	}
}

func configureHooks(hooks collectorHooks, res *visitResult) {
	hooks.OnResponse(func(r *colly.Response) {
		res.body = append([]byte(nil), r.Body...)
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			res.err = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		res.err = err
	})
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
