package session

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/news-digest/internal/compose"
	"github.com/JakeFAU/news-digest/internal/hash/sha256"
	"github.com/JakeFAU/news-digest/internal/news"
	"github.com/JakeFAU/news-digest/internal/resolver"
	"github.com/JakeFAU/news-digest/internal/selection"
)

const wrapped = "https://news.google.com/rss/articles/CBMiMRT?oc=5"

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type tableFetcher struct {
	results map[string][]news.Item
	calls   []string
}

func (f *tableFetcher) Fetch(_ context.Context, query string) ([]news.Item, error) {
	f.calls = append(f.calls, query)
	items, ok := f.results[query]
	if !ok {
		return nil, errors.New("feed unavailable")
	}
	return items, nil
}

type countingWorker struct {
	calls atomic.Int32
	run   func(ctx context.Context, req resolver.Request) (resolver.Response, error)
}

func (w *countingWorker) Run(ctx context.Context, req resolver.Request) (resolver.Response, error) {
	w.calls.Add(1)
	return w.run(ctx, req)
}

func newTestSession(fetcher news.Fetcher, worker resolver.Worker, cfg resolver.Config) *Session {
	return New("sess-1", Deps{
		Fetcher: fetcher,
		NewResolver: func() news.Resolver {
			return resolver.NewEngine(cfg, worker, nil, nil)
		},
		Hasher: sha256.New(),
		Clock:  fixedClock{now: time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)},
	})
}

func TestSession_MRTScenarioResolves(t *testing.T) {
	t.Parallel()

	fetcher := &tableFetcher{results: map[string][]news.Item{
		"MRT": {{Label: "MRT", Title: "Circular line opens", URL: wrapped}},
	}}
	worker := &countingWorker{run: func(context.Context, resolver.Request) (resolver.Response, error) {
		return resolver.Response{FinalURL: "https://publisher.example/mrt"}, nil
	}}
	s := newTestSession(fetcher, worker, resolver.Config{})

	view := s.Fetch(context.Background(), []string{"MRT"})
	require.Equal(t, 1, view.Total)
	require.Len(t, view.Groups, 1)
	key := view.Groups[0].Items[0].Key

	require.True(t, s.Toggle(key, true))
	digest, err := s.Export(context.Background())
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(digest.Message, compose.DefaultHeader))
	require.Contains(t, digest.Message, "【MRT】\nCircular line opens\nhttps://publisher.example/mrt")
	require.EqualValues(t, 1, worker.calls.Load())
	require.Equal(t, "sess-1", digest.SessionID)
	require.Len(t, digest.Hash, 64)
	require.Len(t, digest.Items, 1)
}

func TestSession_MRTScenarioTimeoutFallsBack(t *testing.T) {
	t.Parallel()

	fetcher := &tableFetcher{results: map[string][]news.Item{
		"MRT": {{Label: "MRT", Title: "Circular line opens", URL: wrapped}},
	}}
	worker := &countingWorker{run: func(ctx context.Context, _ resolver.Request) (resolver.Response, error) {
		<-ctx.Done()
		return resolver.Response{}, ctx.Err()
	}}
	s := newTestSession(fetcher, worker, resolver.Config{WorkerTimeout: 50 * time.Millisecond})

	view := s.Fetch(context.Background(), []string{"MRT"})
	s.SetSelection([]selection.Key{view.Groups[0].Items[0].Key})
	digest, err := s.Export(context.Background())
	require.NoError(t, err)
	require.Contains(t, digest.Message, "Circular line opens\n"+wrapped)
}

func TestSession_DuplicateTitlesSelectIndependently(t *testing.T) {
	t.Parallel()

	dup := news.Item{Label: "MRT", Title: "Same story", URL: wrapped}
	fetcher := &tableFetcher{results: map[string][]news.Item{"MRT": {dup, dup}}}
	worker := &countingWorker{run: func(context.Context, resolver.Request) (resolver.Response, error) {
		return resolver.Response{FinalURL: "https://publisher.example/same"}, nil
	}}
	s := newTestSession(fetcher, worker, resolver.Config{})

	view := s.Fetch(context.Background(), []string{"MRT"})
	items := view.Groups[0].Items
	require.Len(t, items, 2)
	require.NotEqual(t, items[0].Key, items[1].Key)

	require.True(t, s.Toggle(items[1].Key, true))
	require.Equal(t, 1, s.View().Checked)
	require.False(t, s.View().Groups[0].Items[0].Checked)

	require.True(t, s.Toggle(items[0].Key, true))
	digest, err := s.Export(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(digest.Message, "Same story\nhttps://publisher.example/same"))
	require.EqualValues(t, 1, worker.calls.Load())
}

func TestSession_ExportRequiresSelection(t *testing.T) {
	t.Parallel()

	fetcher := &tableFetcher{results: map[string][]news.Item{
		"MRT": {{Label: "MRT", Title: "A", URL: "https://example.tw/a"}},
	}}
	s := newTestSession(fetcher, nil, resolver.Config{})
	_, err := s.Export(context.Background())
	require.ErrorIs(t, err, ErrNoSelection)

	s.Fetch(context.Background(), []string{"MRT"})
	_, err = s.Export(context.Background())
	require.ErrorIs(t, err, ErrNoSelection)
}

func TestSession_RefetchResetsSelectionAndKeepsCache(t *testing.T) {
	t.Parallel()

	fetcher := &tableFetcher{results: map[string][]news.Item{
		"MRT": {{Label: "MRT", Title: "A", URL: wrapped}},
	}}
	worker := &countingWorker{run: func(context.Context, resolver.Request) (resolver.Response, error) {
		return resolver.Response{FinalURL: "https://publisher.example/a"}, nil
	}}
	s := newTestSession(fetcher, worker, resolver.Config{})

	view := s.Fetch(context.Background(), []string{"MRT"})
	s.SetSelection([]selection.Key{view.Groups[0].Items[0].Key})
	_, err := s.Export(context.Background())
	require.NoError(t, err)

	view = s.Fetch(context.Background(), []string{"MRT"})
	require.Zero(t, view.Checked)
	_, err = s.Export(context.Background())
	require.ErrorIs(t, err, ErrNoSelection)

	s.SetSelection([]selection.Key{view.Groups[0].Items[0].Key})
	_, err = s.Export(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, worker.calls.Load())
}

func TestSession_FailedKeywordListedEmpty(t *testing.T) {
	t.Parallel()

	fetcher := &tableFetcher{results: map[string][]news.Item{
		"LRT": {{Label: "LRT", Title: "Tram", URL: "https://example.tw/t"}},
		"Bus": {},
	}}
	s := newTestSession(fetcher, nil, resolver.Config{})

	view := s.Fetch(context.Background(), []string{"MRT", "LRT", "Bus", "LRT"})
	require.Equal(t, []string{"MRT", "LRT", "Bus"}, view.Keywords)
	require.Equal(t, []string{"MRT", "LRT", "Bus"}, fetcher.calls)
	require.Len(t, view.Groups, 3)
	require.Empty(t, view.Groups[0].Items)
	require.Len(t, view.Groups[1].Items, 1)
	require.Empty(t, view.Groups[2].Items)
}

func TestSession_ToggleRejectsStaleKey(t *testing.T) {
	t.Parallel()

	fetcher := &tableFetcher{results: map[string][]news.Item{
		"MRT": {{Label: "MRT", Title: "A", URL: "https://example.tw/a"}},
	}}
	s := newTestSession(fetcher, nil, resolver.Config{})
	s.Fetch(context.Background(), []string{"MRT"})

	require.False(t, s.Toggle(selection.Key{Label: "MRT", Title: "B", Ordinal: 0}, true))
	require.False(t, s.Toggle(selection.Key{Label: "MRT", Title: "A", Ordinal: 4}, true))
	require.Equal(t, 0, s.SetSelection([]selection.Key{{Label: "MRT", Title: "B"}}))
	require.Equal(t, 1, s.SetSelection([]selection.Key{{Label: "MRT", Title: "A"}}))
}
