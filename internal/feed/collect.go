package feed

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-digest/internal/metrics"
	"github.com/JakeFAU/news-digest/internal/news"
)

// ParseKeywords splits comma separated input (ASCII or full-width commas),
// trims each entry and drops empties, preserving order.
func ParseKeywords(text string) []string {
	text = strings.ReplaceAll(text, "，", ",")
	parts := strings.Split(text, ",")
	keywords := make([]string, 0, len(parts))
	for _, part := range parts {
		if kw := strings.TrimSpace(part); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return keywords
}

// FetchAll invokes fetcher once per query, in order, and concatenates the
// results. A failed query contributes nothing and is logged; it never aborts
// the remaining queries.
func FetchAll(ctx context.Context, fetcher news.Fetcher, queries []string, logger *zap.Logger) []news.Item {
	if logger == nil {
		logger = zap.NewNop()
	}
	var all []news.Item
	for _, query := range queries {
		items, err := fetcher.Fetch(ctx, query)
		if err != nil {
			metrics.ObserveFeedFetch(metrics.OutcomeError, 0)
			logger.Warn("feed fetch failed", zap.String("query", query), zap.Error(err))
			continue
		}
		metrics.ObserveFeedFetch(metrics.OutcomeOK, len(items))
		logger.Debug("feed fetched", zap.String("query", query), zap.Int("items", len(items)))
		all = append(all, items...)
	}
	return all
}
