// Package compose renders checked items into the shareable digest text.
package compose

import (
	"context"
	"strings"

	"github.com/JakeFAU/news-digest/internal/news"
)

// DefaultHeader opens every digest.
const DefaultHeader = "各位長官、同仁早安，\n今日新聞輿情連結如下："

// Compose groups items by label in first-seen order and renders each as a
// title line followed by its resolved URL. Each item's URL is resolved through
// r, one at a time, in output order. An empty header selects DefaultHeader.
func Compose(ctx context.Context, items []news.Item, r news.Resolver, header string) string {
	if strings.TrimSpace(header) == "" {
		header = DefaultHeader
	}

	var labels []string
	grouped := make(map[string][]news.Item)
	for _, item := range items {
		if _, seen := grouped[item.Label]; !seen {
			labels = append(labels, item.Label)
		}
		grouped[item.Label] = append(grouped[item.Label], item)
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(header, "\n"))
	b.WriteString("\n\n")
	for _, label := range labels {
		b.WriteString("【")
		b.WriteString(label)
		b.WriteString("】\n")
		for _, item := range grouped[label] {
			b.WriteString(item.Title)
			b.WriteByte('\n')
			b.WriteString(resolve(ctx, r, item.URL))
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

func resolve(ctx context.Context, r news.Resolver, rawURL string) string {
	if r == nil {
		return rawURL
	}
	return r.Resolve(ctx, rawURL)
}
