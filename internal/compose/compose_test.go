package compose

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/news-digest/internal/news"
)

type recordingResolver struct {
	calls []string
	table map[string]string
}

func (r *recordingResolver) Resolve(_ context.Context, rawURL string) string {
	r.calls = append(r.calls, rawURL)
	if out, ok := r.table[rawURL]; ok {
		return out
	}
	return rawURL
}

func TestCompose_ExactFormat(t *testing.T) {
	t.Parallel()

	items := []news.Item{
		{Label: "捷運", Title: "環狀線北環段動工", URL: "https://news.google.com/a"},
		{Label: "輕軌", Title: "淡海輕軌延誤", URL: "https://example.tw/b"},
		{Label: "捷運", Title: "票價調整", URL: "https://news.google.com/c"},
	}
	r := &recordingResolver{table: map[string]string{
		"https://news.google.com/a": "https://publisher.tw/a",
	}}

	got := Compose(context.Background(), items, r, "")
	want := "各位長官、同仁早安，\n今日新聞輿情連結如下：\n\n" +
		"【捷運】\n環狀線北環段動工\nhttps://publisher.tw/a\n票價調整\nhttps://news.google.com/c\n\n" +
		"【輕軌】\n淡海輕軌延誤\nhttps://example.tw/b"
	require.Equal(t, want, got)
	require.Equal(t, []string{
		"https://news.google.com/a",
		"https://news.google.com/c",
		"https://example.tw/b",
	}, r.calls)
}

func TestCompose_OnePairPerItem(t *testing.T) {
	t.Parallel()

	items := []news.Item{
		{Label: "MRT", Title: "Same", URL: "https://news.google.com/x"},
		{Label: "MRT", Title: "Same", URL: "https://news.google.com/x"},
	}
	r := &recordingResolver{}
	got := Compose(context.Background(), items, r, "Morning")
	require.Equal(t, "Morning\n\n【MRT】\nSame\nhttps://news.google.com/x\nSame\nhttps://news.google.com/x", got)
	require.Len(t, r.calls, 2)
	require.Equal(t, 1, strings.Count(got, "【MRT】"))
}

func TestCompose_CustomHeaderTrailingNewlines(t *testing.T) {
	t.Parallel()

	got := Compose(context.Background(), []news.Item{{Label: "L", Title: "T", URL: "u"}}, nil, "Hi\n\n\n")
	require.Equal(t, "Hi\n\n【L】\nT\nu", got)
}
