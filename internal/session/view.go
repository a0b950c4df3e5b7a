package session

import (
	"time"

	"github.com/JakeFAU/news-digest/internal/news"
	"github.com/JakeFAU/news-digest/internal/selection"
)

// View is the display model of a session: one group per fetched keyword in
// input order, each listing its items with their checkbox state.
type View struct {
	SessionID string      `json:"session_id"`
	Keywords  []string    `json:"keywords"`
	Groups    []GroupView `json:"groups"`
	FetchedAt time.Time   `json:"fetched_at"`
	Total     int         `json:"total"`
	Checked   int         `json:"checked"`
}

// GroupView lists the items found under one keyword. Items is empty when the
// keyword produced no recent news.
type GroupView struct {
	Label string     `json:"label"`
	Items []ItemView `json:"items"`
}

// ItemView is one checkbox row.
type ItemView struct {
	Key     selection.Key `json:"key"`
	Item    news.Item     `json:"item"`
	Checked bool          `json:"checked"`
}
