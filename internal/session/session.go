// Package session owns one user's fetched items, checkbox state, and URL
// resolution cache, and drives fetch and export against them.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-digest/internal/compose"
	"github.com/JakeFAU/news-digest/internal/feed"
	"github.com/JakeFAU/news-digest/internal/metrics"
	"github.com/JakeFAU/news-digest/internal/news"
	"github.com/JakeFAU/news-digest/internal/selection"
	"github.com/JakeFAU/news-digest/internal/telemetry"
)

// ErrNoSelection is returned by Export when nothing is checked.
var ErrNoSelection = errors.New("no items selected")

// Deps are the collaborators a session needs.
type Deps struct {
	Fetcher news.Fetcher
	// NewResolver builds the per-session resolver. Each session gets its own
	// so caches are never shared between users.
	NewResolver func() news.Resolver
	Hasher      news.Hasher
	Clock       news.Clock
	Header      string
	Logger      *zap.Logger
}

// Session is safe for concurrent use. State changes serialize on mu; link
// resolution during Export runs outside it.
type Session struct {
	id       string
	deps     Deps
	resolver news.Resolver
	logger   *zap.Logger
	created  time.Time
	// lastSeen holds unix nanoseconds so LastSeen never waits on mu.
	lastSeen atomic.Int64

	mu        sync.Mutex
	keywords  []string
	items     []news.Item
	groups    *selection.Groups
	state     *selection.State
	fetchedAt time.Time
}

// New creates an empty session.
func New(id string, deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	var r news.Resolver
	if deps.NewResolver != nil {
		r = deps.NewResolver()
	}
	now := now(deps.Clock)
	s := &Session{
		id:       id,
		deps:     deps,
		resolver: r,
		logger:   deps.Logger.With(zap.String("session_id", id)),
		created:  now,
		groups:   selection.GroupByLabel(nil),
		state:    selection.NewState(),
	}
	s.lastSeen.Store(now.UnixNano())
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Fetch queries every keyword in order and replaces the session's items. The
// selection is reset; the resolution cache is kept. Keywords that fail or
// have no recent items are still listed in the view with no entries.
func (s *Session) Fetch(ctx context.Context, keywords []string) View {
	keywords = dedupe(keywords)
	items := feed.FetchAll(ctx, s.deps.Fetcher, keywords, s.logger)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.keywords = keywords
	s.items = items
	s.groups = selection.GroupByLabel(items)
	s.state.Reset()
	s.fetchedAt = now(s.deps.Clock)
	s.logger.Info("session fetched",
		zap.Strings("keywords", keywords),
		zap.Int("items", len(items)),
	)
	return s.viewLocked()
}

// View returns the current display model.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	return s.viewLocked()
}

// SetSelection replaces the checked set with keys and reports how many of
// them match a current item.
func (s *Session) SetSelection(keys []selection.Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.state.Replace(keys)
	return len(s.state.Checked(s.groups))
}

// Toggle checks or unchecks one item. It reports false when key does not
// identify a current item.
func (s *Session) Toggle(key selection.Key, checked bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	item, ok := s.groups.Item(key.Label, key.Ordinal)
	if !ok || item.Title != key.Title {
		return false
	}
	s.state.Set(key, checked)
	return true
}

// Export composes the checked items into a digest, resolving each link
// through the session's resolver. It returns ErrNoSelection when nothing is
// checked. The checked items are snapshotted under the lock; resolution
// happens without it, so View and Toggle stay responsive meanwhile.
func (s *Session) Export(ctx context.Context) (news.Digest, error) {
	ctx, span := telemetry.Tracer("session").Start(ctx, "session.export",
		trace.WithAttributes(attribute.String("session.id", s.id)))
	defer span.End()

	s.mu.Lock()
	s.touch()
	checked := s.state.Checked(s.groups)
	s.mu.Unlock()

	if len(checked) == 0 {
		metrics.ObserveExport(metrics.OutcomeEmpty)
		return news.Digest{}, ErrNoSelection
	}

	message := compose.Compose(ctx, checked, s.resolver, s.deps.Header)
	digest := news.Digest{
		SessionID:  s.id,
		Message:    message,
		Items:      checked,
		ComposedAt: now(s.deps.Clock),
	}
	if s.deps.Hasher != nil {
		sum, err := s.deps.Hasher.Hash([]byte(message))
		if err != nil {
			metrics.ObserveExport(metrics.OutcomeError)
			return news.Digest{}, fmt.Errorf("hash digest: %w", err)
		}
		digest.Hash = sum
	}
	s.touch()
	metrics.ObserveExport(metrics.OutcomeOK)
	span.SetAttributes(attribute.Int("digest.items", len(checked)))
	s.logger.Info("digest exported", zap.Int("items", len(checked)))
	return digest, nil
}

// LastSeen reports when the session was last used.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load()).UTC()
}

func (s *Session) touch() {
	s.lastSeen.Store(now(s.deps.Clock).UnixNano())
}

func (s *Session) viewLocked() View {
	v := View{
		SessionID: s.id,
		Keywords:  append([]string(nil), s.keywords...),
		FetchedAt: s.fetchedAt,
		Total:     len(s.items),
	}
	for _, keyword := range s.keywords {
		group := GroupView{Label: keyword}
		for idx, item := range s.groups.Items(keyword) {
			key := selection.Key{Label: keyword, Title: item.Title, Ordinal: idx}
			checked := s.state.IsChecked(key)
			if checked {
				v.Checked++
			}
			group.Items = append(group.Items, ItemView{Key: key, Item: item, Checked: checked})
		}
		v.Groups = append(v.Groups, group)
	}
	return v
}

func dedupe(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}

func now(clock news.Clock) time.Time {
	if clock == nil {
		return time.Now().UTC()
	}
	return clock.Now()
}
