package api

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-digest/internal/feed"
	"github.com/JakeFAU/news-digest/internal/selection"
	"github.com/JakeFAU/news-digest/internal/session"
)

// SessionCookie binds a browser to its session.
const SessionCookie = "newsdigest_session"

const (
	noticeFetched      = "✅ 抓取成功！"
	warningNoSelection = "⚠️ 請至少勾選一則新聞"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(
	template.New("index.html").
		Funcs(template.FuncMap{"itemValue": encodeKey}).
		ParseFS(templateFS, "templates/index.html"),
)

type pageData struct {
	KeywordsText string
	WindowHours  int
	View         session.View
	Fetched      bool
	Notice       string
	Warning      string
	Message      string
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.browserSession(w, r)
	if !ok {
		return
	}
	view := sess.View()
	s.render(w, s.page(view, ""))
}

func (s *Server) fetchForm(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.browserSession(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	text := r.PostForm.Get("keywords")
	keywords := feed.ParseKeywords(text)
	if len(keywords) == 0 {
		keywords = s.keywords
	}
	view := sess.Fetch(r.Context(), keywords)
	data := s.page(view, text)
	data.Notice = noticeFetched
	s.render(w, data)
}

func (s *Server) exportForm(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.browserSession(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	keys := make([]selection.Key, 0, len(r.PostForm["item"]))
	for _, raw := range r.PostForm["item"] {
		if key, ok := decodeKey(raw); ok {
			keys = append(keys, key)
		}
	}
	sess.SetSelection(keys)

	digest, err := sess.Export(r.Context())
	data := s.page(sess.View(), r.PostForm.Get("keywords"))
	switch {
	case errors.Is(err, session.ErrNoSelection):
		data.Warning = warningNoSelection
	case err != nil:
		s.logger.Error("export failed", zap.String("session_id", sess.ID()), zap.Error(err))
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	default:
		data.Message = digest.Message
	}
	s.render(w, data)
}

// browserSession resolves the cookie session, creating and binding a new one
// when the cookie is missing or stale.
func (s *Server) browserSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	var id string
	if c, err := r.Cookie(SessionCookie); err == nil {
		id = c.Value
	}
	sess, created, err := s.sessions.GetOrCreate(id)
	if err != nil {
		s.logger.Error("create session failed", zap.Error(err))
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return nil, false
	}
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    sess.ID(),
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return sess, true
}

func (s *Server) page(view session.View, keywordsText string) pageData {
	if strings.TrimSpace(keywordsText) == "" {
		keywords := view.Keywords
		if len(keywords) == 0 {
			keywords = s.keywords
		}
		keywordsText = strings.Join(keywords, ", ")
	}
	window := s.cfg.Feed.WindowHours
	if window <= 0 {
		window = 24
	}
	return pageData{
		KeywordsText: keywordsText,
		WindowHours:  window,
		View:         view,
		Fetched:      !view.FetchedAt.IsZero(),
	}
}

func (s *Server) render(w http.ResponseWriter, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		s.logger.Error("render page failed", zap.Error(err))
	}
}

// encodeKey packs a selection key into a checkbox value.
func encodeKey(k selection.Key) string {
	return url.Values{
		"l": {k.Label},
		"t": {k.Title},
		"o": {strconv.Itoa(k.Ordinal)},
	}.Encode()
}

func decodeKey(raw string) (selection.Key, bool) {
	v, err := url.ParseQuery(raw)
	if err != nil {
		return selection.Key{}, false
	}
	ordinal, err := strconv.Atoi(v.Get("o"))
	if err != nil || ordinal < 0 || v.Get("l") == "" {
		return selection.Key{}, false
	}
	return selection.Key{Label: v.Get("l"), Title: v.Get("t"), Ordinal: ordinal}, true
}
