package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-digest/internal/config"
	"github.com/JakeFAU/news-digest/internal/hash/sha256"
	"github.com/JakeFAU/news-digest/internal/news"
	memorypublisher "github.com/JakeFAU/news-digest/internal/publisher/memory"
	"github.com/JakeFAU/news-digest/internal/resolver"
	"github.com/JakeFAU/news-digest/internal/selection"
	"github.com/JakeFAU/news-digest/internal/session"
)

const wrapped = "https://news.google.com/rss/articles/CBMiAPI?oc=5"

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(t, testOptions{}), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_ReadyzReportsDownstream(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testOptions{ready: func(context.Context) error {
		return errors.New("resolver binary missing")
	}})
	rec := serve(t, srv, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "resolver binary missing")

	rec = serve(t, newTestServer(t, testOptions{}), http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testOptions{})
	serve(t, srv, http.MethodGet, "/healthz", "")
	rec := serve(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_APIKeyGuardsOnlyV1(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testOptions{apiKey: "secret"})

	rec := serve(t, srv, http.MethodPost, "/v1/sessions", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Equal(t, http.StatusOK, serve(t, srv, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, serve(t, srv, http.MethodGet, "/", "").Code)
}

func TestServer_JSONSessionFlow(t *testing.T) {
	t.Parallel()

	pub := memorypublisher.New()
	srv := newTestServer(t, testOptions{publisher: pub})

	id := createSession(t, srv)

	rec := serve(t, srv, http.MethodPost, "/v1/sessions/"+id+"/fetch", `{"keywords_text":"捷運，輕軌"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var view session.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, []string{"捷運", "輕軌"}, view.Keywords)
	require.Len(t, view.Groups, 2)
	require.Len(t, view.Groups[0].Items, 2)
	require.Empty(t, view.Groups[1].Items)

	rec = serve(t, srv, http.MethodPost, "/v1/sessions/"+id+"/export", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body, err := json.Marshal(selectionRequest{Keys: []selection.Key{view.Groups[0].Items[1].Key}})
	require.NoError(t, err)
	rec = serve(t, srv, http.MethodPut, "/v1/sessions/"+id+"/selection", string(body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"requested":1,"checked":1}`, rec.Body.String())

	rec = serve(t, srv, http.MethodGet, "/v1/sessions/"+id, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, 1, view.Checked)

	rec = serve(t, srv, http.MethodPost, "/v1/sessions/"+id+"/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var exported exportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exported))
	require.Contains(t, exported.Message, "【捷運】\n新北環狀線通車\nhttps://publisher.example/resolved")
	require.Len(t, exported.Digest.Hash, 64)

	rec = serve(t, srv, http.MethodPost, "/v1/sessions/"+id+"/publish", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "memory-1")
	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "digests", msgs[0].Topic)
	digest, ok := msgs[0].Payload.(news.Digest)
	require.True(t, ok)
	require.Equal(t, id, digest.SessionID)

	rec = serve(t, srv, http.MethodDelete, "/v1/sessions/"+id, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = serve(t, srv, http.MethodGet, "/v1/sessions/"+id, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_FetchDefaultsToConfiguredKeywords(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testOptions{})
	id := createSession(t, srv)
	rec := serve(t, srv, http.MethodPost, "/v1/sessions/"+id+"/fetch", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view session.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, []string{"捷運", "鐵路"}, view.Keywords)

	rec = serve(t, srv, http.MethodPost, "/v1/sessions/"+id+"/fetch", "{bad")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_PublishNotConfigured(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testOptions{})
	id := createSession(t, srv)
	rec := serve(t, srv, http.MethodPost, "/v1/sessions/"+id+"/publish", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_UnknownSession(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testOptions{})
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/sessions/nope"},
		{http.MethodPost, "/v1/sessions/nope/fetch"},
		{http.MethodPut, "/v1/sessions/nope/selection"},
		{http.MethodPost, "/v1/sessions/nope/export"},
		{http.MethodDelete, "/v1/sessions/nope"},
	} {
		rec := serve(t, srv, tc.method, tc.path, "")
		require.Equal(t, http.StatusNotFound, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestServer_BrowserFlow(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testOptions{})

	rec := serve(t, srv, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, SessionCookie, cookies[0].Name)
	require.Contains(t, rec.Body.String(), `value="捷運, 鐵路"`)

	form := url.Values{"keywords": {"捷運"}}
	rec = serveForm(t, srv, "/fetch", form, cookies[0])
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Result().Cookies(), "existing session must be reused")
	page := rec.Body.String()
	require.Contains(t, page, noticeFetched)
	require.Contains(t, page, "新北環狀線通車")
	require.Contains(t, page, "📤 產生 LINE 訊息")

	rec = serveForm(t, srv, "/export", url.Values{}, cookies[0])
	require.Contains(t, rec.Body.String(), warningNoSelection)

	form = url.Values{"item": {encodeKey(selection.Key{Label: "捷運", Title: "新北環狀線通車", Ordinal: 1})}}
	rec = serveForm(t, srv, "/export", form, cookies[0])
	require.Equal(t, http.StatusOK, rec.Code)
	page = rec.Body.String()
	require.Contains(t, page, "各位長官、同仁早安，")
	require.Contains(t, page, "https://publisher.example/resolved")
	require.Contains(t, page, "navigator.clipboard.writeText")

	rec = serve(t, srv, http.MethodGet, "/", "")
	require.NotEmpty(t, rec.Result().Cookies(), "missing cookie starts a new session")
}

func TestServer_BrowserEscapesTitles(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testOptions{items: map[string][]news.Item{
		"x": {{Label: "x", Title: `<script>alert(1)</script>`, URL: "https://example.tw/a"}},
	}})
	rec := serve(t, srv, http.MethodGet, "/", "")
	cookie := rec.Result().Cookies()[0]
	rec = serveForm(t, srv, "/fetch", url.Values{"keywords": {"x"}}, cookie)
	require.NotContains(t, rec.Body.String(), "<script>alert(1)</script>")
}

func TestEncodeDecodeKey(t *testing.T) {
	t.Parallel()

	key := selection.Key{Label: "捷運&輕軌", Title: "a=b & c", Ordinal: 3}
	got, ok := decodeKey(encodeKey(key))
	require.True(t, ok)
	require.Equal(t, key, got)

	for _, bad := range []string{"", "l=x&o=-1", "l=x&o=one", "o=1", "%zz"} {
		_, ok := decodeKey(bad)
		require.False(t, ok, bad)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDMiddlewareKeepsInbound(t *testing.T) {
	t.Parallel()

	var seen string
	h := requestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "upstream-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "upstream-1", seen)
	require.Equal(t, "upstream-1", rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

type testOptions struct {
	apiKey    string
	publisher news.Publisher
	ready     func(context.Context) error
	items     map[string][]news.Item
}

type stubFetcher struct {
	mu    sync.Mutex
	items map[string][]news.Item
}

func (f *stubFetcher) Fetch(_ context.Context, query string) ([]news.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, ok := f.items[query]
	if !ok {
		return nil, fmt.Errorf("no feed for %q", query)
	}
	return items, nil
}

type stubWorker struct{}

func (stubWorker) Run(context.Context, resolver.Request) (resolver.Response, error) {
	return resolver.Response{FinalURL: "https://publisher.example/resolved"}, nil
}

type fakeIDGen struct {
	mu sync.Mutex
	n  int
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("sess-%d", f.n), nil
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

func newTestServer(t *testing.T, opts testOptions) *Server {
	t.Helper()
	items := opts.items
	if items == nil {
		items = map[string][]news.Item{
			"捷運": {
				{Label: "捷運", Title: "票價調整", URL: "https://example.tw/fare"},
				{Label: "捷運", Title: "新北環狀線通車", URL: wrapped},
			},
			"輕軌": {},
		}
	}
	deps := session.Deps{
		Fetcher: &stubFetcher{items: items},
		NewResolver: func() news.Resolver {
			return resolver.NewEngine(resolver.Config{}, stubWorker{}, nil, nil)
		},
		Hasher: sha256.New(),
		Clock:  fakeClock{now: time.Date(2025, 3, 4, 1, 0, 0, 0, time.UTC)},
	}
	cfg := config.Config{
		Server:   config.ServerConfig{RequestTimeoutSeconds: 30},
		Keywords: []string{"捷運", "鐵路"},
		Feed:     config.FeedConfig{WindowHours: 24},
	}
	if opts.apiKey != "" {
		cfg.Auth = config.AuthConfig{Enabled: true, APIKey: opts.apiKey}
	}
	return NewServer(Options{
		Sessions:  session.NewManager(&fakeIDGen{}, deps),
		Publisher: opts.publisher,
		Topic:     "digests",
		Ready:     opts.ready,
		Config:    cfg,
		Logger:    zap.NewNop(),
	})
}

func serve(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func serveForm(t *testing.T, srv *Server, path string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, srv *Server) string {
	t.Helper()
	rec := serve(t, srv, http.MethodPost, "/v1/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out["session_id"])
	return out["session_id"]
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
