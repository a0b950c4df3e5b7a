// Package main hosts the newsdigest entrypoint.
//
// Architecture overview:
//   - Feeds: internal/feed queries the Google News RSS search once per keyword with a Colly collector, parses the
//     document with gofeed, and keeps entries published inside the recency window.
//   - Sessions: internal/session holds one user's fetched items, checkbox state, and a private resolution cache.
//     Sessions live in memory and are swept after the configured idle timeout.
//   - Resolution: internal/resolver turns news.google.com wrapper links into publisher URLs. Each miss runs in a
//     fresh child process (this binary in resolve-worker mode) that drives headless Chrome through chromedp. The
//     child sits in its own process group and the group is killed when the deadline passes. Any failure falls back
//     to the original link.
//   - Export: internal/compose renders the LINE message grouped by keyword. Digests can be published to Pub/Sub.
//   - Surfaces: internal/api serves the browser page and a JSON API with chi; the digest command does the same
//     flow from a terminal.
//
// Quick checklist:
//   - Configure env vars: NEWSDIGEST_SERVER_PORT, NEWSDIGEST_KEYWORDS, NEWSDIGEST_RESOLVER_CHROME_PATH,
//     NEWSDIGEST_RESOLVER_NO_SANDBOX (containers), NEWSDIGEST_PUBSUB_PROJECT_ID and NEWSDIGEST_PUBSUB_TOPIC_NAME.
//   - Run locally: go run ./cmd/newsdigest serve --config config.yaml
//   - One-shot digest: go run ./cmd/newsdigest digest --keywords 捷運,輕軌 --pick 1,3 --copy
package main
