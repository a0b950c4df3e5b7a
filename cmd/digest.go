package cmd

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-digest/internal/config"
	"github.com/JakeFAU/news-digest/internal/feed"
	"github.com/JakeFAU/news-digest/internal/logging"
	"github.com/JakeFAU/news-digest/internal/selection"
	"github.com/JakeFAU/news-digest/internal/server"
	"github.com/JakeFAU/news-digest/internal/session"
)

// Replaced in tests.
var (
	newDigestDeps = func(cfg config.Config, logger *zap.Logger) (session.Deps, error) {
		worker, err := server.NewWorker(cfg, logger)
		if err != nil {
			return session.Deps{}, err
		}
		return server.SessionDeps(cfg, worker, logger), nil
	}
	writeClipboard = clipboard.WriteAll
)

type digestOptions struct {
	keywords string
	pick     string
	all      bool
	copy     bool
	header   string
}

func newDigestCmd() *cobra.Command {
	opts := &digestOptions{}
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Fetch keyword news and print a LINE message",
		Long: `Fetches recent news for each keyword and lists the items, numbered, on
stderr. With --pick or --all the chosen items are resolved to their publisher
URLs and the composed message is written to stdout.`,
		Example: `  newsdigest digest --keywords 捷運,輕軌
  newsdigest digest --keywords 捷運,輕軌 --pick 1,3-4 --copy`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDigest(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.keywords, "keywords", "", "comma separated keywords (default from config)")
	cmd.Flags().StringVar(&opts.pick, "pick", "", "item numbers to export, e.g. 1,3,5-7")
	cmd.Flags().BoolVar(&opts.all, "all", false, "export every listed item")
	cmd.Flags().BoolVar(&opts.copy, "copy", false, "also copy the message to the clipboard")
	cmd.Flags().StringVar(&opts.header, "header", "", "greeting placed above the items")
	cmd.MarkFlagsMutuallyExclusive("pick", "all")
	return cmd
}

func runDigest(cmd *cobra.Command, opts *digestOptions) error {
	cfg, err := configFrom(cmd.Context())
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	deps, err := newDigestDeps(cfg, logger)
	if err != nil {
		return err
	}
	if opts.header != "" {
		deps.Header = opts.header
	}
	keywords := feed.ParseKeywords(opts.keywords)
	if len(keywords) == 0 {
		keywords = cfg.Keywords
	}
	if len(keywords) == 0 {
		keywords = config.DefaultKeywords
	}

	s := session.New("cli", deps)
	view := s.Fetch(cmd.Context(), keywords)
	keys := listItems(cmd.ErrOrStderr(), view)

	if !opts.all && opts.pick == "" {
		return nil
	}
	chosen := keys
	if !opts.all {
		picks, err := parsePick(opts.pick, len(keys))
		if err != nil {
			return err
		}
		chosen = make([]selection.Key, 0, len(picks))
		for _, n := range picks {
			chosen = append(chosen, keys[n-1])
		}
	}
	s.SetSelection(chosen)

	digest, err := s.Export(cmd.Context())
	if errors.Is(err, session.ErrNoSelection) {
		return errors.New("nothing to export: no items were found")
	}
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), digest.Message); err != nil {
		return fmt.Errorf("write digest: %w", err)
	}
	if opts.copy {
		if err := writeClipboard(digest.Message); err != nil {
			return fmt.Errorf("copy to clipboard: %w", err)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "copied to clipboard")
	}
	return nil
}

// listItems prints the view numbered from 1 and returns the keys in the same
// order.
func listItems(w io.Writer, view session.View) []selection.Key {
	var keys []selection.Key
	for _, group := range view.Groups {
		fmt.Fprintf(w, "🔸 %s\n", group.Label)
		if len(group.Items) == 0 {
			fmt.Fprintln(w, "   🔍 無相關新聞")
			continue
		}
		for _, item := range group.Items {
			keys = append(keys, item.Key)
			fmt.Fprintf(w, "%3d. %s\n     %s\n", len(keys), item.Item.Title, item.Item.URL)
		}
	}
	return keys
}

// parsePick reads a list like "1,3,5-7" into sorted, unique 1-based numbers
// no greater than total.
func parsePick(list string, total int) ([]int, error) {
	seen := make(map[int]bool)
	list = strings.ReplaceAll(list, "，", ",")
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid pick %q", part)
		}
		last := first
		if isRange {
			if last, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
				return nil, fmt.Errorf("invalid pick %q", part)
			}
		}
		if first < 1 || last < first || last > total {
			return nil, fmt.Errorf("pick %q out of range 1-%d", part, total)
		}
		for n := first; n <= last; n++ {
			seen[n] = true
		}
	}
	if len(seen) == 0 {
		return nil, errors.New("no items picked")
	}
	picks := make([]int, 0, len(seen))
	for n := range seen {
		picks = append(picks, n)
	}
	sort.Ints(picks)
	return picks, nil
}
