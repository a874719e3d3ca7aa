package handlers

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"polibrief/internal/capture"
)

// NewCaptureCmd creates the capture command
func NewCaptureCmd() *cobra.Command {
	var (
		url         string
		title       string
		asHTML      bool
		feeds       []string
		configFeeds bool
	)

	cmd := &cobra.Command{
		Use:   "capture [file]",
		Short: "Capture content from a file, stdin or a URL",
		Long: `Store content as a pending item for classification.

The body is read from the file argument, or from stdin when the argument
is "-" or missing. Files ending in .html or .htm are treated as HTML. With
--url and no body the page is fetched. Identical content is stored once.

--feed imports the recent entries of RSS or Atom feeds instead; --config-feeds
imports every feed listed under capture.feeds.urls.

Examples:
  polibrief capture article.txt --title "Senate passes budget"
  curl -s https://news.example/a | polibrief capture --html --url https://news.example/a
  polibrief capture --url https://news.example/a
  polibrief capture --feed https://news.example/politics.rss`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(feeds) > 0 || configFeeds {
				return runFeedImport(cmd, feeds, configFeeds)
			}

			p := capture.Payload{URL: url, Title: title}

			body, fromFile, err := readBody(cmd, args)
			if err != nil {
				return err
			}
			if asHTML || strings.HasSuffix(fromFile, ".html") || strings.HasSuffix(fromFile, ".htm") {
				p.HTML = body
			} else {
				p.Text = body
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			item, created, err := a.capturer().Capture(cmd.Context(), p)
			if err != nil {
				return err
			}
			state := "captured"
			if !created {
				state = "duplicate of"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s  %s\n", state, item.ID, item.Title)
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Source URL; fetched when no body is given")
	cmd.Flags().StringVar(&title, "title", "", "Title (default: HTML title or first line)")
	cmd.Flags().BoolVar(&asHTML, "html", false, "Treat the body as HTML")
	cmd.Flags().StringSliceVar(&feeds, "feed", nil, "RSS or Atom feed URL to import (repeatable)")
	cmd.Flags().BoolVar(&configFeeds, "config-feeds", false, "Import the feeds in capture.feeds.urls")

	return cmd
}

func runFeedImport(cmd *cobra.Command, feeds []string, configFeeds bool) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if configFeeds {
		feeds = append(feeds, a.cfg.Capture.Feeds.URLs...)
	}
	if len(feeds) == 0 {
		return fmt.Errorf("no feeds given and capture.feeds.urls is empty")
	}

	results := a.feedImporter(a.capturer()).Import(cmd.Context(), feeds)
	out := cmd.OutOrStdout()
	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
			fmt.Fprintf(out, "%s: error: %s\n", r.Feed, r.Error)
			continue
		}
		fmt.Fprintf(out, "%s: %d captured, %d duplicates, %d skipped, %d failed\n",
			r.Feed, r.Captured, r.Duplicates, r.Skipped, r.Failed)
	}
	if failed == len(results) {
		return fmt.Errorf("all %d feeds failed", failed)
	}
	return nil
}

// readBody returns the body and, for file input, the lower-cased file name.
// Stdin is only read when it is not a terminal or "-" was given explicitly.
func readBody(cmd *cobra.Command, args []string) (string, string, error) {
	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", "", fmt.Errorf("read %s: %w", args[0], err)
		}
		return string(data), strings.ToLower(filepath.Base(args[0])), nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && len(args) == 0 {
		info, err := f.Stat()
		if err != nil || info.Mode()&os.ModeCharDevice != 0 {
			return "", "", nil
		}
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), "", nil
}
