package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"polibrief/internal/core"
	"polibrief/internal/scheduler"
)

// NewDigestCmd creates the digest command group
func NewDigestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Generate, show and deliver daily digests",
		Long: `A digest covers the flagged items analyzed in the window that ends at the
scheduled time on its date. One digest is stored per date.

Examples:
  polibrief digest generate --date 2026-05-05
  polibrief digest generate --date 2026-05-05 --force
  polibrief digest show --format markdown
  polibrief digest list
  polibrief digest deliver --date 2026-05-05`,
	}

	cmd.AddCommand(newDigestGenerateCmd())
	cmd.AddCommand(newDigestShowCmd())
	cmd.AddCommand(newDigestListCmd())
	cmd.AddCommand(newDigestDeliverCmd())

	return cmd
}

func newDigestGenerateCmd() *cobra.Command {
	var (
		date  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Build and store the digest for a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.scheduler(cmd.Context())
			if err != nil {
				return err
			}
			if date == "" {
				date = time.Now().In(a.cfg.App.Location()).Format(core.DigestDateLayout)
			}

			rec, err := s.GenerateDigest(cmd.Context(), date, scheduler.Options{Force: force})
			if err != nil {
				return err
			}
			// delivery runs in the background; the command waits for it
			s.Wait()

			if stored, err := a.store.GetDigest(cmd.Context(), date); err == nil {
				rec = stored
			}
			printDigestSummary(cmd.OutOrStdout(), rec)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Digest date YYYY-MM-DD (default today in app.timezone)")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing digest for the date")

	return cmd
}

func newDigestShowCmd() *cobra.Command {
	var (
		date   string
		format string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a stored digest",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			var rec *core.DigestRecord
			if date == "" {
				latest, err := store.ListDigests(cmd.Context(), 1)
				if err != nil {
					return err
				}
				if len(latest) == 0 {
					return core.NewNotFound("digest", "latest")
				}
				rec = &latest[0]
			} else if rec, err = store.GetDigest(cmd.Context(), date); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch strings.ToLower(format) {
			case "markdown", "md":
				fmt.Fprint(out, rec.Body)
			case "html":
				fmt.Fprint(out, rec.HTMLBody)
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			case "text":
				printDigestSummary(out, rec)
				for _, c := range rec.Clusters {
					fmt.Fprintf(out, "\n%d. %s  (importance %.3f, %d items)\n", c.Rank, c.Label, c.Importance, len(c.References))
					for _, ref := range c.References {
						fmt.Fprintf(out, "   - [%s q%d] %s\n", ref.BiasLabel, ref.Quality, ref.Title)
					}
				}
			default:
				return fmt.Errorf("unknown format %q (want text, markdown, html or json)", format)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Digest date YYYY-MM-DD (default latest)")
	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "Output format (text, markdown, html, json)")

	return cmd
}

func newDigestListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored digests, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			digests, err := store.ListDigests(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(digests) == 0 {
				fmt.Fprintln(out, "No digests yet")
				return nil
			}
			fmt.Fprintf(out, "%-12s %-9s %-9s %-9s %s\n", "Date", "Clusters", "Flagged", "Items", "Delivery")
			for _, d := range digests {
				fmt.Fprintf(out, "%-12s %-9d %-9d %-9d %s\n", d.DigestDate, len(d.Clusters), d.PoliticalItemsCount, d.ItemsConsidered, d.DeliveryStatus)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 14, "Maximum digests to list")

	return cmd
}

func newDigestDeliverCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "deliver",
		Short: "Send a stored digest to the configured channels again",
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				return fmt.Errorf("--date is required")
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.scheduler(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := s.Redeliver(cmd.Context(), date)
			if rec != nil {
				printDigestSummary(cmd.OutOrStdout(), rec)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Digest date YYYY-MM-DD")

	return cmd
}

func printDigestSummary(w io.Writer, rec *core.DigestRecord) {
	fmt.Fprintf(w, "Digest %s: %d clusters from %d flagged of %d captured items\n",
		rec.DigestDate, len(rec.Clusters), rec.PoliticalItemsCount, rec.ItemsConsidered)
	fmt.Fprintf(w, "  window:   %s .. %s\n", rec.WindowStart.Format(time.RFC3339), rec.WindowEnd.Format(time.RFC3339))
	fmt.Fprintf(w, "  delivery: %s\n", rec.DeliveryStatus)
}
