package handlers

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"polibrief/internal/pipeline"
)

// NewClassifyCmd creates the classify command
func NewClassifyCmd() *cobra.Command {
	var (
		id       string
		force    bool
		category string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify pending items and analyze the political ones",
		Long: `Classify pending items through the provider fallback chain. Items left in
processing by an interrupted run are picked up again. Accepted items in the
flagged category are analyzed for bias, quality and summaries.

With --id a single item is processed. Items already in a terminal status
need --force. --category sets the category by hand, which resolves items
waiting in manual review.

Examples:
  polibrief classify
  polibrief classify --limit 20
  polibrief classify --id 3f2a... --force
  polibrief classify --id 3f2a... --category political`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" && (force || category != "") {
				return fmt.Errorf("--force and --category need --id")
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.pipeline(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			switch {
			case category != "":
				o, err := p.Override(cmd.Context(), id, category)
				if err != nil {
					return err
				}
				printOutcome(out, o)
			case id != "":
				item, err := a.store.GetContent(cmd.Context(), id)
				if err != nil {
					return err
				}
				if item.Status.Terminal() && !force {
					return fmt.Errorf("item %s is %s; use --force to classify it again", id, item.Status)
				}
				o, err := p.Reprocess(cmd.Context(), id)
				printOutcome(out, o)
				if err != nil {
					return err
				}
			default:
				stats, err := p.ProcessPending(cmd.Context(), limit)
				printStats(out, stats)
				if err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Process a single item")
	cmd.Flags().BoolVar(&force, "force", false, "Re-classify an item in a terminal status")
	cmd.Flags().StringVar(&category, "category", "", "Set the category of --id by hand")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum items per run (default workers.batch_size)")

	return cmd
}

func printOutcome(w io.Writer, o pipeline.Outcome) {
	if o.Decision == "" {
		return
	}
	fmt.Fprintf(w, "%s  %s", o.ItemID, o.Decision)
	if o.Category != "" {
		fmt.Fprintf(w, "  category=%s", o.Category)
	}
	if a := o.Analysis; a != nil {
		fmt.Fprintf(w, "  bias=%s quality=%d credibility=%.1f", a.BiasLabel, a.QualityScore, a.CredibilityScore)
	}
	fmt.Fprintln(w)
}

func printStats(w io.Writer, s pipeline.ProcessingStats) {
	fmt.Fprintf(w, "Processed %d items in %s\n", s.Total, s.ProcessingTime.Round(time.Millisecond))
	fmt.Fprintf(w, "  accepted:        %d\n", s.Accepted)
	fmt.Fprintf(w, "  manual review:   %d\n", s.ManualReview)
	fmt.Fprintf(w, "  failed:          %d\n", s.Failed)
	fmt.Fprintf(w, "  skipped:         %d\n", s.Skipped)
	fmt.Fprintf(w, "  analyzed:        %d\n", s.Analyzed)
	if n := s.AnalysisFailed + s.Errors; n > 0 {
		fmt.Fprintf(w, "  errors:          %d\n", n)
	}
}
