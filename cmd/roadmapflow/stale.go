package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/roadmapflow/persistence"
)

// =============================================================================
// ⏰ stale-reviews 命令
// =============================================================================

func newStaleReviewsCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stale-reviews",
		Short: "List tasks waiting for human review longer than the review timeout",
		Long: "List tasks in human_review_pending whose last update is older than\n" +
			"workflow.review_timeout. Nothing is changed; reviewers decide what to do.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("timeout") {
				cfg.Workflow.ReviewTimeout = timeout
			}
			if cfg.Workflow.ReviewTimeout <= 0 {
				return fmt.Errorf("review timeout is not configured; set workflow.review_timeout or --timeout")
			}

			a, err := newApp(cmd.Context(), cfg, zap.NewNop(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			return listStaleReviews(cmd.Context(), a.service, cmd.OutOrStdout(), time.Now())
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Override workflow.review_timeout")
	return cmd
}

// staleLister 由 tasks.Service 实现
type staleLister interface {
	StaleReviews(ctx context.Context) ([]*persistence.Task, error)
}

func listStaleReviews(ctx context.Context, svc staleLister, out io.Writer, now time.Time) error {
	stale, err := svc.StaleReviews(ctx)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		fmt.Fprintln(out, "no stale reviews")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tUSER\tROADMAP\tWAITING")
	for _, t := range stale {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.TaskID, t.UserID, t.RoadmapID, now.Sub(t.UpdatedAt).Truncate(time.Second))
	}
	return tw.Flush()
}
