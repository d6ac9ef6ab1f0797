package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/roadmapflow/persistence"
)

// =============================================================================
// 🔁 resume 命令
// =============================================================================

func newResumeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume TASK_ID...",
		Short: "Re-queue failed tasks from their latest checkpoint",
		Long: "Move failed tasks back to pending and enqueue them again. A worker\n" +
			"re-runs the stage that failed; finished stages are not repeated.\n" +
			"Requires queue.backend=redis so a worker process picks the jobs up.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Queue.Backend != "redis" {
				return fmt.Errorf("resume requires queue.backend=redis, got %q", cfg.Queue.Backend)
			}

			a, err := newApp(cmd.Context(), cfg, zap.NewNop(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			return resumeTasks(cmd.Context(), a.service, cmd.OutOrStdout(), args)
		},
	}
}

// taskResumer 由 tasks.Service 实现
type taskResumer interface {
	Resume(ctx context.Context, taskID string) (*persistence.Task, error)
}

// resumeTasks 逐个恢复，全部尝试后返回第一个错误
func resumeTasks(ctx context.Context, svc taskResumer, out io.Writer, ids []string) error {
	var first error
	for _, id := range ids {
		task, err := svc.Resume(ctx, id)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", id, err)
			if first == nil {
				first = err
			}
			continue
		}
		fmt.Fprintf(out, "%s: %s (step %s)\n", task.TaskID, task.Status, task.CurrentStep)
	}
	return first
}
