// =============================================================================
// RoadmapFlow 主入口
// =============================================================================
// 课程生成工作流服务：HTTP API、作业 worker、数据库迁移与运维命令
//
// 使用方法:
//
//	roadmapflow serve                         # 启动 API（内存队列时内置 worker）
//	roadmapflow serve --config config.yaml    # 指定配置文件
//	roadmapflow worker                        # 仅运行作业 worker
//	roadmapflow migrate up                    # 运行数据库迁移
//	roadmapflow stale-reviews                 # 列出审核超时的任务
//	roadmapflow version                       # 显示版本信息
// =============================================================================

// @title RoadmapFlow API
// @version 1.0.0
// @description Curriculum generation workflow with human review checkpoints.

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Reviewer JWT: "Bearer <token>"

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/BaSui01/roadmapflow/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions 所有子命令共享的全局参数
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "roadmapflow",
		Short:         "Curriculum generation workflow service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to config file (YAML)")

	root.AddCommand(
		newServeCmd(opts),
		newWorkerCmd(opts),
		newMigrateCmd(opts),
		newStaleReviewsCmd(opts),
		newResumeCmd(opts),
		newVersionCmd(),
	)
	return root
}

// loader 返回按全局参数配置好的加载器
func (o *rootOptions) loader() *config.Loader {
	l := config.NewLoader()
	if o.configPath != "" {
		l = l.WithConfigPath(o.configPath)
	}
	return l
}

func (o *rootOptions) load() (*config.Loader, *config.Config, error) {
	l := o.loader()
	cfg, err := l.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return l, cfg, nil
}

// =============================================================================
// 📋 version 命令
// =============================================================================

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "RoadmapFlow %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}
