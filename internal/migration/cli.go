package migration

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
)

// CLI 把迁移操作的结果以人类可读的形式写到 out，供 roadmapflow migrate 子命令使用
type CLI struct {
	migrator Migrator
	out      io.Writer
}

// NewCLI creates a CLI writing to out.
func NewCLI(migrator Migrator, out io.Writer) *CLI {
	return &CLI{migrator: migrator, out: out}
}

// Up 应用全部未执行的迁移
func (c *CLI) Up(ctx context.Context) error {
	return c.apply(ctx, "apply pending migrations", c.migrator.Up)
}

// Down 回滚最近一次迁移
func (c *CLI) Down(ctx context.Context) error {
	return c.apply(ctx, "roll back last migration", c.migrator.Down)
}

// Reset 回滚全部迁移
func (c *CLI) Reset(ctx context.Context) error {
	return c.apply(ctx, "roll back all migrations", c.migrator.DownAll)
}

// Steps n>0 前进 n 步，n<0 回退 |n| 步
func (c *CLI) Steps(ctx context.Context, n int) error {
	return c.apply(ctx, fmt.Sprintf("migrate %+d step(s)", n), func(ctx context.Context) error {
		return c.migrator.Steps(ctx, n)
	})
}

// Goto 迁移到指定版本
func (c *CLI) Goto(ctx context.Context, version uint) error {
	return c.apply(ctx, fmt.Sprintf("migrate to version %d", version), func(ctx context.Context) error {
		return c.migrator.Goto(ctx, version)
	})
}

// Force 只改写版本号并清除 dirty 标记，不执行任何迁移
func (c *CLI) Force(ctx context.Context, version int) error {
	return c.apply(ctx, fmt.Sprintf("force version %d", version), func(ctx context.Context) error {
		return c.migrator.Force(ctx, version)
	})
}

func (c *CLI) apply(ctx context.Context, what string, op func(context.Context) error) error {
	fmt.Fprintf(c.out, "%s...\n", what)
	if err := op(ctx); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return c.Version(ctx)
}

// Version 输出当前版本
func (c *CLI) Version(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	switch {
	case version == 0 && !dirty:
		fmt.Fprintln(c.out, "schema version: none (no migrations applied)")
	case dirty:
		fmt.Fprintf(c.out, "schema version: %d (dirty, fix the failed migration then run force)\n", version)
	default:
		fmt.Fprintf(c.out, "schema version: %d\n", version)
	}
	return nil
}

// Status 列出每个迁移的状态与汇总
func (c *CLI) Status(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("read migration status: %w", err)
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.out, "no migrations found")
		return nil
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATE")
	for _, s := range statuses {
		state := "pending"
		switch {
		case s.Dirty:
			state = "dirty"
		case s.Applied:
			state = "applied"
		}
		fmt.Fprintf(tw, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "\n%d total, %d applied, %d pending\n",
		info.TotalMigrations, info.AppliedMigrations, info.PendingMigrations)
	return nil
}
