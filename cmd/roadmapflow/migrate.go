package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/roadmapflow/internal/migration"
)

// =============================================================================
// 🗄️ migrate 命令
// =============================================================================

type migrateOptions struct {
	root   *rootOptions
	dbType string
	dbURL  string
}

func newMigrateCmd(root *rootOptions) *cobra.Command {
	o := &migrateOptions{root: root}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the catalog database schema",
		Example: `  roadmapflow migrate up
  roadmapflow migrate status --config /etc/roadmapflow/config.yaml
  roadmapflow migrate goto 1
  roadmapflow migrate force 1 --db-type sqlite --db-url "sqlite://roadmapflow.db"`,
	}
	cmd.PersistentFlags().StringVar(&o.dbType, "db-type", "", "Database type: postgres, mysql, sqlite (default: from config)")
	cmd.PersistentFlags().StringVar(&o.dbURL, "db-url", "", "Database URL; requires --db-type (default: from config)")

	cmd.AddCommand(
		o.simple("up", "Apply all pending migrations", (*migration.CLI).Up),
		o.simple("down", "Roll back the last migration", (*migration.CLI).Down),
		o.simple("reset", "Roll back all migrations", (*migration.CLI).Reset),
		o.simple("status", "Show the state of every migration", (*migration.CLI).Status),
		o.simple("version", "Show the current schema version", (*migration.CLI).Version),
		&cobra.Command{
			Use:   "steps N",
			Short: "Apply N migrations, or roll back when N is negative",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid step count %q: %w", args[0], err)
				}
				return o.run(cmd, func(c *migration.CLI) error { return c.Steps(cmd.Context(), n) })
			},
		},
		&cobra.Command{
			Use:   "goto VERSION",
			Short: "Migrate up or down to VERSION",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return o.run(cmd, func(c *migration.CLI) error { return c.Goto(cmd.Context(), uint(v)) })
			},
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Set VERSION and clear the dirty flag without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return o.run(cmd, func(c *migration.CLI) error { return c.Force(cmd.Context(), v) })
			},
		},
	)
	return cmd
}

// simple 无参数子命令
func (o *migrateOptions) simple(use, short string, fn func(*migration.CLI, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(c *migration.CLI) error { return fn(c, cmd.Context()) })
		},
	}
}

func (o *migrateOptions) run(cmd *cobra.Command, fn func(*migration.CLI) error) error {
	m, err := o.migrator()
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(migration.NewCLI(m, cmd.OutOrStdout()))
}

// migrator 优先使用 --db-type/--db-url，否则读取配置文件
func (o *migrateOptions) migrator() (*migration.DefaultMigrator, error) {
	if o.dbURL != "" {
		if o.dbType == "" {
			return nil, fmt.Errorf("--db-url requires --db-type")
		}
		return migration.NewMigratorFromURL(o.dbType, o.dbURL)
	}

	_, cfg, err := o.root.load()
	if err != nil {
		return nil, err
	}
	if o.dbType != "" {
		cfg.Database.Driver = o.dbType
	}
	logger, _, err := initLogger(cfg.Log)
	if err != nil {
		logger = zap.NewNop()
	}
	return migration.NewMigratorFromConfig(cfg, logger)
}
