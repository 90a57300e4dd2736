package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fanyang89/sql-insight/internal/config"
	"github.com/fanyang89/sql-insight/internal/logger"
	"github.com/fanyang89/sql-insight/internal/mcp"
	"github.com/fanyang89/sql-insight/internal/scheduler"
)

func newMCPCmd(opts *globalOptions) *cobra.Command {
	flags := &collectFlags{}

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start Model Context Protocol (MCP) server",
		Long: `Starts a JSON-RPC server implementing the Model Context Protocol (MCP).
This allows AI agents to run collections, negotiate levels and fingerprint
SQL through sqlinsight.

Communication happens over standard input/output (stdio), so logs go to
stderr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, warnings, err := loadConfig(opts.configPath, nil, func(c *config.Config) error {
				return flags.apply(cmd.Flags(), c)
			})
			if err != nil {
				return err
			}
			logCfg := opts.logConfig(cfg.Log)
			logCfg.Output = "stderr"
			if err := logger.Init(logCfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := mcp.NewServer(version, collectFunc(cfg, warnings))
			return srv.Start(ctx)
		},
	}
	flags.registerCollector(cmd.Flags())
	return cmd
}

// collectFunc runs one scheduler cycle per call over a copy of base.
func collectFunc(base config.Config, warnings []string) mcp.CollectFunc {
	return func(ctx context.Context, engine, level string) (any, error) {
		cfg := base
		if engine != "" {
			cfg.Engine = engine
		}
		if level != "" {
			cfg.Policy.PreferredLevel = level
		}
		cfg.Schedule.Mode = scheduler.ModeOnce
		cfg.Schedule.MaxCycles = nil
		if err := cfg.Validate(); err != nil {
			return nil, err
		}

		s, err := newScheduler(cfg, warnings)
		if err != nil {
			return nil, err
		}
		var rec payloadRecord
		err = s.Run(ctx, func(r payloadRecord) error {
			rec = r
			return nil
		})
		return rec, err
	}
}
