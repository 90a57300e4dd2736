package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fanyang89/sql-insight/internal/config"
	"github.com/fanyang89/sql-insight/internal/logger"
	"github.com/fanyang89/sql-insight/internal/model"
	"github.com/fanyang89/sql-insight/internal/orchestrator"
	"github.com/fanyang89/sql-insight/internal/output"
	"github.com/fanyang89/sql-insight/internal/scheduler"
	"github.com/fanyang89/sql-insight/internal/sink"
)

type payloadRecord = scheduler.Record[model.Payload]

func newCollectCmd(opts *globalOptions) *cobra.Command {
	flags := &collectFlags{}

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect diagnostics and emit one record per cycle",
		Long: `Run the collection scheduler. In once mode a single cycle runs; in daemon
mode cycles repeat at the jittered interval until --max-cycles or a signal.
SIGINT/SIGTERM stops the loop after the current cycle.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, warnings, err := loadConfig(opts.configPath, nil, func(c *config.Config) error {
				return flags.apply(cmd.Flags(), c)
			})
			if err != nil {
				return err
			}
			if err := logger.Init(opts.logConfig(cfg.Log)); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runCollect(ctx, cfg, warnings)
		},
	}
	flags.registerCollector(cmd.Flags())
	flags.registerSchedule(cmd.Flags())
	return cmd
}

// newScheduler wires an orchestrator for cfg into a scheduler.
func newScheduler(cfg config.Config, warnings []string) (*scheduler.Scheduler[model.Payload], error) {
	orchCfg, err := orchestrator.FromConfig(cfg, warnings)
	if err != nil {
		return nil, err
	}
	orch, err := orchestrator.New(orchCfg)
	if err != nil {
		return nil, err
	}
	return scheduler.New(cfg.Schedule, orch.Operation(), scheduler.Options[model.Payload]{
		Engine:         cfg.Engine,
		RequestedLevel: orchCfg.Policy.Target().String(),
		Annotate:       orchestrator.Annotate,
	}), nil
}

// openSinks opens the writer sink and, when configured, the NATS sink. A
// NATS connect failure is logged and collection proceeds without it.
func openSinks(cfg config.Config) (sink.Sink, error) {
	w, err := sink.OpenWriter(cfg.Output.Path, output.IsPretty(cfg.Output.Format))
	if err != nil {
		return nil, err
	}
	if cfg.NATS.URL == "" {
		return w, nil
	}
	n, err := sink.ConnectNATS(cfg.NATS.URL, cfg.NATS.Subject)
	if err != nil {
		log := logger.WithComponent("sink")
		log.Warn().Err(err).Msg("NATS sink disabled")
		return w, nil
	}
	return sink.Multi{w, n}, nil
}

func runCollect(ctx context.Context, cfg config.Config, warnings []string) error {
	log := logger.GetLogger()
	for _, w := range warnings {
		log.Warn().Str("scope", "config").Str("warning", w).Msg("configuration adjusted")
	}

	s, err := newScheduler(cfg, warnings)
	if err != nil {
		return err
	}
	out, err := openSinks(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Warn().Err(err).Msg("closing sinks")
		}
	}()

	log.Info().
		Str("run_id", s.RunID()).
		Str("engine", cfg.Engine).
		Str("mode", string(cfg.Schedule.Mode)).
		Msg("starting collection run")

	emitCtx := context.WithoutCancel(ctx)
	return s.Run(ctx, func(rec payloadRecord) error {
		return out.Emit(emitCtx, rec)
	})
}
