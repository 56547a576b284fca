package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"fleettag/pkg/bus"
	"fleettag/pkg/engine"
	"fleettag/pkg/fanout"
	"fleettag/pkg/metrics"
	"fleettag/pkg/portal"
	"fleettag/pkg/render"
	gos3 "fleettag/pkg/s3"
	"fleettag/pkg/telemetry"
	"fleettag/services/tagger"
	"fleettag/services/tagger/internal/config"
)

const serviceName = "fleettag"

func newRunCommand(opts *rootOptions) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every tag file in the configured tags directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTagging(commandContext(cmd), cmd, opts, strict)
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when any tag file fails")
	return cmd
}

func runTagging(ctx context.Context, cmd *cobra.Command, opts *rootOptions, strict bool) error {
	cfg, err := config.Load(ctx, opts.configPath)
	if err != nil {
		return err
	}

	runID := uuid.New()
	stamp := time.Now().Format(tagger.StampLayout)

	logger, closeLog, err := telemetry.NewLogger(telemetry.LogOptions{
		Service: serviceName,
		Dir:     cfg.Paths.Logs,
		Stamp:   stamp,
		Verbose: opts.verbose,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	shutdown, err := telemetry.Init(ctx, serviceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown tracing")
		}
	}()

	m := metrics.New()
	runner, closeRunner, err := buildRunner(ctx, cfg, logger, m, runID, stamp)
	if err != nil {
		return err
	}
	defer closeRunner()

	summary, err := runner.Run(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("run aborted")
		return err
	}

	if cfg.Metrics.Textfile != "" {
		if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Warn().Err(err).Str("path", cfg.Metrics.Textfile).Msg("write metrics textfile")
		}
	}

	r, err := render.New()
	if err != nil {
		return err
	}
	out, err := r.Render(render.Summary, summary)
	if err != nil {
		return fmt.Errorf("render summary: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), out)

	if strict && summary.Failed() > 0 {
		return fmt.Errorf("%d of %d tag files failed", summary.Failed(), len(summary.Files))
	}
	return ctx.Err()
}

// buildRunner wires the clients named by cfg. The returned func releases the
// event bus when one was configured.
func buildRunner(ctx context.Context, cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics, runID uuid.UUID, stamp string) (*tagger.Runner, func(), error) {
	noop := func() {}

	creds, err := cfg.CredentialsValue()
	if err != nil {
		return nil, noop, err
	}
	portalClient, err := newPortalClient(cfg, creds)
	if err != nil {
		return nil, noop, err
	}
	engineClient, err := engine.NewClient(creds, engine.Options{
		Port:               cfg.Engine.Port,
		Timeout:            cfg.Engine.Timeout,
		HumanReadable:      cfg.Engine.HumanReadable,
		InsecureSkipVerify: cfg.Engine.InsecureSkipVerify,
	})
	if err != nil {
		return nil, noop, err
	}

	exec, err := fanout.NewExecutor(engineClient,
		fanout.WithWorkers(cfg.Fanout.Workers),
		fanout.WithLogger(logger),
		fanout.WithMetrics(m),
	)
	if err != nil {
		return nil, noop, err
	}
	orch, err := tagger.NewOrchestrator(exec, cfg,
		tagger.WithSettle(cfg.Tagger.Settle),
		tagger.WithFailOnUnreachable(cfg.Tagger.FailOnUnreachable),
		tagger.WithOrchestratorLogger(logger),
	)
	if err != nil {
		return nil, noop, err
	}

	runnerCfg := tagger.RunnerConfig{
		Discoverer:   portalClient,
		Orchestrator: orch,
		Metrics:      m,
		Logger:       logger,
		TagsDir:      cfg.Paths.Tags,
		Stamp:        stamp,
		RunID:        runID,
	}

	closeFn := noop
	if cfg.Bus.URL != "" {
		b, err := bus.New(cfg.Bus.URL, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("connect bus: %w", err)
		}
		if err := b.EnsureStream(); err != nil {
			b.Close()
			return nil, noop, err
		}
		runnerCfg.Publisher = b
		closeFn = b.Close
	}

	if cfg.S3.Bucket != "" {
		s3Client, err := gos3.NewClientFromEnv(ctx)
		if err != nil {
			closeFn()
			return nil, noop, fmt.Errorf("s3 client: %w", err)
		}
		archiver, err := tagger.NewArchiver(s3Client, cfg.S3.Bucket, cfg.S3.Prefix)
		if err != nil {
			closeFn()
			return nil, noop, err
		}
		runnerCfg.Archiver = archiver
	}

	runner, err := tagger.NewRunner(runnerCfg)
	if err != nil {
		closeFn()
		return nil, noop, err
	}
	return runner, closeFn, nil
}

func newPortalClient(cfg *config.Config, creds engine.Credentials) (*portal.Client, error) {
	return portal.NewClient(cfg.Portal.Address, cfg.Portal.Port, creds,
		engine.NewHTTPClient(cfg.Engine.Timeout, cfg.Engine.InsecureSkipVerify))
}
