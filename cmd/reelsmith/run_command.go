package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"reelsmith/internal/api"
	"reelsmith/internal/config"
	"reelsmith/internal/deps"
	"reelsmith/internal/jobs"
	"reelsmith/internal/logging"
	"reelsmith/internal/media"
	"reelsmith/internal/redisconn"
	"reelsmith/internal/resilience"
	"reelsmith/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var workers int
	var noAPI bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run pipeline workers and the control API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if workers > 0 {
				cfg.Workflow.Workers = workers
			}
			logger, err := ctx.logger()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if missing := deps.Missing(deps.CheckBinaries(deps.Requirements(cfg))); len(missing) > 0 {
				names := make([]string, 0, len(missing))
				for _, m := range missing {
					names = append(names, fmt.Sprintf("%s (%s)", m.Name, m.Detail))
				}
				return fmt.Errorf("missing required tools: %s", strings.Join(names, ", "))
			}

			client, err := ctx.redisClient(runCtx)
			if err != nil {
				return err
			}
			defer client.Close()
			store := ctx.jobStore(client)

			p, err := buildPipeline(runCtx, cfg, client, store, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := p.Close(); err != nil {
					logger.Warn("pipeline close failed", logging.Error(err))
				}
			}()

			manager := p.newManager(logger)
			if err := manager.Start(runCtx); err != nil {
				return err
			}
			defer manager.Stop()

			apiErr := make(chan error, 1)
			if cfg.API.Enabled && !noAPI {
				srv, err := newAPIServer(cfg, client, store, manager, logger)
				if err != nil {
					return err
				}
				go func() { apiErr <- srv.Run(runCtx) }()
			}

			logger.Info("reelsmith running",
				logging.String("owner", manager.Owner()),
				logging.Int("workers", cfg.Workflow.Workers),
				logging.Bool("api", cfg.API.Enabled && !noAPI),
				logging.String(logging.FieldEventType, "daemon_started"),
			)
			select {
			case <-runCtx.Done():
			case err := <-apiErr:
				if err != nil {
					return fmt.Errorf("api server: %w", err)
				}
			}
			logger.Info("reelsmith shutting down", logging.String(logging.FieldEventType, "daemon_stopping"))
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "Override the number of pipeline workers")
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "Do not serve the HTTP control API")
	return cmd
}

func newAPIServer(cfg *config.Config, client *redis.Client, store *jobs.Store, manager *workflow.Manager, logger *slog.Logger) (*api.Server, error) {
	if !strings.EqualFold(cfg.Logging.Level, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	limiter := resilience.NewRateLimiter(client, resilience.RateLimitOptions{
		Prefix:    redisconn.NewKeys(cfg.Redis.KeyPrefix).RateLimit(),
		Limit:     cfg.RateLimit.APIRequests,
		Window:    cfg.RateWindow(),
		FailOpen:  cfg.RateLimit.FailOpen,
		OpTimeout: cfg.RedisOpTimeout(),
		Logger:    logger,
	})
	return api.NewServer(api.Options{
		Bind:     cfg.API.Bind,
		Token:    cfg.API.Token,
		Jobs:     api.NewJobService(store, media.TargetFromConfig(cfg.Target)),
		Workflow: manager,
		Limiter:  limiter,
		Logger:   logger,
	})
}

