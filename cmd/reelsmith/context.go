package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"reelsmith/internal/api"
	"reelsmith/internal/config"
	"reelsmith/internal/jobs"
	"reelsmith/internal/logging"
	"reelsmith/internal/media"
	"reelsmith/internal/redisconn"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) logger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.NewFromConfig(cfg)
}

// redisClient opens the shared Redis connection.
func (c *commandContext) redisClient(ctx context.Context) (*redis.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	client, err := redisconn.Open(ctx, cfg.Redis, cfg.RedisOpTimeout())
	if err != nil {
		return nil, fmt.Errorf("connect to job store: %w", err)
	}
	return client, nil
}

func (c *commandContext) jobStore(client redis.UniversalClient) *jobs.Store {
	cfg := c.configValue()
	return jobs.NewStore(client, redisconn.NewKeys(cfg.Redis.KeyPrefix), cfg.JobTTL(), cfg.RedisOpTimeout())
}

// withJobs runs fn against the job service backed by the configured Redis.
func (c *commandContext) withJobs(cmd *cobra.Command, fn func(context.Context, *api.JobService) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := c.redisClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	svc := api.NewJobService(c.jobStore(client), media.TargetFromConfig(c.configValue().Target))
	return fn(ctx, svc)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
