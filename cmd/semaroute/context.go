package main

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/semantrix/semaroute-router/internal/config"
	"github.com/semantrix/semaroute-router/internal/observability"
	"github.com/semantrix/semaroute-router/internal/server"
)

type commandContext struct {
	configFlag *string
	envFlag    *string
	verbose    *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, envFlag *string, verbose *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		envFlag:    envFlag,
		verbose:    verbose,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path, envFile string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		if c.envFlag != nil {
			envFile = strings.TrimSpace(*c.envFlag)
		}
		var envFiles []string
		if envFile != "" {
			envFiles = append(envFiles, envFile)
		}
		c.config, c.configErr = config.Load(path, envFiles...)
	})
	return c.config, c.configErr
}

// withRuntime bootstraps the router for a one-shot command. Logs are
// discarded unless --verbose is set so they do not mix with the output.
func (c *commandContext) withRuntime(ctx context.Context, fn func(rt *server.Runtime) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	if c.verbose != nil && *c.verbose {
		if logger, err = observability.NewLogger(cfg.Observability.Logging); err != nil {
			return err
		}
	}

	rt, err := server.BootstrapWithLogger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = rt.Close(context.WithoutCancel(ctx))
		observability.SyncLogger(logger)
	}()
	return fn(rt)
}
