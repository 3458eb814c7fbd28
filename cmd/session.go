package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/aquario/internal/browser"
	"github.com/xkilldash9x/aquario/internal/config"
	"github.com/xkilldash9x/aquario/internal/env"
	"github.com/xkilldash9x/aquario/internal/pool"
)

// openEnv starts a browser and opens one game tab in it.
func openEnv(ctx context.Context, deps dependencies, cfg *config.Config, logger *zap.Logger) (*env.AquarEnv, pool.Launcher, error) {
	l, err := pool.Launch(ctx, deps.launch, cfg.Browser, logger)
	if err != nil {
		return nil, nil, err
	}
	e, err := env.Open(ctx, l, cfg.Browser, cfg.Game, logger)
	if err != nil {
		closeAll(ctx, logger, l)
		return nil, nil, err
	}
	return e, l, nil
}

// closeAll closes the environments, then the browser that hosts them.
func closeAll(ctx context.Context, logger *zap.Logger, l pool.Launcher, envs ...env.Environment) {
	ctx = browser.Detach(ctx)
	for _, e := range envs {
		if err := e.Close(ctx); err != nil {
			logger.Warn("Failed to close environment.", zap.Error(err))
		}
	}
	if l == nil {
		return
	}
	if err := l.Shutdown(ctx); err != nil {
		logger.Warn("Failed to shut down browser.", zap.Error(err))
	}
}

// actionName returns the meaning of action, or its number when unnamed.
func actionName(space env.Discrete, action int) string {
	if action >= 0 && action < len(space.Meanings) && space.Meanings[action] != "" {
		return space.Meanings[action]
	}
	return fmt.Sprintf("%d", action)
}
