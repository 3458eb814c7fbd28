package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/aquario/internal/browser"
	"github.com/xkilldash9x/aquario/internal/config"
	"github.com/xkilldash9x/aquario/internal/env"
)

// LauncherFunc starts a browser. Tests substitute fakes.
type LauncherFunc func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (Launcher, error)

// Launcher is the part of browser.Launcher a login task needs.
type Launcher interface {
	browser.PageOpener
	Shutdown(ctx context.Context) error
}

// ChromeLauncher starts a real browser process.
func ChromeLauncher(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (Launcher, error) {
	l, err := browser.NewLauncher(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Launch starts a browser with launch, retrying a failed start up to
// cfg.LaunchRetries times with exponential backoff.
func Launch(ctx context.Context, launch LauncherFunc, cfg config.BrowserConfig, logger *zap.Logger) (Launcher, error) {
	b := backoff.NewExponentialBackOff()
	if cfg.LaunchRetryDelay > 0 {
		b.InitialInterval = cfg.LaunchRetryDelay
	}
	// The retry count bounds the attempts, not the elapsed time.
	b.MaxElapsedTime = 0
	retries := cfg.LaunchRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)

	var l Launcher
	operation := func() error {
		var err error
		l, err = launch(ctx, cfg, logger)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("Browser launch failed, retrying.", zap.Error(err), zap.Duration("backoff", wait))
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	return l, nil
}

// envSession is a logged-in game tab plus the browser that owns it.
type envSession struct {
	env      *env.AquarEnv
	launcher Launcher
	nickname string
}

func (s *envSession) Nickname() string { return s.nickname }

// Close closes the tab before the browser.
func (s *envSession) Close(ctx context.Context) error {
	return errors.Join(s.env.Close(ctx), s.launcher.Shutdown(ctx))
}

// BrowserLogin returns a LoginFunc that gives every task its own browser,
// runs the game's login sequence once and keeps the page open.
func BrowserLogin(launch LauncherFunc, bcfg config.BrowserConfig, gcfg config.GameConfig, logger *zap.Logger) LoginFunc {
	return func(ctx context.Context, seed int64) (Session, error) {
		taskLogger := logger.With(zap.Int64("seed", seed))
		l, err := Launch(ctx, launch, bcfg, taskLogger)
		if err != nil {
			return nil, err
		}

		g := gcfg
		g.Seed = seed
		e, err := env.Open(ctx, l, bcfg, g, taskLogger)
		if err != nil {
			_ = l.Shutdown(browser.Detach(ctx))
			return nil, err
		}

		if _, _, err := e.Reset(ctx); err != nil {
			_ = e.Close(browser.Detach(ctx))
			_ = l.Shutdown(browser.Detach(ctx))
			return nil, err
		}
		return &envSession{env: e, launcher: l, nickname: e.Nickname()}, nil
	}
}
