package env_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/aquario/internal/browser"
	"github.com/xkilldash9x/aquario/internal/browser/browsertest"
	"github.com/xkilldash9x/aquario/internal/config"
	"github.com/xkilldash9x/aquario/internal/env"
)

func setupBrowser(t *testing.T) (*browser.Launcher, config.BrowserConfig) {
	t.Helper()
	execPath := browsertest.RequireChrome(t)
	bcfg := browsertest.BrowserConfig(execPath)
	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))

	l, err := browser.NewLauncher(context.Background(), bcfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = l.Shutdown(ctx)
	})
	return l, bcfg
}

func TestAquarEnv_Browser(t *testing.T) {
	l, bcfg := setupBrowser(t)
	srv := browsertest.NewGameServer(t)
	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	open := func(t *testing.T, variant, path string) *env.AquarEnv {
		t.Helper()
		g := gameConfig(t, variant)
		g.URL = srv.URL + path
		g.SettleDelay = 100 * time.Millisecond
		g.KeyHold = 50 * time.Millisecond
		g.ScoreTimeout = 5 * time.Second
		e, err := env.Open(ctx, l, bcfg, g, logger)
		require.NoError(t, err)
		t.Cleanup(func() { _ = e.Close(context.Background()) })
		return e
	}

	t.Run("simple", func(t *testing.T) {
		e := open(t, config.VariantSimple, "/")
		obs, _, err := e.Reset(ctx)
		require.NoError(t, err)
		assert.True(t, e.ObservationSpace().Contains(obs))

		res, err := e.Step(ctx, 0) // ArrowUp scores one point.
		require.NoError(t, err)
		assert.Equal(t, 0.0, res.Reward)
		assert.Equal(t, 1, res.Info["score"])
		assert.False(t, res.Terminated)

		res, err = e.Step(ctx, 4) // A click scores five.
		require.NoError(t, err)
		assert.Equal(t, 4.0, res.Reward)
		assert.Greater(t, res.Observation.At(3, 42, 42), res.Observation.At(0, 42, 42), "background brightens with the score")

		res, err = e.Step(ctx, 1) // ArrowDown ends the round.
		require.NoError(t, err)
		assert.True(t, res.Terminated)
	})

	t.Run("login", func(t *testing.T) {
		e := open(t, config.VariantLogin, "/")
		_, info, err := e.Reset(ctx)
		require.NoError(t, err)
		assert.Empty(t, info)
		assert.Equal(t, 0, e.Score())
		assert.NotEmpty(t, e.Nickname())

		res, err := e.Step(ctx, 1) // Holding w scores one point.
		require.NoError(t, err)
		assert.Equal(t, 0.0, res.Reward)

		res, err = e.Step(ctx, 3)
		require.NoError(t, err)
		assert.True(t, res.Terminated)
	})

	t.Run("login without clan", func(t *testing.T) {
		e := open(t, config.VariantLogin, "/noclan")
		_, _, err := e.Reset(ctx)
		assert.ErrorIs(t, err, env.ErrClanNotFound)
	})

	t.Run("isolation", func(t *testing.T) {
		first := open(t, config.VariantSimple, "/")
		second := open(t, config.VariantSimple, "/")
		_, _, err := first.Reset(ctx)
		require.NoError(t, err)
		_, _, err = second.Reset(ctx)
		require.NoError(t, err)

		require.NoError(t, first.Close(ctx))
		res, err := second.Step(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Info["score"])
	})
}
