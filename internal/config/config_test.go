// File: internal/config/config_test.go
package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, []string{"--no-sandbox", "--disable-setuid-sandbox"}, cfg.Browser.Args)
	assert.Equal(t, 60*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 2*time.Second, cfg.Browser.PostLoadWait)
	assert.Equal(t, 2, cfg.Browser.LaunchRetries)
	assert.Equal(t, time.Second, cfg.Browser.LaunchRetryDelay)

	assert.Equal(t, "https://aquar.io", cfg.Game.URL)
	assert.Equal(t, VariantSimple, cfg.Game.Variant)
	assert.Equal(t, 84, cfg.Game.FrameWidth)
	assert.Equal(t, 84, cfg.Game.FrameHeight)
	assert.Equal(t, 4, cfg.Game.FrameStack)
	assert.Equal(t, 100*time.Millisecond, cfg.Game.SettleDelay)
	assert.Equal(t, 50*time.Millisecond, cfg.Game.KeyHold)
	assert.Zero(t, cfg.Game.KeyHoldJitter)
	assert.Equal(t, "#score", cfg.Game.Selectors.Score)
	assert.Equal(t, "GARAY CLAN", cfg.Game.Login.Clan)
	assert.Empty(t, cfg.Game.Start, "strategy fields default to the variant preset")

	assert.Equal(t, 20, cfg.Pool.Sessions)
	assert.Equal(t, 12, cfg.Pool.Workers)
	assert.True(t, cfg.Pool.KeepOpen)

	assert.Equal(t, 1_000_000, cfg.Train.TotalTimesteps)
	assert.Equal(t, 100_000, cfg.Train.BufferSize)
	assert.Equal(t, 5_000, cfg.Train.LearningStarts)
	assert.Equal(t, 32, cfg.Train.BatchSize)
	assert.InDelta(t, 0.99, cfg.Train.Gamma, 1e-9)
	assert.Equal(t, 50_000, cfg.Train.EvalFreq)
	assert.InDelta(t, 500.0, cfg.Train.RewardThreshold, 1e-9)
	assert.Equal(t, "best_model/best_model.zip", cfg.Infer.ModelPath)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Defaults Are Valid", func(t *testing.T) {
		cfg := NewDefaultConfig()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("Variant Is Normalized", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Game.Variant = "  LOGIN "
		require.NoError(t, cfg.Validate())
		assert.Equal(t, VariantLogin, cfg.Game.Variant)
	})

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"Unknown Variant", func(c *Config) { c.Game.Variant = "arcade" }, "game.variant must be"},
		{"Missing URL", func(c *Config) { c.Game.URL = "" }, "game.url is required"},
		{"Zero Frame Size", func(c *Config) { c.Game.FrameWidth = 0 }, "game.frame_width"},
		{"Zero Stack", func(c *Config) { c.Game.FrameStack = 0 }, "game.frame_stack"},
		{"Zero Workers", func(c *Config) { c.Pool.Workers = 0 }, "pool.workers must be a positive integer"},
		{"Negative Sessions", func(c *Config) { c.Pool.Sessions = -1 }, "pool.sessions"},
		{"Gamma Out Of Range", func(c *Config) { c.Train.Gamma = 1.5 }, "train.gamma"},
		{"Small Buffer", func(c *Config) { c.Train.BufferSize = 4 }, "train.buffer_size"},
		{"Inverted Exploration", func(c *Config) { c.Train.ExplorationFinal = 0.9; c.Train.ExplorationInitial = 0.1 }, "train.exploration_"},
		{"No Launch Timeout", func(c *Config) { c.Browser.LaunchTimeout = 0 }, "browser.launch_timeout"},
		{"Negative Launch Retries", func(c *Config) { c.Browser.LaunchRetries = -1 }, "browser.launch_retries"},
		{"Jitter Above One", func(c *Config) { c.Game.KeyHoldJitter = 1.5 }, "game.key_hold_jitter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
game:
  variant: login
  score_timeout: 20s
  login:
    clan: "OTHER CLAN"
pool:
  sessions: 5
  workers: 2
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, VariantLogin, cfg.Game.Variant)
		assert.Equal(t, 20*time.Second, cfg.Game.ScoreTimeout)
		assert.Equal(t, "OTHER CLAN", cfg.Game.Login.Clan)
		assert.Equal(t, "Teams", cfg.Game.Login.Mode, "unset keys keep their defaults")
		assert.Equal(t, 5, cfg.Pool.Sessions)
		assert.Equal(t, 2, cfg.Pool.Workers)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("pool.workers", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "pool.workers must be a positive integer")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBufferString(`
database:
  url: "postgres://configfile/db"
`)))

		testDBURL := "postgres://envvar/db"
		t.Setenv("AQUARIO_DATABASE_URL", testDBURL)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, testDBURL, cfg.Database.URL)
	})

	t.Run("Home Directory Expansion", func(t *testing.T) {
		home, err := homedir.Dir()
		if err != nil {
			t.Skip("no home directory available")
		}

		v := viper.New()
		SetDefaults(v)
		v.Set("train.model_dir", "~/models")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "models"), cfg.Train.ModelDir)
		assert.Equal(t, "logs", cfg.Train.LogDir, "relative paths are untouched")
	})
}
