// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Game variants understood by the environment presets.
const (
	VariantSimple = "simple"
	VariantLogin  = "login"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Game     GameConfig     `mapstructure:"game" yaml:"game"`
	Pool     PoolConfig     `mapstructure:"pool" yaml:"pool"`
	Train    TrainConfig    `mapstructure:"train" yaml:"train"`
	Infer    InferConfig    `mapstructure:"infer" yaml:"infer"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL disables persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig holds settings for the browser process and its tabs.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	LaunchTimeout     time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	LaunchRetries     int           `mapstructure:"launch_retries" yaml:"launch_retries"`
	LaunchRetryDelay  time.Duration `mapstructure:"launch_retry_delay" yaml:"launch_retry_delay"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	// RecordDir enables screencast capture of every tab when set.
	RecordDir string `mapstructure:"record_dir" yaml:"record_dir"`
}

// ViewportConfig is a tab's CSS pixel size. Zero values defer to the variant preset.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// SelectorConfig names the page elements the environment interacts with.
type SelectorConfig struct {
	Loading    string `mapstructure:"loading" yaml:"loading"`
	Play       string `mapstructure:"play" yaml:"play"`
	Score      string `mapstructure:"score" yaml:"score"`
	GameOver   string `mapstructure:"game_over" yaml:"game_over"`
	Nickname   string `mapstructure:"nickname" yaml:"nickname"`
	Server     string `mapstructure:"server" yaml:"server"`
	Mode       string `mapstructure:"mode" yaml:"mode"`
	Team       string `mapstructure:"team" yaml:"team"`
	GuestLabel string `mapstructure:"guest_label" yaml:"guest_label"`
}

// LoginConfig holds the values typed into the login form.
type LoginConfig struct {
	NicknamePrefix string `mapstructure:"nickname_prefix" yaml:"nickname_prefix"`
	NicknameMax    int    `mapstructure:"nickname_max" yaml:"nickname_max"`
	Server         string `mapstructure:"server" yaml:"server"`
	Mode           string `mapstructure:"mode" yaml:"mode"`
	Clan           string `mapstructure:"clan" yaml:"clan"`
}

// GameConfig configures the environment adapter. Strategy fields left empty
// take the value of the selected variant's preset.
type GameConfig struct {
	URL       string         `mapstructure:"url" yaml:"url"`
	Variant   string         `mapstructure:"variant" yaml:"variant"`
	Viewport  ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	Seed      int64          `mapstructure:"seed" yaml:"seed"`
	RenderDir string         `mapstructure:"render_dir" yaml:"render_dir"`

	FrameWidth  int `mapstructure:"frame_width" yaml:"frame_width"`
	FrameHeight int `mapstructure:"frame_height" yaml:"frame_height"`
	FrameStack  int `mapstructure:"frame_stack" yaml:"frame_stack"`

	Start         string        `mapstructure:"start" yaml:"start"`
	Seeding       string        `mapstructure:"seeding" yaml:"seeding"`
	Termination   string        `mapstructure:"termination" yaml:"termination"`
	Baseline      string        `mapstructure:"baseline" yaml:"baseline"`
	Actuator      string        `mapstructure:"actuator" yaml:"actuator"`
	Interpolation string        `mapstructure:"interpolation" yaml:"interpolation"`
	ScoreTimeout  time.Duration `mapstructure:"score_timeout" yaml:"score_timeout"`

	SettleDelay   time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	KeyHold       time.Duration `mapstructure:"key_hold" yaml:"key_hold"`
	KeyHoldJitter float64       `mapstructure:"key_hold_jitter" yaml:"key_hold_jitter"`
	FormPause     time.Duration `mapstructure:"form_pause" yaml:"form_pause"`
	ClickX        float64       `mapstructure:"click_x" yaml:"click_x"`
	ClickY        float64       `mapstructure:"click_y" yaml:"click_y"`
	GameOverText  string        `mapstructure:"game_over_text" yaml:"game_over_text"`

	Selectors SelectorConfig `mapstructure:"selectors" yaml:"selectors"`
	Login     LoginConfig    `mapstructure:"login" yaml:"login"`
}

// PoolConfig configures the parallel login driver.
type PoolConfig struct {
	Sessions    int           `mapstructure:"sessions" yaml:"sessions"`
	Workers     int           `mapstructure:"workers" yaml:"workers"`
	LaunchRate  float64       `mapstructure:"launch_rate" yaml:"launch_rate"`
	LaunchBurst int           `mapstructure:"launch_burst" yaml:"launch_burst"`
	TaskTimeout time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`
	KeepOpen    bool          `mapstructure:"keep_open" yaml:"keep_open"`
}

// TrainConfig holds the learner hyperparameters and artifact locations.
type TrainConfig struct {
	TotalTimesteps       int     `mapstructure:"total_timesteps" yaml:"total_timesteps"`
	BufferSize           int     `mapstructure:"buffer_size" yaml:"buffer_size"`
	LearningStarts       int     `mapstructure:"learning_starts" yaml:"learning_starts"`
	BatchSize            int     `mapstructure:"batch_size" yaml:"batch_size"`
	Gamma                float64 `mapstructure:"gamma" yaml:"gamma"`
	LearningRate         float64 `mapstructure:"learning_rate" yaml:"learning_rate"`
	TrainFreq            int     `mapstructure:"train_freq" yaml:"train_freq"`
	TargetUpdateInterval int     `mapstructure:"target_update_interval" yaml:"target_update_interval"`
	ExplorationFraction  float64 `mapstructure:"exploration_fraction" yaml:"exploration_fraction"`
	ExplorationInitial   float64 `mapstructure:"exploration_initial" yaml:"exploration_initial"`
	ExplorationFinal     float64 `mapstructure:"exploration_final" yaml:"exploration_final"`
	PoolSize             int     `mapstructure:"pool_size" yaml:"pool_size"`
	EvalFreq             int     `mapstructure:"eval_freq" yaml:"eval_freq"`
	EvalEpisodes         int     `mapstructure:"eval_episodes" yaml:"eval_episodes"`
	RewardThreshold      float64 `mapstructure:"reward_threshold" yaml:"reward_threshold"`
	MaxEpisodeSteps      int     `mapstructure:"max_episode_steps" yaml:"max_episode_steps"`
	LogDir               string  `mapstructure:"log_dir" yaml:"log_dir"`
	ModelDir             string  `mapstructure:"model_dir" yaml:"model_dir"`
	Seed                 int64   `mapstructure:"seed" yaml:"seed"`
}

// InferConfig configures the inference driver.
type InferConfig struct {
	ModelPath string `mapstructure:"model_path" yaml:"model_path"`
	MaxSteps  int    `mapstructure:"max_steps" yaml:"max_steps"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "aquario")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.args", []string{"--no-sandbox", "--disable-setuid-sandbox"})
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.launch_retries", 2)
	v.SetDefault("browser.launch_retry_delay", "1s")
	v.SetDefault("browser.shutdown_timeout", "15s")
	v.SetDefault("browser.action_timeout", "10s")
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.post_load_wait", "2s")
	v.SetDefault("browser.record_dir", "")

	// -- Game --
	v.SetDefault("game.url", "https://aquar.io")
	v.SetDefault("game.variant", VariantSimple)
	v.SetDefault("game.seed", 0)
	v.SetDefault("game.render_dir", "renders")
	v.SetDefault("game.frame_width", 84)
	v.SetDefault("game.frame_height", 84)
	v.SetDefault("game.frame_stack", 4)
	v.SetDefault("game.settle_delay", "100ms")
	v.SetDefault("game.key_hold", "50ms")
	v.SetDefault("game.key_hold_jitter", 0.0)
	v.SetDefault("game.form_pause", "300ms")
	v.SetDefault("game.click_x", 320)
	v.SetDefault("game.click_y", 240)
	v.SetDefault("game.game_over_text", "Game Over")
	v.SetDefault("game.selectors.loading", "#layer-loading")
	v.SetDefault("game.selectors.play", "#play")
	v.SetDefault("game.selectors.score", "#score")
	v.SetDefault("game.selectors.game_over", "#game-over")
	v.SetDefault("game.selectors.nickname", "input[type='text']")
	v.SetDefault("game.selectors.server", "select[name='server']")
	v.SetDefault("game.selectors.mode", "select[name='mode']")
	v.SetDefault("game.selectors.team", "select[name='team']")
	v.SetDefault("game.selectors.guest_label", "Play as Guest")
	v.SetDefault("game.login.nickname_prefix", "GARAY")
	v.SetDefault("game.login.nickname_max", 20)
	v.SetDefault("game.login.server", "Europe")
	v.SetDefault("game.login.mode", "Teams")
	v.SetDefault("game.login.clan", "GARAY CLAN")

	// -- Pool --
	v.SetDefault("pool.sessions", 20)
	v.SetDefault("pool.workers", 12)
	v.SetDefault("pool.launch_rate", 2.0)
	v.SetDefault("pool.launch_burst", 4)
	v.SetDefault("pool.task_timeout", "3m")
	v.SetDefault("pool.keep_open", true)

	// -- Train --
	v.SetDefault("train.total_timesteps", 1_000_000)
	v.SetDefault("train.buffer_size", 100_000)
	v.SetDefault("train.learning_starts", 5_000)
	v.SetDefault("train.batch_size", 32)
	v.SetDefault("train.gamma", 0.99)
	v.SetDefault("train.learning_rate", 1e-4)
	v.SetDefault("train.train_freq", 4)
	v.SetDefault("train.target_update_interval", 10_000)
	v.SetDefault("train.exploration_fraction", 0.1)
	v.SetDefault("train.exploration_initial", 1.0)
	v.SetDefault("train.exploration_final", 0.05)
	v.SetDefault("train.pool_size", 4)
	v.SetDefault("train.eval_freq", 50_000)
	v.SetDefault("train.eval_episodes", 5)
	v.SetDefault("train.reward_threshold", 500.0)
	v.SetDefault("train.max_episode_steps", 0)
	v.SetDefault("train.log_dir", "logs")
	v.SetDefault("train.model_dir", "best_model")
	v.SetDefault("train.seed", 0)

	// -- Infer --
	v.SetDefault("infer.model_path", "best_model/best_model.zip")
	v.SetDefault("infer.max_steps", 0)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The DSN usually lives in the environment rather than the config file.
	_ = v.BindEnv("database.url", "AQUARIO_DATABASE_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in every filesystem path.
func (c *Config) expandPaths() error {
	paths := []*string{
		&c.Logger.LogFile,
		&c.Browser.ExecPath,
		&c.Browser.RecordDir,
		&c.Game.RenderDir,
		&c.Train.LogDir,
		&c.Train.ModelDir,
		&c.Infer.ModelPath,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for values no component can work with.
func (c *Config) Validate() error {
	if err := c.Game.Validate(); err != nil {
		return fmt.Errorf("game configuration invalid: %w", err)
	}
	if err := c.Pool.Validate(); err != nil {
		return fmt.Errorf("pool configuration invalid: %w", err)
	}
	if err := c.Train.Validate(); err != nil {
		return fmt.Errorf("train configuration invalid: %w", err)
	}
	if c.Browser.LaunchTimeout <= 0 {
		return fmt.Errorf("browser.launch_timeout must be a positive duration")
	}
	if c.Browser.LaunchRetries < 0 {
		return fmt.Errorf("browser.launch_retries must not be negative")
	}
	return nil
}

// Validate checks the environment settings.
func (g *GameConfig) Validate() error {
	g.Variant = strings.ToLower(strings.TrimSpace(g.Variant))
	switch g.Variant {
	case VariantSimple, VariantLogin:
	default:
		return fmt.Errorf("game.variant must be %q or %q, got %q", VariantSimple, VariantLogin, g.Variant)
	}
	if g.URL == "" {
		return fmt.Errorf("game.url is required")
	}
	if g.FrameWidth <= 0 || g.FrameHeight <= 0 {
		return fmt.Errorf("game.frame_width and game.frame_height must be positive integers")
	}
	if g.FrameStack <= 0 {
		return fmt.Errorf("game.frame_stack must be a positive integer")
	}
	if g.Login.NicknameMax < 1 {
		return fmt.Errorf("game.login.nickname_max must be at least 1")
	}
	if g.KeyHoldJitter < 0 || g.KeyHoldJitter > 1 {
		return fmt.Errorf("game.key_hold_jitter must be between 0 and 1, got %g", g.KeyHoldJitter)
	}
	return nil
}

// Validate checks the pool settings.
func (p *PoolConfig) Validate() error {
	if p.Sessions < 0 {
		return fmt.Errorf("pool.sessions must not be negative")
	}
	if p.Workers <= 0 {
		return fmt.Errorf("pool.workers must be a positive integer")
	}
	if p.LaunchRate < 0 {
		return fmt.Errorf("pool.launch_rate must not be negative")
	}
	return nil
}

// Validate checks the learner settings.
func (t *TrainConfig) Validate() error {
	if t.BatchSize <= 0 {
		return fmt.Errorf("train.batch_size must be a positive integer")
	}
	if t.BufferSize < t.BatchSize {
		return fmt.Errorf("train.buffer_size must be at least train.batch_size")
	}
	if t.Gamma < 0 || t.Gamma > 1 {
		return fmt.Errorf("train.gamma must be between 0.0 and 1.0")
	}
	if t.ExplorationFinal < 0 || t.ExplorationInitial > 1 || t.ExplorationFinal > t.ExplorationInitial {
		return fmt.Errorf("train.exploration_* must satisfy 0 <= final <= initial <= 1")
	}
	if t.PoolSize <= 0 {
		return fmt.Errorf("train.pool_size must be a positive integer")
	}
	if t.TrainFreq <= 0 || t.TargetUpdateInterval <= 0 {
		return fmt.Errorf("train.train_freq and train.target_update_interval must be positive integers")
	}
	return nil
}
