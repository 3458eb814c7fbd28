package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/aquario/internal/config"
	"github.com/xkilldash9x/aquario/internal/observability"
	"github.com/xkilldash9x/aquario/internal/pool"
)

type contextKey string

const configKey contextKey = "config"

// flagBindings maps command line flags onto configuration keys. A flag only
// overrides the file and environment when it is set explicitly.
var flagBindings = map[string]string{
	"headless":  "browser.headless",
	"variant":   "game.variant",
	"sessions":  "pool.sessions",
	"workers":   "pool.workers",
	"timesteps": "train.total_timesteps",
	"model":     "infer.model_path",
}

// dependencies are the constructors commands use to reach a browser or a
// database. Tests replace them with fakes.
type dependencies struct {
	launch pool.LauncherFunc
	stores storeProvider
}

func defaultDependencies() dependencies {
	return dependencies{
		launch: pool.ChromeLauncher,
		stores: NewStoreProvider(),
	}
}

// NewRootCommand builds a fresh command tree.
func NewRootCommand() *cobra.Command {
	return newRootCmd(defaultDependencies())
}

func newRootCmd(deps dependencies) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "aquario",
		Short:         "Aquario drives the aquar.io browser game as a reinforcement learning environment.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "aquario"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Starting aquario",
				zap.String("version", Version),
				zap.String("command", cmd.Name()),
				zap.String("variant", cfg.Game.Variant),
			)

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().Bool("headless", true, "run Chrome without a window")
	rootCmd.PersistentFlags().String("variant", config.VariantSimple, "game variant: simple or login")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newSmokeCmd(deps),
		newInferCmd(deps),
		newTrainCmd(deps),
		newLoginCmd(deps),
		newLoginPoolCmd(deps),
		newReportCmd(deps.stores),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command line against ctx and logs the failure, if any.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil {
		logger := observability.GetLogger()
		if errors.Is(err, context.Canceled) {
			logger.Info("Command interrupted.")
		} else {
			logger.Error("Command execution failed", zap.Error(err))
		}
	}
	observability.Sync()
	return err
}

// initializeConfig reads the config file and environment into v and binds
// the flags of the executing command.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("AQUARIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	for name, key := range flagBindings {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return nil
}

// getConfigFromContext returns the configuration stored by PersistentPreRunE.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not found in command context")
	}
	return cfg, nil
}
