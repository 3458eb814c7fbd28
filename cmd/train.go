package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/aquario/internal/agent"
	"github.com/xkilldash9x/aquario/internal/config"
	"github.com/xkilldash9x/aquario/internal/env"
	"github.com/xkilldash9x/aquario/internal/observability"
	"github.com/xkilldash9x/aquario/internal/pool"
)

// rewardPlotWindow is the moving average width of episode_rewards.png.
const rewardPlotWindow = 10

// newTrainCmd creates the `train` command.
func newTrainCmd(deps dependencies) *cobra.Command {
	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Train a DQN agent against the live game",
		Long: `Opens a training and an evaluation tab in one browser, learns for
train.total_timesteps steps and evaluates every train.eval_freq steps. The best
model is kept in <model_dir>/best_model.zip and the last one in
<model_dir>/final_model.zip. Training stops early once the mean evaluation
reward reaches train.reward_threshold.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			start := time.Now()

			sink, cleanup, err := optionalStore(ctx, deps.stores, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			l, err := pool.Launch(ctx, deps.launch, cfg.Browser, logger)
			if err != nil {
				return err
			}
			var envs []env.Environment
			defer func() { closeAll(ctx, logger, l, envs...) }()

			trainEnv, err := openMonitored(ctx, l, cfg, "train", logger)
			if err != nil {
				return err
			}
			envs = append(envs, trainEnv)
			evalEnv, err := openMonitored(ctx, l, cfg, "eval", logger)
			if err != nil {
				return err
			}
			envs = append(envs, evalEnv)

			var evalSink agent.EvaluationSink
			if sink != nil {
				evalSink = sink
			}
			err = runTraining(ctx, trainEnv, evalEnv, cfg.Train, evalSink, logger, cmd.OutOrStdout())

			elapsed := time.Since(start).Minutes()
			logger.Info("Training finished.", zap.Float64("elapsed_minutes", elapsed))
			fmt.Fprintf(cmd.OutOrStdout(), "Training took %.2f minutes\n", elapsed)
			return err
		},
	}
	trainCmd.Flags().Int("timesteps", 0, "total training steps (default train.total_timesteps)")
	return trainCmd
}

// openMonitored opens a game tab in l and wraps it in a step limit and an
// episode monitor writing <log_dir>/<name>.monitor.csv.
func openMonitored(ctx context.Context, l pool.Launcher, cfg *config.Config, name string, logger *zap.Logger) (*agent.Monitor, error) {
	e, err := env.Open(ctx, l, cfg.Browser, cfg.Game, logger.Named(name))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s environment: %w", name, err)
	}
	m, err := agent.NewMonitor(agent.WithTimeLimit(e, cfg.Train.MaxEpisodeSteps), cfg.Train.LogDir, name)
	if err != nil {
		_ = e.Close(ctx)
		return nil, err
	}
	return m, nil
}

// runTraining learns on trainEnv, evaluating on evalEnv, then saves the final
// model and the reward plot. An interrupted run still saves what it learned.
func runTraining(ctx context.Context, trainEnv, evalEnv *agent.Monitor, t config.TrainConfig, sink agent.EvaluationSink, logger *zap.Logger, out io.Writer) error {
	model, err := agent.NewDQN(trainEnv.ObservationSpace(), trainEnv.ActionSpace(), t, logger)
	if err != nil {
		return err
	}

	eval := agent.NewEvalCallback(evalEnv, t.EvalFreq, t.EvalEpisodes, t.ModelDir, t.LogDir, logger)
	eval.MaxSteps = t.MaxEpisodeSteps
	eval.RunID = uuid.NewString()
	eval.Sink = sink
	eval.OnNewBest = &agent.StopOnRewardThreshold{Threshold: t.RewardThreshold, Eval: eval, Logger: logger}

	logger.Info("Starting training.",
		zap.String("run_id", eval.RunID),
		zap.Int("total_timesteps", t.TotalTimesteps),
		zap.Int("eval_freq", t.EvalFreq),
	)
	learnErr := model.Learn(ctx, trainEnv, t.TotalTimesteps, eval)
	if learnErr != nil && !errors.Is(learnErr, context.Canceled) {
		return learnErr
	}

	path, err := model.Save(filepath.Join(t.ModelDir, "final_model.zip"))
	if err != nil {
		return errors.Join(learnErr, err)
	}
	fmt.Fprintf(out, "Saved final model to %s after %d steps\n", path, model.Timesteps())

	if rewards := trainEnv.Rewards(); len(rewards) > 0 {
		plotPath := filepath.Join(t.LogDir, "episode_rewards.png")
		if err := agent.PlotRewards(rewards, rewardPlotWindow, plotPath); err != nil {
			logger.Warn("Failed to plot episode rewards.", zap.Error(err))
		} else {
			logger.Info("Episode reward plot written.", zap.String("path", plotPath), zap.Int("episodes", len(rewards)))
		}
	}
	return learnErr
}
