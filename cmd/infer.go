package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/aquario/internal/agent"
	"github.com/xkilldash9x/aquario/internal/env"
	"github.com/xkilldash9x/aquario/internal/observability"
)

// newInferCmd creates the `infer` command, which plays one deterministic
// episode with a saved model.
func newInferCmd(deps dependencies) *cobra.Command {
	inferCmd := &cobra.Command{
		Use:   "infer",
		Short: "Play one episode with a trained model and print the total reward",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			// Load first so a bad path fails before a browser starts.
			model, err := agent.Load(cfg.Infer.ModelPath, logger)
			if err != nil {
				return err
			}

			e, l, err := openEnv(ctx, deps, cfg, logger)
			if err != nil {
				return err
			}
			defer closeAll(ctx, logger, l, e)

			if err := model.Compatible(e.ObservationSpace(), e.ActionSpace()); err != nil {
				return err
			}
			_, err = runInference(ctx, model, e, cfg.Infer.MaxSteps, logger, cmd.OutOrStdout())
			return err
		},
	}
	inferCmd.Flags().String("model", "", "path of the model to load (default infer.model_path)")
	return inferCmd
}

// runInference plays one deterministic episode and reports its reward.
func runInference(ctx context.Context, policy agent.Policy, e env.Environment, maxSteps int, logger *zap.Logger, out io.Writer) (float64, error) {
	rewards, lengths, err := agent.Evaluate(ctx, policy, e, 1, maxSteps, true)
	if err != nil {
		return 0, fmt.Errorf("episode failed: %w", err)
	}
	logger.Info("Episode finished.", zap.Float64("reward", rewards[0]), zap.Int("steps", lengths[0]))
	fmt.Fprintf(out, "Total reward: %g (%d steps)\n", rewards[0], lengths[0])
	return rewards[0], nil
}
