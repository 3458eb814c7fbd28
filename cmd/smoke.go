package cmd

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/aquario/internal/env"
	"github.com/xkilldash9x/aquario/internal/observability"
)

// newSmokeCmd creates the `smoke` command: one reset and one random step.
func newSmokeCmd(deps dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "smoke",
		Short: "Reset the game, take one random action and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			e, l, err := openEnv(ctx, deps, cfg, logger)
			if err != nil {
				return err
			}
			defer closeAll(ctx, logger, l, e)

			seed := cfg.Game.Seed
			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			return runSmoke(ctx, e, rand.New(rand.NewSource(seed)), cmd.OutOrStdout())
		},
	}
}

func runSmoke(ctx context.Context, e env.Environment, rng *rand.Rand, out io.Writer) error {
	obs, _, err := e.Reset(ctx)
	if err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}
	fmt.Fprintf(out, "Observation shape: %v\n", obs.Shape())

	space := e.ActionSpace()
	action := rng.Intn(space.N)
	res, err := e.Step(ctx, action)
	if err != nil {
		return fmt.Errorf("step failed: %w", err)
	}
	fmt.Fprintf(out, "Action: %s\n", actionName(space, action))
	fmt.Fprintf(out, "Reward: %g\n", res.Reward)
	fmt.Fprintf(out, "Done: %t\n", res.Terminated || res.Truncated)
	return nil
}
