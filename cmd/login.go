package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/aquario/internal/browser"
	"github.com/xkilldash9x/aquario/internal/config"
	"github.com/xkilldash9x/aquario/internal/observability"
	"github.com/xkilldash9x/aquario/internal/pool"
)

// loginGame returns the game settings with the login variant forced.
func loginGame(cfg *config.Config) config.GameConfig {
	g := cfg.Game
	g.Variant = config.VariantLogin
	return g
}

// newLoginCmd creates the `login` command, which runs the login form once.
func newLoginCmd(deps dependencies) *cobra.Command {
	var hold bool

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Log into the game once as a guest and report OK or FAIL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			login := pool.BrowserLogin(deps.launch, cfg.Browser, loginGame(cfg), logger)
			return runLogin(ctx, login, cfg.Game.Seed, hold, logger, cmd.OutOrStdout())
		},
	}
	loginCmd.Flags().BoolVar(&hold, "hold", false, "keep the session open until interrupted")
	return loginCmd
}

func runLogin(ctx context.Context, login pool.LoginFunc, seed int64, hold bool, logger *zap.Logger, out io.Writer) error {
	sess, err := login(ctx, seed)
	if err != nil {
		fmt.Fprintf(out, "FAIL: %v\n", err)
		return err
	}
	defer func() {
		if err := sess.Close(browser.Detach(ctx)); err != nil {
			logger.Warn("Failed to close session.", zap.Error(err))
		}
	}()

	nick := ""
	if n, ok := sess.(pool.Named); ok {
		nick = n.Nickname()
	}
	fmt.Fprintf(out, "OK: logged in as %s\n", nick)

	if hold {
		logger.Info("Holding the session open until interrupted.")
		<-ctx.Done()
	}
	return nil
}

// newLoginPoolCmd creates the `login-pool` command.
func newLoginPoolCmd(deps dependencies) *cobra.Command {
	poolCmd := &cobra.Command{
		Use:   "login-pool",
		Short: "Log many guest sessions in parallel and print the report",
		Long: `Runs pool.sessions login sequences with at most pool.workers in flight,
each in its own browser. With pool.keep_open the successful sessions stay
logged in until the command is interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			s, cleanup, err := optionalStore(ctx, deps.stores, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			var opts []pool.Option
			if s != nil {
				opts = append(opts, pool.WithStore(s))
			}
			p := pool.New(cfg.Pool, pool.BrowserLogin(deps.launch, cfg.Browser, loginGame(cfg), logger), logger, opts...)
			return runLoginPool(ctx, p, cfg.Pool.KeepOpen, logger, cmd.OutOrStdout())
		},
	}
	poolCmd.Flags().Int("sessions", 0, "number of login sequences (default pool.sessions)")
	poolCmd.Flags().Int("workers", 0, "maximum concurrent logins (default pool.workers)")
	return poolCmd
}

func runLoginPool(ctx context.Context, p *pool.Pool, keepOpen bool, logger *zap.Logger, out io.Writer) error {
	report, err := p.Run(ctx)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize report: %w", err)
	}
	fmt.Fprintln(out, string(data))

	if keepOpen && p.Open() > 0 {
		logger.Info("Holding sessions open until interrupted.", zap.Int("sessions", p.Open()))
		<-ctx.Done()
	}
	return p.Release(browser.Detach(ctx))
}
