package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/aquario/internal/config"
	"github.com/xkilldash9x/aquario/internal/observability"
	"github.com/xkilldash9x/aquario/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// storeProvider creates the store used by the commands that persist or read
// results. Tests inject a provider backed by a mock pool.
type storeProvider interface {
	// Create returns the store and a cleanup function releasing its connections.
	Create(ctx context.Context, cfg *config.Config) (*store.Store, func(), error)
}

// defaultStoreProvider connects to PostgreSQL.
type defaultStoreProvider struct{}

// NewStoreProvider returns the production store provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects to the configured database, verifies the connection and
// makes sure the tables exist.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg *config.Config) (*store.Store, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database.URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (AQUARIO_DATABASE_URL)")
	}

	dbPool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s, err := store.New(ctx, dbPool, logger)
	if err != nil {
		dbPool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store service: %w", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		dbPool.Close()
		return nil, nil, err
	}

	cleanup := func() {
		dbPool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return s, cleanup, nil
}

// optionalStore returns nil and a no-op cleanup when no database is configured.
func optionalStore(ctx context.Context, provider storeProvider, cfg *config.Config, logger *zap.Logger) (*store.Store, func(), error) {
	if cfg.Database.URL == "" {
		logger.Debug("No database configured; results are not persisted.")
		return nil, func() {}, nil
	}
	s, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup == nil {
		cleanup = func() {}
	}
	return s, cleanup, nil
}

// newReportCmd creates the `report` command, which lists recent login pool runs.
func newReportCmd(provider storeProvider) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "List recent login pool runs stored in the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runReport(ctx, observability.GetLogger(), cfg, provider, limit, asJSON, cmd.OutOrStdout())
		},
	}

	reportCmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to list")
	reportCmd.Flags().BoolVar(&asJSON, "json", false, "print the runs as JSON")
	return reportCmd
}

// runReport contains the testable core of the report command.
func runReport(ctx context.Context, logger *zap.Logger, cfg *config.Config, provider storeProvider, limit int, asJSON bool, out io.Writer) error {
	if limit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", limit)
	}

	s, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	runs, err := s.RecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	logger.Debug("Loaded login runs.", zap.Int("count", len(runs)))

	if asJSON {
		data, err := json.MarshalIndent(runs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to serialize runs to JSON: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No login runs recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tDURATION\tREQUESTED\tOK\tFAILED\tSKIPPED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.RunID, r.StartedAt.Local().Format(time.DateTime), r.Duration.Round(time.Second),
			r.Requested, r.Succeeded, r.Failed, r.Skipped)
	}
	return tw.Flush()
}
