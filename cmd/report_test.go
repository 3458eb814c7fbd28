package cmd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/aquario/internal/config"
	"github.com/xkilldash9x/aquario/internal/store"
)

func newReportStore(t *testing.T) (*store.Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := store.New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return s, mockPool
}

func runRows() *pgxmock.Rows {
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return pgxmock.NewRows([]string{"run_id", "started_at", "duration_ms", "requested", "succeeded", "failed", "skipped"}).
		AddRow("6f1c2d9e-0000-4000-8000-000000000001", started, int64(95000), 20, 18, 2, 0)
}

func TestReportCmd(t *testing.T) {
	quietGame(t)

	t.Run("prints a table", func(t *testing.T) {
		s, mockPool := newReportStore(t)
		mockPool.ExpectQuery("SELECT .+ FROM login_runs").WithArgs(5).WillReturnRows(runRows())
		provider := &mockStoreProvider{store: s}

		out, err := executeCommand(t, dependencies{stores: provider}, "report", "--limit", "5")
		require.NoError(t, err)
		assert.Contains(t, out, "RUN")
		assert.Contains(t, out, "6f1c2d9e-0000-4000-8000-000000000001")
		assert.Contains(t, out, "1m35s")
		assert.Equal(t, 1, provider.cleaned)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("prints JSON", func(t *testing.T) {
		s, mockPool := newReportStore(t)
		mockPool.ExpectQuery("SELECT .+ FROM login_runs").WithArgs(10).WillReturnRows(runRows())

		out, err := executeCommand(t, dependencies{stores: &mockStoreProvider{store: s}}, "report", "--json")
		require.NoError(t, err)

		var runs []store.RunSummary
		require.NoError(t, json.Unmarshal([]byte(out), &runs))
		require.Len(t, runs, 1)
		assert.Equal(t, 18, runs[0].Succeeded)
		assert.Equal(t, 95*time.Second, runs[0].Duration)
	})

	t.Run("no runs", func(t *testing.T) {
		s, mockPool := newReportStore(t)
		mockPool.ExpectQuery("SELECT .+ FROM login_runs").WithArgs(10).
			WillReturnRows(pgxmock.NewRows([]string{"run_id", "started_at", "duration_ms", "requested", "succeeded", "failed", "skipped"}))

		out, err := executeCommand(t, dependencies{stores: &mockStoreProvider{store: s}}, "report")
		require.NoError(t, err)
		assert.Contains(t, out, "No login runs recorded.")
	})

	t.Run("store unavailable", func(t *testing.T) {
		_, err := executeCommand(t, dependencies{stores: &mockStoreProvider{err: errors.New("database URL is not configured")}}, "report")
		assert.ErrorContains(t, err, "failed to initialize store")
	})

	t.Run("invalid limit", func(t *testing.T) {
		provider := &mockStoreProvider{}
		_, err := executeCommand(t, dependencies{stores: provider}, "report", "--limit", "0")
		assert.ErrorContains(t, err, "--limit must be positive")
		assert.Zero(t, provider.created)
	})
}

func TestDefaultStoreProvider_RequiresURL(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Database.URL = ""
	_, _, err := NewStoreProvider().Create(context.Background(), cfg)
	assert.ErrorContains(t, err, "database URL is not configured")
}
