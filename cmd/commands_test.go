package cmd

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/aquario/internal/agent"
	"github.com/xkilldash9x/aquario/internal/config"
	"github.com/xkilldash9x/aquario/internal/env"
	"github.com/xkilldash9x/aquario/internal/mocks"
	"github.com/xkilldash9x/aquario/internal/pool"
	"github.com/xkilldash9x/aquario/internal/store"
)

func TestSmokeCmd(t *testing.T) {
	quietGame(t)
	browsers := &fakeBrowsers{}

	out, err := executeCommand(t, dependencies{launch: browsers.launch}, "smoke")
	require.NoError(t, err)

	assert.Contains(t, out, "Observation shape: [4 84 84]")
	assert.Contains(t, out, "Reward: -1", "an unchanged score costs one point per step")
	assert.Contains(t, out, "Done: false")

	launched := browsers.all()
	require.Len(t, launched, 1)
	assert.True(t, launched[0].allClosed(), "the tab and the browser are closed on exit")
	assert.Equal(t, 640, launched[0].tabs[0].Width, "the simple variant uses a 640x480 viewport")
}

func TestRunSmoke(t *testing.T) {
	ctx := context.Background()
	obs := env.Observation{Depth: 4, Height: 84, Width: 84, Pix: make([]uint8, 4*84*84)}

	t.Run("prints the step result", func(t *testing.T) {
		e := new(mocks.MockEnvironment)
		e.On("Reset", mock.Anything).Return(obs, env.Info{"score": 0}, nil)
		e.On("ActionSpace").Return(env.Discrete{N: 1, Meanings: []string{"noop"}})
		e.On("Step", mock.Anything, 0).Return(env.StepResult{Observation: obs, Reward: 2, Terminated: true}, nil)

		var out bytes.Buffer
		require.NoError(t, runSmoke(ctx, e, rand.New(rand.NewSource(1)), &out))
		assert.Contains(t, out.String(), "Action: noop")
		assert.Contains(t, out.String(), "Reward: 2")
		assert.Contains(t, out.String(), "Done: true")
		e.AssertExpectations(t)
	})

	t.Run("reports a failed reset", func(t *testing.T) {
		e := new(mocks.MockEnvironment)
		e.On("Reset", mock.Anything).Return(env.Observation{}, nil, env.ErrScoreTimeout)

		err := runSmoke(ctx, e, rand.New(rand.NewSource(1)), &bytes.Buffer{})
		assert.ErrorIs(t, err, env.ErrScoreTimeout)
		e.AssertNotCalled(t, "Step", mock.Anything, mock.Anything)
	})
}

func saveModel(t *testing.T, dir string, nActions int) string {
	t.Helper()
	tc := config.NewDefaultConfig().Train
	tc.BufferSize = 64
	d, err := agent.NewDQN(env.Box{High: 255, Shape: [3]int{4, 84, 84}}, env.Discrete{N: nActions}, tc, zaptest.NewLogger(t))
	require.NoError(t, err)
	path, err := d.Save(filepath.Join(dir, "best_model.zip"))
	require.NoError(t, err)
	return path
}

func TestInferCmd(t *testing.T) {
	dir := quietGame(t)
	t.Setenv("AQUARIO_INFER_MAX_STEPS", "3")

	t.Run("plays one capped episode", func(t *testing.T) {
		browsers := &fakeBrowsers{}
		path := saveModel(t, filepath.Join(dir, "six"), 6)

		out, err := executeCommand(t, dependencies{launch: browsers.launch}, "infer", "--model", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Total reward: -3 (3 steps)")

		launched := browsers.all()
		require.Len(t, launched, 1)
		assert.True(t, launched[0].allClosed())
	})

	t.Run("rejects a model with another action count", func(t *testing.T) {
		browsers := &fakeBrowsers{}
		path := saveModel(t, filepath.Join(dir, "five"), 5)

		_, err := executeCommand(t, dependencies{launch: browsers.launch}, "infer", "--model", path)
		assert.ErrorIs(t, err, agent.ErrIncompatibleModel)
		require.Len(t, browsers.all(), 1)
		assert.True(t, browsers.all()[0].allClosed())
	})

	t.Run("fails before launching without a model", func(t *testing.T) {
		browsers := &fakeBrowsers{}
		_, err := executeCommand(t, dependencies{launch: browsers.launch}, "infer", "--model", filepath.Join(dir, "missing.zip"))
		assert.Error(t, err)
		assert.Empty(t, browsers.all())
	})
}

func TestRunInference(t *testing.T) {
	obs := env.Observation{Depth: 1, Height: 1, Width: 1, Pix: []uint8{0}}
	e := new(mocks.MockEnvironment)
	e.On("Reset", mock.Anything).Return(obs, env.Info{}, nil).Once()
	e.On("Step", mock.Anything, 0).Return(env.StepResult{Observation: obs, Reward: 4}, nil).Once()
	e.On("Step", mock.Anything, 0).Return(env.StepResult{Observation: obs, Reward: 6, Terminated: true}, nil).Once()

	policy := policyFunc(func(env.Observation, bool) int { return 0 })
	var out bytes.Buffer
	total, err := runInference(context.Background(), policy, e, 0, zap.NewNop(), &out)
	require.NoError(t, err)
	assert.Equal(t, 10.0, total)
	assert.Equal(t, "Total reward: 10 (2 steps)\n", out.String())
	e.AssertExpectations(t)
}

type policyFunc func(obs env.Observation, deterministic bool) int

func (f policyFunc) Predict(obs env.Observation, deterministic bool) int { return f(obs, deterministic) }

func TestTrainCmd(t *testing.T) {
	dir := quietGame(t)
	for k, v := range map[string]string{
		"AQUARIO_TRAIN_BUFFER_SIZE":            "100",
		"AQUARIO_TRAIN_LEARNING_STARTS":        "10",
		"AQUARIO_TRAIN_BATCH_SIZE":             "4",
		"AQUARIO_TRAIN_TRAIN_FREQ":             "1",
		"AQUARIO_TRAIN_TARGET_UPDATE_INTERVAL": "10",
		"AQUARIO_TRAIN_EVAL_FREQ":              "20",
		"AQUARIO_TRAIN_EVAL_EPISODES":          "1",
		"AQUARIO_TRAIN_MAX_EPISODE_STEPS":      "5",
		"AQUARIO_TRAIN_REWARD_THRESHOLD":       "1000",
	} {
		t.Setenv(k, v)
	}
	browsers := &fakeBrowsers{}

	out, err := executeCommand(t, dependencies{launch: browsers.launch}, "train", "--timesteps", "40")
	require.NoError(t, err)
	assert.Contains(t, out, "after 40 steps")
	assert.Contains(t, out, "Training took")

	logs := filepath.Join(dir, "logs")
	models := filepath.Join(dir, "best_model")
	for _, f := range []string{
		filepath.Join(models, "final_model.zip"),
		filepath.Join(models, "best_model.zip"),
		filepath.Join(logs, "evaluations.jsonl"),
		filepath.Join(logs, "train.monitor.csv"),
		filepath.Join(logs, "eval.monitor.csv"),
		filepath.Join(logs, "episode_rewards.png"),
	} {
		assert.FileExists(t, f)
	}

	launched := browsers.all()
	require.Len(t, launched, 1, "training and evaluation share one browser")
	assert.Len(t, launched[0].pages, 2)
	assert.True(t, launched[0].allClosed())

	final, err := agent.Load(filepath.Join(models, "final_model.zip"), nil)
	require.NoError(t, err)
	assert.Equal(t, 40, final.Timesteps())
}

func TestLoginCmd(t *testing.T) {
	quietGame(t)

	t.Run("reports OK with the nickname", func(t *testing.T) {
		browsers := &fakeBrowsers{}
		out, err := executeCommand(t, dependencies{launch: browsers.launch}, "login")
		require.NoError(t, err)
		assert.Regexp(t, `OK: logged in as GARAY\d+`, out)

		launched := browsers.all()
		require.Len(t, launched, 1)
		assert.Equal(t, 800, launched[0].tabs[0].Width, "login always uses the login variant")
		assert.True(t, launched[0].allClosed())
	})

	t.Run("reports FAIL when the clan is missing", func(t *testing.T) {
		browsers := &fakeBrowsers{noClan: true}
		out, err := executeCommand(t, dependencies{launch: browsers.launch}, "login")
		assert.ErrorIs(t, err, env.ErrClanNotFound)
		assert.True(t, strings.HasPrefix(out, "FAIL: "))
		require.Len(t, browsers.all(), 1)
		assert.True(t, browsers.all()[0].allClosed())
	})
}

func TestLoginPoolCmd(t *testing.T) {
	quietGame(t)
	t.Setenv("AQUARIO_POOL_KEEP_OPEN", "false")

	t.Run("prints the report", func(t *testing.T) {
		browsers := &fakeBrowsers{}
		out, err := executeCommand(t, dependencies{launch: browsers.launch}, "login-pool", "--sessions", "3", "--workers", "2")
		require.NoError(t, err)

		var report pool.Report
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.Equal(t, 3, report.Requested)
		assert.Equal(t, 3, report.Succeeded)
		assert.Len(t, report.Results, 3)
		assert.NotEmpty(t, report.RunID)

		launched := browsers.all()
		require.Len(t, launched, 3, "every session gets its own browser")
		for _, l := range launched {
			assert.True(t, l.allClosed())
		}
	})

	t.Run("failures are counted, not returned", func(t *testing.T) {
		browsers := &fakeBrowsers{noClan: true}
		out, err := executeCommand(t, dependencies{launch: browsers.launch}, "login-pool", "--sessions", "2")
		require.NoError(t, err)

		var report pool.Report
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.Equal(t, 2, report.Failed)
		for _, r := range report.Results {
			assert.Equal(t, pool.ReasonError, r.Reason)
			assert.Contains(t, r.Error, "clan")
		}
	})

	t.Run("persists the report when a database is configured", func(t *testing.T) {
		t.Setenv("AQUARIO_DATABASE_URL", "postgres://aquario@localhost/aquario")
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		s, err := store.New(context.Background(), mockPool, zap.NewNop())
		require.NoError(t, err)

		mockPool.ExpectBegin()
		mockPool.ExpectExec("INSERT INTO login_runs").
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"login_results"},
			[]string{"run_id", "seed", "nickname", "ok", "reason", "error", "duration_ms", "finished_at"}).
			WillReturnResult(2)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		provider := &mockStoreProvider{store: s}
		browsers := &fakeBrowsers{}
		_, err = executeCommand(t, dependencies{launch: browsers.launch, stores: provider}, "login-pool", "--sessions", "2")
		require.NoError(t, err)

		assert.Equal(t, 1, provider.created)
		assert.Equal(t, 1, provider.cleaned)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("an unreachable database fails fast", func(t *testing.T) {
		t.Setenv("AQUARIO_DATABASE_URL", "postgres://aquario@localhost/aquario")
		browsers := &fakeBrowsers{}
		provider := &mockStoreProvider{err: errors.New("connection refused")}

		_, err := executeCommand(t, dependencies{launch: browsers.launch, stores: provider}, "login-pool")
		assert.ErrorContains(t, err, "connection refused")
		assert.Empty(t, browsers.all())
	})
}
