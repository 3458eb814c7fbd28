package agent

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/aquario/internal/config"
	"github.com/xkilldash9x/aquario/internal/env"
)

// corridorEnv always shows the same frame. Action 1 earns +1, anything
// else -1, and an episode lasts episodeLen steps.
type corridorEnv struct {
	episodeLen int
	steps      int
	resets     int
	closed     bool
}

func (c *corridorEnv) obs() env.Observation {
	o := env.Observation{Depth: 1, Height: 4, Width: 4, Pix: make([]uint8, 16)}
	for i := range o.Pix {
		o.Pix[i] = 255
	}
	return o
}

func (c *corridorEnv) Reset(ctx context.Context) (env.Observation, env.Info, error) {
	c.steps = 0
	c.resets++
	return c.obs(), env.Info{}, nil
}

func (c *corridorEnv) Step(ctx context.Context, action int) (env.StepResult, error) {
	c.steps++
	r := -1.0
	if action == 1 {
		r = 1
	}
	return env.StepResult{
		Observation: c.obs(),
		Reward:      r,
		Terminated:  c.steps >= c.episodeLen,
		Info:        env.Info{},
	}, nil
}

func (c *corridorEnv) ObservationSpace() env.Box {
	return env.Box{Low: 0, High: 255, Shape: [3]int{1, 4, 4}}
}
func (c *corridorEnv) ActionSpace() env.Discrete { return env.Discrete{N: 2, Meanings: []string{"left", "right"}} }
func (c *corridorEnv) Render(env.RenderMode) error { return nil }
func (c *corridorEnv) Close(context.Context) error {
	c.closed = true
	return nil
}

func trainConfig() config.TrainConfig {
	return config.TrainConfig{
		TotalTimesteps:       500,
		BufferSize:           1000,
		LearningStarts:       10,
		BatchSize:            8,
		Gamma:                0.5,
		LearningRate:         0.1,
		TrainFreq:            1,
		TargetUpdateInterval: 20,
		ExplorationFraction:  0.2,
		ExplorationInitial:   1.0,
		ExplorationFinal:     0.05,
		PoolSize:             2,
		Seed:                 3,
	}
}

func newTestModel(t *testing.T, e env.Environment) *DQN {
	t.Helper()
	d, err := NewDQN(e.ObservationSpace(), e.ActionSpace(), trainConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return d
}

func TestReplayBuffer(t *testing.T) {
	b := NewReplayBuffer(3, 1)
	assert.Nil(t, b.Sample(1))

	for i := 0; i < 5; i++ {
		b.Add(Transition{Action: i})
	}
	assert.Equal(t, 3, b.Len())

	seen := map[int]bool{}
	for _, tr := range b.Sample(200) {
		seen[tr.Action] = true
	}
	assert.Equal(t, map[int]bool{2: true, 3: true, 4: true}, seen, "the two oldest were overwritten")
	assert.Nil(t, b.Sample(4))
}

func TestPool(t *testing.T) {
	obs := env.Observation{Depth: 2, Height: 2, Width: 4, Pix: []uint8{
		0, 10, 100, 100,
		20, 30, 100, 101,
		1, 1, 1, 1,
		1, 1, 1, 1,
	}}
	assert.Equal(t, []uint8{15, 100, 1, 1}, Pool(obs, 2))
	assert.Equal(t, 2*1*2+1, featureCount([3]int{2, 2, 4}, 2))

	f := features([]uint8{0, 255}, nil)
	assert.Equal(t, []float64{0, 1, 1}, f)
}

func TestExplorationSchedule(t *testing.T) {
	d := newTestModel(t, &corridorEnv{episodeLen: 5})
	assert.InDelta(t, 1.0, d.exploration(0, 1000), 1e-9)
	assert.InDelta(t, 0.525, d.exploration(100, 1000), 1e-9)
	assert.InDelta(t, 0.05, d.exploration(200, 1000), 1e-9)
	assert.InDelta(t, 0.05, d.exploration(900, 1000), 1e-9)
}

func TestDQN_Learns(t *testing.T) {
	e := &corridorEnv{episodeLen: 10}
	d := newTestModel(t, e)

	require.NoError(t, d.Learn(context.Background(), e, 500))
	assert.Equal(t, 500, d.Timesteps())
	assert.Equal(t, 51, e.resets, "one initial reset plus one per finished episode")

	q := d.QValues(e.obs())
	assert.Greater(t, q[1], q[0])
	assert.Equal(t, 1, d.Predict(e.obs(), true))
}

func TestDQN_Cancelled(t *testing.T) {
	e := &corridorEnv{episodeLen: 10}
	d := newTestModel(t, e)
	ctx, cancel := context.WithCancel(context.Background())

	stopAt := CallbackFunc(func(ctx context.Context, step int, model *DQN) (bool, error) {
		if step == 7 {
			cancel()
		}
		return true, nil
	})
	err := d.Learn(ctx, e, 100, stopAt)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 7, d.Timesteps())
}

func TestDQN_Incompatible(t *testing.T) {
	d := newTestModel(t, &corridorEnv{episodeLen: 5})

	err := d.Compatible(env.Box{Shape: [3]int{1, 4, 4}}, env.Discrete{N: 6})
	assert.ErrorIs(t, err, ErrIncompatibleModel)
	err = d.Compatible(env.Box{Shape: [3]int{4, 84, 84}}, env.Discrete{N: 2})
	assert.ErrorIs(t, err, ErrIncompatibleModel)

	_, err = NewDQN(env.Box{Shape: [3]int{1, 4, 4}}, env.Discrete{N: 0}, trainConfig(), nil)
	assert.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	e := &corridorEnv{episodeLen: 10}
	d := newTestModel(t, e)
	require.NoError(t, d.Learn(context.Background(), e, 100))

	path, err := d.Save(filepath.Join(t.TempDir(), "models", "final_model"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "final_model.zip"))

	loaded, err := Load(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 100, loaded.Timesteps())
	assert.Equal(t, 2, loaded.NumActions())
	assert.NoError(t, loaded.Compatible(e.ObservationSpace(), e.ActionSpace()))

	if diff := cmp.Diff(d.QValues(e.obs()), loaded.QValues(e.obs()), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("loaded weights differ (-saved +loaded):\n%s", diff)
	}
	assert.Error(t, loaded.Learn(context.Background(), e, 1), "loaded models are inference-only")

	_, err = Load(filepath.Join(t.TempDir(), "missing.zip"), nil)
	assert.Error(t, err)

	bogus := filepath.Join(t.TempDir(), "bogus.zip")
	require.NoError(t, os.WriteFile(bogus, []byte("not a zip"), 0o644))
	_, err = Load(bogus, nil)
	assert.Error(t, err)
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	n := 0
	s := bufio.NewScanner(f)
	for s.Scan() {
		n++
	}
	return n
}

func TestEvalCallback(t *testing.T) {
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()
	modelDir := filepath.Join(dir, "best_model")
	logDir := filepath.Join(dir, "logs")

	t.Run("evaluates periodically and saves the best", func(t *testing.T) {
		e := &corridorEnv{episodeLen: 10}
		evalEnv := &corridorEnv{episodeLen: 10}
		d := newTestModel(t, e)

		cb := NewEvalCallback(evalEnv, 100, 2, modelDir, logDir, logger)
		require.NoError(t, d.Learn(context.Background(), e, 300, cb))

		require.Len(t, cb.History(), 3)
		assert.Equal(t, 3, countLines(t, filepath.Join(logDir, "evaluations.jsonl")))
		assert.FileExists(t, filepath.Join(modelDir, "best_model.zip"))
		assert.Equal(t, 6, evalEnv.resets, "two episodes per evaluation")
		for _, ev := range cb.History() {
			assert.Len(t, ev.Rewards, 2)
			assert.InDelta(t, 10, ev.MeanLength, 1e-9)
		}
		assert.True(t, cb.History()[0].NewBest)
	})

	t.Run("stops on reward threshold", func(t *testing.T) {
		e := &corridorEnv{episodeLen: 10}
		d := newTestModel(t, e)

		cb := NewEvalCallback(&corridorEnv{episodeLen: 10}, 50, 1, "", "", logger)
		cb.OnNewBest = &StopOnRewardThreshold{Threshold: -100, Eval: cb, Logger: logger}
		require.NoError(t, d.Learn(context.Background(), e, 1000, cb))
		assert.Equal(t, 50, d.Timesteps(), "the first evaluation clears the threshold")
	})

	t.Run("step cap ends endless episodes", func(t *testing.T) {
		d := newTestModel(t, &corridorEnv{episodeLen: 10})
		rewards, lengths, err := Evaluate(context.Background(), d, &corridorEnv{episodeLen: 1 << 30}, 2, 7, true)
		require.NoError(t, err)
		assert.Equal(t, []int{7, 7}, lengths)
		assert.Len(t, rewards, 2)
	})
}

func TestMonitorAndTimeLimit(t *testing.T) {
	dir := t.TempDir()
	inner := &corridorEnv{episodeLen: 1 << 30}
	m, err := NewMonitor(WithTimeLimit(inner, 3), dir, "train")
	require.NoError(t, err)
	ctx := context.Background()

	for ep := 0; ep < 2; ep++ {
		_, _, err := m.Reset(ctx)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			res, err := m.Step(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, i == 2, res.Truncated)
			assert.False(t, res.Terminated)
			if res.Truncated {
				ep, ok := res.Info["episode"].(Episode)
				require.True(t, ok)
				assert.Equal(t, 3, ep.Length)
			}
		}
	}
	assert.Equal(t, []float64{3, 3}, m.Rewards())
	require.NoError(t, m.Close(ctx))
	assert.True(t, inner.closed)

	raw, err := os.ReadFile(filepath.Join(dir, "train.monitor.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "#{"))
	assert.Equal(t, "r,l,t", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "3,3,"))

	assert.Same(t, inner, WithTimeLimit(inner, 0))
}

func TestPlotRewards(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "episode_rewards.png")
	require.NoError(t, PlotRewards([]float64{-5, -3, 0, 2, 4, 3, 7}, 3, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	assert.Error(t, PlotRewards(nil, 3, path))
}
