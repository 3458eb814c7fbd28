package agent

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/xkilldash9x/aquario/internal/env"
)

// Evaluation summarizes one periodic evaluation.
type Evaluation struct {
	Timesteps  int       `json:"timesteps"`
	Rewards    []float64 `json:"rewards"`
	Lengths    []int     `json:"lengths"`
	MeanReward float64   `json:"mean_reward"`
	StdReward  float64   `json:"std_reward"`
	MeanLength float64   `json:"mean_length"`
	NewBest    bool      `json:"new_best"`
	At         time.Time `json:"at"`
}

// EvaluationSink receives every evaluation, e.g. a database.
type EvaluationSink interface {
	SaveEvaluation(ctx context.Context, runID string, ev Evaluation) error
}

// Evaluate plays episodes with policy and returns per-episode rewards and
// lengths. maxSteps > 0 caps every episode.
func Evaluate(ctx context.Context, policy Policy, e env.Environment, episodes, maxSteps int, deterministic bool) ([]float64, []int, error) {
	rewards := make([]float64, 0, episodes)
	lengths := make([]int, 0, episodes)
	for ep := 0; ep < episodes; ep++ {
		obs, _, err := e.Reset(ctx)
		if err != nil {
			return rewards, lengths, fmt.Errorf("agent: evaluation reset: %w", err)
		}
		total, n := 0.0, 0
		for {
			res, err := e.Step(ctx, policy.Predict(obs, deterministic))
			if err != nil {
				return rewards, lengths, fmt.Errorf("agent: evaluation step: %w", err)
			}
			total += res.Reward
			n++
			obs = res.Observation
			if res.Terminated || res.Truncated || (maxSteps > 0 && n >= maxSteps) {
				break
			}
		}
		rewards = append(rewards, total)
		lengths = append(lengths, n)
	}
	return rewards, lengths, nil
}

// EvalCallback evaluates the model every Freq steps on a separate
// environment, saves the best model and logs results to evaluations.jsonl.
type EvalCallback struct {
	Env           env.Environment
	Freq          int
	Episodes      int
	MaxSteps      int
	Deterministic bool
	BestModelDir  string
	LogDir        string
	RunID         string
	Sink          EvaluationSink
	Logger        *zap.Logger

	// OnNewBest is consulted whenever the mean reward improves.
	OnNewBest Callback

	best    float64
	history []Evaluation
}

// NewEvalCallback returns a callback with no best reward recorded yet.
func NewEvalCallback(e env.Environment, freq, episodes int, bestModelDir, logDir string, logger *zap.Logger) *EvalCallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EvalCallback{
		Env:           e,
		Freq:          freq,
		Episodes:      episodes,
		Deterministic: true,
		BestModelDir:  bestModelDir,
		LogDir:        logDir,
		Logger:        logger.Named("eval"),
		best:          math.Inf(-1),
	}
}

// Best is the best mean reward seen so far.
func (c *EvalCallback) Best() float64 { return c.best }

// History returns every evaluation so far.
func (c *EvalCallback) History() []Evaluation { return c.history }

func (c *EvalCallback) OnStep(ctx context.Context, step int, model *DQN) (bool, error) {
	if c.Freq <= 0 || step%c.Freq != 0 {
		return true, nil
	}
	rewards, lengths, err := Evaluate(ctx, model, c.Env, c.Episodes, c.MaxSteps, c.Deterministic)
	if err != nil {
		return false, err
	}

	ls := make([]float64, len(lengths))
	for i, l := range lengths {
		ls[i] = float64(l)
	}
	mean, std := stat.MeanStdDev(rewards, nil)
	if len(rewards) < 2 {
		std = 0
	}
	ev := Evaluation{
		Timesteps:  step,
		Rewards:    rewards,
		Lengths:    lengths,
		MeanReward: mean,
		StdReward:  std,
		MeanLength: stat.Mean(ls, nil),
		NewBest:    mean > c.best,
		At:         time.Now().UTC(),
	}
	c.history = append(c.history, ev)
	c.Logger.Info("Evaluation finished.",
		zap.Int("timesteps", step),
		zap.Float64("mean_reward", ev.MeanReward),
		zap.Float64("std_reward", ev.StdReward),
		zap.Float64("mean_length", ev.MeanLength),
	)

	if err := c.appendLog(ev); err != nil {
		c.Logger.Warn("Failed to write evaluation log.", zap.Error(err))
	}
	if c.Sink != nil {
		if err := c.Sink.SaveEvaluation(ctx, c.RunID, ev); err != nil {
			c.Logger.Warn("Failed to persist evaluation.", zap.Error(err))
		}
	}

	if !ev.NewBest {
		return true, nil
	}
	c.best = mean
	if c.BestModelDir != "" {
		path, err := model.Save(filepath.Join(c.BestModelDir, "best_model.zip"))
		if err != nil {
			return false, err
		}
		c.Logger.Info("New best mean reward.", zap.Float64("mean_reward", mean), zap.String("path", path))
	}
	if c.OnNewBest != nil {
		return c.OnNewBest.OnStep(ctx, step, model)
	}
	return true, nil
}

func (c *EvalCallback) appendLog(ev Evaluation) error {
	if c.LogDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.LogDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(c.LogDir, "evaluations.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(ev); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// StopOnRewardThreshold stops training once the evaluator's best mean
// reward reaches threshold. Use it as EvalCallback.OnNewBest.
type StopOnRewardThreshold struct {
	Threshold float64
	Eval      *EvalCallback
	Logger    *zap.Logger
}

func (s *StopOnRewardThreshold) OnStep(ctx context.Context, step int, model *DQN) (bool, error) {
	if s.Eval == nil || s.Eval.Best() < s.Threshold {
		return true, nil
	}
	if s.Logger != nil {
		s.Logger.Info("Reward threshold reached, stopping training.",
			zap.Float64("best_mean_reward", s.Eval.Best()),
			zap.Float64("threshold", s.Threshold),
		)
	}
	return false, nil
}
