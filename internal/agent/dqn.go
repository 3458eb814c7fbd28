// Package agent is a small deep-Q-style learner for env.Environment: a
// linear Q-function over pooled frame stacks, trained from an experience
// replay buffer against a periodically synced target.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/xkilldash9x/aquario/internal/config"
	"github.com/xkilldash9x/aquario/internal/env"
)

// Policy maps observations to actions.
type Policy interface {
	Predict(obs env.Observation, deterministic bool) int
}

// Callback is invoked after every training step. Returning false stops
// training.
type Callback interface {
	OnStep(ctx context.Context, step int, model *DQN) (bool, error)
}

// CallbackFunc adapts a function to Callback.
type CallbackFunc func(ctx context.Context, step int, model *DQN) (bool, error)

func (f CallbackFunc) OnStep(ctx context.Context, step int, model *DQN) (bool, error) {
	return f(ctx, step, model)
}

// DQN holds the online and target weights, one row per action.
type DQN struct {
	cfg       config.TrainConfig
	logger    *zap.Logger
	shape     [3]int
	nActions  int
	nFeatures int

	online *mat.Dense
	target *mat.Dense
	buffer *ReplayBuffer
	rng    *rand.Rand

	epsilon   float64
	timesteps int
	updates   int
	scratch   []float64
}

var _ Policy = (*DQN)(nil)

// NewDQN creates an untrained model for the given spaces.
func NewDQN(obsSpace env.Box, actSpace env.Discrete, cfg config.TrainConfig, logger *zap.Logger) (*DQN, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if actSpace.N <= 0 {
		return nil, errors.New("agent: action space is empty")
	}
	if obsSpace.Shape[1] < cfg.PoolSize || obsSpace.Shape[2] < cfg.PoolSize {
		return nil, fmt.Errorf("agent: pool size %d exceeds frame size %v", cfg.PoolSize, obsSpace.Shape)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := newModel(obsSpace.Shape, actSpace.N, cfg, logger)
	d.buffer = NewReplayBuffer(cfg.BufferSize, cfg.Seed+1)
	for i := 0; i < d.nActions; i++ {
		row := d.online.RawRowView(i)
		for j := range row {
			row[j] = d.rng.NormFloat64() * 0.01
		}
	}
	d.target.Copy(d.online)
	return d, nil
}

func newModel(shape [3]int, nActions int, cfg config.TrainConfig, logger *zap.Logger) *DQN {
	nFeatures := featureCount(shape, cfg.PoolSize)
	return &DQN{
		cfg:       cfg,
		logger:    logger.Named("dqn"),
		shape:     shape,
		nActions:  nActions,
		nFeatures: nFeatures,
		online:    mat.NewDense(nActions, nFeatures, nil),
		target:    mat.NewDense(nActions, nFeatures, nil),
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		epsilon:   cfg.ExplorationInitial,
	}
}

// Timesteps is the number of environment steps trained on so far.
func (d *DQN) Timesteps() int { return d.timesteps }

// Epsilon is the current exploration rate.
func (d *DQN) Epsilon() float64 { return d.epsilon }

// NumActions is the size of the action space the model was built for.
func (d *DQN) NumActions() int { return d.nActions }

// Compatible checks that the model can act in an environment with these spaces.
func (d *DQN) Compatible(obsSpace env.Box, actSpace env.Discrete) error {
	if obsSpace.Shape != d.shape {
		return fmt.Errorf("%w: observation shape %v, model expects %v", ErrIncompatibleModel, obsSpace.Shape, d.shape)
	}
	if actSpace.N != d.nActions {
		return fmt.Errorf("%w: %d actions, model expects %d", ErrIncompatibleModel, actSpace.N, d.nActions)
	}
	return nil
}

// QValues returns the online estimate for every action.
func (d *DQN) QValues(obs env.Observation) []float64 {
	d.scratch = features(Pool(obs, d.cfg.PoolSize), d.scratch)
	q := make([]float64, d.nActions)
	for a := range q {
		q[a] = floats.Dot(d.online.RawRowView(a), d.scratch)
	}
	return q
}

// Predict picks the greedy action, or an epsilon-greedy one when
// deterministic is false.
func (d *DQN) Predict(obs env.Observation, deterministic bool) int {
	if !deterministic && d.rng.Float64() < d.epsilon {
		return d.rng.Intn(d.nActions)
	}
	return floats.MaxIdx(d.QValues(obs))
}

// exploration is the linear epsilon schedule at progress = step/total.
func (d *DQN) exploration(step, total int) float64 {
	span := d.cfg.ExplorationFraction * float64(total)
	if span <= 0 {
		return d.cfg.ExplorationFinal
	}
	frac := math.Min(1, float64(step)/span)
	return d.cfg.ExplorationInitial + frac*(d.cfg.ExplorationFinal-d.cfg.ExplorationInitial)
}

// train runs one gradient step on a sampled batch and returns the mean Huber loss.
func (d *DQN) train() float64 {
	batch := d.buffer.Sample(d.cfg.BatchSize)
	if batch == nil {
		return 0
	}
	n := len(batch)
	x := mat.NewDense(n, d.nFeatures, nil)
	xn := mat.NewDense(n, d.nFeatures, nil)
	for i, t := range batch {
		features(t.State, x.RawRowView(i))
		features(t.NextState, xn.RawRowView(i))
	}

	var q, qNext mat.Dense
	q.Mul(x, d.online.T())
	qNext.Mul(xn, d.target.T())

	td := mat.NewDense(n, d.nActions, nil)
	loss := 0.0
	for i, t := range batch {
		y := t.Reward
		if !t.Done {
			y += d.cfg.Gamma * floats.Max(qNext.RawRowView(i))
		}
		delta := y - q.At(i, t.Action)
		if math.Abs(delta) <= 1 {
			loss += 0.5 * delta * delta
		} else {
			loss += math.Abs(delta) - 0.5
		}
		// Huber gradient.
		td.Set(i, t.Action, math.Max(-1, math.Min(1, delta)))
	}

	var grad mat.Dense
	grad.Mul(td.T(), x)
	grad.Scale(d.cfg.LearningRate/float64(n), &grad)
	d.online.Add(d.online, &grad)
	d.updates++
	return loss / float64(n)
}

func (d *DQN) syncTarget() { d.target.Copy(d.online) }

// Learn trains for total environment steps. It returns nil when a callback
// stops training early, and ctx.Err() if ctx is cancelled.
func (d *DQN) Learn(ctx context.Context, e env.Environment, total int, callbacks ...Callback) error {
	if d.buffer == nil {
		return errors.New("agent: model was loaded for inference and cannot be trained")
	}
	if err := d.Compatible(e.ObservationSpace(), e.ActionSpace()); err != nil {
		return err
	}

	start := time.Now()
	d.logger.Info("Starting training.",
		zap.Int("total_timesteps", total),
		zap.Int("buffer_size", d.cfg.BufferSize),
		zap.Int("learning_starts", d.cfg.LearningStarts),
		zap.Int("batch_size", d.cfg.BatchSize),
		zap.Float64("gamma", d.cfg.Gamma),
	)

	obs, _, err := e.Reset(ctx)
	if err != nil {
		return fmt.Errorf("agent: reset: %w", err)
	}
	state := Pool(obs, d.cfg.PoolSize)
	episodeReward, episodeLen, episodes := 0.0, 0, 0
	var lastLoss float64

	for step := 1; step <= total; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.timesteps++
		d.epsilon = d.exploration(step, total)

		var action int
		if d.timesteps <= d.cfg.LearningStarts {
			action = d.rng.Intn(d.nActions)
		} else {
			action = d.Predict(obs, false)
		}

		res, err := e.Step(ctx, action)
		if err != nil {
			return fmt.Errorf("agent: step %d: %w", step, err)
		}
		next := Pool(res.Observation, d.cfg.PoolSize)
		d.buffer.Add(Transition{
			State:     state,
			Action:    action,
			Reward:    res.Reward,
			NextState: next,
			Done:      res.Terminated,
		})
		episodeReward += res.Reward
		episodeLen++
		obs, state = res.Observation, next

		if res.Terminated || res.Truncated {
			episodes++
			d.logger.Info("Episode finished.",
				zap.Int("episode", episodes),
				zap.Float64("reward", episodeReward),
				zap.Int("length", episodeLen),
				zap.Int("timesteps", d.timesteps),
				zap.Float64("epsilon", d.epsilon),
				zap.Float64("loss", lastLoss),
			)
			episodeReward, episodeLen = 0, 0
			if obs, _, err = e.Reset(ctx); err != nil {
				return fmt.Errorf("agent: reset: %w", err)
			}
			state = Pool(obs, d.cfg.PoolSize)
		}

		if d.timesteps > d.cfg.LearningStarts && d.timesteps%d.cfg.TrainFreq == 0 {
			lastLoss = d.train()
		}
		if d.timesteps%d.cfg.TargetUpdateInterval == 0 {
			d.syncTarget()
		}

		for _, cb := range callbacks {
			cont, err := cb.OnStep(ctx, d.timesteps, d)
			if err != nil {
				return err
			}
			if !cont {
				d.logger.Info("Training stopped by callback.", zap.Int("timesteps", d.timesteps))
				return nil
			}
		}
	}

	d.logger.Info("Training finished.",
		zap.Int("timesteps", d.timesteps),
		zap.Int("episodes", episodes),
		zap.Int("updates", d.updates),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
