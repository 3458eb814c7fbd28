package agent

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/xkilldash9x/aquario/internal/env"
)

// Episode is one finished episode as recorded by Monitor.
type Episode struct {
	Reward  float64
	Length  int
	Elapsed time.Duration
}

// Monitor wraps an environment and records per-episode reward and length,
// appending each to <dir>/<name>.monitor.csv.
type Monitor struct {
	env.Environment

	mu       sync.Mutex
	start    time.Time
	reward   float64
	length   int
	episodes []Episode

	file *os.File
	w    *csv.Writer
}

var _ env.Environment = (*Monitor)(nil)

// NewMonitor wraps e. An empty dir records in memory only.
func NewMonitor(e env.Environment, dir, name string) (*Monitor, error) {
	m := &Monitor{Environment: e, start: time.Now()}
	if dir == "" {
		return m, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("agent: create monitor dir: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, name+".monitor.csv"))
	if err != nil {
		return nil, fmt.Errorf("agent: create monitor file: %w", err)
	}
	header, _ := json.Marshal(map[string]any{"t_start": m.start.Unix(), "env_id": name})
	if _, err := fmt.Fprintf(f, "#%s\n", header); err != nil {
		f.Close()
		return nil, err
	}
	m.file = f
	m.w = csv.NewWriter(f)
	if err := m.w.Write([]string{"r", "l", "t"}); err != nil {
		f.Close()
		return nil, err
	}
	m.w.Flush()
	return m, m.w.Error()
}

func (m *Monitor) Reset(ctx context.Context) (env.Observation, env.Info, error) {
	m.mu.Lock()
	m.reward, m.length = 0, 0
	m.mu.Unlock()
	return m.Environment.Reset(ctx)
}

func (m *Monitor) Step(ctx context.Context, action int) (env.StepResult, error) {
	res, err := m.Environment.Step(ctx, action)
	if err != nil {
		return res, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reward += res.Reward
	m.length++
	if !res.Terminated && !res.Truncated {
		return res, nil
	}

	ep := Episode{Reward: m.reward, Length: m.length, Elapsed: time.Since(m.start)}
	m.episodes = append(m.episodes, ep)
	if res.Info == nil {
		res.Info = env.Info{}
	}
	res.Info["episode"] = ep
	if m.w != nil {
		_ = m.w.Write([]string{
			strconv.FormatFloat(ep.Reward, 'f', -1, 64),
			strconv.Itoa(ep.Length),
			strconv.FormatFloat(ep.Elapsed.Seconds(), 'f', 6, 64),
		})
		m.w.Flush()
	}
	m.reward, m.length = 0, 0
	return res, nil
}

// Episodes returns the episodes finished so far.
func (m *Monitor) Episodes() []Episode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Episode(nil), m.episodes...)
}

// Rewards returns the reward of each finished episode.
func (m *Monitor) Rewards() []float64 {
	eps := m.Episodes()
	out := make([]float64, len(eps))
	for i, ep := range eps {
		out[i] = ep.Reward
	}
	return out
}

// Close flushes the monitor file and closes the wrapped environment.
func (m *Monitor) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.file != nil {
		m.w.Flush()
		_ = m.file.Close()
		m.file = nil
	}
	m.mu.Unlock()
	return m.Environment.Close(ctx)
}

// TimeLimit truncates episodes after MaxSteps steps.
type TimeLimit struct {
	env.Environment
	MaxSteps int
	steps    int
}

var _ env.Environment = (*TimeLimit)(nil)

// WithTimeLimit wraps e; maxSteps <= 0 returns e unchanged.
func WithTimeLimit(e env.Environment, maxSteps int) env.Environment {
	if maxSteps <= 0 {
		return e
	}
	return &TimeLimit{Environment: e, MaxSteps: maxSteps}
}

func (t *TimeLimit) Reset(ctx context.Context) (env.Observation, env.Info, error) {
	t.steps = 0
	return t.Environment.Reset(ctx)
}

func (t *TimeLimit) Step(ctx context.Context, action int) (env.StepResult, error) {
	res, err := t.Environment.Step(ctx, action)
	if err != nil {
		return res, err
	}
	t.steps++
	if t.steps >= t.MaxSteps && !res.Terminated {
		res.Truncated = true
	}
	return res, nil
}
