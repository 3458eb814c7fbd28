package env

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/aquario/internal/browser"
	"github.com/xkilldash9x/aquario/internal/config"
)

// removeOverlay deletes the loading layer so it cannot swallow clicks.
const removeOverlay = `(() => { const el = document.querySelector(%q); if (el) { el.remove(); } return true; })()`

// AquarEnv drives one game page. It is not safe for concurrent Step calls
// from multiple goroutines; run one environment per goroutine instead.
type AquarEnv struct {
	id       string
	logger   *zap.Logger
	page     browser.Page
	settings *Settings
	prep     *Preprocessor
	stack    *FrameStack

	mu        sync.Mutex
	lastScore int
	nickname  string
	ready     bool
	closed    bool
}

var _ Environment = (*AquarEnv)(nil)

// New wraps an already navigated page. The environment takes ownership of
// the page and closes it in Close.
func New(page browser.Page, cfg config.GameConfig, logger *zap.Logger) (*AquarEnv, error) {
	if page == nil {
		return nil, errors.New("env: page is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	settings, err := Resolve(cfg, logger)
	if err != nil {
		return nil, err
	}
	g := settings.Game
	if g.FrameStack <= 0 || g.FrameWidth <= 0 || g.FrameHeight <= 0 {
		return nil, fmt.Errorf("env: invalid frame geometry %dx%dx%d", g.FrameStack, g.FrameHeight, g.FrameWidth)
	}
	prep, err := NewPreprocessor(g.FrameWidth, g.FrameHeight, settings.InterpolationName)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	e := &AquarEnv{
		id:       id,
		page:     page,
		settings: settings,
		prep:     prep,
		stack:    NewFrameStack(g.FrameStack, g.FrameWidth, g.FrameHeight),
		logger: logger.Named("env").With(
			zap.String("env_id", id),
			zap.String("variant", g.Variant),
		),
	}
	e.logger.Debug("Environment created.",
		zap.String("start", settings.StartName),
		zap.String("seeding", settings.SeedingName),
		zap.String("termination", settings.TerminationName),
		zap.String("baseline", settings.BaselineName),
		zap.String("actuator", settings.ActuatorName),
		zap.String("interpolation", settings.InterpolationName),
	)
	return e, nil
}

// Open opens a tab sized for the variant, loads the game and wraps it.
// The page is closed again if anything fails.
func Open(ctx context.Context, opener browser.PageOpener, bcfg config.BrowserConfig, gcfg config.GameConfig, logger *zap.Logger) (*AquarEnv, error) {
	settings, err := Resolve(gcfg, logger)
	if err != nil {
		return nil, err
	}
	page, err := opener.OpenPage(ctx, browser.TabOptions{
		Width:     settings.Width,
		Height:    settings.Height,
		RecordDir: bcfg.RecordDir,
	})
	if err != nil {
		return nil, fmt.Errorf("env: open page: %w", err)
	}
	if err := page.Navigate(ctx, gcfg.URL); err != nil {
		_ = page.Close(browser.Detach(ctx))
		return nil, fmt.Errorf("env: load game: %w", err)
	}
	e, err := New(page, gcfg, logger)
	if err != nil {
		_ = page.Close(browser.Detach(ctx))
		return nil, err
	}
	return e, nil
}

// ID identifies this environment in logs and render file names.
func (e *AquarEnv) ID() string { return e.id }

// Settings returns the resolved configuration.
func (e *AquarEnv) Settings() *Settings { return e.settings }

// Score returns the last scraped score: the baseline right after Reset.
func (e *AquarEnv) Score() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastScore
}

// Nickname returns the name the last login start joined with, if any.
func (e *AquarEnv) Nickname() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nickname
}

// Page returns the underlying page.
func (e *AquarEnv) Page() browser.Page { return e.page }

func (e *AquarEnv) ObservationSpace() Box {
	g := e.settings.Game
	return Box{Low: 0, High: 255, Shape: [3]int{g.FrameStack, g.FrameHeight, g.FrameWidth}}
}

func (e *AquarEnv) ActionSpace() Discrete {
	m := e.settings.Actuator.Meanings()
	return Discrete{N: len(m), Meanings: m}
}

// capture takes a screenshot and preprocesses it.
func (e *AquarEnv) capture(ctx context.Context) (*image.Gray, error) {
	raw, err := e.page.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("env: screenshot: %w", err)
	}
	return e.prep.Frame(raw)
}

// Reset starts a new match and returns the seeded observation.
func (e *AquarEnv) Reset(ctx context.Context) (Observation, Info, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return Observation{}, nil, ErrClosed
	}
	e.ready = false
	s := e.settings
	g := s.Game

	if err := e.page.Evaluate(ctx, fmt.Sprintf(removeOverlay, g.Selectors.Loading), nil); err != nil {
		return Observation{}, nil, fmt.Errorf("env: remove loading overlay: %w", err)
	}

	info, err := s.Starter.Start(ctx, e.page)
	if err != nil {
		return Observation{}, nil, err
	}

	if err := e.page.WaitVisible(ctx, g.Selectors.Score, s.ScoreTimeout); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return Observation{}, nil, fmt.Errorf("%w after %v: %w", ErrScoreTimeout, s.ScoreTimeout, err)
		}
		return Observation{}, nil, fmt.Errorf("env: wait for score: %w", err)
	}

	if err := s.Seeder.Seed(ctx, e.capture, e.stack); err != nil {
		return Observation{}, nil, fmt.Errorf("env: seed frames: %w", err)
	}

	baseline, err := s.Baseline.Initial(ctx, e.page, g.Selectors.Score)
	if err != nil {
		return Observation{}, nil, fmt.Errorf("env: read initial score: %w", err)
	}
	e.lastScore = baseline
	e.nickname, _ = info["nickname"].(string)
	e.ready = true

	e.logger.Info("Episode started.", zap.Int("baseline", baseline))
	return e.stack.Observation(), Info{}, nil
}

// Step applies action and returns the next observation and reward.
func (e *AquarEnv) Step(ctx context.Context, action int) (StepResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return StepResult{}, ErrClosed
	}
	if !e.ready {
		return StepResult{}, ErrNotReset
	}
	space := e.ActionSpace()
	if !space.Contains(action) {
		return StepResult{}, fmt.Errorf("%w: %d not in %s", ErrInvalidAction, action, space)
	}

	if err := e.settings.Actuator.Act(ctx, e.page, action); err != nil {
		return StepResult{}, fmt.Errorf("env: act %s: %w", space.Meanings[action], err)
	}

	// The stack and the score baseline only advance together, once every
	// read of this step has succeeded.
	frame, err := e.capture(ctx)
	if err != nil {
		return StepResult{}, err
	}
	text, err := e.page.Text(ctx, e.settings.Game.Selectors.Score)
	if err != nil {
		return StepResult{}, fmt.Errorf("env: read score: %w", err)
	}
	done, err := e.settings.Termination.Terminated(ctx, e.page)
	if err != nil {
		return StepResult{}, fmt.Errorf("env: check termination: %w", err)
	}

	score := ParseScore(text)
	reward := Reward(e.lastScore, score)
	e.lastScore = score
	e.stack.Push(frame)
	if done {
		e.logger.Info("Episode terminated.", zap.Int("score", score))
	}

	return StepResult{
		Observation: e.stack.Observation(),
		Reward:      reward,
		Terminated:  done,
		Info:        Info{"score": score},
	}, nil
}

// Render writes the newest frame to <RenderDir>/<id>.png in human mode.
func (e *AquarEnv) Render(mode RenderMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	switch mode {
	case RenderNone:
		return nil
	case RenderHuman:
	default:
		return fmt.Errorf("env: unsupported render mode %q", mode)
	}

	frame := e.stack.Latest()
	if frame == nil {
		return ErrNotReset
	}
	dir := e.settings.Game.RenderDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("env: create render dir: %w", err)
	}
	path := filepath.Join(dir, e.id+".png")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("env: create render file: %w", err)
	}
	if err := png.Encode(f, frame); err != nil {
		f.Close()
		return fmt.Errorf("env: encode render: %w", err)
	}
	return f.Close()
}

// Close releases the page. It does not shut down the browser that owns it.
func (e *AquarEnv) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.ready = false
	e.mu.Unlock()

	e.logger.Debug("Closing environment.")
	if err := e.page.Close(ctx); err != nil && !errors.Is(err, browser.ErrTabClosed) {
		return fmt.Errorf("env: close page: %w", err)
	}
	return nil
}
