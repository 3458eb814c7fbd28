// internal/pool/pool.go
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/aquario/internal/config"
	"github.com/xkilldash9x/aquario/internal/env"
)

// Outcome reasons recorded on each Result.
const (
	ReasonOK       = "ok"
	ReasonTimeout  = "timeout"
	ReasonCanceled = "canceled"
	ReasonError    = "error"
	ReasonPanic    = "panic"
)

// Session is whatever a successful login leaves open.
type Session interface {
	Close(ctx context.Context) error
}

// Named is implemented by sessions that know the nickname they joined with.
type Named interface {
	Nickname() string
}

// LoginFunc performs one login. The seed only varies the nickname.
type LoginFunc func(ctx context.Context, seed int64) (Session, error)

// Store persists finished reports. It is optional.
type Store interface {
	SaveLoginReport(ctx context.Context, report *Report) error
}

// Result is the outcome of one login task.
type Result struct {
	Seed       int64         `json:"seed"`
	Nickname   string        `json:"nickname,omitempty"`
	OK         bool          `json:"ok"`
	Reason     string        `json:"reason"`
	Err        error         `json:"-"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Report aggregates a run. Results are in completion order.
type Report struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Requested int           `json:"requested"`
	Results   []Result      `json:"results"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	// Skipped counts sessions never started because the run was cancelled.
	Skipped int `json:"skipped"`
}

// Option configures a Pool.
type Option func(*Pool)

// WithStore persists every report after the run.
func WithStore(s Store) Option {
	return func(p *Pool) { p.store = s }
}

// Pool runs independent logins with a bounded number in flight.
type Pool struct {
	cfg    config.PoolConfig
	login  LoginFunc
	logger *zap.Logger
	store  Store

	mu       sync.Mutex
	sessions []Session
}

// New creates a pool. Configuration is checked by Run.
func New(cfg config.PoolConfig, login LoginFunc, logger *zap.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		cfg:    cfg,
		login:  login,
		logger: logger.With(zap.String("component", "login_pool")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) validate() error {
	if p.login == nil {
		return errors.New("pool: login function cannot be nil")
	}
	return p.cfg.Validate()
}

// Run submits one task per session and waits for all of them. Individual
// failures and panics are recorded in the report, never returned.
func (p *Pool) Run(ctx context.Context) (*Report, error) {
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("pool: invalid configuration: %w", err)
	}

	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Requested: p.cfg.Sessions,
		Results:   make([]Result, 0, p.cfg.Sessions),
	}
	logger := p.logger.With(zap.String("run_id", report.RunID))
	logger.Info("Starting login pool.",
		zap.Int("sessions", p.cfg.Sessions),
		zap.Int("workers", p.cfg.Workers),
		zap.Float64("launch_rate", p.cfg.LaunchRate),
	)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if p.cfg.LaunchRate > 0 {
		burst := p.cfg.LaunchBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(p.cfg.LaunchRate), burst)
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		started int
	)
	g.SetLimit(p.cfg.Workers)

	for i := 0; i < p.cfg.Sessions; i++ {
		if err := limiter.Wait(ctx); err != nil {
			logger.Warn("Run cancelled while waiting to launch; remaining sessions skipped.", zap.Error(err))
			break
		}
		seed := int64(i)
		started++
		g.Go(func() error {
			res := p.process(ctx, seed, logger)
			mu.Lock()
			report.Results = append(report.Results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range report.Results {
		if r.OK {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	report.Skipped = p.cfg.Sessions - started
	report.Duration = time.Since(report.StartedAt)

	logger.Info("Login pool finished.",
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Duration("duration", report.Duration),
	)

	if p.store != nil {
		// Persist even when the run itself was cancelled.
		persistCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.store.SaveLoginReport(persistCtx, report); err != nil {
			logger.Error("Failed to persist login report.", zap.Error(err))
		}
	}
	return report, nil
}

// process runs a single login and classifies its outcome.
func (p *Pool) process(ctx context.Context, seed int64, logger *zap.Logger) (res Result) {
	logger = logger.With(zap.Int64("seed", seed))
	start := time.Now()
	res = Result{Seed: seed}

	defer func() {
		if r := recover(); r != nil {
			res.OK = false
			res.Reason = ReasonPanic
			res.Err = fmt.Errorf("pool: login panicked: %v", r)
		}
		res.Duration = time.Since(start)
		res.FinishedAt = time.Now().UTC()
		if res.Err != nil {
			res.Error = res.Err.Error()
		}
		p.logOutcome(logger, res)
	}()

	if ctx.Err() != nil {
		res.Reason = ReasonCanceled
		res.Err = ctx.Err()
		return res
	}

	taskCtx := ctx
	if p.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, p.cfg.TaskTimeout)
		defer cancel()
	}

	session, err := p.login(taskCtx, seed)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		res.Reason, res.Err = ReasonCanceled, err
		return res
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, env.ErrScoreTimeout):
		res.Reason, res.Err = ReasonTimeout, err
		return res
	default:
		res.Reason, res.Err = ReasonError, err
		return res
	}

	res.OK = true
	res.Reason = ReasonOK
	if session == nil {
		return res
	}
	if n, ok := session.(Named); ok {
		res.Nickname = n.Nickname()
	}
	if p.cfg.KeepOpen {
		p.mu.Lock()
		p.sessions = append(p.sessions, session)
		p.mu.Unlock()
		return res
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := session.Close(closeCtx); err != nil {
		logger.Warn("Failed to close session.", zap.Error(err))
	}
	return res
}

func (p *Pool) logOutcome(logger *zap.Logger, res Result) {
	fields := []zap.Field{
		zap.String("reason", res.Reason),
		zap.Duration("duration", res.Duration),
	}
	if res.Nickname != "" {
		fields = append(fields, zap.String("nickname", res.Nickname))
	}
	if res.OK {
		logger.Info("Login succeeded.", fields...)
		return
	}
	logger.Warn("Login failed.", append(fields, zap.Error(res.Err))...)
}

// Open returns the number of retained sessions.
func (p *Pool) Open() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Release closes every retained session.
func (p *Pool) Release(ctx context.Context) error {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = nil
	p.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		p.logger.Warn("Some sessions failed to close.", zap.Int("count", len(errs)))
	}
	return errors.Join(errs...)
}
