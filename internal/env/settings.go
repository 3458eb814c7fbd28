package env

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/aquario/internal/config"
)

// preset holds the per-variant defaults for every strategy.
type preset struct {
	start, seeding, termination, baseline, actuator, interpolation string
	scoreTimeout                                                   time.Duration
	width, height                                                  int
}

var presets = map[string]preset{
	config.VariantSimple: {
		start:         StartGuest,
		seeding:       SeedRepeat,
		termination:   TerminateContent,
		baseline:      BaselineZero,
		actuator:      ActuatorArrows,
		interpolation: InterpLinear,
		scoreTimeout:  5 * time.Second,
		width:         640,
		height:        480,
	},
	config.VariantLogin: {
		start:         StartLogin,
		seeding:       SeedCapture,
		termination:   TerminateElement,
		baseline:      BaselineScraped,
		actuator:      ActuatorWASD,
		interpolation: InterpArea,
		scoreTimeout:  20 * time.Second,
		width:         800,
		height:        600,
	},
}

// Settings is a fully resolved environment configuration.
type Settings struct {
	Game          config.GameConfig
	Width, Height int
	ScoreTimeout  time.Duration

	// Names of the strategies in use, for logs.
	StartName, SeedingName, TerminationName, BaselineName, ActuatorName, InterpolationName string

	Starter     Starter
	Seeder      Seeder
	Termination TerminationDetector
	Baseline    Baseline
	Actuator    Actuator
}

func pick(override, fallback string) string {
	if s := strings.ToLower(strings.TrimSpace(override)); s != "" {
		return s
	}
	return fallback
}

// Resolve applies the variant preset to cfg and builds the strategies.
func Resolve(cfg config.GameConfig, logger *zap.Logger) (*Settings, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	variant := strings.ToLower(strings.TrimSpace(cfg.Variant))
	p, ok := presets[variant]
	if !ok {
		return nil, fmt.Errorf("%w: variant %q", ErrUnknownStrategy, cfg.Variant)
	}

	s := &Settings{
		Game:              cfg,
		Width:             p.width,
		Height:            p.height,
		ScoreTimeout:      p.scoreTimeout,
		StartName:         pick(cfg.Start, p.start),
		SeedingName:       pick(cfg.Seeding, p.seeding),
		TerminationName:   pick(cfg.Termination, p.termination),
		BaselineName:      pick(cfg.Baseline, p.baseline),
		ActuatorName:      pick(cfg.Actuator, p.actuator),
		InterpolationName: pick(cfg.Interpolation, p.interpolation),
	}
	s.Game.Variant = variant
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		s.Width, s.Height = cfg.Viewport.Width, cfg.Viewport.Height
	}
	if cfg.ScoreTimeout > 0 {
		s.ScoreTimeout = cfg.ScoreTimeout
	}

	switch s.StartName {
	case StartGuest:
		s.Starter = GuestStart{PlaySelector: cfg.Selectors.Play}
	case StartLogin:
		max := cfg.Login.NicknameMax
		if max < 1 {
			max = 1
		}
		s.Starter = LoginStart{
			Selectors: cfg.Selectors,
			Login:     cfg.Login,
			Pause:     cfg.FormPause,
			Nicknames: NewNicknames(cfg.Login.NicknamePrefix, max, cfg.Seed),
			Logger:    logger.Named("login"),
		}
	default:
		return nil, fmt.Errorf("%w: start %q", ErrUnknownStrategy, s.StartName)
	}

	switch s.SeedingName {
	case SeedRepeat:
		s.Seeder = RepeatSeed{}
	case SeedCapture:
		s.Seeder = CaptureSeed{}
	default:
		return nil, fmt.Errorf("%w: seeding %q", ErrUnknownStrategy, s.SeedingName)
	}

	switch s.TerminationName {
	case TerminateContent:
		s.Termination = ContentTermination{Text: cfg.GameOverText}
	case TerminateElement:
		s.Termination = ElementTermination{Selector: cfg.Selectors.GameOver}
	default:
		return nil, fmt.Errorf("%w: termination %q", ErrUnknownStrategy, s.TerminationName)
	}

	switch s.BaselineName {
	case BaselineZero:
		s.Baseline = ZeroBaseline{}
	case BaselineScraped:
		s.Baseline = ScrapedBaseline{}
	default:
		return nil, fmt.Errorf("%w: baseline %q", ErrUnknownStrategy, s.BaselineName)
	}

	switch s.ActuatorName {
	case ActuatorArrows:
		s.Actuator = ArrowActuator{ClickX: cfg.ClickX, ClickY: cfg.ClickY, Settle: cfg.SettleDelay}
	case ActuatorWASD:
		s.Actuator = NewHoldActuator(cfg.KeyHold, cfg.KeyHoldJitter, cfg.Seed)
	default:
		return nil, fmt.Errorf("%w: actuator %q", ErrUnknownStrategy, s.ActuatorName)
	}

	if _, err := interpolator(s.InterpolationName); err != nil {
		return nil, err
	}
	return s, nil
}
