package env

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aquilax/go-perlin"
	"go.uber.org/zap"

	"github.com/xkilldash9x/aquario/internal/browser"
	"github.com/xkilldash9x/aquario/internal/config"
)

// Strategy names accepted in configuration.
const (
	StartGuest = "guest"
	StartLogin = "login"

	SeedRepeat  = "repeat"
	SeedCapture = "capture"

	TerminateContent = "content"
	TerminateElement = "element"

	BaselineZero    = "zero"
	BaselineScraped = "scraped"

	ActuatorArrows = "arrows"
	ActuatorWASD   = "wasd"
)

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// -- Match start --

// Starter begins a match on a loaded page. The returned Info is merged
// into Reset's info.
type Starter interface {
	Start(ctx context.Context, page browser.Page) (Info, error)
}

// GuestStart clicks the play button.
type GuestStart struct {
	PlaySelector string
}

func (s GuestStart) Start(ctx context.Context, page browser.Page) (Info, error) {
	if err := page.Click(ctx, s.PlaySelector); err != nil {
		return nil, fmt.Errorf("env: click play: %w", err)
	}
	return Info{}, nil
}

// Nicknames generates "<prefix><n>" names with n uniform in [1, max].
type Nicknames struct {
	Prefix string
	Max    int
	rng    *rand.Rand
}

// NewNicknames returns a deterministic generator for seed.
func NewNicknames(prefix string, max int, seed int64) *Nicknames {
	return &Nicknames{Prefix: prefix, Max: max, rng: rand.New(rand.NewSource(seed))}
}

// Next returns the next nickname.
func (n *Nicknames) Next() string {
	return n.Prefix + strconv.Itoa(n.rng.Intn(n.Max)+1)
}

// LoginStart fills the guest login form: nickname, region, mode, clan team,
// then "Play as Guest", pausing between fields.
type LoginStart struct {
	Selectors config.SelectorConfig
	Login     config.LoginConfig
	Pause     time.Duration
	Nicknames *Nicknames
	Logger    *zap.Logger
}

func (s LoginStart) Start(ctx context.Context, page browser.Page) (Info, error) {
	nick := s.Nicknames.Next()
	log := s.Logger.With(zap.String("nickname", nick))

	steps := []struct {
		desc string
		do   func() error
	}{
		{"Entering nickname.", func() error {
			return page.Fill(ctx, s.Selectors.Nickname, nick)
		}},
		{"Selecting region.", func() error {
			_, err := page.SelectOption(ctx, s.Selectors.Server, browser.OptionMatch{Label: s.Login.Server})
			return err
		}},
		{"Selecting mode.", func() error {
			_, err := page.SelectOption(ctx, s.Selectors.Mode, browser.OptionMatch{Label: s.Login.Mode})
			return err
		}},
		{"Selecting clan team.", func() error {
			_, err := page.SelectOption(ctx, s.Selectors.Team, browser.OptionMatch{TextContains: s.Login.Clan})
			if errors.Is(err, browser.ErrOptionNotFound) {
				return fmt.Errorf("%w: no team containing %q", ErrClanNotFound, s.Login.Clan)
			}
			return err
		}},
		{"Joining as guest.", func() error {
			return page.ClickText(ctx, s.Selectors.GuestLabel)
		}},
	}

	for _, step := range steps {
		if err := sleep(ctx, s.Pause); err != nil {
			return nil, err
		}
		log.Info(step.desc)
		if err := step.do(); err != nil {
			return nil, fmt.Errorf("env: login: %s: %w", strings.ToLower(strings.TrimSuffix(step.desc, ".")), err)
		}
	}
	return Info{"nickname": nick}, nil
}

// -- Frame seeding --

// CaptureFunc grabs one preprocessed frame.
type CaptureFunc func(ctx context.Context) (*image.Gray, error)

// Seeder fills the frame stack at the start of an episode.
type Seeder interface {
	Seed(ctx context.Context, capture CaptureFunc, stack *FrameStack) error
}

// RepeatSeed captures once and repeats that frame through the stack.
type RepeatSeed struct{}

func (RepeatSeed) Seed(ctx context.Context, capture CaptureFunc, stack *FrameStack) error {
	f, err := capture(ctx)
	if err != nil {
		return err
	}
	stack.Fill(f)
	return nil
}

// CaptureSeed captures a distinct frame for every slot.
type CaptureSeed struct{}

func (CaptureSeed) Seed(ctx context.Context, capture CaptureFunc, stack *FrameStack) error {
	stack.Clear()
	for i := 0; i < stack.Depth(); i++ {
		f, err := capture(ctx)
		if err != nil {
			return err
		}
		stack.Push(f)
	}
	return nil
}

// -- Termination --

// TerminationDetector decides whether the episode has ended.
type TerminationDetector interface {
	Terminated(ctx context.Context, page browser.Page) (bool, error)
}

// ContentTermination looks for a text anywhere in the page markup.
type ContentTermination struct {
	Text string
}

func (d ContentTermination) Terminated(ctx context.Context, page browser.Page) (bool, error) {
	html, err := page.Content(ctx)
	if err != nil {
		return false, err
	}
	return strings.Contains(html, d.Text), nil
}

// ElementTermination checks for the presence of an element.
type ElementTermination struct {
	Selector string
}

func (d ElementTermination) Terminated(ctx context.Context, page browser.Page) (bool, error) {
	return page.Exists(ctx, d.Selector)
}

// -- Score baseline --

// Baseline produces the score the first step's reward is measured against.
type Baseline interface {
	Initial(ctx context.Context, page browser.Page, scoreSelector string) (int, error)
}

// ZeroBaseline always starts from 0.
type ZeroBaseline struct{}

func (ZeroBaseline) Initial(context.Context, browser.Page, string) (int, error) { return 0, nil }

// ScrapedBaseline reads the score shown when the match starts.
type ScrapedBaseline struct{}

func (ScrapedBaseline) Initial(ctx context.Context, page browser.Page, scoreSelector string) (int, error) {
	text, err := page.Text(ctx, scoreSelector)
	if err != nil {
		return 0, err
	}
	return ParseScore(text), nil
}

// -- Actuation --

// Actuator turns an action index into page input.
type Actuator interface {
	Meanings() []string
	Act(ctx context.Context, page browser.Page, action int) error
}

// ArrowActuator: 0-3 press an arrow key, 4 clicks a fixed point, 5 does
// nothing. Every action is followed by a settle delay.
type ArrowActuator struct {
	ClickX, ClickY float64
	Settle         time.Duration
}

var arrowKeys = []string{"ArrowUp", "ArrowDown", "ArrowLeft", "ArrowRight"}

func (a ArrowActuator) Meanings() []string {
	return []string{"ArrowUp", "ArrowDown", "ArrowLeft", "ArrowRight", "Click", "NoOp"}
}

func (a ArrowActuator) Act(ctx context.Context, page browser.Page, action int) error {
	var err error
	switch {
	case action < len(arrowKeys):
		err = page.PressKey(ctx, arrowKeys[action])
	case action == 4:
		err = page.MouseClick(ctx, a.ClickX, a.ClickY)
	}
	if err != nil {
		return err
	}
	return sleep(ctx, a.Settle)
}

// HoldActuator: 0 waits for Hold without input, 1-4 hold w, d, s, a for
// Hold. A non-zero Jitter stretches or shrinks each hold by up to that
// fraction, following a smooth noise curve so consecutive holds stay close
// to each other.
type HoldActuator struct {
	Hold   time.Duration
	Jitter float64

	noise *perlin.Perlin
	steps atomic.Int64
}

// NewHoldActuator seeds the jitter noise with seed.
func NewHoldActuator(hold time.Duration, jitter float64, seed int64) *HoldActuator {
	a := &HoldActuator{Hold: hold, Jitter: jitter}
	if jitter > 0 {
		a.noise = perlin.NewPerlin(2, 2, 3, seed)
	}
	return a
}

var holdKeys = []string{"", "w", "d", "s", "a"}

func (a *HoldActuator) Meanings() []string {
	return []string{"NoOp", "w", "d", "s", "a"}
}

// holdFor returns the duration of the next key hold.
func (a *HoldActuator) holdFor() time.Duration {
	if a.noise == nil || a.Jitter <= 0 {
		return a.Hold
	}
	n := a.noise.Noise1D(float64(a.steps.Add(1)) * holdNoiseFrequency)
	n = math.Max(-1, math.Min(1, n))
	d := time.Duration(float64(a.Hold) * (1 + a.Jitter*n))
	if d < 0 {
		return 0
	}
	return d
}

const holdNoiseFrequency = 0.1

func (a *HoldActuator) Act(ctx context.Context, page browser.Page, action int) error {
	key := holdKeys[action]
	if key == "" {
		// A no-op still takes one hold so every step runs at the same cadence.
		return sleep(ctx, a.holdFor())
	}
	if err := page.KeyDown(ctx, key); err != nil {
		return err
	}
	if err := sleep(ctx, a.holdFor()); err != nil {
		// Never leave a key stuck down.
		_ = page.KeyUp(browser.Detach(ctx), key)
		return err
	}
	return page.KeyUp(ctx, key)
}
