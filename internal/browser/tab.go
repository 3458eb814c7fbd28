// internal/browser/tab.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/aquario/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Tab is one page in its own browser context. It implements Page.
type Tab struct {
	id     string
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	actionTimeout     time.Duration
	navigationTimeout time.Duration
	postLoadWait      time.Duration

	recorder *Recorder
	onClose  func()

	mu     sync.Mutex
	closed bool
}

var _ Page = (*Tab)(nil)

func newTab(id string, ctx context.Context, cancel context.CancelFunc, cfg config.BrowserConfig, logger *zap.Logger) *Tab {
	return &Tab{
		id:                id,
		logger:            logger.Named("tab").With(zap.String("tab_id", id)),
		ctx:               ctx,
		cancel:            cancel,
		actionTimeout:     cfg.ActionTimeout,
		navigationTimeout: cfg.NavigationTimeout,
		postLoadWait:      cfg.PostLoadWait,
	}
}

// init creates the target, applies the viewport and starts recording if asked.
func (t *Tab) init(ctx context.Context, opts TabOptions) error {
	timeout := t.actionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if err := startTarget(ctx, t.ctx, timeout, t.cancel); err != nil {
		return fmt.Errorf("browser: create target: %w", err)
	}
	if opts.Width > 0 && opts.Height > 0 {
		err := t.run(ctx, t.actionTimeout, "set viewport",
			chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)))
		if err != nil {
			return err
		}
	}

	if opts.RecordDir != "" {
		rec, err := StartRecorder(t.ctx, opts.RecordDir, t.id, opts.Width, opts.Height, t.logger)
		if err != nil {
			return err
		}
		t.recorder = rec
	}
	return nil
}

// ID returns the tab's unique identifier.
func (t *Tab) ID() string { return t.id }

func (t *Tab) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// run executes actions on the tab, bounded by both ctx and timeout.
func (t *Tab) run(ctx context.Context, timeout time.Duration, op string, actions ...chromedp.Action) error {
	if t.isClosed() {
		return ErrTabClosed
	}

	runCtx, cancel := CombineContext(t.ctx, ctx)
	defer cancel()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("browser: %s timed out after %v: %w", op, timeout, context.DeadlineExceeded)
		}
		return fmt.Errorf("browser: %s failed: %w", op, err)
	}
	return nil
}

// Navigate loads url, waits for the body and then for the post-load settle time.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	t.logger.Debug("Navigating.", zap.String("url", url))
	return t.run(ctx, t.navigationTimeout, "navigate",
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(t.postLoadWait),
	)
}

func (t *Tab) Evaluate(ctx context.Context, expression string, res interface{}) error {
	return t.run(ctx, t.actionTimeout, "evaluate", chromedp.Evaluate(expression, res))
}

func (t *Tab) Click(ctx context.Context, selector string) error {
	return t.run(ctx, t.actionTimeout, "click "+selector,
		chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (t *Tab) ClickText(ctx context.Context, text string) error {
	xpath := fmt.Sprintf("//*[normalize-space(text())=%s]", xpathLiteral(text))
	return t.run(ctx, t.actionTimeout, fmt.Sprintf("click text %q", text),
		chromedp.Click(xpath, chromedp.BySearch, chromedp.NodeVisible))
}

const fillScript = `(function(sel, value) {
	const el = document.querySelector(sel);
	if (!el) { return false; }
	el.focus();
	el.value = value;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
})(%s, %s)`

func (t *Tab) Fill(ctx context.Context, selector, value string) error {
	var found bool
	script := fmt.Sprintf(fillScript, jsonEncode(selector), jsonEncode(value))
	if err := t.run(ctx, t.actionTimeout, "fill "+selector, chromedp.Evaluate(script, &found)); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("browser: fill %s: element not found", selector)
	}
	return nil
}

// selectScript reports whether the select exists and which label, if any,
// was chosen.
const selectScript = `(function(sel, m) {
	const el = document.querySelector(sel);
	if (!el) { return { found: false, label: "" }; }
	const opts = Array.from(el.options);
	let hit;
	if (m.label) { hit = opts.find(o => o.label.trim() === m.label); }
	else if (m.value) { hit = opts.find(o => o.value === m.value); }
	else if (m.text) { hit = opts.find(o => o.text.includes(m.text)); }
	if (!hit) { return { found: true, label: "" }; }
	el.value = hit.value;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return { found: true, label: hit.label || hit.text };
})(%s, %s)`

type selectResult struct {
	Found bool   `json:"found"`
	Label string `json:"label"`
}

type optionQuery struct {
	Label string `json:"label,omitempty"`
	Value string `json:"value,omitempty"`
	Text  string `json:"text,omitempty"`
}

func (t *Tab) SelectOption(ctx context.Context, selector string, match OptionMatch) (string, error) {
	q := optionQuery{Label: match.Label, Value: match.Value, Text: match.TextContains}
	script := fmt.Sprintf(selectScript, jsonEncode(selector), jsonEncode(q))

	var res selectResult
	if err := t.run(ctx, t.actionTimeout, "select "+selector, chromedp.Evaluate(script, &res)); err != nil {
		return "", err
	}
	if !res.Found {
		return "", fmt.Errorf("browser: select %s: element not found", selector)
	}
	if res.Label == "" {
		return "", fmt.Errorf("%w in %s for %+v", ErrOptionNotFound, selector, match)
	}
	return res.Label, nil
}

func (t *Tab) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return t.run(ctx, timeout, "wait for "+selector,
		chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (t *Tab) Exists(ctx context.Context, selector string) (bool, error) {
	var ok bool
	script := fmt.Sprintf("document.querySelector(%s) !== null", jsonEncode(selector))
	err := t.run(ctx, t.actionTimeout, "query "+selector, chromedp.Evaluate(script, &ok))
	return ok, err
}

func (t *Tab) Text(ctx context.Context, selector string) (string, error) {
	var text string
	script := fmt.Sprintf("(function(el){ return el ? el.innerText : ''; })(document.querySelector(%s))", jsonEncode(selector))
	err := t.run(ctx, t.actionTimeout, "read "+selector, chromedp.Evaluate(script, &text))
	return text, err
}

func (t *Tab) Content(ctx context.Context) (string, error) {
	var html string
	err := t.run(ctx, t.actionTimeout, "read content", chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (t *Tab) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := t.run(ctx, t.actionTimeout, "screenshot", chromedp.CaptureScreenshot(&buf))
	return buf, err
}

func (t *Tab) dispatchKey(ctx context.Context, key string, types ...input.KeyType) error {
	actions := make([]chromedp.Action, 0, len(types))
	for _, typ := range types {
		ev, err := keyEvent(key, typ)
		if err != nil {
			return err
		}
		actions = append(actions, ev)
	}
	return t.run(ctx, t.actionTimeout, "key "+key, actions...)
}

func (t *Tab) KeyDown(ctx context.Context, key string) error {
	return t.dispatchKey(ctx, key, input.KeyDown)
}

func (t *Tab) KeyUp(ctx context.Context, key string) error {
	return t.dispatchKey(ctx, key, input.KeyUp)
}

func (t *Tab) PressKey(ctx context.Context, key string) error {
	return t.dispatchKey(ctx, key, input.KeyDown, input.KeyUp)
}

func (t *Tab) MouseClick(ctx context.Context, x, y float64) error {
	return t.run(ctx, t.actionTimeout, "mouse click", chromedp.MouseClickXY(x, y))
}

// Close stops recording and closes the tab and its browser context. It never
// touches the browser process itself.
func (t *Tab) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	rec := t.recorder
	t.mu.Unlock()

	if rec != nil {
		if err := rec.Stop(ctx); err != nil {
			t.logger.Warn("Failed to stop screencast.", zap.Error(err))
		}
	}

	t.cancel()

	waitCtx, cancelWait := context.WithTimeout(ctx, 10*time.Second)
	defer cancelWait()
	select {
	case <-t.ctx.Done():
		t.logger.Debug("Tab closed.")
	case <-waitCtx.Done():
		t.logger.Warn("Deadline exceeded waiting for tab to close.", zap.Error(waitCtx.Err()))
	}

	if t.onClose != nil {
		t.onClose()
	}
	return nil
}

// xpathLiteral quotes s for use in an XPath expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}

func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
