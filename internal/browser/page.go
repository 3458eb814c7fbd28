// internal/browser/page.go
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTabClosed is returned by every Page operation after Close.
	ErrTabClosed = errors.New("browser: tab is closed")
	// ErrOptionNotFound is returned by SelectOption when no option matches.
	ErrOptionNotFound = errors.New("browser: no matching option")
	// ErrLauncherClosed is returned when opening a tab on a shut down launcher.
	ErrLauncherClosed = errors.New("browser: launcher is shut down")
)

// OptionMatch selects a <select> option. The first non-empty field decides
// how options are compared: exact label, exact value, or label substring.
type OptionMatch struct {
	Label        string
	Value        string
	TextContains string
}

// Page is the set of page operations the game environment needs. Tab is the
// chromedp implementation; tests substitute fakes.
type Page interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	// Evaluate runs a JavaScript expression and decodes its result into res (may be nil).
	Evaluate(ctx context.Context, expression string, res interface{}) error
	Click(ctx context.Context, selector string) error
	// ClickText clicks the first visible element whose trimmed text equals text.
	ClickText(ctx context.Context, text string) error
	Fill(ctx context.Context, selector, value string) error
	// SelectOption picks an option and returns the label that was selected.
	SelectOption(ctx context.Context, selector string, match OptionMatch) (string, error)
	// WaitVisible blocks until selector is visible or the timeout elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Exists(ctx context.Context, selector string) (bool, error)
	// Text returns the innerText of the first match, or "" if nothing matches.
	Text(ctx context.Context, selector string) (string, error)
	Content(ctx context.Context) (string, error)
	// Screenshot captures the viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	KeyDown(ctx context.Context, key string) error
	KeyUp(ctx context.Context, key string) error
	PressKey(ctx context.Context, key string) error
	MouseClick(ctx context.Context, x, y float64) error
	Close(ctx context.Context) error
}

// TabOptions configures a newly opened tab.
type TabOptions struct {
	Width  int
	Height int
	// RecordDir, when set, receives a JPEG screencast of the tab.
	RecordDir string
}

// PageOpener hands out isolated pages. Launcher implements it.
type PageOpener interface {
	OpenPage(ctx context.Context, opts TabOptions) (Page, error)
}
