// Package browsertest provides an in-memory browser.Page and helpers for
// tests that need a real browser.
package browsertest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/aquario/internal/browser"
)

// FakePage is a scripted browser.Page. Selector queries run against HTML
// (supports "#id", "tag" and "tag[attr='value']"), screenshots and text reads
// are served from queues whose last element repeats once drained.
type FakePage struct {
	mu sync.Mutex

	id      string
	html    string
	frames  [][]byte
	texts   map[string][]string
	visible map[string]bool
	options map[string][]string
	fail    map[string]error

	calls  []string
	closed bool
}

var _ browser.Page = (*FakePage)(nil)

// NewFakePage returns a page serving doc.
func NewFakePage(doc string) *FakePage {
	return &FakePage{
		id:      uuid.NewString(),
		html:    doc,
		texts:   make(map[string][]string),
		visible: make(map[string]bool),
		options: make(map[string][]string),
		fail:    make(map[string]error),
	}
}

// SetHTML replaces the document.
func (p *FakePage) SetHTML(doc string) {
	p.mu.Lock()
	p.html = doc
	p.mu.Unlock()
}

// QueueFrames appends PNG screenshots.
func (p *FakePage) QueueFrames(frames ...[]byte) {
	p.mu.Lock()
	p.frames = append(p.frames, frames...)
	p.mu.Unlock()
}

// QueueText appends values returned by Text(selector).
func (p *FakePage) QueueText(selector string, values ...string) {
	p.mu.Lock()
	p.texts[selector] = append(p.texts[selector], values...)
	p.mu.Unlock()
}

// SetVisible controls whether WaitVisible(selector) succeeds.
func (p *FakePage) SetVisible(selector string, visible bool) {
	p.mu.Lock()
	p.visible[selector] = visible
	p.mu.Unlock()
}

// SetOptions defines the option labels of a <select>.
func (p *FakePage) SetOptions(selector string, labels ...string) {
	p.mu.Lock()
	p.options[selector] = labels
	p.mu.Unlock()
}

// FailOn makes the named operation ("screenshot", "click", ...) return err.
func (p *FakePage) FailOn(op string, err error) {
	p.mu.Lock()
	p.fail[op] = err
	p.mu.Unlock()
}

// Calls returns the operations performed so far, e.g. "keydown w".
func (p *FakePage) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Closed reports whether Close was called.
func (p *FakePage) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// begin records a call and returns the scripted failure for op, if any.
func (p *FakePage) begin(op, detail string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return browser.ErrTabClosed
	}
	call := op
	if detail != "" {
		call += " " + detail
	}
	p.calls = append(p.calls, call)
	return p.fail[op]
}

func (p *FakePage) ID() string { return p.id }

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	return p.begin("navigate", url)
}

func (p *FakePage) Evaluate(ctx context.Context, expression string, res interface{}) error {
	return p.begin("evaluate", expression)
}

func (p *FakePage) Click(ctx context.Context, selector string) error {
	return p.begin("click", selector)
}

func (p *FakePage) ClickText(ctx context.Context, text string) error {
	return p.begin("clicktext", text)
}

func (p *FakePage) Fill(ctx context.Context, selector, value string) error {
	return p.begin("fill", selector+"="+value)
}

func (p *FakePage) SelectOption(ctx context.Context, selector string, match browser.OptionMatch) (string, error) {
	if err := p.begin("select", selector); err != nil {
		return "", err
	}
	p.mu.Lock()
	labels, ok := p.options[selector]
	p.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("fake: select %s: element not found", selector)
	}
	for _, label := range labels {
		switch {
		case match.Label != "" && label == match.Label,
			match.Label == "" && match.Value != "" && label == match.Value,
			match.Label == "" && match.Value == "" && match.TextContains != "" && strings.Contains(label, match.TextContains):
			return label, nil
		}
	}
	return "", fmt.Errorf("%w in %s", browser.ErrOptionNotFound, selector)
}

func (p *FakePage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if err := p.begin("wait", selector); err != nil {
		return err
	}
	p.mu.Lock()
	visible := p.visible[selector]
	p.mu.Unlock()
	if !visible {
		return fmt.Errorf("fake: wait for %s timed out after %v: %w", selector, timeout, context.DeadlineExceeded)
	}
	return nil
}

func (p *FakePage) Exists(ctx context.Context, selector string) (bool, error) {
	if err := p.begin("exists", selector); err != nil {
		return false, err
	}
	doc, err := p.parse()
	if err != nil {
		return false, err
	}
	return findFirst(doc, selector) != nil, nil
}

func (p *FakePage) Text(ctx context.Context, selector string) (string, error) {
	if err := p.begin("text", selector); err != nil {
		return "", err
	}
	p.mu.Lock()
	if q := p.texts[selector]; len(q) > 0 {
		v := q[0]
		if len(q) > 1 {
			p.texts[selector] = q[1:]
		}
		p.mu.Unlock()
		return v, nil
	}
	p.mu.Unlock()

	doc, err := p.parse()
	if err != nil {
		return "", err
	}
	n := findFirst(doc, selector)
	if n == nil {
		return "", nil
	}
	return textOf(n), nil
}

func (p *FakePage) Content(ctx context.Context) (string, error) {
	if err := p.begin("content", ""); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *FakePage) Screenshot(ctx context.Context) ([]byte, error) {
	if err := p.begin("screenshot", ""); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.frames) == 0 {
		return SolidPNG(640, 480, 0), nil
	}
	f := p.frames[0]
	if len(p.frames) > 1 {
		p.frames = p.frames[1:]
	}
	return f, nil
}

func (p *FakePage) KeyDown(ctx context.Context, key string) error {
	return p.begin("keydown", key)
}

func (p *FakePage) KeyUp(ctx context.Context, key string) error {
	return p.begin("keyup", key)
}

func (p *FakePage) PressKey(ctx context.Context, key string) error {
	return p.begin("press", key)
}

func (p *FakePage) MouseClick(ctx context.Context, x, y float64) error {
	return p.begin("mouse", fmt.Sprintf("%g,%g", x, y))
}

func (p *FakePage) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *FakePage) parse() (*html.Node, error) {
	p.mu.Lock()
	doc := p.html
	p.mu.Unlock()
	n, err := htmlquery.Parse(strings.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("fake: parse document: %w", err)
	}
	return n, nil
}

// SolidPNG encodes a w×h image filled with one gray level.
func SolidPNG(w, h int, level uint8) []byte {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = level
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// ColorPNG encodes a w×h image filled with one RGB color.
func ColorPNG(w, h int, c color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
