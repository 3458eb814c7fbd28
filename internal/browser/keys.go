// internal/browser/keys.go
package browser

import (
	"fmt"
	"unicode/utf8"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp/kb"
)

// namedKeys maps DOM key names to the chromedp/kb rune strings.
var namedKeys = map[string]string{
	"ArrowUp":    kb.ArrowUp,
	"ArrowDown":  kb.ArrowDown,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
	"Enter":      kb.Enter,
	"Escape":     kb.Escape,
	"Tab":        kb.Tab,
	"Backspace":  kb.Backspace,
	"Space":      " ",
}

// keyDefinition resolves a key name ("ArrowUp", "w", "Enter") to its kb entry.
func keyDefinition(name string) (*kb.Key, error) {
	s, ok := namedKeys[name]
	if !ok {
		s = name
	}
	if utf8.RuneCountInString(s) != 1 {
		return nil, fmt.Errorf("browser: unknown key %q", name)
	}
	r, _ := utf8.DecodeRuneInString(s)
	k, ok := kb.Keys[r]
	if !ok {
		return nil, fmt.Errorf("browser: no key definition for %q", name)
	}
	return k, nil
}

// keyEvent builds a single down or up event for the named key. Printable keys
// carry their text on keydown so the page also receives a keypress.
func keyEvent(name string, typ input.KeyType) (*input.DispatchKeyEventParams, error) {
	k, err := keyDefinition(name)
	if err != nil {
		return nil, err
	}
	ev := input.DispatchKeyEvent(typ).
		WithKey(k.Key).
		WithCode(k.Code).
		WithNativeVirtualKeyCode(k.Native).
		WithWindowsVirtualKeyCode(k.Windows)
	if typ == input.KeyDown && k.Print {
		ev = ev.WithText(k.Text).WithUnmodifiedText(k.Unmodified)
	} else if typ == input.KeyDown {
		ev.Type = input.KeyRawDown
	}
	return ev, nil
}
