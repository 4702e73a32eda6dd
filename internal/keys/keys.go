// Package keys maps the mnemonic key names named in spec.md §4.D's
// press_key primitive to the fields Input.dispatchKeyEvent expects: a DOM
// "key" value, a "code" value, and the legacy Windows virtual key code that
// some sites still inspect.
//
// Hand-implemented rather than generated, unlike the teacher's kb package
// (see DESIGN.md): spec.md names exactly thirteen mnemonics, not the full
// Chromium key table.
package keys

import "fmt"

// Modifier is a CDP Input.dispatchKeyEvent modifier bitmask, per §4.D.
type Modifier int64

const (
	ModAlt   Modifier = 1
	ModCtrl  Modifier = 2
	ModShift Modifier = 8
	ModMeta  Modifier = 4
)

// Key describes one named, non-printable key for Input.dispatchKeyEvent.
type Key struct {
	Key                   string
	Code                  string
	WindowsVirtualKeyCode int64
	NativeVirtualKeyCode  int64
}

// named is the mnemonic table from spec.md §4.D.
var named = map[string]Key{
	"Enter":      {Key: "Enter", Code: "Enter", WindowsVirtualKeyCode: 13, NativeVirtualKeyCode: 13},
	"Escape":     {Key: "Escape", Code: "Escape", WindowsVirtualKeyCode: 27, NativeVirtualKeyCode: 27},
	"Tab":        {Key: "Tab", Code: "Tab", WindowsVirtualKeyCode: 9, NativeVirtualKeyCode: 9},
	"Backspace":  {Key: "Backspace", Code: "Backspace", WindowsVirtualKeyCode: 8, NativeVirtualKeyCode: 8},
	"Delete":     {Key: "Delete", Code: "Delete", WindowsVirtualKeyCode: 46, NativeVirtualKeyCode: 46},
	"ArrowUp":    {Key: "ArrowUp", Code: "ArrowUp", WindowsVirtualKeyCode: 38, NativeVirtualKeyCode: 38},
	"ArrowDown":  {Key: "ArrowDown", Code: "ArrowDown", WindowsVirtualKeyCode: 40, NativeVirtualKeyCode: 40},
	"ArrowLeft":  {Key: "ArrowLeft", Code: "ArrowLeft", WindowsVirtualKeyCode: 37, NativeVirtualKeyCode: 37},
	"ArrowRight": {Key: "ArrowRight", Code: "ArrowRight", WindowsVirtualKeyCode: 39, NativeVirtualKeyCode: 39},
	"Home":       {Key: "Home", Code: "Home", WindowsVirtualKeyCode: 36, NativeVirtualKeyCode: 36},
	"End":        {Key: "End", Code: "End", WindowsVirtualKeyCode: 35, NativeVirtualKeyCode: 35},
	"PageUp":     {Key: "PageUp", Code: "PageUp", WindowsVirtualKeyCode: 33, NativeVirtualKeyCode: 33},
	"PageDown":   {Key: "PageDown", Code: "PageDown", WindowsVirtualKeyCode: 34, NativeVirtualKeyCode: 34},
}

// Lookup resolves a mnemonic key name, returning false if it isn't one of
// the names press_key accepts.
func Lookup(name string) (Key, bool) {
	k, ok := named[name]
	return k, ok
}

// ModifierMask ORs together the bits for the named modifiers
// ("Ctrl", "Shift", "Alt", "Meta"), per the bitmask in §4.D.
func ModifierMask(names ...string) (Modifier, error) {
	var mask Modifier
	for _, n := range names {
		switch n {
		case "Ctrl", "Control":
			mask |= ModCtrl
		case "Shift":
			mask |= ModShift
		case "Alt":
			mask |= ModAlt
		case "Meta", "Cmd", "Command":
			mask |= ModMeta
		default:
			return 0, fmt.Errorf("keys: unknown modifier %q", n)
		}
	}
	return mask, nil
}
