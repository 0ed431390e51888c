package app

// FocusAction is the outcome of a key press inside a modal view.
type FocusAction int

const (
	FocusIgnore FocusAction = iota
	FocusMove
	FocusClose
)

// FocusTrap keeps keyboard focus inside an open quiz or detail view: Escape
// closes it and Tab / Shift+Tab cycle through its controls, wrapping at both ends.
type FocusTrap struct {
	controls []string
	index    int
}

func NewFocusTrap(controls ...string) *FocusTrap {
	return &FocusTrap{controls: append([]string(nil), controls...)}
}

// Current returns the focused control id, or "" when there are no controls.
func (f *FocusTrap) Current() string {
	if len(f.controls) == 0 {
		return ""
	}
	return f.controls[f.index]
}

// Focus moves focus to id if it belongs to the trap.
func (f *FocusTrap) Focus(id string) bool {
	for i, c := range f.controls {
		if c == id {
			f.index = i
			return true
		}
	}
	return false
}

// SetControls replaces the focusable set, keeping focus on the same id when possible.
func (f *FocusTrap) SetControls(controls ...string) {
	current := f.Current()
	f.controls = append([]string(nil), controls...)
	f.index = 0
	f.Focus(current)
}

// HandleKey applies a key press and returns the action with the newly focused control.
func (f *FocusTrap) HandleKey(key string, shift bool) (FocusAction, string) {
	switch key {
	case "Escape", "Esc":
		return FocusClose, f.Current()
	case "Tab":
		n := len(f.controls)
		if n == 0 {
			return FocusIgnore, ""
		}
		if shift {
			f.index = (f.index - 1 + n) % n
		} else {
			f.index = (f.index + 1) % n
		}
		return FocusMove, f.Current()
	default:
		return FocusIgnore, f.Current()
	}
}
