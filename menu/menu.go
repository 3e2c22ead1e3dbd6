// Package menu implements the anchored single-choice menu used by the
// composer (importance) and the calendar view (view mode).
//
// A Menu is either closed (no anchor) or open (anchored to the element that
// opened it). Selecting an option commits it and closes the menu in one
// step; dismissing closes it without touching the selection.
//
// Menu does no locking of its own. Owners serialize access with their own
// mutex.
package menu

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyOpen = errors.New("menu is already open")
	ErrClosed      = errors.New("menu is not open")
	ErrNoAnchor    = errors.New("menu anchor is required")
	ErrUnknown     = errors.New("option is not offered by this menu")
)

// Menu is a single-choice overlay over the options of type T
type Menu[T comparable] struct {
	options   []T
	anchor    string
	selection T
	selected  bool
	onCommit  func(T)
}

// New creates a closed menu offering options. onCommit, when non-nil, is
// called with the chosen option every time Select succeeds.
func New[T comparable](options []T, onCommit func(T)) *Menu[T] {
	opts := make([]T, len(options))
	copy(opts, options)
	return &Menu[T]{options: opts, onCommit: onCommit}
}

// Open anchors the menu to the element identified by anchor
func (m *Menu[T]) Open(anchor string) error {
	if anchor == "" {
		return ErrNoAnchor
	}
	if m.anchor != "" {
		return fmt.Errorf("%w (anchored to %q)", ErrAlreadyOpen, m.anchor)
	}
	m.anchor = anchor
	return nil
}

// Select commits option as the selection and closes the menu
func (m *Menu[T]) Select(option T) error {
	if m.anchor == "" {
		return ErrClosed
	}
	if !m.Offers(option) {
		return fmt.Errorf("%w: %v", ErrUnknown, option)
	}
	m.selection = option
	m.selected = true
	m.anchor = ""
	if m.onCommit != nil {
		m.onCommit(option)
	}
	return nil
}

// Dismiss closes the menu without changing the selection. Dismissing a
// closed menu does nothing.
func (m *Menu[T]) Dismiss() {
	m.anchor = ""
}

// Preset sets the selection without going through the open state. It is
// used when seeding state from stored data and does not fire onCommit.
func (m *Menu[T]) Preset(option T) error {
	if !m.Offers(option) {
		return fmt.Errorf("%w: %v", ErrUnknown, option)
	}
	m.selection = option
	m.selected = true
	return nil
}

func (m *Menu[T]) IsOpen() bool {
	return m.anchor != ""
}

// Anchor returns the element the menu is anchored to, or "" when closed
func (m *Menu[T]) Anchor() string {
	return m.anchor
}

// Selection returns the committed option and whether one has been chosen
func (m *Menu[T]) Selection() (T, bool) {
	return m.selection, m.selected
}

// Options returns a copy of the offered options
func (m *Menu[T]) Options() []T {
	out := make([]T, len(m.options))
	copy(out, m.options)
	return out
}

// Offers reports whether option is one of the menu's options
func (m *Menu[T]) Offers(option T) bool {
	for _, o := range m.options {
		if o == option {
			return true
		}
	}
	return false
}

// State is a serializable view of a menu
type State[T comparable] struct {
	Open      bool   `json:"open"`
	Anchor    string `json:"anchor,omitempty"`
	Selection *T     `json:"selection"`
	Options   []T    `json:"options"`
}

// Snapshot captures the current state of the menu
func (m *Menu[T]) Snapshot() State[T] {
	s := State[T]{
		Open:    m.IsOpen(),
		Anchor:  m.anchor,
		Options: m.Options(),
	}
	if m.selected {
		sel := m.selection
		s.Selection = &sel
	}
	return s
}
