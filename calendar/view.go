// Package calendar keeps the per-user calendar view: which span is shown
// (day, week or month, chosen through an anchored menu), the date the span
// is built around, and the events that fall inside it.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"graphmail/menu"
	"graphmail/models"
	"graphmail/utils"
)

var ErrStep = errors.New("navigation step must be -1, 0 or 1")

// EventSource lists the events between start and end
type EventSource interface {
	ListEvents(ctx context.Context, start, end time.Time) ([]models.Event, error)
}

// Options configures a View
type Options struct {
	Owner     string
	Source    EventSource
	Cache     *utils.MemoryCache
	CacheTTL  time.Duration
	WeekStart time.Weekday
	Location  *time.Location
	OnChange  func(State)
	Now       func() time.Time
}

// View is one user's calendar view state
type View struct {
	mu     sync.Mutex
	mode   *menu.Menu[models.ViewMode]
	anchor time.Time

	owner     string
	source    EventSource
	cache     *utils.MemoryCache
	ttl       time.Duration
	weekStart time.Weekday
	loc       *time.Location
	onChange  func(State)
	now       func() time.Time

	committed *State // set by the menu commit, flushed after unlock
}

// State is the serializable view state
type State struct {
	Mode  models.ViewMode             `json:"mode"`
	Menu  menu.State[models.ViewMode] `json:"menu"`
	Date  string                      `json:"date"`
	Start time.Time                   `json:"start"`
	End   time.Time                   `json:"end"`
}

// NewView creates a week view around today
func NewView(opts Options) *View {
	v := &View{
		owner:     opts.Owner,
		source:    opts.Source,
		cache:     opts.Cache,
		ttl:       opts.CacheTTL,
		weekStart: opts.WeekStart,
		loc:       opts.Location,
		onChange:  opts.OnChange,
		now:       opts.Now,
	}
	if v.now == nil {
		v.now = time.Now
	}
	if v.loc == nil {
		v.loc = time.Local
	}
	v.mode = menu.New(models.ViewModeOptions, v.commitMode)
	_ = v.mode.Preset(models.ViewWeek)
	v.anchor = v.today()
	return v
}

// ParseWeekStart maps the configured week start to a weekday
func ParseWeekStart(s string) time.Weekday {
	if strings.EqualFold(s, "monday") {
		return time.Monday
	}
	return time.Sunday
}

func (v *View) today() time.Time {
	return midnight(v.now().In(v.loc))
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// State returns a snapshot of the view
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stateLocked()
}

func (v *View) stateLocked() State {
	mode, _ := v.mode.Selection()
	start, end := v.rangeLocked()
	return State{
		Mode:  mode,
		Menu:  v.mode.Snapshot(),
		Date:  v.anchor.Format("2006-01-02"),
		Start: start,
		End:   end,
	}
}

// Range returns the half-open span [start, end) currently shown
func (v *View) Range() (time.Time, time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rangeLocked()
}

func (v *View) rangeLocked() (time.Time, time.Time) {
	mode, _ := v.mode.Selection()
	switch mode {
	case models.ViewDay:
		return v.anchor, v.anchor.AddDate(0, 0, 1)
	case models.ViewMonth:
		first := time.Date(v.anchor.Year(), v.anchor.Month(), 1, 0, 0, 0, 0, v.loc)
		return first, first.AddDate(0, 1, 0)
	default:
		offset := (int(v.anchor.Weekday()) - int(v.weekStart) + 7) % 7
		start := v.anchor.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	}
}

// OpenViewMenu anchors the view-mode menu to the triggering element
func (v *View) OpenViewMenu(anchor string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mode.Open(anchor)
}

// SelectView commits mode and closes the menu
func (v *View) SelectView(mode models.ViewMode) error {
	v.mu.Lock()
	err := v.mode.Select(mode)
	committed := v.committed
	v.committed = nil
	v.mu.Unlock()

	if committed != nil {
		v.notify(*committed)
	}
	return err
}

// commitMode runs under v.mu when the menu commits a mode
func (v *View) commitMode(models.ViewMode) {
	state := v.stateLocked()
	v.committed = &state
}

// DismissViewMenu closes the menu and keeps the current mode
func (v *View) DismissViewMenu() {
	v.mu.Lock()
	v.mode.Dismiss()
	v.mu.Unlock()
}

// Navigate moves one span back (-1) or forward (1), or back to today (0)
func (v *View) Navigate(step int) error {
	if step < -1 || step > 1 {
		return fmt.Errorf("%w, got %d", ErrStep, step)
	}

	v.mu.Lock()
	mode, _ := v.mode.Selection()
	switch {
	case step == 0:
		v.anchor = v.today()
	case mode == models.ViewDay:
		v.anchor = v.anchor.AddDate(0, 0, step)
	case mode == models.ViewMonth:
		// from the first of the month so that Jan 31 + 1 does not skip February
		first := time.Date(v.anchor.Year(), v.anchor.Month(), 1, 0, 0, 0, 0, v.loc)
		v.anchor = first.AddDate(0, step, 0)
	default:
		v.anchor = v.anchor.AddDate(0, 0, 7*step)
	}
	state := v.stateLocked()
	v.mu.Unlock()

	v.notify(state)
	return nil
}

// Events returns the events inside the current range, from the cache when
// the same range was fetched within the TTL
func (v *View) Events(ctx context.Context) ([]models.Event, error) {
	start, end := v.Range()
	key := v.cacheKey(start, end)

	if v.cache != nil {
		if cached, ok := v.cache.Get(key); ok {
			if events, ok := cached.([]models.Event); ok {
				return events, nil
			}
		}
	}
	if v.source == nil {
		return nil, errors.New("calendar has no event source")
	}

	events, err := v.source.ListEvents(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	if v.cache != nil && v.ttl > 0 {
		v.cache.Set(key, events, v.ttl)
	}
	return events, nil
}

// Invalidate drops every cached range of this view's owner
func (v *View) Invalidate() {
	if v.cache != nil {
		v.cache.DeletePrefix("events:" + v.owner + ":")
	}
}

func (v *View) cacheKey(start, end time.Time) string {
	return fmt.Sprintf("events:%s:%d-%d", v.owner, start.Unix(), end.Unix())
}

func (v *View) notify(state State) {
	if v.onChange != nil {
		v.onChange(state)
	}
}
