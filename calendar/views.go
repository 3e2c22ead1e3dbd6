package calendar

import "sync"

// Views hands out one View per user, created on first use
type Views struct {
	mu    sync.Mutex
	views map[string]*View
	build func(owner string) *View
}

// NewViews creates an empty set. build is called once per owner.
func NewViews(build func(owner string) *View) *Views {
	return &Views{views: make(map[string]*View), build: build}
}

// For returns the owner's view
func (vs *Views) For(owner string) *View {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	v, ok := vs.views[owner]
	if !ok {
		v = vs.build(owner)
		vs.views[owner] = v
	}
	return v
}

// Forget drops the owner's view and its cached events, e.g. on logout
func (vs *Views) Forget(owner string) {
	vs.mu.Lock()
	v, ok := vs.views[owner]
	delete(vs.views, owner)
	vs.mu.Unlock()
	if ok {
		v.Invalidate()
	}
}
