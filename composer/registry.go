package composer

import (
	"context"
	"errors"
	"sync"

	"graphmail/utils"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("composer not found")

// Registry keeps the open composers of every user in memory. Closing a
// composer removes it; nothing is persisted.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	buffer  int
	log     *utils.Logger
}

type entry struct {
	owner      string
	composer   *Composer
	selections chan Batch
	done       <-chan struct{} // closed when the composer is removed
	cancel     context.CancelFunc
}

// NewRegistry creates a registry whose picker channels hold buffer batches
func NewRegistry(buffer int) *Registry {
	if buffer < 1 {
		buffer = 1
	}
	return &Registry{
		entries: make(map[string]*entry),
		buffer:  buffer,
		log:     utils.Log.WithField("component", "composer-registry"),
	}
}

// Open creates a composer owned by owner and subscribes it to its own
// picker channel. The composer's OnClose is wrapped so that closing it
// also unregisters it.
func (r *Registry) Open(owner string, opts Options) *Composer {
	if opts.ID == "" {
		opts.ID = uuid.New().String()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		owner:      owner,
		selections: make(chan Batch, r.buffer),
		done:       ctx.Done(),
		cancel:     cancel,
	}

	userClose := opts.OnClose
	id := opts.ID
	opts.OnClose = func() {
		r.remove(id)
		if userClose != nil {
			userClose()
		}
	}
	e.composer = New(opts)

	r.mu.Lock()
	r.entries[id] = e
	r.mu.Unlock()

	go e.composer.Listen(ctx, e.selections)

	r.log.Debug("Opened composer %s for %s", id, owner)
	return e.composer
}

// Get returns the owner's composer with the given id
func (r *Registry) Get(owner, id string) (*Composer, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok || e.owner != owner {
		return nil, ErrNotFound
	}
	return e.composer, nil
}

// Deliver queues a picker batch for the owner's composer. The merge itself
// happens asynchronously on the composer's listener, in delivery order.
func (r *Registry) Deliver(ctx context.Context, owner, id string, batch Batch) error {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok || e.owner != owner {
		return ErrNotFound
	}

	select {
	case e.selections <- batch:
		return nil
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Count returns the number of open composers for owner
func (r *Registry) Count(owner string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.owner == owner {
			n++
		}
	}
	return n
}

// CloseAll discards every open composer, e.g. on shutdown or logout
func (r *Registry) CloseAll(owner string) {
	r.mu.RLock()
	var open []*Composer
	for _, e := range r.entries {
		if owner == "" || e.owner == owner {
			open = append(open, e.composer)
		}
	}
	r.mu.RUnlock()

	for _, c := range open {
		_ = c.Discard()
	}
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if ok {
		e.cancel()
		r.log.Debug("Closed composer %s", id)
	}
}
