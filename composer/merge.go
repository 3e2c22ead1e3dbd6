package composer

import (
	"context"
	"strings"

	"graphmail/models"
)

// Batch is one delivery of selected contacts from the contact picker
type Batch []models.Contact

// Join renders the batch as comma-joined addresses. A contact without an
// address contributes an empty segment, so the result can hold stray
// separators such as "a@x.com,,b@y.com".
func (b Batch) Join() string {
	addrs := make([]string, len(b))
	for i, contact := range b {
		addrs[i] = contact.PrimaryAddress()
	}
	return strings.Join(addrs, ",")
}

// MergeSelection appends the batch to the current recipients, separated by
// a comma when recipients is not empty. Existing text is never replaced or
// deduplicated. An empty batch changes nothing and notifies nobody. It
// reports whether the recipients changed.
func (c *Composer) MergeSelection(batch Batch) (bool, error) {
	if len(batch) == 0 {
		return false, nil
	}

	joined := batch.Join()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	if c.recipients != "" {
		c.recipients += ","
	}
	c.recipients += joined
	c.updatedAt = c.now()
	draft := c.draftLocked()
	c.mu.Unlock()

	c.log.Debug("Merged %d picked contacts into recipients", len(batch))
	if c.onChange != nil {
		c.onChange(draft)
	}
	return true, nil
}

// Listen merges every batch received on selections until ctx is done, the
// channel is closed or the composer closes
func (c *Composer) Listen(ctx context.Context, selections <-chan Batch) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-selections:
			if !ok {
				return
			}
			if _, err := c.MergeSelection(batch); err != nil {
				c.log.Debug("Dropping picked contacts: %v", err)
				return
			}
		}
	}
}
