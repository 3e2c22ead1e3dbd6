package composer

import "graphmail/models"

// Field setters take the value verbatim. No validation happens here.

func (c *Composer) SetRecipients(value string) error {
	return c.mutate(func() { c.recipients = value })
}

// SetSubject stores the subject and forwards it to the label callback
// before returning
func (c *Composer) SetSubject(value string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.subject = value
	c.updatedAt = c.now()
	c.mu.Unlock()

	if c.onLabel != nil {
		c.onLabel(value)
	}
	return nil
}

func (c *Composer) SetCc(value string) error {
	return c.mutate(func() { c.cc = value })
}

func (c *Composer) SetBcc(value string) error {
	return c.mutate(func() { c.bcc = value })
}

// ToggleCc flips the cc field visibility. The cc text is kept.
func (c *Composer) ToggleCc() (bool, error) {
	var visible bool
	err := c.mutate(func() {
		c.ccVisible = !c.ccVisible
		visible = c.ccVisible
	})
	return visible, err
}

// ToggleBcc flips the bcc field visibility. The bcc text is kept.
func (c *Composer) ToggleBcc() (bool, error) {
	var visible bool
	err := c.mutate(func() {
		c.bccVisible = !c.bccVisible
		visible = c.bccVisible
	})
	return visible, err
}

// OpenImportanceMenu anchors the importance menu to the triggering element
func (c *Composer) OpenImportanceMenu(anchor string) error {
	var err error
	if cerr := c.mutate(func() { err = c.importance.Open(anchor) }); cerr != nil {
		return cerr
	}
	return err
}

// SelectImportance commits level and closes the importance menu
func (c *Composer) SelectImportance(level models.Importance) error {
	var err error
	if cerr := c.mutate(func() { err = c.importance.Select(level) }); cerr != nil {
		return cerr
	}
	return err
}

// DismissImportanceMenu closes the importance menu without changing the
// chosen level
func (c *Composer) DismissImportanceMenu() error {
	return c.mutate(func() { c.importance.Dismiss() })
}
