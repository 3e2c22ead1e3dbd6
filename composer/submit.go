package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"graphmail/models"
)

// Submit assembles the outbound message from the current fields and the
// editor content read now, and hands it to the transport together with the
// send flag. On success the composer closes and OnClose runs. On failure
// nothing changes, so the user can fix the input and submit again.
func (c *Composer) Submit(ctx context.Context, send bool) (*models.Message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	draft := c.draftLocked()
	c.mu.Unlock()

	if c.transport == nil {
		return nil, errors.New("composer has no transport")
	}

	msg, err := c.assemble(draft)
	if err != nil {
		return nil, err
	}

	action := "save"
	if send {
		action = "send"
	}
	log := c.log.WithFields(map[string]interface{}{
		"action":     action,
		"recipients": len(msg.ToRecipients),
	})

	if err := c.transport.PostMessage(ctx, msg, send); err != nil {
		log.Warn("Submit failed: %v", err)
		return nil, fmt.Errorf("%s message: %w", action, err)
	}

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	log.Info("Message submitted")
	c.fireClose()
	return msg, nil
}

// Discard closes the composer without submitting
func (c *Composer) Discard() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	c.mu.Unlock()

	c.log.Info("Draft discarded")
	c.fireClose()
	return nil
}

func (c *Composer) fireClose() {
	c.closeOnce.Do(func() {
		if c.onClose != nil {
			c.onClose()
		}
	})
}

func (c *Composer) assemble(draft models.Draft) (*models.Message, error) {
	importance := draft.Importance
	if !importance.Valid() {
		if c.missingImportance == RejectUnset {
			return nil, ErrImportanceRequired
		}
		importance = models.ImportanceNormal
	}

	return &models.Message{
		ID:      draft.MessageID,
		Subject: draft.Subject,
		Body: &models.ItemBody{
			ContentType: "html",
			Content:     c.editor.GetContent(),
		},
		Importance:    importance,
		ToRecipients:  SplitRecipients(draft.Recipients, c.skipEmptyRecipients),
		CcRecipients:  optionalRecipients(draft.Cc, c.skipEmptyRecipients),
		BccRecipients: optionalRecipients(draft.Bcc, c.skipEmptyRecipients),
	}, nil
}

// SplitRecipients splits comma-delimited text into recipient entries in
// order. Segments are trimmed of surrounding whitespace. Empty segments
// become entries with an empty address unless skipEmpty is set.
func SplitRecipients(text string, skipEmpty bool) []models.Recipient {
	parts := strings.Split(text, ",")
	out := make([]models.Recipient, 0, len(parts))
	for _, part := range parts {
		addr := strings.TrimSpace(part)
		if addr == "" && skipEmpty {
			continue
		}
		out = append(out, models.Recipient{EmailAddress: models.EmailAddress{Address: addr}})
	}
	return out
}

// optionalRecipients is SplitRecipients for cc and bcc, which are left out
// of the message entirely when blank
func optionalRecipients(text string, skipEmpty bool) []models.Recipient {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return SplitRecipients(text, skipEmpty)
}
