// Package composer holds the state of an open "new message" tab: the
// editable fields, the importance menu, the merge of contact-picker
// selections into the recipient list, and the submission of the result as a
// saved draft or a sent message.
//
// Every method is safe for concurrent use. Field updates, picker merges and
// menu transitions are serialized by one mutex; the transport call made by
// Submit runs outside it so the draft stays editable while it is pending.
package composer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"graphmail/menu"
	"graphmail/models"
	"graphmail/utils"

	"github.com/google/uuid"
)

var (
	ErrClosed             = errors.New("composer is closed")
	ErrImportanceRequired = errors.New("importance must be set before submitting")
)

// Transport delivers an assembled message. send selects between sending
// and saving as a draft. The auth context is bound into the implementation.
type Transport interface {
	PostMessage(ctx context.Context, msg *models.Message, send bool) error
}

// Editor is the source of the message body
type Editor interface {
	GetContent() string
}

// LabelFunc receives the subject whenever it changes so the surrounding tab
// can show it
type LabelFunc func(label string)

// ImportancePolicy decides what Submit does when no importance was chosen
type ImportancePolicy int

const (
	// DefaultNormal submits with normal importance
	DefaultNormal ImportancePolicy = iota
	// RejectUnset refuses to submit
	RejectUnset
)

// Options configures a new Composer
type Options struct {
	ID        string
	Transport Transport
	// Editor supplies the body at submit time. When nil a Buffer seeded
	// with Initial's body is used.
	Editor Editor
	// Initial pre-populates the draft, e.g. when editing or replying
	Initial *models.Message

	OnLabel  LabelFunc
	OnChange func(models.Draft) // called after a picker merge changed the draft
	OnClose  func()

	MissingImportance   ImportancePolicy
	SkipEmptyRecipients bool

	Logger *utils.Logger
	Now    func() time.Time
}

// Composer is the state controller of one open message
type Composer struct {
	id        string
	messageID string

	mu         sync.Mutex
	recipients string
	subject    string
	cc         string
	bcc        string
	ccVisible  bool
	bccVisible bool
	importance *menu.Menu[models.Importance]
	closed     bool
	createdAt  time.Time
	updatedAt  time.Time

	editor    Editor
	transport Transport
	onLabel   LabelFunc
	onChange  func(models.Draft)
	onClose   func()
	closeOnce sync.Once

	missingImportance   ImportancePolicy
	skipEmptyRecipients bool

	log *utils.Logger
	now func() time.Time
}

// New creates a composer. Initial data, when given, seeds every field and
// the editor content.
func New(opts Options) *Composer {
	c := &Composer{
		id:                  opts.ID,
		editor:              opts.Editor,
		transport:           opts.Transport,
		onLabel:             opts.OnLabel,
		onChange:            opts.OnChange,
		onClose:             opts.OnClose,
		missingImportance:   opts.MissingImportance,
		skipEmptyRecipients: opts.SkipEmptyRecipients,
		log:                 opts.Logger,
		now:                 opts.Now,
	}
	if c.id == "" {
		c.id = uuid.New().String()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.log == nil {
		c.log = utils.Log
	}
	c.log = c.log.WithField("composer", c.id)
	c.importance = menu.New(models.ImportanceOptions, c.commitImportance)

	var initialBody string
	if seed := opts.Initial; seed != nil {
		c.messageID = seed.ID
		c.recipients = strings.Join(models.Addresses(seed.ToRecipients), ",")
		c.cc = strings.Join(models.Addresses(seed.CcRecipients), ",")
		c.bcc = strings.Join(models.Addresses(seed.BccRecipients), ",")
		c.subject = seed.Subject
		if seed.Importance.Valid() {
			_ = c.importance.Preset(seed.Importance)
		}
		if seed.Body != nil {
			initialBody = seed.Body.Content
		}
	}
	if c.editor == nil {
		c.editor = NewBuffer(initialBody)
	}

	c.createdAt = c.now()
	c.updatedAt = c.createdAt
	return c
}

// ID returns the composer id
func (c *Composer) ID() string {
	return c.id
}

// Editor returns the body source
func (c *Composer) Editor() Editor {
	return c.editor
}

// Draft returns a snapshot of the editable fields
func (c *Composer) Draft() models.Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draftLocked()
}

func (c *Composer) draftLocked() models.Draft {
	imp, _ := c.importance.Selection()
	return models.Draft{
		ID:         c.id,
		MessageID:  c.messageID,
		Recipients: c.recipients,
		Subject:    c.subject,
		Cc:         c.cc,
		Bcc:        c.bcc,
		CcVisible:  c.ccVisible,
		BccVisible: c.bccVisible,
		Importance: imp,
		CreatedAt:  c.createdAt,
		UpdatedAt:  c.updatedAt,
	}
}

// ImportanceMenu returns the current state of the importance menu
func (c *Composer) ImportanceMenu() menu.State[models.Importance] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.importance.Snapshot()
}

// Closed reports whether the composer was submitted or discarded
func (c *Composer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// mutate runs fn under the lock unless the composer is closed
// commitImportance runs under c.mu when the importance menu commits
func (c *Composer) commitImportance(level models.Importance) {
	c.log.Debug("Importance set to %s", level)
}

func (c *Composer) mutate(fn func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	fn()
	c.updatedAt = c.now()
	return nil
}
