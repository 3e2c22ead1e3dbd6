package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"graphmail/composer"
	"graphmail/config"
	"graphmail/graph"
	"graphmail/menu"
	"graphmail/models"
	"graphmail/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/nicksnyder/go-i18n/v2/i18n"
)

// ComposeHandler exposes the open composers of the signed-in user
type ComposeHandler struct {
	registry *composer.Registry
	backends BackendFactory
	hub      *NotificationHandler

	missingImportance   composer.ImportancePolicy
	skipEmptyRecipients bool
	submitTimeout       time.Duration
}

// NewComposeHandler creates a compose handler
func NewComposeHandler(registry *composer.Registry, backends BackendFactory, hub *NotificationHandler, cfg config.ComposerConfig) *ComposeHandler {
	h := &ComposeHandler{
		registry:            registry,
		backends:            backends,
		hub:                 hub,
		skipEmptyRecipients: cfg.SkipEmptyRecipients,
		submitTimeout:       cfg.SubmitTimeout.Duration,
	}
	if cfg.MissingImportance == config.ImportanceReject {
		h.missingImportance = composer.RejectUnset
	}
	return h
}

type openRequest struct {
	MessageID string `json:"message_id"`
	Mode      string `json:"mode"`
}

type fieldsRequest struct {
	Recipients *string `json:"recipients"`
	Subject    *string `json:"subject"`
	Cc         *string `json:"cc"`
	Bcc        *string `json:"bcc"`
}

type anchorRequest struct {
	Anchor string `json:"anchor"`
}

type importanceRequest struct {
	Value models.Importance `json:"value"`
}

type selectionRequest struct {
	Contacts []models.Contact `json:"contacts"`
}

type contentRequest struct {
	Content *string `json:"content"`
}

type optionView struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type importanceView struct {
	menu.State[models.Importance]
	Label   string       `json:"label"`
	Choices []optionView `json:"choices"`
}

type composerView struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Draft      models.Draft   `json:"draft"`
	Importance importanceView `json:"importance"`
	Content    string         `json:"content"`
}

// contentSetter is implemented by editors the client can sync into
type contentSetter interface {
	SetContent(content string)
}

// Open creates a composer, optionally seeded from an existing message
func (h *ComposeHandler) Open(c *fiber.Ctx) error {
	userID, email, err := CurrentUser(c)
	if err != nil {
		return err
	}
	var req openRequest
	if err := parseOptionalBody(c, &req); err != nil {
		return err
	}

	backend, err := h.backends.For(c.UserContext(), userID)
	if err != nil {
		return err
	}

	var initial *models.Message
	if req.MessageID != "" {
		mode, err := composer.ParseSeedMode(req.Mode)
		if err != nil {
			return utils.BadRequestError("Invalid compose mode", err)
		}
		msg, err := backend.GetMessage(c.UserContext(), req.MessageID)
		if err != nil {
			return h.fail(c, err)
		}
		initial = composer.Seed(msg, mode, email)
	}

	id := uuid.New().String()
	cmp := h.registry.Open(userID, composer.Options{
		ID:        id,
		Transport: backend,
		Initial:   initial,
		OnLabel: func(label string) {
			h.hub.Publish(userID, NotifyLabelChanged, map[string]interface{}{"composer_id": id, "label": label})
		},
		OnChange: func(d models.Draft) {
			h.hub.Publish(userID, NotifyDraftChanged, map[string]interface{}{"composer_id": id, "draft": d})
		},
		OnClose: func() {
			h.hub.Publish(userID, NotifyComposerClosed, map[string]interface{}{"composer_id": id})
		},
		MissingImportance:   h.missingImportance,
		SkipEmptyRecipients: h.skipEmptyRecipients,
		Logger:              utils.Log.WithField("user", userID),
	})

	return c.Status(fiber.StatusCreated).JSON(h.view(c, cmp))
}

// Get returns the composer snapshot
func (h *ComposeHandler) Get(c *fiber.Ctx) error {
	cmp, err := h.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(h.view(c, cmp))
}

// UpdateFields sets any of recipients, subject, cc and bcc verbatim
func (h *ComposeHandler) UpdateFields(c *fiber.Ctx) error {
	cmp, err := h.lookup(c)
	if err != nil {
		return err
	}
	var req fieldsRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request body", err)
	}

	if req.Recipients != nil {
		if err := cmp.SetRecipients(*req.Recipients); err != nil {
			return h.fail(c, err)
		}
	}
	if req.Subject != nil {
		if err := cmp.SetSubject(*req.Subject); err != nil {
			return h.fail(c, err)
		}
	}
	if req.Cc != nil {
		if err := cmp.SetCc(*req.Cc); err != nil {
			return h.fail(c, err)
		}
	}
	if req.Bcc != nil {
		if err := cmp.SetBcc(*req.Bcc); err != nil {
			return h.fail(c, err)
		}
	}
	return c.JSON(h.view(c, cmp))
}

func (h *ComposeHandler) ToggleCc(c *fiber.Ctx) error {
	return h.toggle(c, (*composer.Composer).ToggleCc)
}

func (h *ComposeHandler) ToggleBcc(c *fiber.Ctx) error {
	return h.toggle(c, (*composer.Composer).ToggleBcc)
}

func (h *ComposeHandler) toggle(c *fiber.Ctx, fn func(*composer.Composer) (bool, error)) error {
	cmp, err := h.lookup(c)
	if err != nil {
		return err
	}
	if _, err := fn(cmp); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(h.view(c, cmp))
}

// OpenImportance anchors the importance menu
func (h *ComposeHandler) OpenImportance(c *fiber.Ctx) error {
	cmp, err := h.lookup(c)
	if err != nil {
		return err
	}
	var req anchorRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request body", err)
	}
	if err := cmp.OpenImportanceMenu(req.Anchor); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(h.view(c, cmp))
}

// SelectImportance commits a level and closes the menu
func (h *ComposeHandler) SelectImportance(c *fiber.Ctx) error {
	cmp, err := h.lookup(c)
	if err != nil {
		return err
	}
	var req importanceRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid importance", err)
	}
	if err := cmp.SelectImportance(req.Value); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(h.view(c, cmp))
}

// DismissImportance closes the menu without a change
func (h *ComposeHandler) DismissImportance(c *fiber.Ctx) error {
	cmp, err := h.lookup(c)
	if err != nil {
		return err
	}
	if err := cmp.DismissImportanceMenu(); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(h.view(c, cmp))
}

// Selection queues a contact-picker batch. The merge is asynchronous; the
// result arrives as a draft_changed notification.
func (h *ComposeHandler) Selection(c *fiber.Ctx) error {
	userID, _, err := CurrentUser(c)
	if err != nil {
		return err
	}
	var req selectionRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request body", err)
	}
	if err := h.registry.Deliver(c.UserContext(), userID, c.Params("id"), composer.Batch(req.Contacts)); err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"queued":  len(req.Contacts),
		"message": utils.TWithData(localizer(c), "contacts_queued", map[string]interface{}{"Count": len(req.Contacts)}),
	})
}

// SyncContent stores the editor content
func (h *ComposeHandler) SyncContent(c *fiber.Ctx) error {
	cmp, err := h.lookup(c)
	if err != nil {
		return err
	}
	var req contentRequest
	if err := c.BodyParser(&req); err != nil || req.Content == nil {
		return utils.BadRequestError("Missing content", err)
	}
	if err := h.setContent(cmp, *req.Content); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ComposeHandler) Save(c *fiber.Ctx) error {
	return h.submit(c, false)
}

func (h *ComposeHandler) Send(c *fiber.Ctx) error {
	return h.submit(c, true)
}

func (h *ComposeHandler) submit(c *fiber.Ctx, send bool) error {
	cmp, err := h.lookup(c)
	if err != nil {
		return err
	}
	var req contentRequest
	if err := parseOptionalBody(c, &req); err != nil {
		return err
	}
	if req.Content != nil {
		if err := h.setContent(cmp, *req.Content); err != nil {
			return h.fail(c, err)
		}
	}

	ctx := c.UserContext()
	if h.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.submitTimeout)
		defer cancel()
	}

	msg, err := cmp.Submit(ctx, send)
	if err != nil {
		return h.fail(c, err)
	}

	loc := localizer(c)
	status, text := "saved", utils.T(loc, "message_saved_draft")
	if send {
		status, text = "sent", utils.T(loc, "message_sent_success")
	}
	return c.JSON(fiber.Map{
		"status":     status,
		"message":    text,
		"message_id": msg.ID,
	})
}

// Discard closes the composer without submitting
func (h *ComposeHandler) Discard(c *fiber.Ctx) error {
	cmp, err := h.lookup(c)
	if err != nil {
		return err
	}
	if err := cmp.Discard(); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "discarded", "message": utils.T(localizer(c), "message_discarded")})
}

func (h *ComposeHandler) setContent(cmp *composer.Composer, content string) error {
	if cmp.Closed() {
		return composer.ErrClosed
	}
	setter, ok := cmp.Editor().(contentSetter)
	if !ok {
		return errors.New("editor content is not writable")
	}
	setter.SetContent(content)
	return nil
}

func (h *ComposeHandler) lookup(c *fiber.Ctx) (*composer.Composer, error) {
	userID, _, err := CurrentUser(c)
	if err != nil {
		return nil, err
	}
	cmp, err := h.registry.Get(userID, c.Params("id"))
	if err != nil {
		return nil, h.fail(c, err)
	}
	return cmp, nil
}

func (h *ComposeHandler) view(c *fiber.Ctx, cmp *composer.Composer) composerView {
	loc := localizer(c)
	draft := cmp.Draft()

	label := draft.Subject
	if label == "" {
		label = utils.T(loc, "new_message")
	}

	imp := importanceView{
		State: cmp.ImportanceMenu(),
		Label: utils.T(loc, "set_priority_level"),
	}
	if draft.Importance.Valid() {
		imp.Label = utils.T(loc, "importance_"+draft.Importance.String())
	}
	for _, o := range imp.Options {
		imp.Choices = append(imp.Choices, optionView{Value: o.String(), Label: utils.T(loc, "importance_"+o.String())})
	}

	return composerView{
		ID:         cmp.ID(),
		Label:      label,
		Draft:      draft,
		Importance: imp,
		Content:    cmp.Editor().GetContent(),
	}
}

func (h *ComposeHandler) fail(c *fiber.Ctx, err error) error {
	return mapError(localizer(c), err)
}

// mapError maps composer, menu and transport errors to AppErrors
func mapError(loc *i18n.Localizer, err error) error {
	if _, ok := utils.AsAppError(err); ok {
		return err
	}

	var apiErr *graph.APIError
	switch {
	case errors.Is(err, composer.ErrNotFound):
		return utils.NotFoundError(utils.T(loc, "composer_not_found"), err)
	case errors.Is(err, composer.ErrClosed):
		return utils.ConflictError(utils.T(loc, "composer_not_found"), err)
	case errors.Is(err, composer.ErrImportanceRequired):
		return utils.UnprocessableError(utils.T(loc, "importance_required"), err)
	case errors.Is(err, menu.ErrAlreadyOpen), errors.Is(err, menu.ErrClosed):
		return utils.ConflictError("Menu state conflict", err)
	case errors.Is(err, menu.ErrNoAnchor), errors.Is(err, menu.ErrUnknown):
		return utils.BadRequestError("Invalid menu request", err)
	case errors.Is(err, errors.ErrUnsupported):
		return utils.NotImplementedError("Not supported by the configured transport", err)
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized:
		return utils.UnauthorizedError("Session expired, sign in again", err)
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound:
		return utils.NotFoundError(utils.T(loc, "error_404"), err)
	case errors.As(err, &apiErr):
		return utils.BadGatewayError(utils.T(loc, "message_error"), err)
	default:
		return utils.BadGatewayError(utils.T(loc, "message_connection_error"), err)
	}
}

func localizer(c *fiber.Ctx) *i18n.Localizer {
	loc, _ := c.Locals("localizer").(*i18n.Localizer)
	return loc
}

// parseOptionalBody decodes the body when there is one
func parseOptionalBody(c *fiber.Ctx, out interface{}) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return utils.BadRequestError("Invalid request body", err)
	}
	return nil
}
