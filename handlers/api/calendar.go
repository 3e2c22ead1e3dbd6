package api

import (
	"context"
	"time"

	"graphmail/calendar"
	"graphmail/config"
	"graphmail/models"
	"graphmail/utils"

	"github.com/gofiber/fiber/v2"
)

// CalendarHandler exposes each user's calendar view
type CalendarHandler struct {
	views *calendar.Views
}

// userSource resolves the user's backend on every call so that a view
// outlives backend refreshes
type userSource struct {
	backends BackendFactory
	userID   string
}

func (s userSource) ListEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	be, err := s.backends.For(ctx, s.userID)
	if err != nil {
		return nil, err
	}
	return be.ListEvents(ctx, start, end)
}

// NewCalendarHandler creates the handler and the per-user views it serves
func NewCalendarHandler(backends BackendFactory, hub *NotificationHandler, cache *utils.MemoryCache, cfg config.CalendarConfig) *CalendarHandler {
	weekStart := calendar.ParseWeekStart(cfg.WeekStart)
	views := calendar.NewViews(func(owner string) *calendar.View {
		return calendar.NewView(calendar.Options{
			Owner:     owner,
			Source:    userSource{backends: backends, userID: owner},
			Cache:     cache,
			CacheTTL:  cfg.CacheTTL.Duration,
			WeekStart: weekStart,
			OnChange: func(s calendar.State) {
				hub.Publish(owner, NotifyCalendarChanged, map[string]interface{}{"view": s})
			},
		})
	})
	return &CalendarHandler{views: views}
}

// Views exposes the per-user views, e.g. to forget them on logout
func (h *CalendarHandler) Views() *calendar.Views {
	return h.views
}

type calendarView struct {
	calendar.State
	Choices []optionView   `json:"choices"`
	Events  []models.Event `json:"events"`
}

type navigateRequest struct {
	Step int `json:"step"`
}

type viewModeRequest struct {
	Value models.ViewMode `json:"value"`
}

// Get returns the view state and the events of the visible range
func (h *CalendarHandler) Get(c *fiber.Ctx) error {
	return h.respond(c, true)
}

func (h *CalendarHandler) OpenView(c *fiber.Ctx) error {
	v, err := h.view(c)
	if err != nil {
		return err
	}
	var req anchorRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request body", err)
	}
	if err := v.OpenViewMenu(req.Anchor); err != nil {
		return mapError(localizer(c), err)
	}
	return h.respond(c, false)
}

func (h *CalendarHandler) SelectView(c *fiber.Ctx) error {
	v, err := h.view(c)
	if err != nil {
		return err
	}
	var req viewModeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid view mode", err)
	}
	if err := v.SelectView(req.Value); err != nil {
		return mapError(localizer(c), err)
	}
	return h.respond(c, true)
}

func (h *CalendarHandler) DismissView(c *fiber.Ctx) error {
	v, err := h.view(c)
	if err != nil {
		return err
	}
	v.DismissViewMenu()
	return h.respond(c, false)
}

// Navigate moves the visible range: -1 back, 1 forward, 0 today
func (h *CalendarHandler) Navigate(c *fiber.Ctx) error {
	v, err := h.view(c)
	if err != nil {
		return err
	}
	var req navigateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request body", err)
	}
	if err := v.Navigate(req.Step); err != nil {
		return utils.BadRequestError("Invalid navigation step", err)
	}
	return h.respond(c, true)
}

func (h *CalendarHandler) view(c *fiber.Ctx) (*calendar.View, error) {
	userID, _, err := CurrentUser(c)
	if err != nil {
		return nil, err
	}
	return h.views.For(userID), nil
}

func (h *CalendarHandler) respond(c *fiber.Ctx, withEvents bool) error {
	v, err := h.view(c)
	if err != nil {
		return err
	}
	loc := localizer(c)

	out := calendarView{State: v.State()}
	for _, m := range out.Menu.Options {
		out.Choices = append(out.Choices, optionView{Value: m.String(), Label: utils.T(loc, "view_"+m.String())})
	}
	if withEvents {
		events, err := v.Events(c.UserContext())
		if err != nil {
			utils.Log.Warn("Failed to load events: %v", err)
			return mapError(loc, err)
		}
		out.Events = events
	}
	return c.JSON(out)
}
