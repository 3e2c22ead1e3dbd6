package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Handlers groups the authenticated API handlers
type Handlers struct {
	Compose       *ComposeHandler
	Calendar      *CalendarHandler
	Notifications *NotificationHandler
	I18n          *I18nHandler
}

// RegisterRoutes mounts the API on r, which must already be behind
// SessionMiddleware
func RegisterRoutes(r fiber.Router, h Handlers) {
	compose := r.Group("/compose")
	compose.Post("/", h.Compose.Open)
	compose.Get("/:id", h.Compose.Get)
	compose.Patch("/:id", h.Compose.UpdateFields)
	compose.Delete("/:id", h.Compose.Discard)
	compose.Post("/:id/cc/toggle", h.Compose.ToggleCc)
	compose.Post("/:id/bcc/toggle", h.Compose.ToggleBcc)
	compose.Post("/:id/importance/open", h.Compose.OpenImportance)
	compose.Post("/:id/importance/select", h.Compose.SelectImportance)
	compose.Post("/:id/importance/dismiss", h.Compose.DismissImportance)
	compose.Post("/:id/selection", h.Compose.Selection)
	compose.Put("/:id/content", h.Compose.SyncContent)
	compose.Post("/:id/save", h.Compose.Save)
	compose.Post("/:id/send", h.Compose.Send)

	cal := r.Group("/calendar")
	cal.Get("/", h.Calendar.Get)
	cal.Post("/view/open", h.Calendar.OpenView)
	cal.Post("/view/select", h.Calendar.SelectView)
	cal.Post("/view/dismiss", h.Calendar.DismissView)
	cal.Post("/navigate", h.Calendar.Navigate)

	r.Get("/i18n/:lang", h.I18n.GetTranslations)

	r.Get("/notifications/sse", h.Notifications.HandleSSE)
	r.Get("/ws/notifications", UpgradeWebSocket, websocket.New(h.Notifications.HandleWebSocket))
}
