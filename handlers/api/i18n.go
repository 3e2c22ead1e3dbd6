package api

import (
	"graphmail/utils"

	"github.com/gofiber/fiber/v2"
)

// clientMessages are the strings the browser needs without a round trip
var clientMessages = []string{
	"set_priority_level",
	"importance_low",
	"importance_normal",
	"importance_high",
	"view_day",
	"view_week",
	"view_month",
	"new_message",
	"message_sent_success",
	"message_saved_draft",
	"message_discarded",
	"message_error",
	"message_connection_error",
	"importance_required",
	"composer_not_found",
	"error_network",
	"error_404",
	"error_500",
}

// I18nHandler handles i18n-related requests
type I18nHandler struct{}

// GetTranslations returns translations for the client-side JavaScript
func (h *I18nHandler) GetTranslations(c *fiber.Ctx) error {
	lang := c.Params("lang")
	if !utils.IsSupportedLanguage(lang) {
		lang = "en"
	}
	localizer := utils.GetLocalizer(lang)

	translations := make(map[string]string, len(clientMessages))
	for _, id := range clientMessages {
		translations[id] = utils.T(localizer, id)
	}
	return c.JSON(translations)
}
