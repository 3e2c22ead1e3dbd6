package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"graphmail/composer"
	"graphmail/config"
	"graphmail/graph"
	"graphmail/middleware"
	"graphmail/models"
	"graphmail/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu      sync.Mutex
	posted  []*models.Message
	sends   []bool
	postErr error
	message *models.Message
	events  []models.Event
	listed  int
}

func (f *fakeBackend) PostMessage(ctx context.Context, msg *models.Message, send bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return f.postErr
	}
	f.posted = append(f.posted, msg)
	f.sends = append(f.sends, send)
	return nil
}

func (f *fakeBackend) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	if f.message == nil || f.message.ID != id {
		return nil, &graph.APIError{Status: http.StatusNotFound, Code: "ErrorItemNotFound"}
	}
	return f.message, nil
}

func (f *fakeBackend) ListEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed++
	return f.events, nil
}

type fakeFactory struct {
	be *fakeBackend
}

func (f fakeFactory) For(ctx context.Context, userID string) (Backend, error) {
	return f.be, nil
}

func (f fakeFactory) Forget(string) {}

type testEnv struct {
	app     *fiber.App
	backend *fakeBackend
	hub     *NotificationHandler
	token   string
}

func testErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if appErr, ok := utils.AsAppError(err); ok {
		code = appErr.Code
	} else if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func newTestEnv(t *testing.T, ccfg config.ComposerConfig) *testEnv {
	t.Helper()
	require.NoError(t, utils.InitI18n())

	be := &fakeBackend{}
	factory := fakeFactory{be: be}
	hub := NewNotificationHandler()
	tokens := NewTokenIssuer("test-secret", time.Hour)
	cache := utils.NewMemoryCache(0)
	t.Cleanup(cache.Close)

	app := fiber.New(fiber.Config{ErrorHandler: testErrorHandler})
	app.Use(middleware.LocaleMiddleware())
	group := app.Group("/api", SessionMiddleware(session.New(), tokens))
	RegisterRoutes(group, Handlers{
		Compose:       NewComposeHandler(composer.NewRegistry(4), factory, hub, ccfg),
		Calendar:      NewCalendarHandler(factory, hub, cache, config.CalendarConfig{WeekStart: "monday", CacheTTL: config.Duration{Duration: time.Minute}}),
		Notifications: hub,
		I18n:          &I18nHandler{},
	})

	token, err := tokens.GenerateToken("alice", "alice@example.com")
	require.NoError(t, err)
	return &testEnv{app: app, backend: be, hub: hub, token: token}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+e.token)

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		_ = json.Unmarshal(data, &out)
	}
	return resp.StatusCode, out
}

func (e *testEnv) open(t *testing.T, body interface{}) string {
	t.Helper()
	status, out := e.do(t, http.MethodPost, "/api/compose", body)
	require.Equal(t, http.StatusCreated, status, out)
	return out["id"].(string)
}

func draftOf(out map[string]interface{}) map[string]interface{} {
	return out["draft"].(map[string]interface{})
}

func TestRequiresAuthentication(t *testing.T) {
	env := newTestEnv(t, config.ComposerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/compose", nil)
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodPost, "/api/compose", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp, err = env.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOpenComposer(t *testing.T) {
	env := newTestEnv(t, config.ComposerConfig{})

	status, out := env.do(t, http.MethodPost, "/api/compose", nil)
	require.Equal(t, http.StatusCreated, status)
	assert.NotEmpty(t, out["id"])
	assert.Equal(t, "New message", out["label"])

	imp := out["importance"].(map[string]interface{})
	assert.Equal(t, "Set Priority Level", imp["label"])
	assert.Equal(t, false, imp["open"])
	assert.Nil(t, imp["selection"])
	assert.Len(t, imp["choices"], 3)

	d := draftOf(out)
	assert.Equal(t, "", d["recipients"])
	assert.Equal(t, false, d["cc_visible"])
}

func TestOpenComposerLocalized(t *testing.T) {
	env := newTestEnv(t, config.ComposerConfig{})
	status, out := env.do(t, http.MethodPost, "/api/compose?lang=ja", nil)
	require.Equal(t, http.StatusCreated, status)
	imp := out["importance"].(map[string]interface{})
	assert.NotEqual(t, "Set Priority Level", imp["label"])
}

func TestUpdateFieldsPublishesLabel(t *testing.T) {
	env := newTestEnv(t, config.ComposerConfig{})
	id := env.open(t, nil)

	subID, ch := env.hub.Subscribe("alice")
	defer env.hub.Unsubscribe("alice", subID)

	status, out := env.do(t, http.MethodPatch, "/api/compose/"+id, map[string]string{
		"subject":    "Quarterly numbers",
		"recipients": "a@x.com,b@y.com",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Quarterly numbers", out["label"])
	assert.Equal(t, "a@x.com,b@y.com", draftOf(out)["recipients"])

	select {
	case n := <-ch:
		assert.Equal(t, NotifyLabelChanged, n.Type)
		assert.Equal(t, "Quarterly numbers", n.Data["label"])
		assert.Equal(t, id, n.Data["composer_id"])
	case <-time.After(time.Second):
		t.Fatal("no label notification")
	}
}

func TestToggleCcAndBcc(t *testing.T) {
	env := newTestEnv(t, config.ComposerConfig{})
	id := env.open(t, nil)

	_, out := env.do(t, http.MethodPost, "/api/compose/"+id+"/cc/toggle", nil)
	assert.Equal(t, true, draftOf(out)["cc_visible"])
	assert.Equal(t, false, draftOf(out)["bcc_visible"])

	_, out = env.do(t, http.MethodPost, "/api/compose/"+id+"/cc/toggle", nil)
	assert.Equal(t, false, draftOf(out)["cc_visible"])

	_, out = env.do(t, http.MethodPost, "/api/compose/"+id+"/bcc/toggle", nil)
	assert.Equal(t, true, draftOf(out)["bcc_visible"])
}

func TestImportanceMenuFlow(t *testing.T) {
	env := newTestEnv(t, config.ComposerConfig{})
	id := env.open(t, nil)

	status, _ := env.do(t, http.MethodPost, "/api/compose/"+id+"/importance/select", map[string]string{"value": "high"})
	assert.Equal(t, http.StatusConflict, status, "menu is closed")

	status, _ = env.do(t, http.MethodPost, "/api/compose/"+id+"/importance/open", map[string]string{"anchor": ""})
	assert.Equal(t, http.StatusBadRequest, status)

	status, out := env.do(t, http.MethodPost, "/api/compose/"+id+"/importance/open", map[string]string{"anchor": "priority-button"})
	require.Equal(t, http.StatusOK, status)
	imp := out["importance"].(map[string]interface{})
	assert.Equal(t, true, imp["open"])
	assert.Equal(t, "priority-button", imp["anchor"])

	status, out = env.do(t, http.MethodPost, "/api/compose/"+id+"/importance/select", map[string]string{"value": "high"})
	require.Equal(t, http.StatusOK, status)
	imp = out["importance"].(map[string]interface{})
	assert.Equal(t, false, imp["open"])
	assert.Equal(t, "high", imp["selection"])
	assert.Equal(t, "High", imp["label"])
	assert.Equal(t, "high", draftOf(out)["importance"])

	_, _ = env.do(t, http.MethodPost, "/api/compose/"+id+"/importance/open", map[string]string{"anchor": "priority-button"})
	status, out = env.do(t, http.MethodPost, "/api/compose/"+id+"/importance/dismiss", nil)
	require.Equal(t, http.StatusOK, status)
	imp = out["importance"].(map[string]interface{})
	assert.Equal(t, false, imp["open"])
	assert.Equal(t, "high", imp["selection"])
}

func TestSelectionMergesAsynchronously(t *testing.T) {
	env := newTestEnv(t, config.ComposerConfig{})
	id := env.open(t, nil)
	env.do(t, http.MethodPatch, "/api/compose/"+id, map[string]string{"recipients": "alice@example.com"})

	status, out := env.do(t, http.MethodPost, "/api/compose/"+id+"/selection", map[string]interface{}{
		"contacts": []models.Contact{
			{DisplayName: "Bob", EmailAddresses: []models.EmailAddress{{Address: "bob@example.com"}}},
			{DisplayName: "No address"},
		},
	})
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, float64(2), out["queued"])
	assert.Equal(t, "Adding 2 contacts", out["message"])

	require.Eventually(t, func() bool {
		_, out := env.do(t, http.MethodGet, "/api/compose/"+id, nil)
		return draftOf(out)["recipients"] == "alice@example.com,bob@example.com,"
	}, time.Second, 10*time.Millisecond)
}

func TestSendSubmitsAndCloses(t *testing.T) {
	env := newTestEnv(t, config.ComposerConfig{})
	id := env.open(t, nil)
	env.do(t, http.MethodPatch, "/api/compose/"+id, map[string]string{"recipients": "a@x.com,b@y.com", "subject": "Hi"})

	status, out := env.do(t, http.MethodPost, "/api/compose/"+id+"/send", map[string]string{"content": "<p>body</p>"})
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, "sent", out["status"])
	assert.Equal(t, "Message sent", out["message"])

	require.Len(t, env.backend.posted, 1)
	msg := env.backend.posted[0]
	assert.True(t, env.backend.sends[0])
	assert.Equal(t, []string{"a@x.com", "b@y.com"}, models.Addresses(msg.ToRecipients))
	assert.Equal(t, "<p>body</p>", msg.Body.Content)
	assert.Equal(t, "html", msg.Body.ContentType)
	assert.Equal(t, models.ImportanceNormal, msg.Importance)

	status, _ = env.do(t, http.MethodGet, "/api/compose/"+id, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSaveUsesSyncedContent(t *testing.T) {
	env := newTestEnv(t, config.ComposerConfig{})
	id := env.open(t, nil)

	status, _ := env.do(t, http.MethodPut, "/api/compose/"+id+"/content", map[string]string{"content": "<p>synced</p>"})
	require.Equal(t, http.StatusNoContent, status)

	status, out := env.do(t, http.MethodPost, "/api/compose/"+id+"/save", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "saved", out["status"])
	assert.False(t, env.backend.sends[0])
	assert.Equal(t, "<p>synced</p>", env.backend.posted[0].Body.Content)
}

func TestFailedSendKeepsComposerOpen(t *testing.T) {
	env := newTestEnv(t, config.ComposerConfig{})
	env.backend.postErr = &graph.APIError{Status: http.StatusServiceUnavailable}
	id := env.open(t, nil)
	env.do(t, http.MethodPatch, "/api/compose/"+id, map[string]string{"recipients": "a@x.com", "subject": "Keep me"})

	status, _ := env.do(t, http.MethodPost, "/api/compose/"+id+"/send", nil)
	assert.Equal(t, http.StatusBadGateway, status)

	status, out := env.do(t, http.MethodGet, "/api/compose/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "a@x.com", draftOf(out)["recipients"])
	assert.Equal(t, "Keep me", draftOf(out)["subject"])
}

func TestRejectPolicyRequiresImportance(t *testing.T) {
	env := newTestEnv(t, config.ComposerConfig{MissingImportance: config.ImportanceReject})
	id := env.open(t, nil)

	status, out := env.do(t, http.MethodPost, "/api/compose/"+id+"/send", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status, out)
	assert.Empty(t, env.backend.posted)
}

func TestOpenSeededReply(t *testing.T) {
	env := newTestEnv(t, config.ComposerConfig{})
	env.backend.message = &models.Message{
		ID:      "m1",
		Subject: "Budget",
		From:    &models.Recipient{EmailAddress: models.EmailAddress{Address: "bob@example.com"}},
		Body:    &models.ItemBody{ContentType: "html", Content: "<p>see attached</p>"},
	}

	status, out := env.do(t, http.MethodPost, "/api/compose", map[string]string{"message_id": "m1", "mode": "reply"})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Re: Budget", out["label"])
	assert.Equal(t, "bob@example.com", draftOf(out)["recipients"])
	assert.Contains(t, out["content"], "see attached")

	status, _ = env.do(t, http.MethodPost, "/api/compose", map[string]string{"message_id": "missing"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = env.do(t, http.MethodPost, "/api/compose", map[string]string{"message_id": "m1", "mode": "bounce"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDiscard(t *testing.T) {
	env := newTestEnv(t, config.ComposerConfig{})
	id := env.open(t, nil)

	status, out := env.do(t, http.MethodDelete, "/api/compose/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "discarded", out["status"])

	status, _ = env.do(t, http.MethodDelete, "/api/compose/"+id, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Empty(t, env.backend.posted)
}

func TestCalendarView(t *testing.T) {
	env := newTestEnv(t, config.ComposerConfig{})
	env.backend.events = []models.Event{{ID: "e1", Subject: "Standup"}}

	status, out := env.do(t, http.MethodGet, "/api/calendar", nil)
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, "week", out["mode"])
	assert.Len(t, out["events"], 1)
	assert.Len(t, out["choices"], 3)

	// same range is served from the cache
	env.do(t, http.MethodGet, "/api/calendar", nil)
	assert.Equal(t, 1, env.backend.listed)

	status, _ = env.do(t, http.MethodPost, "/api/calendar/view/open", map[string]string{"anchor": "view-button"})
	require.Equal(t, http.StatusOK, status)
	status, out = env.do(t, http.MethodPost, "/api/calendar/view/select", map[string]string{"value": "month"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "month", out["mode"])

	status, _ = env.do(t, http.MethodPost, "/api/calendar/navigate", map[string]int{"step": 1})
	assert.Equal(t, http.StatusOK, status)
	status, _ = env.do(t, http.MethodPost, "/api/calendar/navigate", map[string]int{"step": 3})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestTranslations(t *testing.T) {
	env := newTestEnv(t, config.ComposerConfig{})

	status, out := env.do(t, http.MethodGet, "/api/i18n/en", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Set Priority Level", out["set_priority_level"])

	_, out = env.do(t, http.MethodGet, "/api/i18n/xx", nil)
	assert.Equal(t, "Set Priority Level", out["set_priority_level"])
}
